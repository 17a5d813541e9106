package main

import "github.com/vigilbot/vigil/cmd"

func main() {
	cmd.Execute()
}
