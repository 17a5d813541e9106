package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vigilbot/vigil/vigil"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf(
			"version=%s commit=%s built: %s",
			vigil.Version,
			vigil.CommitSHA,
			vigil.BuildTime,
		)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
