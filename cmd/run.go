package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/vigilbot/vigil/vigil"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the Vigil bot and admin API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := vigil.New(cfg)
		if err != nil {
			log.Fatalf("error creating vigil: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running vigil: %s", err.Error())
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
