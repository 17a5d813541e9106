package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vigilbot/vigil/vigil"
	"golang.org/x/term"
)

// passwordReader is a function type for reading the admin secret. It's
// really only here to make testing easier.
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

// sampleGuildConfig is written as a starting point for per-guild
// responder configuration. The .sample suffix keeps it from being loaded.
var sampleGuildConfig = map[string]any{
	"settings": map[string]any{
		"case_sensitive": false,
	},
	"triggers": map[string]any{
		"!hello": "Hello!",
		"!echo": map[string]any{
			"handler": "basic:echo",
		},
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the data directory and choose an admin API secret",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()

		guildDir := filepath.Join(cfg.DataDir, "guilds")
		if err := os.MkdirAll(guildDir, 0o755); err != nil {
			log.Fatalf("Error creating data directory: %v", err)
		}

		samplePath := filepath.Join(guildDir, "example.autoresponder.json.sample")
		if _, err := os.Stat(samplePath); os.IsNotExist(err) {
			data, _ := json.MarshalIndent(sampleGuildConfig, "", "  ")
			if err = os.WriteFile(samplePath, data, 0o644); err != nil {
				log.Fatalf("Error writing sample config: %v", err)
			}
			fmt.Fprintf(out, "Wrote sample guild config to %s\n", samplePath)
		}

		if customPasswordReader == nil {
			customPasswordReader = func() ([]byte, error) {
				return term.ReadPassword(int(syscall.Stdin))
			}
		}

		var secret string
		for {
			fmt.Fprint(out, "Enter admin API secret: ")
			secretBytes, _ := customPasswordReader()
			secret = string(secretBytes)
			fmt.Fprintln(out)

			fmt.Fprint(out, "Confirm admin API secret: ")
			confirmBytes, _ := customPasswordReader()
			fmt.Fprintln(out)

			if secret == string(confirmBytes) {
				break
			}
			fmt.Fprintln(out, "Secrets do not match. Please try again.")
		}

		if secret == "" {
			fmt.Fprintln(out, "No secret set; the admin API will stay disabled.")
		} else {
			fmt.Fprintf(
				out,
				"Set the following in your environment or .env file:\n\n"+
					"  %s_API_SECRET=%s\n\n",
				vigil.DefaultEnvPrefix,
				secret,
			)
		}
		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
