package cli

import (
	"github.com/spf13/cobra"

	"appmanager/internal/cli/commands"
)

// createRootCommand creates the root command with global flags
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "appmanager",
		Short: "Application state reconciliation for IoT devices",
		Long: `appmanager keeps the containers on a device converged to a declared target
state. It runs as a daemon ("appmanager serve") exposing the device API, and
the remaining commands talk to that API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default to showing help if no subcommand
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().String(commands.FlagServer, "", "Device API URL (default $APPMANAGER_SERVER or http://127.0.0.1:48484)")
	rootCmd.PersistentFlags().Bool(commands.FlagJSON, false, "Print raw JSON responses")

	return rootCmd
}
