package commands

import (
	"context"

	"github.com/spf13/cobra"
)

// ServeFunc runs the daemon until ctx is done. An empty configPath uses
// the XDG config file.
type ServeFunc func(ctx context.Context, configPath string) error

// ServeCommand creates the command that runs the daemon in the foreground
func ServeCommand(serve ServeFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reconciliation daemon and device API",
		Long: `Run the reconciliation daemon in the foreground. It restores the persisted
target state, converges the containers on this device towards it and serves
the device API until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return serve(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to config.toml")
	return cmd
}
