package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"appmanager/internal/server"
	"appmanager/internal/types"
)

// StateCommands creates the read-only and apply commands
func StateCommands() []*cobra.Command {
	commands := []*cobra.Command{}

	// appmanager status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show device and reconciler status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			device, err := c.Device(cmd.Context())
			if err != nil {
				return err
			}
			status, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), struct {
					Device *server.DeviceResponse `json:"device"`
					Status *server.StatusResponse `json:"status"`
				}{device, status})
			}
			return printStatus(cmd, device, status)
		},
	}
	commands = append(commands, statusCmd)

	// appmanager state [--target]
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Show the current (or target) state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			target, _ := cmd.Flags().GetBool("target")

			var snap *types.StateSnapshot
			if target {
				snap, err = c.Target(cmd.Context())
			} else {
				snap, err = c.CurrentState(cmd.Context())
			}
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), snap)
			}
			return printSnapshot(cmd.OutOrStdout(), snap, !target)
		},
	}
	stateCmd.Flags().BoolP("target", "t", false, "Show the target state instead of the observed one")
	commands = append(commands, stateCmd)

	// appmanager apply [--wait]
	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Converge the device towards the target state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			wait, _ := cmd.Flags().GetBool("wait")
			if wait {
				// Passes may pull images
				c.SetTimeout(0)
			}
			resp, err := c.Apply(cmd.Context(), wait)
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			if resp.Run == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Apply queued.")
				return nil
			}
			if err := printRun(cmd.OutOrStdout(), resp.Run); err != nil {
				return err
			}
			if resp.Run.Status == types.StateError {
				return fmt.Errorf("reconciliation failed: %s", resp.Run.Error)
			}
			return nil
		},
	}
	applyCmd.Flags().BoolP("wait", "w", false, "Run the pass synchronously and print its steps")
	commands = append(commands, applyCmd)

	return commands
}

func printStatus(cmd *cobra.Command, device *server.DeviceResponse, status *server.StatusResponse) error {
	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintf(tw, "Device:\t%s (%s)\n", device.DeviceName, device.DeviceID)
	fmt.Fprintf(tw, "Uptime:\t%s\n", device.Uptime)
	fmt.Fprintf(tw, "Applications:\t%d (%d services)\n", device.AppCount, device.ServiceCount)
	fmt.Fprintf(tw, "State:\t%s\n", status.State)
	fmt.Fprintf(tw, "Target version:\t%d (applied %d)\n", status.TargetVersion, status.AppliedVersion)
	fmt.Fprintf(tw, "Pending:\t%t\n", status.Pending)
	if status.LastRunID != "" {
		fmt.Fprintf(tw, "Last run:\t%s (%s, %s)\n", status.LastRunID, status.LastTrigger, since(status.LastTransition))
	}
	if status.LastError != "" {
		fmt.Fprintf(tw, "Last error:\t%s\n", status.LastError)
	}
	return tw.Flush()
}
