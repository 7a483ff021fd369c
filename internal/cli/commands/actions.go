package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"appmanager/internal/client"
	"appmanager/internal/server"
)

type serviceAction func(c *client.Client, ctx context.Context, appID int, serviceName string, force bool) (*server.ActionResponse, error)

type appAction func(c *client.Client, ctx context.Context, appID int, force bool) (*server.ActionResponse, error)

// ServiceCommands creates the per-service action commands
func ServiceCommands() []*cobra.Command {
	return []*cobra.Command{
		serviceActionCommand("restart", "Restart a service", (*client.Client).RestartService),
		serviceActionCommand("stop", "Stop a service; it stays stopped until started", (*client.Client).StopService),
		serviceActionCommand("start", "Start a stopped service", (*client.Client).StartService),
		serviceLogsCommand(),
	}
}

// appmanager service logs --app-id 1001 [-s nginx] [--tail 50]
func serviceLogsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent output of an application's services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appID, _ := cmd.Flags().GetInt("app-id")
			serviceName, _ := cmd.Flags().GetString("service")
			tail, _ := cmd.Flags().GetInt("tail")

			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			resp, err := c.ServiceLogs(cmd.Context(), appID, serviceName, tail)
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), resp)
			}

			out := cmd.OutOrStdout()
			for _, l := range resp.Services {
				fmt.Fprintf(out, "==> %s (%s) <==\n", l.ServiceName, shortID(l.ContainerID))
				if l.Error != "" {
					fmt.Fprintf(out, "error: %s\n", l.Error)
					continue
				}
				fmt.Fprint(out, l.Output)
			}
			return nil
		},
	}
	cmd.Flags().Int("app-id", 0, "Application ID")
	cmd.Flags().StringP("service", "s", "", "Service name (default: every service)")
	cmd.Flags().IntP("tail", "n", 0, "Lines per service (default 100)")
	_ = cmd.MarkFlagRequired("app-id")
	return cmd
}

func serviceActionCommand(use, short string, action serviceAction) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appID, _ := cmd.Flags().GetInt("app-id")
			serviceName, _ := cmd.Flags().GetString("service")
			force, _ := cmd.Flags().GetBool("force")

			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			resp, err := action(c, cmd.Context(), appID, serviceName, force)
			if err != nil {
				return err
			}
			return printAction(cmd, resp)
		},
	}
	cmd.Flags().Int("app-id", 0, "Application ID")
	cmd.Flags().StringP("service", "s", "", "Service name")
	cmd.Flags().Bool("force", false, "Skip the graceful stop period")
	_ = cmd.MarkFlagRequired("app-id")
	_ = cmd.MarkFlagRequired("service")
	return cmd
}

// AppCommands creates the whole-application action commands
func AppCommands() []*cobra.Command {
	restart := appActionCommand("restart", "Restart every service of an application", (*client.Client).RestartApp)

	purge := appActionCommand("purge", "Remove an application's containers and volumes, then recreate them", (*client.Client).PurgeApp)
	purge.Long = `Remove every container and named volume of an application. The services are
recreated on fresh volumes by the apply queued afterwards. All data stored in
the application's volumes is lost.`

	return []*cobra.Command{restart, purge}
}

func appActionCommand(use, short string, action appAction) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appID, _ := cmd.Flags().GetInt("app-id")
			force, _ := cmd.Flags().GetBool("force")

			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			resp, err := action(c, cmd.Context(), appID, force)
			if err != nil {
				return err
			}
			return printAction(cmd, resp)
		},
	}
	cmd.Flags().Int("app-id", 0, "Application ID")
	cmd.Flags().Bool("force", false, "Skip the graceful stop period")
	_ = cmd.MarkFlagRequired("app-id")
	return cmd
}

func printAction(cmd *cobra.Command, resp *server.ActionResponse) error {
	if wantJSON(cmd) {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	if resp.Run == nil {
		fmt.Fprintln(cmd.OutOrStdout(), resp.Status)
		return nil
	}
	return printRun(cmd.OutOrStdout(), resp.Run)
}
