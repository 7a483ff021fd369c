package cli

import (
	"context"

	"github.com/spf13/cobra"

	"appmanager/internal/cli/commands"
)

// Manager handles CLI operations
type Manager struct {
	serve   commands.ServeFunc
	rootCmd *cobra.Command
}

// New creates a new CLI manager. serve runs the daemon for "appmanager serve".
func New(serve commands.ServeFunc) *Manager {
	m := &Manager{
		serve:   serve,
		rootCmd: createRootCommand(),
	}
	m.setupCommands()
	return m
}

// Root returns the root command
func (m *Manager) Root() *cobra.Command {
	return m.rootCmd
}

// Execute executes the CLI with the given arguments
func (m *Manager) Execute(args []string) error {
	return m.ExecuteWithContext(context.Background(), args)
}

// ExecuteWithContext executes the CLI with the given arguments and context
func (m *Manager) ExecuteWithContext(ctx context.Context, args []string) error {
	m.rootCmd.SetArgs(args)
	return commands.HandleError(m.rootCmd.ExecuteContext(ctx))
}

// setupCommands sets up all CLI commands
func (m *Manager) setupCommands() {
	m.rootCmd.AddCommand(commands.ServeCommand(m.serve))

	for _, cmd := range commands.StateCommands() {
		m.rootCmd.AddCommand(cmd)
	}

	targetCmd := &cobra.Command{
		Use:   "target",
		Short: "Edit the target state",
	}
	for _, cmd := range commands.TargetCommands() {
		targetCmd.AddCommand(cmd)
	}
	m.rootCmd.AddCommand(targetCmd)

	serviceCmd := &cobra.Command{
		Use:     "service",
		Short:   "Act on one service of an application",
		Aliases: []string{"svc"},
	}
	for _, cmd := range commands.ServiceCommands() {
		serviceCmd.AddCommand(cmd)
	}
	m.rootCmd.AddCommand(serviceCmd)

	appCmd := &cobra.Command{
		Use:   "app",
		Short: "Act on a whole application",
	}
	for _, cmd := range commands.AppCommands() {
		appCmd.AddCommand(cmd)
	}
	m.rootCmd.AddCommand(appCmd)

	m.rootCmd.AddCommand(commands.RunsCommand())
}
