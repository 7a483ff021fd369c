package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"appmanager/internal/compose"
	"appmanager/internal/server"
	"appmanager/internal/types"
)

// TargetCommands creates the target state editing commands
func TargetCommands() []*cobra.Command {
	commands := []*cobra.Command{}

	// appmanager target set -f target.yaml
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Replace the whole target state from a JSON or YAML file",
		Long: `Replace the whole target state. The file holds a state document
({"apps": {"<appId>": {...}}}) in JSON or YAML; "-" reads standard input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			snap, err := readTarget(cmd.InOrStdin(), path)
			if err != nil {
				return err
			}
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			resp, err := c.SetTarget(cmd.Context(), snap, applyFlag(cmd))
			if err != nil {
				return err
			}
			return printTargetWritten(cmd, resp, len(snap.Apps))
		},
	}
	setCmd.Flags().StringP("file", "f", "", "Target state file (JSON or YAML, - for stdin)")
	_ = setCmd.MarkFlagRequired("file")
	addApplyFlag(setCmd)
	commands = append(commands, setCmd)

	// appmanager target import-compose --app-id 1001 -f docker-compose.yml
	importCmd := &cobra.Command{
		Use:   "import-compose",
		Short: "Set one application of the target state from a docker-compose file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			appID, _ := cmd.Flags().GetInt("app-id")
			appName, _ := cmd.Flags().GetString("app-name")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			if appID <= 0 {
				return fmt.Errorf("--app-id must be a positive integer")
			}

			app, err := compose.LoadApplication(path, appID, appName)
			if err != nil {
				return err
			}
			if app.AppName == "" {
				app.AppName = filepath.Base(filepath.Dir(mustAbs(path)))
			}
			if dryRun {
				return printJSON(cmd.OutOrStdout(), app)
			}

			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			resp, err := c.SetAppTarget(cmd.Context(), app, applyFlag(cmd))
			if err != nil {
				return err
			}
			return printTargetWritten(cmd, resp, 1)
		},
	}
	importCmd.Flags().StringP("file", "f", "docker-compose.yml", "Compose file")
	importCmd.Flags().Int("app-id", 0, "Application ID")
	importCmd.Flags().String("app-name", "", "Application name (default: compose project name or directory)")
	importCmd.Flags().Bool("dry-run", false, "Print the converted application without sending it")
	_ = importCmd.MarkFlagRequired("app-id")
	addApplyFlag(importCmd)
	commands = append(commands, importCmd)

	// appmanager target remove --app-id 1001
	removeCmd := &cobra.Command{
		Use:     "remove",
		Short:   "Remove an application from the target state",
		Aliases: []string{"rm"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appID, _ := cmd.Flags().GetInt("app-id")
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			resp, err := c.RemoveAppTarget(cmd.Context(), appID, applyFlag(cmd))
			if err != nil {
				return err
			}
			return printTargetWritten(cmd, resp, 0)
		},
	}
	removeCmd.Flags().Int("app-id", 0, "Application ID")
	_ = removeCmd.MarkFlagRequired("app-id")
	addApplyFlag(removeCmd)
	commands = append(commands, removeCmd)

	return commands
}

func addApplyFlag(cmd *cobra.Command) {
	cmd.Flags().Bool("apply", false, "Queue an apply after storing the target")
}

func applyFlag(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("apply")
	return v
}

func mustAbs(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// readTarget decodes a state document. JSON is detected by its leading
// brace, anything else is parsed as YAML.
func readTarget(stdin io.Reader, path string) (*types.StateSnapshot, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading target: %w", err)
	}

	snap := types.NewSnapshot()
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("{")) {
		if err := json.Unmarshal(trimmed, snap); err != nil {
			return nil, fmt.Errorf("parsing target JSON: %w", err)
		}
	} else if err := yaml.Unmarshal(trimmed, snap); err != nil {
		return nil, fmt.Errorf("parsing target YAML: %w", err)
	}

	if snap.Apps == nil {
		snap.Apps = make(map[int]*types.Application)
	}
	for id, app := range snap.Apps {
		if app != nil && app.AppID == 0 {
			app.AppID = id
		}
	}
	return snap, nil
}

func printTargetWritten(cmd *cobra.Command, resp *server.TargetResponse, apps int) error {
	if wantJSON(cmd) {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Target stored (version %d", resp.Version)
	if apps > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), ", %d application(s)", apps)
	}
	fmt.Fprint(cmd.OutOrStdout(), ").")
	if resp.Applied {
		fmt.Fprint(cmd.OutOrStdout(), " Apply queued.")
	} else {
		fmt.Fprint(cmd.OutOrStdout(), " Run 'appmanager apply' to converge.")
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
