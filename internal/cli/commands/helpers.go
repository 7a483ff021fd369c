package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"appmanager/internal/client"
	"appmanager/internal/constants"
	"appmanager/internal/types"
)

// Global flag names
const (
	FlagServer = "server"
	FlagJSON   = "json"
)

// ServerEnv names the environment variable holding the device API URL
const ServerEnv = "APPMANAGER_SERVER"

// serverURL resolves the API URL from --server, then the environment
func serverURL(cmd *cobra.Command) string {
	if url, _ := cmd.Flags().GetString(FlagServer); url != "" {
		return url
	}
	if url := os.Getenv(ServerEnv); url != "" {
		return url
	}
	return constants.DefaultServerURL
}

// newClient builds an API client for cmd
func newClient(cmd *cobra.Command) (*client.Client, error) {
	c, err := client.New(serverURL(cmd))
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}
	return c, nil
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool(FlagJSON)
	return v
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// printSnapshot lists every service of snap, one row per service
func printSnapshot(w io.Writer, snap *types.StateSnapshot, observed bool) error {
	if len(snap.Apps) == 0 {
		fmt.Fprintln(w, "No applications.")
		return nil
	}

	tw := newTable(w)
	if observed {
		fmt.Fprintln(tw, "APP\tNAME\tSERVICE\tIMAGE\tSTATUS\tCONTAINER")
	} else {
		fmt.Fprintln(tw, "APP\tNAME\tSERVICE\tIMAGE\tPORTS")
	}
	for _, appID := range snap.AppIDs() {
		app := snap.Apps[appID]
		services := append([]types.Service(nil), app.Services...)
		sort.Slice(services, func(i, j int) bool { return services[i].ServiceID < services[j].ServiceID })
		if len(services) == 0 {
			fmt.Fprintf(tw, "%d\t%s\t-\t-\t-\n", appID, app.AppName)
			continue
		}
		for _, svc := range services {
			name := fmt.Sprintf("%s (%d)", svc.ServiceName, svc.ServiceID)
			if observed {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", appID, app.AppName, name, svc.ImageName, svc.Status, shortID(svc.ContainerID))
			} else {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", appID, app.AppName, name, svc.ImageName, ports(svc.Config.Ports))
			}
		}
	}
	return tw.Flush()
}

// printRun prints a run header followed by its steps
func printRun(w io.Writer, run *types.ReconciliationRun) error {
	if run == nil {
		return nil
	}
	fmt.Fprintf(w, "Run %s (%s): %s\n", run.ID, run.Trigger, run.Status)
	if run.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", run.Error)
	}
	if len(run.Steps) == 0 {
		return nil
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "#\tOP\tTARGET\tOUTCOME\tDURATION\tERROR")
	for _, step := range run.Steps {
		target := fmt.Sprintf("%d/%d", step.AppID, step.ServiceID)
		if step.ServiceName != "" {
			target += " " + step.ServiceName
		}
		duration := (time.Duration(step.DurationMS) * time.Millisecond).String()
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", step.Seq, step.Kind, target, step.Outcome, duration, step.Error)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	if id == "" {
		return "-"
	}
	return id
}

func ports(mappings []types.PortMapping) string {
	if len(mappings) == 0 {
		return "-"
	}
	out := make([]string, len(mappings))
	for i, p := range mappings {
		out[i] = p.String()
	}
	return strings.Join(out, ",")
}

func since(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Round(time.Second).String() + " ago"
}
