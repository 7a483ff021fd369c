package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RunsCommand creates the run history command
func RunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List reconciliation runs, or show one with its steps",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				run, err := c.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if wantJSON(cmd) {
					return printJSON(cmd.OutOrStdout(), run)
				}
				return printRun(cmd.OutOrStdout(), run)
			}

			page, _ := cmd.Flags().GetInt("page")
			pageSize, _ := cmd.Flags().GetInt("page-size")
			runs, err := c.ListRuns(cmd.Context(), page, pageSize)
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), runs)
			}

			if len(runs.Data) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "ID\tTRIGGER\tSTATUS\tSTARTED\tERROR")
			for _, run := range runs.Data {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", run.ID, run.Trigger, run.Status, since(run.StartedAt), run.Error)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Page %d of %d (%d runs)\n", runs.Page, runs.TotalPages, runs.TotalItems)
			return nil
		},
	}
	cmd.Flags().Int("page", 1, "Page number")
	cmd.Flags().Int("page-size", 20, "Runs per page")
	return cmd
}
