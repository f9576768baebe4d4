package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/india-geodata/harvest-cli/internal/runlog"
)

var harvestStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent harvest and export runs",
	RunE:  runHarvestStatus,
}

func init() {
	harvestStatusCmd.Flags().Int("limit", 20, "maximum number of runs to show")
	harvestCmd.AddCommand(harvestStatusCmd)
}

func runHarvestStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	limit, _ := cmd.Flags().GetInt("limit")

	runs, err := openRunlog(ctx)
	if err != nil {
		return err
	}
	defer runs.Close()

	entries, err := runs.List(ctx, limit)
	if err != nil {
		return err
	}
	return formatRunEntries(os.Stdout, entries)
}

func formatRunEntries(out io.Writer, entries []runlog.Entry) error {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No runs recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSOURCE\tOP\tSTATUS\tSTARTED\tDURATION\tRECORDS\tREJECTED\tFAILED\tERROR")
	fmt.Fprintln(w, "--\t------\t--\t------\t-------\t--------\t-------\t--------\t------\t-----")

	for _, e := range entries {
		duration := "-"
		if e.FinishedAt != nil {
			duration = e.FinishedAt.Sub(e.StartedAt).Round(time.Second).String()
		}
		op := "-"
		if v, ok := e.Metadata["operation"].(string); ok {
			op = v
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			truncate(e.ID, 8),
			e.Source,
			op,
			e.Status,
			e.StartedAt.Format("2006-01-02 15:04"),
			duration,
			e.Records,
			e.Rejected,
			e.FailedKeys,
			truncate(e.Error, 40),
		)
	}
	return w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
