package main

import (
	"fmt"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/india-geodata/harvest-cli/internal/harvest"
)

var harvestRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch sources into the local cache",
	Long: `Run fetches each selected source into the cache, one entry per
work key. Keys that already completed are skipped on later runs unless
--force is given; partially fetched keys resume from where they
stopped.`,
	RunE: runHarvest,
}

func init() {
	harvestRunCmd.Flags().String("sources", "", "comma-separated source names (default: all)")
	harvestRunCmd.Flags().Bool("force", false, "refetch keys that already completed")
	harvestCmd.AddCommand(harvestRunCmd)
}

func runHarvest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	csv, _ := cmd.Flags().GetString("sources")
	force, _ := cmd.Flags().GetBool("force")

	reg, err := buildRegistry()
	if err != nil {
		return err
	}

	runs, err := openRunlog(ctx)
	if err != nil {
		return err
	}
	defer runs.Close()

	engine := harvest.NewEngine(reg, runs, harvest.EngineOptions{
		CacheRoot:   cfg.Cache.Root,
		Force:       force,
		Concurrency: cfg.Harvest.Concurrency,
	})

	// Print what did run even when some sources failed.
	results, runErr := engine.Run(ctx, parseSources(csv))

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := results[name]
		fmt.Printf("%s: %d records (%d/%d keys done, %d skipped, %d failed)\n",
			name, s.Records, s.Completed, s.Keys, s.Skipped, s.Failed)
	}

	return runErr
}
