package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/india-geodata/harvest-cli/internal/cache"
	"github.com/india-geodata/harvest-cli/internal/harvest"
	"github.com/india-geodata/harvest-cli/internal/runlog"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Collate cached records into GeoJSONL files",
	Long: `Export collates each selected source's completed cache entries
into <out>/<source>.geojsonl. Records that fail normalization are
dropped and counted; cache entries without a completion marker are
skipped. Run harvest first to fill the cache.`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().String("sources", "", "comma-separated source names (default: all)")
	exportCmd.Flags().String("out", "", "output directory (default: export root from config)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	csv, _ := cmd.Flags().GetString("sources")
	outDir, _ := cmd.Flags().GetString("out")
	if outDir == "" {
		outDir = cfg.Export.Root
	}

	reg, err := buildRegistry()
	if err != nil {
		return err
	}
	sources, err := reg.Select(parseSources(csv))
	if err != nil {
		return err
	}

	runs, err := openRunlog(ctx)
	if err != nil {
		return err
	}
	defer runs.Close()

	var failed []string
	for _, src := range sources {
		stats, err := exportSource(ctx, runs, src, outDir)
		if err != nil {
			zap.L().Error("export failed", zap.String("source", src.Name()), zap.Error(err))
			failed = append(failed, src.Name())
			continue
		}
		fmt.Printf("%s: %d records from %d entries (%d rejected, %d skipped)\n",
			src.Name(), stats.Records, stats.Entries, stats.Rejected, stats.Skipped)
	}

	if len(failed) > 0 {
		return eris.Errorf("export: %d source(s) failed: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

func exportSource(ctx context.Context, runs runlog.Store, src harvest.Source, outDir string) (*harvest.ExportStats, error) {
	runID, err := runs.Start(ctx, src.Name())
	if err != nil {
		return nil, err
	}

	store, err := cache.NewStore(cfg.Cache.Root, src.Name())
	if err != nil {
		_ = runs.Fail(context.WithoutCancel(ctx), runID, err.Error())
		return nil, err
	}

	stats, err := harvest.NewExporter(src, store, outDir).Run(ctx)
	if err != nil {
		_ = runs.Fail(context.WithoutCancel(ctx), runID, err.Error())
		return nil, err
	}

	res := &runlog.Result{
		Records:  stats.Records,
		Rejected: stats.Rejected,
		Metadata: map[string]any{
			"operation": "export",
			"entries":   stats.Entries,
			"skipped":   stats.Skipped,
		},
	}
	if len(stats.Labels) > 0 {
		res.Metadata["labels"] = stats.Labels
	}
	if err := runs.Complete(ctx, runID, res); err != nil {
		zap.L().Warn("record export completion", zap.Error(err))
	}
	return stats, nil
}
