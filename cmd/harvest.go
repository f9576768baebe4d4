package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/india-geodata/harvest-cli/internal/fetcher"
	"github.com/india-geodata/harvest-cli/internal/harvest"
	"github.com/india-geodata/harvest-cli/internal/runlog"
	"github.com/india-geodata/harvest-cli/internal/sources/mppolice"
	"github.com/india-geodata/harvest-cli/internal/sources/rbi"
	"github.com/india-geodata/harvest-cli/internal/sources/soicors"
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Run and inspect harvests",
}

func init() {
	rootCmd.AddCommand(harvestCmd)
}

// buildRegistry wires every known source. The set is closed: adding a
// source means registering it here.
func buildRegistry() (*harvest.Registry, error) {
	fetch := fetcher.New(fetcher.Options{
		UserAgent:  cfg.HTTP.UserAgent,
		Timeout:    time.Duration(cfg.HTTP.TimeoutSecs) * time.Second,
		MaxRetries: cfg.HTTP.MaxRetries,
	})

	reg := harvest.NewRegistry()

	banks, err := rbi.New(cfg.RBI, cfg.HTTP, filepath.Join(cfg.Cache.Root, rbi.SourceName))
	if err != nil {
		return nil, err
	}
	reg.Register(banks)

	police, err := mppolice.New(cfg.MPPolice, fetch, filepath.Join(cfg.Cache.Root, mppolice.SourceName))
	if err != nil {
		return nil, err
	}
	reg.Register(police)

	reg.Register(soicors.New(cfg.SOICORS, cfg.HTTP))

	return reg, nil
}

// openRunlog opens the configured run log store. sqlite does not create
// the database's parent directory itself, so make sure it exists.
func openRunlog(ctx context.Context) (runlog.Store, error) {
	opts := runlog.Options{
		Driver:      cfg.RunLog.Driver,
		Path:        cfg.RunLog.Path,
		DatabaseURL: cfg.RunLog.DatabaseURL,
	}
	if opts.Driver == "sqlite" {
		if opts.Path == "" {
			opts.Path = filepath.Join(cfg.Cache.Root, "runlog.db")
		}
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, eris.Wrap(err, "create run log directory")
		}
	}
	return runlog.Open(ctx, opts)
}

// parseSources splits a comma-separated --sources value. Empty means
// all sources.
func parseSources(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
