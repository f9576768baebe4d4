package harvest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/india-geodata/harvest-cli/internal/cache"
	"github.com/india-geodata/harvest-cli/internal/runlog"
)

// EngineOptions configures a harvest run.
type EngineOptions struct {
	CacheRoot   string
	Force       bool
	Concurrency int
}

// Engine runs sources and records each run in the run log. Sources are
// independent: one failing does not stop the others.
type Engine struct {
	registry *Registry
	runs     runlog.Store
	opts     EngineOptions
	log      *zap.Logger
}

func NewEngine(registry *Registry, runs runlog.Store, opts EngineOptions) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Engine{
		registry: registry,
		runs:     runs,
		opts:     opts,
		log:      zap.L().With(zap.String("component", "engine")),
	}
}

// Run harvests the named sources, or all registered sources when names
// is empty. It returns per-source stats plus an error naming the
// sources that failed, if any.
func (e *Engine) Run(ctx context.Context, names []string) (map[string]*Stats, error) {
	sources, err := e.registry.Select(names)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results = make(map[string]*Stats, len(sources))
		failed  []string
	)

	// Plain errgroup, not WithContext: a source failure must not cancel
	// its siblings.
	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)

	for _, src := range sources {
		g.Go(func() error {
			stats, err := e.runSource(ctx, src)
			mu.Lock()
			defer mu.Unlock()
			if stats != nil {
				results[src.Name()] = stats
			}
			if err != nil {
				e.log.Error("source failed", zap.String("source", src.Name()), zap.Error(err))
				failed = append(failed, src.Name())
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		sort.Strings(failed)
		return results, eris.Errorf("harvest: %d source(s) failed: %s", len(failed), strings.Join(failed, ", "))
	}
	return results, nil
}

func (e *Engine) runSource(ctx context.Context, src Source) (*Stats, error) {
	log := e.log.With(zap.String("source", src.Name()))

	runID, err := e.runs.Start(ctx, src.Name())
	if err != nil {
		return nil, err
	}

	store, err := cache.NewStore(e.opts.CacheRoot, src.Name())
	if err != nil {
		e.failRun(ctx, runID, err)
		return nil, err
	}

	stats, err := NewCollector(src, store, e.opts.Force).Run(ctx)
	if err != nil {
		e.failRun(ctx, runID, err)
		return stats, err
	}

	res := &runlog.Result{
		Records:    stats.Records,
		FailedKeys: int64(stats.Failed),
		Metadata: map[string]any{
			"operation": "harvest",
			"keys":      stats.Keys,
			"completed": stats.Completed,
			"skipped":   stats.Skipped,
		},
	}
	if err := e.runs.Complete(ctx, runID, res); err != nil {
		log.Warn("record run completion", zap.Error(err))
	}

	log.Info("source complete",
		zap.Int("keys", stats.Keys),
		zap.Int("completed", stats.Completed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Int64("records", stats.Records))
	return stats, nil
}

// failRun records the failure even when the run's context is already
// cancelled, so interrupted runs show up as failed rather than running
// forever.
func (e *Engine) failRun(ctx context.Context, runID string, cause error) {
	if err := e.runs.Fail(context.WithoutCancel(ctx), runID, cause.Error()); err != nil {
		e.log.Warn("record run failure", zap.Error(err))
	}
}
