package harvest

import (
	"context"

	"go.uber.org/zap"

	"github.com/india-geodata/harvest-cli/internal/cache"
)

// Stats counts what one source run did.
type Stats struct {
	Keys      int
	Completed int
	Skipped   int
	Failed    int
	Records   int64 // records appended this run
}

// Collector walks a source's work keys and fills its cache directory.
// Partially fetched keys resume from their cached record count; keys
// with a completion marker are skipped unless force is set.
type Collector struct {
	source Source
	store  *cache.Store
	force  bool
	log    *zap.Logger
}

func NewCollector(source Source, store *cache.Store, force bool) *Collector {
	return &Collector{
		source: source,
		store:  store,
		force:  force,
		log: zap.L().With(
			zap.String("component", "collector"),
			zap.String("source", source.Name()),
		),
	}
}

// Run fetches every key the source reports. A failing key is logged and
// skipped so the rest of the source still makes progress; an
// authentication failure stops the whole source, since every remaining
// key would fail the same way.
func (c *Collector) Run(ctx context.Context) (*Stats, error) {
	keys, err := c.source.Keys(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Keys: len(keys)}
	c.log.Info("collecting", zap.Int("keys", len(keys)), zap.Bool("force", c.force))

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		skipped, added, err := c.collectKey(ctx, key)
		stats.Records += added
		if skipped {
			stats.Skipped++
			continue
		}
		if err != nil {
			if IsAuth(err) {
				return stats, err
			}
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			stats.Failed++
			fields := []zap.Field{zap.String("key", string(key)), zap.Error(err)}
			if body := ResponseBody(err); len(body) > 0 {
				fields = append(fields, zap.ByteString("response", truncate(body, 2048)))
			}
			c.log.Warn("key failed", fields...)
			continue
		}
		stats.Completed++
	}

	c.log.Info("collection finished",
		zap.Int("completed", stats.Completed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Int64("records", stats.Records))
	return stats, nil
}

func (c *Collector) collectKey(ctx context.Context, key WorkKey) (skipped bool, added int64, err error) {
	k := string(key)

	if c.force {
		if err := c.store.Reset(k); err != nil {
			return false, 0, err
		}
	} else {
		done, err := c.store.Completed(k)
		if err != nil {
			return false, 0, err
		}
		if done {
			c.log.Debug("key already cached", zap.String("key", k))
			return true, 0, nil
		}
	}

	offset, err := c.store.Count(k)
	if err != nil {
		return false, 0, err
	}

	if c.source.PageSize() == 0 {
		added, err = c.collectWhole(ctx, key, offset)
		return false, added, err
	}
	added, err = c.collectPaged(ctx, key, offset)
	return false, added, err
}

// collectWhole fetches a key that arrives in one piece. A leftover
// partial entry cannot be resumed by offset, so it is refetched from
// scratch.
func (c *Collector) collectWhole(ctx context.Context, key WorkKey, offset int) (int64, error) {
	if offset > 0 {
		c.log.Debug("discarding partial entry", zap.String("key", string(key)), zap.Int("records", offset))
		if err := c.store.Reset(string(key)); err != nil {
			return 0, err
		}
	}

	page, err := c.source.FetchPage(ctx, key, 0)
	if err != nil {
		return 0, err
	}
	if err := c.store.Append(string(key), page.Records); err != nil {
		return 0, err
	}
	if err := c.store.MarkComplete(string(key), len(page.Records)); err != nil {
		return int64(len(page.Records)), err
	}
	return int64(len(page.Records)), nil
}

// collectPaged fetches a key page by page, appending each page before
// asking for the next so an interrupted run loses at most one page of
// work.
func (c *Collector) collectPaged(ctx context.Context, key WorkKey, offset int) (int64, error) {
	pageSize := c.source.PageSize()
	var added int64

	for {
		if err := ctx.Err(); err != nil {
			return added, err
		}

		page, err := c.source.FetchPage(ctx, key, offset)
		if err != nil {
			return added, err
		}
		if err := c.store.Append(string(key), page.Records); err != nil {
			return added, err
		}
		offset += len(page.Records)
		added += int64(len(page.Records))

		if len(page.Records) < pageSize || !page.HasMore {
			break
		}
	}

	if err := c.store.MarkComplete(string(key), offset); err != nil {
		return added, err
	}
	return added, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
