package harvest

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/india-geodata/harvest-cli/internal/cache"
	"github.com/india-geodata/harvest-cli/internal/record"
)

// ExportStats counts what an export produced for one source.
type ExportStats struct {
	Entries  int // cache entries collated
	Skipped  int // incomplete entries left out
	Records  int64
	Rejected int64
	Labels   map[string]int64 // classification counts, when the source classifies
}

// Exporter collates a source's completed cache entries into one
// GeoJSONL file, normalizing each cached record on the way out.
type Exporter struct {
	source Source
	store  *cache.Store
	outDir string
	log    *zap.Logger
}

func NewExporter(source Source, store *cache.Store, outDir string) *Exporter {
	return &Exporter{
		source: source,
		store:  store,
		outDir: outDir,
		log: zap.L().With(
			zap.String("component", "exporter"),
			zap.String("source", source.Name()),
		),
	}
}

// Run writes <outDir>/<source>.geojsonl. Entries are collated in
// filename order; entries without a completion marker are skipped with
// a warning. The output file appears atomically via a temp file rename.
func (x *Exporter) Run(ctx context.Context) (*ExportStats, error) {
	entries, err := x.store.Entries()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(x.outDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "export: create dir %s", x.outDir)
	}

	tmp, err := os.CreateTemp(x.outDir, "."+x.source.Name()+"-*.tmp")
	if err != nil {
		return nil, eris.Wrap(err, "export: create temp file")
	}
	defer func() {
		tmp.Close()           //nolint:errcheck
		os.Remove(tmp.Name()) //nolint:errcheck
	}()

	stats := &ExportStats{}
	classifier, _ := x.source.(Classifier)
	if classifier != nil {
		stats.Labels = make(map[string]int64)
	}

	w := bufio.NewWriter(tmp)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.Complete {
			stats.Skipped++
			x.log.Warn("skipping unmarked cache entry", zap.String("file", entry.File))
			continue
		}
		stats.Entries++

		err := x.store.ReadLines(entry.File, func(line []byte) error {
			f, err := x.source.Normalize(json.RawMessage(line), WorkKey(entry.Key))
			if err != nil {
				if IsReject(err) {
					stats.Rejected++
					x.log.Debug("record rejected", zap.String("key", entry.Key), zap.Error(err))
					return nil
				}
				return err
			}

			if f.Properties == nil {
				f.Properties = make(map[string]any)
			}
			if classifier != nil {
				label := classifier.Classify(f)
				f.Properties[classifier.ClassProperty()] = label
				stats.Labels[label]++
			}

			data, err := record.EncodeLine(f)
			if err != nil {
				return err
			}
			if _, err := w.Write(data); err != nil {
				return eris.Wrap(err, "export: write record")
			}
			if err := w.WriteByte('\n'); err != nil {
				return eris.Wrap(err, "export: write record")
			}
			stats.Records++
			return nil
		})
		if err != nil {
			return nil, eris.Wrapf(err, "export: entry %s", entry.File)
		}
	}

	if err := w.Flush(); err != nil {
		return nil, eris.Wrap(err, "export: flush")
	}
	if err := tmp.Close(); err != nil {
		return nil, eris.Wrap(err, "export: close temp file")
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return nil, eris.Wrap(err, "export: chmod temp file")
	}

	outPath := filepath.Join(x.outDir, x.source.Name()+".geojsonl")
	if err := os.Rename(tmp.Name(), outPath); err != nil {
		return nil, eris.Wrapf(err, "export: rename to %s", outPath)
	}

	x.log.Info("export complete",
		zap.String("file", outPath),
		zap.Int("entries", stats.Entries),
		zap.Int("skipped", stats.Skipped),
		zap.Int64("records", stats.Records),
		zap.Int64("rejected", stats.Rejected))
	return stats, nil
}
