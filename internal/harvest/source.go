// Package harvest implements the resumable, cache-backed harvesting pipeline:
// session acquisition, keyed unit fetching with partial-failure tolerance,
// append-only per-key caching with completion markers, and collation of
// finalized caches into per-source NDJSON exports.
package harvest

import (
	"context"
	"encoding/json"

	"github.com/twpayne/go-geom/encoding/geojson"
)

// WorkKey identifies one fetchable unit of remote data: a branch category, a
// district, a station group. Keys are stable across runs.
type WorkKey string

// Page is the result of one fetch call for a key.
type Page struct {
	// Records holds raw payload items in remote order. Sources whose fetch
	// step already produces canonical features cache those instead.
	Records []json.RawMessage
	// HasMore is the remote's explicit continuation signal. The collector
	// also terminates on a short page regardless of HasMore.
	HasMore bool
}

// Source adapts one remote provider to the pipeline. Implementations form a
// closed set selected by name at startup.
type Source interface {
	// Name returns the unique source identifier (e.g. "rbi_branches").
	Name() string

	// Title returns a human-readable description for listings.
	Title() string

	// Keys enumerates or discovers the source's work keys in a stable order.
	Keys(ctx context.Context) ([]WorkKey, error)

	// PageSize returns the requested page size for offset-paginated sources,
	// or 0 when each key is fetched whole in a single call.
	PageSize() int

	// FetchPage retrieves one page of records for key starting at offset.
	// Whole-key sources are always called with offset 0.
	FetchPage(ctx context.Context, key WorkKey, offset int) (*Page, error)

	// Normalize converts one cached line into a canonical record. Pure
	// function of its inputs; returns a RejectError for records that must
	// be dropped.
	Normalize(raw json.RawMessage, key WorkKey) (*geojson.Feature, error)
}

// Classifier is an optional interface a source implements to label exported
// records. Classify must be a pure function of the record it is given.
type Classifier interface {
	// Classify returns the label for one record.
	Classify(f *geojson.Feature) string

	// ClassProperty returns the property name the label is stored under.
	ClassProperty() string
}
