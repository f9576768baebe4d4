package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/india-geodata/harvest-cli/internal/cache"
	"github.com/india-geodata/harvest-cli/internal/record"
)

func init() {
	// Replace global logger with a no-op to avoid noise in tests.
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeSource serves deterministic records from memory, with knobs for
// failure injection.
type fakeSource struct {
	mu         sync.Mutex
	name       string
	keys       []WorkKey
	keysErr    error
	pageSize   int
	records    map[WorkKey][]json.RawMessage
	failAt     map[WorkKey]int // fail FetchPage at offsets >= this
	failWith   error
	alwaysMore bool // report HasMore on every full page, like a blind paginator
	calls      []string
}

func newFakeSource(name string, pageSize int) *fakeSource {
	return &fakeSource{
		name:     name,
		pageSize: pageSize,
		records:  make(map[WorkKey][]json.RawMessage),
		failAt:   make(map[WorkKey]int),
	}
}

func (f *fakeSource) addKey(key WorkKey, n int) {
	f.keys = append(f.keys, key)
	f.records[key] = fakeRecords(key, n)
}

func fakeRecords(key WorkKey, n int) []json.RawMessage {
	recs := make([]json.RawMessage, 0, n)
	for i := 0; i < n; i++ {
		recs = append(recs, json.RawMessage(fmt.Sprintf(
			`{"id":"%s-%d","lon":%.4f,"lat":%.4f}`,
			key, i, 77.0+float64(i)/100, 12.9+float64(i)/100)))
	}
	return recs
}

func (f *fakeSource) Name() string  { return f.name }
func (f *fakeSource) Title() string { return "Fake " + f.name }

func (f *fakeSource) Keys(ctx context.Context) ([]WorkKey, error) {
	if f.keysErr != nil {
		return nil, f.keysErr
	}
	return f.keys, nil
}

func (f *fakeSource) PageSize() int { return f.pageSize }

func (f *fakeSource) FetchPage(ctx context.Context, key WorkKey, offset int) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s@%d", key, offset))

	if at, ok := f.failAt[key]; ok && offset >= at {
		return nil, f.failWith
	}

	all := f.records[key]
	if offset >= len(all) {
		return &Page{}, nil
	}
	end := len(all)
	if f.pageSize > 0 && offset+f.pageSize < end {
		end = offset + f.pageSize
	}
	page := &Page{Records: all[offset:end], HasMore: end < len(all)}
	if f.alwaysMore && f.pageSize > 0 && len(page.Records) == f.pageSize {
		page.HasMore = true
	}
	return page, nil
}

func (f *fakeSource) Normalize(raw json.RawMessage, key WorkKey) (*geojson.Feature, error) {
	var rec struct {
		ID  string  `json:"id"`
		Lon float64 `json:"lon"`
		Lat float64 `json:"lat"`
		Bad bool    `json:"bad"`
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, NewDataShapeError(err)
	}
	if rec.Bad {
		return nil, NewRejectError(eris.Errorf("unusable record %s", rec.ID))
	}
	return record.NewPoint(rec.Lon, rec.Lat, map[string]any{
		"id":       rec.ID,
		"district": string(key),
	})
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSource) callsFor(key WorkKey) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	prefix := string(key) + "@"
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeSource) clearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAt = make(map[WorkKey]int)
}

// classifyingSource labels the first record of each key "special".
type classifyingSource struct {
	*fakeSource
}

func (c *classifyingSource) Classify(f *geojson.Feature) string {
	if id, _ := f.Properties["id"].(string); strings.HasSuffix(id, "-0") {
		return "special"
	}
	return "regular"
}

func (c *classifyingSource) ClassProperty() string { return "station_type" }

func newTestCacheStore(t *testing.T, src Source) *cache.Store {
	t.Helper()
	st, err := cache.NewStore(t.TempDir(), src.Name())
	require.NoError(t, err)
	return st
}

func collectOnce(t *testing.T, src Source, store *cache.Store) *Stats {
	t.Helper()
	stats, err := NewCollector(src, store, false).Run(context.Background())
	require.NoError(t, err)
	return stats
}
