package soicors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/india-geodata/harvest-cli/internal/config"
	"github.com/india-geodata/harvest-cli/internal/harvest"
	"github.com/india-geodata/harvest-cli/internal/record"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const testToken = "soi-token-9000"

const mapPageHTML = `<!DOCTYPE html>
<html><head>
<meta charset="utf-8">
<meta name="api-token" content="` + testToken + `">
<title>CORS Web Map</title>
</head><body><div id="map"></div></body></html>`

const stationsJSON = `{"type":"FeatureCollection","features":[
{"type":"Feature","geometry":{"type":"Point","coordinates":[77.5946,12.9716]},"properties":{"station_code":"BLRX","state":"KARNATAKA","status":"Active"}},
{"type":"Feature","geometry":{"type":"Point","coordinates":[77.209,28.6139]},"properties":{"station_code":"DELH","state":"DELHI","status":"Active"}}
]}`

type fakeWebMap struct {
	t   *testing.T
	srv *httptest.Server

	mu        sync.Mutex
	embedHits int
	withToken bool
	apiStatus int
	apiBody   string
}

func newFakeWebMap(t *testing.T) *fakeWebMap {
	t.Helper()
	m := &fakeWebMap{t: t, withToken: true, apiStatus: http.StatusOK, apiBody: stationsJSON}

	mux := http.NewServeMux()
	mux.HandleFunc("/embed", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.embedHits++
		withToken := m.withToken
		m.mu.Unlock()
		if !withToken {
			w.Write([]byte(`<html><head><title>CORS Web Map</title></head><body></body></html>`)) //nolint:errcheck
			return
		}
		w.Write([]byte(mapPageHTML)) //nolint:errcheck
	})
	mux.HandleFunc("/api/stations", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(m.t, "Bearer "+testToken, r.Header.Get("Authorization"))
		m.mu.Lock()
		status := m.apiStatus
		body := m.apiBody
		m.mu.Unlock()
		w.WriteHeader(status)
		w.Write([]byte(body)) //nolint:errcheck
	})

	m.srv = httptest.NewServer(mux)
	t.Cleanup(m.srv.Close)
	return m
}

func (m *fakeWebMap) embedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.embedHits
}

func newTestSource(t *testing.T, m *fakeWebMap) *Source {
	t.Helper()
	cfg := config.SOICORSConfig{
		EmbedURL: m.srv.URL + "/embed",
		APIURL:   m.srv.URL + "/api/stations?state=",
	}
	return New(cfg, config.HTTPConfig{UserAgent: "harvest-test", TimeoutSecs: 5})
}

func TestSource_SingleWholeKey(t *testing.T) {
	src := newTestSource(t, newFakeWebMap(t))

	keys, err := src.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []harvest.WorkKey{"stations"}, keys)
	assert.Zero(t, src.PageSize())
}

func TestSource_FetchStations(t *testing.T) {
	m := newFakeWebMap(t)
	src := newTestSource(t, m)

	page, err := src.FetchPage(context.Background(), stationsKey, 0)
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.False(t, page.HasMore)

	f, err := src.Normalize(page.Records[0], stationsKey)
	require.NoError(t, err)
	lon, lat := record.Coordinates(f)
	assert.InDelta(t, 77.5946, lon, 1e-9)
	assert.InDelta(t, 12.9716, lat, 1e-9)
	assert.Equal(t, "BLRX", f.Properties["station_code"])
}

func TestSource_TokenFetchedOnce(t *testing.T) {
	m := newFakeWebMap(t)
	src := newTestSource(t, m)
	ctx := context.Background()

	_, err := src.FetchPage(ctx, stationsKey, 0)
	require.NoError(t, err)
	_, err = src.FetchPage(ctx, stationsKey, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, m.embedCount())
}

func TestSource_MissingTokenIsAuthError(t *testing.T) {
	m := newFakeWebMap(t)
	m.withToken = false
	src := newTestSource(t, m)

	_, err := src.FetchPage(context.Background(), stationsKey, 0)
	require.Error(t, err)
	assert.True(t, harvest.IsAuth(err))
	assert.Contains(t, err.Error(), "api-token")
}

func TestSource_RefusedTokenIsAuthError(t *testing.T) {
	m := newFakeWebMap(t)
	m.apiStatus = http.StatusUnauthorized
	src := newTestSource(t, m)

	_, err := src.FetchPage(context.Background(), stationsKey, 0)
	require.Error(t, err)
	assert.True(t, harvest.IsAuth(err))
}

func TestSource_BadCollectionIsDataShapeError(t *testing.T) {
	m := newFakeWebMap(t)
	m.apiBody = `<html>maintenance window</html>`
	src := newTestSource(t, m)

	_, err := src.FetchPage(context.Background(), stationsKey, 0)
	require.Error(t, err)
	assert.True(t, harvest.IsDataShape(err))
}

func TestSource_NormalizeRejectsBadFeatures(t *testing.T) {
	src := newTestSource(t, newFakeWebMap(t))

	for _, raw := range []string{
		`{"type":"Feature","geometry":null,"properties":{}}`,
		`{"type":"Feature","geometry":{"type":"Point","coordinates":[191.0,12.0]},"properties":{}}`,
	} {
		_, err := src.Normalize(json.RawMessage(raw), stationsKey)
		require.Error(t, err, "raw=%s", raw)
		assert.True(t, harvest.IsReject(err), "raw=%s", raw)
	}
}
