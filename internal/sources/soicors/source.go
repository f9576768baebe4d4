// Package soicors harvests the Survey of India CORS station network. The
// public web map exposes a stations API gated by a bearer token that the
// map page itself publishes in a meta tag.
package soicors

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/india-geodata/harvest-cli/internal/config"
	"github.com/india-geodata/harvest-cli/internal/harvest"
	"github.com/india-geodata/harvest-cli/internal/record"
)

// SourceName identifies this source in the registry, the cache, and the
// run log.
const SourceName = "soi_cors"

// stationsKey is the single work unit; the API returns the whole network
// in one response.
const stationsKey harvest.WorkKey = "stations"

// Source harvests the CORS station collection.
type Source struct {
	cfg  config.SOICORSConfig
	http *resty.Client
	log  *zap.Logger

	mu    sync.Mutex
	token string
}

// New builds the source.
func New(cfg config.SOICORSConfig, httpCfg config.HTTPConfig) *Source {
	client := resty.New().
		SetTimeout(time.Duration(httpCfg.TimeoutSecs) * time.Second).
		SetHeader("user-agent", httpCfg.UserAgent).
		SetRetryCount(httpCfg.MaxRetries).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err == nil && r.StatusCode() >= 500
		})
	return &Source{
		cfg:  cfg,
		http: client,
		log:  zap.L().With(zap.String("component", "soicors")),
	}
}

func (s *Source) Name() string { return SourceName }

func (s *Source) Title() string { return "Survey of India CORS stations" }

func (s *Source) Keys(ctx context.Context) ([]harvest.WorkKey, error) {
	return []harvest.WorkKey{stationsKey}, nil
}

// PageSize is zero: the station collection is fetched whole.
func (s *Source) PageSize() int { return 0 }

// FetchPage downloads the full station collection and returns its member
// features as lines.
func (s *Source) FetchPage(ctx context.Context, key harvest.WorkKey, offset int) (*harvest.Page, error) {
	token, err := s.apiToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		Get(s.cfg.APIURL)
	if err != nil {
		return nil, harvest.NewTransportError(eris.Wrap(err, "soicors: fetch stations"))
	}
	switch {
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return nil, harvest.NewAuthError(eris.Errorf("soicors: stations api refused token with %d", resp.StatusCode()))
	case resp.IsError():
		return nil, harvest.NewProtocolError(
			eris.Errorf("soicors: stations api answered %d", resp.StatusCode()),
			resp.Status(), resp.StatusCode(), resp.Body())
	}

	var collection struct {
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(resp.Body(), &collection); err != nil {
		return nil, harvest.NewDataShapeError(eris.Wrap(err, "soicors: decode station collection"))
	}

	return &harvest.Page{Records: collection.Features}, nil
}

// Normalize validates one cached station feature. The API already delivers
// GeoJSON, so there is nothing to rewrite.
func (s *Source) Normalize(raw json.RawMessage, key harvest.WorkKey) (*geojson.Feature, error) {
	f, err := record.DecodeLine(raw)
	if err != nil {
		return nil, harvest.NewRejectError(err)
	}
	if err := record.Validate(f); err != nil {
		return nil, harvest.NewRejectError(err)
	}
	return f, nil
}

// apiToken extracts the bearer token the map page publishes, once per
// process.
func (s *Source) apiToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" {
		return s.token, nil
	}

	resp, err := s.http.R().SetContext(ctx).Get(s.cfg.EmbedURL)
	if err != nil {
		return "", harvest.NewAuthError(eris.Wrap(err, "soicors: fetch map page"))
	}
	if resp.IsError() {
		return "", harvest.NewAuthError(eris.Errorf("soicors: map page answered %d", resp.StatusCode()))
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return "", harvest.NewAuthError(eris.Wrap(err, "soicors: parse map page"))
	}
	token := strings.TrimSpace(doc.Find(`meta[name=api-token]`).AttrOr("content", ""))
	if token == "" {
		return "", harvest.NewAuthError(eris.New("soicors: api-token meta tag not found"))
	}

	s.token = token
	s.log.Debug("soicors: api token acquired")
	return token, nil
}
