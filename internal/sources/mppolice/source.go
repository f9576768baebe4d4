package mppolice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/india-geodata/harvest-cli/internal/config"
	"github.com/india-geodata/harvest-cli/internal/fetcher"
	"github.com/india-geodata/harvest-cli/internal/harvest"
	"github.com/india-geodata/harvest-cli/internal/record"
)

// SourceName identifies this source in the registry, the cache, and the
// run log.
const SourceName = "mp_police"

var (
	mapEmbedRE = regexp.MustCompile(`google\.com/maps/d`)
	mapIDRE    = regexp.MustCompile(`mid=([a-zA-Z0-9_-]+)`)
)

// Source harvests station placemarks per district from the MP Police
// portal's embedded district maps.
type Source struct {
	cfg    config.MPPoliceConfig
	fetch  fetcher.Fetcher
	refDir string
	log    *zap.Logger

	mu   sync.Mutex
	urls map[string]string
}

// New builds the source. refDir is where the district directory reference
// cache persists, conventionally the source's cache directory.
func New(cfg config.MPPoliceConfig, fetch fetcher.Fetcher, refDir string) (*Source, error) {
	if err := os.MkdirAll(refDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "mppolice: create reference dir %s", refDir)
	}
	return &Source{
		cfg:    cfg,
		fetch:  fetch,
		refDir: refDir,
		log:    zap.L().With(zap.String("component", "mppolice")),
	}, nil
}

func (s *Source) Name() string { return SourceName }

func (s *Source) Title() string { return "MP Police station maps" }

// Keys returns district names from the portal directory, minus units that
// have no station map (training centers, rail police), sorted for stable
// enumeration.
func (s *Source) Keys(ctx context.Context) ([]harvest.WorkKey, error) {
	urls, err := s.directory(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]harvest.WorkKey, 0, len(urls))
	for name := range urls {
		if skipped(name, s.cfg.SkipPrefixes) {
			continue
		}
		keys = append(keys, harvest.WorkKey(name))
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

// PageSize is zero: each district's map is fetched whole.
func (s *Source) PageSize() int { return 0 }

// FetchPage downloads one district's map export and returns its placemarks
// as feature lines.
func (s *Source) FetchPage(ctx context.Context, key harvest.WorkKey, offset int) (*harvest.Page, error) {
	district := string(key)
	districtURL, err := s.districtURL(ctx, district)
	if err != nil {
		return nil, err
	}

	page, err := s.fetch.DownloadBytes(ctx, districtURL)
	if err != nil {
		return nil, mapFetchErr(err)
	}

	mid, err := extractMapID(page)
	if err != nil {
		return nil, err
	}
	s.log.Debug("mppolice: found map embed",
		zap.String("district", district), zap.String("map_id", mid))

	kmz, err := s.fetch.DownloadBytes(ctx, fmt.Sprintf(s.cfg.KMLURL, mid))
	if err != nil {
		return nil, mapFetchErr(err)
	}

	kml, err := fetcher.ExtractFileBytes(kmz, "doc.kml")
	if err != nil {
		kml, err = fetcher.ExtractSingleBytes(kmz, ".kml")
	}
	if err != nil {
		return nil, harvest.NewDataShapeError(eris.Wrapf(err, "mppolice: unpack map export for %s", district))
	}

	stations, err := decodeStations(kml)
	if err != nil {
		return nil, err
	}

	lines, err := featureLines(stations, district, districtURL)
	if err != nil {
		return nil, err
	}
	return &harvest.Page{Records: lines}, nil
}

// Normalize decodes one cached feature line and validates its geometry.
// Placemarks cached without a usable point reject here, where the drop is
// counted.
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

// Classify labels a station by its map icon style.
func (s *Source) Classify(f *geojson.Feature) string {
	if style, ok := f.Properties["styleUrl"].(string); ok && style == s.cfg.SpecialStyle {
		return "special"
	}
	return "regular"
}

func (s *Source) ClassProperty() string { return "station_type" }

func (s *Source) directory(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.urls != nil {
		return s.urls, nil
	}
	urls, err := loadDirectory(ctx, s.fetch, s.cfg.BaseURL, s.refDir)
	if err != nil {
		return nil, err
	}
	s.urls = urls
	return urls, nil
}

func (s *Source) districtURL(ctx context.Context, name string) (string, error) {
	urls, err := s.directory(ctx)
	if err != nil {
		return "", err
	}
	u, ok := urls[name]
	if !ok {
		return "", harvest.NewDataShapeError(eris.Errorf("mppolice: district %q not in directory", name))
	}
	return u, nil
}

func skipped(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// extractMapID finds the Google My Maps identifier in a district page's
// map iframe.
func extractMapID(page []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", harvest.NewDataShapeError(eris.Wrap(err, "mppolice: parse district page"))
	}

	var mid string
	doc.Find("iframe").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		src := sel.AttrOr("src", "")
		if !mapEmbedRE.MatchString(src) {
			return true
		}
		if m := mapIDRE.FindStringSubmatch(src); m != nil {
			mid = m[1]
			return false
		}
		return true
	})
	if mid == "" {
		return "", harvest.NewDataShapeError(eris.New("mppolice: no map embed on district page"))
	}
	return mid, nil
}

// rawFeature is the cached line shape. Geometry stays raw so placemarks
// without a point can be cached with a null geometry and judged at export.
type rawFeature struct {
	Type       string          `json:"type"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

// featureLines converts decoded stations into cacheable feature lines with
// district provenance merged in.
func featureLines(stations []station, district, districtURL string) ([]json.RawMessage, error) {
	lines := make([]json.RawMessage, 0, len(stations))
	for _, st := range stations {
		props := make(map[string]any, len(st.data)+4)
		for k, v := range st.data {
			props[k] = v
		}
		if st.name != "" {
			props["name"] = st.name
		}
		if st.styleURL != "" {
			props["styleUrl"] = st.styleURL
		}
		props["district"] = district
		props["district_url"] = districtURL
		fixMobile(props)

		f := rawFeature{Type: "Feature", Geometry: json.RawMessage("null"), Properties: props}
		if st.hasPoint {
			geometry, err := json.Marshal(map[string]any{
				"type":        "Point",
				"coordinates": []float64{st.lon, st.lat},
			})
			if err != nil {
				return nil, eris.Wrapf(err, "mppolice: encode geometry for %q", st.name)
			}
			f.Geometry = geometry
		}

		line, err := json.Marshal(f)
		if err != nil {
			return nil, eris.Wrapf(err, "mppolice: encode station %q", st.name)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// fixMobile rewrites mobile numbers that sheet exports mangled into
// scientific notation ("9.4251e+09") back to integer strings. Values that
// do not parse as numbers pass through untouched.
func fixMobile(props map[string]any) {
	v, ok := props["Mobile"].(string)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return
	}
	props["Mobile"] = strconv.FormatInt(int64(f), 10)
}
