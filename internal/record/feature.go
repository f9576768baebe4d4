// Package record defines the canonical geospatial record: a GeoJSON Feature
// with a WGS84 point geometry, exchanged between sources, the cache, and the
// exporter as single NDJSON lines.
package record

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// NewPoint builds a canonical point feature. Coordinates must be finite and
// within longitude/latitude range or an error is returned; a record is never
// emitted with placeholder coordinates.
func NewPoint(lon, lat float64, props map[string]any) (*geojson.Feature, error) {
	if err := checkCoords(lon, lat); err != nil {
		return nil, err
	}
	if props == nil {
		props = map[string]any{}
	}
	return &geojson.Feature{
		Geometry:   geom.NewPointFlat(geom.XY, []float64{lon, lat}),
		Properties: props,
	}, nil
}

// Validate checks that a decoded feature carries a usable point geometry.
func Validate(f *geojson.Feature) error {
	if f == nil || f.Geometry == nil {
		return eris.New("record: missing geometry")
	}
	pt, ok := f.Geometry.(*geom.Point)
	if !ok {
		return eris.Errorf("record: geometry is %T, want point", f.Geometry)
	}
	return checkCoords(pt.X(), pt.Y())
}

// Coordinates returns the lon/lat of a validated point feature.
func Coordinates(f *geojson.Feature) (lon, lat float64) {
	pt := f.Geometry.(*geom.Point)
	return pt.X(), pt.Y()
}

// ParseCoordinate coerces a textual coordinate to a float. Sources deliver
// values with stray backslash escapes ("77\.59") and in scientific notation;
// both parse here. Non-finite results are rejected.
func ParseCoordinate(s string) (float64, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), `\`, "")
	if cleaned == "" {
		return 0, eris.New("record: empty coordinate")
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "record: parse coordinate %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, eris.Errorf("record: non-finite coordinate %q", s)
	}
	return v, nil
}

func checkCoords(lon, lat float64) error {
	if math.IsNaN(lon) || math.IsInf(lon, 0) || math.IsNaN(lat) || math.IsInf(lat, 0) {
		return eris.Errorf("record: non-finite coordinates (%v, %v)", lon, lat)
	}
	if lon < -180 || lon > 180 {
		return eris.Errorf("record: longitude %v out of range", lon)
	}
	if lat < -90 || lat > 90 {
		return eris.Errorf("record: latitude %v out of range", lat)
	}
	return nil
}
