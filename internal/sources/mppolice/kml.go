package mppolice

import (
	"bytes"
	"encoding/xml"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/india-geodata/harvest-cli/internal/harvest"
)

// station is one Placemark lifted out of a district map's KML document.
// hasPoint is false for placemarks whose geometry is absent or not a point;
// those still get cached so the export pass counts the rejection.
type station struct {
	name     string
	styleURL string
	lon, lat float64
	hasPoint bool
	data     map[string]string
}

// placemark mirrors the KML subset Google My Maps emits. description is
// deliberately not captured; it duplicates the ExtendedData pairs as HTML.
type placemark struct {
	Name         string `xml:"name"`
	StyleURL     string `xml:"styleUrl"`
	ExtendedData struct {
		Data []struct {
			Name  string `xml:"name,attr"`
			Value string `xml:"value"`
		} `xml:"Data"`
	} `xml:"ExtendedData"`
	Point struct {
		Coordinates string `xml:"coordinates"`
	} `xml:"Point"`
}

// decodeStations parses the Placemarks of a KML document. The decoder is
// charset-aware because map exports occasionally declare legacy encodings.
func decodeStations(kml []byte) ([]station, error) {
	decoder := xml.NewDecoder(bytes.NewReader(kml))
	decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "mppolice: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	var out []station
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, harvest.NewDataShapeError(eris.Wrap(err, "mppolice: parse kml"))
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Placemark" {
			continue
		}

		var pm placemark
		if err := decoder.DecodeElement(&pm, &start); err != nil {
			return nil, harvest.NewDataShapeError(eris.Wrap(err, "mppolice: decode placemark"))
		}
		out = append(out, pm.station())
	}
	return out, nil
}

func (p *placemark) station() station {
	st := station{
		name:     strings.TrimSpace(p.Name),
		styleURL: strings.TrimSpace(p.StyleURL),
		data:     make(map[string]string, len(p.ExtendedData.Data)),
	}
	for _, d := range p.ExtendedData.Data {
		st.data[d.Name] = strings.TrimSpace(d.Value)
	}
	if lon, lat, ok := parsePointCoordinates(p.Point.Coordinates); ok {
		st.lon, st.lat, st.hasPoint = lon, lat, true
	}
	return st
}

// parsePointCoordinates splits a KML "lon,lat[,alt]" tuple.
func parsePointCoordinates(raw string) (lon, lat float64, ok bool) {
	parts := strings.Split(strings.TrimSpace(raw), ",")
	if len(parts) < 2 {
		return 0, 0, false
	}
	lon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errLon != nil || errLat != nil {
		return 0, 0, false
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) || math.IsNaN(lat) || math.IsInf(lat, 0) {
		return 0, 0, false
	}
	return lon, lat, true
}
