package mppolice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/india-geodata/harvest-cli/internal/harvest"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const sampleKML = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
  <Document>
    <name>Bhopal Police</name>
    <Folder>
      <name>Stations</name>
      <Placemark>
        <name>PS Kamla Nagar</name>
        <styleUrl>#icon-1899-0288D1</styleUrl>
        <ExtendedData>
          <Data name="Mobile"><value>9.4251e+09</value></Data>
          <Data name="SHO"><value>R K Sharma</value></Data>
        </ExtendedData>
        <Point><coordinates>77.4126,23.2599,0</coordinates></Point>
      </Placemark>
      <Placemark>
        <name>PS TT Nagar</name>
        <styleUrl>#icon-1899-DB4436</styleUrl>
        <description><![CDATA[SHO: <b>A Verma</b>]]></description>
        <Point><coordinates>
          77.4030,23.2300,0
        </coordinates></Point>
      </Placemark>
      <Placemark>
        <name>Patrol Route</name>
        <LineString><coordinates>77.1,23.1,0 77.2,23.2,0</coordinates></LineString>
      </Placemark>
    </Folder>
  </Document>
</kml>`

func TestDecodeStations(t *testing.T) {
	stations, err := decodeStations([]byte(sampleKML))
	require.NoError(t, err)
	require.Len(t, stations, 3)

	kamla := stations[0]
	assert.Equal(t, "PS Kamla Nagar", kamla.name)
	assert.Equal(t, "#icon-1899-0288D1", kamla.styleURL)
	assert.True(t, kamla.hasPoint)
	assert.InDelta(t, 77.4126, kamla.lon, 1e-9)
	assert.InDelta(t, 23.2599, kamla.lat, 1e-9)
	assert.Equal(t, map[string]string{"Mobile": "9.4251e+09", "SHO": "R K Sharma"}, kamla.data)

	tt := stations[1]
	assert.Equal(t, "PS TT Nagar", tt.name)
	assert.True(t, tt.hasPoint)
	assert.InDelta(t, 23.23, tt.lat, 1e-9)

	route := stations[2]
	assert.Equal(t, "Patrol Route", route.name)
	assert.False(t, route.hasPoint)
}

func TestDecodeStations_LegacyCharset(t *testing.T) {
	kml := []byte(`<?xml version="1.0" encoding="windows-1252"?>` + "\n" +
		`<kml><Document><Placemark><name>Caf` + "\xe9" + ` Chowki</name>` +
		`<Point><coordinates>77.1,23.1,0</coordinates></Point></Placemark></Document></kml>`)

	stations, err := decodeStations(kml)
	require.NoError(t, err)
	require.Len(t, stations, 1)
	assert.Equal(t, "Café Chowki", stations[0].name)
}

func TestDecodeStations_Malformed(t *testing.T) {
	_, err := decodeStations([]byte(`<kml><Document><Placemark><name>truncated`))
	require.Error(t, err)
	assert.True(t, harvest.IsDataShape(err))
}

func TestParsePointCoordinates(t *testing.T) {
	tests := []struct {
		raw      string
		lon, lat float64
		ok       bool
	}{
		{"77.4126,23.2599,0", 77.4126, 23.2599, true},
		{"77.4126,23.2599", 77.4126, 23.2599, true},
		{" 77.41 , 23.25 ", 77.41, 23.25, true},
		{"", 0, 0, false},
		{"77.4126", 0, 0, false},
		{"abc,def", 0, 0, false},
		{"NaN,23.25", 0, 0, false},
	}
	for _, tt := range tests {
		lon, lat, ok := parsePointCoordinates(tt.raw)
		assert.Equal(t, tt.ok, ok, "raw=%q", tt.raw)
		if tt.ok {
			assert.InDelta(t, tt.lon, lon, 1e-9, "raw=%q", tt.raw)
			assert.InDelta(t, tt.lat, lat, 1e-9, "raw=%q", tt.raw)
		}
	}
}

func TestFixMobile(t *testing.T) {
	props := map[string]any{"Mobile": "9.4251e+09"}
	fixMobile(props)
	assert.Equal(t, "9425100000", props["Mobile"])

	props = map[string]any{"Mobile": "9425100000"}
	fixMobile(props)
	assert.Equal(t, "9425100000", props["Mobile"])

	// Non-numeric values pass through untouched.
	props = map[string]any{"Mobile": "100 / 112"}
	fixMobile(props)
	assert.Equal(t, "100 / 112", props["Mobile"])
}
