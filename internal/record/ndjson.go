package record

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// EncodeLine marshals a feature as one compact JSON line (no trailing newline).
func EncodeLine(f *geojson.Feature) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, eris.Wrap(err, "record: encode feature")
	}
	return data, nil
}

// DecodeLine parses one NDJSON line into a feature.
func DecodeLine(line []byte) (*geojson.Feature, error) {
	var f geojson.Feature
	if err := json.Unmarshal(line, &f); err != nil {
		return nil, eris.Wrap(err, "record: decode feature line")
	}
	return &f, nil
}
