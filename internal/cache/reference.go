package cache

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Reference returns the JSON-decoded contents of path, fetching and
// persisting them on first use. Presence on disk always short-circuits the
// fetch; delete the file to force a refresh.
func Reference[T any](path string, fetch func() (T, error)) (T, error) {
	var zero T

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return zero, eris.Wrapf(err, "cache: decode reference %s", path)
		}
		zap.L().Debug("cache: reference hit", zap.String("path", path))
		return v, nil
	case !os.IsNotExist(err):
		return zero, eris.Wrapf(err, "cache: read reference %s", path)
	}

	v, err := fetch()
	if err != nil {
		return zero, err
	}

	data, err = json.Marshal(v)
	if err != nil {
		return zero, eris.Wrapf(err, "cache: encode reference %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return zero, eris.Wrapf(err, "cache: write reference %s", path)
	}
	return v, nil
}
