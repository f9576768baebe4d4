// Package cache persists per-key harvest progress as append-only NDJSON
// entries with sidecar completion markers, and one-shot JSON reference
// lookups whose presence on disk short-circuits a re-fetch.
package cache

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	entryExt  = ".ndjson"
	markerExt = ".done"
)

var keySanitizer = regexp.MustCompile(`[^a-z0-9]+`)

// SanitizeKey converts a work key into a filesystem-safe base name:
// lowercased, runs of non-alphanumerics collapsed to single underscores.
func SanitizeKey(key string) string {
	return strings.Trim(keySanitizer.ReplaceAllString(strings.ToLower(key), "_"), "_")
}

// Marker is the sidecar completion record for one work key.
type Marker struct {
	Key        string    `json:"key"`
	Records    int       `json:"records"`
	FinishedAt time.Time `json:"finished_at"`
}

// Entry describes one cache entry discovered on disk.
type Entry struct {
	File     string // base filename of the NDJSON entry
	Key      string // original work key, from the marker (empty when incomplete)
	Complete bool
	Records  int
}

// Store manages the cache directory for one source.
type Store struct {
	dir string
}

// NewStore creates (if needed) and opens the cache directory for a source.
func NewStore(root, source string) (*Store, error) {
	dir := filepath.Join(root, source)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "cache: create dir %s", dir)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) entryPath(key string) string {
	return filepath.Join(s.dir, SanitizeKey(key)+entryExt)
}

func (s *Store) markerPath(key string) string {
	return filepath.Join(s.dir, SanitizeKey(key)+markerExt)
}

// Count returns the number of records already cached for key. A missing
// entry counts as zero; blank lines are ignored.
func (s *Store) Count(key string) (int, error) {
	f, err := os.Open(s.entryPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, eris.Wrapf(err, "cache: open entry for %q", key)
	}
	defer f.Close()

	n := 0
	if err := readLines(f, func(line []byte) error {
		n++
		return nil
	}); err != nil {
		return 0, eris.Wrapf(err, "cache: count entry for %q", key)
	}
	return n, nil
}

// Append durably adds records to key's entry, one compact JSON line each.
// Records are compacted so an upstream pretty-printed payload cannot break
// the one-line-per-record framing.
func (s *Store) Append(key string, recs []json.RawMessage) error {
	if len(recs) == 0 {
		return nil
	}

	f, err := os.OpenFile(s.entryPath(key), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return eris.Wrapf(err, "cache: open entry for %q", key)
	}

	var buf bytes.Buffer
	for _, rec := range recs {
		buf.Reset()
		if err := json.Compact(&buf, rec); err != nil {
			f.Close()
			return eris.Wrapf(err, "cache: compact record for %q", key)
		}
		buf.WriteByte('\n')
		if _, err := f.Write(buf.Bytes()); err != nil {
			f.Close()
			return eris.Wrapf(err, "cache: append to %q", key)
		}
	}

	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "cache: close entry for %q", key)
	}
	return nil
}

// Completed reports whether key's completion marker exists.
func (s *Store) Completed(key string) (bool, error) {
	if _, err := os.Stat(s.markerPath(key)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, eris.Wrapf(err, "cache: stat marker for %q", key)
	}
	return true, nil
}

// MarkComplete records that key's fetch loop terminated normally.
func (s *Store) MarkComplete(key string, records int) error {
	m := Marker{Key: key, Records: records, FinishedAt: time.Now().UTC()}
	data, err := json.Marshal(m)
	if err != nil {
		return eris.Wrapf(err, "cache: encode marker for %q", key)
	}
	if err := os.WriteFile(s.markerPath(key), data, 0o644); err != nil {
		return eris.Wrapf(err, "cache: write marker for %q", key)
	}
	zap.L().Debug("cache: key complete", zap.String("key", key), zap.Int("records", records))
	return nil
}

// Reset removes key's entry and marker so the next run refetches it.
func (s *Store) Reset(key string) error {
	for _, p := range []string{s.entryPath(key), s.markerPath(key)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return eris.Wrapf(err, "cache: remove %s", p)
		}
	}
	return nil
}

// Entries lists cache entries in lexicographic filename order, attaching
// marker data where present.
func (s *Store) Entries() ([]Entry, error) {
	names, err := filepath.Glob(filepath.Join(s.dir, "*"+entryExt))
	if err != nil {
		return nil, eris.Wrap(err, "cache: list entries")
	}
	sort.Strings(names)

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		e := Entry{File: filepath.Base(name)}

		markerFile := strings.TrimSuffix(name, entryExt) + markerExt
		data, err := os.ReadFile(markerFile)
		switch {
		case err == nil:
			var m Marker
			if err := json.Unmarshal(data, &m); err != nil {
				return nil, eris.Wrapf(err, "cache: decode marker %s", markerFile)
			}
			e.Key = m.Key
			e.Complete = true
			e.Records = m.Records
		case !os.IsNotExist(err):
			return nil, eris.Wrapf(err, "cache: read marker %s", markerFile)
		}

		entries = append(entries, e)
	}
	return entries, nil
}

// ReadLines streams the non-blank lines of an entry by its base filename.
func (s *Store) ReadLines(file string, fn func(line []byte) error) error {
	f, err := os.Open(filepath.Join(s.dir, file))
	if err != nil {
		return eris.Wrapf(err, "cache: open entry %s", file)
	}
	defer f.Close()

	if err := readLines(f, fn); err != nil {
		return eris.Wrapf(err, "cache: read entry %s", file)
	}
	return nil
}

// readLines calls fn for every non-blank line. bufio.Reader instead of
// bufio.Scanner: cached records can exceed the scanner's token size cap.
func readLines(r io.Reader, fn func(line []byte) error) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			if err2 := fn(trimmed); err2 != nil {
				return err2
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
