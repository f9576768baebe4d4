package fetcher

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// maxEntryBytes bounds how much a single archive entry may inflate to.
const maxEntryBytes = 64 << 20

// ExtractFileBytes returns the named entry from an in-memory zip
// archive.
func ExtractFileBytes(archive []byte, name string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: open archive")
	}
	for _, f := range zr.File {
		if f.Name == name {
			return readEntry(f)
		}
	}
	return nil, eris.Errorf("fetcher: entry %q not found in archive", name)
}

// ExtractSingleBytes returns the sole entry with the given extension
// from an in-memory zip archive. It fails when none or several match.
func ExtractSingleBytes(archive []byte, ext string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: open archive")
	}
	var match *zip.File
	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), strings.ToLower(ext)) {
			continue
		}
		if match != nil {
			return nil, eris.Errorf("fetcher: multiple %s entries in archive", ext)
		}
		match = f
	}
	if match == nil {
		return nil, eris.Errorf("fetcher: no %s entry in archive", ext)
	}
	return readEntry(match)
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open entry %q", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes+1))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read entry %q", f.Name)
	}
	if len(data) > maxEntryBytes {
		return nil, eris.Errorf("fetcher: entry %q exceeds %d bytes", f.Name, maxEntryBytes)
	}
	return data, nil
}
