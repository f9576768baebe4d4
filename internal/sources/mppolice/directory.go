// Package mppolice harvests police station locations from the Madhya
// Pradesh Police portal. Each district site embeds a Google My Maps export;
// the KMZ behind that embed carries the station placemarks.
package mppolice

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/india-geodata/harvest-cli/internal/cache"
	"github.com/india-geodata/harvest-cli/internal/fetcher"
	"github.com/india-geodata/harvest-cli/internal/harvest"
)

// loadDirectory returns district name to site URL from the portal's
// district dropdown, persisted to station_urls.json.
func loadDirectory(ctx context.Context, fetch fetcher.Fetcher, baseURL, refDir string) (map[string]string, error) {
	return cache.Reference(filepath.Join(refDir, "station_urls.json"), func() (map[string]string, error) {
		page, err := fetch.DownloadBytes(ctx, baseURL)
		if err != nil {
			return nil, mapFetchErr(err)
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
		if err != nil {
			return nil, harvest.NewDataShapeError(eris.Wrap(err, "mppolice: parse portal page"))
		}

		sel := doc.Find("select#ctl00_CPH_ddlDistrict")
		if sel.Length() == 0 {
			sel = doc.Find("select[name=District]")
		}
		if sel.Length() == 0 {
			return nil, harvest.NewDataShapeError(eris.New("mppolice: district dropdown not found"))
		}

		urls := make(map[string]string)
		sel.Find("option").Each(func(_ int, opt *goquery.Selection) {
			value := strings.TrimSpace(opt.AttrOr("value", ""))
			name := strings.TrimSpace(opt.Text())
			if value == "" || name == "--Select--" {
				return
			}
			urls[name] = value
		})
		if len(urls) == 0 {
			return nil, harvest.NewDataShapeError(eris.New("mppolice: district dropdown is empty"))
		}
		return urls, nil
	})
}

// mapFetchErr classifies shared-fetcher failures for the collector: a bad
// HTTP status keeps its payload, everything else is a transport fault.
func mapFetchErr(err error) error {
	var se *fetcher.StatusError
	if errors.As(err, &se) {
		return harvest.NewProtocolError(err, http.StatusText(se.StatusCode), se.StatusCode, se.Body)
	}
	return harvest.NewTransportError(err)
}
