// Package fetcher downloads remote artifacts (map exports, archives) with
// retry, per-host rate limiting, and scheme dispatch between HTTP and FTP.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

// Fetcher downloads remote artifacts addressed by URL.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadBytes fetches the URL and returns the whole body in memory.
	DownloadBytes(ctx context.Context, url string) ([]byte, error)
}

// StatusError reports a non-success HTTP status. Body retains up to
// maxErrorBody bytes of the response payload for diagnosis.
type StatusError struct {
	StatusCode int
	URL        string
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Options configures the composite client.
type Options struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
}

// Client routes downloads to the HTTP or FTP fetcher by URL scheme.
type Client struct {
	http *HTTPFetcher
	ftp  *FTPFetcher
}

// New creates a Client with default per-host rate limiters.
func New(opts Options) *Client {
	return &Client{
		http: NewHTTPFetcher(HTTPOptions{
			UserAgent:        opts.UserAgent,
			Timeout:          opts.Timeout,
			MaxRetries:       opts.MaxRetries,
			RateLimiters:     DefaultRateLimiters(),
			AdaptiveLimiters: DefaultAdaptiveLimiters(),
		}),
		ftp: NewFTPFetcher(FTPOptions{Timeout: opts.Timeout}),
	}
}

// Download fetches the URL with the fetcher matching its scheme.
func (c *Client) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %q", rawURL)
	}
	switch u.Scheme {
	case "http", "https":
		return c.http.Download(ctx, rawURL)
	case "ftp":
		return c.ftp.Download(ctx, rawURL)
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme %q in %s", u.Scheme, rawURL)
	}
}

// DownloadBytes fetches the URL and reads the whole body.
func (c *Client) DownloadBytes(ctx context.Context, rawURL string) ([]byte, error) {
	rc, err := c.Download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read body from %s", rawURL)
	}
	return data, nil
}
