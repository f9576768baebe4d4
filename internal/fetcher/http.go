package fetcher

import (
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxErrorBody bounds how much of an error response is retained for
// diagnostics.
const maxErrorBody = 64 << 10

// DefaultRateLimiters returns conservative per-host limits for the
// portals this tool talks to. None of them publish a rate policy, so
// these stay well below anything that has triggered blocks in practice.
func DefaultRateLimiters() map[string]*rate.Limiter {
	return map[string]*rate.Limiter{
		"data.rbi.org.in":                 rate.NewLimiter(rate.Limit(2), 2),
		"www.mppolice.gov.in":             rate.NewLimiter(rate.Limit(1), 2),
		"www.google.com":                  rate.NewLimiter(rate.Limit(4), 4),
		"corswebmap.surveyofindia.gov.in": rate.NewLimiter(rate.Limit(1), 1),
	}
}

// DefaultAdaptiveLimiters returns adaptive limiters for the same hosts,
// used when a portal starts answering 429s mid-run.
func DefaultAdaptiveLimiters() map[string]*AdaptiveLimiter {
	return map[string]*AdaptiveLimiter{
		"data.rbi.org.in":                 NewAdaptiveLimiter(2, 2),
		"www.mppolice.gov.in":             NewAdaptiveLimiter(1, 2),
		"www.google.com":                  NewAdaptiveLimiter(4, 4),
		"corswebmap.surveyofindia.gov.in": NewAdaptiveLimiter(1, 1),
	}
}

// AdaptiveLimiter wraps a token bucket whose rate responds to server
// feedback. Sustained success nudges the rate up, a 429 halves it.
type AdaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	initial rate.Limit
}

func NewAdaptiveLimiter(rps float64, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		initial: rate.Limit(rps),
	}
}

func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	a.mu.Lock()
	l := a.limiter
	a.mu.Unlock()
	return l.Wait(ctx)
}

// OnSuccess raises the rate by 20%, capped at twice the initial rate.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.limiter.Limit() * 1.2
	if ceil := a.initial * 2; next > ceil {
		next = ceil
	}
	a.limiter.SetLimit(next)
}

// OnRateLimit halves the rate, floored at a quarter of the initial rate.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.limiter.Limit() / 2
	if floor := a.initial / 4; next < floor {
		next = floor
	}
	a.limiter.SetLimit(next)
	zap.L().Warn("fetcher: rate limited, slowing down",
		zap.Float64("new_rps", float64(next)))
}

// Limit reports the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.limiter.Limit()
}

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent        string
	Timeout          time.Duration
	MaxRetries       int
	RateLimiters     map[string]*rate.Limiter
	AdaptiveLimiters map[string]*AdaptiveLimiter
}

// HTTPFetcher downloads over HTTP with per-host rate limiting and
// retry with exponential backoff.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	limiters map[string]*rate.Limiter
	adaptive map[string]*AdaptiveLimiter
	log      *zap.Logger
}

func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: opts.Timeout},
		opts:     opts,
		limiters: opts.RateLimiters,
		adaptive: opts.AdaptiveLimiters,
		log:      zap.L().With(zap.String("component", "fetcher")),
	}
}

// Download fetches the URL and returns the response body. A non-200
// answer becomes a StatusError carrying a bounded copy of the payload.
func (f *HTTPFetcher) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: build request for %s", url)
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}

	resp, err := f.doWithRetry(req)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: download %s", url)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close() //nolint:errcheck
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: url, Body: body}
	}
	return resp.Body, nil
}

// DownloadBytes fetches the URL and reads the whole body into memory.
func (f *HTTPFetcher) DownloadBytes(ctx context.Context, url string) ([]byte, error) {
	rc, err := f.Download(ctx, url)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read body from %s", url)
	}
	return data, nil
}

// doWithRetry runs the request, retrying transport errors, 429s, and
// 5xx answers with exponential backoff. Other statuses go back to the
// caller as-is.
func (f *HTTPFetcher) doWithRetry(req *http.Request) (*http.Response, error) {
	host := req.URL.Host
	var lastErr error

	for attempt := 0; attempt <= f.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			d := backoff(attempt)
			f.log.Debug("fetcher: retrying",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", d))
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(d):
			}
		}

		if al, ok := f.adaptive[host]; ok {
			if err := al.Wait(req.Context()); err != nil {
				return nil, err
			}
		} else if l, ok := f.limiters[host]; ok {
			if err := l.Wait(req.Context()); err != nil {
				return nil, err
			}
		}

		resp, err := f.client.Do(req.Clone(req.Context()))
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			if al, ok := f.adaptive[host]; ok {
				al.OnRateLimit()
			}
			drainAndClose(resp.Body)
			lastErr = eris.Errorf("fetcher: %s answered 429", host)
			continue
		}
		if resp.StatusCode >= 500 {
			drainAndClose(resp.Body)
			lastErr = eris.Errorf("fetcher: %s answered %d", host, resp.StatusCode)
			continue
		}

		if al, ok := f.adaptive[host]; ok {
			al.OnSuccess()
		}
		return resp, nil
	}
	return nil, eris.Wrapf(lastErr, "fetcher: giving up after %d attempts", f.opts.MaxRetries+1)
}

// backoff returns 1s, 2s, 4s... capped at 30s, with up to 50% jitter.
func backoff(attempt int) time.Duration {
	d := time.Second * time.Duration(1<<(attempt-1))
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d + time.Duration(rand.Int64N(int64(d/2)))
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxErrorBody))
	body.Close() //nolint:errcheck
}
