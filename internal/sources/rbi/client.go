// Package rbi harvests bank branch locations from the Reserve Bank of
// India's DBIE branch locator. The locator sits behind a session-token
// gateway: a browser session is primed against the portal page, the first
// gateway call answers with a bearer token in its authorization response
// header, and every later call replays that token as a request header.
package rbi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/india-geodata/harvest-cli/internal/config"
	"github.com/india-geodata/harvest-cli/internal/fetcher"
	"github.com/india-geodata/harvest-cli/internal/harvest"
)

const (
	serviceSessionToken     = "security_generateSessionToken"
	serviceStateAndDistrict = "dbie_getStateAndDistrict"
	serviceBankAndGroup     = "dbie_getBankANDBankGrp"
	serviceBranchData       = "dbie_getBankGetData"
)

// envelope is the gateway's response frame. Body stays raw; its shape
// differs per service.
type envelope struct {
	Header struct {
		Status string `json:"status"`
	} `json:"header"`
	Body json.RawMessage `json:"body"`
}

// gatewayClient speaks the DBIE gateway protocol: cookie session, channel
// key header, bearer token replay, and the HTML-wrapped JSON responses the
// gateway produces for some calls.
type gatewayClient struct {
	http        *resty.Client
	baseURL     string
	serviceBase string
	channelKey  string
	limiter     *fetcher.AdaptiveLimiter
	log         *zap.Logger

	mu    sync.Mutex
	token string
}

func newGatewayClient(cfg config.RBIConfig, httpCfg config.HTTPConfig) (*gatewayClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, eris.Wrap(err, "rbi: create cookie jar")
	}

	limiter := fetcher.NewAdaptiveLimiter(2, 2)
	client := resty.New().
		SetCookieJar(jar).
		SetTimeout(time.Duration(httpCfg.TimeoutSecs) * time.Second).
		SetHeader("user-agent", httpCfg.UserAgent).
		SetRetryCount(httpCfg.MaxRetries).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err == nil && (r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500)
		}).
		AddRetryHook(func(r *resty.Response, err error) {
			if r != nil && r.StatusCode() == http.StatusTooManyRequests {
				limiter.OnRateLimit()
			}
		})

	return &gatewayClient{
		http:        client,
		baseURL:     cfg.BaseURL,
		serviceBase: cfg.ServiceBaseURL,
		channelKey:  cfg.ChannelKey,
		limiter:     limiter,
		log:         zap.L().With(zap.String("component", "rbi")),
	}, nil
}

// ensureSession primes the portal cookie session and generates the bearer
// token. Idempotent; failures surface as AuthError because without a token
// no branch data can be fetched at all.
func (c *gatewayClient) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return nil
	}

	resp, err := c.http.R().SetContext(ctx).Get(c.baseURL)
	if err != nil {
		return harvest.NewAuthError(eris.Wrap(err, "rbi: prime portal session"))
	}
	if resp.IsError() {
		return harvest.NewAuthError(eris.Errorf("rbi: portal answered %d", resp.StatusCode()))
	}

	if _, err := c.callLocked(ctx, serviceSessionToken, struct{}{}); err != nil {
		return harvest.NewAuthError(eris.Wrap(err, "rbi: generate session token"))
	}
	if c.token == "" {
		return harvest.NewAuthError(eris.New("rbi: gateway returned no authorization header"))
	}

	c.log.Debug("rbi: session established")
	return nil
}

// call posts one gateway service request and returns the envelope body.
func (c *gatewayClient) call(ctx context.Context, service string, body any) (json.RawMessage, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callLocked(ctx, service, body)
}

func (c *gatewayClient) callLocked(ctx context.Context, service string, body any) (json.RawMessage, error) {
	serviceURL, err := url.JoinPath(c.serviceBase, service)
	if err != nil {
		return nil, eris.Wrapf(err, "rbi: build service url for %s", service)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("datatype", "application/json").
		SetHeader("channelkey", c.channelKey).
		SetBody(map[string]any{"body": body})
	if c.token != "" {
		req.SetHeader("authorization", c.token)
	}

	resp, err := req.Post(serviceURL)
	if err != nil {
		return nil, harvest.NewTransportError(eris.Wrapf(err, "rbi: call %s", service))
	}
	if resp.IsError() {
		return nil, harvest.NewProtocolError(
			eris.Errorf("rbi: %s answered %d", service, resp.StatusCode()),
			resp.Status(), resp.StatusCode(), resp.Body())
	}

	// First successful gateway response carries the bearer token.
	if c.token == "" {
		c.token = resp.Header().Get("authorization")
	}
	c.limiter.OnSuccess()

	env, err := decodeEnvelope(resp.Body())
	if err != nil {
		return nil, eris.Wrapf(err, "rbi: decode %s response", service)
	}
	if env.Header.Status != "success" {
		return nil, harvest.NewProtocolError(
			eris.Errorf("rbi: %s reported status %q", service, env.Header.Status),
			env.Header.Status, resp.StatusCode(), resp.Body())
	}
	return env.Body, nil
}

// decodeEnvelope parses a gateway payload. The gateway intermittently wraps
// the JSON in an HTML document; when direct decoding fails, the document's
// text content is extracted and decoded instead.
func decodeEnvelope(payload []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err == nil {
		return &env, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return nil, harvest.NewDataShapeError(eris.Wrap(err, "rbi: parse wrapped response"))
	}
	text := strings.TrimSpace(doc.Text())
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return nil, harvest.NewDataShapeError(eris.Wrap(err, "rbi: decode wrapped response"))
	}
	return &env, nil
}
