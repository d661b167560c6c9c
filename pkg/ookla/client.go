// Package ookla fetches country-level connectivity estimates (median
// download/upload speed) from a self-hosted mirror of the Ookla open-data
// country aggregates. Connectivity is the lowest-priority, estimate-based
// enrichment and is treated as optional throughout.
package ookla

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/equiclimate/enrich-cli/internal/resilience"
)

// Speeds holds the connectivity estimates for a country, in Mbps.
type Speeds struct {
	DownloadMbps float64 `json:"download_mbps"`
	UploadMbps   float64 `json:"upload_mbps"`
}

// Client fetches connectivity estimates.
type Client interface {
	// Speeds returns median fixed-broadband estimates for a country
	// (ISO-3166 alpha-2). Countries missing from the aggregate yield
	// resilience.ErrNoData.
	Speeds(ctx context.Context, countryISO2 string) (*Speeds, error)
}

// Option configures the client.
type Option func(*client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.httpClient = hc }
}

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(c *client) { c.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// WithRetry overrides the per-call retry configuration.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *client) { c.retry = cfg }
}

type client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
}

// NewClient creates a connectivity client. baseURL points at the aggregate
// mirror and is required; there is no public default endpoint.
func NewClient(baseURL string, opts ...Option) Client {
	c := &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(5, 1),
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) Speeds(ctx context.Context, countryISO2 string) (*Speeds, error) {
	if c.baseURL == "" {
		return nil, eris.Wrap(resilience.ErrNoData, "ookla: mirror endpoint not configured")
	}

	retry := c.retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("ookla", "speeds")
	}
	return resilience.DoVal(ctx, retry, func(ctx context.Context) (*Speeds, error) {
		return c.fetchSpeeds(ctx, countryISO2)
	})
}

func (c *client) fetchSpeeds(ctx context.Context, countryISO2 string) (*Speeds, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "ookla: rate limit")
	}

	reqURL := c.baseURL + "/countries/" + url.PathEscape(strings.ToUpper(countryISO2)) + ".json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "ookla: build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "ookla: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return nil, resilience.ErrNoData
	}
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(eris.Errorf("ookla: status %d", resp.StatusCode), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("ookla: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "ookla: read body"), 0)
	}

	var s Speeds
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, eris.Wrap(err, "ookla: unmarshal response")
	}
	if s.DownloadMbps <= 0 && s.UploadMbps <= 0 {
		return nil, resilience.ErrNoData
	}
	return &s, nil
}
