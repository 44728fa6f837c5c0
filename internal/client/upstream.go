// Package client provides the upstream HTTP client that fetches target pages.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"split-browser-go/internal/config"
	"split-browser-go/internal/metrics"
	"split-browser-go/internal/model"
	"split-browser-go/internal/target"
)

// Browser header set attached to every upstream request. Many sites serve
// degraded pages to clients that do not look like a browser.
const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	browserAccept    = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"
	browserLanguage  = "en-US,en;q=0.5"
)

// UpstreamClient sends GET requests to target URLs.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	userAgent  string
}

// NewUpstreamClient creates an UpstreamClient.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
//
// The client never follows redirects (the relay remaps them for the caller)
// and has no overall timeout: the header deadline is enforced per request by
// the caller, and body streaming must not be cut off by it.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
		// One upstream connection per inbound request.
		DisableKeepAlives: true,
		// Leave Accept-Encoding unset so bodies arrive and leave unmodified.
		DisableCompression: true,
	}

	ua := cfg.Relay.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:    logger.With("component", "upstream_client"),
		metrics:   m,
		userAgent: ua,
	}
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body.
func (c *UpstreamClient) Do(req *http.Request) (*model.UpstreamResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	transport := req.URL.Scheme
	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	duration := time.Since(start).Seconds()

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(transport).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(transport).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(transport, status).Inc()
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// Fetch issues a GET for t with the browser header set. It returns once the
// upstream response headers have arrived; the body is streamed by the caller.
// Canceling ctx aborts the request and closes its connection.
func (c *UpstreamClient) Fetch(ctx context.Context, t *target.Target) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", browserAccept)
	req.Header.Set("Accept-Language", browserLanguage)

	return c.Do(req)
}
