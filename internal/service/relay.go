// Package service implements the core relay: fetch, redirect remapping and
// header filtering, arbitrated by the per-request completion guard.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"split-browser-go/internal/config"
	"split-browser-go/internal/metrics"
	"split-browser-go/internal/model"
	"split-browser-go/internal/policy"
	"split-browser-go/internal/relay"
	"split-browser-go/internal/target"
)

var (
	// ErrTimeout is returned when the upstream missed the header deadline.
	ErrTimeout = errors.New("upstream did not respond in time")

	// ErrTooManyRedirects is returned when a redirect chain exceeds relay.max_redirects.
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrCompleted is returned when another path already completed the request;
	// the caller must not write anything.
	ErrCompleted = errors.New("request already completed")
)

// ConnectionError reports an unreachable, refused, reset or TLS-failed upstream.
type ConnectionError struct {
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Fetcher performs the upstream GET for a resolved target.
type Fetcher interface {
	Fetch(ctx context.Context, t *target.Target) (*model.UpstreamResponse, error)
}

// RelayService turns a ProxyRequest into exactly one terminal result.
type RelayService struct {
	fetcher      Fetcher
	policy       *policy.HeaderPolicy
	metrics      *metrics.Metrics
	logger       *slog.Logger
	timeout      time.Duration
	maxRedirects int
}

// NewRelayService creates a RelayService.
// The metrics parameter is optional; pass nil to disable outcome metrics.
func NewRelayService(f Fetcher, pol *policy.HeaderPolicy, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *RelayService {
	return &RelayService{
		fetcher:      f,
		policy:       pol,
		metrics:      m,
		logger:       logger.With("component", "relay_service"),
		timeout:      cfg.Relay.Timeout(),
		maxRedirects: cfg.Relay.RedirectLimit(),
	}
}

// Forward fetches pr.Target and returns either a remapped redirect or a
// filtered response whose body the caller must stream and close.
//
// The fetch races a header deadline; both sides claim pr.Guard, and only the
// winner's result is returned. A timeout win surfaces as ErrTimeout. Once
// headers are in, the same timeout bounds each wait for body bytes.
func (s *RelayService) Forward(pr *model.ProxyRequest) (*model.RelayResult, error) {
	g := pr.Guard
	ctx, wd := relay.Watch(pr.Ctx, s.timeout, g)

	s.logger.Debug("fetching target",
		"target", pr.Target.String(),
		"transport", pr.Target.Transport.String(),
		"hops", pr.Hops,
	)

	resp, err := s.fetcher.Fetch(ctx, pr.Target)
	wd.Stop()
	if err != nil {
		wd.Release()
		if !g.Claim(relay.Failed) {
			return nil, s.lost(g)
		}
		s.record(relay.Failed)
		return nil, &ConnectionError{Target: pr.Target.String(), Err: unwrapClient(err)}
	}

	if isRedirect(resp.StatusCode) {
		if loc := resp.Header.Get("Location"); loc != "" {
			next, rerr := resolveRedirect(pr.Target, loc)
			if rerr == nil {
				_ = resp.Body.Close()
				wd.Release()
				return s.redirect(g, pr, next)
			}
			s.logger.Warn("unresolvable redirect location, relaying response as-is",
				"target", pr.Target.String(),
				"location", loc,
				"err", rerr,
			)
		}
	}

	if !g.Claim(relay.Relayed) {
		_ = resp.Body.Close()
		wd.Release()
		return nil, s.lost(g)
	}
	s.record(relay.Relayed)

	header, dropped := s.policy.Filter(resp.Header)
	if s.metrics != nil {
		for c, n := range dropped {
			s.metrics.HeadersStripped.WithLabelValues(c.String()).Add(float64(n))
		}
	}

	return &model.RelayResult{
		Response: &model.UpstreamResponse{
			StatusCode: resp.StatusCode,
			Header:     header,
			Body:       wd.Body(resp.Body, s.timeout),
		},
	}, nil
}

func (s *RelayService) redirect(g *relay.Guard, pr *model.ProxyRequest, next string) (*model.RelayResult, error) {
	hops := pr.Hops + 1
	if s.maxRedirects > 0 && hops > s.maxRedirects {
		if !g.Claim(relay.Failed) {
			return nil, s.lost(g)
		}
		s.record(relay.Failed)
		return nil, fmt.Errorf("%w: %d redirects, last to %s", ErrTooManyRedirects, hops, next)
	}
	if !g.Claim(relay.Redirected) {
		return nil, s.lost(g)
	}
	s.record(relay.Redirected)

	if s.maxRedirects == 0 {
		hops = 0 // unbounded chains carry no counter
	}
	return &model.RelayResult{Redirect: target.Link(next, hops)}, nil
}

// lost maps the outcome that beat the caller to the error the handler renders.
func (s *RelayService) lost(g *relay.Guard) error {
	if g.Outcome() == relay.TimedOut {
		s.record(relay.TimedOut)
		return ErrTimeout
	}
	return ErrCompleted
}

func (s *RelayService) record(o relay.Outcome) {
	if s.metrics != nil {
		s.metrics.RelayOutcomes.WithLabelValues(o.String()).Inc()
	}
}

// unwrapClient strips the client's own wrapping so the page shows the transport error.
func unwrapClient(err error) error {
	if inner := errors.Unwrap(err); inner != nil {
		return inner
	}
	return err
}
