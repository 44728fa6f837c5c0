package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"golang.org/x/net/http/httpguts"

	"split-browser-go/internal/model"
	"split-browser-go/internal/relay"
	"split-browser-go/internal/service"
	"split-browser-go/internal/target"
)

// streamBufSize is the chunk size used when copying upstream bodies.
const streamBufSize = 32 * 1024

// ProxyHandler serves GET /proxy?url=<target>.
type ProxyHandler struct {
	service  *service.RelayService
	resolver *target.Resolver
	logger   *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.RelayService, resolver *target.Resolver, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service:  svc,
		resolver: resolver,
		logger:   logger.With("component", "proxy_handler"),
	}
}

// Handle resolves the target, relays it and writes exactly one response:
// an error page, a same-origin redirect or the streamed upstream response.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	raw := c.QueryParam(target.ParamURL)
	g := &relay.Guard{}

	tgt, err := h.resolver.Resolve(raw)
	if err != nil {
		g.Claim(relay.Failed)
		return h.mapError(c, raw, err)
	}

	pr := &model.ProxyRequest{
		Ctx:    req.Context(),
		Target: tgt,
		Hops:   target.ParseHops(c.QueryParam(target.ParamHops)),
		Guard:  g,
	}

	res, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, tgt.String(), err)
	}

	if res.Redirect != "" {
		h.logger.Debug("remapped upstream redirect",
			"target", tgt.String(),
			"location", res.Redirect,
		)
		return c.Redirect(http.StatusFound, res.Redirect)
	}

	return h.stream(c, tgt, res.Response)
}

// stream copies the filtered upstream headers and then the body, flushing
// each chunk so the caller sees bytes as they arrive.
func (h *ProxyHandler) stream(c echo.Context, tgt *target.Target, resp *model.UpstreamResponse) error {
	defer func() { _ = resp.Body.Close() }()

	dst := c.Response().Header()
	for key, vals := range resp.Header {
		if !httpguts.ValidHeaderFieldName(key) {
			h.logger.Warn("skipping invalid upstream header", "target", tgt.String(), "header", key)
			continue
		}
		for _, v := range vals {
			if !httpguts.ValidHeaderFieldValue(v) {
				h.logger.Warn("skipping invalid upstream header value", "target", tgt.String(), "header", key)
				continue
			}
			dst.Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Headers are on the wire, so a failure past this point can only
	// truncate the body. It is logged and the connection is left to close.
	rc := http.NewResponseController(c.Response().Writer)
	buf := make([]byte, streamBufSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := c.Response().Write(buf[:n]); werr != nil {
				h.logger.Warn("caller went away mid-stream", "target", tgt.String(), "err", werr)
				return nil
			}
			if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
				h.logger.Warn("flushing response", "target", tgt.String(), "err", ferr)
				return nil
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if errors.Is(rerr, relay.ErrBodyStalled) {
			h.logger.Warn("upstream body stalled, truncating response", "target", tgt.String())
			return nil
		}
		if rerr != nil {
			h.logger.Error("streaming response body", "target", tgt.String(), "err", rerr)
			return nil
		}
	}
}

func (h *ProxyHandler) mapError(c echo.Context, raw string, err error) error {
	if errors.Is(err, service.ErrCompleted) {
		return nil
	}

	if errors.Is(err, target.ErrMissingTarget) {
		h.logger.Debug("rejected request without target")
		return c.String(http.StatusBadRequest, "Missing url parameter")
	}

	h.logger.Error("relay error", "target", raw, "err", err)

	var invalid *target.InvalidError
	if errors.As(err, &invalid) {
		return renderError(c, http.StatusBadRequest, errorView{
			Title:   "Invalid URL",
			Message: invalid.Err.Error(),
		})
	}

	if errors.Is(err, target.ErrForbiddenTarget) {
		return renderError(c, http.StatusForbidden, errorView{
			Title:   "Target not allowed",
			Message: "This relay is not configured to load: " + raw,
		})
	}

	if errors.Is(err, service.ErrTimeout) {
		return renderError(c, http.StatusGatewayTimeout, errorView{
			Title:   "Request timed out",
			Message: "The page took too long to respond: " + raw,
		})
	}

	if errors.Is(err, service.ErrTooManyRedirects) {
		return renderError(c, http.StatusBadGateway, errorView{
			Title:   "Too many redirects",
			Message: "Stopped following redirects from: " + raw,
		})
	}

	var connErr *service.ConnectionError
	if errors.As(err, &connErr) {
		return renderError(c, http.StatusInternalServerError, errorView{
			Title:   "Failed to load page",
			Message: "Could not connect to: " + connErr.Target,
			Detail:  connErr.Err.Error(),
		})
	}

	return renderError(c, http.StatusInternalServerError, errorView{
		Title:   "Failed to load page",
		Message: "Could not load: " + raw,
		Detail:  err.Error(),
	})
}
