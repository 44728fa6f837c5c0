// Package middleware provides Echo middleware for logging, metrics and
// response hardening.
package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Server errors log at error level, client errors at warn, the rest at info.
// Liveness probes log at debug so they do not drown the access log.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			level := slog.LevelInfo
			switch {
			case res.Status >= 500:
				level = slog.LevelError
			case res.Status >= 400:
				level = slog.LevelWarn
			case req.URL.Path == "/healthz":
				level = slog.LevelDebug
			}

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if target := c.QueryParam("url"); target != "" {
				attrs = append(attrs, "target", target)
			}

			logger.Log(context.Background(), level, "request", attrs...)

			return err
		}
	}
}
