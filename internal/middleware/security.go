package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// SecurityConfig configures SecurityHeaders.
type SecurityConfig struct {
	// Skipper selects requests whose responses are left untouched.
	// The relay endpoint must be skipped: its headers come from upstream.
	Skipper echomw.Skipper
}

// SecurityHeaders adds hardening headers to the relay's own responses.
// Requests pass through untouched; the upstream fetch is built from the
// target URL alone. It never sets X-Frame-Options, since the relay's pages
// are meant to be framed.
func SecurityHeaders(cfg SecurityConfig) echo.MiddlewareFunc {
	if cfg.Skipper == nil {
		cfg.Skipper = echomw.DefaultSkipper
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !cfg.Skipper(c) {
				res := c.Response()
				res.Before(func() {
					res.Header().Set("X-Content-Type-Options", "nosniff")
					res.Header().Set("Referrer-Policy", "same-origin")
				})
			}

			return next(c)
		}
	}
}

// SkipPaths returns a Skipper matching requests for any of the given paths.
func SkipPaths(paths ...string) echomw.Skipper {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return func(c echo.Context) bool {
		_, ok := set[c.Request().URL.Path]
		return ok
	}
}
