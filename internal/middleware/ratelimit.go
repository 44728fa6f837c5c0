package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RateLimiter limits each caller IP to rps requests per second with a burst
// of one second's worth of requests. Only paths accepted by match are limited.
func RateLimiter(rps float64, match func(path string) bool) echo.MiddlewareFunc {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:  rate.Limit(rps),
		Burst: burst,
	})

	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return match != nil && !match(c.Request().URL.Path)
		},
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return c.String(http.StatusTooManyRequests, "Too many requests")
		},
	})
}
