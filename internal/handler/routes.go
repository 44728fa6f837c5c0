package handler

import (
	"github.com/labstack/echo/v4"

	"split-browser-go/internal/target"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// A non-empty staticDir is served at / for the split-pane front end.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler, staticDir string) {
	e.GET("/healthz", health.Healthz)
	e.GET("/relay/status", health.Status)

	e.GET(target.Endpoint, proxy.Handle)

	if staticDir != "" {
		e.Static("/", staticDir)
	}
}
