package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"split-browser-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// relayStatus is the body of GET /relay/status.
type relayStatus struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	TimeoutMS    int    `json:"timeout_ms"`
	MaxRedirects int    `json:"max_redirects"`
	OpenRelay    bool   `json:"open_relay"`
}

// Status reports the effective relay settings.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, relayStatus{
		Status:       "ok",
		Version:      string(h.version),
		TimeoutMS:    h.cfg.Relay.TimeoutMS,
		MaxRedirects: h.cfg.Relay.RedirectLimit(),
		OpenRelay:    h.cfg.Relay.OpenRelay(),
	})
}
