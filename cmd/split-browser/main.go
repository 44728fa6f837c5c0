package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"split-browser-go/internal/client"
	"split-browser-go/internal/config"
	"split-browser-go/internal/handler"
	"split-browser-go/internal/metrics"
	"split-browser-go/internal/middleware"
	"split-browser-go/internal/policy"
	"split-browser-go/internal/service"
	"split-browser-go/internal/target"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("split-browser"),
		kong.Description("Iframe relay that lets third-party pages load side by side."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			policy.Default,
			newResolver,
			client.NewUpstreamClient,
			func(c *client.UpstreamClient) service.Fetcher { return c },
			service.NewRelayService,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
			newEcho,
		),
		fx.Invoke(registerRoutes, registerMetrics, warnConfigPermissions, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newResolver(cfg *config.Config, logger *slog.Logger) *target.Resolver {
	r := target.NewResolver(cfg.Relay.AllowedHosts)
	if r.OpenRelay() {
		logger.Warn("relay.allowed_hosts is empty: any host may be proxied")
	}
	return r
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 30 * time.Second
	// Relayed bodies stream for as long as the upstream keeps sending; the
	// relay bounds each upstream wait by relay.timeout_ms instead.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.Relay.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
	}))
	e.Use(middleware.SecurityHeaders(middleware.SecurityConfig{
		Skipper: middleware.SkipPaths(target.Endpoint),
	}))

	if rl := cfg.Server.RateLimit; rl.Enabled {
		e.Use(middleware.RateLimiter(rl.RequestsPerSecond, func(path string) bool {
			return path == target.Endpoint
		}))
		logger.Info("rate limiter enabled", "rps", rl.RequestsPerSecond)
	}

	return e
}

func registerRoutes(e *echo.Echo, proxy *handler.ProxyHandler, health *handler.HealthHandler, cfg *config.Config) {
	handler.RegisterRoutes(e, proxy, health, cfg.Server.StaticDir)
}

func registerMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
		Registry: m.Registry,
	})))
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"version", version,
				"config", cfg.FilePath(),
				"timeout_ms", cfg.Relay.TimeoutMS,
				"max_redirects", cfg.Relay.RedirectLimit(),
				"example", "http://"+addr+target.Link("https://example.com", 0),
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
