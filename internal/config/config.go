// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/split-browser/config.toml",
	"configs/config.toml",
}

// reservedRoutes are served by the relay itself and cannot host the metrics endpoint.
var reservedRoutes = []string{"/proxy", "/healthz", "/relay/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config       string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host         string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port         int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel     string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	StaticDir    string `kong:"help='Directory served at / alongside the relay (overrides config).',env='STATIC_DIR'"`
	MaxRedirects *int   `kong:"help='Redirect chain bound; 0 disables it (overrides config).',env='MAX_REDIRECTS'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Relay   RelayConfig   `toml:"relay"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (3000)
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	StaticDir    string          `toml:"static_dir"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// RelayConfig holds the settings of the /proxy endpoint.
type RelayConfig struct {
	TimeoutMS int `toml:"timeout_ms"`
	// MaxRedirects bounds client-driven redirect chains. A nil value in the
	// file means "use default"; an explicit 0 disables the bound.
	MaxRedirects   *int     `toml:"max_redirects"`
	AllowedHosts   []string `toml:"allowed_hosts"`
	AllowedOrigins []string `toml:"allowed_origins"`
	UserAgent      string   `toml:"user_agent"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

const (
	defaultPort         = 3000
	defaultTimeoutMS    = 15000
	defaultMaxRedirects = 20
)

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/split-browser/config.toml then configs/config.toml and falls back to
// built-in defaults when neither exists.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.StaticDir != "" {
		c.Server.StaticDir = cli.StaticDir
	}
	if cli.MaxRedirects != nil {
		n := *cli.MaxRedirects
		c.Relay.MaxRedirects = &n
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Server.StaticDir != "" {
		info, err := os.Stat(c.Server.StaticDir)
		if err != nil {
			return fmt.Errorf("server.static_dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("server.static_dir %q is not a directory", c.Server.StaticDir)
		}
	}

	// Relay.
	if c.Relay.TimeoutMS < 0 {
		return fmt.Errorf("relay.timeout_ms must be non-negative; got %d", c.Relay.TimeoutMS)
	}
	if c.Relay.MaxRedirects != nil && *c.Relay.MaxRedirects < 0 {
		return fmt.Errorf("relay.max_redirects must be non-negative; got %d", *c.Relay.MaxRedirects)
	}
	for _, h := range c.Relay.AllowedHosts {
		if h == "" || strings.ContainsAny(h, "/:?#@ ") {
			return fmt.Errorf("relay.allowed_hosts entries must be bare host names; got %q", h)
		}
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, TimeoutMS, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. MaxRedirects is
// a pointer for exactly that reason: 0 is a meaningful setting there.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB
	}
	if c.Relay.TimeoutMS == 0 {
		c.Relay.TimeoutMS = defaultTimeoutMS
	}
	if c.Relay.MaxRedirects == nil {
		n := defaultMaxRedirects
		c.Relay.MaxRedirects = &n
	}
	if len(c.Relay.AllowedOrigins) == 0 {
		c.Relay.AllowedOrigins = []string{"*"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Timeout returns the upstream header deadline.
func (c *RelayConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// RedirectLimit returns the redirect chain bound; 0 means unbounded.
func (c *RelayConfig) RedirectLimit() int {
	if c.MaxRedirects == nil {
		return 0
	}
	return *c.MaxRedirects
}

// OpenRelay reports whether any target host may be proxied.
func (c *RelayConfig) OpenRelay() bool {
	return len(c.AllowedHosts) == 0
}

// FilePath returns the config file the values were loaded from, if any.
func (c *Config) FilePath() string {
	return c.filePath
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
