package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a fresh temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 9000
body_max_bytes = 5242880

[relay]
timeout_ms = 5000
max_redirects = 5
allowed_hosts = ["example.com", "wikipedia.org"]
allowed_origins = ["http://localhost:3000"]
user_agent = "Mozilla/5.0 (X11; Linux x86_64)"

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Relay.Timeout() != 5*time.Second {
		t.Errorf("Relay.Timeout() = %v, want %v", cfg.Relay.Timeout(), 5*time.Second)
	}
	if cfg.Relay.RedirectLimit() != 5 {
		t.Errorf("Relay.RedirectLimit() = %d, want %d", cfg.Relay.RedirectLimit(), 5)
	}
	if len(cfg.Relay.AllowedHosts) != 2 || cfg.Relay.OpenRelay() {
		t.Errorf("Relay.AllowedHosts = %v, want 2 entries and closed relay", cfg.Relay.AllowedHosts)
	}
	if got := cfg.Relay.AllowedOrigins; len(got) != 1 || got[0] != "http://localhost:3000" {
		t.Errorf("Relay.AllowedOrigins = %v", got)
	}
	if cfg.Relay.UserAgent != "Mozilla/5.0 (X11; Linux x86_64)" {
		t.Errorf("Relay.UserAgent = %q", cfg.Relay.UserAgent)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
	if cfg.FilePath() != path {
		t.Errorf("FilePath() = %q, want %q", cfg.FilePath(), path)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "# empty\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 3000)
	}
	if cfg.Server.BodyMaxBytes != 1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 1024*1024)
	}
	if cfg.Relay.Timeout() != 15*time.Second {
		t.Errorf("default Relay.Timeout() = %v, want %v", cfg.Relay.Timeout(), 15*time.Second)
	}
	if cfg.Relay.RedirectLimit() != 20 {
		t.Errorf("default Relay.RedirectLimit() = %d, want %d", cfg.Relay.RedirectLimit(), 20)
	}
	if !cfg.Relay.OpenRelay() {
		t.Error("default relay should be open (no allowed_hosts)")
	}
	if got := cfg.Relay.AllowedOrigins; len(got) != 1 || got[0] != "*" {
		t.Errorf("default Relay.AllowedOrigins = %v, want [*]", got)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	orig := configSearchPaths
	configSearchPaths = []string{"/nonexistent/a.toml"}
	t.Cleanup(func() { configSearchPaths = orig })

	cfg, err := Load(&CLI{})
	if err != nil {
		t.Fatalf("Load() error = %v; missing search-path config should fall back to defaults", err)
	}
	if cfg.FilePath() != "" {
		t.Errorf("FilePath() = %q, want empty", cfg.FilePath())
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 3000)
	}
}

func TestLoad_ExplicitZeroMaxRedirects(t *testing.T) {
	path := writeConfig(t, `
[relay]
max_redirects = 0
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Relay.RedirectLimit() != 0 {
		t.Errorf("RedirectLimit() = %d, want 0 (explicitly unbounded)", cfg.Relay.RedirectLimit())
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
[log]
level = "verbose"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for invalid log level, got nil")
	}
}

func TestLoad_InvalidLogFormat(t *testing.T) {
	path := writeConfig(t, `
[log]
format = "xml"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for invalid log format, got nil")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := writeConfig(t, "[server\nport = ")

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for malformed TOML, got nil")
	}
	if !strings.Contains(err.Error(), "parse") {
		t.Errorf("error = %q, want mention of parse", err)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[relay]
max_redirects = 10

[log]
level = "info"
`)
	staticDir := t.TempDir()
	zero := 0

	cli := &CLI{
		Config:       path,
		Host:         "127.0.0.1",
		Port:         3001,
		LogLevel:     "debug",
		StaticDir:    staticDir,
		MaxRedirects: &zero,
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3001 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3001)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
	if cfg.Server.StaticDir != staticDir {
		t.Errorf("Server.StaticDir = %q, want %q (CLI override)", cfg.Server.StaticDir, staticDir)
	}
	if cfg.Relay.RedirectLimit() != 0 {
		t.Errorf("RedirectLimit() = %d, want 0 (CLI override)", cfg.Relay.RedirectLimit())
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"negative port", "[server]\nport = -1\n", "server.port"},
		{"port too large", "[server]\nport = 70000\n", "server.port"},
		{"negative body_max_bytes", "[server]\nbody_max_bytes = -1\n", "body_max_bytes"},
		{"negative timeout", "[relay]\ntimeout_ms = -5\n", "timeout_ms"},
		{"negative max_redirects", "[relay]\nmax_redirects = -1\n", "max_redirects"},
		{"allowed host with scheme", "[relay]\nallowed_hosts = [\"https://example.com\"]\n", "allowed_hosts"},
		{"empty allowed host", "[relay]\nallowed_hosts = [\"\"]\n", "allowed_hosts"},
		{"static dir missing", "[server]\nstatic_dir = \"/nonexistent/web\"\n", "static_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.data)
			_, err := Load(cliWithPath(path))
			if err == nil {
				t.Fatalf("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_StaticDirNotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "index.html")
	if err := os.WriteFile(file, []byte("<html></html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, "[server]\nstatic_dir = \""+filepath.ToSlash(file)+"\"\n")

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for static_dir pointing at a file, got nil")
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 50.0
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 50.0", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestLoad_RateLimitConfig_BadValue(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 0
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for rate limit enabled with requests_per_second=0, got nil")
	}
	if !strings.Contains(err.Error(), "requests_per_second") {
		t.Errorf("error = %q, want mention of requests_per_second", err)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "# test")

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestWarnPermissions_NoFile(t *testing.T) {
	cfg := &Config{}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning without a config file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths_Found(t *testing.T) {
	path := writeConfig(t, "[relay]\ntimeout_ms = 1000\n")

	got := findConfigInPaths([]string{path})
	if got != path {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path)
	}
}

func TestFindConfigInPaths_NotFound(t *testing.T) {
	got := findConfigInPaths([]string{"/nonexistent/a.toml", "/nonexistent/b.toml"})
	if got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	path1 := writeConfig(t, "")
	path2 := writeConfig(t, "")

	got := findConfigInPaths([]string{path1, path2})
	if got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
}

func TestLoad_MetricsPathDefault(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = true
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_MetricsPathNoLeadingSlash(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = true
path = "metrics"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for metrics.path without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "metrics.path") {
		t.Errorf("error = %q, want mention of metrics.path", err)
	}
}

func TestLoad_MetricsPathConflictsWithRelayRoute(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"proxy exact", "/proxy"},
		{"proxy sub", "/proxy/metrics"},
		{"healthz", "/healthz"},
		{"relay/status", "/relay/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeConfig(t, `
[metrics]
enabled = true
path = "`+tt.path+`"
`)

			_, err := Load(cliWithPath(cfgPath))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q conflicting with route, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = false
path = "bad-no-slash"
`)

	_, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}

func TestRelayConfig_RedirectLimitNil(t *testing.T) {
	rc := &RelayConfig{}
	if got := rc.RedirectLimit(); got != 0 {
		t.Errorf("RedirectLimit() = %d, want 0", got)
	}
}
