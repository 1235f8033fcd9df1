// Package config handles TOML configuration loading, validation, and
// hot reload.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/docura-relay/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config     string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host       string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port       int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	StaticRoot string `kong:"help='Static asset root (overrides config).',env='STATIC_ROOT'"`
	LogLevel   string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration. A loaded Config is
// immutable; a reload produces a fresh instance that replaces the active
// snapshot atomically (see Store).
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Static   StaticConfig   `toml:"static"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings. Listener-level settings
// (host, ports, TLS file paths) take effect at startup only.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
	TLS          TLSConfig       `toml:"tls"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// TLSConfig describes the optional TLS listener. Certificate material is
// provisioned externally and mounted read-only; rotated files are picked
// up without a restart.
type TLSConfig struct {
	Port     int    `toml:"port"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

// Enabled reports whether the TLS listener should be started.
func (t *TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// UpstreamConfig holds upstream connection and routing settings. Host is
// a symbolic service name resolved by DNS at dial time. IdleConnections
// sizes the shared connection pool and takes effect at startup only;
// every other field is read from the per-request snapshot and
// hot-reloads.
type UpstreamConfig struct {
	Scheme                       string   `toml:"scheme"`
	Host                         string   `toml:"host"`
	Port                         int      `toml:"port"`
	Prefixes                     []string `toml:"prefixes"`
	ResponseHeaderTimeoutSeconds int      `toml:"response_header_timeout_seconds"`
	StreamIdleTimeoutSeconds     int      `toml:"stream_idle_timeout_seconds"`
	IdleConnections              int      `toml:"idle_connections"`
	AlwaysFlush                  bool     `toml:"always_flush"`
}

// Addr returns the upstream address as host:port.
func (u *UpstreamConfig) Addr() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(u.Port))
}

// ResponseHeaderTimeout bounds the wait for upstream response headers.
func (u *UpstreamConfig) ResponseHeaderTimeout() time.Duration {
	return time.Duration(u.ResponseHeaderTimeoutSeconds) * time.Second
}

// StreamIdleTimeout bounds the gap between bytes of a streaming body.
// Zero disables the watchdog.
func (u *UpstreamConfig) StreamIdleTimeout() time.Duration {
	return time.Duration(u.StreamIdleTimeoutSeconds) * time.Second
}

// StaticConfig locates the SPA bundle on disk.
type StaticConfig struct {
	Root  string `toml:"root"`
	Index string `toml:"index"`
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

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/docura-relay/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}
	return loadFile(path, cli)
}

// loadFile runs the full pipeline for one resolved path: read, parse,
// CLI overrides, validation, defaults. Reloads reuse it so a changed
// file passes the same checks as the startup load.
func loadFile(path string, cli *CLI) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	if cli != nil {
		cfg.applyCLI(cli)
	}

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
	if cli.StaticRoot != "" {
		c.Static.Root = cli.StaticRoot
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if c.Upstream.Host == "" {
		return fmt.Errorf("upstream.host is required")
	}
	switch c.Upstream.Scheme {
	case "", "http", "https":
		// valid
	default:
		return fmt.Errorf("upstream.scheme must be http or https; got %q", c.Upstream.Scheme)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.TLS.Port < 0 || c.Server.TLS.Port > 65535 {
		return fmt.Errorf("server.tls.port must be 0–65535; got %d", c.Server.TLS.Port)
	}
	if c.Upstream.Port < 0 || c.Upstream.Port > 65535 {
		return fmt.Errorf("upstream.port must be 0–65535; got %d", c.Upstream.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.ResponseHeaderTimeoutSeconds < 0 {
		return fmt.Errorf("upstream.response_header_timeout_seconds must be non-negative; got %d", c.Upstream.ResponseHeaderTimeoutSeconds)
	}
	if c.Upstream.StreamIdleTimeoutSeconds < 0 {
		return fmt.Errorf("upstream.stream_idle_timeout_seconds must be non-negative; got %d", c.Upstream.StreamIdleTimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// TLS material comes in pairs.
	if (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls.cert_file and server.tls.key_file must be set together")
	}

	// Route prefixes.
	for _, prefix := range c.Upstream.Prefixes {
		if !strings.HasPrefix(prefix, "/") {
			return fmt.Errorf("upstream.prefixes entries must start with '/'; got %q", prefix)
		}
		if prefix == "/" {
			return fmt.Errorf("upstream.prefixes must not contain %q; the root path belongs to the static fallback", "/")
		}
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
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
		reserved := append([]string{"/healthz", "/relay/status"}, c.Upstream.Prefixes...)
		for _, r := range reserved {
			if p == r || strings.HasPrefix(p, r+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, r)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8080).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Server.TLS.Port == 0 {
		c.Server.TLS.Port = 8443
	}
	if c.Upstream.Scheme == "" {
		c.Upstream.Scheme = "http"
	}
	if c.Upstream.Port == 0 {
		c.Upstream.Port = 8080
	}
	if len(c.Upstream.Prefixes) == 0 {
		c.Upstream.Prefixes = []string{"/api"}
	}
	if c.Upstream.ResponseHeaderTimeoutSeconds == 0 {
		c.Upstream.ResponseHeaderTimeoutSeconds = 30
	}
	if c.Upstream.StreamIdleTimeoutSeconds == 0 {
		c.Upstream.StreamIdleTimeoutSeconds = 300
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Static.Root == "" {
		c.Static.Root = "public"
	}
	if c.Static.Index == "" {
		c.Static.Index = "index.html"
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

// TLSAddr returns the TLS listen address as host:port.
func (c *ServerConfig) TLSAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.TLS.Port)
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
