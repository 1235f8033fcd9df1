package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/matthewpi/certwatcher"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"github.com/YasasBanuka/docura-relay/internal/config"
	"github.com/YasasBanuka/docura-relay/internal/handler"
	"github.com/YasasBanuka/docura-relay/internal/metrics"
	"github.com/YasasBanuka/docura-relay/internal/middleware"
	"github.com/YasasBanuka/docura-relay/internal/relay"
	"github.com/YasasBanuka/docura-relay/internal/upstream"
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
		kong.Name("docura-relay"),
		kong.Description("Edge relay: API reverse proxy with SSE streaming and SPA fallback."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			config.NewStore,
			newLogger,
			newEcho,
			metrics.New,
			upstream.NewClient,
			relay.NewRouter,
			relay.NewForwarder,
			handler.NewStaticHandler,
			handler.NewRelayHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startConfigWatcher, startServer),
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

func newEcho(cfg *config.Config, store *config.Store, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout is disabled (0): event-stream responses stay open
	// indefinitely and must not be cut off mid-stream. Stalled upstreams
	// are bounded by the stream idle watchdog instead.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.MetricsMiddleware(m, store))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		rlStore := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(rlStore))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

// startConfigWatcher runs the hot-reload watcher for the lifetime of
// the application. Reload results feed the config_reloads metric; a
// failed reload keeps the previous snapshot serving.
func startConfigWatcher(lc fx.Lifecycle, store *config.Store, m *metrics.Metrics, logger *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				defer close(done)
				err := store.Watch(ctx, func(rerr error) {
					result := "success"
					if rerr != nil {
						result = "error"
					}
					m.ConfigReloads.WithLabelValues(result).Inc()
				})
				if err != nil {
					logger.Error("config watcher stopped", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			<-done
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()

			if cfg.Server.TLS.Enabled() {
				// Certificate material is provisioned externally;
				// certwatcher picks up rotated files without a restart.
				watcher := &certwatcher.TLSConfig{
					CertPath: cfg.Server.TLS.CertFile,
					KeyPath:  cfg.Server.TLS.KeyFile,
					Config: &tls.Config{
						MinVersion: tls.VersionTLS12,
					},
				}
				tlsConf, err := watcher.GetTLSConfig(context.Background())
				if err != nil {
					return fmt.Errorf("load tls material: %w", err)
				}

				tlsAddr := cfg.Server.TLSAddr()
				tlsLn, err := net.Listen("tcp", tlsAddr)
				if err != nil {
					return fmt.Errorf("bind %s: %w", tlsAddr, err)
				}
				logger.Info("starting tls server", "addr", tlsAddr)
				go func() {
					if err := e.Server.Serve(tls.NewListener(tlsLn, tlsConf)); err != nil && err != http.ErrServerClosed {
						logger.Error("tls server error", "err", err)
					}
				}()
			}

			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
