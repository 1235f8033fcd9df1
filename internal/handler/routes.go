package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/YasasBanuka/docura-relay/internal/config"
	"github.com/YasasBanuka/docura-relay/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. The
// relay's own endpoints are fixed routes; everything else falls through
// to the catch-all route-rule evaluation. The metrics path is
// registered from the startup snapshot; changing it requires a restart.
func RegisterRoutes(e *echo.Echo, rh *RelayHandler, health *HealthHandler, m *metrics.Metrics, store *config.Store) {
	e.GET("/healthz", health.Healthz)
	e.GET("/relay/status", health.Status)

	cfg := store.Snapshot()
	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(
			promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		))
	}

	e.Any("/*", rh.Handle)
}
