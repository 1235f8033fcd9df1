// Package handler provides the Echo handlers for the relay's routes.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/YasasBanuka/docura-relay/internal/config"
	"github.com/YasasBanuka/docura-relay/internal/metrics"
	"github.com/YasasBanuka/docura-relay/internal/model"
	"github.com/YasasBanuka/docura-relay/internal/relay"
)

// RelayHandler is the catch-all edge handler: it classifies each
// request and either proxies it to the upstream API or serves the SPA
// bundle.
type RelayHandler struct {
	store     *config.Store
	router    *relay.Router
	forwarder *relay.Forwarder
	static    *StaticHandler
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(store *config.Store, router *relay.Router, forwarder *relay.Forwarder, static *StaticHandler, m *metrics.Metrics, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		store:     store,
		router:    router,
		forwarder: forwarder,
		static:    static,
		metrics:   m,
		logger:    logger.With("component", "relay_handler"),
	}
}

// Handle routes the request using the configuration snapshot captured
// here; the snapshot stays fixed for the whole request even if a reload
// swaps the active configuration mid-flight.
func (h *RelayHandler) Handle(c echo.Context) error {
	cfg := h.store.Snapshot()
	req := c.Request()

	decision := h.router.Route(cfg, req.URL.Path)
	switch decision.Kind {
	case model.RouteProxy:
		return h.proxy(c, cfg, decision)
	case model.RouteStatic:
		return h.static.ServeFile(c, decision.File)
	default:
		return h.static.ServeFallback(c, decision.File)
	}
}

func (h *RelayHandler) proxy(c echo.Context, cfg *config.Config, decision model.RouteDecision) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:        req.Context(),
		Method:     req.Method,
		Path:       decision.Path,
		Query:      req.URL.Query(),
		Header:     req.Header,
		Body:       req.Body,
		RemoteAddr: req.RemoteAddr,
		Host:       req.Host,
		Secure:     req.TLS != nil,
	}

	resp, err := h.forwarder.Forward(cfg, pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Once the status line is out a mid-stream failure can only be
	// logged; the client sees a truncated body with the original
	// status. Client disconnects land here too and are expected.
	flush := cfg.Upstream.AlwaysFlush || isEventStream(resp.Header)
	if err := relayBody(c.Response(), resp.Body, flush, h.metrics); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

// isEventStream reports whether the upstream declared a streaming media type.
func isEventStream(h http.Header) bool {
	mt, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	return err == nil && mt == "text/event-stream"
}

func (h *RelayHandler) mapError(c echo.Context, err error) error {
	// A client that disconnects before upstream headers arrive is normal
	// cancellation, not an upstream failure; keep it out of the error log.
	if errors.Is(err, context.Canceled) && c.Request().Context().Err() != nil {
		h.logger.Debug("client disconnected before upstream response",
			"path", c.Request().URL.Path,
		)
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	h.logger.Error("relay error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			// Headers never arrived within ResponseHeaderTimeout.
			return c.JSON(http.StatusGatewayTimeout, map[string]string{
				"error": "upstream request timed out",
			})
		}
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}
