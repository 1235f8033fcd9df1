// Package upstream provides the HTTP client used to reach the API service.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/YasasBanuka/docura-relay/internal/config"
	"github.com/YasasBanuka/docura-relay/internal/metrics"
	"github.com/YasasBanuka/docura-relay/internal/model"
)

// Client sends requests to the upstream API service over persistent
// HTTP/1.1 connections.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewClient creates a Client with connection pooling tuned for a
// streaming relay. There is deliberately no overall request timeout:
// response bodies may stream indefinitely. Header arrival and stalled
// bodies are bounded per request in DoStream, from the configuration
// snapshot active at that moment, so a reload takes effect without
// rebuilding the pool. idle_connections sizes the shared pool here at
// startup only. Pooled connections expire via IdleConnTimeout, so the
// upstream name is re-resolved after a redeployment instead of pinning
// a stale address.
//
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		// The transport must not insert a decompression layer between
		// upstream chunks and the client.
		DisableCompression: true,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			// Redirects pass through to the client untouched.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// DoStream executes a request and returns the response body as a stream.
// The caller is responsible for closing the returned body; closing it
// releases the underlying request. Cancellation of ctx (client
// disconnect) cancels the upstream request. If the configured stream
// idle timeout elapses with no bytes from the upstream, the request is
// canceled and the next Read fails.
func (c *Client) DoStream(ctx context.Context, cfg *config.Config, method, url string, header http.Header, body io.Reader) (*model.ProxyResponse, error) {
	reqCtx, cancel := context.WithCancelCause(ctx)
	release := func() { cancel(nil) }

	req, err := http.NewRequestWithContext(reqCtx, method, url, body)
	if err != nil {
		release()
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	c.logger.Debug("upstream request",
		"method", method,
		"path", req.URL.Path,
	)

	// Header arrival is bounded here, from the per-request snapshot,
	// rather than on the shared transport; a reloaded timeout applies to
	// the next request without rebuilding the connection pool.
	var headerTimer *time.Timer
	if d := cfg.Upstream.ResponseHeaderTimeout(); d > 0 {
		headerTimer = time.AfterFunc(d, func() {
			cancel(context.DeadlineExceeded)
		})
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	if headerTimer != nil {
		headerTimer.Stop()
	}
	duration := time.Since(start).Seconds()

	labelMethod := metrics.NormalizeMethod(method)

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(labelMethod).Observe(duration)
	}
	if err != nil {
		release()
		if errors.Is(context.Cause(reqCtx), context.DeadlineExceeded) {
			return nil, fmt.Errorf("upstream response headers: %w", context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(labelMethod, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       watchBody(resp.Body, cfg.Upstream.StreamIdleTimeout(), release),
	}, nil
}

// watchBody wraps rc so the request is canceled when the body is idle
// longer than timeout, and always canceled on Close.
func watchBody(rc io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) io.ReadCloser {
	if timeout <= 0 {
		return &cancelBody{rc: rc, cancel: cancel}
	}
	return &idleBody{
		rc:      rc,
		timeout: timeout,
		timer:   time.AfterFunc(timeout, cancel),
		cancel:  cancel,
	}
}

// cancelBody releases the request context when the body is closed.
type cancelBody struct {
	rc     io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Read(p []byte) (int, error) { return b.rc.Read(p) }

func (b *cancelBody) Close() error {
	b.cancel()
	return b.rc.Close()
}

// idleBody cancels the upstream request when no bytes arrive for the
// configured duration. A fired watchdog surfaces as a context
// cancellation error on the next Read.
type idleBody struct {
	rc      io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	cancel  context.CancelFunc
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.timer.Reset(b.timeout)
	}
	return n, err
}

func (b *idleBody) Close() error {
	b.timer.Stop()
	b.cancel()
	return b.rc.Close()
}
