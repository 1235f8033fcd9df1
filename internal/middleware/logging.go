// Package middleware provides Echo middleware for logging, security,
// and metrics.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that writes one slog record
// per request. bytes_out counts what was actually written, so a
// truncated stream shows up in the access log with the bytes that made
// it out before the break. Server-side failures are raised to warning
// so relay problems stand out from routine traffic.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if res.Status >= http.StatusInternalServerError {
				logger.Warn("request", attrs...)
			} else {
				logger.Info("request", attrs...)
			}

			return err
		}
	}
}
