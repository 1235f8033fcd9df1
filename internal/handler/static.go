package handler

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
)

// StaticHandler serves the SPA bundle.
type StaticHandler struct {
	logger *slog.Logger
}

// NewStaticHandler creates a StaticHandler.
func NewStaticHandler(logger *slog.Logger) *StaticHandler {
	return &StaticHandler{logger: logger.With("component", "static_handler")}
}

// ServeFile serves an existing file from the static root unmodified.
func (h *StaticHandler) ServeFile(c echo.Context, file string) error {
	return c.File(file)
}

// ServeFallback serves the default document with a 200 status so the
// client-side router can interpret the original path. An unreadable
// default document means the bundle itself is broken, which is a server
// error rather than a routing miss.
func (h *StaticHandler) ServeFallback(c echo.Context, index string) error {
	if _, err := os.Stat(index); err != nil {
		h.logger.Error("default document unavailable",
			"file", index,
			"err", err,
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "static content unavailable")
	}
	return c.File(index)
}
