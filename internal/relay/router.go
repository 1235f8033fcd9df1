// Package relay implements route classification and upstream forwarding.
package relay

import (
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/YasasBanuka/docura-relay/internal/config"
	"github.com/YasasBanuka/docura-relay/internal/model"
)

// Router classifies request paths against the ordered route-rule table:
// API prefixes first, then static file existence, then the SPA
// fallback. The ordering is explicit in code rather than implied by
// configuration-file declaration order.
type Router struct {
	logger *slog.Logger
}

// NewRouter creates a Router.
func NewRouter(logger *slog.Logger) *Router {
	return &Router{logger: logger.With("component", "router")}
}

// Route resolves reqPath using the given configuration snapshot and
// returns exactly one decision.
func (r *Router) Route(cfg *config.Config, reqPath string) model.RouteDecision {
	for _, prefix := range cfg.Upstream.Prefixes {
		if matchesPrefix(reqPath, prefix) {
			// Prefix-preserving: the upstream owns the same route
			// namespace as the public edge.
			return model.RouteDecision{Kind: model.RouteProxy, Path: reqPath}
		}
	}

	// Neutralize traversal before touching the filesystem.
	clean := path.Clean("/" + reqPath)
	file := filepath.Join(cfg.Static.Root, filepath.FromSlash(clean))
	if info, err := os.Stat(file); err == nil && info.Mode().IsRegular() {
		return model.RouteDecision{Kind: model.RouteStatic, File: file}
	}

	// File-existence check only: any path with no file behind it
	// belongs to the client-side router, whatever it looks like.
	return model.RouteDecision{
		Kind: model.RouteFallback,
		File: filepath.Join(cfg.Static.Root, cfg.Static.Index),
	}
}

// matchesPrefix reports whether p is prefix itself or a sub-path of it.
// "/apifoo" does not match the "/api" prefix.
func matchesPrefix(p, prefix string) bool {
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}
