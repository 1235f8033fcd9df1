// Package model defines shared types for the relay.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// RouteKind identifies how a request path is handled.
type RouteKind int

const (
	// RouteProxy forwards the request to the upstream API with the
	// matched path prefix preserved.
	RouteProxy RouteKind = iota
	// RouteStatic serves an existing file from the static root.
	RouteStatic
	// RouteFallback serves the default document so a client-side router
	// can interpret the original path.
	RouteFallback
)

// RouteDecision is the outcome of matching a request path against the
// route-rule table. Exactly one decision exists for any path.
type RouteDecision struct {
	Kind RouteKind

	// Path is the upstream request path for RouteProxy.
	Path string

	// File is the file to serve for RouteStatic and RouteFallback.
	File string
}

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	Ctx        context.Context
	Method     string
	Path       string
	Query      url.Values
	Header     http.Header
	Body       io.ReadCloser
	RemoteAddr string
	Host       string
	Secure     bool
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
