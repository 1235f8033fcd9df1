package relay

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/YasasBanuka/docura-relay/internal/config"
	"github.com/YasasBanuka/docura-relay/internal/model"
	"github.com/YasasBanuka/docura-relay/internal/upstream"
)

// hopByHopHeaders must not cross the proxy in either direction
// (RFC 9110 section 7.6.1). Upgrade is on the list deliberately: the
// relay does not honor protocol upgrades and must not let the upstream
// enter one.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder sends classified API requests to the upstream service.
type Forwarder struct {
	client *upstream.Client
	logger *slog.Logger
}

// NewForwarder creates a Forwarder.
func NewForwarder(client *upstream.Client, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		client: client,
		logger: logger.With("component", "forwarder"),
	}
}

// Forward sends pr to the upstream described by cfg and returns the
// response. The caller is responsible for closing the response body.
// No retries: an unreachable upstream surfaces immediately; retry and
// backoff belong to the client or to the upstream's supervisor.
func (f *Forwarder) Forward(cfg *config.Config, pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target := buildUpstreamURL(cfg, pr.Path, pr.Query)
	header := forwardHeaders(pr)

	f.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
		"upstream", cfg.Upstream.Addr(),
	)

	resp, err := f.client.DoStream(pr.Ctx, cfg, pr.Method, target, header, pr.Body)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	resp.Header = stripHopByHop(resp.Header)
	return resp, nil
}

// buildUpstreamURL keeps the original request path intact: the upstream
// owns the same route namespace as the public edge (prefix-preserving
// proxy, not prefix-stripping).
func buildUpstreamURL(cfg *config.Config, reqPath string, query url.Values) string {
	u := url.URL{
		Scheme:   cfg.Upstream.Scheme,
		Host:     cfg.Upstream.Addr(),
		Path:     reqPath,
		RawQuery: query.Encode(),
	}
	return u.String()
}

// forwardHeaders builds the upstream header set: hop-by-hop headers
// removed, forwarding headers describing the original client added.
func forwardHeaders(pr *model.ProxyRequest) http.Header {
	dst := make(http.Header, len(pr.Header))
	for key, vals := range pr.Header {
		dst[http.CanonicalHeaderKey(key)] = append([]string(nil), vals...)
	}
	for _, h := range hopByHopHeaders {
		dst.Del(h)
	}

	clientIP := pr.RemoteAddr
	if host, _, err := net.SplitHostPort(pr.RemoteAddr); err == nil {
		clientIP = host
	}

	// Append to an existing chain, never replace it, so transitive
	// proxy chains stay intact.
	if prior := dst.Get("X-Forwarded-For"); prior != "" {
		dst.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		dst.Set("X-Forwarded-For", clientIP)
	}
	dst.Set("X-Real-Ip", clientIP)

	proto := "http"
	if pr.Secure {
		proto = "https"
	}
	dst.Set("X-Forwarded-Proto", proto)
	if pr.Host != "" {
		dst.Set("X-Forwarded-Host", pr.Host)
	}

	return dst
}

func stripHopByHop(h http.Header) http.Header {
	for _, k := range hopByHopHeaders {
		h.Del(k)
	}
	return h
}
