package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/YasasBanuka/docura-relay/internal/config"
)

func testClientConfig() *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			ResponseHeaderTimeoutSeconds: 10,
			IdleConnections:              10,
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_DoStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	cfg := testClientConfig()
	c := NewClient(cfg, discardLogger(), nil)

	resp, err := c.DoStream(context.Background(), cfg, http.MethodGet, srv.URL+"/test", http.Header{}, nil)
	if err != nil {
		t.Fatalf("DoStream() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", string(body), `{"status":"ok"}`)
	}
}

func TestClient_DoStream_Error(t *testing.T) {
	cfg := testClientConfig()
	c := NewClient(cfg, discardLogger(), nil)

	_, err := c.DoStream(context.Background(), cfg, http.MethodGet, "http://127.0.0.1:1/nonexistent", http.Header{}, nil)
	if err == nil {
		t.Fatal("DoStream() expected error for unreachable host, got nil")
	}
}

func TestClient_DoStream_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Stall until the relay gives up; the request should be canceled
		// long before this unblocks.
		<-r.Context().Done()
	}))
	defer srv.Close()

	cfg := testClientConfig()
	c := NewClient(cfg, discardLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	_, err := c.DoStream(ctx, cfg, http.MethodGet, srv.URL+"/slow", http.Header{}, nil)
	if err == nil {
		t.Fatal("DoStream() expected error for canceled context, got nil")
	}
}

func TestClient_DoStream_ResponseHeaderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Never send headers.
		<-r.Context().Done()
	}))
	defer srv.Close()

	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			ResponseHeaderTimeoutSeconds: 1,
			IdleConnections:              10,
		},
	}
	c := NewClient(cfg, discardLogger(), nil)

	start := time.Now()
	_, err := c.DoStream(context.Background(), cfg, http.MethodGet, srv.URL+"/never", http.Header{}, nil)
	if err == nil {
		t.Fatal("DoStream() expected timeout error, got nil")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want DeadlineExceeded for missing headers", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %v, want ~1s", elapsed)
	}
}

func TestClient_DoStream_HeaderTimeoutFollowsSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Never send headers.
		<-r.Context().Done()
	}))
	defer srv.Close()

	// The client is built with a generous startup timeout; a later
	// snapshot tightens it. The tightened value must govern the request.
	startupCfg := &config.Config{
		Upstream: config.UpstreamConfig{
			ResponseHeaderTimeoutSeconds: 600,
			IdleConnections:              10,
		},
	}
	c := NewClient(startupCfg, discardLogger(), nil)

	reloadedCfg := &config.Config{
		Upstream: config.UpstreamConfig{
			ResponseHeaderTimeoutSeconds: 1,
			IdleConnections:              10,
		},
	}

	start := time.Now()
	_, err := c.DoStream(context.Background(), reloadedCfg, http.MethodGet, srv.URL+"/never", http.Header{}, nil)
	if err == nil {
		t.Fatal("DoStream() expected timeout error, got nil")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %v, want the snapshot's ~1s, not the startup value", elapsed)
	}
}

func TestClient_DoStream_IdleStreamTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Error("upstream: ResponseWriter is not a Flusher")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "data: one\n\n")
		flusher.Flush()
		// Stall mid-stream; the idle watchdog must cancel the request.
		<-r.Context().Done()
	}))
	defer srv.Close()

	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			ResponseHeaderTimeoutSeconds: 10,
			StreamIdleTimeoutSeconds:     1,
			IdleConnections:              10,
		},
	}
	c := NewClient(cfg, discardLogger(), nil)

	resp, err := c.DoStream(context.Background(), cfg, http.MethodGet, srv.URL+"/stream", http.Header{}, nil)
	if err != nil {
		t.Fatalf("DoStream() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// First chunk arrives normally.
	buf := make([]byte, 64)
	n, err := resp.Body.Read(buf)
	if err != nil || n == 0 {
		t.Fatalf("first Read() = %d, %v; want first chunk", n, err)
	}

	// The stream then stalls; the watchdog should fail the next read in
	// about one second.
	start := time.Now()
	for err == nil {
		_, err = resp.Body.Read(buf)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("stalled read failed after %v, want ~1s", elapsed)
	}
}

func TestClient_DoStream_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	cfg := testClientConfig()
	c := NewClient(cfg, discardLogger(), nil)

	resp, err := c.DoStream(context.Background(), cfg, http.MethodGet, srv.URL+"/moved", http.Header{}, nil)
	if err != nil {
		t.Fatalf("DoStream() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Redirects pass through to the client instead of being followed.
	if resp.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusFound)
	}
}
