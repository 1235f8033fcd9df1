package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/YasasBanuka/docura-relay/internal/config"
)

func newHealthHandler(t *testing.T) *HealthHandler {
	t.Helper()
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{Host: "backend", Port: 8080},
		Static:   config.StaticConfig{Root: "/srv/web"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := config.NewStore(nil, cfg, logger)
	return NewHealthHandler(store, Version("1.2.3"))
}

func TestHealthz(t *testing.T) {
	h := newHealthHandler(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	if err := h.Healthz(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Healthz() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want %q", body["status"], "ok")
	}
}

func TestStatus(t *testing.T) {
	h := newHealthHandler(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/relay/status", nil)
	rec := httptest.NewRecorder()

	if err := h.Status(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["version"] != "1.2.3" {
		t.Errorf("version = %q, want %q", body["version"], "1.2.3")
	}
	if body["upstream"] != "backend:8080" {
		t.Errorf("upstream = %q, want %q", body["upstream"], "backend:8080")
	}
	if body["static_root"] != "/srv/web" {
		t.Errorf("static_root = %q, want %q", body["static_root"], "/srv/web")
	}
}
