package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"proxycore/logger"
	"proxycore/proxycore"
	"proxycore/stats"
	"proxycore/transport"
)

func newTestCore() *proxycore.Core {
	return proxycore.New(transport.DefaultRegistry(), "upstream:25565", nil, nil, logger.New(logger.ERROR, nil, "admin-test"), stats.NewStats())
}

func TestHealthReportsIdleState(t *testing.T) {
	core := newTestCore()
	srv := New(core)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["state"] != "IDLE" {
		t.Fatalf("expected IDLE state, got %q", body["state"])
	}
}

func TestStatsReflectsForwardedPackets(t *testing.T) {
	core := newTestCore()
	core.Stats.RecordForwarded("CLIENT_TO_SERVER", "chat")
	srv := New(core)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.ForwardedByType["CLIENT_TO_SERVER:chat"] != 1 {
		t.Fatalf("expected one forwarded chat packet, got %+v", body.ForwardedByType)
	}
}

func TestCommandsReportsDefaultPrefix(t *testing.T) {
	core := newTestCore()
	srv := New(core)

	req := httptest.NewRequest(http.MethodGet, "/commands", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["prefix"] != "/p:" {
		t.Fatalf("expected default prefix /p:, got %v", body["prefix"])
	}
}

func TestModulesReportsEmptyListWhenUnset(t *testing.T) {
	core := newTestCore()
	srv := New(core)

	req := httptest.NewRequest(http.MethodGet, "/modules", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var body []moduleInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body) != 0 {
		t.Fatalf("expected empty modules list, got %v", body)
	}
}
