package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"zonegate/pkg/config"
	"zonegate/pkg/ratelimit"
)

func TestRateLimitMiddleware(t *testing.T) {
	f := newTestServer(t, func(cfg *Config) {
		cfg.RateLimiter = ratelimit.NewManager(&config.RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 1,
			Burst:             1,
			MaxTrackedClients: 10,
		}, getTestLogger())
	})

	req := httptest.NewRequest("GET", "/api/roots", nil)
	req.RemoteAddr = "192.0.2.50:4000"
	rec := httptest.NewRecorder()
	f.server.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	f.server.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", rec.Code)
	}

	// Health probes bypass the limiter
	health := httptest.NewRequest("GET", "/healthz", nil)
	health.RemoteAddr = "192.0.2.50:4000"
	rec = httptest.NewRecorder()
	f.server.handler.ServeHTTP(rec, health)
	if rec.Code != http.StatusOK {
		t.Errorf("health probe status = %d, want 200", rec.Code)
	}

	// A different client has its own bucket
	other := httptest.NewRequest("GET", "/api/roots", nil)
	other.RemoteAddr = "192.0.2.51:4000"
	rec = httptest.NewRecorder()
	f.server.handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", rec.Code)
	}
}
