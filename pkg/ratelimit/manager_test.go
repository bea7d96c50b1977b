package ratelimit

import (
	"testing"
	"time"

	"zonegate/pkg/config"
	"zonegate/pkg/logging"
)

func getTestLogger() *logging.Logger {
	logger, _ := logging.New(&config.LoggingConfig{
		Level:  "error",
		Format: "text",
		Output: "stdout",
	})
	return logger
}

func TestManagerAllow(t *testing.T) {
	m := NewManager(&config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		Burst:             1,
		CleanupInterval:   5 * time.Second,
		MaxTrackedClients: 10,
	}, getTestLogger())
	defer m.Stop()

	if !m.Allow("192.0.2.10") {
		t.Error("first request should be allowed")
	}
	if m.Allow("192.0.2.10") {
		t.Error("second request should exceed the burst")
	}
	if !m.Allow("192.0.2.11") {
		t.Error("a different client has its own bucket")
	}
}

func TestManagerDisabledIsNil(t *testing.T) {
	m := NewManager(&config.RateLimitConfig{Enabled: false}, getTestLogger())
	if m != nil {
		t.Fatal("disabled config should yield a nil manager")
	}
	if !m.Allow("192.0.2.10") {
		t.Error("nil manager must allow everything")
	}
	m.Stop()
}

func TestManagerEvictsOldestWhenFull(t *testing.T) {
	m := NewManager(&config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 100,
		Burst:             100,
		MaxTrackedClients: 2,
	}, getTestLogger())
	defer m.Stop()

	m.Allow("192.0.2.1")
	m.Allow("192.0.2.2")
	m.Allow("192.0.2.3")

	if got := m.TrackedClients(); got != 2 {
		t.Errorf("TrackedClients() = %d, want 2 after eviction", got)
	}
}

func TestManagerCleanup(t *testing.T) {
	m := NewManager(&config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 100,
		Burst:             100,
		CleanupInterval:   10 * time.Millisecond,
		MaxTrackedClients: 10,
	}, getTestLogger())
	defer m.Stop()

	m.Allow("192.0.2.1")
	time.Sleep(50 * time.Millisecond)

	if got := m.TrackedClients(); got != 0 {
		t.Errorf("TrackedClients() = %d, want 0 after cleanup", got)
	}
}
