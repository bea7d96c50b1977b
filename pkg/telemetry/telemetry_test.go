package telemetry

import (
	"context"
	"testing"

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

func TestNewDisabled(t *testing.T) {
	telem, err := New(context.Background(), &config.TelemetryConfig{
		Enabled: false,
	}, getTestLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if telem.MeterProvider() == nil {
		t.Error("disabled telemetry should still provide a noop meter provider")
	}

	if err := telem.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() failed: %v", err)
	}
}

func TestInitMetricsDisabled(t *testing.T) {
	telem, err := New(context.Background(), &config.TelemetryConfig{
		Enabled: false,
	}, getTestLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer telem.Shutdown(context.Background())

	metrics, err := telem.InitMetrics()
	if err != nil {
		t.Fatalf("InitMetrics() failed: %v", err)
	}

	if metrics.NSLookupsTotal == nil {
		t.Error("NSLookupsTotal should be non-nil even with noop provider")
	}
	if metrics.EvaluationDuration == nil {
		t.Error("EvaluationDuration should be non-nil even with noop provider")
	}

	// Recording against noop instruments must not panic
	ctx := context.Background()
	metrics.NSLookupsTotal.Add(ctx, 1)
	metrics.EvaluationDuration.Record(ctx, 1.5)
	metrics.AddDroppedDecision(ctx, 1)
}

func TestNewEnabledWithoutPrometheus(t *testing.T) {
	telem, err := New(context.Background(), &config.TelemetryConfig{
		Enabled:        true,
		ServiceName:    "zonegate-test",
		ServiceVersion: "test",
	}, getTestLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer telem.Shutdown(context.Background())

	if _, err := telem.InitMetrics(); err != nil {
		t.Errorf("InitMetrics() failed: %v", err)
	}
}

func TestAddDroppedDecisionNilSafe(t *testing.T) {
	var metrics *Metrics
	// Must not panic on nil receiver
	metrics.AddDroppedDecision(context.Background(), 1)
}
