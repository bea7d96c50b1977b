// Package telemetry wires up Prometheus + OpenTelemetry exporters used
// across the project.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"zonegate/pkg/config"
	"zonegate/pkg/logging"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Telemetry holds telemetry providers and exporters
type Telemetry struct {
	cfg                *config.TelemetryConfig
	meterProvider      metric.MeterProvider
	prometheusExporter *prometheus.Exporter
	prometheusServer   *http.Server
	logger             *logging.Logger
}

// Metrics holds all application metrics
type Metrics struct {
	// DoH lookup metrics
	NSLookupsTotal    metric.Int64Counter
	NSLookupsEmpty    metric.Int64Counter
	AnswerCacheHits   metric.Int64Counter
	AnswerCacheMisses metric.Int64Counter

	// Delegation evaluation metrics
	EvaluationsTotal   metric.Int64Counter
	EvaluationDuration metric.Float64Histogram
	VerdictsBlocked    metric.Int64Counter
	VerdictsAllowed    metric.Int64Counter
	VerdictCacheHits   metric.Int64Counter
	InFlightWaits      metric.Int64Counter

	// Gate metrics
	GateRequestsTotal metric.Int64Counter
	GateOutOfScope    metric.Int64Counter
	GateExempted      metric.Int64Counter
	GatePolicyMatches metric.Int64Counter

	// Storage metrics
	StorageDecisionsDropped metric.Int64Counter
}

// New creates a new telemetry instance
func New(ctx context.Context, cfg *config.TelemetryConfig, logger *logging.Logger) (*Telemetry, error) {
	if !cfg.Enabled {
		logger.Info("Telemetry disabled")
		return &Telemetry{
			cfg:           cfg,
			meterProvider: noop.NewMeterProvider(),
			logger:        logger,
		}, nil
	}

	t := &Telemetry{
		cfg:    cfg,
		logger: logger,
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := t.setupMetrics(res); err != nil {
		return nil, fmt.Errorf("failed to setup metrics: %w", err)
	}

	logger.Info("Telemetry initialized",
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
		"prometheus", cfg.PrometheusEnabled,
	)

	return t, nil
}

// setupMetrics initializes the metrics provider
func (t *Telemetry) setupMetrics(res *resource.Resource) error {
	if !t.cfg.PrometheusEnabled {
		t.meterProvider = noop.NewMeterProvider()
		return nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	t.prometheusExporter = exporter

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	t.meterProvider = provider
	otel.SetMeterProvider(provider)

	if err := t.startPrometheusServer(); err != nil {
		return fmt.Errorf("failed to start prometheus server: %w", err)
	}

	t.logger.Info("Prometheus metrics enabled", "port", t.cfg.PrometheusPort)
	return nil
}

// startPrometheusServer starts the Prometheus metrics HTTP server
func (t *Telemetry) startPrometheusServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	t.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.cfg.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := t.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("Prometheus server failed", "error", err)
		}
	}()

	return nil
}

// InitMetrics initializes and returns all application metrics
func (t *Telemetry) InitMetrics() (*Metrics, error) {
	meter := t.meterProvider.Meter("zonegate")

	lookupsTotal, err := meter.Int64Counter(
		"doh.lookups.total",
		metric.WithDescription("Total number of NS lookups issued to the DoH provider"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookups counter: %w", err)
	}

	lookupsEmpty, err := meter.Int64Counter(
		"doh.lookups.empty",
		metric.WithDescription("NS lookups that degraded to the empty result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create empty lookups counter: %w", err)
	}

	cacheHits, err := meter.Int64Counter(
		"answer_cache.hits",
		metric.WithDescription("Number of answer cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	cacheMisses, err := meter.Int64Counter(
		"answer_cache.misses",
		metric.WithDescription("Number of answer cache misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	evaluationsTotal, err := meter.Int64Counter(
		"delegation.evaluations.total",
		metric.WithDescription("Delegation evaluations performed, labeled by branch"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluations counter: %w", err)
	}

	evaluationDuration, err := meter.Float64Histogram(
		"delegation.evaluation.duration",
		metric.WithDescription("Delegation evaluation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluation duration histogram: %w", err)
	}

	verdictsBlocked, err := meter.Int64Counter(
		"verdicts.blocked",
		metric.WithDescription("Verdicts that resolved to block"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create blocked verdicts counter: %w", err)
	}

	verdictsAllowed, err := meter.Int64Counter(
		"verdicts.allowed",
		metric.WithDescription("Verdicts that resolved to allow"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create allowed verdicts counter: %w", err)
	}

	verdictCacheHits, err := meter.Int64Counter(
		"verdicts.cache_hits",
		metric.WithDescription("Verdicts served from the process-lifetime verdict cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verdict cache hits counter: %w", err)
	}

	inFlightWaits, err := meter.Int64Counter(
		"verdicts.inflight_waits",
		metric.WithDescription("Callers that waited on an evaluation already in flight"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-flight waits counter: %w", err)
	}

	gateRequests, err := meter.Int64Counter(
		"gate.requests.total",
		metric.WithDescription("Total URLs checked by the request gate"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gate requests counter: %w", err)
	}

	gateOutOfScope, err := meter.Int64Counter(
		"gate.requests.out_of_scope",
		metric.WithDescription("Requests allowed without lookup by the scope filter"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create out-of-scope counter: %w", err)
	}

	gateExempted, err := meter.Int64Counter(
		"gate.requests.exempted",
		metric.WithDescription("Requests allowed by exemption patterns"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create exempted counter: %w", err)
	}

	gatePolicyMatches, err := meter.Int64Counter(
		"gate.policy.matches",
		metric.WithDescription("Requests decided by a policy override rule"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy matches counter: %w", err)
	}

	decisionsDropped, err := meter.Int64Counter(
		"storage.decisions.dropped",
		metric.WithDescription("Decision log entries dropped due to a full buffer"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dropped decisions counter: %w", err)
	}

	return &Metrics{
		NSLookupsTotal:          lookupsTotal,
		NSLookupsEmpty:          lookupsEmpty,
		AnswerCacheHits:         cacheHits,
		AnswerCacheMisses:       cacheMisses,
		EvaluationsTotal:        evaluationsTotal,
		EvaluationDuration:      evaluationDuration,
		VerdictsBlocked:         verdictsBlocked,
		VerdictsAllowed:         verdictsAllowed,
		VerdictCacheHits:        verdictCacheHits,
		InFlightWaits:           inFlightWaits,
		GateRequestsTotal:       gateRequests,
		GateOutOfScope:          gateOutOfScope,
		GateExempted:            gateExempted,
		GatePolicyMatches:       gatePolicyMatches,
		StorageDecisionsDropped: decisionsDropped,
	}, nil
}

// MeterProvider returns the meter provider
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// AddDroppedDecision implements storage.MetricsRecorder, letting Metrics
// be passed to storage without an import cycle
func (m *Metrics) AddDroppedDecision(ctx context.Context, count int64) {
	if m != nil && m.StorageDecisionsDropped != nil {
		m.StorageDecisionsDropped.Add(ctx, count)
	}
}

// Shutdown gracefully shuts down telemetry
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if t.prometheusServer != nil {
		if err := t.prometheusServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("prometheus server shutdown: %w", err))
		}
	}

	if provider, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("telemetry shutdown errors: %v", errs)
	}

	t.logger.Info("Telemetry shut down")
	return nil
}
