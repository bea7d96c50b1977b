package storage

import (
	"context"
	"time"
)

// Storage defines the interface for decision log backends
// Implementations must be thread-safe and support concurrent access
type Storage interface {
	// Decision logging
	LogDecision(ctx context.Context, decision *Decision) error
	RecentDecisions(ctx context.Context, limit, offset int) ([]*Decision, error)
	DecisionsByHost(ctx context.Context, host string, limit int) ([]*Decision, error)

	// Statistics
	Stats(ctx context.Context, since time.Time) (*Stats, error)

	// Maintenance
	Cleanup(ctx context.Context, olderThan time.Time) error
	Close() error
	Ping(ctx context.Context) error
}

// Decision represents a single gate decision log entry
type Decision struct {
	Timestamp  time.Time `json:"timestamp"`
	Host       string    `json:"host"`
	Root       string    `json:"root"`
	Source     string    `json:"source"`
	Rule       string    `json:"rule,omitempty"`
	ID         int64     `json:"id"`
	DurationMs float64   `json:"duration_ms"`
	Blocked    bool      `json:"blocked"`
}

// Decision sources recorded in the log
const (
	SourceEvaluated  = "evaluated"   // fresh delegation evaluation
	SourceVerdict    = "verdict"     // served from the verdict cache
	SourceExempt     = "exempt"      // matched an exemption pattern
	SourcePolicy     = "policy"      // matched a policy rule
	SourceOutOfScope = "out_of_scope"
	SourceInvalidURL = "invalid_url"
)

// Stats represents aggregated decision statistics
type Stats struct {
	Since          time.Time        `json:"since"`
	Until          time.Time        `json:"until"`
	BySource       map[string]int64 `json:"by_source"`
	TotalDecisions int64            `json:"total_decisions"`
	Blocked        int64            `json:"blocked"`
	UniqueHosts    int64            `json:"unique_hosts"`
	AvgDurationMs  float64          `json:"avg_duration_ms"`
	BlockRate      float64          `json:"block_rate"` // Percentage of blocked decisions
}

// MetricsRecorder defines the interface for recording storage metrics
// This interface breaks the import cycle between storage and telemetry packages
type MetricsRecorder interface {
	AddDroppedDecision(ctx context.Context, count int64)
}

// NoOpStorage is a no-op storage used when the decision log is disabled
type NoOpStorage struct{}

// NewNoOpStorage creates a new no-op storage
func NewNoOpStorage() *NoOpStorage {
	return &NoOpStorage{}
}

// LogDecision does nothing
func (n *NoOpStorage) LogDecision(ctx context.Context, decision *Decision) error {
	return nil
}

// RecentDecisions returns no decisions
func (n *NoOpStorage) RecentDecisions(ctx context.Context, limit, offset int) ([]*Decision, error) {
	return []*Decision{}, nil
}

// DecisionsByHost returns no decisions
func (n *NoOpStorage) DecisionsByHost(ctx context.Context, host string, limit int) ([]*Decision, error) {
	return []*Decision{}, nil
}

// Stats returns empty statistics
func (n *NoOpStorage) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	return &Stats{
		Since:    since,
		Until:    time.Now(),
		BySource: map[string]int64{},
	}, nil
}

// Cleanup does nothing
func (n *NoOpStorage) Cleanup(ctx context.Context, olderThan time.Time) error {
	return nil
}

// Close does nothing
func (n *NoOpStorage) Close() error {
	return nil
}

// Ping always succeeds
func (n *NoOpStorage) Ping(ctx context.Context) error {
	return nil
}
