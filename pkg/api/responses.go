package api

import (
	"time"

	"zonegate/pkg/storage"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status string `json:"status"` // "alive"
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status string            `json:"status"` // "ready" or "not_ready"
	Checks map[string]string `json:"checks"` // Component health status
}

// CheckResponse represents the verdict for a checked URL
type CheckResponse struct {
	URL     string `json:"url"`
	Host    string `json:"host,omitempty"`
	Root    string `json:"root,omitempty"`
	Blocked bool   `json:"blocked"`
}

// RootsResponse represents the active root domain set
type RootsResponse struct {
	Roots []string `json:"roots"`
	Count int      `json:"count"`
}

// RootChangeResponse represents the result of a root add or remove
type RootChangeResponse struct {
	Root    string `json:"root"`
	Changed bool   `json:"changed"`
}

// StatsResponse represents aggregated gate statistics
type StatsResponse struct {
	TotalDecisions int64            `json:"total_decisions"`
	Blocked        int64            `json:"blocked"`
	BlockRate      float64          `json:"block_rate"` // Percentage
	UniqueHosts    int64            `json:"unique_hosts"`
	AvgDurationMs  float64          `json:"avg_duration_ms"`
	BySource       map[string]int64 `json:"by_source"`
	Verdicts       int              `json:"verdicts"`
	CacheEntries   int              `json:"cache_entries"`
	CacheHitRate   float64          `json:"cache_hit_rate"` // Percentage
	Period         string           `json:"period"`
	Timestamp      string           `json:"timestamp"` // ISO 8601 format
}

// DecisionResponse represents a single decision log entry
type DecisionResponse struct {
	ID         int64   `json:"id"`
	Timestamp  string  `json:"timestamp"` // ISO 8601 format
	Host       string  `json:"host"`
	Root       string  `json:"root"`
	Blocked    bool    `json:"blocked"`
	Source     string  `json:"source"`
	Rule       string  `json:"rule,omitempty"`
	DurationMs float64 `json:"duration_ms"`
}

// DecisionsResponse represents paginated decision results
type DecisionsResponse struct {
	Decisions []DecisionResponse `json:"decisions"`
	Total     int                `json:"total"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

// ClearResponse represents the result of a cache or verdict flush
type ClearResponse struct {
	Status  string `json:"status"`
	Cleared int    `json:"cleared"`
}

// SystemResponse represents process and host resource usage
type SystemResponse struct {
	CPUPercent   float64 `json:"cpu_percent"`
	MemUsed      uint64  `json:"mem_used"`
	MemTotal     uint64  `json:"mem_total"`
	MemPercent   float64 `json:"mem_percent"`
	TemperatureC float64 `json:"temperature_c,omitempty"`
	Uptime       string  `json:"uptime"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// convertDecision converts storage.Decision to DecisionResponse
func convertDecision(d *storage.Decision) DecisionResponse {
	return DecisionResponse{
		ID:         d.ID,
		Timestamp:  d.Timestamp.Format(time.RFC3339),
		Host:       d.Host,
		Root:       d.Root,
		Blocked:    d.Blocked,
		Source:     d.Source,
		Rule:       d.Rule,
		DurationMs: d.DurationMs,
	}
}
