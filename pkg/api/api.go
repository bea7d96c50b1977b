// Package api exposes the host adapter HTTP interface: check requests,
// active root management, decision history, and operational stats.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"zonegate/pkg/cache"
	"zonegate/pkg/delegation"
	"zonegate/pkg/gate"
	"zonegate/pkg/logging"
	"zonegate/pkg/ratelimit"
	"zonegate/pkg/storage"
)

// Server represents the host adapter API server
type Server struct {
	handler    http.Handler
	httpServer *http.Server
	logger     *logging.Logger

	// Dependencies
	gate        *gate.Gate
	verdicts    *delegation.Verdicts
	answerCache *cache.Cache
	storage     storage.Storage
	rateLimiter *ratelimit.Manager

	// Auth state, reloadable via UpdateAuth
	authMu       sync.RWMutex
	authEnabled  bool
	basicUser    string
	passwordHash string

	// Metadata
	version   string
	startTime time.Time
}

// Config holds API server configuration
type Config struct {
	ListenAddress string
	Gate          *gate.Gate
	Verdicts      *delegation.Verdicts
	AnswerCache   *cache.Cache
	Storage       storage.Storage
	Logger        *logging.Logger
	Version       string
	AuthEnabled   bool
	Username      string
	PasswordHash  string
	RateLimiter   *ratelimit.Manager
}

// New creates a new API server
func New(cfg *Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDefault()
	}
	if cfg.Storage == nil {
		cfg.Storage = storage.NewNoOpStorage()
	}

	s := &Server{
		gate:         cfg.Gate,
		verdicts:     cfg.Verdicts,
		answerCache:  cfg.AnswerCache,
		storage:      cfg.Storage,
		rateLimiter:  cfg.RateLimiter,
		logger:       cfg.Logger,
		version:      cfg.Version,
		authEnabled:  cfg.AuthEnabled,
		basicUser:    cfg.Username,
		passwordHash: cfg.PasswordHash,
		startTime:    time.Now(),
	}

	mux := http.NewServeMux()

	// Health checks
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealthz) // Kubernetes liveness probe
	mux.HandleFunc("/readyz", s.handleReadyz)   // Kubernetes readiness probe

	// Request checking
	mux.HandleFunc("GET /api/check", s.handleCheckGet)
	mux.HandleFunc("POST /api/check", s.handleCheckPost)

	// Active root management
	mux.HandleFunc("GET /api/roots", s.handleGetRoots)
	mux.HandleFunc("PUT /api/roots/{domain}", s.handleAddRoot)
	mux.HandleFunc("DELETE /api/roots/{domain}", s.handleRemoveRoot)

	// Observability
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/decisions", s.handleDecisions)
	mux.HandleFunc("GET /api/system", s.handleSystem)

	// Maintenance
	mux.HandleFunc("POST /api/verdicts/clear", s.handleClearVerdicts)
	mux.HandleFunc("POST /api/cache/clear", s.handleClearCache)

	handler := s.loggingMiddleware(mux)
	handler = s.authMiddleware(handler)
	handler = s.rateLimitMiddleware(handler)
	handler = s.corsMiddleware(handler)

	s.handler = handler
	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the API server and blocks until ctx is cancelled or the
// listener fails
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server", "address", s.httpServer.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Handler returns the fully wired HTTP handler, used by tests and
// embedders that bring their own listener
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Shutdown gracefully shuts down the API server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// UpdateAuth swaps the auth settings, used on config reload
func (s *Server) UpdateAuth(enabled bool, username, passwordHash string) {
	s.authMu.Lock()
	s.authEnabled = enabled
	s.basicUser = username
	s.passwordHash = passwordHash
	s.authMu.Unlock()
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Code:    statusCode,
		Message: message,
	})
}

// parseDuration parses a duration string with default value
func parseDuration(s string, defaultDuration time.Duration) time.Duration {
	if s == "" {
		return defaultDuration
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultDuration
	}

	return d
}

// getUptime returns the server uptime as a string
func (s *Server) getUptime() string {
	uptime := time.Since(s.startTime)

	hours := int(uptime.Hours())
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
