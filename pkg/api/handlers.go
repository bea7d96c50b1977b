package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"zonegate/pkg/domain"
	"zonegate/pkg/storage"
)

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Uptime:  s.getUptime(),
		Version: s.version,
	})
}

// handleHealthz handles the liveness probe
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, LivenessResponse{Status: "alive"})
}

// handleReadyz handles the readiness probe. Only the decision log is
// checked here; a failing DoH endpoint degrades lookups to the empty
// result rather than making the service unready.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := "ready"
	code := http.StatusOK

	if err := s.storage.Ping(r.Context()); err != nil {
		checks["storage"] = err.Error()
		status = "not_ready"
		code = http.StatusServiceUnavailable
	} else {
		checks["storage"] = "ok"
	}

	s.writeJSON(w, code, ReadinessResponse{Status: status, Checks: checks})
}

// handleCheckGet handles GET /api/check?url=...
func (s *Server) handleCheckGet(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		s.writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}
	s.check(w, r, rawURL)
}

type checkRequest struct {
	URL string `json:"url"`
}

// handleCheckPost handles POST /api/check
func (s *Server) handleCheckPost(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "invalid request body, expected {\"url\": ...}")
		return
	}
	s.check(w, r, req.URL)
}

func (s *Server) check(w http.ResponseWriter, r *http.Request, rawURL string) {
	resp := CheckResponse{
		URL:     rawURL,
		Blocked: s.gate.ShouldBlock(r.Context(), rawURL),
	}
	if host, err := domain.ExtractHostname(rawURL); err == nil {
		resp.Host = host
		resp.Root = domain.Root(host)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleGetRoots handles GET /api/roots
func (s *Server) handleGetRoots(w http.ResponseWriter, r *http.Request) {
	roots := s.gate.Roots().List()
	s.writeJSON(w, http.StatusOK, RootsResponse{Roots: roots, Count: len(roots)})
}

// handleAddRoot handles PUT /api/roots/{domain}. The host adapter
// calls this when the browser navigates to a new page.
func (s *Server) handleAddRoot(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("domain")
	if name == "" {
		s.writeError(w, http.StatusBadRequest, "missing domain")
		return
	}

	root := domain.Root(name)
	added := s.gate.Roots().Add(name)
	s.writeJSON(w, http.StatusOK, RootChangeResponse{Root: root, Changed: added})
}

// handleRemoveRoot handles DELETE /api/roots/{domain}
func (s *Server) handleRemoveRoot(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("domain")
	if name == "" {
		s.writeError(w, http.StatusBadRequest, "missing domain")
		return
	}

	root := domain.Root(name)
	removed := s.gate.Roots().Remove(name)
	if !removed {
		s.writeError(w, http.StatusNotFound, "root not active")
		return
	}
	s.writeJSON(w, http.StatusOK, RootChangeResponse{Root: root, Changed: true})
}

// handleStats handles GET /api/stats?period=24h
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	period := parseDuration(r.URL.Query().Get("period"), 24*time.Hour)

	stats, err := s.storage.Stats(r.Context(), time.Now().Add(-period))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to query statistics")
		return
	}

	resp := StatsResponse{
		TotalDecisions: stats.TotalDecisions,
		Blocked:        stats.Blocked,
		BlockRate:      stats.BlockRate,
		UniqueHosts:    stats.UniqueHosts,
		AvgDurationMs:  stats.AvgDurationMs,
		BySource:       stats.BySource,
		Period:         period.String(),
		Timestamp:      time.Now().Format(time.RFC3339),
	}
	if s.verdicts != nil {
		resp.Verdicts = s.verdicts.Len()
	}
	if s.answerCache != nil {
		cacheStats := s.answerCache.Stats()
		resp.CacheEntries = cacheStats.Entries
		resp.CacheHitRate = cacheStats.HitRate * 100
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleDecisions handles GET /api/decisions?limit=&offset=&host=
func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 100)
	offset := parseInt(r.URL.Query().Get("offset"), 0)
	host := r.URL.Query().Get("host")

	var err error
	var decisions []*storage.Decision
	if host != "" {
		decisions, err = s.storage.DecisionsByHost(r.Context(), host, limit)
	} else {
		decisions, err = s.storage.RecentDecisions(r.Context(), limit, offset)
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to query decisions")
		return
	}

	resp := DecisionsResponse{
		Decisions: make([]DecisionResponse, 0, len(decisions)),
		Total:     len(decisions),
		Limit:     limit,
		Offset:    offset,
	}
	for _, d := range decisions {
		resp.Decisions = append(resp.Decisions, convertDecision(d))
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleSystem handles GET /api/system
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	metrics := collectSystemMetrics(r.Context())

	resp := SystemResponse{
		CPUPercent: metrics.CPUPercent,
		MemUsed:    metrics.MemUsed,
		MemTotal:   metrics.MemTotal,
		MemPercent: metrics.MemPercent,
		Uptime:     s.getUptime(),
	}
	if metrics.TemperatureAvailable() {
		resp.TemperatureC = metrics.TemperatureC
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleClearVerdicts handles POST /api/verdicts/clear
func (s *Server) handleClearVerdicts(w http.ResponseWriter, r *http.Request) {
	cleared := 0
	if s.verdicts != nil {
		cleared = s.verdicts.Len()
		s.verdicts.Clear()
	}
	s.writeJSON(w, http.StatusOK, ClearResponse{Status: "ok", Cleared: cleared})
}

// handleClearCache handles POST /api/cache/clear
func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	cleared := 0
	if s.answerCache != nil {
		cleared = s.answerCache.Stats().Entries
		s.answerCache.Clear()
	}
	s.writeJSON(w, http.StatusOK, ClearResponse{Status: "ok", Cleared: cleared})
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
