package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/upb/llm-router/services/orchestrator"
	"github.com/upb/llm-router/services/requestlog"
	"github.com/upb/llm-router/utils"
	"go.uber.org/zap"
)

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status        string                        `json:"status"`
	Models        []orchestrator.HealthSnapshot `json:"models"`
	UptimeSeconds float64                       `json:"uptime_seconds"`
	Timestamp     string                        `json:"timestamp"`
	Checks        map[string]string             `json:"checks,omitempty"`
	RequestLog    *requestlog.Stats             `json:"request_log,omitempty"`
}

// ReadinessResponse is the body of GET /ready
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HealthMonitor reports backend health
type HealthMonitor interface {
	StatusAll(ctx context.Context) []orchestrator.HealthSnapshot
	IsReady(ctx context.Context) bool
	UptimeSeconds() float64
}

// DatabaseChecker verifies the request log database
type DatabaseChecker interface {
	HealthCheck(ctx context.Context) error
}

// RequestLogStats reports the state of the request log writer
type RequestLogStats interface {
	GetStats() requestlog.Stats
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	monitor    HealthMonitor
	db         DatabaseChecker
	requestLog RequestLogStats
	timeout    time.Duration
	logger     *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db is nil when no request
// log database is configured.
func NewHealthHandler(monitor HealthMonitor, db DatabaseChecker, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		monitor: monitor,
		db:      db,
		timeout: 10 * time.Second,
		logger:  logger,
	}
}

// WithRequestLog adds the request log writer state to GET /health
func (h *HealthHandler) WithRequestLog(stats RequestLogStats) *HealthHandler {
	h.requestLog = stats
	return h
}

// HandleHealth handles GET /health. It always answers 200 while the process
// runs; the body carries a fresh probe of every backend.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	response := HealthResponse{
		Status:        "healthy",
		Models:        h.monitor.StatusAll(ctx),
		UptimeSeconds: h.monitor.UptimeSeconds(),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}

	if h.db != nil {
		response.Checks = map[string]string{"database": h.databaseStatus(ctx)}
	}
	if h.requestLog != nil {
		stats := h.requestLog.GetStats()
		response.RequestLog = &stats
	}

	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write health response", zap.Error(err))
	}
}

// HandleReadiness handles GET /ready. Ready means at least one backend is
// online and, when configured, the request log database answers.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := make(map[string]string)
	ready := true

	if h.monitor.IsReady(ctx) {
		checks["backends"] = "healthy"
	} else {
		checks["backends"] = "unhealthy"
		ready = false
	}

	if h.db != nil {
		status := h.databaseStatus(ctx)
		checks["database"] = status
		if status != "healthy" {
			ready = false
		}
	}

	if !ready {
		details := make(map[string]interface{}, len(checks))
		for k, v := range checks {
			details[k] = v
		}
		if err := utils.WriteServiceUnavailable(w, "Not ready", details); err != nil {
			h.logger.Error("failed to write readiness response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteOK(w, ReadinessResponse{Status: "ready", Checks: checks}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

func (h *HealthHandler) databaseStatus(ctx context.Context) string {
	if err := h.db.HealthCheck(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
