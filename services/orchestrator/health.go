package orchestrator

import (
	"context"
	"math"

	"github.com/upb/llm-router/services/backends"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Status is the health of one backend
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"

	// StatusError means probing the backend itself failed
	StatusError Status = "error"
)

// HealthSnapshot is the freshly probed state of one backend
type HealthSnapshot struct {
	Name          backends.Identity `json:"name"`
	Status        Status            `json:"status"`
	LatencyMs     *float64          `json:"latency_ms"`
	RequestsTotal int64             `json:"requests_total"`
	ErrorRate     float64           `json:"error_rate"`
}

// Metrics aggregates usage since start (or since each backend's last reload)
type Metrics struct {
	UptimeSeconds    float64                     `json:"uptime_seconds"`
	TotalRequests    int64                       `json:"total_requests"`
	TotalErrors      int64                       `json:"total_errors"`
	SuccessRate      float64                     `json:"success_rate"`
	RequestsPerModel map[backends.Identity]int64 `json:"requests_per_model"`
	ErrorsPerModel   map[backends.Identity]int64 `json:"errors_per_model"`
	Models           []HealthSnapshot            `json:"models"`
}

// ModelList describes every backend and the automatic routing order
type ModelList struct {
	Models          []HealthSnapshot    `json:"models"`
	DefaultPriority []backends.Identity `json:"default_priority"`
}

// StatusAll probes every backend concurrently and returns one snapshot per
// backend in priority order. It never mutates counters.
func (o *Orchestrator) StatusAll(ctx context.Context) []HealthSnapshot {
	snapshots := make([]HealthSnapshot, len(o.order))

	var g errgroup.Group
	for i, id := range o.order {
		s := o.slots[id]
		g.Go(func() error {
			snapshots[i] = o.snapshot(ctx, s)
			return nil
		})
	}
	_ = g.Wait()

	return snapshots
}

// snapshot probes one backend. A panicking probe yields a StatusError entry.
func (o *Orchestrator) snapshot(ctx context.Context, s *slot) (snap HealthSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("backend status check failed",
				zap.String("backend", string(s.id)),
				zap.Any("panic", r))
			snap = HealthSnapshot{Name: s.id, Status: StatusError, ErrorRate: 100}
		}
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap = HealthSnapshot{Name: s.id, Status: StatusOffline}
	if s.client.IsAvailable(ctx) {
		snap.Status = StatusOnline
		if latency := s.client.Latency(ctx); latency > 0 {
			snap.LatencyMs = &latency
		}
	}

	requests := s.requests.Load()
	snap.RequestsTotal = requests
	snap.ErrorRate = errorRate(s.errors.Load(), requests)
	return snap
}

// IsReady reports whether at least one backend is online
func (o *Orchestrator) IsReady(ctx context.Context) bool {
	for _, snap := range o.StatusAll(ctx) {
		if snap.Status == StatusOnline {
			return true
		}
	}
	return false
}

// Metrics returns usage totals, per backend breakdowns and a fresh StatusAll
func (o *Orchestrator) Metrics(ctx context.Context) *Metrics {
	m := &Metrics{
		UptimeSeconds:    o.UptimeSeconds(),
		RequestsPerModel: make(map[backends.Identity]int64, len(o.order)),
		ErrorsPerModel:   make(map[backends.Identity]int64, len(o.order)),
	}

	for _, id := range o.order {
		s := o.slots[id]
		requests, errs := s.requests.Load(), s.errors.Load()
		m.RequestsPerModel[id] = requests
		m.ErrorsPerModel[id] = errs
		m.TotalRequests += requests
		m.TotalErrors += errs
	}
	m.SuccessRate = successRate(m.TotalErrors, m.TotalRequests)
	m.Models = o.StatusAll(ctx)
	return m
}

// ListModels returns every backend's status and the priority order
func (o *Orchestrator) ListModels(ctx context.Context) *ModelList {
	return &ModelList{
		Models:          o.StatusAll(ctx),
		DefaultPriority: o.Priority(),
	}
}

// errorRate is errors/requests as a percentage with two decimals, 0 without requests
func errorRate(errs, requests int64) float64 {
	if requests <= 0 {
		return 0
	}
	return round2(float64(errs) / float64(requests) * 100)
}

// successRate is 100 without requests
func successRate(errs, requests int64) float64 {
	if requests <= 0 {
		return 100
	}
	return round2(float64(requests-errs) / float64(requests) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
