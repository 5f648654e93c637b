package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/llm-router/middleware"
	"github.com/upb/llm-router/services/orchestrator"
	"github.com/upb/llm-router/utils"
	"go.uber.org/zap"
)

// ModelManager exposes backend listing, metrics and reload
type ModelManager interface {
	ListModels(ctx context.Context) *orchestrator.ModelList
	Metrics(ctx context.Context) *orchestrator.Metrics
	Reload(ctx context.Context, name string) (*orchestrator.ReloadTask, error)
	LastReload(name string) (*orchestrator.ReloadTask, error)
}

// ReloadResponse acknowledges a started reload
type ReloadResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
	TaskID string `json:"task_id"`
}

// ModelsHandler handles the model management endpoints
type ModelsHandler struct {
	manager ModelManager
	logger  *zap.Logger
}

// NewModelsHandler creates a new ModelsHandler
func NewModelsHandler(manager ModelManager, logger *zap.Logger) *ModelsHandler {
	return &ModelsHandler{
		manager: manager,
		logger:  logger,
	}
}

// HandleListModels handles GET /models
func (h *ModelsHandler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.manager.ListModels(r.Context()))
}

// HandleMetrics handles GET /metrics
func (h *ModelsHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.manager.Metrics(r.Context()))
}

// HandleReload handles POST /models/{name}/reload
func (h *ModelsHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	task, err := h.manager.Reload(r.Context(), name)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("backend reload requested",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("backend", string(task.Backend)),
		zap.String("task_id", task.ID.String()))

	_ = utils.WriteAccepted(w, ReloadResponse{
		Status: "reloading",
		Model:  string(task.Backend),
		TaskID: task.ID.String(),
	})
}

// HandleReloadStatus handles GET /models/{name}/reload
func (h *ModelsHandler) HandleReloadStatus(w http.ResponseWriter, r *http.Request) {
	task, err := h.manager.LastReload(chi.URLParam(r, "name"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, task.Status())
}
