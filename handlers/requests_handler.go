package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/services/backends"
	"github.com/upb/llm-router/services/requestlog"
	"github.com/upb/llm-router/utils"
	"go.uber.org/zap"
)

const defaultRequestsLimit = 50

// RequestLogReader reads persisted request log entries
type RequestLogReader interface {
	Recent(ctx context.Context, backend string, limit int) ([]*models.RoutedRequest, error)
}

// RequestsResponse is the body of GET /requests
type RequestsResponse struct {
	Requests []*models.RoutedRequest `json:"requests"`
	Count    int                     `json:"count"`
}

// RequestsHandler serves the request log
type RequestsHandler struct {
	reader RequestLogReader
	logger *zap.Logger
}

// NewRequestsHandler creates a new RequestsHandler
func NewRequestsHandler(reader RequestLogReader, logger *zap.Logger) *RequestsHandler {
	return &RequestsHandler{
		reader: reader,
		logger: logger,
	}
}

// HandleListRequests handles GET /requests?backend=&limit=
func (h *RequestsHandler) HandleListRequests(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := defaultRequestsLimit
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			_ = utils.WriteBadRequest(w, "limit must be an integer", nil)
			return
		}
		if err := utils.ValidateNumericRange(n, "limit", 1, 500); err != nil {
			_ = utils.WriteBadRequest(w, err.Error(), nil)
			return
		}
		limit = n
	}

	var backend string
	if raw := query.Get("backend"); raw != "" {
		id, err := backends.ParseIdentity(raw)
		if err != nil {
			HandleServiceError(w, err, h.logger)
			return
		}
		backend = string(id)
	}

	entries, err := h.reader.Recent(r.Context(), backend, limit)
	if err != nil {
		if errors.Is(err, requestlog.ErrDisabled) {
			_ = utils.WriteNotFound(w, "request log is not enabled")
			return
		}
		HandleServiceError(w, err, h.logger)
		return
	}

	if entries == nil {
		entries = []*models.RoutedRequest{}
	}
	_ = utils.WriteOK(w, RequestsResponse{Requests: entries, Count: len(entries)})
}
