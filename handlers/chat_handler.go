package handlers

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/upb/llm-router/middleware"
	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/services"
	"github.com/upb/llm-router/services/orchestrator"
	"github.com/upb/llm-router/utils"
	"go.uber.org/zap"
)

// AutoModel selects the backend by routing priority
const AutoModel = "auto"

// ChatRequest is the body of POST /chat
type ChatRequest struct {
	Message     string   `json:"message"`
	Model       string   `json:"model,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

// chatParams is a ChatRequest with defaults applied
type chatParams struct {
	Message     string  `json:"message" validate:"required,max=100000"`
	Model       string  `json:"model" validate:"required,max=32"`
	MaxTokens   int     `json:"max_tokens" validate:"min=1,max=32000"`
	Temperature float64 `json:"temperature" validate:"gte=0,lte=2"`
}

// ChatResponse is the body returned by the chat endpoints
type ChatResponse struct {
	Response     string  `json:"response"`
	ModelUsed    string  `json:"model_used"`
	BackendModel string  `json:"backend_model,omitempty"`
	TokensUsed   int     `json:"tokens_used"`
	LatencyMs    float64 `json:"latency_ms"`
	Timestamp    string  `json:"timestamp"`
	RequestID    string  `json:"request_id,omitempty"`
}

// ChatRouter serves generation requests
type ChatRouter interface {
	Route(ctx context.Context, req *orchestrator.Request) (*orchestrator.Result, error)
	ProcessWith(ctx context.Context, name string, req *orchestrator.Request) (*orchestrator.Result, error)
}

// RequestRecorder receives the outcome of every chat request
type RequestRecorder interface {
	Record(entry *models.RoutedRequest) error
}

// ChatDefaults fill in parameters the caller left out
type ChatDefaults struct {
	MaxTokens   int
	Temperature float64
}

// ChatHandler handles the chat endpoints
type ChatHandler struct {
	router   ChatRouter
	recorder RequestRecorder
	defaults ChatDefaults
	logger   *zap.Logger
}

// NewChatHandler creates a new ChatHandler. recorder may be nil.
func NewChatHandler(router ChatRouter, recorder RequestRecorder, defaults ChatDefaults, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		router:   router,
		recorder: recorder,
		defaults: defaults,
		logger:   logger,
	}
}

// HandleChat handles POST /chat. The model field picks a backend; "auto" or
// an empty value routes by priority.
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "")
}

// HandleChatWith returns a handler for POST /chat/{backend} that ignores the
// body's model field.
func (h *ChatHandler) HandleChatWith(backend string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, backend)
	}
}

func (h *ChatHandler) serve(w http.ResponseWriter, r *http.Request, forced string) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var body ChatRequest
	if err := utils.DecodeJSON(r, &body); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", map[string]interface{}{"reason": err.Error()})
		return
	}

	if body.Stream {
		_ = utils.WriteBadRequest(w, "Streaming is not supported", map[string]interface{}{"stream": "must be false"})
		return
	}

	if forced != "" {
		body.Model = forced
	}
	params := h.applyDefaults(body)

	if err := utils.ValidateStruct(&params); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}
	if strings.TrimSpace(params.Message) == "" {
		HandleServiceError(w, services.ErrEmptyMessage, h.logger)
		return
	}

	entry := models.NewRoutedRequest(requestID, params.Model)
	req := &orchestrator.Request{
		Message:     params.Message,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	}

	start := time.Now()
	var (
		result *orchestrator.Result
		err    error
	)
	if params.Model == AutoModel {
		result, err = h.router.Route(ctx, req)
	} else {
		result, err = h.router.ProcessWith(ctx, params.Model, req)
	}
	latency := time.Since(start)

	if err != nil {
		h.logger.Error("chat request failed",
			zap.String("request_id", requestID),
			zap.String("model", params.Model),
			zap.Duration("latency", latency),
			zap.Error(err))
		entry.MarkAsFailed(err.Error(), int(latency.Milliseconds()))
		h.record(entry)
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("request processed",
		zap.String("request_id", requestID),
		zap.String("backend", string(result.Backend)),
		zap.Int("tokens_used", result.TokensUsed),
		zap.Duration("latency", latency))

	entry.MarkAsSucceeded(string(result.Backend), result.Model, result.TokensUsed, int(latency.Milliseconds()))
	h.record(entry)

	_ = utils.WriteOK(w, ChatResponse{
		Response:     result.Text,
		ModelUsed:    string(result.Backend),
		BackendModel: result.Model,
		TokensUsed:   result.TokensUsed,
		LatencyMs:    math.Round(float64(latency.Microseconds())/10) / 100,
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		RequestID:    requestID,
	})
}

func (h *ChatHandler) applyDefaults(body ChatRequest) chatParams {
	params := chatParams{
		Message:     body.Message,
		Model:       strings.ToLower(strings.TrimSpace(body.Model)),
		MaxTokens:   h.defaults.MaxTokens,
		Temperature: h.defaults.Temperature,
	}
	if params.Model == "" {
		params.Model = AutoModel
	}
	if body.MaxTokens != nil {
		params.MaxTokens = *body.MaxTokens
	}
	if body.Temperature != nil {
		params.Temperature = *body.Temperature
	}
	return params
}

func (h *ChatHandler) record(entry *models.RoutedRequest) {
	if h.recorder == nil {
		return
	}
	if err := h.recorder.Record(entry); err != nil {
		h.logger.Debug("request log entry not recorded",
			zap.String("request_id", entry.RequestID),
			zap.Error(err))
	}
}
