package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-router/middleware"
	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/services"
	"github.com/upb/llm-router/services/backends"
	"github.com/upb/llm-router/services/orchestrator"
	"go.uber.org/zap"
)

var testDefaults = ChatDefaults{MaxTokens: 1000, Temperature: 0.7}

func newChatRequest(t *testing.T, path string, body interface{}) *http.Request {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case string:
		raw = []byte(b)
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req.WithContext(middleware.WithRequestID(req.Context(), "req-123"))
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestHandleChat_AutoRouting(t *testing.T) {
	router := new(MockChatRouter)
	recorder := &recorderStub{}
	handler := NewChatHandler(router, recorder, testDefaults, zap.NewNop())

	router.On("Route", mock.Anything, &orchestrator.Request{
		Message:     "hello",
		MaxTokens:   1000,
		Temperature: 0.7,
	}).Return(&orchestrator.Result{
		Backend:    backends.Claude,
		Text:       "Hi there",
		TokensUsed: 12,
		Model:      "claude-3-sonnet-20240229",
	}, nil)

	w := httptest.NewRecorder()
	handler.HandleChat(w, newChatRequest(t, "/chat", map[string]interface{}{"message": "hello"}))

	require.Equal(t, http.StatusOK, w.Code)

	var response ChatResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "Hi there", response.Response)
	assert.Equal(t, "claude", response.ModelUsed)
	assert.Equal(t, "claude-3-sonnet-20240229", response.BackendModel)
	assert.Equal(t, 12, response.TokensUsed)
	assert.GreaterOrEqual(t, response.LatencyMs, 0.0)
	assert.NotEmpty(t, response.Timestamp)
	assert.Equal(t, "req-123", response.RequestID)

	router.AssertExpectations(t)
	router.AssertNotCalled(t, "ProcessWith", mock.Anything, mock.Anything, mock.Anything)

	entries := recorder.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, models.RoutingModeAuto, entries[0].Mode)
	assert.Equal(t, models.RoutedRequestSucceeded, entries[0].Status)
	require.NotNil(t, entries[0].Backend)
	assert.Equal(t, "claude", *entries[0].Backend)
	assert.Equal(t, 12, entries[0].TokensUsed)
}

func TestHandleChat_ExplicitModel(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		forced   string
		body     map[string]interface{}
		wantName string
		wantReq  *orchestrator.Request
	}{
		{
			name:     "model field",
			path:     "/chat",
			body:     map[string]interface{}{"message": "hi", "model": "ollama"},
			wantName: "ollama",
			wantReq:  &orchestrator.Request{Message: "hi", MaxTokens: 1000, Temperature: 0.7},
		},
		{
			name:     "model field is case insensitive",
			path:     "/chat",
			body:     map[string]interface{}{"message": "hi", "model": " Claude "},
			wantName: "claude",
			wantReq:  &orchestrator.Request{Message: "hi", MaxTokens: 1000, Temperature: 0.7},
		},
		{
			name:     "explicit parameters including zero temperature",
			path:     "/chat",
			body:     map[string]interface{}{"message": "hi", "model": "localai", "max_tokens": 50, "temperature": 0},
			wantName: "localai",
			wantReq:  &orchestrator.Request{Message: "hi", MaxTokens: 50, Temperature: 0},
		},
		{
			name:     "shortcut overrides body model",
			path:     "/chat/mistral",
			forced:   "mistral",
			body:     map[string]interface{}{"message": "hi", "model": "claude"},
			wantName: "mistral",
			wantReq:  &orchestrator.Request{Message: "hi", MaxTokens: 1000, Temperature: 0.7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := new(MockChatRouter)
			recorder := &recorderStub{}
			handler := NewChatHandler(router, recorder, testDefaults, zap.NewNop())

			router.On("ProcessWith", mock.Anything, tt.wantName, tt.wantReq).
				Return(&orchestrator.Result{Backend: backends.LocalAI, Text: "ok", TokensUsed: 3}, nil)

			w := httptest.NewRecorder()
			req := newChatRequest(t, tt.path, tt.body)
			if tt.forced != "" {
				handler.HandleChatWith(tt.forced)(w, req)
			} else {
				handler.HandleChat(w, req)
			}

			require.Equal(t, http.StatusOK, w.Code)
			router.AssertExpectations(t)
			router.AssertNotCalled(t, "Route", mock.Anything, mock.Anything)

			entries := recorder.Entries()
			require.Len(t, entries, 1)
			assert.Equal(t, models.RoutingModeExplicit, entries[0].Mode)
			assert.Equal(t, tt.wantName, entries[0].Requested)
		})
	}
}

func TestHandleChat_InvalidRequests(t *testing.T) {
	tests := []struct {
		name      string
		body      interface{}
		wantField string
	}{
		{name: "malformed JSON", body: `{"message":`},
		{name: "empty body", body: ""},
		{name: "missing message", body: map[string]interface{}{"model": "auto"}, wantField: "message"},
		{name: "blank message", body: map[string]interface{}{"message": "   "}},
		{name: "zero max tokens", body: map[string]interface{}{"message": "hi", "max_tokens": 0}, wantField: "max_tokens"},
		{name: "max tokens too large", body: map[string]interface{}{"message": "hi", "max_tokens": 50000}, wantField: "max_tokens"},
		{name: "temperature too high", body: map[string]interface{}{"message": "hi", "temperature": 2.5}, wantField: "temperature"},
		{name: "negative temperature", body: map[string]interface{}{"message": "hi", "temperature": -0.1}, wantField: "temperature"},
		{name: "streaming requested", body: map[string]interface{}{"message": "hi", "stream": true}, wantField: "stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := new(MockChatRouter)
			recorder := &recorderStub{}
			handler := NewChatHandler(router, recorder, testDefaults, zap.NewNop())

			w := httptest.NewRecorder()
			handler.HandleChat(w, newChatRequest(t, "/chat", tt.body))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, "bad_request", body["error"])
			if tt.wantField != "" {
				details, ok := body["details"].(map[string]interface{})
				require.True(t, ok)
				assert.Contains(t, details, tt.wantField)
			}

			router.AssertNotCalled(t, "Route", mock.Anything, mock.Anything)
			router.AssertNotCalled(t, "ProcessWith", mock.Anything, mock.Anything, mock.Anything)
			assert.Empty(t, recorder.Entries())
		})
	}
}

func TestHandleChat_ServiceErrors(t *testing.T) {
	exhausted := &orchestrator.ExhaustedError{Attempts: []orchestrator.Attempt{
		{Backend: backends.Claude, Err: services.ErrBackendUnavailable},
		{Backend: backends.LocalAI, Err: backends.NewUpstreamError(backends.LocalAI, 500, []byte(`{"error":"model not loaded"}`))},
		{Backend: backends.Ollama, Err: services.ErrBackendUnavailable},
	}}

	tests := []struct {
		name       string
		model      string
		err        error
		wantStatus int
		wantError  string
	}{
		{"all backends exhausted", "auto", exhausted, http.StatusServiceUnavailable, "service_unavailable"},
		{"unknown backend", "gpt", services.NewDomainError(services.ErrorTypeNotFound, "unknown backend: gpt", services.ErrUnknownBackend), http.StatusNotFound, "not_found"},
		{"upstream failure", "claude", backends.NewUpstreamError(backends.Claude, 429, []byte(`{"error":{"message":"rate limited"}}`)), http.StatusBadGateway, "bad_gateway"},
		{"backend not initialized", "ollama", services.ErrBackendUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{"deadline exceeded", "auto", context.DeadlineExceeded, http.StatusGatewayTimeout, "gateway_timeout"},
		{"unexpected error", "localai", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := new(MockChatRouter)
			recorder := &recorderStub{}
			handler := NewChatHandler(router, recorder, testDefaults, zap.NewNop())

			if tt.model == "auto" {
				router.On("Route", mock.Anything, mock.Anything).Return(nil, tt.err)
			} else {
				router.On("ProcessWith", mock.Anything, tt.model, mock.Anything).Return(nil, tt.err)
			}

			w := httptest.NewRecorder()
			handler.HandleChat(w, newChatRequest(t, "/chat", map[string]interface{}{"message": "hi", "model": tt.model}))

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, tt.wantError, body["error"])

			entries := recorder.Entries()
			require.Len(t, entries, 1)
			assert.Equal(t, models.RoutedRequestFailed, entries[0].Status)
			require.NotNil(t, entries[0].ErrorMessage)
		})
	}
}

func TestHandleChat_ExhaustedDetails(t *testing.T) {
	router := new(MockChatRouter)
	handler := NewChatHandler(router, nil, testDefaults, zap.NewNop())

	router.On("Route", mock.Anything, mock.Anything).Return(nil, &orchestrator.ExhaustedError{
		Attempts: []orchestrator.Attempt{
			{Backend: backends.Claude, Err: services.ErrBackendUnavailable},
			{Backend: backends.Ollama, Err: backends.NewUpstreamError(backends.Ollama, 500, []byte("oops"))},
		},
	})

	w := httptest.NewRecorder()
	handler.HandleChat(w, newChatRequest(t, "/chat", map[string]interface{}{"message": "hi"}))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "all backends unavailable", body["message"])

	details := body["details"].(map[string]interface{})
	attempts := details["attempts"].(map[string]interface{})
	assert.Contains(t, attempts["claude"], "backend unavailable")
	assert.True(t, strings.HasPrefix(attempts["ollama"].(string), "ollama returned status 500"))
}

func TestHandleChat_RecorderFailureDoesNotFailRequest(t *testing.T) {
	router := new(MockChatRouter)
	recorder := &recorderStub{err: errors.New("request log buffer full")}
	handler := NewChatHandler(router, recorder, testDefaults, zap.NewNop())

	router.On("Route", mock.Anything, mock.Anything).
		Return(&orchestrator.Result{Backend: backends.Ollama, Text: "ok", TokensUsed: 2}, nil)

	w := httptest.NewRecorder()
	handler.HandleChat(w, newChatRequest(t, "/chat", map[string]interface{}{"message": "hi"}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, recorder.Entries(), 1)
}
