package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-router/config"
	"github.com/upb/llm-router/services"
	"github.com/upb/llm-router/services/backends"
	"go.uber.org/zap"
)

var testOpts = backends.Options{ProbeTimeout: time.Second, LatencyTimeout: time.Second}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := New(config.LocalServiceConfig{
		BaseURL: server.URL,
		Model:   "llama2",
		Timeout: 5 * time.Second,
	}, testOpts, zap.NewNop())
	require.NoError(t, c.Initialize(context.Background()))
	t.Cleanup(func() { c.Shutdown(context.Background()) })
	return c
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"one", 1},
		{"one two", 2},
		{"the quick brown fox jumps", 6},
		{"  spaced\tout\nwords  ", 3},
		{"a b c d e f g h i j", 13},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateTokens(tt.text))
		})
	}
}

func TestClient_Generate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3", req.Model)
		assert.Equal(t, "Why is the sky blue?", req.Prompt)
		assert.Equal(t, 0.5, req.Options.Temperature)
		assert.Equal(t, 128, req.Options.NumPredict)
		assert.False(t, req.Stream)

		w.Write([]byte(`{"model":"llama3","response":"Rayleigh scattering of sunlight","done":true}`))
	})

	result, err := c.Generate(context.Background(), &backends.GenerateRequest{
		Message:     "Why is the sky blue?",
		MaxTokens:   128,
		Temperature: 0.5,
		Model:       "llama3",
	})
	require.NoError(t, err)
	assert.Equal(t, "Rayleigh scattering of sunlight", result.Text)
	assert.Equal(t, 5, result.TokensUsed)
	assert.Equal(t, "llama3", result.Model)
}

func TestClient_GenerateUpstreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model 'llama2' not found, try pulling it first"}`))
	})

	_, err := c.Generate(context.Background(), &backends.GenerateRequest{Message: "hi", MaxTokens: 5})

	var upstream *backends.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusNotFound, upstream.StatusCode)
	assert.Equal(t, backends.Ollama, upstream.Backend)
	assert.Contains(t, upstream.Message, "not found")
}

func TestClient_IsAvailable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"tags listed", http.StatusOK, true},
		{"server error", http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/tags", r.URL.Path)
				w.WriteHeader(tt.status)
			})
			assert.Equal(t, tt.want, c.IsAvailable(context.Background()))
		})
	}
}

func TestClient_IsAvailableTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	c := New(config.LocalServiceConfig{BaseURL: server.URL, Timeout: 5 * time.Second},
		backends.Options{ProbeTimeout: 50 * time.Millisecond, LatencyTimeout: time.Second}, zap.NewNop())
	require.NoError(t, c.Initialize(context.Background()))
	defer c.Shutdown(context.Background())

	start := time.Now()
	assert.False(t, c.IsAvailable(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_Uninitialized(t *testing.T) {
	c := New(config.LocalServiceConfig{BaseURL: "http://127.0.0.1:1"}, testOpts, zap.NewNop())

	assert.False(t, c.IsAvailable(context.Background()))
	assert.Equal(t, -1.0, c.Latency(context.Background()))
	_, err := c.Generate(context.Background(), &backends.GenerateRequest{Message: "hi"})
	assert.True(t, errors.Is(err, services.ErrBackendUnavailable))
	assert.NoError(t, c.Shutdown(context.Background()))
}
