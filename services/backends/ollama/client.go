// Package ollama implements the self-hosted Ollama backend.
package ollama

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/upb/llm-router/config"
	"github.com/upb/llm-router/services"
	"github.com/upb/llm-router/services/backends"
	"go.uber.org/zap"
)

const (
	generatePath = "/api/generate"
	tagsPath     = "/api/tags"

	// tokensPerWord approximates Ollama's token count from whitespace separated
	// words. It is an estimate, not billed usage.
	tokensPerWord = 1.3
)

// Client talks to an Ollama server
type Client struct {
	config  config.LocalServiceConfig
	opts    backends.Options
	logger  *zap.Logger
	session backends.SessionHolder
}

// New creates an Ollama client
func New(cfg config.LocalServiceConfig, opts backends.Options, logger *zap.Logger) *Client {
	return &Client{
		config: cfg,
		opts:   opts,
		logger: logger.With(zap.String("backend", string(backends.Ollama))),
	}
}

// Identity returns backends.Ollama
func (c *Client) Identity() backends.Identity {
	return backends.Ollama
}

// Initialize opens a session against the configured base URL
func (c *Client) Initialize(ctx context.Context) error {
	if c.config.BaseURL == "" {
		c.logger.Warn("OLLAMA_URL not set, ollama will be unavailable")
		c.session.Release()
		return nil
	}

	c.session.Replace(backends.NewSession(c.config.BaseURL, c.config.Timeout, nil))
	c.logger.Info("ollama client initialized",
		zap.String("base_url", c.config.BaseURL),
		zap.String("model", c.config.Model))
	return nil
}

// Generate runs a non-streaming completion. Ollama reports no usage, so
// TokensUsed is EstimateTokens of the output.
func (c *Client) Generate(ctx context.Context, req *backends.GenerateRequest) (*backends.GenerateResult, error) {
	s := c.session.Current()
	if s == nil {
		return nil, fmt.Errorf("ollama: %w", services.ErrBackendUnavailable)
	}

	model := c.config.Model
	if req.Model != "" {
		model = req.Model
	}

	resp, err := s.PostJSON(ctx, generatePath, &generateRequest{
		Model:  model,
		Prompt: req.Message,
		Options: generateOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
		Stream: false,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	if !resp.OK() {
		return nil, backends.NewUpstreamError(backends.Ollama, resp.StatusCode, resp.Body)
	}

	text := gjson.GetBytes(resp.Body, "response").String()
	return &backends.GenerateResult{
		Text:       text,
		TokensUsed: EstimateTokens(text),
		Model:      model,
	}, nil
}

// EstimateTokens returns int(words * 1.3)
func EstimateTokens(text string) int {
	return int(float64(len(strings.Fields(text))) * tokensPerWord)
}

// IsAvailable lists the local models
func (c *Client) IsAvailable(ctx context.Context) bool {
	s := c.session.Current()
	if s == nil {
		return false
	}
	return s.Probe(ctx, tagsPath, c.opts.ProbeTimeout)
}

// Latency times a 10 token generation of "test"
func (c *Client) Latency(ctx context.Context) float64 {
	if c.session.Current() == nil {
		return -1
	}
	return backends.MeasureLatency(ctx, c.opts.LatencyTimeout, func(ctx context.Context) error {
		_, err := c.Generate(ctx, &backends.GenerateRequest{Message: "test", MaxTokens: 10, Temperature: 0.7})
		return err
	})
}

// Shutdown releases the session
func (c *Client) Shutdown(ctx context.Context) error {
	if c.session.Release() {
		c.logger.Info("ollama client shut down")
	}
	return nil
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Options generateOptions `json:"options"`
	Stream  bool            `json:"stream"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}
