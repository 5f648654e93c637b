// Package localai implements the self-hosted LocalAI backend, which speaks the
// OpenAI chat completions dialect.
package localai

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/upb/llm-router/config"
	"github.com/upb/llm-router/services"
	"github.com/upb/llm-router/services/backends"
	"go.uber.org/zap"
)

const (
	completionsPath = "/v1/chat/completions"
	modelsPath      = "/v1/models"
)

// Client talks to a LocalAI service
type Client struct {
	config  config.LocalServiceConfig
	opts    backends.Options
	logger  *zap.Logger
	session backends.SessionHolder
}

// New creates a LocalAI client
func New(cfg config.LocalServiceConfig, opts backends.Options, logger *zap.Logger) *Client {
	return &Client{
		config: cfg,
		opts:   opts,
		logger: logger.With(zap.String("backend", string(backends.LocalAI))),
	}
}

// Identity returns backends.LocalAI
func (c *Client) Identity() backends.Identity {
	return backends.LocalAI
}

// Initialize opens a session against the configured base URL
func (c *Client) Initialize(ctx context.Context) error {
	if c.config.BaseURL == "" {
		c.logger.Warn("LOCALAI_URL not set, localai will be unavailable")
		c.session.Release()
		return nil
	}

	c.session.Replace(backends.NewSession(c.config.BaseURL, c.config.Timeout, nil))
	c.logger.Info("localai client initialized",
		zap.String("base_url", c.config.BaseURL),
		zap.String("model", c.config.Model))
	return nil
}

// Generate runs a single-message chat completion
func (c *Client) Generate(ctx context.Context, req *backends.GenerateRequest) (*backends.GenerateResult, error) {
	s := c.session.Current()
	if s == nil {
		return nil, fmt.Errorf("localai: %w", services.ErrBackendUnavailable)
	}

	model := c.config.Model
	if req.Model != "" {
		model = req.Model
	}

	resp, err := s.PostJSON(ctx, completionsPath, &chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: req.Message}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("localai request failed: %w", err)
	}
	if !resp.OK() {
		return nil, backends.NewUpstreamError(backends.LocalAI, resp.StatusCode, resp.Body)
	}

	text := gjson.GetBytes(resp.Body, "choices.0.message.content")
	if !text.Exists() {
		return nil, services.WrapExternal("localai returned no choices", fmt.Errorf("body: %s", resp.Body))
	}

	return &backends.GenerateResult{
		Text:       text.String(),
		TokensUsed: int(gjson.GetBytes(resp.Body, "usage.total_tokens").Int()),
		Model:      model,
	}, nil
}

// IsAvailable lists the loaded models
func (c *Client) IsAvailable(ctx context.Context) bool {
	s := c.session.Current()
	if s == nil {
		return false
	}
	return s.Probe(ctx, modelsPath, c.opts.ProbeTimeout)
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
		c.logger.Info("localai client shut down")
	}
	return nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
