// Package claude implements the hosted Anthropic Messages API backend.
package claude

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/upb/llm-router/config"
	"github.com/upb/llm-router/services"
	"github.com/upb/llm-router/services/backends"
	"go.uber.org/zap"
)

const (
	messagesPath = "/v1/messages"
	probePath    = "/v1/models?limit=1"
)

// Client talks to the Anthropic Messages API
type Client struct {
	config  config.ClaudeConfig
	opts    backends.Options
	logger  *zap.Logger
	session backends.SessionHolder
}

// New creates a Claude client. It holds no session until Initialize.
func New(cfg config.ClaudeConfig, opts backends.Options, logger *zap.Logger) *Client {
	return &Client{
		config: cfg,
		opts:   opts,
		logger: logger.With(zap.String("backend", string(backends.Claude))),
	}
}

// Identity returns backends.Claude
func (c *Client) Identity() backends.Identity {
	return backends.Claude
}

// Initialize opens a session. Without an API key the client stays unavailable.
func (c *Client) Initialize(ctx context.Context) error {
	if c.config.APIKey == "" {
		c.logger.Warn("ANTHROPIC_API_KEY not set, claude will be unavailable")
		c.session.Release()
		return nil
	}
	if c.config.BaseURL == "" {
		c.logger.Warn("anthropic base URL not set, claude will be unavailable")
		c.session.Release()
		return nil
	}

	header := make(http.Header)
	header.Set("x-api-key", c.config.APIKey)
	header.Set("anthropic-version", c.config.APIVersion)
	c.session.Replace(backends.NewSession(c.config.BaseURL, c.config.Timeout, header))

	c.logger.Info("claude client initialized",
		zap.String("base_url", c.config.BaseURL),
		zap.String("model", c.config.Model))
	return nil
}

// Generate sends one user message to the Messages API
func (c *Client) Generate(ctx context.Context, req *backends.GenerateRequest) (*backends.GenerateResult, error) {
	model := c.config.Model
	if req.Model != "" {
		model = req.Model
	}
	temperature := req.Temperature
	return c.send(ctx, &messageRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: &temperature,
		Messages:    []message{{Role: "user", Content: req.Message}},
	})
}

// IsAvailable lists a single model; it costs no tokens
func (c *Client) IsAvailable(ctx context.Context) bool {
	s := c.session.Current()
	if s == nil {
		return false
	}
	return s.Probe(ctx, probePath, c.opts.ProbeTimeout)
}

// Latency times a 10 token "ping" message against the default model
func (c *Client) Latency(ctx context.Context) float64 {
	if c.session.Current() == nil {
		return -1
	}
	return backends.MeasureLatency(ctx, c.opts.LatencyTimeout, func(ctx context.Context) error {
		_, err := c.send(ctx, &messageRequest{
			Model:     c.config.Model,
			MaxTokens: 10,
			Messages:  []message{{Role: "user", Content: "ping"}},
		})
		return err
	})
}

// Shutdown releases the session
func (c *Client) Shutdown(ctx context.Context) error {
	if c.session.Release() {
		c.logger.Info("claude client shut down")
	}
	return nil
}

func (c *Client) send(ctx context.Context, payload *messageRequest) (*backends.GenerateResult, error) {
	s := c.session.Current()
	if s == nil {
		return nil, fmt.Errorf("claude: %w", services.ErrBackendUnavailable)
	}

	resp, err := s.PostJSON(ctx, messagesPath, payload)
	if err != nil {
		return nil, fmt.Errorf("claude request failed: %w", err)
	}
	if !resp.OK() {
		return nil, backends.NewUpstreamError(backends.Claude, resp.StatusCode, resp.Body)
	}

	text := gjson.GetBytes(resp.Body, "content.0.text")
	if !text.Exists() {
		return nil, services.WrapExternal("claude returned no content", fmt.Errorf("body: %s", resp.Body))
	}

	return &backends.GenerateResult{
		Text:       text.String(),
		TokensUsed: int(gjson.GetBytes(resp.Body, "usage.output_tokens").Int()),
		Model:      payload.Model,
	}, nil
}

type messageRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
