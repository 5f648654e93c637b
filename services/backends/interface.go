package backends

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/upb/llm-router/services"
)

// Identity names one generation backend. It keys every piece of per-backend state.
type Identity string

const (
	Claude  Identity = "claude"
	LocalAI Identity = "localai"
	Ollama  Identity = "ollama"
)

// aliases maps the public names some callers still use onto canonical identities
var aliases = map[string]Identity{
	"mistral": LocalAI,
}

// Identities returns every known identity in default priority order
func Identities() []Identity {
	return []Identity{Claude, LocalAI, Ollama}
}

// ParseIdentity resolves a caller supplied name. Matching is case insensitive.
func ParseIdentity(name string) (Identity, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch id := Identity(key); id {
	case Claude, LocalAI, Ollama:
		return id, nil
	}
	if id, ok := aliases[key]; ok {
		return id, nil
	}
	return "", services.NewDomainError(services.ErrorTypeNotFound,
		fmt.Sprintf("unknown backend %q", name), services.ErrUnknownBackend)
}

func (i Identity) String() string {
	return string(i)
}

// Client is the capability contract every backend implements.
//
// IsAvailable and Latency never fail: any probe error collapses to false and -1.
// Shutdown is safe to call when Initialize never succeeded.
type Client interface {
	// Identity returns the backend this client talks to
	Identity() Identity

	// Initialize acquires the HTTP session. A missing credential or endpoint is
	// logged and leaves the client unavailable; it is not an error.
	// Calling it again releases the previous session first.
	Initialize(ctx context.Context) error

	// Generate produces a completion for a single user message
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)

	// IsAvailable runs a bounded, lightweight liveness probe
	IsAvailable(ctx context.Context) bool

	// Latency performs one minimal real round trip and returns its duration in
	// milliseconds, or -1 when it cannot be measured
	Latency(ctx context.Context) float64

	// Shutdown releases the session
	Shutdown(ctx context.Context) error
}

// GenerateRequest is a single-turn generation request
type GenerateRequest struct {
	Message     string
	MaxTokens   int
	Temperature float64

	// Model overrides the backend's configured model when set
	Model string
}

// GenerateResult is the outcome of a successful generation
type GenerateResult struct {
	Text       string
	TokensUsed int

	// Model is the backend model that produced Text
	Model string
}

// Options holds the bounds shared by every client
type Options struct {
	ProbeTimeout   time.Duration
	LatencyTimeout time.Duration
}

// UpstreamError reports a backend that was reachable but answered with a
// non-success status.
type UpstreamError struct {
	Backend    Identity
	StatusCode int
	Body       string

	// Message is the error message extracted from Body, when there is one
	Message string
}

// NewUpstreamError builds an UpstreamError, extracting the message from the
// common {"error": {"message": ...}} and {"error": "..."} shapes.
func NewUpstreamError(backend Identity, statusCode int, body []byte) *UpstreamError {
	e := &UpstreamError{
		Backend:    backend,
		StatusCode: statusCode,
		Body:       string(body),
	}
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
			e.Message = msg.String()
		} else if msg := gjson.GetBytes(body, "error"); msg.Type == gjson.String {
			e.Message = msg.String()
		}
	}
	return e
}

// Error implements the error interface
func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s returned status %d: %s", e.Backend, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s returned status %d", e.Backend, e.StatusCode)
}

// Unwrap lets errors.Is match services.ErrUpstream
func (e *UpstreamError) Unwrap() error {
	return services.ErrUpstream
}
