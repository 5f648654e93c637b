package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/upb/llm-router/services"
	"github.com/upb/llm-router/services/backends"
	"go.uber.org/zap"
)

// Request is a generation request as handed over by the transport layer
type Request struct {
	Message     string
	MaxTokens   int
	Temperature float64

	// Model overrides the chosen backend's configured model when set
	Model string
}

// Result is a completed generation
type Result struct {
	Backend    backends.Identity
	Text       string
	TokensUsed int
	Model      string

	// LatencyMs covers the generate call of the backend that answered
	LatencyMs float64
}

// Attempt records why one backend did not serve an automatically routed request
type Attempt struct {
	Backend backends.Identity
	Err     error
}

// ExhaustedError is returned by Route when no backend produced a result.
// It matches services.ErrAllBackendsUnavailable and every per-backend error.
type ExhaustedError struct {
	Attempts []Attempt
}

// Error implements the error interface
func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return services.ErrAllBackendsUnavailable.Message
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Backend, a.Err)
	}
	return fmt.Sprintf("%s (%s)", services.ErrAllBackendsUnavailable.Message, strings.Join(parts, "; "))
}

// Unwrap returns the exhaustion sentinel followed by each attempt's error
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts)+1)
	errs = append(errs, services.ErrAllBackendsUnavailable)
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// Route serves req with the first backend in priority order whose probe
// passes and whose generate succeeds. A generate failure counts against that
// backend and the walk continues. Cancelling ctx stops the walk and returns
// the context error.
func (o *Orchestrator) Route(ctx context.Context, req *Request) (*Result, error) {
	var attempts []Attempt

	for _, id := range o.priority {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := o.tryBackend(ctx, o.slots[id], req)
		if err == nil {
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		attempts = append(attempts, Attempt{Backend: id, Err: err})
	}

	o.logger.Error("all backends unavailable", zap.Int("attempted", len(attempts)))
	return nil, &ExhaustedError{Attempts: attempts}
}

// tryBackend probes s and, when it is available, generates with it
func (o *Orchestrator) tryBackend(ctx context.Context, s *slot, req *Request) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.probe(ctx) {
		o.logger.Debug("backend unavailable, trying next", zap.String("backend", string(s.id)))
		return nil, services.ErrBackendUnavailable
	}

	result, err := o.generate(ctx, s, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		s.errors.Add(1)
		o.logger.Warn("backend failed, trying next",
			zap.String("backend", string(s.id)),
			zap.Error(err))
		return nil, err
	}
	return result, nil
}

// ProcessWith serves req with the named backend without probing it.
// The request counter moves whatever the outcome; the client's error is returned as is.
func (o *Orchestrator) ProcessWith(ctx context.Context, name string, req *Request) (*Result, error) {
	s, err := o.lookup(name)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return o.generate(ctx, s, req)
}

// generate counts the request and calls the client. Callers hold s.mu.
func (o *Orchestrator) generate(ctx context.Context, s *slot, req *Request) (*Result, error) {
	s.requests.Add(1)

	start := time.Now()
	out, err := s.client.Generate(ctx, &backends.GenerateRequest{
		Message:     req.Message,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Model:       req.Model,
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, services.WrapInternal(fmt.Sprintf("%s returned no result", s.id), errors.New("nil result"))
	}

	return &Result{
		Backend:    s.id,
		Text:       out.Text,
		TokensUsed: out.TokensUsed,
		Model:      out.Model,
		LatencyMs:  float64(time.Since(start).Microseconds()) / 1000,
	}, nil
}
