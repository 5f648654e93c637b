package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/upb/llm-router/services"
	"github.com/upb/llm-router/services/backends"
)

// slot is the per-backend state
type slot struct {
	id backends.Identity

	// mu guards client: read side for requests and probes, write side for
	// initialize, reload and shutdown
	mu     sync.RWMutex
	client backends.Client

	requests atomic.Int64
	errors   atomic.Int64

	lastReload atomic.Pointer[ReloadTask]
}

func (s *slot) reset() {
	s.requests.Store(0)
	s.errors.Store(0)
}

// probe runs IsAvailable, collapsing a panic to false
func (s *slot) probe(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return s.client.IsAvailable(ctx)
}

func unknownBackend(name string) error {
	return services.NewDomainError(services.ErrorTypeNotFound,
		fmt.Sprintf("unknown backend %q", name), services.ErrUnknownBackend)
}
