// Package orchestrator routes generation requests across the registered
// backends in a static priority order, falls back when a backend fails, and
// reports health and usage for every backend.
//
// Counters are per backend atomics. Each backend's client handle is guarded by
// its own RWMutex: requests hold the read side, Reload holds the write side of
// that one backend only.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/upb/llm-router/services/backends"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errShutdownSkipped = errors.New("shutdown skipped, reload still running")

// Orchestrator owns the backend clients, their counters and the process origin
type Orchestrator struct {
	priority []backends.Identity

	// order is priority followed by any registered backend outside it
	order  []backends.Identity
	slots  map[backends.Identity]*slot
	origin time.Time
	logger *zap.Logger

	reloads sync.WaitGroup
}

// New creates an orchestrator over every client in registry.
// priority must be non-empty, free of duplicates, and name only registered backends.
func New(registry *backends.Registry, priority []backends.Identity, logger *zap.Logger) (*Orchestrator, error) {
	if len(priority) == 0 {
		return nil, errors.New("priority order must name at least one backend")
	}

	o := &Orchestrator{
		slots:  make(map[backends.Identity]*slot, registry.Count()),
		origin: time.Now(),
		logger: logger,
	}

	for _, id := range registry.Identities() {
		client, err := registry.Get(id)
		if err != nil {
			return nil, err
		}
		o.slots[id] = &slot{id: id, client: client}
	}

	seen := make(map[backends.Identity]bool, len(priority))
	for _, id := range priority {
		if seen[id] {
			return nil, fmt.Errorf("priority order lists %q twice", id)
		}
		if _, ok := o.slots[id]; !ok {
			return nil, fmt.Errorf("priority order names %q but no client is registered for it", id)
		}
		seen[id] = true
	}
	o.priority = append([]backends.Identity(nil), priority...)

	o.order = append(o.order, o.priority...)
	for _, id := range registry.Identities() {
		if !seen[id] {
			o.order = append(o.order, id)
		}
	}

	return o, nil
}

// ParsePriority resolves configured backend names into identities
func ParsePriority(names []string) ([]backends.Identity, error) {
	out := make([]backends.Identity, 0, len(names))
	for _, name := range names {
		id, err := backends.ParseIdentity(name)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// Priority returns the automatic routing order
func (o *Orchestrator) Priority() []backends.Identity {
	return append([]backends.Identity(nil), o.priority...)
}

// Initialize initializes every client concurrently. One client failing never
// stops the others; the failures are logged and returned joined.
// Every counter is zero afterwards.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.logger.Info("initializing backend clients", zap.Int("count", len(o.order)))

	failures := o.fanOut(func(s *slot) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.client.Initialize(ctx)
	})

	for _, s := range o.slots {
		s.reset()
	}

	for _, err := range failures {
		o.logger.Error("backend initialization failed", zap.Error(err))
	}
	o.logger.Info("orchestrator initialized", zap.Int("failed", len(failures)))
	return errors.Join(failures...)
}

// Shutdown waits for running reloads, then shuts every client down
// concurrently. Once ctx is done, backends still held by a reload are
// skipped and reported as failures. Failures are logged and returned joined.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.logger.Info("shutting down backend clients")

	waited := make(chan struct{})
	go func() {
		o.reloads.Wait()
		close(waited)
	}()
	expired := false
	select {
	case <-waited:
	case <-ctx.Done():
		expired = true
		o.logger.Warn("shutdown deadline reached with reloads still running", zap.Error(ctx.Err()))
	}

	failures := o.fanOut(func(s *slot) error {
		if expired {
			if !s.mu.TryLock() {
				return errShutdownSkipped
			}
		} else {
			s.mu.Lock()
		}
		defer s.mu.Unlock()
		return s.client.Shutdown(ctx)
	})
	for _, err := range failures {
		o.logger.Error("backend shutdown failed", zap.Error(err))
	}
	o.logger.Info("all backend clients shut down")
	return errors.Join(failures...)
}

// fanOut runs fn for every slot concurrently and collects the failures,
// including panics, each tagged with its backend.
func (o *Orchestrator) fanOut(fn func(*slot) error) []error {
	results := make([]error, len(o.order))

	var g errgroup.Group
	for i, id := range o.order {
		s := o.slots[id]
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
				if err != nil {
					results[i] = fmt.Errorf("%s: %w", s.id, err)
				}
			}()
			return fn(s)
		})
	}
	_ = g.Wait()

	var failures []error
	for _, err := range results {
		if err != nil {
			failures = append(failures, err)
		}
	}
	return failures
}

// Uptime returns the time elapsed since New
func (o *Orchestrator) Uptime() time.Duration {
	return time.Since(o.origin)
}

// UptimeSeconds returns Uptime in seconds
func (o *Orchestrator) UptimeSeconds() float64 {
	return o.Uptime().Seconds()
}

// lookup resolves a caller supplied name to its slot
func (o *Orchestrator) lookup(name string) (*slot, error) {
	id, err := backends.ParseIdentity(name)
	if err != nil {
		return nil, err
	}
	s, ok := o.slots[id]
	if !ok {
		return nil, unknownBackend(name)
	}
	return s, nil
}
