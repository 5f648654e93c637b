package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/llm-router/services"
	"github.com/upb/llm-router/services/backends"
	"go.uber.org/zap"
)

// ReloadState is the lifecycle of a ReloadTask
type ReloadState string

const (
	ReloadPending   ReloadState = "pending"
	ReloadRunning   ReloadState = "running"
	ReloadSucceeded ReloadState = "succeeded"
	ReloadFailed    ReloadState = "failed"
)

// ReloadTask is the handle of one asynchronous backend reload
type ReloadTask struct {
	ID        uuid.UUID
	Backend   backends.Identity
	CreatedAt time.Time

	done chan struct{}

	mu         sync.Mutex
	state      ReloadState
	err        error
	finishedAt time.Time
}

// ReloadStatus is a point in time view of a ReloadTask
type ReloadStatus struct {
	ID         string            `json:"task_id"`
	Backend    backends.Identity `json:"model"`
	State      ReloadState       `json:"state"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

func newReloadTask(id backends.Identity) *ReloadTask {
	return &ReloadTask{
		ID:        uuid.New(),
		Backend:   id,
		CreatedAt: time.Now().UTC(),
		done:      make(chan struct{}),
		state:     ReloadPending,
	}
}

// Done is closed once the reload has finished
func (t *ReloadTask) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the reload finishes or ctx ends, returning the reload's error
func (t *ReloadTask) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current state
func (t *ReloadTask) State() ReloadState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the reload failure, if any
func (t *ReloadTask) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Status returns a serializable view of the task
func (t *ReloadTask) Status() ReloadStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := ReloadStatus{
		ID:        t.ID.String(),
		Backend:   t.Backend,
		State:     t.state,
		CreatedAt: t.CreatedAt,
	}
	if t.err != nil {
		st.Error = t.err.Error()
	}
	if !t.finishedAt.IsZero() {
		finished := t.finishedAt
		st.FinishedAt = &finished
	}
	return st
}

func (t *ReloadTask) setState(state ReloadState) {
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
}

func (t *ReloadTask) finish(err error) {
	t.mu.Lock()
	t.err = err
	t.finishedAt = time.Now().UTC()
	if err != nil {
		t.state = ReloadFailed
	} else {
		t.state = ReloadSucceeded
	}
	t.mu.Unlock()
	close(t.done)
}

// Reload re-initializes the named backend in the background and, once that
// succeeds, zeroes its counters. Unknown names fail synchronously.
// The reload holds exclusive access to that backend only.
func (o *Orchestrator) Reload(ctx context.Context, name string) (*ReloadTask, error) {
	s, err := o.lookup(name)
	if err != nil {
		return nil, err
	}

	task := newReloadTask(s.id)
	s.lastReload.Store(task)

	// The reload outlives the caller's request
	ctx = context.WithoutCancel(ctx)
	logger := o.logger.With(
		zap.String("backend", string(s.id)),
		zap.String("task_id", task.ID.String()))

	o.reloads.Add(1)
	go func() {
		defer o.reloads.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("backend reload panicked", zap.Any("panic", r))
				task.finish(fmt.Errorf("reload panicked: %v", r))
			}
		}()

		s.mu.Lock()
		defer s.mu.Unlock()

		task.setState(ReloadRunning)
		logger.Info("reloading backend")

		if err := s.client.Initialize(ctx); err != nil {
			logger.Error("backend reload failed", zap.Error(err))
			task.finish(err)
			return
		}
		s.reset()

		logger.Info("backend reloaded")
		task.finish(nil)
	}()

	return task, nil
}

// LastReload returns the most recent reload task started for the named backend
func (o *Orchestrator) LastReload(name string) (*ReloadTask, error) {
	s, err := o.lookup(name)
	if err != nil {
		return nil, err
	}
	task := s.lastReload.Load()
	if task == nil {
		return nil, services.ErrReloadNotFound
	}
	return task, nil
}
