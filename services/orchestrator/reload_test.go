package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-router/services"
	"github.com/upb/llm-router/services/backends"
)

func TestReload_ResetsOnlyTargetCounters(t *testing.T) {
	f := newFixture(t)
	f.claude.set(func(c *fakeClient) { c.generateErr = errors.New("boom") })
	for i := 0; i < 3; i++ {
		_, err := f.orch.Route(context.Background(), testRequest)
		require.NoError(t, err)
	}
	_, err := f.orch.ProcessWith(context.Background(), "ollama", testRequest)
	require.NoError(t, err)

	task, err := f.orch.Reload(context.Background(), "claude")
	require.NoError(t, err)
	require.NoError(t, task.Wait(context.Background()))

	assert.Equal(t, ReloadSucceeded, task.State())
	assert.Equal(t, backends.Claude, task.Backend)
	assert.Equal(t, int32(2), f.claude.initCalls.Load())

	m := f.orch.Metrics(context.Background())
	assert.Zero(t, m.RequestsPerModel[backends.Claude])
	assert.Zero(t, m.ErrorsPerModel[backends.Claude])
	assert.Equal(t, int64(3), m.RequestsPerModel[backends.LocalAI])
	assert.Equal(t, int64(1), m.RequestsPerModel[backends.Ollama])
}

func TestReload_UnknownBackend(t *testing.T) {
	f := newFixture(t)

	task, err := f.orch.Reload(context.Background(), "gpt")
	assert.Nil(t, task)
	assert.True(t, errors.Is(err, services.ErrUnknownBackend))

	_, err = f.orch.LastReload("gpt")
	assert.True(t, errors.Is(err, services.ErrUnknownBackend))
}

func TestReload_Failure(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.ProcessWith(context.Background(), "ollama", testRequest)
	require.NoError(t, err)

	f.ollama.set(func(c *fakeClient) { c.initErr = errors.New("bad config") })

	task, err := f.orch.Reload(context.Background(), "ollama")
	require.NoError(t, err)

	err = task.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, ReloadFailed, task.State())
	assert.Equal(t, "bad config", task.Status().Error)

	requests, _ := f.counters(backends.Ollama)
	assert.Equal(t, int64(1), requests)
}

func TestReload_DoesNotBlockOtherBackends(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	f.claude.set(func(c *fakeClient) { c.initGate = gate })

	task, err := f.orch.Reload(context.Background(), "claude")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return task.State() == ReloadRunning }, time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.ProcessWith(context.Background(), "localai", testRequest)
		done <- err
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("request to another backend blocked behind a reload")
	}

	close(gate)
	require.NoError(t, task.Wait(context.Background()))
}

func TestReload_WaitsForInFlightRequests(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	started := make(chan struct{})
	f.ollama.set(func(c *fakeClient) {
		c.generateHook = func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		}
	})

	go f.orch.ProcessWith(context.Background(), "ollama", testRequest)
	<-started

	task, err := f.orch.Reload(context.Background(), "ollama")
	require.NoError(t, err)

	select {
	case <-task.Done():
		t.Fatal("reload finished while a request held the backend")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, ReloadPending, task.State())

	close(release)
	require.NoError(t, task.Wait(context.Background()))

	requests, _ := f.counters(backends.Ollama)
	assert.Zero(t, requests)
}

func TestReload_OutlivesCallerContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	task, err := f.orch.Reload(ctx, "localai")
	require.NoError(t, err)
	cancel()

	require.NoError(t, task.Wait(context.Background()))
	assert.Equal(t, ReloadSucceeded, task.State())
}

func TestReloadTask_WaitHonoursContext(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	defer close(gate)
	f.local.set(func(c *fakeClient) { c.initGate = gate })

	task, err := f.orch.Reload(context.Background(), "mistral")
	require.NoError(t, err)
	assert.Equal(t, backends.LocalAI, task.Backend)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.True(t, errors.Is(task.Wait(ctx), context.DeadlineExceeded))
}

func TestLastReload(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.LastReload("claude")
	assert.True(t, errors.Is(err, services.ErrReloadNotFound))
	assert.False(t, errors.Is(err, services.ErrUnknownBackend))

	_, err = f.orch.LastReload("gpt")
	assert.True(t, errors.Is(err, services.ErrUnknownBackend))
	assert.False(t, errors.Is(err, services.ErrReloadNotFound))

	first, err := f.orch.Reload(context.Background(), "claude")
	require.NoError(t, err)
	require.NoError(t, first.Wait(context.Background()))

	second, err := f.orch.Reload(context.Background(), "claude")
	require.NoError(t, err)
	require.NoError(t, second.Wait(context.Background()))

	last, err := f.orch.LastReload("claude")
	require.NoError(t, err)
	assert.Equal(t, second.ID, last.ID)
	assert.NotEqual(t, first.ID, second.ID)

	status := last.Status()
	assert.Equal(t, second.ID.String(), status.ID)
	assert.Equal(t, ReloadSucceeded, status.State)
	assert.NotNil(t, status.FinishedAt)
	assert.Empty(t, status.Error)
}
