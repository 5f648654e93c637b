package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/upb/llm-router/services/backends"
	"go.uber.org/zap"
)

// fakeClient is a scriptable backends.Client
type fakeClient struct {
	id backends.Identity

	mu          sync.Mutex
	available   bool
	probePanic  bool
	generateErr error
	initErr     error
	shutdownErr error
	latency     float64
	text        string
	tokens      int
	lastModel   string

	// generateHook, when set, replaces the canned generate outcome
	generateHook func(ctx context.Context) error

	// initGate, when set, blocks Initialize until it is closed
	initGate chan struct{}

	initCalls     atomic.Int32
	generateCalls atomic.Int32
	probeCalls    atomic.Int32
	shutdownCalls atomic.Int32

	// calls records generate invocations across clients, in order
	calls *callLog
}

type callLog struct {
	mu  sync.Mutex
	ids []backends.Identity
}

func (l *callLog) add(id backends.Identity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = append(l.ids, id)
}

func (l *callLog) list() []backends.Identity {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]backends.Identity(nil), l.ids...)
}

func newFake(id backends.Identity, log *callLog) *fakeClient {
	return &fakeClient{
		id:        id,
		available: true,
		latency:   12.5,
		text:      "answer from " + string(id),
		tokens:    7,
		calls:     log,
	}
}

func (f *fakeClient) set(fn func(f *fakeClient)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeClient) Identity() backends.Identity { return f.id }

func (f *fakeClient) Initialize(ctx context.Context) error {
	f.initCalls.Add(1)
	f.mu.Lock()
	gate, err := f.initGate, f.initErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeClient) Generate(ctx context.Context, req *backends.GenerateRequest) (*backends.GenerateResult, error) {
	f.generateCalls.Add(1)
	if f.calls != nil {
		f.calls.add(f.id)
	}

	f.mu.Lock()
	f.lastModel = req.Model
	hook, genErr, text, tokens := f.generateHook, f.generateErr, f.text, f.tokens
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}
	if genErr != nil {
		return nil, genErr
	}
	return &backends.GenerateResult{Text: text, TokensUsed: tokens, Model: "model-" + string(f.id)}, nil
}

func (f *fakeClient) IsAvailable(ctx context.Context) bool {
	f.probeCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.probePanic {
		panic("probe exploded")
	}
	return f.available
}

func (f *fakeClient) Latency(ctx context.Context) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.available {
		return -1
	}
	return f.latency
}

func (f *fakeClient) Shutdown(ctx context.Context) error {
	f.shutdownCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdownErr
}

// fixture is three fake backends behind an initialized orchestrator
type fixture struct {
	orch   *Orchestrator
	claude *fakeClient
	local  *fakeClient
	ollama *fakeClient
	calls  *callLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	calls := &callLog{}
	f := &fixture{
		claude: newFake(backends.Claude, calls),
		local:  newFake(backends.LocalAI, calls),
		ollama: newFake(backends.Ollama, calls),
		calls:  calls,
	}

	registry, err := backends.NewRegistry(f.claude, f.local, f.ollama)
	require.NoError(t, err)

	f.orch, err = New(registry, backends.Identities(), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, f.orch.Initialize(context.Background()))
	return f
}

func (f *fixture) counters(id backends.Identity) (int64, int64) {
	s := f.orch.slots[id]
	return s.requests.Load(), s.errors.Load()
}

var (
	testRequest   = &Request{Message: "hello", MaxTokens: 100, Temperature: 0.7}
	upstreamError = backends.NewUpstreamError(backends.Claude, 500, []byte(`{"error":{"message":"boom"}}`))
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}
