package handlers

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/services/orchestrator"
)

// MockChatRouter is a mock implementation of ChatRouter
type MockChatRouter struct {
	mock.Mock
}

func (m *MockChatRouter) Route(ctx context.Context, req *orchestrator.Request) (*orchestrator.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orchestrator.Result), args.Error(1)
}

func (m *MockChatRouter) ProcessWith(ctx context.Context, name string, req *orchestrator.Request) (*orchestrator.Result, error) {
	args := m.Called(ctx, name, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orchestrator.Result), args.Error(1)
}

// recorderStub collects recorded entries
type recorderStub struct {
	mu      sync.Mutex
	entries []*models.RoutedRequest
	err     error
}

func (r *recorderStub) Record(entry *models.RoutedRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return r.err
}

func (r *recorderStub) Entries() []*models.RoutedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.RoutedRequest(nil), r.entries...)
}

// MockHealthMonitor is a mock implementation of HealthMonitor
type MockHealthMonitor struct {
	mock.Mock
}

func (m *MockHealthMonitor) StatusAll(ctx context.Context) []orchestrator.HealthSnapshot {
	args := m.Called(ctx)
	return args.Get(0).([]orchestrator.HealthSnapshot)
}

func (m *MockHealthMonitor) IsReady(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

func (m *MockHealthMonitor) UptimeSeconds() float64 {
	return m.Called().Get(0).(float64)
}

// MockModelManager is a mock implementation of ModelManager
type MockModelManager struct {
	mock.Mock
}

func (m *MockModelManager) ListModels(ctx context.Context) *orchestrator.ModelList {
	return m.Called(ctx).Get(0).(*orchestrator.ModelList)
}

func (m *MockModelManager) Metrics(ctx context.Context) *orchestrator.Metrics {
	return m.Called(ctx).Get(0).(*orchestrator.Metrics)
}

func (m *MockModelManager) Reload(ctx context.Context, name string) (*orchestrator.ReloadTask, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orchestrator.ReloadTask), args.Error(1)
}

func (m *MockModelManager) LastReload(name string) (*orchestrator.ReloadTask, error) {
	args := m.Called(name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orchestrator.ReloadTask), args.Error(1)
}

// MockRequestLogReader is a mock implementation of RequestLogReader
type MockRequestLogReader struct {
	mock.Mock
}

func (m *MockRequestLogReader) Recent(ctx context.Context, backend string, limit int) ([]*models.RoutedRequest, error) {
	args := m.Called(ctx, backend, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.RoutedRequest), args.Error(1)
}
