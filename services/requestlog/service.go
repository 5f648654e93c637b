package requestlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/repositories"
	"go.uber.org/zap"
)

var (
	ErrNotStarted     = errors.New("request log service not started")
	ErrAlreadyStarted = errors.New("request log service already started")
	ErrBufferFull     = errors.New("request log buffer full")
	ErrDisabled       = errors.New("request log disabled")
)

// Service writes request log entries asynchronously.
// A Service built without a repository is disabled: Record is a no-op.
type Service struct {
	repo         repositories.RequestLogRepository
	logger       *zap.Logger
	entries      chan *models.RoutedRequest
	workerCount  int
	bufferSize   int
	writeTimeout time.Duration
	wg           sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// Config holds configuration for the Service
type Config struct {
	BufferSize   int
	WorkerCount  int
	WriteTimeout time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   1000,
		WorkerCount:  2,
		WriteTimeout: 5 * time.Second,
	}
}

// NewService creates a request log service. repo may be nil.
func NewService(repo repositories.RequestLogRepository, logger *zap.Logger, cfg Config) *Service {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultConfig().WorkerCount
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}

	return &Service{
		repo:         repo,
		logger:       logger,
		entries:      make(chan *models.RoutedRequest, cfg.BufferSize),
		workerCount:  cfg.WorkerCount,
		bufferSize:   cfg.BufferSize,
		writeTimeout: cfg.WriteTimeout,
	}
}

// Enabled reports whether entries are persisted
func (s *Service) Enabled() bool {
	return s.repo != nil
}

// Start launches the background writers
func (s *Service) Start() error {
	if !s.Enabled() {
		s.logger.Info("request log disabled, no database configured")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started request log service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop drains pending entries, giving up after timeout
func (s *Service) Stop(timeout time.Duration) error {
	if !s.Enabled() {
		return nil
	}

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.entries)
	s.mu.Unlock()

	s.logger.Info("stopping request log service", zap.Int("pending_entries", len(s.entries)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("request log service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("request log service stop timeout after %v", timeout)
	}
}

// Record queues an entry without blocking. Entries are dropped when the buffer is full.
func (s *Service) Record(entry *models.RoutedRequest) error {
	if !s.Enabled() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return ErrNotStarted
	}

	select {
	case s.entries <- entry:
		return nil
	default:
		s.logger.Warn("request log buffer full, dropping entry",
			zap.String("request_id", entry.RequestID),
			zap.String("status", string(entry.Status)))
		return ErrBufferFull
	}
}

// Recent reads the newest persisted entries
func (s *Service) Recent(ctx context.Context, backend string, limit int) ([]*models.RoutedRequest, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	return s.repo.ListRecent(ctx, backend, limit)
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	for entry := range s.entries {
		if err := s.write(entry); err != nil {
			s.logger.Error("failed to write request log entry",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("request_id", entry.RequestID))
		}
	}
}

func (s *Service) write(entry *models.RoutedRequest) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	return s.repo.Create(ctx, entry)
}

// Stats is a snapshot of the service state
type Stats struct {
	Enabled        bool `json:"enabled"`
	BufferSize     int  `json:"buffer_size"`
	PendingEntries int  `json:"pending_entries"`
	WorkerCount    int  `json:"worker_count"`
	Started        bool `json:"started"`
}

// GetStats returns statistics about the service
func (s *Service) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Enabled:        s.Enabled(),
		BufferSize:     s.bufferSize,
		PendingEntries: len(s.entries),
		WorkerCount:    s.workerCount,
		Started:        s.started,
	}
}
