package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/upb/llm-router/config"
	"github.com/upb/llm-router/internal/auth"
	"github.com/upb/llm-router/middleware"
	"github.com/upb/llm-router/repositories"
	"github.com/upb/llm-router/repositories/postgres"
	"github.com/upb/llm-router/services/backends"
	"github.com/upb/llm-router/services/backends/claude"
	"github.com/upb/llm-router/services/backends/localai"
	"github.com/upb/llm-router/services/backends/ollama"
	"github.com/upb/llm-router/services/orchestrator"
	"github.com/upb/llm-router/services/requestlog"
	"go.uber.org/zap"
)

// Dependencies holds everything the HTTP layer needs. It is the single
// owner of the orchestrator; nothing else keeps a reference to it.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// DB is nil when no request log database is configured
	DB *postgres.DB

	// Routing
	Registry     *backends.Registry
	Orchestrator *orchestrator.Orchestrator

	// Request log
	RequestLogs repositories.RequestLogRepository
	RequestLog  *requestlog.Service

	// Auth
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies.
// Backend clients are constructed but not initialized; call Start for that.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initBackends(cfg); err != nil {
		deps.closeDB()
		return nil, fmt.Errorf("failed to initialize backends: %w", err)
	}

	deps.initRequestLog()
	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase opens the request log database when one is configured
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if !cfg.Database.Enabled() {
		d.Logger.Info("no database configured, request log disabled")
		return nil
	}

	db, err := postgres.NewDB(cfg.Database, d.Logger)
	if err != nil {
		return err
	}

	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize request log schema: %w", err)
	}

	d.DB = db
	d.RequestLogs = postgres.NewRequestLogRepository(db, d.Logger)

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))
	return nil
}

// initBackends builds one client per backend and the orchestrator over them
func (d *Dependencies) initBackends(cfg *config.Config) error {
	opts := backends.Options{
		ProbeTimeout:   cfg.Routing.ProbeTimeout,
		LatencyTimeout: cfg.Routing.LatencyTimeout,
	}

	registry, err := backends.NewRegistry(
		claude.New(cfg.Backends.Claude, opts, d.Logger),
		localai.New(cfg.Backends.LocalAI, opts, d.Logger),
		ollama.New(cfg.Backends.Ollama, opts, d.Logger),
	)
	if err != nil {
		return err
	}

	priority, err := orchestrator.ParsePriority(cfg.Routing.Priority)
	if err != nil {
		return fmt.Errorf("invalid routing priority: %w", err)
	}

	orch, err := orchestrator.New(registry, priority, d.Logger)
	if err != nil {
		return err
	}

	d.Registry = registry
	d.Orchestrator = orch

	d.Logger.Info("backends registered",
		zap.Int("count", registry.Count()),
		zap.Strings("priority", cfg.Routing.Priority))
	return nil
}

func (d *Dependencies) initRequestLog() {
	// A nil interface, not a typed nil, disables the service
	var repo repositories.RequestLogRepository
	if d.RequestLogs != nil {
		repo = d.RequestLogs
	}
	d.RequestLog = requestlog.NewService(repo, d.Logger, requestlog.DefaultConfig())
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if cfg.Management.JWTSecret == "" {
		d.Logger.Warn("MANAGEMENT_JWT_SECRET not set, management endpoints are unauthenticated")
		d.AuthMiddleware = middleware.NewAuthMiddleware(nil, d.Logger)
		return
	}
	validator := auth.NewValidator(cfg.Management.JWTSecret, cfg.Management.Issuer)
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	d.Logger.Info("management auth enabled")
}

// Start initializes every backend client and the request log writers.
// Backend failures are logged by the orchestrator and never fail startup.
func (d *Dependencies) Start(ctx context.Context) error {
	if err := d.Orchestrator.Initialize(ctx); err != nil {
		d.Logger.Warn("some backends failed to initialize", zap.Error(err))
	}

	if err := d.RequestLog.Start(); err != nil {
		return fmt.Errorf("failed to start request log: %w", err)
	}
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Orchestrator != nil {
		if err := d.Orchestrator.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down backends: %w", err))
		}
	}

	if d.RequestLog != nil {
		if err := d.RequestLog.Stop(stopTimeout(ctx)); err != nil && !errors.Is(err, requestlog.ErrNotStarted) {
			errs = append(errs, fmt.Errorf("failed to stop request log: %w", err))
		}
	}

	if err := d.closeDB(); err != nil {
		errs = append(errs, err)
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}

func (d *Dependencies) closeDB() error {
	if d.DB == nil {
		return nil
	}
	if err := d.DB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	d.DB = nil
	d.Logger.Info("database connection closed")
	return nil
}

// stopTimeout is the time left before ctx expires, or five seconds without a deadline
func stopTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 {
			return left
		}
		return time.Millisecond
	}
	return 5 * time.Second
}
