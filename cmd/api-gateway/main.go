package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/upb/llm-router/app"
	"github.com/upb/llm-router/config"
	"github.com/upb/llm-router/internal/observability"
	"github.com/upb/llm-router/routes"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, nil); err != nil {
		fmt.Fprintf(os.Stderr, "llm-router: %v\n", err)
		os.Exit(1)
	}
}

// run serves until ctx is cancelled, then shuts down gracefully.
// ready, when non-nil, receives the listening address once the server accepts connections.
func run(ctx context.Context, ready chan<- string) error {
	cfg, err := config.New(ctx)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting llm-router",
		zap.String("environment", cfg.Environment),
		zap.Strings("priority", cfg.Routing.Priority))

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	if err := deps.Start(ctx); err != nil {
		_ = deps.Close(context.Background())
		return err
	}

	srv := newServer(cfg, routes.SetupRoutes(deps), logger)

	ln, err := net.Listen("tcp", cfg.Server.Address())
	if err != nil {
		_ = deps.Close(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Address(), err)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			zap.String("addr", ln.Addr().String()),
			zap.Bool("tls", cfg.Server.TLS.Enabled))
		if cfg.Server.TLS.Enabled {
			serveErr <- srv.ServeTLS(ln, cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
			return
		}
		serveErr <- srv.Serve(ln)
	}()
	if ready != nil {
		ready <- ln.Addr().String()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	if err := deps.Close(shutdownCtx); err != nil {
		logger.Error("dependency shutdown failed", zap.Error(err))
	}

	logger.Info("llm-router stopped")
	return runErr
}

func newServer(cfg *config.Config, handler http.Handler, logger *zap.Logger) *http.Server {
	errorLog, _ := zap.NewStdLogAt(logger.Named("http"), zap.WarnLevel)
	return &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ErrorLog:          errorLog,
	}
}
