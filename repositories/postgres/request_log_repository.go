package postgres

import (
	"context"
	"fmt"

	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/repositories"
	"github.com/upb/llm-router/services"
	"go.uber.org/zap"
)

// MaxListLimit caps ListRecent
const MaxListLimit = 500

// RequestLogRepository implements repositories.RequestLogRepository
type RequestLogRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRequestLogRepository creates a new request log repository
func NewRequestLogRepository(db *DB, logger *zap.Logger) repositories.RequestLogRepository {
	return &RequestLogRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a request log entry
func (r *RequestLogRepository) Create(ctx context.Context, entry *models.RoutedRequest) error {
	query := `
		INSERT INTO request_log (
			id, request_id, mode, requested, backend, model, status,
			tokens_used, latency_ms, error_message, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.RequestID,
		entry.Mode,
		entry.Requested,
		entry.Backend,
		entry.Model,
		entry.Status,
		entry.TokensUsed,
		entry.LatencyMs,
		entry.ErrorMessage,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create request log entry: %w: %w", services.ErrDatabaseError, err)
	}

	r.logger.Debug("request log entry created",
		zap.String("id", entry.ID.String()),
		zap.String("request_id", entry.RequestID))
	return nil
}

// ListRecent returns up to limit entries, newest first
func (r *RequestLogRepository) ListRecent(ctx context.Context, backend string, limit int) ([]*models.RoutedRequest, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := `
		SELECT id, request_id, mode, requested, backend, model, status,
		       tokens_used, latency_ms, error_message, created_at
		FROM request_log
		WHERE ($1 = '' OR backend = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, backend, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list request log: %w: %w", services.ErrDatabaseError, err)
	}
	defer rows.Close()

	var entries []*models.RoutedRequest
	for rows.Next() {
		entry := &models.RoutedRequest{}
		err := rows.Scan(
			&entry.ID,
			&entry.RequestID,
			&entry.Mode,
			&entry.Requested,
			&entry.Backend,
			&entry.Model,
			&entry.Status,
			&entry.TokensUsed,
			&entry.LatencyMs,
			&entry.ErrorMessage,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request log entry: %w: %w", services.ErrDatabaseError, err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate request log: %w: %w", services.ErrDatabaseError, err)
	}

	return entries, nil
}
