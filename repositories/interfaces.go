package repositories

import (
	"context"

	"github.com/upb/llm-router/models"
)

// RequestLogRepository stores the outcome of every routed chat request
type RequestLogRepository interface {
	// Create inserts a request log entry
	Create(ctx context.Context, entry *models.RoutedRequest) error

	// ListRecent returns the newest entries first. An empty backend matches all.
	ListRecent(ctx context.Context, backend string, limit int) ([]*models.RoutedRequest, error)
}
