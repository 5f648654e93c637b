package models

import (
	"time"

	"github.com/google/uuid"
)

// RoutedRequestStatus represents the outcome of a routed chat request
type RoutedRequestStatus string

const (
	RoutedRequestSucceeded RoutedRequestStatus = "succeeded"
	RoutedRequestFailed    RoutedRequestStatus = "failed"
)

// Routing modes recorded with each request
const (
	RoutingModeAuto     = "auto"
	RoutingModeExplicit = "explicit"
)

// RoutedRequest is one entry of the request log
type RoutedRequest struct {
	ID        uuid.UUID           `json:"id" db:"id"`
	RequestID string              `json:"request_id" db:"request_id"`
	Mode      string              `json:"mode" db:"mode"`
	Requested string              `json:"requested" db:"requested"` // backend named by the caller, "auto" when routed
	Backend   *string             `json:"backend,omitempty" db:"backend"`
	Model     *string             `json:"model,omitempty" db:"model"`
	Status    RoutedRequestStatus `json:"status" db:"status"`

	TokensUsed int `json:"tokens_used" db:"tokens_used"`
	LatencyMs  int `json:"latency_ms" db:"latency_ms"`

	ErrorMessage *string   `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the RoutedRequest model
func (RoutedRequest) TableName() string {
	return "request_log"
}

// NewRoutedRequest creates a log entry for a request addressed to requested
// ("auto" for priority routing).
func NewRoutedRequest(requestID, requested string) *RoutedRequest {
	mode := RoutingModeExplicit
	if requested == RoutingModeAuto {
		mode = RoutingModeAuto
	}
	return &RoutedRequest{
		ID:        uuid.New(),
		RequestID: requestID,
		Mode:      mode,
		Requested: requested,
		CreatedAt: time.Now().UTC(),
	}
}

// MarkAsSucceeded records the backend that answered
func (r *RoutedRequest) MarkAsSucceeded(backend, model string, tokensUsed, latencyMs int) {
	r.Status = RoutedRequestSucceeded
	r.Backend = &backend
	if model != "" {
		r.Model = &model
	}
	r.TokensUsed = tokensUsed
	r.LatencyMs = latencyMs
}

// MarkAsFailed records the error that ended the request
func (r *RoutedRequest) MarkAsFailed(errorMessage string, latencyMs int) {
	r.Status = RoutedRequestFailed
	r.ErrorMessage = &errorMessage
	r.LatencyMs = latencyMs
	if r.Mode == RoutingModeExplicit {
		backend := r.Requested
		r.Backend = &backend
	}
}
