package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/upb/llm-router/services"
	"github.com/upb/llm-router/services/orchestrator"
	"github.com/upb/llm-router/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	var (
		status  int
		message = err.Error()
		details = services.GetErrorDetails(err)
	)

	// Exhaustion wraps every attempt's error, so it is matched before the
	// upstream and unavailable cases it may contain.
	switch {
	case services.IsExhaustedError(err):
		status = http.StatusServiceUnavailable
		message = services.ErrAllBackendsUnavailable.Message
		details = attemptDetails(err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusGatewayTimeout
		message = "request timed out or was cancelled"
	case services.IsValidationError(err):
		status = http.StatusBadRequest
	case services.IsNotFoundError(err):
		status = http.StatusNotFound
	case services.IsUnauthorizedError(err):
		status = http.StatusUnauthorized
	case services.IsExternalError(err):
		status = http.StatusBadGateway
	case services.IsUnavailableError(err):
		status = http.StatusServiceUnavailable
	case services.IsInternalError(err):
		logger.Error("internal server error", zap.Error(err))
		status = http.StatusInternalServerError
		message = "An internal error occurred"
		details = nil
	default:
		logger.Error("unhandled error type", zap.Error(err))
		status = http.StatusInternalServerError
		message = "An unexpected error occurred"
		details = nil
	}

	if writeErr := utils.WriteError(w, status, message, details); writeErr != nil {
		logger.Error("failed to write error response",
			zap.Int("status", status),
			zap.Error(writeErr))
	}
}

// attemptDetails lists why each backend was skipped during automatic routing
func attemptDetails(err error) map[string]interface{} {
	var exhausted *orchestrator.ExhaustedError
	if !errors.As(err, &exhausted) || len(exhausted.Attempts) == 0 {
		return nil
	}

	attempts := make(map[string]interface{}, len(exhausted.Attempts))
	for _, a := range exhausted.Attempts {
		attempts[string(a.Backend)] = a.Err.Error()
	}
	return map[string]interface{}{"attempts": attempts}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var details map[string]interface{}
	message := err.Error()

	if fields := utils.GetValidationFields(err); fields != nil {
		details = make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		message = "Validation failed"
	}

	if writeErr := utils.WriteBadRequest(w, message, details); writeErr != nil {
		logger.Error("failed to write validation error response", zap.Error(writeErr))
	}
}
