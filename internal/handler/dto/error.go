package dto

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mtlprog/pointledger/internal/catalog"
	"github.com/mtlprog/pointledger/internal/domain"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error code and message, plus optional details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// NewErrorResponse creates a new error response.
func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	}
}

// ErrorDetails returns structured details for errors that carry them.
func ErrorDetails(err error) map[string]any {
	var dup *domain.DuplicateEntryError
	if errors.As(err, &dup) {
		return map[string]any{
			"task_code":            dup.TaskCode,
			"external_process_id":  dup.ExternalProcessID,
			"first_execution_date": dup.FirstExecutionDate.Format(domain.DateLayout),
			"already_used":         dup.AlreadyUsed,
		}
	}
	return nil
}

// MapDomainError maps domain errors to HTTP status codes and error codes.
func MapDomainError(err error) (status int, code string, message string) {
	message = err.Error()

	switch {
	// Ledger errors
	case errors.Is(err, domain.ErrDuplicateEntry):
		return http.StatusConflict, "DUPLICATE_ENTRY", message
	case errors.Is(err, domain.ErrAlreadyUsed):
		return http.StatusConflict, "ALREADY_USED", message
	case errors.Is(err, domain.ErrEntryLocked):
		return http.StatusConflict, "ENTRY_LOCKED", message
	case errors.Is(err, domain.ErrEntryExpired):
		return http.StatusConflict, "ENTRY_EXPIRED", message
	case errors.Is(err, domain.ErrEntryNotFound):
		return http.StatusNotFound, "ENTRY_NOT_FOUND", message

	// Selection and catalog errors
	case errors.Is(err, domain.ErrInvalidSelection):
		return http.StatusUnprocessableEntity, "INVALID_SELECTION", message
	case errors.Is(err, domain.ErrCatalogTaskInactive):
		return http.StatusUnprocessableEntity, "CATALOG_TASK_INACTIVE", message
	case errors.Is(err, catalog.ErrInvalidReference):
		return http.StatusUnprocessableEntity, "INVALID_REFERENCE", message

	// Permission errors
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden, "INSUFFICIENT_ACCESS", message
	case errors.Is(err, domain.ErrPersonInactive):
		return http.StatusForbidden, "INSUFFICIENT_ACCESS", message
	case errors.Is(err, domain.ErrPersonNotFound):
		return http.StatusNotFound, "PERSON_NOT_FOUND", message
	case errors.Is(err, domain.ErrQuotaPeriodNotFound):
		return http.StatusNotFound, "QUOTA_PERIOD_NOT_FOUND", message

	// Validation errors
	case errors.Is(err, domain.ErrEmptyProcessID),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidExecution),
		errors.Is(err, domain.ErrInvalidMonth),
		errors.Is(err, domain.ErrInvalidRole),
		errors.Is(err, domain.ErrInvalidStatus):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", message
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION", message

	// Storage errors
	case errors.Is(err, domain.ErrPersistenceFailure):
		slog.Error("persistence failure", "error", err)
		return http.StatusInternalServerError, "PERSISTENCE_FAILURE", "Persistence failure"

	// Default: treat as a storage failure
	default:
		// CRITICAL: Log unmapped error for debugging
		slog.Error("unmapped domain error returned to client",
			"error", err,
			"error_type", fmt.Sprintf("%T", err),
		)
		return http.StatusInternalServerError, "PERSISTENCE_FAILURE", "Internal server error"
	}
}
