package domain

import (
	"errors"
	"fmt"
	"time"
)

// Domain-specific errors for business logic validation.
var (
	// Ledger errors
	ErrDuplicateEntry   = errors.New("duplicate ledger entry")
	ErrAlreadyUsed      = errors.New("ledger entry already used for a confirmed quota")
	ErrEntryNotFound    = errors.New("ledger entry not found")
	ErrEntryLocked      = errors.New("ledger entry is linked to a quota period")
	ErrEntryExpired     = errors.New("ledger entry is expired")
	ErrEmptyProcessID   = errors.New("external process id is required")
	ErrInvalidQuantity  = errors.New("quantity must be a positive integer")
	ErrInvalidExecution = errors.New("execution date is required")

	// Selection errors
	ErrInvalidSelection = errors.New("invalid selection")
	ErrEmptySelection   = fmt.Errorf("%w: no entries selected", ErrInvalidSelection)

	// Catalog errors
	ErrCatalogTaskInactive = errors.New("task is inactive or unknown")

	// Quota period errors
	ErrQuotaPeriodNotFound = errors.New("quota period not found")
	ErrInvalidTransition   = errors.New("invalid quota status transition")
	ErrInvalidStatus       = errors.New("invalid quota status")
	ErrInvalidMonth        = errors.New("invalid month, expected YYYY-MM")

	// Person errors
	ErrPersonNotFound   = errors.New("person not found")
	ErrPersonInactive   = errors.New("person is inactive")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidRole      = errors.New("invalid role")

	// Storage errors
	ErrPersistenceFailure = errors.New("persistence failure")
)

// DuplicateEntryError reports an accrual that collides with an existing
// (person, task, process) tuple. AlreadyUsed tells whether the existing
// points were already confirmed against a quota period.
type DuplicateEntryError struct {
	PersonID           string
	TaskCode           string
	ExternalProcessID  string
	FirstExecutionDate time.Time
	AlreadyUsed        bool
}

func (e *DuplicateEntryError) Error() string {
	situation := "points not used yet"
	if e.AlreadyUsed {
		situation = "points already used"
	}
	return fmt.Sprintf("%s: task %s process %s first registered on %s (%s)",
		ErrDuplicateEntry, e.TaskCode, e.ExternalProcessID,
		e.FirstExecutionDate.Format(DateLayout), situation)
}

func (e *DuplicateEntryError) Unwrap() error {
	return ErrDuplicateEntry
}
