package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/pointledger/internal/domain"
	"github.com/mtlprog/pointledger/internal/metrics"
	"github.com/mtlprog/pointledger/internal/repository"
	"github.com/shopspring/decimal"
)

// Listing page sizes.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// AccrueParams holds the input of one accrual.
type AccrueParams struct {
	PersonID          string
	TaskCode          string
	ExecutionDate     time.Time
	ExternalProcessID string

	// Quantity is the number of units performed; zero means one.
	Quantity int
}

// Accrual is the outcome of a successful accrual.
type Accrual struct {
	Created    int
	PointValue decimal.Decimal
	Total      decimal.Decimal
	Entries    []*domain.LedgerEntry
}

// UpdateEntryParams holds the correctable fields of an entry. Nil fields keep
// their current value.
type UpdateEntryParams struct {
	ExecutionDate     *time.Time
	ExternalProcessID *string
}

// LedgerService records earned points and corrects unconfirmed entries.
type LedgerService struct {
	pool       *pgxpool.Pool
	taskRepo   *repository.TaskRepository
	ledgerRepo *repository.LedgerRepository
	usageRepo  *repository.UsageLinkRepository
	validator  *Validator
	clock      Clock
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(
	pool *pgxpool.Pool,
	taskRepo *repository.TaskRepository,
	ledgerRepo *repository.LedgerRepository,
	usageRepo *repository.UsageLinkRepository,
	personRepo *repository.PersonRepository,
) *LedgerService {
	return &LedgerService{
		pool:       pool,
		taskRepo:   taskRepo,
		ledgerRepo: ledgerRepo,
		usageRepo:  usageRepo,
		validator:  NewValidator(personRepo),
		clock:      SystemClock,
	}
}

// WithClock replaces the clock used for "today".
func (s *LedgerService) WithClock(c Clock) *LedgerService {
	s.clock = c
	return s
}

// Accrue creates one ledger entry per unit performed and reports how many
// were created. The (person, task, process) tuple may be accrued only once;
// a second attempt fails with *domain.DuplicateEntryError.
func (s *LedgerService) Accrue(ctx context.Context, actor domain.Actor, params AccrueParams) (*Accrual, error) {
	processID := strings.TrimSpace(params.ExternalProcessID)
	if processID == "" {
		return nil, domain.ErrEmptyProcessID
	}
	if params.ExecutionDate.IsZero() {
		return nil, domain.ErrInvalidExecution
	}

	quantity := params.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 0 {
		return nil, fmt.Errorf("%w: got %d", domain.ErrInvalidQuantity, quantity)
	}

	if _, err := s.validator.CanAccess(ctx, actor, params.PersonID); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %w", domain.ErrPersistenceFailure, err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && err.Error() != "tx is closed" {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	task, err := s.taskRepo.GetByCode(ctx, tx, params.TaskCode)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", params.TaskCode, err)
	}
	if !task.IsActive {
		return nil, fmt.Errorf("%w: task %s is inactive", domain.ErrCatalogTaskInactive, task.Code)
	}

	if err := s.checkTupleFree(ctx, tx, params.PersonID, task.Code, processID); err != nil {
		return nil, err
	}

	executed := domain.DateOf(params.ExecutionDate)
	expires := domain.ExpirationFor(executed)

	entries := make([]*domain.LedgerEntry, quantity)
	for i := range entries {
		entries[i] = &domain.LedgerEntry{
			PersonID:          params.PersonID,
			TaskCode:          task.Code,
			ExecutionDate:     executed,
			PointValue:        task.PointValue,
			ExpirationDate:    expires,
			ExternalProcessID: processID,
			Quantity:          1,
			BatchSeq:          i + 1,
		}
	}

	if err := s.ledgerRepo.InsertBatch(ctx, tx, entries); err != nil {
		if repository.IsUniqueViolation(err, repository.ConstraintLedgerBatch) {
			// A concurrent accrual committed the same tuple first.
			return nil, s.duplicateAfterConflict(ctx, params.PersonID, task.Code, processID)
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		if repository.IsUniqueViolation(err, repository.ConstraintLedgerBatch) {
			return nil, s.duplicateAfterConflict(ctx, params.PersonID, task.Code, processID)
		}
		return nil, fmt.Errorf("%w: commit transaction: %w", domain.ErrPersistenceFailure, err)
	}

	metrics.EntriesAccrued.Add(float64(len(entries)))

	slog.Info("entries accrued",
		"person_id", params.PersonID,
		"task_code", task.Code,
		"external_process_id", processID,
		"count", len(entries),
		"point_value", task.PointValue.String(),
		"actor_id", actor.PersonID,
	)

	return &Accrual{
		Created:    len(entries),
		PointValue: task.PointValue,
		Total:      domain.SumPoints(entries),
		Entries:    entries,
	}, nil
}

// checkTupleFree returns a DuplicateEntryError when the tuple already has entries.
func (s *LedgerService) checkTupleFree(ctx context.Context, q repository.Querier, personID, taskCode, processID string) error {
	existing, err := s.ledgerRepo.FindByTuple(ctx, q, personID, taskCode, processID)
	if errors.Is(err, domain.ErrEntryNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	used, err := s.usageRepo.TupleUsed(ctx, q, personID, taskCode, processID)
	if err != nil {
		return err
	}

	metrics.DuplicateAccruals.Inc()

	return &domain.DuplicateEntryError{
		PersonID:           personID,
		TaskCode:           taskCode,
		ExternalProcessID:  processID,
		FirstExecutionDate: existing.ExecutionDate,
		AlreadyUsed:        used,
	}
}

// duplicateAfterConflict describes the committed entry that won a race. The
// failed transaction is unusable, so the lookup runs on the pool.
func (s *LedgerService) duplicateAfterConflict(ctx context.Context, personID, taskCode, processID string) error {
	err := s.checkTupleFree(ctx, s.pool, personID, taskCode, processID)
	if err == nil {
		return fmt.Errorf("%w: task %s process %s", domain.ErrDuplicateEntry, taskCode, processID)
	}
	return err
}

// lockEditable locks an entry and checks it can still be corrected: the actor
// sees its owner, it has no usage link and it has not expired.
func (s *LedgerService) lockEditable(ctx context.Context, actor domain.Actor, tx pgx.Tx, entryID string) (*domain.LedgerEntry, error) {
	entry, err := s.ledgerRepo.GetByIDForUpdate(ctx, tx, entryID)
	if err != nil {
		return nil, err
	}

	if _, err := s.validator.CanAccess(ctx, actor, entry.PersonID); err != nil {
		return nil, err
	}

	linked, err := s.usageRepo.IsLinked(ctx, tx, entry.ID)
	if err != nil {
		return nil, err
	}
	if linked {
		return nil, fmt.Errorf("%w: entry %s", domain.ErrEntryLocked, entry.ID)
	}

	if domain.Expired(entry, s.clock.today()) {
		return nil, fmt.Errorf("%w: entry %s expired on %s", domain.ErrEntryExpired, entry.ID, entry.ExpirationDate.Format(domain.DateLayout))
	}

	return entry, nil
}

// UpdateEntry corrects the execution date or process id of an entry that is
// not linked to any quota period. The expiration date follows the new
// execution date.
func (s *LedgerService) UpdateEntry(ctx context.Context, actor domain.Actor, entryID string, params UpdateEntryParams) (*domain.LedgerEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %w", domain.ErrPersistenceFailure, err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && err.Error() != "tx is closed" {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	entry, err := s.lockEditable(ctx, actor, tx, entryID)
	if err != nil {
		return nil, err
	}

	if params.ExecutionDate != nil {
		if params.ExecutionDate.IsZero() {
			return nil, domain.ErrInvalidExecution
		}
		entry.ExecutionDate = domain.DateOf(*params.ExecutionDate)
		entry.ExpirationDate = domain.ExpirationFor(entry.ExecutionDate)
	}

	if params.ExternalProcessID != nil {
		processID := strings.TrimSpace(*params.ExternalProcessID)
		if processID == "" {
			return nil, domain.ErrEmptyProcessID
		}

		if processID != entry.ExternalProcessID {
			if err := s.checkTupleFree(ctx, tx, entry.PersonID, entry.TaskCode, processID); err != nil {
				return nil, err
			}
			entry.ExternalProcessID = processID
			entry.BatchSeq = 1
		}
	}

	if err := s.ledgerRepo.Correct(ctx, tx, entry); err != nil {
		if repository.IsUniqueViolation(err, repository.ConstraintLedgerBatch) {
			return nil, fmt.Errorf("%w: task %s process %s", domain.ErrDuplicateEntry, entry.TaskCode, entry.ExternalProcessID)
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit transaction: %w", domain.ErrPersistenceFailure, err)
	}

	slog.Info("entry corrected",
		"entry_id", entry.ID,
		"person_id", entry.PersonID,
		"execution_date", entry.ExecutionDate.Format(domain.DateLayout),
		"external_process_id", entry.ExternalProcessID,
		"actor_id", actor.PersonID,
	)

	return entry, nil
}

// DeleteEntry removes an entry that is not linked to any quota period.
func (s *LedgerService) DeleteEntry(ctx context.Context, actor domain.Actor, entryID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %w", domain.ErrPersistenceFailure, err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && err.Error() != "tx is closed" {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	entry, err := s.lockEditable(ctx, actor, tx, entryID)
	if err != nil {
		return err
	}

	if err := s.ledgerRepo.Delete(ctx, tx, entry.ID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit transaction: %w", domain.ErrPersistenceFailure, err)
	}

	slog.Info("entry deleted",
		"entry_id", entry.ID,
		"person_id", entry.PersonID,
		"task_code", entry.TaskCode,
		"actor_id", actor.PersonID,
	)

	return nil
}

// ListEntries returns a page of a person's entries and the total match count.
func (s *LedgerService) ListEntries(ctx context.Context, actor domain.Actor, filters repository.EntryListFilters) ([]repository.EntryListResult, int, error) {
	if _, err := s.validator.CanAccess(ctx, actor, filters.PersonID); err != nil {
		return nil, 0, err
	}

	if filters.Limit <= 0 {
		filters.Limit = DefaultPageSize
	}
	if filters.Limit > MaxPageSize {
		filters.Limit = MaxPageSize
	}
	if filters.Offset < 0 {
		filters.Offset = 0
	}
	filters.AsOf = s.clock.today()

	return s.ledgerRepo.List(ctx, filters)
}
