package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/pointledger/internal/domain"
	"github.com/mtlprog/pointledger/internal/metrics"
	"github.com/mtlprog/pointledger/internal/repository"
	"github.com/shopspring/decimal"
)

// ConfirmParams holds a confirmation request.
type ConfirmParams struct {
	PersonID string
	Month    domain.YearMonth
	EntryIDs []string
}

// Confirmation is the outcome of a successful confirmation.
type Confirmation struct {
	QuotaPeriod *domain.QuotaPeriod

	// Total is the points confirmed by this call alone.
	Total  decimal.Decimal
	Linked int
}

// ReconciliationService allocates earned points against monthly quotas.
type ReconciliationService struct {
	pool       *pgxpool.Pool
	ledgerRepo *repository.LedgerRepository
	quotaRepo  *repository.QuotaPeriodRepository
	usageRepo  *repository.UsageLinkRepository
	validator  *Validator
	clock      Clock
}

// NewReconciliationService creates a new ReconciliationService.
func NewReconciliationService(
	pool *pgxpool.Pool,
	ledgerRepo *repository.LedgerRepository,
	quotaRepo *repository.QuotaPeriodRepository,
	usageRepo *repository.UsageLinkRepository,
	personRepo *repository.PersonRepository,
) *ReconciliationService {
	return &ReconciliationService{
		pool:       pool,
		ledgerRepo: ledgerRepo,
		quotaRepo:  quotaRepo,
		usageRepo:  usageRepo,
		validator:  NewValidator(personRepo),
		clock:      SystemClock,
	}
}

// WithClock replaces the clock used for confirmation dates.
func (s *ReconciliationService) WithClock(c Clock) *ReconciliationService {
	s.clock = c
	return s
}

// partition loads the person's entries relevant to month and splits the
// unused ones into prior and current sets.
func (s *ReconciliationService) partition(ctx context.Context, personID string, month domain.YearMonth) (domain.Partition, error) {
	entries, err := s.ledgerRepo.ListForWindow(ctx, personID, month.End(), month.Start())
	if err != nil {
		return domain.Partition{}, err
	}

	used, err := s.usageRepo.UsedSet(ctx, personID)
	if err != nil {
		return domain.Partition{}, err
	}

	return domain.PartitionEntries(entries, used, month), nil
}

// ListAvailable returns the entries a person can still confirm for month:
// prior points still valid at the month start and points produced in it.
func (s *ReconciliationService) ListAvailable(ctx context.Context, actor domain.Actor, personID string, month domain.YearMonth) (domain.Partition, error) {
	if _, err := s.validator.CanAccess(ctx, actor, personID); err != nil {
		return domain.Partition{}, err
	}
	return s.partition(ctx, personID, month)
}

// ComputeBalance sums the month's availability partition, leaving out the
// entries in exclude. It is recomputed on every call.
func (s *ReconciliationService) ComputeBalance(ctx context.Context, actor domain.Actor, personID string, month domain.YearMonth, exclude ...string) (decimal.Decimal, error) {
	if _, err := s.validator.CanAccess(ctx, actor, personID); err != nil {
		return decimal.Zero, err
	}

	p, err := s.partition(ctx, personID, month)
	if err != nil {
		return decimal.Zero, err
	}

	selected := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		selected[id] = true
	}
	return p.Balance(selected), nil
}

// normalizeSelection trims ids and drops blanks and repeats, keeping order.
// Any id that is not a UUID rejects the whole selection.
func normalizeSelection(ids []string) ([]string, error) {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		if _, err := uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("%w: malformed entry id %q", domain.ErrInvalidSelection, id)
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

// Confirm marks the selected entries as used against the person's month.
// It is all or nothing: if any entry is unknown, foreign, out of the month's
// window or already used, nothing is written. Repeated confirmations for the
// same month add to the single confirmed period.
func (s *ReconciliationService) Confirm(ctx context.Context, actor domain.Actor, params ConfirmParams) (*Confirmation, error) {
	conf, err := s.confirm(ctx, actor, params)
	switch {
	case err == nil:
		metrics.Confirmations.WithLabelValues(metrics.ResultConfirmed).Inc()
		metrics.ObservePoints(metrics.PointsConfirmed, conf.Total)
	case errors.Is(err, domain.ErrAlreadyUsed):
		metrics.Confirmations.WithLabelValues(metrics.ResultAlreadyUsed).Inc()
	case errors.Is(err, domain.ErrInvalidSelection), errors.Is(err, domain.ErrInvalidTransition):
		metrics.Confirmations.WithLabelValues(metrics.ResultInvalid).Inc()
	default:
		metrics.Confirmations.WithLabelValues(metrics.ResultError).Inc()
	}
	return conf, err
}

func (s *ReconciliationService) confirm(ctx context.Context, actor domain.Actor, params ConfirmParams) (*Confirmation, error) {
	ids, err := normalizeSelection(params.EntryIDs)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, domain.ErrEmptySelection
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

	// Row locks serialize confirmations that share entries; the second one
	// waits here and then sees the first one's links.
	locked, err := s.ledgerRepo.LockByIDs(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	if len(locked) != len(ids) {
		return nil, fmt.Errorf("%w: %d of %d entries not found", domain.ErrInvalidSelection, len(ids)-len(locked), len(ids))
	}

	for _, e := range locked {
		if e.PersonID != params.PersonID {
			return nil, fmt.Errorf("%w: entry %s belongs to another person", domain.ErrInvalidSelection, e.ID)
		}
	}

	used, err := s.usageRepo.UsedAmong(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	if len(used) > 0 {
		return nil, fmt.Errorf("%w: entries %s", domain.ErrAlreadyUsed, strings.Join(used, ", "))
	}

	window := domain.PartitionEntries(locked, nil, params.Month)
	for _, e := range locked {
		if !window.Contains(e.ID) {
			return nil, fmt.Errorf("%w: entry %s is not available for %s", domain.ErrInvalidSelection, e.ID, params.Month)
		}
	}

	total := domain.SumPoints(locked)

	period, err := s.confirmPeriod(ctx, tx, actor, params, total)
	if err != nil {
		return nil, err
	}

	links, err := s.usageRepo.InsertLinks(ctx, tx, period.ID, ids)
	if err != nil {
		if repository.IsUniqueViolation(err, repository.ConstraintUsageEntry) {
			return nil, fmt.Errorf("%w: %w", domain.ErrAlreadyUsed, err)
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		if repository.IsUniqueViolation(err, repository.ConstraintUsageEntry) {
			return nil, fmt.Errorf("%w: %w", domain.ErrAlreadyUsed, err)
		}
		return nil, fmt.Errorf("%w: commit transaction: %w", domain.ErrPersistenceFailure, err)
	}

	slog.Info("quota confirmed",
		"person_id", params.PersonID,
		"year_month", params.Month.String(),
		"quota_period_id", period.ID,
		"entries", len(links),
		"points", total.String(),
		"points_used", period.PointsUsed.String(),
		"actor_id", actor.PersonID,
	)

	return &Confirmation{
		QuotaPeriod: period,
		Total:       total,
		Linked:      len(links),
	}, nil
}

// confirmPeriod promotes the month's open period or, when there is none,
// creates the confirmed one or adds to it.
func (s *ReconciliationService) confirmPeriod(ctx context.Context, tx pgx.Tx, actor domain.Actor, params ConfirmParams, total decimal.Decimal) (*domain.QuotaPeriod, error) {
	open, err := s.quotaRepo.LockOpen(ctx, tx, params.PersonID, params.Month)
	switch {
	case errors.Is(err, domain.ErrQuotaPeriodNotFound):
		return s.quotaRepo.UpsertConfirmed(ctx, tx, params.PersonID, params.Month, total, actor.PersonID, s.clock())
	case err != nil:
		return nil, err
	}

	if !domain.CanTransition(open.Status, domain.QuotaStatusConfirmed) {
		return nil, fmt.Errorf("%w: %s period for %s cannot be confirmed", domain.ErrInvalidTransition, open.Status, params.Month)
	}
	return s.quotaRepo.Promote(ctx, tx, open.ID, total, actor.PersonID, s.clock())
}
