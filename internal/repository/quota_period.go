package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/pointledger/internal/domain"
	"github.com/shopspring/decimal"
)

var quotaColumns = []string{
	"id", "person_id", "year_month", "points_used", "status",
	"confirmation_date", "confirmed_by_person_id", "created_at",
}

// QuotaPeriodRepository handles database operations for monthly quota periods.
type QuotaPeriodRepository struct {
	pool *pgxpool.Pool
}

// NewQuotaPeriodRepository creates a new QuotaPeriodRepository.
func NewQuotaPeriodRepository(pool *pgxpool.Pool) *QuotaPeriodRepository {
	return &QuotaPeriodRepository{pool: pool}
}

func scanQuotaPeriod(row pgx.Row) (*domain.QuotaPeriod, error) {
	var q domain.QuotaPeriod
	err := row.Scan(
		&q.ID,
		&q.PersonID,
		&q.YearMonth,
		&q.PointsUsed,
		&q.Status,
		&q.ConfirmationDate,
		&q.ConfirmedByPersonID,
		&q.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrQuotaPeriodNotFound
		}
		return nil, persistence("scan quota period", err)
	}
	if !q.Status.IsValid() {
		return nil, fmt.Errorf("%w: %q on quota period %s", domain.ErrInvalidStatus, q.Status, q.ID)
	}
	return &q, nil
}

// UpsertConfirmed creates the confirmed period for (person, month) or adds
// points to the existing one. The partial unique index on confirmed rows
// serializes concurrent callers; confirmation date and confirmer keep the
// values of the first confirmation.
func (r *QuotaPeriodRepository) UpsertConfirmed(
	ctx context.Context,
	tx pgx.Tx,
	personID string,
	month domain.YearMonth,
	points decimal.Decimal,
	confirmerID string,
	confirmedOn time.Time,
) (*domain.QuotaPeriod, error) {
	query, args, err := psql.
		Insert("quota_periods").
		Columns("person_id", "year_month", "points_used", "status", "confirmation_date", "confirmed_by_person_id").
		Values(personID, month.String(), points, domain.QuotaStatusConfirmed, domain.DateOf(confirmedOn), confirmerID).
		Suffix("ON CONFLICT (person_id, year_month) WHERE status = 'confirmed' " +
			"DO UPDATE SET points_used = quota_periods.points_used + EXCLUDED.points_used").
		Suffix("RETURNING " + strings.Join(quotaColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build UpsertConfirmed query: %w", err)
	}

	return scanQuotaPeriod(tx.QueryRow(ctx, query, args...))
}

// LockOpen locks the not yet confirmed period of (person, month), if any,
// provided the month has no confirmed period. The newest one wins when
// several exist.
func (r *QuotaPeriodRepository) LockOpen(ctx context.Context, tx pgx.Tx, personID string, month domain.YearMonth) (*domain.QuotaPeriod, error) {
	query, args, err := psql.
		Select(quotaColumns...).
		From("quota_periods").
		Where(sq.Eq{
			"person_id":  personID,
			"year_month": month.String(),
		}).
		Where(sq.NotEq{"status": domain.QuotaStatusConfirmed}).
		Where("NOT EXISTS (SELECT 1 FROM quota_periods c "+
			"WHERE c.person_id = ? AND c.year_month = ? AND c.status = ?)",
			personID, month.String(), domain.QuotaStatusConfirmed).
		OrderBy("created_at DESC", "id DESC").
		Limit(1).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build LockOpen query: %w", err)
	}

	return scanQuotaPeriod(tx.QueryRow(ctx, query, args...))
}

// Promote confirms an open period with the given points.
func (r *QuotaPeriodRepository) Promote(
	ctx context.Context,
	tx pgx.Tx,
	periodID string,
	points decimal.Decimal,
	confirmerID string,
	confirmedOn time.Time,
) (*domain.QuotaPeriod, error) {
	query, args, err := psql.
		Update("quota_periods").
		Set("status", domain.QuotaStatusConfirmed).
		Set("points_used", points).
		Set("confirmation_date", domain.DateOf(confirmedOn)).
		Set("confirmed_by_person_id", confirmerID).
		Where(sq.Eq{"id": periodID}).
		Suffix("RETURNING " + strings.Join(quotaColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Promote query for quota period %s: %w", periodID, err)
	}

	return scanQuotaPeriod(tx.QueryRow(ctx, query, args...))
}

// GetConfirmed returns the confirmed period for (person, month).
func (r *QuotaPeriodRepository) GetConfirmed(ctx context.Context, personID string, month domain.YearMonth) (*domain.QuotaPeriod, error) {
	query, args, err := psql.
		Select(quotaColumns...).
		From("quota_periods").
		Where(sq.Eq{
			"person_id":  personID,
			"year_month": month.String(),
			"status":     domain.QuotaStatusConfirmed,
		}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetConfirmed query: %w", err)
	}

	return scanQuotaPeriod(r.pool.QueryRow(ctx, query, args...))
}

// CountByStatus counts a person's periods for a month in the given status.
func (r *QuotaPeriodRepository) CountByStatus(ctx context.Context, personID string, month domain.YearMonth, status domain.QuotaStatus) (int, error) {
	query, args, err := psql.
		Select("COUNT(*)").
		From("quota_periods").
		Where(sq.Eq{
			"person_id":  personID,
			"year_month": month.String(),
			"status":     status,
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build CountByStatus query: %w", err)
	}

	var n int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, persistence("count quota periods", err)
	}
	return n, nil
}
