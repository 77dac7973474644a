package repository

import (
	"context"
	"fmt"

	"github.com/mtlprog/pointledger/internal/domain"
	"github.com/shopspring/decimal"
)

// MonthlyTotal is a points aggregate for one calendar month.
type MonthlyTotal struct {
	Month  string
	Points decimal.Decimal
}

// EarnedByMonth sums the points a person earned per execution month over
// [from, to), oldest month first. Months without entries are omitted.
func (r *LedgerRepository) EarnedByMonth(ctx context.Context, personID string, from, to domain.YearMonth) ([]MonthlyTotal, error) {
	query := `
		SELECT
			to_char(execution_date, 'YYYY-MM') AS month,
			SUM(point_value * quantity) AS points
		FROM ledger_entries
		WHERE person_id = $1 AND execution_date >= $2 AND execution_date < $3
		GROUP BY month
		ORDER BY month
	`

	return r.monthlyTotals(ctx, "earned", query, personID, from.Start(), to.Start())
}

// UsedByMonth sums the points confirmed per confirmation month over [from, to).
func (r *LedgerRepository) UsedByMonth(ctx context.Context, personID string, from, to domain.YearMonth) ([]MonthlyTotal, error) {
	query := `
		SELECT
			to_char(confirmation_date, 'YYYY-MM') AS month,
			SUM(points_used) AS points
		FROM quota_periods
		WHERE person_id = $1 AND status = $2
		  AND confirmation_date >= $3 AND confirmation_date < $4
		GROUP BY month
		ORDER BY month
	`

	return r.monthlyTotals(ctx, "used", query, personID, domain.QuotaStatusConfirmed, from.Start(), to.Start())
}

func (r *LedgerRepository) monthlyTotals(ctx context.Context, kind, query string, args ...any) ([]MonthlyTotal, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, persistence(fmt.Sprintf("query %s by month", kind), err)
	}
	defer rows.Close()

	totals := make([]MonthlyTotal, 0)
	for rows.Next() {
		var t MonthlyTotal
		if err := rows.Scan(&t.Month, &t.Points); err != nil {
			return nil, persistence(fmt.Sprintf("scan %s by month", kind), err)
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence(fmt.Sprintf("iterate %s by month", kind), err)
	}
	return totals, nil
}
