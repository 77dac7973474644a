package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/pointledger/internal/domain"
)

// UsageLinkRepository handles the join between ledger entries and quota periods.
type UsageLinkRepository struct {
	pool *pgxpool.Pool
}

// NewUsageLinkRepository creates a new UsageLinkRepository.
func NewUsageLinkRepository(pool *pgxpool.Pool) *UsageLinkRepository {
	return &UsageLinkRepository{pool: pool}
}

// confirmedLinks selects links whose parent period is confirmed.
func confirmedLinks() sq.SelectBuilder {
	return psql.
		Select("ul.ledger_entry_id").
		From("usage_links ul").
		Join("quota_periods qp ON qp.id = ul.quota_period_id").
		Where(sq.Eq{"qp.status": domain.QuotaStatusConfirmed})
}

// TupleUsed reports whether any entry of a (person, task, process) tuple is
// consumed by a confirmed period.
func (r *UsageLinkRepository) TupleUsed(ctx context.Context, q Querier, personID, taskCode, processID string) (bool, error) {
	sub, subArgs, err := confirmedLinks().
		Join("ledger_entries le ON le.id = ul.ledger_entry_id").
		Where(sq.Eq{
			"le.person_id":           personID,
			"le.task_code":           taskCode,
			"le.external_process_id": processID,
		}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build TupleUsed query: %w", err)
	}

	var used bool
	if err := q.QueryRow(ctx, "SELECT EXISTS ("+sub+")", subArgs...).Scan(&used); err != nil {
		return false, persistence("check tuple usage", err)
	}
	return used, nil
}

// IsLinked reports whether any usage link references the entry, whatever
// the status of its period.
func (r *UsageLinkRepository) IsLinked(ctx context.Context, tx pgx.Tx, entryID string) (bool, error) {
	query, args, err := psql.
		Select("1").
		From("usage_links").
		Where(sq.Eq{"ledger_entry_id": entryID}).
		Prefix("SELECT EXISTS (").
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build IsLinked query: %w", err)
	}

	var linked bool
	if err := tx.QueryRow(ctx, query, args...).Scan(&linked); err != nil {
		return false, persistence("check entry link", err)
	}
	return linked, nil
}

// UsedAmong returns which of the given entries are already consumed.
func (r *UsageLinkRepository) UsedAmong(ctx context.Context, tx pgx.Tx, entryIDs []string) ([]string, error) {
	if len(entryIDs) == 0 {
		return []string{}, nil
	}

	query, args, err := confirmedLinks().
		Where(sq.Eq{"ul.ledger_entry_id": entryIDs}).
		OrderBy("ul.ledger_entry_id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build UsedAmong query: %w", err)
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, persistence("query used entries", err)
	}
	return scanIDs(rows)
}

// UsedSet returns the ids of a person's entries consumed by confirmed periods.
func (r *UsageLinkRepository) UsedSet(ctx context.Context, personID string) (map[string]bool, error) {
	query, args, err := confirmedLinks().
		Join("ledger_entries le ON le.id = ul.ledger_entry_id").
		Where(sq.Eq{"le.person_id": personID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build UsedSet query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, persistence("query used entries", err)
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, err
	}

	used := make(map[string]bool, len(ids))
	for _, id := range ids {
		used[id] = true
	}
	return used, nil
}

// InsertLinks links every entry to the period with consumed quantity 1.
// A unique violation means another confirmation consumed one of them first.
func (r *UsageLinkRepository) InsertLinks(ctx context.Context, tx pgx.Tx, periodID string, entryIDs []string) ([]*domain.UsageLink, error) {
	if len(entryIDs) == 0 {
		return []*domain.UsageLink{}, nil
	}

	qb := psql.
		Insert("usage_links").
		Columns("quota_period_id", "ledger_entry_id", "consumed_quantity")
	for _, id := range entryIDs {
		qb = qb.Values(periodID, id, 1)
	}

	query, args, err := qb.Suffix("RETURNING id, quota_period_id, ledger_entry_id, consumed_quantity").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build InsertLinks query: %w", err)
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, persistence("insert usage links", err)
	}
	defer rows.Close()

	links := make([]*domain.UsageLink, 0, len(entryIDs))
	for rows.Next() {
		var l domain.UsageLink
		if err := rows.Scan(&l.ID, &l.QuotaPeriodID, &l.LedgerEntryID, &l.ConsumedQuantity); err != nil {
			return nil, persistence("scan usage link", err)
		}
		links = append(links, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("insert usage links", err)
	}
	return links, nil
}

// ListConsumedEntries returns the entries linked to a period, oldest execution first.
func (r *UsageLinkRepository) ListConsumedEntries(ctx context.Context, periodID string) ([]*domain.LedgerEntry, error) {
	query, args, err := psql.
		Select(qualified("le")...).
		From("usage_links ul").
		Join("ledger_entries le ON le.id = ul.ledger_entry_id").
		Where(sq.Eq{"ul.quota_period_id": periodID}).
		OrderBy("le.execution_date ASC", "le.task_code ASC", "le.batch_seq ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListConsumedEntries query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, persistence("query consumed entries", err)
	}
	return scanEntries(rows)
}

func scanIDs(rows pgx.Rows) ([]string, error) {
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, persistence("scan id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("iterate ids", err)
	}
	return ids, nil
}
