package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/mtlprog/pointledger/internal/domain"
)

// EntryListFilters holds all supported filters for ledger entry listing.
type EntryListFilters struct {
	PersonID     string            // Required: owner of the entries
	Month        *domain.YearMonth // Optional: execution month
	Search       string            // Optional: matches task code, description or process id
	OnlyEditable bool              // Optional: unlinked and unexpired as of AsOf
	AsOf         time.Time         // Reference date for OnlyEditable and Editable
	Limit        int               // Required: page size
	Offset       int               // Required: page offset
}

// EntryListResult holds an entry with computed fields.
type EntryListResult struct {
	Entry           *domain.LedgerEntry
	TaskDescription string
	Linked          bool
	Editable        bool
}

const linkedExpr = "EXISTS (SELECT 1 FROM usage_links ul WHERE ul.ledger_entry_id = le.id)"

func (f EntryListFilters) apply(qb sq.SelectBuilder) sq.SelectBuilder {
	qb = qb.Where(sq.Eq{"le.person_id": f.PersonID})

	if f.Month != nil {
		qb = qb.Where(sq.GtOrEq{"le.execution_date": f.Month.Start()}).
			Where(sq.Lt{"le.execution_date": f.Month.End()})
	}

	if s := strings.TrimSpace(f.Search); s != "" {
		pattern := "%" + s + "%"
		qb = qb.Where(sq.Or{
			sq.ILike{"le.task_code": pattern},
			sq.ILike{"t.description": pattern},
			sq.ILike{"le.external_process_id": pattern},
		})
	}

	if f.OnlyEditable {
		qb = qb.Where("NOT " + linkedExpr).
			Where(sq.GtOrEq{"le.expiration_date": domain.DateOf(f.AsOf)})
	}

	return qb
}

// List retrieves a person's ledger entries with filters and pagination,
// newest execution first.
func (r *LedgerRepository) List(ctx context.Context, filters EntryListFilters) ([]EntryListResult, int, error) {
	cols := append(qualified("le"), "t.description", linkedExpr)
	qb := filters.apply(
		psql.Select(cols...).
			From("ledger_entries le").
			Join("tasks t ON t.code = le.task_code"),
	).
		OrderBy("le.execution_date DESC", "le.task_code ASC", "le.batch_seq ASC").
		Limit(uint64(filters.Limit)).
		Offset(uint64(filters.Offset))

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build List query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, persistence("query ledger entries", err)
	}
	defer rows.Close()

	results := make([]EntryListResult, 0)
	for rows.Next() {
		var (
			e      domain.LedgerEntry
			result EntryListResult
		)
		err := rows.Scan(
			&e.ID,
			&e.PersonID,
			&e.TaskCode,
			&e.ExecutionDate,
			&e.PointValue,
			&e.ExpirationDate,
			&e.ExternalProcessID,
			&e.Quantity,
			&e.BatchSeq,
			&e.CreatedAt,
			&result.TaskDescription,
			&result.Linked,
		)
		if err != nil {
			return nil, 0, persistence("scan ledger entry", err)
		}
		result.Entry = &e
		result.Editable = !result.Linked && !domain.Expired(&e, filters.AsOf)
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, persistence("iterate ledger entries", err)
	}

	// Get total count (without pagination)
	countQuery, countArgs, err := filters.apply(
		psql.Select("COUNT(*)").
			From("ledger_entries le").
			Join("tasks t ON t.code = le.task_code"),
	).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, persistence("count ledger entries", err)
	}

	return results, total, nil
}
