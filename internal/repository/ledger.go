package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/pointledger/internal/domain"
)

// ledgerColumns is the shared list of columns for ledger entry queries.
var ledgerColumns = []string{
	"id", "person_id", "task_code", "execution_date", "point_value",
	"expiration_date", "external_process_id", "quantity", "batch_seq", "created_at",
}

// LedgerRepository handles database operations for ledger entries.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// qualified prefixes every ledger column with a table alias.
func qualified(alias string) []string {
	cols := make([]string, len(ledgerColumns))
	for i, c := range ledgerColumns {
		cols[i] = alias + "." + c
	}
	return cols
}

// scanEntry scans a single row into a LedgerEntry.
func scanEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := row.Scan(
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
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEntryNotFound
		}
		return nil, persistence("scan ledger entry", err)
	}
	return &e, nil
}

// scanEntries scans multiple rows into a slice of LedgerEntry.
func scanEntries(rows pgx.Rows) ([]*domain.LedgerEntry, error) {
	defer rows.Close()

	entries := make([]*domain.LedgerEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("iterate ledger entries", err)
	}
	return entries, nil
}

// FindByTuple returns the earliest entry for (person, task, process), or
// ErrEntryNotFound when the tuple is free.
func (r *LedgerRepository) FindByTuple(ctx context.Context, q Querier, personID, taskCode, processID string) (*domain.LedgerEntry, error) {
	query, args, err := psql.
		Select(ledgerColumns...).
		From("ledger_entries").
		Where(sq.Eq{
			"person_id":           personID,
			"task_code":           taskCode,
			"external_process_id": processID,
		}).
		OrderBy("execution_date ASC", "batch_seq ASC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build FindByTuple query: %w", err)
	}

	return scanEntry(q.QueryRow(ctx, query, args...))
}

// InsertBatch inserts entries in one statement and fills their ID and CreatedAt.
func (r *LedgerRepository) InsertBatch(ctx context.Context, tx pgx.Tx, entries []*domain.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}

	qb := psql.
		Insert("ledger_entries").
		Columns(
			"person_id", "task_code", "execution_date", "point_value",
			"expiration_date", "external_process_id", "quantity", "batch_seq",
		)
	for _, e := range entries {
		qb = qb.Values(
			e.PersonID, e.TaskCode, e.ExecutionDate, e.PointValue,
			e.ExpirationDate, e.ExternalProcessID, e.Quantity, e.BatchSeq,
		)
	}

	query, args, err := qb.Suffix("RETURNING id, created_at").ToSql()
	if err != nil {
		return fmt.Errorf("build InsertBatch query: %w", err)
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return persistence("insert ledger entries", err)
	}
	defer rows.Close()

	// RETURNING preserves VALUES order for a plain INSERT.
	i := 0
	for rows.Next() {
		if err := rows.Scan(&entries[i].ID, &entries[i].CreatedAt); err != nil {
			return persistence("scan inserted ledger entry", err)
		}
		i++
	}
	if err := rows.Err(); err != nil {
		return persistence("insert ledger entries", err)
	}
	return nil
}

// GetByID retrieves a ledger entry by ID.
func (r *LedgerRepository) GetByID(ctx context.Context, entryID string) (*domain.LedgerEntry, error) {
	query, args, err := psql.
		Select(ledgerColumns...).
		From("ledger_entries").
		Where(sq.Eq{"id": entryID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByID query for entry: %w", err)
	}

	return scanEntry(r.pool.QueryRow(ctx, query, args...))
}

// GetByIDForUpdate retrieves a ledger entry with FOR UPDATE lock (within transaction).
func (r *LedgerRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, entryID string) (*domain.LedgerEntry, error) {
	query, args, err := psql.
		Select(ledgerColumns...).
		From("ledger_entries").
		Where(sq.Eq{"id": entryID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByIDForUpdate query for entry %s: %w", entryID, err)
	}

	return scanEntry(tx.QueryRow(ctx, query, args...))
}

// LockByIDs locks the given entries in id order and returns those that exist.
// A fixed lock order keeps concurrent confirmations from deadlocking.
func (r *LedgerRepository) LockByIDs(ctx context.Context, tx pgx.Tx, entryIDs []string) ([]*domain.LedgerEntry, error) {
	if len(entryIDs) == 0 {
		return []*domain.LedgerEntry{}, nil
	}

	ids := append([]string(nil), entryIDs...)
	sort.Strings(ids)

	query, args, err := psql.
		Select(ledgerColumns...).
		From("ledger_entries").
		Where(sq.Eq{"id": ids}).
		OrderBy("id ASC").
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build LockByIDs query: %w", err)
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, persistence("lock ledger entries", err)
	}
	return scanEntries(rows)
}

// ListForWindow returns a person's entries executed before `before` and
// expiring on or after `expiringFrom`, ordered by execution date.
func (r *LedgerRepository) ListForWindow(ctx context.Context, personID string, before, expiringFrom time.Time) ([]*domain.LedgerEntry, error) {
	query, args, err := psql.
		Select(ledgerColumns...).
		From("ledger_entries").
		Where(sq.Eq{"person_id": personID}).
		Where(sq.Lt{"execution_date": before}).
		Where(sq.GtOrEq{"expiration_date": expiringFrom}).
		OrderBy("execution_date ASC", "task_code ASC", "batch_seq ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListForWindow query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, persistence("query ledger entries", err)
	}
	return scanEntries(rows)
}

// ListExecutedBetween returns a person's entries executed in [from, to).
func (r *LedgerRepository) ListExecutedBetween(ctx context.Context, personID string, from, to time.Time) ([]*domain.LedgerEntry, error) {
	query, args, err := psql.
		Select(ledgerColumns...).
		From("ledger_entries").
		Where(sq.Eq{"person_id": personID}).
		Where(sq.GtOrEq{"execution_date": from}).
		Where(sq.Lt{"execution_date": to}).
		OrderBy("execution_date ASC", "task_code ASC", "batch_seq ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListExecutedBetween query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, persistence("query ledger entries", err)
	}
	return scanEntries(rows)
}

// ListExpiringBetween returns a person's entries whose expiration falls in [from, to].
func (r *LedgerRepository) ListExpiringBetween(ctx context.Context, personID string, from, to time.Time) ([]*domain.LedgerEntry, error) {
	query, args, err := psql.
		Select(ledgerColumns...).
		From("ledger_entries").
		Where(sq.Eq{"person_id": personID}).
		Where(sq.GtOrEq{"expiration_date": from}).
		Where(sq.LtOrEq{"expiration_date": to}).
		OrderBy("expiration_date ASC", "task_code ASC", "batch_seq ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListExpiringBetween query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, persistence("query ledger entries", err)
	}
	return scanEntries(rows)
}

// Correct rewrites the mutable fields of an unlinked entry.
func (r *LedgerRepository) Correct(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error {
	query, args, err := psql.
		Update("ledger_entries").
		Set("execution_date", entry.ExecutionDate).
		Set("expiration_date", entry.ExpirationDate).
		Set("external_process_id", entry.ExternalProcessID).
		Set("batch_seq", entry.BatchSeq).
		Where(sq.Eq{"id": entry.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Correct query for entry %s: %w", entry.ID, err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return persistence("update ledger entry", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEntryNotFound
	}
	return nil
}

// Delete removes an entry. The caller must have checked it is unlinked.
func (r *LedgerRepository) Delete(ctx context.Context, tx pgx.Tx, entryID string) error {
	query, args, err := psql.
		Delete("ledger_entries").
		Where(sq.Eq{"id": entryID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Delete query for entry %s: %w", entryID, err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return persistence("delete ledger entry", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEntryNotFound
	}
	return nil
}
