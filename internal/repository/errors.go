package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mtlprog/pointledger/internal/domain"
)

// uniqueViolation is the SQLSTATE Postgres raises for a unique constraint.
const uniqueViolation = "23505"

// Constraint names from the schema migration.
const (
	ConstraintLedgerBatch = "ledger_entries_batch_key"
	ConstraintUsageEntry  = "usage_links_entry_key"
)

// IsUniqueViolation reports whether err is a unique violation, optionally on
// one of the named constraints.
func IsUniqueViolation(err error, constraints ...string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	if len(constraints) == 0 {
		return true
	}
	for _, c := range constraints {
		if pgErr.ConstraintName == c {
			return true
		}
	}
	return false
}

// persistence wraps a storage error so callers can match ErrPersistenceFailure
// while keeping the driver error in the chain.
func persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistenceFailure, op, err)
}
