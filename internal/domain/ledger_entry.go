package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ValidityDays is how long earned points stay usable, in calendar days.
const ValidityDays = 365

// LedgerEntry is one earned-point record for a single unit of a task.
// PointValue is frozen at accrual time and never recomputed.
type LedgerEntry struct {
	ID                string
	PersonID          string
	TaskCode          string
	ExecutionDate     time.Time
	PointValue        decimal.Decimal
	ExpirationDate    time.Time
	ExternalProcessID string
	Quantity          int
	BatchSeq          int
	CreatedAt         time.Time
}

// EntryState is the classification of an entry at a reference date.
type EntryState string

const (
	EntryStateUsed      EntryState = "used"
	EntryStateAvailable EntryState = "available"
	EntryStateExpired   EntryState = "expired"
)

// ExpirationFor returns the expiration date for an execution date.
// Calendar arithmetic: the date ValidityDays days later, regardless of leap years.
func ExpirationFor(executionDate time.Time) time.Time {
	return DateOf(executionDate).AddDate(0, 0, ValidityDays)
}

// Expired reports whether the entry is past its expiration as of asOf.
// An entry is still valid on its expiration date.
func Expired(entry *LedgerEntry, asOf time.Time) bool {
	return DateOf(asOf).After(DateOf(entry.ExpirationDate))
}

// Available reports whether the entry can still be confirmed as of asOf.
// used tells whether the entry is linked to a confirmed quota period.
func Available(entry *LedgerEntry, used bool, asOf time.Time) bool {
	return !used && !Expired(entry, asOf)
}

// Classify partitions an entry into used, available or expired.
// Used takes precedence: a confirmed entry never counts as expired.
func Classify(entry *LedgerEntry, used bool, asOf time.Time) EntryState {
	switch {
	case used:
		return EntryStateUsed
	case Expired(entry, asOf):
		return EntryStateExpired
	default:
		return EntryStateAvailable
	}
}

// SumPoints totals the point value of entries.
func SumPoints(entries []*LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.PointValue.Mul(decimal.NewFromInt(int64(max(e.Quantity, 1)))))
	}
	return total
}
