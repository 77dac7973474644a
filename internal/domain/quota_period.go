package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuotaStatus represents the status of a monthly quota period.
type QuotaStatus string

const (
	QuotaStatusPending   QuotaStatus = "pending"
	QuotaStatusConfirmed QuotaStatus = "confirmed"
	// QuotaStatusRejected is set outside this service; a rejected month
	// cannot be confirmed.
	QuotaStatusRejected QuotaStatus = "rejected"
)

// IsValid checks if the status is one of the allowed values.
func (s QuotaStatus) IsValid() bool {
	switch s {
	case QuotaStatusPending, QuotaStatusConfirmed, QuotaStatusRejected:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no transition leaves the status.
func (s QuotaStatus) IsTerminal() bool {
	switch s {
	case QuotaStatusConfirmed, QuotaStatusRejected:
		return true
	case QuotaStatusPending:
		return false
	default:
		return false
	}
}

// CanTransition reports whether from -> to is allowed. Only pending -> confirmed is.
func CanTransition(from, to QuotaStatus) bool {
	if !from.IsValid() || from.IsTerminal() {
		return false
	}
	switch from {
	case QuotaStatusPending:
		return to == QuotaStatusConfirmed
	default:
		return false
	}
}

// QuotaPeriod records the points confirmed against one person's month.
type QuotaPeriod struct {
	ID                  string
	PersonID            string
	YearMonth           string
	PointsUsed          decimal.Decimal
	Status              QuotaStatus
	ConfirmationDate    *time.Time
	ConfirmedByPersonID *string
	CreatedAt           time.Time
}

// UsageLink ties a ledger entry to the quota period that consumed it.
type UsageLink struct {
	ID               string
	QuotaPeriodID    string
	LedgerEntryID    string
	ConsumedQuantity int
}
