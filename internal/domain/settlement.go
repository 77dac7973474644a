package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quota policy. Changing the scheme means changing these two values.
var (
	// MonthlyQuotaFloor is the minimum number of points owed each month.
	MonthlyQuotaFloor = decimal.NewFromInt(200)
	// BonusCap is the maximum surplus paid out in one month.
	BonusCap = decimal.NewFromInt(400)
)

// Settlement is the month-end arithmetic of the detailed productivity report.
type Settlement struct {
	// MonthResult = total + balance - expired.
	MonthResult decimal.Decimal
	// Surplus = MonthResult - MonthlyQuotaFloor; may be negative.
	Surplus decimal.Decimal
	// Payable is Surplus clamped to [0, BonusCap].
	Payable decimal.Decimal
	// CarryForward = max(0, MonthResult - total).
	CarryForward decimal.Decimal
}

// ComputeSettlement applies the quota policy to a month's figures.
// monthlyTotal is the points performed in the month, balance the
// carry-over balance and expired the points lost in the month.
func ComputeSettlement(monthlyTotal, balance, expired decimal.Decimal) Settlement {
	result := monthlyTotal.Add(balance).Sub(expired)
	surplus := result.Sub(MonthlyQuotaFloor)

	payable := decimal.Max(surplus, decimal.Zero)
	payable = decimal.Min(payable, BonusCap)

	return Settlement{
		MonthResult:  result,
		Surplus:      surplus,
		Payable:      payable,
		CarryForward: decimal.Max(result.Sub(monthlyTotal), decimal.Zero),
	}
}

// Partition splits a person's unused entries for a target month into
// carried-over prior points and points produced in the month.
type Partition struct {
	Month   YearMonth
	Prior   []*LedgerEntry
	Current []*LedgerEntry
}

// PartitionEntries builds the availability partition for month.
// used holds the ids of entries linked to a confirmed quota period.
//
// Prior: executed before the month, expiring on or after its first day.
// Current: executed inside the month.
func PartitionEntries(entries []*LedgerEntry, used map[string]bool, month YearMonth) Partition {
	start := month.Start()
	p := Partition{
		Month:   month,
		Prior:   make([]*LedgerEntry, 0),
		Current: make([]*LedgerEntry, 0),
	}

	for _, e := range entries {
		if used[e.ID] {
			continue
		}
		switch {
		case month.Contains(e.ExecutionDate):
			p.Current = append(p.Current, e)
		case e.ExecutionDate.Before(start) && !DateOf(e.ExpirationDate).Before(start):
			p.Prior = append(p.Prior, e)
		}
	}
	return p
}

// Contains reports whether the entry id is in either set.
func (p Partition) Contains(entryID string) bool {
	for _, e := range p.Prior {
		if e.ID == entryID {
			return true
		}
	}
	for _, e := range p.Current {
		if e.ID == entryID {
			return true
		}
	}
	return false
}

// Balance sums the partition, skipping entries selected in the current call.
// The result is never negative.
func (p Partition) Balance(selected map[string]bool) decimal.Decimal {
	remaining := make([]*LedgerEntry, 0, len(p.Prior)+len(p.Current))
	for _, set := range [][]*LedgerEntry{p.Prior, p.Current} {
		for _, e := range set {
			if !selected[e.ID] {
				remaining = append(remaining, e)
			}
		}
	}
	return decimal.Max(SumPoints(remaining), decimal.Zero)
}

// ExpiringWithin returns unused entries whose expiration falls in [from, to).
func ExpiringWithin(entries []*LedgerEntry, used map[string]bool, from, to time.Time) []*LedgerEntry {
	out := make([]*LedgerEntry, 0)
	for _, e := range entries {
		if used[e.ID] {
			continue
		}
		exp := DateOf(e.ExpirationDate)
		if !exp.Before(from) && exp.Before(to) {
			out = append(out, e)
		}
	}
	return out
}
