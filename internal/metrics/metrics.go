// Package metrics exposes prometheus counters for ledger operations.
// Collectors register with the default registry and are served by
// promhttp.Handler at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// Confirmation results.
const (
	ResultConfirmed   = "confirmed"
	ResultAlreadyUsed = "already_used"
	ResultInvalid     = "invalid"
	ResultError       = "error"
)

// EntriesAccrued counts ledger rows created by accruals.
var EntriesAccrued = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pointledger",
	Name:      "entries_accrued_total",
	Help:      "Total ledger entries created by accruals.",
})

// DuplicateAccruals counts accruals rejected as duplicates.
var DuplicateAccruals = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pointledger",
	Name:      "duplicate_accruals_total",
	Help:      "Total accruals rejected because the task and process were already registered.",
})

// Confirmations counts confirmation attempts by result.
var Confirmations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pointledger",
	Name:      "confirmations_total",
	Help:      "Total quota confirmations by result.",
}, []string{"result"})

// PointsConfirmed sums the points consumed by successful confirmations.
var PointsConfirmed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pointledger",
	Name:      "points_confirmed_total",
	Help:      "Total points confirmed against monthly quotas.",
})

// CatalogSyncChanges counts catalog rows touched by synchronization, by kind.
var CatalogSyncChanges = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pointledger",
	Subsystem: "catalog",
	Name:      "sync_changes_total",
	Help:      "Total catalog changes applied by synchronization.",
}, []string{"kind"})

// ObservePoints adds a decimal amount to a counter. Negative amounts are ignored.
func ObservePoints(c prometheus.Counter, points decimal.Decimal) {
	if points.IsNegative() {
		return
	}
	f, _ := points.Float64()
	c.Add(f)
}
