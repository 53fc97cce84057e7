// Package metrics exposes Prometheus counters for the engine's hot paths.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookingsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "studio_engine",
			Name:      "bookings_created_total",
			Help:      "Bookings successfully created.",
		},
	)

	conflictsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "studio_engine",
			Name:      "booking_conflicts_total",
			Help:      "Booking attempts rejected because the slot was taken.",
		},
	)

	ledgerTransactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studio_engine",
			Name:      "ledger_transactions_total",
			Help:      "Ledger transactions recorded, by kind.",
		},
		[]string{"kind"},
	)

	insufficientFunds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "studio_engine",
			Name:      "insufficient_funds_total",
			Help:      "Transfers/refunds rejected for insufficient funds.",
		},
	)

	cascadeIncomplete = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "studio_engine",
			Name:      "cascade_incomplete_total",
			Help:      "Booking cascade deletes that finished partially.",
		},
	)
)

// Register registers the engine's metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			bookingsCreated,
			conflictsRejected,
			ledgerTransactions,
			insufficientFunds,
			cascadeIncomplete,
		)
	})
}

func IncBookingCreated()     { bookingsCreated.Inc() }
func IncConflictRejected()   { conflictsRejected.Inc() }
func IncInsufficientFunds()  { insufficientFunds.Inc() }
func IncCascadeIncomplete()  { cascadeIncomplete.Inc() }
func IncLedgerTx(kind string) { ledgerTransactions.WithLabelValues(kind).Inc() }
