package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_transitions_total",
		Help: "Booking state machine operations by outcome",
	}, []string{"op", "result"})

	LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Balance ledger transactions appended",
	}, []string{"type"})

	LedgerAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_amount_total",
		Help: "Sum of ledger transaction amounts in minor units",
	}, []string{"type"})

	SweepItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maintenance_sweep_items_total",
		Help: "Items processed by maintenance sweeps",
	}, []string{"sweep", "result"})

	ExpandedDates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recurring_expand_dates_total",
		Help: "Candidate dates handled by recurring expansion",
	}, []string{"result"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Outbound notifications by topic and outcome",
	}, []string{"topic", "result"})
)

func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
