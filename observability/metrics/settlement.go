package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"worklayer/core/events"
)

type SettlementMetrics struct {
	ledgerEvents      *prometheus.CounterVec
	orderTransitions  *prometheus.CounterVec
	disputesOpened    prometheus.Counter
	disputesResolved  *prometheus.CounterVec
	notifyDeliveries  prometheus.Counter
	reconcileBackfill prometheus.Counter
}

var (
	settlementOnce     sync.Once
	settlementRegistry *SettlementMetrics
)

func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			ledgerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "settlement_ledger_events_total",
				Help: "Count of emitted ledger events by type.",
			}, []string{"type"}),
			orderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "settlement_order_transitions_total",
				Help: "Count of committed order status transitions by destination status.",
			}, []string{"status"}),
			disputesOpened: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "settlement_disputes_opened_total",
				Help: "Count of disputes opened.",
			}),
			disputesResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "settlement_disputes_resolved_total",
				Help: "Count of disputes resolved by order outcome.",
			}, []string{"outcome"}),
			notifyDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "settlement_notifications_total",
				Help: "Count of post-commit notifications handed to the delivery channel.",
			}),
			reconcileBackfill: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "settlement_confirm_backfills_total",
				Help: "Count of idempotent confirm calls that only backfilled escrow references.",
			}),
		}
		prometheus.MustRegister(
			settlementRegistry.ledgerEvents,
			settlementRegistry.orderTransitions,
			settlementRegistry.disputesOpened,
			settlementRegistry.disputesResolved,
			settlementRegistry.notifyDeliveries,
			settlementRegistry.reconcileBackfill,
		)
	})
	return settlementRegistry
}

func (m *SettlementMetrics) ObserveLedgerEvent(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.ledgerEvents.WithLabelValues(eventType).Inc()
}

func (m *SettlementMetrics) ObserveOrderTransition(status string) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.orderTransitions.WithLabelValues(status).Inc()
}

func (m *SettlementMetrics) ObserveDisputeOpened() {
	if m == nil {
		return
	}
	m.disputesOpened.Inc()
}

func (m *SettlementMetrics) ObserveDisputeResolved(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.disputesResolved.WithLabelValues(outcome).Inc()
}

func (m *SettlementMetrics) ObserveNotification() {
	if m == nil {
		return
	}
	m.notifyDeliveries.Inc()
}

func (m *SettlementMetrics) ObserveConfirmBackfill() {
	if m == nil {
		return
	}
	m.reconcileBackfill.Inc()
}

// Emitter adapts the settlement metrics into a ledger event sink so every
// engine event increments the per-type counter.
type Emitter struct {
	metrics *SettlementMetrics
}

func NewEmitter(metrics *SettlementMetrics) *Emitter {
	return &Emitter{metrics: metrics}
}

func (e *Emitter) Emit(evt events.Event) {
	if e == nil || e.metrics == nil || evt == nil {
		return
	}
	e.metrics.ObserveLedgerEvent(evt.EventType())
}
