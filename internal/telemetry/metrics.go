package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus counters for the lifecycle engine. A zero
// registry (disabled metrics) turns every record call into a no-op.
type Metrics struct {
	planTransitions *prometheus.CounterVec
	ordersGenerated *prometheus.CounterVec
	plansDeleted    prometheus.Counter
	stockMutations  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics builds the metrics collector. Disabled metrics return a no-op
// instance.
func NewMetrics(enabled bool) *Metrics {
	if !enabled {
		return &Metrics{}
	}
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		planTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fabline",
				Name:      "plan_transitions_total",
				Help:      "Total number of production plan status transitions",
			},
			[]string{"from", "to"},
		),
		ordersGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fabline",
				Name:      "orders_generated_total",
				Help:      "Total number of auto-generated external orders",
			},
			[]string{"kind"},
		),
		plansDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fabline",
				Name:      "plans_deleted_total",
				Help:      "Total number of deleted production plans",
			},
		),
		stockMutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fabline",
				Name:      "stock_mutations_total",
				Help:      "Total number of stock ledger mutations",
			},
			[]string{"op"},
		),
	}
	registry.MustRegister(m.planTransitions, m.ordersGenerated, m.plansDeleted, m.stockMutations)
	return m
}

// RecordPlanTransition counts one plan status transition.
func (m *Metrics) RecordPlanTransition(from, to string) {
	if m.planTransitions == nil {
		return
	}
	m.planTransitions.WithLabelValues(from, to).Inc()
}

// RecordOrderGenerated counts one auto-generated external order.
func (m *Metrics) RecordOrderGenerated(kind string) {
	if m.ordersGenerated == nil {
		return
	}
	m.ordersGenerated.WithLabelValues(kind).Inc()
}

// RecordPlanDeleted counts one plan deletion.
func (m *Metrics) RecordPlanDeleted() {
	if m.plansDeleted == nil {
		return
	}
	m.plansDeleted.Inc()
}

// RecordStockMutation counts one stock ledger operation.
func (m *Metrics) RecordStockMutation(op string) {
	if m.stockMutations == nil {
		return
	}
	m.stockMutations.WithLabelValues(op).Inc()
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
