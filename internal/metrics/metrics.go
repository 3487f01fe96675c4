package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wallet_engine"

// Metrics holds the engine's prometheus collectors. A nil *Metrics is valid and
// records nothing, so services can be built without instrumentation in tests.
type Metrics struct {
	registry *prometheus.Registry

	transactionsTotal   *prometheus.CounterVec
	optimisticRetries   *prometheus.CounterVec
	idempotencyOutcomes *prometheus.CounterVec
	webhookOutcomes     *prometheus.CounterVec
	payoutReconciled    *prometheus.CounterVec
	reconcileRuns       *prometheus.CounterVec
	providerLatency     *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		transactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "transactions_total",
				Help:      "Transactions reaching a status, by kind and status.",
			},
			[]string{"kind", "status"},
		),
		optimisticRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "optimistic_retries_total",
				Help:      "Attempts that lost a wallet version race, by operation.",
			},
			[]string{"operation"},
		),
		idempotencyOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "idempotency",
				Name:      "reservations_total",
				Help:      "Idempotency reservations by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		webhookOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "events_total",
				Help:      "Provider webhook deliveries by outcome.",
			},
			[]string{"outcome"},
		),
		payoutReconciled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payout",
				Name:      "reconciled_total",
				Help:      "Withdrawals finalized by the reconciler, by resulting status.",
			},
			[]string{"status"},
		),
		reconcileRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payout",
				Name:      "reconcile_runs_total",
				Help:      "Reconciler passes partitioned by result.",
			},
			[]string{"result"},
		),
		providerLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "request_duration_seconds",
				Help:      "Payment provider call latency by operation and result.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "result"},
		),
	}
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Transaction(kind, status string) {
	if m == nil {
		return
	}
	m.transactionsTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) OptimisticRetry(operation string) {
	if m == nil {
		return
	}
	m.optimisticRetries.WithLabelValues(operation).Inc()
}

func (m *Metrics) Idempotency(operation, outcome string) {
	if m == nil {
		return
	}
	m.idempotencyOutcomes.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) Webhook(outcome string) {
	if m == nil {
		return
	}
	m.webhookOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PayoutReconciled(status string) {
	if m == nil {
		return
	}
	m.payoutReconciled.WithLabelValues(status).Inc()
}

func (m *Metrics) ReconcileRun(result string) {
	if m == nil {
		return
	}
	m.reconcileRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) ProviderCall(operation, result string, seconds float64) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(operation, result).Observe(seconds)
}
