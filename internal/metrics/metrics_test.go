package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAccumulate(t *testing.T) {
	m := New()
	m.Transaction("transfer", "completed")
	m.Transaction("transfer", "completed")
	m.Transaction("transfer", "failed")
	m.Webhook("credited")
	m.OptimisticRetry("transfer")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transactionsTotal.WithLabelValues("transfer", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transactionsTotal.WithLabelValues("transfer", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookOutcomes.WithLabelValues("credited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.optimisticRetries.WithLabelValues("transfer")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	assert.True(t, names["wallet_engine_ledger_transactions_total"])
	assert.True(t, names["go_goroutines"])
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Transaction("deposit", "completed")
		m.Idempotency("transfer", "acquired")
		m.Webhook("ignored")
		m.PayoutReconciled("completed")
		m.ReconcileRun("ok")
		m.ProviderCall("initiate_transfer", "ok", 0.1)
	})
	assert.Nil(t, m.Registry())
}

func TestIndependentRegistries(t *testing.T) {
	// two instances must not collide on registration
	a, b := New(), New()
	a.Webhook("credited")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.webhookOutcomes.WithLabelValues("credited")))
}
