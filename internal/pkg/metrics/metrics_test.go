package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_CountsByLabel(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRedemption("success")
	m.ObserveRedemption("success")
	m.ObserveRedemption("no_match")
	m.ObserveDelivery("delivered")
	m.IncrementSaveFailures()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Redemptions.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Redemptions.WithLabelValues("no_match")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerSaveFailures))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRedemption("success")
		m.ObserveDelivery("failed")
		m.ObserveLoad("ok")
		m.IncrementSaveFailures()
		m.IncrementAuditFailures()
		m.ObserveScan(0.5)
	})
}
