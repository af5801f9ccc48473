package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Redemptions        *prometheus.CounterVec
	Deliveries         *prometheus.CounterVec
	LedgerLoads        *prometheus.CounterVec
	LedgerSaveFailures prometheus.Counter
	AuditWriteFailures prometheus.Counter
	ScanDuration       prometheus.Histogram
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Redemptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verifier_redemptions_total",
			Help: "Redemption attempts by outcome",
		}, []string{"outcome"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verifier_deliveries_total",
			Help: "Notification delivery attempts by result",
		}, []string{"result"}),
		LedgerLoads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verifier_ledger_loads_total",
			Help: "Ledger loads by status",
		}, []string{"status"}),
		LedgerSaveFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "verifier_ledger_save_failures_total",
			Help: "Ledger saves that did not complete",
		}),
		AuditWriteFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "verifier_audit_write_failures_total",
			Help: "Audit entries that could not be written",
		}),
		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "verifier_delivery_scan_seconds",
			Help:    "Duration of one delivery scan",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) ObserveRedemption(outcome string) {
	if m == nil {
		return
	}
	m.Redemptions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveDelivery(result string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveLoad(status string) {
	if m == nil {
		return
	}
	m.LedgerLoads.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementSaveFailures() {
	if m == nil {
		return
	}
	m.LedgerSaveFailures.Inc()
}

func (m *Metrics) IncrementAuditFailures() {
	if m == nil {
		return
	}
	m.AuditWriteFailures.Inc()
}

func (m *Metrics) ObserveScan(seconds float64) {
	if m == nil {
		return
	}
	m.ScanDuration.Observe(seconds)
}
