package views

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultNew    = "new"
	ResultRepeat = "repeat"
	ResultForced = "forced"
)

// Metrics holds the tracker's Prometheus collectors.
type Metrics struct {
	Recorded       *prometheus.CounterVec
	StoreErrors    *prometheus.CounterVec
	TotalViews     prometheus.Gauge
	UniqueVisitors prometheus.Gauge
}

// NewMetrics registers the tracker collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Recorded: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "views_recorded_total",
			Help: "Visits handled by the tracker, by outcome.",
		}, []string{"result"}), // new, repeat, forced
		StoreErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "views_store_errors_total",
			Help: "Ledger store failures, by tracker operation.",
		}, []string{"op"}),
		TotalViews: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "views_total",
			Help: "Total views in the ledger as of the last operation.",
		}),
		UniqueVisitors: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "views_unique_visitors",
			Help: "Known visitor identities as of the last operation.",
		}),
	}
}

func (m *Metrics) observe(result string, c Counts) {
	if m == nil {
		return
	}
	if result != "" {
		m.Recorded.WithLabelValues(result).Inc()
	}
	m.TotalViews.Set(float64(c.TotalViews))
	m.UniqueVisitors.Set(float64(c.UniqueVisitors))
}

func (m *Metrics) storeError(op string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op).Inc()
}
