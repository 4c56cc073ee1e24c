package cmipcat

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "cmipcat"

// Metrics counts catalog build outcomes.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Rows               prometheus.Counter
	DCPPRows           prometheus.Counter
	TimeRangeFailures  *prometheus.CounterVec
	BuildDuration      prometheus.Gauge
	PublishedArtifacts *prometheus.CounterVec
}

// NewMetrics creates the build metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "catalog_rows_total",
			Help:      "Catalog rows built.",
		}),
		DCPPRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "catalog_dcpp_rows_total",
			Help:      "Catalog rows carrying a DCPP start year.",
		}),
		TimeRangeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "time_range_failures_total",
			Help:      "Rows published without a time range, by reason.",
		}, []string{"reason"}),
		BuildDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "catalog_build_duration_seconds",
			Help:      "Wall time of the last catalog build.",
		}),
		PublishedArtifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "published_artifacts_total",
			Help:      "Catalog artifacts written, by format.",
		}, []string{"format"}),
	}
	if reg != nil {
		reg.MustRegister(m.Rows, m.DCPPRows, m.TimeRangeFailures, m.BuildDuration, m.PublishedArtifacts)
	}
	return m
}

func (m *Metrics) observeRow(row Row) {
	if m == nil {
		return
	}
	m.Rows.Inc()
	if row.DCPPStartYear != nil {
		m.DCPPRows.Inc()
	}
}

func (m *Metrics) observeTimeRangeFailure(reason TemporalRangeReason) {
	if m == nil {
		return
	}
	m.TimeRangeFailures.WithLabelValues(reason.String()).Inc()
}

func (m *Metrics) observeBuild(seconds float64) {
	if m == nil {
		return
	}
	m.BuildDuration.Set(seconds)
}

func (m *Metrics) observePublished(format string) {
	if m == nil {
		return
	}
	m.PublishedArtifacts.WithLabelValues(format).Inc()
}
