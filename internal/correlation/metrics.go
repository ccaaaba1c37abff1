package correlation

import (
	"github.com/HerbHall/netcorrelate/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors maintained by the engine.
type Metrics struct {
	Runs              *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	HostsMerged       *prometheus.CounterVec
	ConflictsDetected prometheus.Counter
	ConflictsResolved *prometheus.CounterVec
	IdentitiesLinked  prometheus.Counter
	MergeErrors       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netcorrelate",
			Subsystem: "correlation",
			Name:      "runs_total",
			Help:      "Correlation runs by terminal status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "netcorrelate",
			Subsystem: "correlation",
			Name:      "run_duration_seconds",
			Help:      "Wall time of correlation runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		HostsMerged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netcorrelate",
			Subsystem: "correlation",
			Name:      "hosts_merged_total",
			Help:      "Donor hosts merged away, by merge method.",
		}, []string{"method"}),
		ConflictsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netcorrelate",
			Subsystem: "correlation",
			Name:      "conflicts_detected_total",
			Help:      "Conflicts recorded or re-detected by correlation runs.",
		}),
		ConflictsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netcorrelate",
			Subsystem: "correlation",
			Name:      "conflicts_resolved_total",
			Help:      "Conflicts resolved, by resolution method.",
		}, []string{"method"}),
		IdentitiesLinked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netcorrelate",
			Subsystem: "correlation",
			Name:      "identities_linked_total",
			Help:      "Device identities created or extended.",
		}),
		MergeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netcorrelate",
			Subsystem: "correlation",
			Name:      "errors_total",
			Help:      "Operation errors recorded during runs, by phase.",
		}, []string{"phase"}),
	}
	if reg != nil {
		reg.MustRegister(m.Runs, m.RunDuration, m.HostsMerged, m.ConflictsDetected,
			m.ConflictsResolved, m.IdentitiesLinked, m.MergeErrors)
	}
	return m
}

func (m *Metrics) observeRun(res *models.CorrelationResult) {
	m.Runs.WithLabelValues(string(res.Status)).Inc()
	m.RunDuration.Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
}
