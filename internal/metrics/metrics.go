// Package metrics exposes Prometheus collectors for exam sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "exstem_proctor"

// Metrics groups the session collectors. Use New with a registry in tests.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	SessionsOpened  *prometheus.CounterVec
	LoadFailures    *prometheus.CounterVec
	Violations      *prometheus.CounterVec
	Submissions     *prometheus.CounterVec
	SubmitFailures  prometheus.Counter
	Scores          prometheus.Histogram
	QueueRequeued   *prometheus.CounterVec
	ProgressReaped  prometheus.Counter
	ProgressFlushed prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Exam sessions currently open on this instance.",
		}),
		SessionsOpened: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Sessions opened, by whether they replaced an earlier connection.",
		}, []string{"takeover"}),
		LoadFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_load_failures_total",
			Help:      "Sessions that failed to load, by reason.",
		}, []string{"reason"}),
		Violations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_total",
			Help:      "Integrity violations recorded, by kind.",
		}, []string{"kind"}),
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Completed submissions, by reason.",
		}, []string{"reason"}),
		SubmitFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submit_failures_total",
			Help:      "Failed submission attempts.",
		}),
		Scores: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_score",
			Help:      "Distribution of submitted scores.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		QueueRequeued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_requeued_total",
			Help:      "Jobs pushed back to a Redis queue after a failed write.",
		}, []string{"queue"}),
		ProgressReaped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_reaped_total",
			Help:      "Stale progress rows deleted by the reaper.",
		}),
		ProgressFlushed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_flushed_total",
			Help:      "Progress jobs written to PostgreSQL.",
		}),
	}
}

// NewDefault registers on the global registry served by promhttp.Handler.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}
