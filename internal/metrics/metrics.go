// Package metrics records Prometheus metrics for workflow executions.
//
// A [Recorder] registers its collectors on the registerer it is given, so a
// CLI invocation can gather them into a textfile at exit and tests can use
// an isolated registry. All methods are safe on a nil *Recorder.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "cozerun"
	subsystem = "workflow"
)

// Recorder holds the collectors for one process.
type Recorder struct {
	queries      *prometheus.CounterVec
	waits        prometheus.Histogram
	runs         *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	lastFinished *prometheus.GaugeVec
}

// NewRecorder registers the collectors on reg.
//
// Registering twice on the same registerer panics, as with promauto.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		queries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "status_queries_total",
			Help:      "Status queries issued, by classified state.",
		}, []string{"state"}),
		waits: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "poll_wait_seconds",
			Help:      "Backoff waits applied between status queries.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 30, 60},
		}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "executions_total",
			Help:      "Workflow executions, by mode and outcome.",
		}, []string{"mode", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock time from submission to the persisted artifact.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"mode"}),
		lastFinished: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_execution_timestamp_seconds",
			Help:      "Unix time the last execution finished, by mode.",
		}, []string{"mode"}),
	}
}

// ObserveQuery counts one status query.
func (r *Recorder) ObserveQuery(state string) {
	if r == nil {
		return
	}
	r.queries.WithLabelValues(state).Inc()
}

// ObserveWait records a backoff wait.
func (r *Recorder) ObserveWait(d time.Duration) {
	if r == nil || d <= 0 {
		return
	}
	r.waits.Observe(d.Seconds())
}

// ObserveExecution records a finished execution.
func (r *Recorder) ObserveExecution(mode, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(mode, outcome).Inc()
	r.duration.WithLabelValues(mode).Observe(elapsed.Seconds())
	r.lastFinished.WithLabelValues(mode).SetToCurrentTime()
}
