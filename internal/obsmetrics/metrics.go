// Package obsmetrics registers the Prometheus collectors exported by the
// storage, transaction, and VM layers, following the registration style
// of the teacher's metrics package.
package obsmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Storage metrics.
	PagesAllocated = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "moo_pages_allocated",
		Help: "Total number of buffer-pool pages currently allocated",
	})

	TuplesLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "moo_tuples_live",
		Help: "Total number of live tuples across all relations",
	})

	BufferPoolBytesInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "moo_buffer_pool_bytes_in_use",
		Help: "Bytes currently allocated from the buffer pool",
	})

	// Transaction metrics.
	CommitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moo_commits_total",
		Help: "Total number of transaction commit attempts by result",
	}, []string{"result"})

	CommitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "moo_commit_duration_seconds",
		Help:    "Time spent validating and publishing a commit",
		Buckets: prometheus.DefBuckets,
	})

	// VM / scheduler metrics.
	TicksExecutedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "moo_ticks_executed_total",
		Help: "Total number of VM opcodes executed",
	})

	TasksActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "moo_tasks_active",
		Help: "Number of tasks currently runnable or suspended",
	})

	TaskAborts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moo_task_aborts_total",
		Help: "Total number of tasks aborted by reason",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		PagesAllocated,
		TuplesLive,
		BufferPoolBytesInUse,
		CommitsTotal,
		CommitDuration,
		TicksExecutedTotal,
		TasksActive,
		TaskAborts,
	)
}

// Handler returns the HTTP handler that serves /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing operations into a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time into histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}
