package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	JobsAdded     prometheus.Counter
	JobsStarted   prometheus.Counter
	JobsFinished  *prometheus.CounterVec
	QueueWait     prometheus.Histogram
	ExecutionTime prometheus.Histogram
	QueueItems    *prometheus.GaugeVec
	QueueStarted  prometheus.Gauge
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobs_added_total",
			Help: "Total number of jobs admitted to the queue.",
		}),
		JobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobs_started_total",
			Help: "Total number of jobs that took an execution slot.",
		}),
		JobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_finished_total",
			Help: "Total number of jobs whose execution returned, by result.",
		}, []string{"result"}),

		QueueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "job_queue_wait_seconds",
			Help:    "Time a job spent enqueued before taking a slot.",
			Buckets: prometheus.DefBuckets,
		}),
		ExecutionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "job_execution_seconds",
			Help:    "Time spent inside the job executor.",
			Buckets: prometheus.DefBuckets,
		}),

		QueueItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_items",
			Help: "Current number of queued items, by status.",
		}, []string{"status"}),
		QueueStarted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queue_started",
			Help: "1 while the queue is started, 0 otherwise.",
		}),
	}

	reg.MustRegister(
		m.JobsAdded,
		m.JobsStarted,
		m.JobsFinished,
		m.QueueWait,
		m.ExecutionTime,
		m.QueueItems,
		m.QueueStarted,
	)

	return m
}

// QueueHooks returns the callbacks expected by queue.MetricHooks.
// Centralises the prometheus observation calls so the queue stays import-free.
func (m *Metrics) QueueHooks() (
	onAdded func(),
	onStarted func(time.Duration),
	onFinished func(time.Duration, error),
) {
	onAdded = func() {
		m.JobsAdded.Inc()
	}
	onStarted = func(waited time.Duration) {
		m.JobsStarted.Inc()
		m.QueueWait.Observe(waited.Seconds())
	}
	onFinished = func(elapsed time.Duration, err error) {
		m.ExecutionTime.Observe(elapsed.Seconds())
		m.JobsFinished.WithLabelValues(result(err)).Inc()
	}
	return
}

// SetQueueState publishes a scheduling snapshot.
func (m *Metrics) SetQueueState(enqueued, executing int, started bool) {
	m.QueueItems.WithLabelValues("enqueued").Set(float64(enqueued))
	m.QueueItems.WithLabelValues("executing").Set(float64(executing))
	if started {
		m.QueueStarted.Set(1)
	} else {
		m.QueueStarted.Set(0)
	}
}

type timeout interface{ Timeout() bool }

func result(err error) string {
	var t timeout
	switch {
	case err == nil:
		return "succeeded"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &t) && t.Timeout():
		return "timeout"
	default:
		return "failed"
	}
}
