package listener

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics receives engine-level observations. The default is NopMetrics;
// pass NewPrometheusMetrics to export over a Prometheus registerer.
type Metrics interface {
	// CycleCompleted is called once per poll cycle with its
	// productive/failed classification.
	CycleCompleted(productive bool)
	// BatchObserved reports the size of a merged batch handed to the
	// handler.
	BatchObserved(size int)
	// MessagesResolved reports how many messages a completed cycle
	// deleted and how many it sent back for retry.
	MessagesResolved(deleted, retried int)
	// BackoffStreak reports the failure streak after each cycle.
	BackoffStreak(length int)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) CycleCompleted(bool)       {}
func (NopMetrics) BatchObserved(int)         {}
func (NopMetrics) MessagesResolved(int, int) {}
func (NopMetrics) BackoffStreak(int)         {}

// PrometheusMetrics exports engine observations as Prometheus metrics.
type PrometheusMetrics struct {
	cycles        *prometheus.CounterVec
	batchSize     prometheus.Histogram
	deleted       prometheus.Counter
	retried       prometheus.Counter
	backoffStreak prometheus.Gauge
}

// NewPrometheusMetrics builds and registers the engine's metrics. If
// registerer is nil the metrics are created but not registered. The
// queue label distinguishes multiple listener instances in one process.
func NewPrometheusMetrics(registerer prometheus.Registerer, queueName string) *PrometheusMetrics {
	const namespace = "batchqueue"

	if registerer != nil {
		registerer = prometheus.WrapRegistererWith(
			prometheus.Labels{"queue": queueName},
			registerer,
		)
	}

	m := &PrometheusMetrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Number of completed poll cycles",
		}, []string{"outcome"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Size of merged batches handed to the handler",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_deleted_total",
			Help:      "Number of messages deleted after successful processing",
		}),
		retried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_retried_total",
			Help:      "Number of messages sent back for retry",
		}),
		backoffStreak: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backoff_streak",
			Help:      "Current count of consecutive non-productive cycles",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.cycles,
			m.batchSize,
			m.deleted,
			m.retried,
			m.backoffStreak,
		)
	}

	return m
}

// CyclesCounter returns the counter for one cycle outcome label.
func (m *PrometheusMetrics) CyclesCounter(outcome string) prometheus.Counter {
	return m.cycles.WithLabelValues(outcome)
}

func (m *PrometheusMetrics) CycleCompleted(productive bool) {
	outcome := "failed"
	if productive {
		outcome = "productive"
	}
	m.cycles.WithLabelValues(outcome).Inc()
}

func (m *PrometheusMetrics) BatchObserved(size int) {
	m.batchSize.Observe(float64(size))
}

func (m *PrometheusMetrics) MessagesResolved(deleted, retried int) {
	m.deleted.Add(float64(deleted))
	m.retried.Add(float64(retried))
}

func (m *PrometheusMetrics) BackoffStreak(length int) {
	m.backoffStreak.Set(float64(length))
}
