package pool

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "hepmr"
	metricsSubsystem = "pool"

	outcomeLabel = "outcome"
	succeeded    = "succeeded"
	failed       = "failed"
	cancelled    = "cancelled"
)

type Metrics struct {
	workers       prometheus.Gauge
	queuedTasks   prometheus.Gauge
	runningTasks  prometheus.Gauge
	tasks         *prometheus.CounterVec
	taskDuration  prometheus.Histogram
	setupFailures prometheus.Counter
	setupDuration prometheus.Histogram
}

// NewMetrics creates the pool metrics and registers them with reg, unless reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "workers",
			Help:      "Number of workers, including workers still being acquired",
		}),
		queuedTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "queued_tasks",
			Help:      "Number of tasks waiting for a worker",
		}),
		runningTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "running_tasks",
			Help:      "Number of tasks being executed",
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "tasks_total",
			Help:      "Number of finished tasks by outcome",
		}, []string{outcomeLabel}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "task_duration_seconds",
			Help:      "Time spent executing a task",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		}),
		setupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "setup_failures_total",
			Help:      "Number of workers whose acquisition or setup failed",
		}),
		setupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "setup_duration_seconds",
			Help:      "Time from requesting a worker until it accepts tasks",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.workers, m.queuedTasks, m.runningTasks, m.tasks, m.taskDuration, m.setupFailures, m.setupDuration)
	}
	return m
}
