package processor

import "github.com/prometheus/client_golang/prometheus"

const (
	metricsNamespace = "hepmr"
	metricsSubsystem = "processor"
)

type Metrics struct {
	leavesSubmitted prometheus.Counter
	leavesCompleted prometheus.Counter
	leavesFailed    prometheus.Counter
	reductions      prometheus.Counter
	runDuration     *prometheus.HistogramVec
}

// NewMetrics creates the processor metrics and registers them with reg, unless reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		leavesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "leaves_submitted_total",
			Help:      "Number of leaf samples submitted for mapping",
		}),
		leavesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "leaves_completed_total",
			Help:      "Number of leaf samples mapped successfully",
		}),
		leavesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "leaves_failed_total",
			Help:      "Number of leaf samples whose map failed",
		}),
		reductions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "reductions_total",
			Help:      "Number of sample groups reduced",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "run_duration_seconds",
			Help:      "Time to process a selection, from submission to the end of gather",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}, []string{"period", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.leavesSubmitted, m.leavesCompleted, m.leavesFailed, m.reductions, m.runDuration)
	}
	return m
}
