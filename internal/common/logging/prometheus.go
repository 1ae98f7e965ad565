package logging

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

var (
	logMessages     *prometheus.CounterVec
	logMessagesOnce sync.Once
)

// PrometheusHook implements logrus.Hook and counts log lines by level.
type PrometheusHook struct {
	counters map[log.Level]prometheus.Counter
}

// NewPrometheusHook creates the hepmr_log_messages counter (registered once per process)
// and returns a hook incrementing it.
func NewPrometheusHook() *PrometheusHook {
	logMessagesOnce.Do(func() {
		logMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hepmr",
			Name:      "log_messages",
			Help:      "Total number of log lines logged by level",
		}, []string{"level"})
		prometheus.MustRegister(logMessages)
	})

	counters := make(map[log.Level]prometheus.Counter)
	for _, level := range []log.Level{
		log.DebugLevel,
		log.InfoLevel,
		log.WarnLevel,
		log.ErrorLevel,
	} {
		counters[level] = logMessages.WithLabelValues(level.String())
	}
	return &PrometheusHook{counters: counters}
}

func (h *PrometheusHook) Levels() []log.Level {
	return log.AllLevels
}

func (h *PrometheusHook) Fire(entry *log.Entry) error {
	if counter, ok := h.counters[entry.Level]; ok {
		counter.Inc()
	}
	return nil
}
