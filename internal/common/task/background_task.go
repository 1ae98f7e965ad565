package task

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	taskDurationHistogram *prometheus.HistogramVec
	registerOnce          sync.Once
)

func durationHistogram() *prometheus.HistogramVec {
	registerOnce.Do(func() {
		taskDurationHistogram = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "hepmr",
				Name:      "background_task_latency_seconds",
				Help:      "Background loop latency in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"task"},
		)
		prometheus.MustRegister(taskDurationHistogram)
	})
	return taskDurationHistogram
}

type task struct {
	function    func()
	interval    time.Duration
	metricName  string
	stopChannel chan bool
}

// BackgroundTaskManager is not threadsafe, it should only be accessed from a single thread.
type BackgroundTaskManager struct {
	tasks []*task
	wg    *sync.WaitGroup
}

func NewBackgroundTaskManager() *BackgroundTaskManager {
	return &BackgroundTaskManager{
		tasks: []*task{},
		wg:    &sync.WaitGroup{},
	}
}

// Register runs backgroundTask immediately and then every interval until StopAll is called.
func (m *BackgroundTaskManager) Register(backgroundTask func(), interval time.Duration, metricName string) {
	task := &task{
		function:    backgroundTask,
		interval:    interval,
		metricName:  metricName,
		stopChannel: make(chan bool),
	}
	m.startBackgroundTask(task)
	m.tasks = append(m.tasks, task)
}

// StopAll stops every registered task and waits for running iterations to finish.
// Returns true if waiting timed out.
func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	m.stopTasks()
	return m.waitForShutdownCompletion(timeout)
}

func (m *BackgroundTaskManager) startBackgroundTask(task *task) {
	observer := durationHistogram().WithLabelValues(task.metricName)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		start := time.Now()
		task.function()
		observer.Observe(time.Since(start).Seconds())

		ticker := time.NewTicker(task.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
			case <-task.stopChannel:
				return
			}
			innerStart := time.Now()
			task.function()
			observer.Observe(time.Since(innerStart).Seconds())
		}
	}()
}

func (m *BackgroundTaskManager) waitForShutdownCompletion(timeout time.Duration) bool {
	c := make(chan struct{})
	go func() {
		defer close(c)
		m.wg.Wait()
	}()
	select {
	case <-c:
		return false // completed normally
	case <-time.After(timeout):
		return true // timed out
	}
}

func (m *BackgroundTaskManager) stopTasks() {
	for _, task := range m.tasks {
		close(task.stopChannel)
	}
	m.tasks = nil
}
