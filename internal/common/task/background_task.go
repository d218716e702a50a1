package task

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/waiter-project/scheduler/internal/common/armadacontext"
)

type task struct {
	function    func(ctx *armadacontext.Context)
	interval    time.Duration
	metricName  string
	stopChannel chan bool
}

// BackgroundTaskManager runs the scheduler core's interval-driven workers
// (the syncer tick, auth-refresh) against a shared base context. The watch
// workers are not registered here; they run on their own goroutines. Each
// registered task gets its own derived context tagged with its metric name, so
// a syncer or auth-refresh failure logged from inside the task carries the
// field that says which background loop emitted it. Not
// threadsafe, it should only be accessed from a single thread.
type BackgroundTaskManager struct {
	ctx           *armadacontext.Context
	tasks         []*task
	metricsPrefix string
	wg            *sync.WaitGroup
}

// NewBackgroundTaskManager returns a manager whose registered tasks are all
// derived from ctx; cancelling ctx is how StopAll-independent callers (e.g.
// main's shutdown handler) signal the tasks themselves, separately from the
// stop channel each task also gets.
func NewBackgroundTaskManager(ctx *armadacontext.Context, metricsPrefix string) *BackgroundTaskManager {
	return &BackgroundTaskManager{
		ctx:           ctx,
		tasks:         []*task{},
		metricsPrefix: metricsPrefix,
		wg:            &sync.WaitGroup{},
	}
}

// Register starts backgroundTask immediately and then every interval until
// StopAll is called. backgroundTask receives a context derived from the
// manager's base context and tagged with metricName.
func (m *BackgroundTaskManager) Register(backgroundTask func(ctx *armadacontext.Context), interval time.Duration, metricName string) {
	task := &task{
		function:    backgroundTask,
		interval:    interval,
		metricName:  metricName,
		stopChannel: make(chan bool),
	}
	m.startBackgroundTask(task)
	m.tasks = append(m.tasks, task)
}

func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	m.stopTasks()
	return m.waitForShutdownCompletion(timeout)
}

func (m *BackgroundTaskManager) startBackgroundTask(task *task) {
	var taskDurationHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    m.metricsPrefix + task.metricName + "_latency_seconds",
			Help:    "Background loop " + task.metricName + " latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		})

	taskCtx := armadacontext.WithLogField(m.ctx, "task", task.metricName)

	run := func() {
		start := time.Now()
		task.function(taskCtx)
		taskDurationHistogram.Observe(time.Since(start).Seconds())
	}

	m.wg.Add(1)
	go func() {
		run()
		for {
			select {
			case <-time.After(task.interval):
				run()
			case <-task.stopChannel:
				taskCtx.Log.Debug("background task stopped")
				m.wg.Done()
				return
			}
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
		task.stopChannel <- true
	}
}
