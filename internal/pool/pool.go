package pool

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/hepmr/hepmr/internal/common/mrcontext"
	"github.com/hepmr/hepmr/internal/common/mrerrors"
	"github.com/hepmr/hepmr/internal/common/task"
)

const (
	defaultShutdownTimeout  = 30 * time.Second
	defaultMaxSetupFailures = 3
)

// WorkerInfo identifies the worker a setup hook or task runs on.
type WorkerInfo struct {
	Id    string
	Index int
	Lease *Lease
}

// SetupFunc establishes worker-local state.  It is called exactly once per worker, before the worker takes any
// task.  If the returned state implements io.Closer it is closed when the worker exits.
type SetupFunc func(ctx *mrcontext.Context, info WorkerInfo) (interface{}, error)

// Task is a unit of work executed on a worker.
type Task func(ctx *mrcontext.Context) (interface{}, error)

type workerStateKey struct{}

type workerInfoKey struct{}

// WorkerState returns the state established by the setup hook of the worker executing the current task.
func WorkerState(ctx context.Context) interface{} {
	return ctx.Value(workerStateKey{})
}

// Worker returns the worker executing the current task.
func Worker(ctx context.Context) (WorkerInfo, bool) {
	info, ok := ctx.Value(workerInfoKey{}).(WorkerInfo)
	return info, ok
}

type queuedTask struct {
	future *Future
	task   Task
}

// Stats is a snapshot of the pool.
type Stats struct {
	State   State
	Workers int
	Queued  int
	Running int
}

// Pool executes tasks on a set of workers, each of which holds a lease from a Provider.  A static pool keeps
// Workers workers; an adaptive pool scales between 1 and MaxWorkers with the number of outstanding tasks.
type Pool struct {
	config   Config
	provider Provider
	setup    SetupFunc
	clock    clock.Clock
	metrics  *Metrics

	mu            sync.Mutex
	cond          *sync.Cond
	state         State
	queue         []*queuedTask
	running       map[*Future]bool
	leases        map[string]*Lease
	workers       int
	retiring      int
	nextIndex     int
	setupFailures int
	// Set once too many workers failed to start; no further tasks are accepted.
	broken error
	// When the pool first had more workers than needed, zero if it has not.
	oversizedSince time.Time
	releaseErrors  *multierror.Error

	ctx    *mrcontext.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	scaler *task.BackgroundTaskManager
}

func New(config Config, provider Provider, setup SetupFunc, clk clock.Clock, metrics *Metrics) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}
	if config.MaxSetupFailures <= 0 {
		config.MaxSetupFailures = defaultMaxSetupFailures
	}
	if setup == nil {
		setup = func(*mrcontext.Context, WorkerInfo) (interface{}, error) { return nil, nil }
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	p := &Pool{
		config:   config,
		provider: provider,
		setup:    setup,
		clock:    clk,
		metrics:  metrics,
		state:    Uninitialized,
		running:  make(map[*Future]bool),
		leases:   make(map[string]*Lease),
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

// transition must be called with mu held.
func (p *Pool) transition(to State) error {
	if !canTransition(p.state, to) {
		return &mrerrors.ErrInvalidState{Component: "pool", State: p.state.String(), Operation: "move to " + to.String()}
	}
	p.state = to
	return nil
}

func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		State:   p.state,
		Workers: p.workers,
		Queued:  len(p.queue),
		Running: len(p.running),
	}
}

// Start starts the initial workers and, for an adaptive pool, the scaler.  Workers are acquired asynchronously;
// tasks may be submitted as soon as Start returns.
func (p *Pool) Start(ctx *mrcontext.Context) error {
	p.mu.Lock()
	if err := p.transition(Starting); err != nil {
		p.mu.Unlock()
		return err
	}
	p.ctx, p.cancel = mrcontext.WithCancel(mrcontext.WithLogField(ctx, "component", "pool"))
	for i := 0; i < p.config.InitialWorkers(); i++ {
		p.startWorker()
	}
	if err := p.transition(Ready); err != nil {
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	if p.config.Adaptive() {
		p.scaler = task.NewBackgroundTaskManager()
		p.scaler.Register(p.scale, p.config.ScaleInterval, "pool_scaler")
	}
	p.ctx.Log.Infof("Worker pool started with %d workers", p.config.InitialWorkers())
	return nil
}

// Submit queues task.  key identifies the task in errors and logs.
func (p *Pool) Submit(key string, task Task) (*Future, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.acceptsTasks() {
		return nil, &mrerrors.ErrInvalidState{Component: "pool", State: p.state.String(), Operation: "submit"}
	}
	if p.broken != nil {
		return nil, p.broken
	}
	f := newFuture(uuid.NewString(), key)
	p.queue = append(p.queue, &queuedTask{future: f, task: task})
	p.metrics.queuedTasks.Set(float64(len(p.queue)))
	p.cond.Signal()
	return f, nil
}

// startWorker must be called with mu held.
func (p *Pool) startWorker() {
	p.workers++
	p.nextIndex++
	p.metrics.workers.Set(float64(p.workers))
	p.wg.Add(1)
	go p.runWorker(p.nextIndex)
}

func (p *Pool) runWorker(index int) {
	defer p.wg.Done()
	start := p.clock.Now()

	lease, err := p.provider.Acquire(p.ctx)
	if err != nil {
		p.workerFailed(index, err)
		return
	}
	p.mu.Lock()
	p.leases[lease.Id] = lease
	p.mu.Unlock()

	info := WorkerInfo{Id: lease.Id, Index: index, Lease: lease}
	ctx := mrcontext.WithLogField(p.ctx, "worker", info.Id)
	state, err := p.runSetup(ctx, info)
	if err != nil {
		p.releaseLease(ctx, lease)
		p.workerFailed(index, err)
		return
	}
	p.metrics.setupDuration.Observe(p.clock.Since(start).Seconds())
	p.mu.Lock()
	p.setupFailures = 0
	p.mu.Unlock()
	ctx.Log.Debugf("Worker %d ready", index)

	taskCtx := mrcontext.WithValue(mrcontext.WithValue(ctx, workerStateKey{}, state), workerInfoKey{}, info)
	crashed := false
	for t := p.next(); t != nil; t = p.next() {
		if !p.execute(taskCtx, info, t) {
			crashed = true
			break
		}
	}

	if closer, ok := state.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			ctx.Log.WithError(err).Warn("Failed to close worker state")
		}
	}
	p.releaseLease(ctx, lease)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers--
	p.metrics.workers.Set(float64(p.workers))
	if crashed && p.state.acceptsTasks() {
		ctx.Log.Warnf("Replacing crashed worker %d", index)
		p.startWorker()
	}
}

func (p *Pool) runSetup(ctx *mrcontext.Context, info WorkerInfo) (state interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("worker setup panicked: %v", r)
		}
	}()
	return p.setup(ctx, info)
}

// workerFailed accounts for a worker that could not be acquired or set up.  A replacement is started unless
// MaxSetupFailures consecutive workers failed.  The pool only breaks, failing queued tasks, once no worker is
// left to run them.
func (p *Pool) workerFailed(index int, cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers--
	p.metrics.workers.Set(float64(p.workers))
	if p.ctx.Err() != nil {
		return
	}
	p.setupFailures++
	p.metrics.setupFailures.Inc()
	p.ctx.Log.WithError(cause).Warnf("Worker %d failed to start (%d consecutive failures)", index, p.setupFailures)

	if p.setupFailures < p.config.MaxSetupFailures {
		if p.state.acceptsTasks() {
			p.startWorker()
		}
		return
	}
	if p.workers > 0 {
		p.ctx.Log.Warnf("Not replacing worker %d, continuing with %d workers", index, p.workers)
		return
	}
	if p.broken == nil {
		p.broken = &mrerrors.ErrWorkerUnavailable{
			Message: fmt.Sprintf("%d consecutive workers failed to start", p.setupFailures),
			Cause:   cause,
		}
	}
	queued := p.queue
	p.queue = nil
	p.metrics.queuedTasks.Set(0)
	for _, t := range queued {
		t.future.complete(nil, p.broken)
		p.metrics.tasks.WithLabelValues(failed).Inc()
	}
	p.cond.Broadcast()
}

// next blocks until a task is available and returns it, or returns nil if the worker should exit.
func (p *Pool) next() *queuedTask {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.state == ShuttingDown || p.state == Closed {
			return nil
		}
		if p.retiring > 0 {
			p.retiring--
			return nil
		}
		if len(p.queue) > 0 {
			t := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.running[t.future] = true
			p.metrics.queuedTasks.Set(float64(len(p.queue)))
			p.metrics.runningTasks.Set(float64(len(p.running)))
			return t
		}
		p.cond.Wait()
	}
}

// execute runs t and resolves its future.  It returns false if the task panicked, after which the worker is
// considered crashed.
func (p *Pool) execute(ctx *mrcontext.Context, info WorkerInfo, t *queuedTask) bool {
	start := p.clock.Now()
	value, crash, err := runTask(mrcontext.WithLogField(ctx, "task", t.future.Key()), t.task)
	if crash != nil {
		ctx.Log.Errorf("Worker crashed executing %s: %v\n%s", t.future.Key(), crash, debug.Stack())
		err = &mrerrors.ErrTaskFailed{Key: t.future.Key(), WorkerId: info.Id, Cause: errors.Errorf("worker crashed: %v", crash)}
	} else if err != nil {
		err = &mrerrors.ErrTaskFailed{Key: t.future.Key(), WorkerId: info.Id, Cause: err}
	}
	p.metrics.taskDuration.Observe(p.clock.Since(start).Seconds())

	p.mu.Lock()
	delete(p.running, t.future)
	p.metrics.runningTasks.Set(float64(len(p.running)))
	p.mu.Unlock()

	if t.future.complete(value, err) {
		if err != nil {
			p.metrics.tasks.WithLabelValues(failed).Inc()
		} else {
			p.metrics.tasks.WithLabelValues(succeeded).Inc()
		}
	}
	return crash == nil
}

func runTask(ctx *mrcontext.Context, t Task) (value interface{}, crash interface{}, err error) {
	defer func() {
		crash = recover()
	}()
	value, err = t(ctx)
	return
}

// releaseLease releases lease unless Close already did.
func (p *Pool) releaseLease(ctx *mrcontext.Context, lease *Lease) {
	p.mu.Lock()
	_, held := p.leases[lease.Id]
	delete(p.leases, lease.Id)
	p.mu.Unlock()
	if !held {
		return
	}
	// The pool context is cancelled during shutdown, but releasing must still reach the batch system.
	releaseCtx := mrcontext.New(context.Background(), ctx.Log)
	if err := p.provider.Release(releaseCtx, lease); err != nil {
		p.mu.Lock()
		p.releaseErrors = multierror.Append(p.releaseErrors, err)
		p.mu.Unlock()
	}
}

// scale adjusts the number of workers of an adaptive pool to the number of outstanding tasks.
func (p *Pool) scale() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Ready || p.broken != nil {
		return
	}
	_ = p.transition(Scaling)
	defer func() { _ = p.transition(Ready) }()

	outstanding := len(p.queue) + len(p.running)
	desired := outstanding
	if desired < 1 {
		desired = 1
	}
	if desired > p.config.MaxWorkers {
		desired = p.config.MaxWorkers
	}
	current := p.workers - p.retiring

	switch {
	case desired > current && p.setupFailures >= p.config.MaxSetupFailures:
		p.ctx.Log.Debugf("Not scaling up after %d consecutive worker failures", p.setupFailures)
	case desired > current:
		p.ctx.Log.Debugf("Scaling up from %d to %d workers", current, desired)
		for i := current; i < desired; i++ {
			p.startWorker()
		}
		p.oversizedSince = time.Time{}
	case desired < current:
		now := p.clock.Now()
		if p.oversizedSince.IsZero() {
			p.oversizedSince = now
		}
		if now.Sub(p.oversizedSince) >= p.config.ScaleDownDelay {
			p.ctx.Log.Debugf("Scaling down from %d to %d workers", current, desired)
			p.retiring += current - desired
			p.oversizedSince = time.Time{}
			p.cond.Broadcast()
		}
	default:
		p.oversizedSince = time.Time{}
	}
}

// Close stops the pool.  Queued tasks fail with ErrPoolClosed, running tasks have their context cancelled and
// every lease is released.  Close is idempotent; errors releasing leases are returned together.
func (p *Pool) Close() error {
	p.mu.Lock()
	switch p.state {
	case ShuttingDown, Closed:
		p.mu.Unlock()
		return nil
	case Uninitialized:
		p.state = Closed
		p.mu.Unlock()
		return nil
	}
	_ = p.transition(ShuttingDown)
	queued := p.queue
	p.queue = nil
	p.metrics.queuedTasks.Set(0)
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, t := range queued {
		if t.future.complete(nil, errors.WithStack(mrerrors.ErrPoolClosed)) {
			p.metrics.tasks.WithLabelValues(cancelled).Inc()
		}
	}
	if p.scaler != nil {
		p.scaler.StopAll(p.config.ShutdownTimeout)
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-p.clock.After(p.config.ShutdownTimeout):
		p.ctx.Log.Warnf("Workers did not stop within %s", p.config.ShutdownTimeout)
	}

	p.mu.Lock()
	leases := p.leases
	p.leases = make(map[string]*Lease)
	running := p.running
	p.running = make(map[*Future]bool)
	p.mu.Unlock()

	for f := range running {
		if f.complete(nil, errors.WithStack(mrerrors.ErrPoolClosed)) {
			p.metrics.tasks.WithLabelValues(cancelled).Inc()
		}
	}
	releaseCtx := mrcontext.New(context.Background(), p.ctx.Log)
	var result *multierror.Error
	for _, lease := range leases {
		if err := p.provider.Release(releaseCtx, lease); err != nil {
			result = multierror.Append(result, err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.releaseErrors != nil {
		result = multierror.Append(result, p.releaseErrors.Errors...)
	}
	_ = p.transition(Closed)
	p.ctx.Log.Info("Worker pool closed")
	return result.ErrorOrNil()
}
