package processor

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/hepmr/hepmr/internal/analysis"
	"github.com/hepmr/hepmr/internal/catalog"
	"github.com/hepmr/hepmr/internal/common/mrcontext"
	"github.com/hepmr/hepmr/internal/common/mrerrors"
	"github.com/hepmr/hepmr/internal/common/util"
	"github.com/hepmr/hepmr/internal/pool"
)

// Pool is the subset of *pool.Pool used by the processor.
type Pool interface {
	Submit(key string, task pool.Task) (*pool.Future, error)
	Close() error
}

// Observer is notified about the progress of a run.  Calls are made from the goroutine executing Run.
type Observer interface {
	OnSubmitted(period string, leaves int)
	OnLeafDone(sample *catalog.Sample, err error)
	OnReduced(group *catalog.SampleGroup)
}

type NoopObserver struct{}

func (NoopObserver) OnSubmitted(string, int) {}

func (NoopObserver) OnLeafDone(*catalog.Sample, error) {}

func (NoopObserver) OnReduced(*catalog.SampleGroup) {}

// Processor runs analyses over catalog selections on a worker pool.  One processor, and its pool, may serve
// several runs, e.g. one per period.
type Processor struct {
	pool     Pool
	observer Observer
	metrics  *Metrics
	// If positive, every leaf is restricted to this many files.
	maxFiles int
}

func New(pool Pool, observer Observer, metrics *Metrics, maxFiles int) *Processor {
	if observer == nil {
		observer = NoopObserver{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Processor{
		pool:     pool,
		observer: observer,
		metrics:  metrics,
		maxFiles: maxFiles,
	}
}

// Run maps a over every distinct leaf below the samples of period selected by names (all visible top-level samples
// if none are given), reduces groups as soon as all their inputs are available and finally hands everything to
// a.Gather.
//
// The first failing map or reduce aborts the run: the pool is closed, dropping queued tasks, Gather is not
// called and the error is returned.
func (p *Processor) Run(ctx *mrcontext.Context, cat *catalog.Catalog, period string, a analysis.Analysis, names ...string) (err error) {
	ctx = mrcontext.WithLogFields(ctx, log.Fields{"run": util.NewULID(), "period": period})
	start := time.Now()
	defer func() {
		outcome := "succeeded"
		if err != nil {
			outcome = "failed"
		}
		p.metrics.runDuration.WithLabelValues(period, outcome).Observe(time.Since(start).Seconds())
	}()

	roots, err := cat.Select(period, names...)
	if err != nil {
		return err
	}
	plan := newPlan(roots)
	ctx.Log.Infof("Processing %d samples with %d distinct leaves", len(roots), len(plan.leaves))

	completed := analysis.NewCompleted(period, roots)
	for _, leaf := range plan.leaves {
		f, err := p.pool.Submit(leaf.Key(), p.mapTask(a, leaf))
		if err != nil {
			return p.abort(ctx, errors.WithMessagef(err, "failed to submit %s", leaf.Key()))
		}
		completed.Track(f, leaf)
		p.metrics.leavesSubmitted.Inc()
	}
	p.observer.OnSubmitted(period, len(plan.leaves))

	runCtx, cancel := mrcontext.WithCancel(ctx)
	defer cancel()
	remaining := len(completed.Futures())
	for f := range pool.AsCompleted(runCtx, completed.Futures()) {
		remaining--
		leaf, _ := completed.Node(f)
		result, err := leafResult(f, leaf)
		p.observer.OnLeafDone(leaf, err)
		if err != nil {
			p.metrics.leavesFailed.Inc()
			return p.abort(ctx, errors.WithMessagef(err, "map of %s failed", leaf.Key()))
		}
		p.metrics.leavesCompleted.Inc()
		if err := p.record(plan, completed, a, leaf, result); err != nil {
			return p.abort(ctx, err)
		}
	}
	if remaining > 0 {
		return p.abort(ctx, errors.WithStack(ctx.Err()))
	}

	for _, root := range roots {
		if _, ok := completed.Result(root); !ok {
			return p.abort(ctx, errors.Errorf("no result for %s after all tasks completed", root.Key()))
		}
	}
	ctx.Log.Infof("All samples processed in %s", time.Since(start).Round(time.Millisecond))
	return a.Gather(ctx, completed)
}

func (p *Processor) mapTask(a analysis.Analysis, leaf *catalog.Sample) pool.Task {
	sample := leaf.Truncate(p.maxFiles)
	return func(ctx *mrcontext.Context) (interface{}, error) {
		return a.Map(mrcontext.WithLogField(ctx, "sample", leaf.Key()), sample)
	}
}

// leafResult returns the result of the map task of leaf.  A result holding a key without a value is rejected
// before it reaches any reduction.
func leafResult(f *pool.Future, leaf catalog.Node) (analysis.Result, error) {
	value, err := f.Result()
	if err != nil {
		return nil, err
	}
	switch r := value.(type) {
	case analysis.Result:
		for _, key := range r.Keys() {
			if r[key] == nil {
				return nil, &mrerrors.ErrReduction{Path: leaf.Key(), Key: key, Message: "map returned no value"}
			}
		}
		if r == nil {
			return analysis.Result{}, nil
		}
		return r, nil
	case nil:
		return analysis.Result{}, nil
	default:
		return nil, errors.Errorf("map returned %T instead of a result", value)
	}
}

// record stores the result of node and reduces every group that was only waiting for it, recursively.
func (p *Processor) record(plan *plan, completed *analysis.Completed, a analysis.Analysis, node catalog.Node, result analysis.Result) error {
	completed.SetResult(node, result)
	for _, r := range plan.dependents[node.Key()] {
		r.pending--
		if r.pending > 0 {
			continue
		}
		inputs := make([]analysis.Result, len(r.inputs))
		for i, input := range r.inputs {
			inputs[i], _ = completed.Result(input)
		}
		reduced, err := a.Reduce(r.group, inputs)
		if err != nil {
			return errors.WithMessagef(err, "reduce of %s failed", r.group.Key())
		}
		p.metrics.reductions.Inc()
		p.observer.OnReduced(r.group)
		if err := p.record(plan, completed, a, r.group, reduced); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) abort(ctx *mrcontext.Context, err error) error {
	ctx.Log.WithError(err).Error("Run failed, shutting down worker pool")
	if closeErr := p.pool.Close(); closeErr != nil {
		ctx.Log.WithError(closeErr).Warn("Worker pool did not shut down cleanly")
	}
	return err
}
