// Package analysis defines the contract between the processor and user analyses: a map step over a single
// leaf sample, an associative reduce step over the results of the children of a group, and a gather step
// receiving everything once the selection has been processed.
package analysis

import (
	"github.com/hepmr/hepmr/internal/catalog"
	"github.com/hepmr/hepmr/internal/common/mrcontext"
	"github.com/hepmr/hepmr/internal/pool"
)

type Analysis interface {
	// Map computes the result of one leaf sample.  It runs on a worker, possibly concurrently with other Map
	// calls, and must depend only on the sample and the worker state (see pool.WorkerState).
	Map(ctx *mrcontext.Context, sample *catalog.Sample) (Result, error)
	// Reduce combines the results of the direct children of node, given in catalog order.
	Reduce(node *catalog.SampleGroup, children []Result) (Result, error)
	// Gather is called once every selected top-level sample has a result.
	Gather(ctx *mrcontext.Context, completed *Completed) error
}

// WorkerSetup is implemented by analyses that need worker-local state, e.g. an event engine with
// correction tables loaded.  Setup runs once on every worker before it takes any task.
type WorkerSetup interface {
	Setup(ctx *mrcontext.Context, worker pool.WorkerInfo) (interface{}, error)
}

// Base supplies default Reduce and Gather implementations.  Analyses embed it and implement Map.
type Base struct {
	// Policy used by Reduce, PrefixMergePolicy if nil.
	Policy MergePolicy
}

func (b Base) Reduce(node *catalog.SampleGroup, children []Result) (Result, error) {
	policy := b.Policy
	if policy == nil {
		policy = PrefixMergePolicy{}
	}
	return policy.Merge(node, children)
}

// Gather waits for all submitted tasks.
func (b Base) Gather(ctx *mrcontext.Context, completed *Completed) error {
	return completed.Wait(ctx)
}
