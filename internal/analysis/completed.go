package analysis

import (
	"github.com/hepmr/hepmr/internal/catalog"
	"github.com/hepmr/hepmr/internal/common/mrcontext"
	"github.com/hepmr/hepmr/internal/pool"
)

// Completed holds the outcome of processing one selection: the futures submitted for its leaf samples, the
// sample each future computed and the results of every leaf and group.
type Completed struct {
	period  string
	roots   []catalog.Node
	futures []*pool.Future
	nodes   map[*pool.Future]*catalog.Sample
	results map[string]Result
}

func NewCompleted(period string, roots []catalog.Node) *Completed {
	return &Completed{
		period:  period,
		roots:   roots,
		nodes:   make(map[*pool.Future]*catalog.Sample),
		results: make(map[string]Result),
	}
}

// Track records that f computes sample.
func (c *Completed) Track(f *pool.Future, sample *catalog.Sample) {
	c.futures = append(c.futures, f)
	c.nodes[f] = sample
}

// SetResult records the result of a leaf or group.
func (c *Completed) SetResult(node catalog.Node, result Result) {
	c.results[node.Key()] = result
}

func (c *Completed) Period() string {
	return c.period
}

// Roots returns the selected top-level nodes in selection order.
func (c *Completed) Roots() []catalog.Node {
	return c.roots
}

// Futures returns the submitted futures in submission order.
func (c *Completed) Futures() []*pool.Future {
	return c.futures
}

// Node returns the leaf sample computed by f.
func (c *Completed) Node(f *pool.Future) (*catalog.Sample, bool) {
	s, ok := c.nodes[f]
	return s, ok
}

// Result returns the result of a leaf or group.
func (c *Completed) Result(node catalog.Node) (Result, bool) {
	r, ok := c.results[node.Key()]
	return r, ok
}

// Wait blocks until every submitted future has completed and returns the first error among them.
func (c *Completed) Wait(ctx *mrcontext.Context) error {
	for _, f := range c.futures {
		if _, err := f.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
