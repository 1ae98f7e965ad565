package processor

import (
	"github.com/hepmr/hepmr/internal/catalog"
)

// reduction tracks one sample group until all its inputs have results.
type reduction struct {
	group *catalog.SampleGroup
	// The nodes whose results are fed to Reduce, in catalog order.
	inputs  []catalog.Node
	pending int
}

// plan is the work needed for a selection: the distinct leaves to map and, for every group, the reduction
// waiting on them.
type plan struct {
	roots      []catalog.Node
	leaves     []*catalog.Sample
	reductions map[string]*reduction
	// Reductions waiting on the result of a node, by node key.
	dependents map[string][]*reduction
}

// newPlan walks the selected roots.  Every leaf appears once no matter how many groups reference it.
//
// A group's inputs are its children in catalog order, except that a child sharing leaves with an earlier child
// is replaced by those of its leaves not yet covered.  A group result is therefore the reduction over the distinct
// leaves beneath it, and a shared leaf is never counted twice.
func newPlan(roots []catalog.Node) *plan {
	p := &plan{
		roots:      roots,
		reductions: make(map[string]*reduction),
		dependents: make(map[string][]*reduction),
	}
	seen := make(map[string]bool)
	for _, root := range roots {
		_ = catalog.Walk(root, func(n catalog.Node) error {
			if seen[n.Key()] {
				return nil
			}
			seen[n.Key()] = true
			switch node := n.(type) {
			case *catalog.Sample:
				p.leaves = append(p.leaves, node)
			case *catalog.SampleGroup:
				p.addGroup(node)
			}
			return nil
		})
	}
	return p
}

func (p *plan) addGroup(g *catalog.SampleGroup) {
	r := &reduction{group: g, inputs: groupInputs(g)}
	r.pending = len(r.inputs)
	p.reductions[g.Key()] = r
	for _, input := range r.inputs {
		p.dependents[input.Key()] = append(p.dependents[input.Key()], r)
	}
}

func groupInputs(g *catalog.SampleGroup) []catalog.Node {
	covered := make(map[string]bool)
	var inputs []catalog.Node
	for _, child := range g.Children() {
		leaves := catalog.Leaves(child)
		disjoint := true
		for _, leaf := range leaves {
			if covered[leaf.Key()] {
				disjoint = false
				break
			}
		}
		if disjoint {
			inputs = append(inputs, child)
			for _, leaf := range leaves {
				covered[leaf.Key()] = true
			}
			continue
		}
		for _, leaf := range leaves {
			if !covered[leaf.Key()] {
				covered[leaf.Key()] = true
				inputs = append(inputs, leaf)
			}
		}
	}
	return inputs
}
