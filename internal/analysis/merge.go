package analysis

import (
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/hepmr/hepmr/internal/catalog"
	"github.com/hepmr/hepmr/internal/common/mrerrors"
)

// MergePolicy combines the results of the children of a sample group.  Implementations must be associative:
// merging [a, b, c] must equal merging [merge(a, b), c].
type MergePolicy interface {
	Merge(node *catalog.SampleGroup, children []Result) (Result, error)
}

// MergeFunc adapts a function to the MergePolicy interface.
type MergeFunc func(node *catalog.SampleGroup, children []Result) (Result, error)

func (f MergeFunc) Merge(node *catalog.SampleGroup, children []Result) (Result, error) {
	return f(node, children)
}

// MergeOp combines two values stored under the same key.  Neither argument may be modified.
type MergeOp func(a, b Value) (Value, error)

// PrefixMergePolicy is the default policy: keys starting with "min_" keep the minimum, keys starting with "max_"
// keep the maximum and all other keys are summed.  Histograms are summed bin by bin.
type PrefixMergePolicy struct{}

func (PrefixMergePolicy) Merge(node *catalog.SampleGroup, children []Result) (Result, error) {
	return MergeByKey(node, children, prefixOp)
}

func prefixOp(key string) MergeOp {
	switch {
	case strings.HasPrefix(key, "min_"):
		return Min
	case strings.HasPrefix(key, "max_"):
		return Max
	default:
		return Sum
	}
}

// KeyRule selects the merge operation for the keys it matches.
type KeyRule struct {
	Match func(key string) bool
	Op    MergeOp
}

// KeyRules merges every key with the operation of the first matching rule, or Default if none matches.
// A nil Default sums.
type KeyRules struct {
	Rules   []KeyRule
	Default MergeOp
}

func (k KeyRules) Merge(node *catalog.SampleGroup, children []Result) (Result, error) {
	return MergeByKey(node, children, func(key string) MergeOp {
		for _, rule := range k.Rules {
			if rule.Match(key) {
				return rule.Op
			}
		}
		if k.Default != nil {
			return k.Default
		}
		return Sum
	})
}

func HasPrefix(prefix string) func(string) bool {
	return func(key string) bool { return strings.HasPrefix(key, prefix) }
}

func HasSuffix(suffix string) func(string) bool {
	return func(key string) bool { return strings.HasSuffix(key, suffix) }
}

func OneOf(keys ...string) func(string) bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return func(key string) bool { return set[key] }
}

// MergeByKey folds the children key by key with the operation chosen by opFor.  A key missing from some children
// is merged over the children that have it.  Children are folded in the order given.
func MergeByKey(node *catalog.SampleGroup, children []Result, opFor func(key string) MergeOp) (Result, error) {
	path := ""
	if node != nil {
		path = node.Key()
	}
	merged := make(Result)
	for _, child := range children {
		for _, key := range child.Keys() {
			value := child[key]
			if value == nil {
				return nil, &mrerrors.ErrReduction{Path: path, Key: key, Message: "no value"}
			}
			current, ok := merged[key]
			if !ok {
				merged[key] = value.Clone()
				continue
			}
			result, err := opFor(key)(current, value)
			if err != nil {
				return nil, &mrerrors.ErrReduction{Path: path, Key: key, Message: err.Error()}
			}
			merged[key] = result
		}
	}
	return merged, nil
}

// Sum adds numbers and histograms.  Int plus Float gives a Float.
func Sum(a, b Value) (Value, error) {
	switch x := a.(type) {
	case Int:
		switch y := b.(type) {
		case Int:
			return x + y, nil
		case Float:
			return Float(x) + y, nil
		}
	case Float:
		switch y := b.(type) {
		case Int:
			return x + Float(y), nil
		case Float:
			return x + y, nil
		}
	case *Histogram:
		if y, ok := b.(*Histogram); ok {
			rv := x.Clone().(*Histogram)
			if err := rv.Add(y); err != nil {
				return nil, err
			}
			return rv, nil
		}
	}
	return nil, mismatch(a, b)
}

// Min keeps the smaller of two numbers.
func Min(a, b Value) (Value, error) {
	return compare(a, b, true)
}

// Max keeps the larger of two numbers.
func Max(a, b Value) (Value, error) {
	return compare(a, b, false)
}

// compare keeps the smaller or the larger of two numbers.  Two Ints are compared as integers.
func compare(a, b Value, smaller bool) (Value, error) {
	if x, ok := a.(Int); ok {
		if y, ok := b.(Int); ok {
			if (x <= y) == smaller {
				return x, nil
			}
			return y, nil
		}
	}
	x, okA := asFloat(a)
	y, okB := asFloat(b)
	if !okA || !okB {
		return nil, mismatch(a, b)
	}
	if smaller {
		return Float(math.Min(x, y)), nil
	}
	return Float(math.Max(x, y)), nil
}

func asFloat(v Value) (float64, bool) {
	switch x := v.(type) {
	case Int:
		return float64(x), true
	case Float:
		return float64(x), true
	default:
		return 0, false
	}
}

func mismatch(a, b Value) error {
	return errors.Errorf("cannot combine %s with %s", a.kind(), b.kind())
}
