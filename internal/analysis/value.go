package analysis

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Value is one entry of a Result.  The set of implementations is closed: Int, Float and *Histogram.
type Value interface {
	// Clone returns a deep copy, so merging never modifies a child result.
	Clone() Value
	kind() string
}

// Int is an integer count, e.g. a number of events or files.
type Int int64

// Float is a real valued quantity, e.g. a sum of weights.
type Float float64

func (v Int) Clone() Value   { return v }
func (v Float) Clone() Value { return v }
func (v Int) kind() string   { return "int" }
func (v Float) kind() string { return "float" }

// Histogram is a one dimensional histogram with fixed bin edges.  Per bin it holds the sum of weights and the sum
// of squared weights; entries below the first or above the last edge go to the underflow and overflow bins.
type Histogram struct {
	Name  string    `json:"name"`
	Title string    `json:"title,omitempty"`
	Edges []float64 `json:"edges"`
	// SumW and SumW2 have len(Edges)+1 entries: underflow, the regular bins, overflow.
	SumW    []float64 `json:"sumw"`
	SumW2   []float64 `json:"sumw2"`
	Entries int64     `json:"entries"`
}

// NewHistogram creates an empty histogram with the given bin edges, which must be strictly increasing.
func NewHistogram(name string, edges []float64) (*Histogram, error) {
	if len(edges) < 2 {
		return nil, errors.Errorf("histogram %s needs at least two bin edges", name)
	}
	for i := 1; i < len(edges); i++ {
		if !(edges[i] > edges[i-1]) {
			return nil, errors.Errorf("histogram %s bin edges are not strictly increasing at index %d", name, i)
		}
	}
	return &Histogram{
		Name:  name,
		Edges: slices.Clone(edges),
		SumW:  make([]float64, len(edges)+1),
		SumW2: make([]float64, len(edges)+1),
	}, nil
}

// NewUniformHistogram creates an empty histogram with nbins equal bins between lo and hi.
func NewUniformHistogram(name string, nbins int, lo, hi float64) (*Histogram, error) {
	if nbins < 1 || !(hi > lo) {
		return nil, errors.Errorf("histogram %s: invalid binning %d bins in [%v, %v)", name, nbins, lo, hi)
	}
	edges := make([]float64, nbins+1)
	width := (hi - lo) / float64(nbins)
	for i := range edges {
		edges[i] = lo + float64(i)*width
	}
	edges[nbins] = hi
	return NewHistogram(name, edges)
}

func (h *Histogram) kind() string { return "histogram" }

// NBins returns the number of regular bins.
func (h *Histogram) NBins() int {
	return len(h.Edges) - 1
}

// bin returns the index into SumW for x.  Bins are closed on the left.
func (h *Histogram) bin(x float64) int {
	return sort.Search(len(h.Edges), func(i int) bool { return h.Edges[i] > x })
}

// Fill adds one entry at x with weight w.
func (h *Histogram) Fill(x, w float64) {
	i := h.bin(x)
	h.SumW[i] += w
	h.SumW2[i] += w * w
	h.Entries++
}

// FillBin adds pre-aggregated content to the bin with index i into SumW, where 0 is the underflow and
// len(Edges) the overflow.
func (h *Histogram) FillBin(i int, sumw, sumw2 float64, entries int64) error {
	if i < 0 || i >= len(h.SumW) {
		return errors.Errorf("histogram %s: bin %d out of range [0, %d]", h.Name, i, len(h.SumW)-1)
	}
	h.SumW[i] += sumw
	h.SumW2[i] += sumw2
	h.Entries += entries
	return nil
}

// Underflow returns the sum of weights below the first edge.
func (h *Histogram) Underflow() float64 {
	return h.SumW[0]
}

// Overflow returns the sum of weights at or above the last edge.
func (h *Histogram) Overflow() float64 {
	return h.SumW[len(h.SumW)-1]
}

// Integral returns the sum of weights of the regular bins.
func (h *Histogram) Integral() float64 {
	total := 0.0
	for _, w := range h.SumW[1 : len(h.SumW)-1] {
		total += w
	}
	return total
}

// Compatible reports whether other has the same binning.
func (h *Histogram) Compatible(other *Histogram) bool {
	return slices.Equal(h.Edges, other.Edges)
}

// Add adds the content of other bin by bin.
func (h *Histogram) Add(other *Histogram) error {
	if !h.Compatible(other) {
		return errors.Errorf("incompatible binning: %d bins in [%v, %v] vs %d bins in [%v, %v]",
			h.NBins(), h.Edges[0], h.Edges[len(h.Edges)-1],
			other.NBins(), other.Edges[0], other.Edges[len(other.Edges)-1])
	}
	for i := range h.SumW {
		h.SumW[i] += other.SumW[i]
		h.SumW2[i] += other.SumW2[i]
	}
	h.Entries += other.Entries
	return nil
}

// Scale multiplies all bins by factor, e.g. to normalize to a luminosity.
func (h *Histogram) Scale(factor float64) {
	for i := range h.SumW {
		h.SumW[i] *= factor
		h.SumW2[i] *= factor * factor
	}
}

func (h *Histogram) Clone() Value {
	return &Histogram{
		Name:    h.Name,
		Title:   h.Title,
		Edges:   slices.Clone(h.Edges),
		SumW:    slices.Clone(h.SumW),
		SumW2:   slices.Clone(h.SumW2),
		Entries: h.Entries,
	}
}

func (h *Histogram) String() string {
	return fmt.Sprintf("Histogram(%s, %d bins, %d entries)", h.Name, h.NBins(), h.Entries)
}

// Result is the outcome of a map task or a reduction: named statistics and histograms.
type Result map[string]Value

// Keys returns the keys in sorted order.
func (r Result) Keys() []string {
	keys := maps.Keys(r)
	slices.Sort(keys)
	return keys
}

func (r Result) Clone() Result {
	rv := make(Result, len(r))
	for k, v := range r {
		rv[k] = v.Clone()
	}
	return rv
}

// Int returns the value of key as an integer.  Floats are truncated.
func (r Result) Int(key string) (int64, bool) {
	switch v := r[key].(type) {
	case Int:
		return int64(v), true
	case Float:
		return int64(v), true
	default:
		return 0, false
	}
}

// Float returns the value of key as a float.
func (r Result) Float(key string) (float64, bool) {
	switch v := r[key].(type) {
	case Int:
		return float64(v), true
	case Float:
		return float64(v), true
	default:
		return 0, false
	}
}

func (r Result) Histogram(key string) (*Histogram, bool) {
	h, ok := r[key].(*Histogram)
	return h, ok
}
