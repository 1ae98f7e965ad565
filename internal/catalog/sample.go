package catalog

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// SampleType classifies a sample as collision data, simulated background or simulated signal.
type SampleType int

const (
	Data SampleType = iota
	Background
	Signal
)

func (t SampleType) String() string {
	switch t {
	case Data:
		return "DATA"
	case Background:
		return "BACKGROUND"
	case Signal:
		return "SIGNAL"
	default:
		return fmt.Sprintf("SampleType(%d)", int(t))
	}
}

// ParseSampleType accepts the type names used in catalog files, case-insensitive.
func ParseSampleType(s string) (SampleType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "data":
		return Data, nil
	case "bkg", "background":
		return Background, nil
	case "sig", "signal":
		return Signal, nil
	default:
		return Data, errors.Errorf("unknown sample type %q", s)
	}
}

// Path is the position of a node in the catalog tree: the names from the top-level sample down to the node.
type Path []string

func (p Path) String() string {
	return strings.Join(p, "/")
}

// Child returns a new path with name appended.  The receiver is never modified.
func (p Path) Child(name string) Path {
	child := make(Path, len(p), len(p)+1)
	copy(child, p)
	return append(child, name)
}

// Attributes holds the free-form metadata attached to a sample in the catalog file,
// e.g. trigger lists, integrated luminosity or plot colors.
type Attributes map[string]interface{}

// String returns the attribute as a string, formatting non-string scalars.
func (a Attributes) String(key string) (string, bool) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// Float returns a numeric attribute.  Integers are converted.
func (a Attributes) Float(key string) (float64, bool) {
	switch v := a[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Strings returns a list attribute.  A single string is returned as a one element list.
func (a Attributes) Strings(key string) ([]string, bool) {
	switch v := a[key].(type) {
	case []string:
		return append([]string(nil), v...), true
	case []interface{}:
		rv := make([]string, 0, len(v))
		for _, e := range v {
			rv = append(rv, fmt.Sprint(e))
		}
		return rv, true
	case string:
		return strings.Fields(v), true
	default:
		return nil, false
	}
}

// Node is a sample in the catalog tree: either a leaf *Sample or a *SampleGroup.
type Node interface {
	Name() string
	// Title is the display label, defaulting to the name.
	Title() string
	Type() SampleType
	Attrs() Attributes
	Path() Path
	Period() string
	// Key is the stable identity of the node within a catalog.
	Key() string
	Hidden() bool
	isNode()
}

type base struct {
	name       string
	title      string
	sampleType SampleType
	attrs      Attributes
	period     string
	path       Path
	hidden     bool
}

func (b *base) Name() string { return b.name }

func (b *base) Title() string {
	if b.title == "" {
		return b.name
	}
	return b.title
}

func (b *base) Type() SampleType { return b.sampleType }

func (b *base) Attrs() Attributes { return b.attrs }

func (b *base) Path() Path { return b.path }

func (b *base) Period() string { return b.period }

func (b *base) Key() string { return MakeKey(b.period, b.path) }

func (b *base) Hidden() bool { return b.hidden }

func (b *base) isNode() {}

// MakeKey builds the identity key of the node at path in period.
func MakeKey(period string, path Path) string {
	return period + "/" + path.String()
}

// Sample is a leaf of the catalog: a dataset backed by one or more files.
type Sample struct {
	base
	files []string
}

// Files returns the backing files in catalog order.
func (s *Sample) Files() []string {
	return append([]string(nil), s.files...)
}

// Len returns the number of backing files.
func (s *Sample) Len() int {
	return len(s.files)
}

func (s *Sample) String() string {
	return fmt.Sprintf("Sample(%s, %d files)", s.Key(), len(s.files))
}

// Chain is the handle through which the per-event engine reads a sample.
type Chain struct {
	Sample string
	Files  []string
}

// Chain returns a handle over the first maxFiles backing files, or all of them if maxFiles <= 0.
func (s *Sample) Chain(maxFiles int) *Chain {
	n := len(s.files)
	if maxFiles > 0 && maxFiles < n {
		n = maxFiles
	}
	return &Chain{
		Sample: s.Key(),
		Files:  append([]string(nil), s.files[:n]...),
	}
}

// Truncate returns a copy of the sample restricted to its first maxFiles files, used for quick test runs.
// The copy has the same key.  The sample itself is returned if it has no more than maxFiles files or maxFiles <= 0.
func (s *Sample) Truncate(maxFiles int) *Sample {
	if maxFiles <= 0 || maxFiles >= len(s.files) {
		return s
	}
	return &Sample{base: s.base, files: append([]string(nil), s.files[:maxFiles]...)}
}

// SampleGroup combines leaf samples and nested groups into one logical category.
type SampleGroup struct {
	base
	children []Node
}

// Children returns the direct children in catalog order.  The returned slice must not be modified.
func (g *SampleGroup) Children() []Node {
	return g.children
}

func (g *SampleGroup) String() string {
	return fmt.Sprintf("SampleGroup(%s, %d children)", g.Key(), len(g.children))
}

// Walk visits node and its descendants depth first, parents before children.  Shared leaves are
// visited once per reference.  Returning an error from fn stops the walk.
func Walk(node Node, fn func(Node) error) error {
	if err := fn(node); err != nil {
		return err
	}
	if g, ok := node.(*SampleGroup); ok {
		for _, child := range g.children {
			if err := Walk(child, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Leaves returns the distinct leaf samples reachable from the given nodes, in catalog order of first reference.
func Leaves(nodes ...Node) []*Sample {
	seen := make(map[string]bool)
	var leaves []*Sample
	for _, node := range nodes {
		_ = Walk(node, func(n Node) error {
			if s, ok := n.(*Sample); ok && !seen[s.Key()] {
				seen[s.Key()] = true
				leaves = append(leaves, s)
			}
			return nil
		})
	}
	return leaves
}

// NewSample creates a leaf sample.  Catalogs are normally built by a Loader; this is for code assembling
// catalogs programmatically.
func NewSample(period string, path Path, sampleType SampleType, files []string, attrs Attributes) (*Sample, error) {
	if len(path) == 0 {
		return nil, errors.New("sample path must not be empty")
	}
	if len(files) == 0 {
		return nil, errors.Errorf("sample %s has no files", MakeKey(period, path))
	}
	return &Sample{
		base: base{
			name:       path[len(path)-1],
			sampleType: sampleType,
			attrs:      attrs,
			period:     period,
			path:       path,
		},
		files: append([]string(nil), files...),
	}, nil
}

// NewSampleGroup creates a group over children, which must be non-empty and of one sample type.
func NewSampleGroup(period string, path Path, children ...Node) (*SampleGroup, error) {
	if len(path) == 0 {
		return nil, errors.New("group path must not be empty")
	}
	key := MakeKey(period, path)
	if len(children) == 0 {
		return nil, errors.Errorf("group %s has no children", key)
	}
	sampleType := children[0].Type()
	for _, child := range children[1:] {
		if child.Type() != sampleType {
			return nil, errors.Errorf("group %s mixes %s and %s samples", key, sampleType, child.Type())
		}
	}
	return &SampleGroup{
		base: base{
			name:       path[len(path)-1],
			sampleType: sampleType,
			period:     period,
			path:       path,
		},
		children: append([]Node(nil), children...),
	}, nil
}
