package catalog

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"github.com/hepmr/hepmr/internal/common/mrerrors"
)

const (
	nodesTable = "nodes"
	idIndex    = "id"   // lookup by node key
	nameIndex  = "name" // lookup nodes of a period by name
	typeIndex  = "type" // lookup nodes of a period by sample type
	rootIndex  = "root" // lookup the top-level nodes of a period
)

// Catalog is the in-memory tree of samples for any number of data-taking periods.
//
// Leaf samples live in a flat arena keyed by Key(); groups point into it, so a leaf referenced by several
// groups is one object.  Lookups by period, name and type go through an index built on
// https://github.com/hashicorp/go-memdb.  A catalog is built once and is read-only afterwards, so it may
// be shared between goroutines without locking.
type Catalog struct {
	db      *memdb.MemDB
	samples map[string]*Sample
	nodes   map[string]Node
	periods []string
	seq     int
}

// indexEntry is the object stored in the memdb index.
type indexEntry struct {
	Key    string
	Period string
	Name   string
	Type   string
	Root   bool
	Seq    int
	Node   Node
}

func New() (*Catalog, error) {
	db, err := memdb.NewMemDB(catalogSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Catalog{
		db:      db,
		samples: make(map[string]*Sample),
		nodes:   make(map[string]Node),
	}, nil
}

// Add indexes the given top-level nodes of period and all their descendants.
// Nodes already in the catalog (shared leaves) are not indexed twice.
func (c *Catalog) Add(period string, roots ...Node) error {
	txn := c.db.Txn(true)
	defer txn.Abort()

	for _, root := range roots {
		if root.Period() != period {
			return &mrerrors.ErrCatalog{Path: root.Key(), Message: fmt.Sprintf("sample does not belong to period %s", period)}
		}
		if _, exists := c.nodes[root.Key()]; exists {
			return &mrerrors.ErrCatalog{Path: root.Key(), Message: "top-level sample defined twice"}
		}
	}

	added := make(map[string]Node)
	for i, root := range roots {
		err := Walk(root, func(n Node) error {
			if _, exists := c.nodes[n.Key()]; exists {
				return nil
			}
			if _, exists := added[n.Key()]; exists {
				return nil
			}
			added[n.Key()] = n
			c.seq++
			entry := &indexEntry{
				Key:    n.Key(),
				Period: n.Period(),
				Name:   n.Name(),
				Type:   n.Type().String(),
				Root:   n == roots[i],
				Seq:    c.seq,
				Node:   n,
			}
			return errors.WithStack(txn.Insert(nodesTable, entry))
		})
		if err != nil {
			return err
		}
	}
	txn.Commit()

	for key, n := range added {
		c.nodes[key] = n
		if s, ok := n.(*Sample); ok {
			c.samples[key] = s
		}
	}
	if len(roots) > 0 && !c.hasPeriod(period) {
		c.periods = append(c.periods, period)
	}
	return nil
}

func (c *Catalog) hasPeriod(period string) bool {
	for _, p := range c.periods {
		if p == period {
			return true
		}
	}
	return false
}

// Periods returns the periods in the order they were first loaded.
func (c *Catalog) Periods() []string {
	return append([]string(nil), c.periods...)
}

// Get returns the node with the given key.
func (c *Catalog) Get(key string) (Node, bool) {
	n, ok := c.nodes[key]
	return n, ok
}

// Sample returns the leaf with the given key from the arena.
func (c *Catalog) Sample(key string) (*Sample, bool) {
	s, ok := c.samples[key]
	return s, ok
}

// Len returns the number of distinct leaf samples in the catalog.
func (c *Catalog) Len() int {
	return len(c.samples)
}

// Roots returns the top-level nodes of period in catalog order.
func (c *Catalog) Roots(period string) ([]Node, error) {
	if err := c.checkPeriod(period); err != nil {
		return nil, err
	}
	return c.query(rootIndex, period, true)
}

// Find returns all nodes of period with the given name, at any depth, in catalog order.
func (c *Catalog) Find(period, name string) ([]Node, error) {
	if err := c.checkPeriod(period); err != nil {
		return nil, err
	}
	return c.query(nameIndex, period, name)
}

// ByType returns all nodes of period of the given sample type, in catalog order.
func (c *Catalog) ByType(period string, sampleType SampleType) ([]Node, error) {
	if err := c.checkPeriod(period); err != nil {
		return nil, err
	}
	return c.query(typeIndex, period, sampleType.String())
}

// Select resolves the nodes to process for period.  Without names all visible top-level nodes are returned.
// Names are matched against top-level nodes first and against nodes at any depth otherwise.
// It is an error if the period is unknown, a name matches nothing, or the selection is empty.
func (c *Catalog) Select(period string, names ...string) ([]Node, error) {
	roots, err := c.Roots(period)
	if err != nil {
		return nil, err
	}

	if len(names) == 0 {
		selected := make([]Node, 0, len(roots))
		for _, root := range roots {
			if !root.Hidden() {
				selected = append(selected, root)
			}
		}
		if len(selected) == 0 {
			return nil, &mrerrors.ErrNotFound{Type: "period", Value: period, Message: "no visible samples"}
		}
		return selected, nil
	}

	seen := make(map[string]bool)
	var selected []Node
	for _, name := range names {
		matches := filterByName(roots, name)
		if len(matches) == 0 {
			if matches, err = c.Find(period, name); err != nil {
				return nil, err
			}
		}
		if len(matches) == 0 {
			return nil, &mrerrors.ErrNotFound{Type: "sample", Value: name, Message: fmt.Sprintf("not in period %s", period)}
		}
		for _, m := range matches {
			if !seen[m.Key()] {
				seen[m.Key()] = true
				selected = append(selected, m)
			}
		}
	}
	return selected, nil
}

func filterByName(nodes []Node, name string) []Node {
	var rv []Node
	for _, n := range nodes {
		if n.Name() == name {
			rv = append(rv, n)
		}
	}
	return rv
}

func (c *Catalog) checkPeriod(period string) error {
	if !c.hasPeriod(period) {
		return &mrerrors.ErrNotFound{Type: "period", Value: period}
	}
	return nil
}

func (c *Catalog) query(index string, args ...interface{}) ([]Node, error) {
	txn := c.db.Txn(false)
	it, err := txn.Get(nodesTable, index, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var entries []*indexEntry
	for obj := it.Next(); obj != nil; obj = it.Next() {
		entry, ok := obj.(*indexEntry)
		if !ok {
			panic(fmt.Sprintf("expected *indexEntry, but got %T", obj))
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	nodes := make([]Node, len(entries))
	for i, entry := range entries {
		nodes[i] = entry.Node
	}
	return nodes, nil
}

func catalogSchema() *memdb.DBSchema {
	indexes := make(map[string]*memdb.IndexSchema)
	indexes[idIndex] = &memdb.IndexSchema{
		Name:    idIndex,
		Unique:  true,
		Indexer: &memdb.StringFieldIndex{Field: "Key"},
	}
	indexes[nameIndex] = &memdb.IndexSchema{
		Name:   nameIndex,
		Unique: false,
		Indexer: &memdb.CompoundIndex{
			Indexes: []memdb.Indexer{
				&memdb.StringFieldIndex{Field: "Period"},
				&memdb.StringFieldIndex{Field: "Name"},
			},
		},
	}
	indexes[typeIndex] = &memdb.IndexSchema{
		Name:   typeIndex,
		Unique: false,
		Indexer: &memdb.CompoundIndex{
			Indexes: []memdb.Indexer{
				&memdb.StringFieldIndex{Field: "Period"},
				&memdb.StringFieldIndex{Field: "Type"},
			},
		},
	}
	indexes[rootIndex] = &memdb.IndexSchema{
		Name:   rootIndex,
		Unique: false,
		Indexer: &memdb.CompoundIndex{
			Indexes: []memdb.Indexer{
				&memdb.StringFieldIndex{Field: "Period"},
				&memdb.BoolFieldIndex{Field: "Root"},
			},
		},
	}
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			nodesTable: {
				Name:    nodesTable,
				Indexes: indexes,
			},
		},
	}
}
