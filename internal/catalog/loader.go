package catalog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru"
	"github.com/mattn/go-zglob"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v2"

	"github.com/hepmr/hepmr/internal/common/mrerrors"
)

const (
	DefaultPattern          = "*.parquet"
	defaultListingCacheSize = 1024
)

// catalogDocument is one YAML document of a catalog file.  A file holds one document per period.
type catalogDocument struct {
	Name    string             `yaml:"name"`
	Period  string             `yaml:"period"`
	Samples []sampleDefinition `yaml:"samples"`
}

type sampleDefinition struct {
	Name       string                 `yaml:"name"`
	Title      string                 `yaml:"title"`
	Type       string                 `yaml:"type"`
	Hidden     bool                   `yaml:"hidden"`
	Attributes map[string]interface{} `yaml:"attributes"`
	// Leaf samples list their files explicitly or through a directory and glob pattern.
	Directory string   `yaml:"directory"`
	Pattern   string   `yaml:"pattern"`
	Files     []string `yaml:"files"`
	// Groups list their children.
	Samples []sampleDefinition `yaml:"samples"`
	// A reference to a leaf defined elsewhere in the same period, as its path, e.g. SingleMuon/SingleMuon_2016B.
	Ref string `yaml:"ref"`
}

func (d *sampleDefinition) isLeaf() bool {
	return d.Directory != "" || len(d.Files) > 0
}

// Loader builds catalogs from YAML catalog files.
type Loader struct {
	// BaseDir is prepended to relative directories and files.
	BaseDir string
	// Pattern is used for directories that don't specify one.
	Pattern string
	// Directory listings, keyed by glob pattern.  Several periods and catalog files
	// commonly point at the same storage directories.
	listings *lru.Cache
	glob     func(pattern string) ([]string, error)
}

func NewLoader(baseDir string) (*Loader, error) {
	listings, err := lru.New(defaultListingCacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Loader{
		BaseDir:  baseDir,
		Pattern:  DefaultPattern,
		listings: listings,
		glob:     zglob.Glob,
	}, nil
}

// LoadFiles parses the given catalog files concurrently and adds them to cat in argument order.
// Nothing from a file is added if any of its documents is malformed.
func (l *Loader) LoadFiles(cat *Catalog, paths ...string) error {
	contents := make([][]byte, len(paths))
	g := new(errgroup.Group)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return errors.Wrapf(err, "failed to read catalog file %s", path)
			}
			contents[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, path := range paths {
		if err := l.Load(cat, bytes.NewReader(contents[i]), path); err != nil {
			return err
		}
	}
	return nil
}

// Load parses all documents from r and adds them to cat.  Every malformed sample is reported,
// as a multierror of *mrerrors.ErrCatalog.
func (l *Loader) Load(cat *Catalog, r io.Reader, source string) error {
	decoder := yaml.NewDecoder(r)
	decoder.SetStrict(true)

	var documents []catalogDocument
	for {
		var doc catalogDocument
		err := decoder.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return &mrerrors.ErrCatalog{Path: source, Message: err.Error()}
		}
		documents = append(documents, doc)
	}

	type built struct {
		period string
		roots  []Node
	}
	var result *multierror.Error
	var periods []built
	for i, doc := range documents {
		if doc.Period == "" {
			result = multierror.Append(result, &mrerrors.ErrCatalog{
				Path:    source,
				Message: fmt.Sprintf("document %d has no period", i),
			})
			continue
		}
		b := &builder{loader: l, catalog: cat, period: doc.Period, local: make(map[string]Node)}
		roots := b.buildAll(nil, nil, doc.Samples)
		b.resolveRefs()
		if len(b.errs) > 0 {
			result = multierror.Append(result, b.errs...)
			continue
		}
		periods = append(periods, built{period: doc.Period, roots: roots})
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}

	for _, p := range periods {
		if err := cat.Add(p.period, p.roots...); err != nil {
			return err
		}
		log.Debugf("Loaded %d samples for %s from %s", len(p.roots), p.period, source)
	}
	return nil
}

func (l *Loader) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || l.BaseDir == "" {
		return path
	}
	return filepath.Join(l.BaseDir, path)
}

func (l *Loader) listFiles(directory, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = l.Pattern
	}
	glob := filepath.Join(l.resolve(directory), pattern)
	if cached, ok := l.listings.Get(glob); ok {
		return cached.([]string), nil
	}
	var files []string
	if _, err := os.Stat(l.resolve(directory)); err == nil {
		if files, err = l.glob(glob); err != nil {
			return nil, errors.Wrapf(err, "failed to list %s", glob)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.WithStack(err)
	}
	sort.Strings(files)
	l.listings.Add(glob, files)
	return files, nil
}

// pendingRef is a child slot to be filled once the whole document has been built.
type pendingRef struct {
	group *SampleGroup
	slot  int
	ref   string
	path  Path
}

type builder struct {
	loader  *Loader
	catalog *Catalog
	period  string
	local   map[string]Node
	pending []pendingRef
	groups  []*groupCheck
	errs    []error
}

type groupCheck struct {
	group    *SampleGroup
	explicit string
}

func (b *builder) fail(path Path, format string, args ...interface{}) {
	b.errs = append(b.errs, &mrerrors.ErrCatalog{Path: MakeKey(b.period, path), Message: fmt.Sprintf(format, args...)})
}

// buildAll builds the definitions below parent.  References are left as nil slots in the returned
// slice and recorded for resolveRefs; group is nil for the top level, where references are not allowed.
func (b *builder) buildAll(parent Path, group *SampleGroup, defs []sampleDefinition) []Node {
	names := make(map[string]bool)
	nodes := make([]Node, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		if def.Ref != "" {
			if group == nil {
				b.fail(parent, "top-level sample %d is a reference to %s", i, def.Ref)
				continue
			}
			b.pending = append(b.pending, pendingRef{group: group, slot: len(nodes), ref: def.Ref, path: parent})
			nodes = append(nodes, nil)
			continue
		}
		if def.Name == "" {
			b.fail(parent, "sample %d has no name", i)
			continue
		}
		if names[def.Name] {
			b.fail(parent.Child(def.Name), "duplicate sample name")
			continue
		}
		names[def.Name] = true
		if node := b.build(parent.Child(def.Name), def); node != nil {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

func (b *builder) build(path Path, def *sampleDefinition) Node {
	common := base{
		name:   def.Name,
		title:  def.Title,
		attrs:  Attributes(def.Attributes),
		period: b.period,
		path:   path,
		hidden: def.Hidden,
	}
	if common.attrs == nil {
		common.attrs = Attributes{}
	}

	if def.isLeaf() && len(def.Samples) > 0 {
		b.fail(path, "sample has both files and child samples")
		return nil
	}

	if def.isLeaf() {
		sampleType, err := ParseSampleType(def.Type)
		if err != nil {
			b.fail(path, "%s", err)
			return nil
		}
		common.sampleType = sampleType
		files, err := b.files(def)
		if err != nil {
			b.fail(path, "%s", err)
			return nil
		}
		if len(files) == 0 {
			b.fail(path, "sample has no files")
			return nil
		}
		s := &Sample{base: common, files: files}
		b.local[s.Key()] = s
		return s
	}

	if len(def.Samples) == 0 {
		b.fail(path, "sample has neither files nor child samples")
		return nil
	}
	g := &SampleGroup{base: common}
	g.children = b.buildAll(path, g, def.Samples)
	b.groups = append(b.groups, &groupCheck{group: g, explicit: def.Type})
	b.local[g.Key()] = g
	return g
}

func (b *builder) files(def *sampleDefinition) ([]string, error) {
	if len(def.Files) > 0 {
		files := make([]string, len(def.Files))
		for i, f := range def.Files {
			if def.Directory != "" && !filepath.IsAbs(f) {
				f = filepath.Join(def.Directory, f)
			}
			files[i] = b.loader.resolve(f)
		}
		return files, nil
	}
	return b.loader.listFiles(def.Directory, def.Pattern)
}

// resolveRefs fills reference placeholders and then checks the type consistency of every group.  Groups are
// recorded after their children, so walking b.groups in order visits innermost groups first.
func (b *builder) resolveRefs() {
	for _, p := range b.pending {
		key := MakeKey(b.period, splitPath(p.ref))
		target, ok := b.local[key]
		if !ok {
			target, ok = b.catalog.Get(key)
		}
		if !ok {
			b.fail(p.path, "reference to unknown sample %s", p.ref)
			continue
		}
		if _, isLeaf := target.(*Sample); !isLeaf {
			b.fail(p.path, "reference %s is not a leaf sample", p.ref)
			continue
		}
		p.group.children[p.slot] = target
	}

	for _, check := range b.groups {
		g := check.group
		children := g.children[:0]
		for _, c := range g.children {
			if c != nil {
				children = append(children, c)
			}
		}
		g.children = children
		if len(g.children) == 0 {
			b.fail(g.path, "group has no valid children")
			continue
		}
		g.sampleType = g.children[0].Type()
		for _, child := range g.children[1:] {
			if child.Type() != g.sampleType {
				b.fail(g.path, "group mixes %s and %s samples", g.sampleType, child.Type())
				break
			}
		}
		if check.explicit != "" {
			explicit, err := ParseSampleType(check.explicit)
			if err != nil {
				b.fail(g.path, "%s", err)
			} else if explicit != g.sampleType {
				b.fail(g.path, "group declared %s but contains %s samples", explicit, g.sampleType)
			}
		}
	}
}

func splitPath(s string) Path {
	var parts Path
	for _, part := range strings.Split(filepath.ToSlash(s), "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
