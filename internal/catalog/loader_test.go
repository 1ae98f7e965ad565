package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hepmr/hepmr/internal/common/mrerrors"
)

const validCatalog = `
name: MetLepEnergy_v7
period: Run2016
samples:
  - name: TT
    type: bkg
    title: ttbar
    attributes:
      color: 633
    samples:
      - name: TTLep
        type: bkg
        directory: TTLep
      - name: TTSingleLep
        type: bkg
        files: [single_1.root, single_2.root]
  - name: SingleMuon
    type: data
    hidden: true
    attributes:
      trigger: [HLT_IsoMu24]
      integrated_luminosity: 19.5
    samples:
      - name: SingleMuon_B
        type: data
        directory: SingleMuon/B
        pattern: "**/*.root"
  - name: AllData
    samples:
      - ref: SingleMuon/SingleMuon_B
---
period: Run2017
samples:
  - name: TTLep
    type: bkg
    files: [/abs/ttlep.root]
`

func touch(t *testing.T, dir string, names ...string) {
	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, nil, 0o644))
	}
}

func newTestLoader(t *testing.T) (*Loader, string) {
	dir := t.TempDir()
	touch(t, dir,
		"TTLep/b.root", "TTLep/a.root", "TTLep/ignored.txt",
		"SingleMuon/B/0000/x.root", "SingleMuon/B/0001/y.root",
	)
	loader, err := NewLoader(dir)
	require.NoError(t, err)
	return loader, dir
}

func TestLoader_Load(t *testing.T) {
	loader, dir := newTestLoader(t)
	cat, err := New()
	require.NoError(t, err)

	require.NoError(t, loader.Load(cat, strings.NewReader(validCatalog), "test.yaml"))

	assert.Equal(t, []string{"Run2016", "Run2017"}, cat.Periods())

	ttlep, ok := cat.Sample("Run2016/TT/TTLep")
	require.True(t, ok)
	assert.Equal(t, []string{filepath.Join(dir, "TTLep/a.root"), filepath.Join(dir, "TTLep/b.root")}, ttlep.Files())
	assert.Equal(t, Background, ttlep.Type())

	single, ok := cat.Sample("Run2016/TT/TTSingleLep")
	require.True(t, ok)
	assert.Equal(t, []string{filepath.Join(dir, "single_1.root"), filepath.Join(dir, "single_2.root")}, single.Files())

	muon, ok := cat.Sample("Run2016/SingleMuon/SingleMuon_B")
	require.True(t, ok)
	assert.Equal(t, 2, muon.Len())

	tt, ok := cat.Get("Run2016/TT")
	require.True(t, ok)
	assert.Equal(t, "ttbar", tt.Title())
	color, ok := tt.Attrs().Float("color")
	assert.True(t, ok)
	assert.Equal(t, 633.0, color)

	allData, ok := cat.Get("Run2016/AllData")
	require.True(t, ok)
	assert.Equal(t, Data, allData.Type())
	assert.Same(t, muon, allData.(*SampleGroup).Children()[0])

	other, ok := cat.Sample("Run2017/TTLep")
	require.True(t, ok)
	assert.Equal(t, []string{"/abs/ttlep.root"}, other.Files())

	selected, err := cat.Select("Run2016")
	require.NoError(t, err)
	require.Len(t, selected, 2)
	assert.Equal(t, "TT", selected[0].Name())
	assert.Equal(t, "AllData", selected[1].Name())
}

func TestLoader_LoadFiles(t *testing.T) {
	loader, dir := newTestLoader(t)
	first := filepath.Join(dir, "first.yaml")
	second := filepath.Join(dir, "second.yaml")
	require.NoError(t, os.WriteFile(first, []byte(validCatalog), 0o644))
	require.NoError(t, os.WriteFile(second, []byte(`
period: Run2018
samples:
  - name: WJets
    type: bkg
    files: [w.root]
`), 0o644))

	cat, err := New()
	require.NoError(t, err)
	require.NoError(t, loader.LoadFiles(cat, first, second))
	assert.Equal(t, []string{"Run2016", "Run2017", "Run2018"}, cat.Periods())

	err = loader.LoadFiles(cat, filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoader_ValidationErrors(t *testing.T) {
	tests := map[string]struct {
		yaml     string
		expected []string
	}{
		"missing period": {
			yaml:     "samples: []",
			expected: []string{"has no period"},
		},
		"leaf without files": {
			yaml: `
period: P
samples:
  - name: Empty
    type: bkg
    directory: nothing-here
`,
			expected: []string{"P/Empty: sample has no files"},
		},
		"files and samples": {
			yaml: `
period: P
samples:
  - name: Both
    type: bkg
    files: [a.root]
    samples:
      - {name: X, type: bkg, files: [x.root]}
`,
			expected: []string{"P/Both: sample has both files and child samples"},
		},
		"neither files nor samples": {
			yaml: `
period: P
samples:
  - name: Nothing
    type: bkg
`,
			expected: []string{"P/Nothing: sample has neither files nor child samples"},
		},
		"unknown type": {
			yaml: `
period: P
samples:
  - {name: X, type: mc, files: [x.root]}
`,
			expected: []string{`unknown sample type "mc"`},
		},
		"mixed group": {
			yaml: `
period: P
samples:
  - name: Mixed
    samples:
      - {name: D, type: data, files: [d.root]}
      - {name: S, type: sig, files: [s.root]}
`,
			expected: []string{"P/Mixed: group mixes DATA and SIGNAL samples"},
		},
		"declared type mismatch": {
			yaml: `
period: P
samples:
  - name: Sig
    type: sig
    samples:
      - {name: D, type: data, files: [d.root]}
`,
			expected: []string{"group declared SIGNAL but contains DATA samples"},
		},
		"duplicate names": {
			yaml: `
period: P
samples:
  - {name: X, type: bkg, files: [x.root]}
  - {name: X, type: bkg, files: [y.root]}
`,
			expected: []string{"P/X: duplicate sample name"},
		},
		"dangling and group refs": {
			yaml: `
period: P
samples:
  - name: G
    samples:
      - {name: X, type: bkg, files: [x.root]}
  - name: Refs
    samples:
      - ref: G/Y
      - ref: G
`,
			expected: []string{"reference to unknown sample G/Y", "reference G is not a leaf sample"},
		},
		"top-level ref": {
			yaml: `
period: P
samples:
  - ref: X
`,
			expected: []string{"is a reference to X"},
		},
		"unknown field": {
			yaml: `
period: P
samples:
  - {name: X, type: bkg, files: [x.root], colour: 2}
`,
			expected: []string{"colour"},
		},
		"all errors reported": {
			yaml: `
period: P
samples:
  - {name: A, type: bkg}
  - {name: B, type: what, files: [b.root]}
`,
			expected: []string{"P/A", "P/B"},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			loader, _ := newTestLoader(t)
			cat, err := New()
			require.NoError(t, err)

			err = loader.Load(cat, strings.NewReader(tc.yaml), "test.yaml")
			require.Error(t, err)
			for _, expected := range tc.expected {
				assert.Contains(t, err.Error(), expected)
			}

			var catalogErr *mrerrors.ErrCatalog
			assert.ErrorAs(t, err, &catalogErr)
			assert.Equal(t, mrerrors.ExitCatalog, mrerrors.ExitCode(err))
			assert.Empty(t, cat.Periods())
		})
	}
}

func TestLoader_AllErrorsCollected(t *testing.T) {
	loader, _ := newTestLoader(t)
	cat, err := New()
	require.NoError(t, err)

	err = loader.Load(cat, strings.NewReader(`
period: P
samples:
  - {name: A, type: bkg}
  - {name: B, type: what, files: [b.root]}
  - {name: C, type: bkg, files: [c.root]}
`), "test.yaml")

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 2)
}

func TestLoader_RefAcrossLoads(t *testing.T) {
	loader, _ := newTestLoader(t)
	cat, err := New()
	require.NoError(t, err)

	require.NoError(t, loader.Load(cat, strings.NewReader(`
period: P
samples:
  - name: Muon
    samples:
      - {name: B, type: data, files: [b.root]}
`), "first.yaml"))
	require.NoError(t, loader.Load(cat, strings.NewReader(`
period: P
samples:
  - name: All
    samples:
      - ref: Muon/B
`), "second.yaml"))

	b, ok := cat.Sample("P/Muon/B")
	require.True(t, ok)
	all, ok := cat.Get("P/All")
	require.True(t, ok)
	assert.Same(t, b, all.(*SampleGroup).Children()[0])
	assert.Equal(t, 1, cat.Len())
}

func TestLoader_ListingCached(t *testing.T) {
	loader, _ := newTestLoader(t)
	calls := 0
	glob := loader.glob
	loader.glob = func(pattern string) ([]string, error) {
		calls++
		return glob(pattern)
	}

	catalogYaml := `
period: %s
samples:
  - {name: TTLep, type: bkg, directory: TTLep}
`
	cat, err := New()
	require.NoError(t, err)
	for _, period := range []string{"A", "B"} {
		require.NoError(t, loader.Load(cat, strings.NewReader(strings.Replace(catalogYaml, "%s", period, 1)), "test.yaml"))
	}
	assert.Equal(t, 1, calls)
}

func TestLoader_NestedGroupTypes(t *testing.T) {
	tests := map[string]struct {
		rootType string
	}{
		"implicit": {rootType: ""},
		"explicit": {rootType: "\n    type: bkg"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			doc := `
period: Run2016
samples:
  - name: Bkg` + tc.rootType + `
    samples:
      - name: A
        samples:
          - name: L1
            type: bkg
            files: [l1.parquet]
          - name: L2
            type: bkg
            files: [l2.parquet]
      - name: B
        type: bkg
        samples:
          - name: L3
            type: bkg
            files: [l3.parquet]
`
			loader, err := NewLoader(t.TempDir())
			require.NoError(t, err)
			cat, err := New()
			require.NoError(t, err)

			require.NoError(t, loader.Load(cat, strings.NewReader(doc), "nested.yaml"))

			roots, err := cat.Roots("Run2016")
			require.NoError(t, err)
			require.Len(t, roots, 1)
			assert.Equal(t, Background, roots[0].Type())
			a, ok := cat.Get("Run2016/Bkg/A")
			require.True(t, ok)
			assert.Equal(t, Background, a.Type())
		})
	}
}
