package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hepmr/hepmr/internal/common/mrerrors"
)

const testPeriod = "Run2016"

func leaf(t *testing.T, sampleType SampleType, path ...string) *Sample {
	s, err := NewSample(testPeriod, path, sampleType, []string{path[len(path)-1] + ".parquet"}, nil)
	require.NoError(t, err)
	return s
}

func group(t *testing.T, path Path, children ...Node) *SampleGroup {
	g, err := NewSampleGroup(testPeriod, path, children...)
	require.NoError(t, err)
	return g
}

// sharedCatalog builds Bkg -> A(L1, L2), B(L2, L3) plus a data sample, with L2 shared by A and B.
func sharedCatalog(t *testing.T) (*Catalog, map[string]Node) {
	l1 := leaf(t, Background, "Bkg", "A", "L1")
	l2 := leaf(t, Background, "Bkg", "A", "L2")
	l3 := leaf(t, Background, "Bkg", "B", "L3")
	a := group(t, Path{"Bkg", "A"}, l1, l2)
	b := group(t, Path{"Bkg", "B"}, l2, l3)
	bkg := group(t, Path{"Bkg"}, a, b)
	muon := leaf(t, Data, "SingleMuon")

	cat, err := New()
	require.NoError(t, err)
	require.NoError(t, cat.Add(testPeriod, bkg, muon))
	return cat, map[string]Node{"L1": l1, "L2": l2, "L3": l3, "A": a, "B": b, "Bkg": bkg, "SingleMuon": muon}
}

func TestCatalog_SharedLeafIndexedOnce(t *testing.T) {
	cat, nodes := sharedCatalog(t)

	assert.Equal(t, 3+1, cat.Len())
	s, ok := cat.Sample(nodes["L2"].Key())
	require.True(t, ok)
	assert.Same(t, nodes["L2"], s)

	b := nodes["B"].(*SampleGroup)
	assert.Same(t, nodes["L2"], b.Children()[0])
	assert.Equal(t, []*Sample{nodes["L1"].(*Sample), nodes["L2"].(*Sample), nodes["L3"].(*Sample)}, Leaves(nodes["Bkg"]))
}

func TestCatalog_Queries(t *testing.T) {
	cat, nodes := sharedCatalog(t)

	roots, err := cat.Roots(testPeriod)
	require.NoError(t, err)
	assert.Equal(t, []Node{nodes["Bkg"], nodes["SingleMuon"]}, roots)

	found, err := cat.Find(testPeriod, "L3")
	require.NoError(t, err)
	assert.Equal(t, []Node{nodes["L3"]}, found)

	data, err := cat.ByType(testPeriod, Data)
	require.NoError(t, err)
	assert.Equal(t, []Node{nodes["SingleMuon"]}, data)

	got, ok := cat.Get("Run2016/Bkg/A")
	require.True(t, ok)
	assert.Same(t, nodes["A"], got)

	assert.Equal(t, []string{testPeriod}, cat.Periods())
}

func TestCatalog_AddRejectsDuplicateRoot(t *testing.T) {
	cat, nodes := sharedCatalog(t)
	err := cat.Add(testPeriod, nodes["SingleMuon"])
	var catalogErr *mrerrors.ErrCatalog
	assert.ErrorAs(t, err, &catalogErr)
}

func TestCatalog_Select(t *testing.T) {
	tests := map[string]struct {
		period   string
		names    []string
		expected []string
		notFound bool
	}{
		"all visible roots": {
			period:   testPeriod,
			expected: []string{"Bkg", "SingleMuon"},
		},
		"root by name": {
			period:   testPeriod,
			names:    []string{"SingleMuon"},
			expected: []string{"SingleMuon"},
		},
		"nested by name": {
			period:   testPeriod,
			names:    []string{"B", "L1"},
			expected: []string{"B", "L1"},
		},
		"duplicates removed": {
			period:   testPeriod,
			names:    []string{"A", "A"},
			expected: []string{"A"},
		},
		"unknown period": {
			period:   "Run2018",
			notFound: true,
		},
		"unknown name": {
			period:   testPeriod,
			names:    []string{"WJets"},
			notFound: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cat, _ := sharedCatalog(t)
			selected, err := cat.Select(tc.period, tc.names...)
			if tc.notFound {
				var notFound *mrerrors.ErrNotFound
				assert.ErrorAs(t, err, &notFound)
				return
			}
			require.NoError(t, err)
			names := make([]string, len(selected))
			for i, n := range selected {
				names[i] = n.Name()
			}
			assert.Equal(t, tc.expected, names)
		})
	}
}

func TestCatalog_SelectSkipsHidden(t *testing.T) {
	cat, err := New()
	require.NoError(t, err)
	s := leaf(t, Data, "SingleMuon")
	s.hidden = true
	require.NoError(t, cat.Add(testPeriod, s))

	_, err = cat.Select(testPeriod)
	var notFound *mrerrors.ErrNotFound
	assert.ErrorAs(t, err, &notFound)

	selected, err := cat.Select(testPeriod, "SingleMuon")
	require.NoError(t, err)
	assert.Equal(t, []Node{s}, selected)
}

func TestNewSampleGroup_MixedTypes(t *testing.T) {
	_, err := NewSampleGroup(testPeriod, Path{"Mixed"}, leaf(t, Data, "D"), leaf(t, Signal, "S"))
	assert.Error(t, err)

	_, err = NewSampleGroup(testPeriod, Path{"Empty"})
	assert.Error(t, err)
}

func TestSample_Chain(t *testing.T) {
	s, err := NewSample(testPeriod, Path{"TT"}, Background, []string{"a", "b", "c"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, s.Chain(1).Files)
	assert.Equal(t, []string{"a", "b", "c"}, s.Chain(0).Files)
	assert.Equal(t, []string{"a", "b", "c"}, s.Chain(10).Files)
	assert.Equal(t, "Run2016/TT", s.Chain(0).Sample)
}

func TestAttributes(t *testing.T) {
	attrs := Attributes{
		"lumi":     19,
		"xsec":     831.76,
		"triggers": []interface{}{"HLT_IsoMu24", "HLT_IsoTkMu24"},
		"color":    "kRed",
	}

	lumi, ok := attrs.Float("lumi")
	assert.True(t, ok)
	assert.Equal(t, 19.0, lumi)

	xsec, ok := attrs.Float("xsec")
	assert.True(t, ok)
	assert.Equal(t, 831.76, xsec)

	triggers, ok := attrs.Strings("triggers")
	assert.True(t, ok)
	assert.Equal(t, []string{"HLT_IsoMu24", "HLT_IsoTkMu24"}, triggers)

	color, ok := attrs.String("color")
	assert.True(t, ok)
	assert.Equal(t, "kRed", color)

	_, ok = attrs.Float("color")
	assert.False(t, ok)
	_, ok = attrs.String("missing")
	assert.False(t, ok)
}

func TestParseSampleType(t *testing.T) {
	tests := map[string]struct {
		input    string
		expected SampleType
		fails    bool
	}{
		"data":       {input: "data", expected: Data},
		"bkg":        {input: "bkg", expected: Background},
		"background": {input: "Background", expected: Background},
		"sig":        {input: "sig", expected: Signal},
		"signal":     {input: "SIGNAL", expected: Signal},
		"unknown":    {input: "mc", fails: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			actual, err := ParseSampleType(tc.input)
			if tc.fails {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestPrintTree(t *testing.T) {
	_, nodes := sharedCatalog(t)
	out := PrintTree(nodes["Bkg"])

	assert.Contains(t, out, "Bkg")
	assert.Contains(t, out, "    L1")
	assert.Contains(t, out, "L2 -> Run2016/Bkg/A/L2")
	assert.NotContains(t, out, "L1 ->")
}
