package inventory

import (
	stdbytes "bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/hepmr/hepmr/internal/analysis"
	"github.com/hepmr/hepmr/internal/catalog"
	"github.com/hepmr/hepmr/internal/common/mrcontext"
	"github.com/hepmr/hepmr/internal/events"
	"github.com/hepmr/hepmr/internal/pool"
	"github.com/hepmr/hepmr/internal/processor"
)

const period = "Run2016preVFP"

func writeFile(t *testing.T, path string, size int) {
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func runMap(t *testing.T, a *Analysis, sample *catalog.Sample) analysis.Result {
	p, err := pool.New(pool.Config{Workers: 1, ShutdownTimeout: 5 * time.Second}, pool.NewLocalProvider(), a.Setup, nil, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start(mrcontext.Background()))
	defer p.Close()
	f, err := p.Submit(sample.Key(), func(ctx *mrcontext.Context) (interface{}, error) {
		return a.Map(ctx, sample)
	})
	require.NoError(t, err)
	value, err := f.Wait(context.Background())
	require.NoError(t, err)
	return value.(analysis.Result)
}

func TestMap_Sizes(t *testing.T) {
	dir := t.TempDir()
	small, big := filepath.Join(dir, "small.root"), filepath.Join(dir, "big.root")
	writeFile(t, small, 100)
	writeFile(t, big, 3000)
	sample, err := catalog.NewSample(period, catalog.Path{"TT"}, catalog.Background,
		[]string{small, big, filepath.Join(dir, "gone.root")}, nil)
	require.NoError(t, err)

	a := New(Config{LargeFileThreshold: resource.MustParse("1Ki"), StatThreads: 2}, &stdbytes.Buffer{})
	result := runMap(t, a, sample)

	assert.Equal(t, analysis.Result{
		"nr_files":         analysis.Int(3),
		"size_bytes":       analysis.Int(3100),
		"min_file_bytes":   analysis.Int(100),
		"max_file_bytes":   analysis.Int(3000),
		"nr_large_files":   analysis.Int(1),
		"nr_missing_files": analysis.Int(1),
	}, result)
}

func TestMap_AllMissing(t *testing.T) {
	sample, err := catalog.NewSample(period, catalog.Path{"TT"}, catalog.Background, []string{"/does/not/exist.root"}, nil)
	require.NoError(t, err)

	result := runMap(t, New(Config{}, &stdbytes.Buffer{}), sample)

	assert.Equal(t, analysis.Int(1), result["nr_missing_files"])
	assert.Equal(t, analysis.Int(0), result["size_bytes"])
	assert.NotContains(t, result, "min_file_bytes")
	assert.NotContains(t, result, "max_file_bytes")
}

func TestMap_CheckColumns(t *testing.T) {
	dir := t.TempDir()
	e, err := events.Open(context.Background())
	require.NoError(t, err)
	defer e.Close()
	write := func(name, columns string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, e.Exec(context.Background(),
			fmt.Sprintf("COPY (SELECT %s FROM range(3)) TO '%s' (FORMAT PARQUET)", columns, path)))
		return path
	}
	files := []string{
		write("a.parquet", "1.0 AS pt, 2.0 AS eta, true AS HLT_IsoMu24"),
		write("b.parquet", "1.0 AS pt, 2.0 AS eta"),
		write("c.parquet", "1.0 AS pt"),
	}
	sample, err := catalog.NewSample(period, catalog.Path{"DY"}, catalog.Background, files, nil)
	require.NoError(t, err)

	a := New(Config{CheckColumns: true, IgnoreColumnPrefixes: []string{"HLT_"}}, &stdbytes.Buffer{})
	result := runMap(t, a, sample)

	// Only c.parquet lacks eta; the trigger column is ignored.
	assert.Equal(t, analysis.Int(1), result["nr_inconsistent_files"])
	assert.Equal(t, analysis.Int(0), result["nr_missing_files"])
}

func TestRun_Report(t *testing.T) {
	dir := t.TempDir()
	newLeaf := func(path catalog.Path, sampleType catalog.SampleType, sizes ...int) *catalog.Sample {
		var files []string
		for i, size := range sizes {
			f := filepath.Join(dir, fmt.Sprintf("%s_%d.root", path[len(path)-1], i))
			writeFile(t, f, size)
			files = append(files, f)
		}
		s, err := catalog.NewSample(period, path, sampleType, files, nil)
		require.NoError(t, err)
		return s
	}
	ttSemi := newLeaf(catalog.Path{"TT", "TTSemi"}, catalog.Background, 1024, 2048)
	ttLep := newLeaf(catalog.Path{"TT", "TTLep"}, catalog.Background, 4096)
	tt, err := catalog.NewSampleGroup(period, catalog.Path{"TT"}, ttSemi, ttLep)
	require.NoError(t, err)
	data := newLeaf(catalog.Path{"SingleMuon"}, catalog.Data, 512)
	cat, err := catalog.New()
	require.NoError(t, err)
	require.NoError(t, cat.Add(period, tt, data))

	out := &stdbytes.Buffer{}
	a := New(Config{LargeFileThreshold: resource.MustParse("3Ki")}, out)
	p, err := pool.New(pool.Config{Workers: 2, ShutdownTimeout: 5 * time.Second}, pool.NewLocalProvider(), a.Setup, nil, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start(mrcontext.Background()))
	defer p.Close()

	require.NoError(t, processor.New(p, nil, nil, 0).Run(mrcontext.Background(), cat, period, a))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"SAMPLE", "TYPE", "FILES", "SIZE", "SMALLEST", "LARGEST", "LARGE", "MISSING"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{period + "/TT", "BACKGROUND", "3", "7.0", "KiB", "1.0", "KiB", "4.0", "KiB", "1", "0"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{period + "/SingleMuon", "DATA", "1", "512", "B", "512", "B", "512", "B", "0", "0"}, strings.Fields(lines[2]))
}
