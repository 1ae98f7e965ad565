// Package inventory reports the files behind every selected sample: how many there are, their sizes, files that
// are missing and files whose columns differ from the other files of their sample.
package inventory

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/hepmr/hepmr/internal/analysis"
	"github.com/hepmr/hepmr/internal/catalog"
	"github.com/hepmr/hepmr/internal/common/mrcontext"
	"github.com/hepmr/hepmr/internal/common/util"
	"github.com/hepmr/hepmr/internal/events"
	"github.com/hepmr/hepmr/internal/pool"
)

const (
	filesKey        = "nr_files"
	bytesKey        = "size_bytes"
	minBytesKey     = "min_file_bytes"
	maxBytesKey     = "max_file_bytes"
	largeKey        = "nr_large_files"
	missingKey      = "nr_missing_files"
	inconsistentKey = "nr_inconsistent_files"
)

const defaultStatThreads = 8

type Config struct {
	// Files above this size are counted as large; zero disables the check.
	LargeFileThreshold resource.Quantity
	// Compare the columns of the files of each sample.
	CheckColumns bool
	// Columns with these prefixes may differ between files, e.g. HLT_ trigger bits.
	IgnoreColumnPrefixes []string
	// Files of one sample stat'ed concurrently.
	StatThreads int
}

type Analysis struct {
	analysis.Base
	config Config
	out    io.Writer
}

func New(config Config, out io.Writer) *Analysis {
	if config.StatThreads <= 0 {
		config.StatThreads = defaultStatThreads
	}
	return &Analysis{
		Base:   analysis.Base{Policy: analysis.PrefixMergePolicy{}},
		config: config,
		out:    out,
	}
}

// Setup opens an event engine on workers when columns are compared.
func (a *Analysis) Setup(ctx *mrcontext.Context, worker pool.WorkerInfo) (interface{}, error) {
	if !a.config.CheckColumns {
		return nil, nil
	}
	return events.Setup()(ctx, worker)
}

type fileInfo struct {
	path string
	size int64
	err  error
}

func (a *Analysis) Map(ctx *mrcontext.Context, sample *catalog.Sample) (analysis.Result, error) {
	files := a.stat(ctx, sample.Files())
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	threshold := a.config.LargeFileThreshold.Value()
	result := analysis.Result{
		filesKey:   analysis.Int(len(files)),
		bytesKey:   analysis.Int(0),
		largeKey:   analysis.Int(0),
		missingKey: analysis.Int(0),
	}
	var present []string
	var total, large, missing int64
	for _, f := range files {
		if f.err != nil {
			ctx.Log.WithError(f.err).Warnf("Cannot access %s", f.path)
			missing++
			continue
		}
		present = append(present, f.path)
		total += f.size
		if threshold > 0 && f.size > threshold {
			large++
		}
		if v, ok := result.Int(minBytesKey); !ok || f.size < v {
			result[minBytesKey] = analysis.Int(f.size)
		}
		if v, ok := result.Int(maxBytesKey); !ok || f.size > v {
			result[maxBytesKey] = analysis.Int(f.size)
		}
	}
	result[bytesKey] = analysis.Int(total)
	result[largeKey] = analysis.Int(large)
	result[missingKey] = analysis.Int(missing)

	if a.config.CheckColumns {
		inconsistent, err := a.checkColumns(ctx, sample, present)
		if err != nil {
			return nil, err
		}
		result[inconsistentKey] = analysis.Int(inconsistent)
	}
	return result, nil
}

func (a *Analysis) stat(ctx *mrcontext.Context, paths []string) []fileInfo {
	files := make([]fileInfo, len(paths))
	indexes := make([]int, len(paths))
	for i := range indexes {
		indexes[i] = i
	}
	mu := sync.Mutex{}
	util.ProcessItemsWithThreadPool(ctx, a.config.StatThreads, indexes, func(i int) {
		info, err := os.Stat(paths[i])
		f := fileInfo{path: paths[i], err: err}
		if err == nil {
			f.size = info.Size()
		}
		mu.Lock()
		defer mu.Unlock()
		files[i] = f
	})
	return files
}

// checkColumns returns the number of files lacking a column that another file of the sample has.
func (a *Analysis) checkColumns(ctx *mrcontext.Context, sample *catalog.Sample, paths []string) (int64, error) {
	engine, err := events.FromWorker(ctx)
	if err != nil {
		return 0, err
	}
	columns := make([]map[string]bool, len(paths))
	all := make(map[string]bool)
	for i, path := range paths {
		names, err := engine.From(&catalog.Chain{Sample: sample.Key(), Files: []string{path}}).Columns(ctx)
		if err != nil {
			return 0, err
		}
		columns[i] = make(map[string]bool, len(names))
		for _, n := range names {
			if !a.ignored(n) {
				columns[i][n] = true
				all[n] = true
			}
		}
	}
	var inconsistent int64
	for i, path := range paths {
		var missing []string
		for n := range all {
			if !columns[i][n] {
				missing = append(missing, n)
			}
		}
		if len(missing) > 0 {
			slices.Sort(missing)
			ctx.Log.Warnf("%s lacks columns %s", path, strings.Join(missing, ", "))
			inconsistent++
		}
	}
	return inconsistent, nil
}

func (a *Analysis) ignored(column string) bool {
	for _, p := range a.config.IgnoreColumnPrefixes {
		if strings.HasPrefix(column, p) {
			return true
		}
	}
	return false
}

func (a *Analysis) Gather(ctx *mrcontext.Context, completed *analysis.Completed) error {
	if err := completed.Wait(ctx); err != nil {
		return err
	}
	_, err := io.WriteString(a.out, a.Report(completed))
	return errors.WithStack(err)
}

// Report renders one row per selected top-level sample.
func (a *Analysis) Report(completed *analysis.Completed) string {
	tb := util.NewTableBuilder()
	header := []any{"SAMPLE", "TYPE", "FILES", "SIZE", "SMALLEST", "LARGEST", "LARGE", "MISSING"}
	if a.config.CheckColumns {
		header = append(header, "INCONSISTENT")
	}
	tb.WriteRow(header...)
	for _, root := range completed.Roots() {
		r, _ := completed.Result(root)
		row := []any{
			completed.Period() + "/" + root.Name(),
			root.Type(),
			count(r, filesKey),
			bytes(r, bytesKey),
			bytes(r, minBytesKey),
			bytes(r, maxBytesKey),
			count(r, largeKey),
			count(r, missingKey),
		}
		if a.config.CheckColumns {
			row = append(row, count(r, inconsistentKey))
		}
		tb.WriteRow(row...)
	}
	return tb.String()
}

func count(r analysis.Result, key string) any {
	if v, ok := r.Int(key); ok {
		return v
	}
	return "-"
}

func bytes(r analysis.Result, key string) string {
	v, ok := r.Int(key)
	if !ok {
		return "-"
	}
	return humanize.IBytes(uint64(v))
}
