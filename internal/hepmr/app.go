// Package hepmr implements the hepmr command line: loading the catalog, setting up the worker pool and running
// analyses period by period.
package hepmr

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"

	"github.com/hepmr/hepmr/internal/analysis"
	"github.com/hepmr/hepmr/internal/build"
	"github.com/hepmr/hepmr/internal/catalog"
	"github.com/hepmr/hepmr/internal/common/mrcontext"
	"github.com/hepmr/hepmr/internal/configuration"
	"github.com/hepmr/hepmr/internal/pool"
	"github.com/hepmr/hepmr/internal/processor"
)

// AnalysisFactory creates the analysis of a run.  Output written by the analysis goes to out.
type AnalysisFactory func(config configuration.HepmrConfig, out io.Writer) (analysis.Analysis, error)

type App struct {
	Config configuration.HepmrConfig
	// Output of analyses, the catalog tree and the version.
	Out io.Writer
	// Progress bar output.
	Err io.Writer
	// Metrics of the pool and processor are registered here.
	Registerer prometheus.Registerer
	// Runs the sbatch, squeue and scancel commands of a SLURM backed pool.
	Runner pool.CommandRunner
	Clock  clock.Clock
}

func New(config configuration.HepmrConfig) *App {
	return &App{
		Config:     config,
		Out:        os.Stdout,
		Err:        os.Stderr,
		Registerer: prometheus.DefaultRegisterer,
		Runner:     pool.ExecRunner{},
		Clock:      clock.RealClock{},
	}
}

// Version prints build information to the app output.
func (a *App) Version() error {
	w := tabwriter.NewWriter(a.Out, 1, 1, 1, ' ', 0)
	fmt.Fprintf(w, "Version:\t%s\n", build.ReleaseVersion)
	fmt.Fprintf(w, "Commit:\t%s\n", build.GitCommit)
	fmt.Fprintf(w, "Go version:\t%s\n", build.GoVersion)
	fmt.Fprintf(w, "Built:\t%s\n", build.BuildTime)
	return w.Flush()
}

// LoadCatalog reads the configured catalog files.
func (a *App) LoadCatalog(ctx *mrcontext.Context) (*catalog.Catalog, error) {
	loader, err := catalog.NewLoader(a.Config.Catalog.BaseDir)
	if err != nil {
		return nil, err
	}
	if a.Config.Catalog.Pattern != "" {
		loader.Pattern = a.Config.Catalog.Pattern
	}
	cat, err := catalog.New()
	if err != nil {
		return nil, err
	}
	if err := loader.LoadFiles(cat, a.Config.Catalog.Files...); err != nil {
		return nil, err
	}
	ctx.Log.Infof("Loaded %d samples in %d periods from %d catalog files",
		cat.Len(), len(cat.Periods()), len(a.Config.Catalog.Files))
	return cat, nil
}

// periods returns the configured periods, or all periods of cat.
func (a *App) periods(cat *catalog.Catalog) []string {
	if len(a.Config.Run.Periods) > 0 {
		return a.Config.Run.Periods
	}
	return cat.Periods()
}

// Tree prints the catalog tree of every period.
func (a *App) Tree(ctx *mrcontext.Context) error {
	cat, err := a.LoadCatalog(ctx)
	if err != nil {
		return err
	}
	for _, period := range a.periods(cat) {
		roots, err := cat.Roots(period)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(a.Out, "%s\n%s\n", period, catalog.PrintTree(roots...)); err != nil {
			return err
		}
	}
	return nil
}

// Run processes every period with the analysis created by newAnalysis.  One worker pool serves all periods.
func (a *App) Run(ctx *mrcontext.Context, newAnalysis AnalysisFactory) (err error) {
	cat, err := a.LoadCatalog(ctx)
	if err != nil {
		return err
	}
	an, err := newAnalysis(a.Config, a.Out)
	if err != nil {
		return err
	}

	var setup pool.SetupFunc
	if s, ok := an.(analysis.WorkerSetup); ok {
		setup = s.Setup
	}
	provider := pool.NewProvider(a.Config.Pool, a.Runner, a.Clock)
	p, err := pool.New(a.Config.Pool, provider, setup, a.Clock, pool.NewMetrics(a.Registerer))
	if err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if closeErr := p.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	var observer processor.Observer = processor.NoopObserver{}
	if a.Config.Run.Progress {
		observer = newProgressObserver(a.Err)
	}
	proc := processor.New(p, observer, processor.NewMetrics(a.Registerer), a.Config.Run.MaxFiles())
	for _, period := range a.periods(cat) {
		if err := proc.Run(ctx, cat, period, an, a.Config.Run.Samples...); err != nil {
			return err
		}
	}
	return nil
}
