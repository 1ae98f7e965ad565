// Package histos fills histograms defined in a YAML file for every sample and writes the merged histograms of each
// selected top-level sample as JSON.
package histos

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/hepmr/hepmr/internal/analyses/selection"
	"github.com/hepmr/hepmr/internal/analysis"
	"github.com/hepmr/hepmr/internal/catalog"
	"github.com/hepmr/hepmr/internal/common/mrcontext"
	"github.com/hepmr/hepmr/internal/events"
	"github.com/hepmr/hepmr/internal/pool"
)

const (
	eventsKey     = "nr_events"
	sumWeightsKey = "sum_weights"
)

// Definitions is the content of a histogram definitions file.
type Definitions struct {
	// Applied in order before any histogram is filled.
	Cuts       []selection.Cut    `yaml:"cuts"`
	Histograms []events.HistoSpec `yaml:"histograms"`
}

func (d *Definitions) Validate() error {
	if len(d.Histograms) == 0 {
		return errors.New("no histograms defined")
	}
	if err := selection.ValidateCuts(d.Cuts); err != nil {
		return err
	}
	seen := make(map[string]bool)
	for i, spec := range d.Histograms {
		switch {
		case spec.Name == "":
			return errors.Errorf("histogram %d has no name", i)
		case spec.Name == eventsKey || spec.Name == sumWeightsKey:
			return errors.Errorf("histogram name %s is reserved", spec.Name)
		case strings.HasPrefix(spec.Name, "min_") || strings.HasPrefix(spec.Name, "max_"):
			return errors.Errorf("histogram name %s must not start with min_ or max_", spec.Name)
		case seen[spec.Name]:
			return errors.Errorf("duplicate histogram %s", spec.Name)
		case spec.Expr == "":
			return errors.Errorf("histogram %s has no expression", spec.Name)
		}
		seen[spec.Name] = true
		if _, err := spec.NewHistogram(); err != nil {
			return err
		}
	}
	return nil
}

// ParseDefinitions decodes and validates a definitions document.  Unknown fields are rejected.
func ParseDefinitions(data []byte) (*Definitions, error) {
	d := &Definitions{}
	if err := yaml.UnmarshalStrict(data, d); err != nil {
		return nil, errors.Wrap(err, "invalid histogram definitions")
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func LoadDefinitions(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	d, err := ParseDefinitions(data)
	return d, errors.WithMessagef(err, "histogram definitions %s", path)
}

// Output is the JSON document written for each top-level sample.
type Output struct {
	Period     string                         `json:"period"`
	Sample     string                         `json:"sample"`
	Title      string                         `json:"title"`
	Type       string                         `json:"type"`
	Events     int64                          `json:"events"`
	SumWeights float64                        `json:"sumWeights"`
	Histograms map[string]*analysis.Histogram `json:"histograms"`
}

type Analysis struct {
	analysis.Base
	selection   selection.Config
	definitions *Definitions
	// Directory receiving <period>/<sample>.json.
	outputDir string
}

func New(sel selection.Config, definitions *Definitions, outputDir string) (*Analysis, error) {
	if err := definitions.Validate(); err != nil {
		return nil, err
	}
	if outputDir == "" {
		return nil, errors.New("no output directory given")
	}
	return &Analysis{
		Base:        analysis.Base{Policy: analysis.PrefixMergePolicy{}},
		selection:   sel,
		definitions: definitions,
		outputDir:   outputDir,
	}, nil
}

func (a *Analysis) Setup(ctx *mrcontext.Context, worker pool.WorkerInfo) (interface{}, error) {
	return a.selection.WorkerSetup(ctx, worker)
}

func (a *Analysis) Map(ctx *mrcontext.Context, sample *catalog.Sample) (analysis.Result, error) {
	ctx.Log.Infof("Filling %d histograms for %s", len(a.definitions.Histograms), sample.Key())
	frame, err := a.selection.Frame(ctx, sample)
	if err != nil {
		return nil, err
	}
	for _, cut := range a.definitions.Cuts {
		frame = selection.Apply(frame, cut)
	}

	values, err := frame.Aggregate(ctx,
		events.AggregateSpec{Name: eventsKey, Func: events.CountOf, Expr: "*"},
		events.AggregateSpec{Name: sumWeightsKey, Func: events.SumOf, Expr: selection.WeightColumn},
	)
	if err != nil {
		return nil, err
	}
	result := analysis.Result{
		eventsKey:     analysis.Int(int64(values[eventsKey])),
		sumWeightsKey: analysis.Float(values[sumWeightsKey]),
	}
	for _, spec := range a.definitions.Histograms {
		h, err := frame.Histo1D(ctx, spec, selection.WeightColumn)
		if err != nil {
			return nil, err
		}
		result[spec.Name] = h
	}
	return result, nil
}

// Gather writes one file per selected top-level sample.
func (a *Analysis) Gather(ctx *mrcontext.Context, completed *analysis.Completed) error {
	if err := completed.Wait(ctx); err != nil {
		return err
	}
	dir := filepath.Join(a.outputDir, completed.Period())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WithStack(err)
	}
	for _, root := range completed.Roots() {
		result, _ := completed.Result(root)
		path := filepath.Join(dir, root.Name()+".json")
		if err := writeOutput(path, a.output(root, result)); err != nil {
			return err
		}
		ctx.Log.Infof("Wrote histograms of %s to %s", root.Key(), path)
	}
	return nil
}

func (a *Analysis) output(root catalog.Node, result analysis.Result) *Output {
	out := &Output{
		Period:     root.Period(),
		Sample:     root.Name(),
		Title:      root.Title(),
		Type:       root.Type().String(),
		Histograms: make(map[string]*analysis.Histogram, len(a.definitions.Histograms)),
	}
	out.Events, _ = result.Int(eventsKey)
	out.SumWeights, _ = result.Float(sumWeightsKey)
	for _, spec := range a.definitions.Histograms {
		if h, ok := result.Histogram(spec.Name); ok {
			out.Histograms[spec.Name] = h
		}
	}
	return out
}

func writeOutput(path string, out *Output) error {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.WriteFile(path, data, 0o644))
}

// ReadOutput reads a file written by Gather.
func ReadOutput(path string) (*Output, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	out := &Output{}
	return out, errors.Wrapf(json.Unmarshal(data, out), "invalid histogram output %s", path)
}
