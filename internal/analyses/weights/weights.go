// Package weights checks event weights: for every channel it counts the events passing each selection stage and
// records the sum, minimum and maximum of their weights, then compares collision data with the simulated
// backgrounds.
package weights

import (
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"

	"github.com/hepmr/hepmr/internal/analyses/selection"
	"github.com/hepmr/hepmr/internal/analysis"
	"github.com/hepmr/hepmr/internal/catalog"
	"github.com/hepmr/hepmr/internal/common/mrcontext"
	"github.com/hepmr/hepmr/internal/common/util"
	"github.com/hepmr/hepmr/internal/events"
	"github.com/hepmr/hepmr/internal/pool"
)

const totalEventsKey = "nr_events"

// Channel is a trigger selection followed by cumulative cuts.  Its stages are named after the channel and
// numbered from 1, the first stage being the trigger selection alone.
type Channel struct {
	Name string
	// Top-level data sample the channel is compared against, e.g. SingleMuon.
	DataSample string
	// Events passing any of these triggers enter the channel.
	Triggers []string
	Cuts     []selection.Cut
}

// Stages returns the stage names of the channel in order.
func (c Channel) Stages() []string {
	stages := make([]string, len(c.Cuts)+1)
	for i := range stages {
		stages[i] = fmt.Sprintf("%s%d", c.Name, i+1)
	}
	return stages
}

type Config struct {
	Selection selection.Config
	Channels  []Channel
}

func (c Config) Validate() error {
	if len(c.Channels) == 0 {
		return errors.New("no channels configured")
	}
	seen := make(map[string]bool)
	for _, ch := range c.Channels {
		if ch.Name == "" {
			return errors.New("channel without name")
		}
		if seen[ch.Name] {
			return errors.Errorf("duplicate channel %s", ch.Name)
		}
		seen[ch.Name] = true
		if err := selection.ValidateCuts(ch.Cuts); err != nil {
			return errors.WithMessagef(err, "channel %s", ch.Name)
		}
	}
	return nil
}

// Analysis implements analysis.Analysis.  Results are merged by key prefix: counts and sums add up, min_ and max_
// keys keep the extreme value.
type Analysis struct {
	analysis.Base
	config Config
	out    io.Writer
}

func New(config Config, out io.Writer) (*Analysis, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Analysis{
		Base:   analysis.Base{Policy: analysis.PrefixMergePolicy{}},
		config: config,
		out:    out,
	}, nil
}

func (a *Analysis) Setup(ctx *mrcontext.Context, worker pool.WorkerInfo) (interface{}, error) {
	return a.config.Selection.WorkerSetup(ctx, worker)
}

func nrEventsKey(stage string) string { return "nr_events_" + stage }
func sumWeightsKey(stage string) string { return "sum_weights_" + stage }
func minWeightsKey(stage string) string { return "min_weights_" + stage }
func maxWeightsKey(stage string) string { return "max_weights_" + stage }

func (a *Analysis) Map(ctx *mrcontext.Context, sample *catalog.Sample) (analysis.Result, error) {
	ctx.Log.Infof("Processing %s with %d files", sample.Key(), sample.Len())
	frame, err := a.config.Selection.Frame(ctx, sample)
	if err != nil {
		return nil, err
	}
	ctx.Log.Debugf("Weight: %s", a.config.Selection.Weight(sample))

	total, err := frame.Count(ctx)
	if err != nil {
		return nil, err
	}
	result := analysis.Result{totalEventsKey: analysis.Int(total)}
	columns, err := frame.Columns(ctx)
	if err != nil {
		return nil, err
	}

	for _, ch := range a.config.Channels {
		stages := ch.Stages()
		stage := selection.Triggers(mrcontext.WithLogField(ctx, "channel", ch.Name), frame, ch.Triggers, columns)
		for i, name := range stages {
			if i > 0 {
				stage = selection.Apply(stage, ch.Cuts[i-1])
			}
			if err := addStage(ctx, result, name, stage); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

func addStage(ctx *mrcontext.Context, result analysis.Result, stage string, frame *events.Frame) error {
	values, err := frame.Aggregate(ctx,
		events.AggregateSpec{Name: "n", Func: events.CountOf, Expr: "*"},
		events.AggregateSpec{Name: "sum", Func: events.SumOf, Expr: selection.WeightColumn},
		events.AggregateSpec{Name: "min", Func: events.MinOf, Expr: selection.WeightColumn},
		events.AggregateSpec{Name: "max", Func: events.MaxOf, Expr: selection.WeightColumn},
	)
	if err != nil {
		return errors.WithMessagef(err, "stage %s", stage)
	}
	result[nrEventsKey(stage)] = analysis.Int(int64(values["n"]))
	result[sumWeightsKey(stage)] = analysis.Float(values["sum"])
	// Stages without events have no extreme weights.
	if v, ok := values["min"]; ok {
		result[minWeightsKey(stage)] = analysis.Float(v)
	}
	if v, ok := values["max"]; ok {
		result[maxWeightsKey(stage)] = analysis.Float(v)
	}
	return nil
}

// Gather prints, for every stage, the number of data events, the data over simulation ratio and the fraction
// each background contributes.
func (a *Analysis) Gather(ctx *mrcontext.Context, completed *analysis.Completed) error {
	if err := completed.Wait(ctx); err != nil {
		return err
	}
	_, err := io.WriteString(a.out, a.Report(completed))
	return errors.WithStack(err)
}

type background struct {
	name string
	sum  float64
}

// Report renders the comparison of data with the backgrounds for all stages.
func (a *Analysis) Report(completed *analysis.Completed) string {
	data := make(map[string]analysis.Result)
	var backgrounds []catalog.Node
	for _, root := range completed.Roots() {
		r, _ := completed.Result(root)
		switch root.Type() {
		case catalog.Data:
			data[root.Name()] = r
		case catalog.Background:
			backgrounds = append(backgrounds, root)
		}
	}

	tb := util.NewTableBuilder()
	tb.WriteRow("PERIOD", completed.Period())
	for _, ch := range a.config.Channels {
		for _, stage := range ch.Stages() {
			tb.WriteRow("")
			tb.WriteRow("STAGE", stage)

			var bkgs []background
			sumBkg := 0.0
			for _, b := range backgrounds {
				r, _ := completed.Result(b)
				sum, _ := r.Float(sumWeightsKey(stage))
				bkgs = append(bkgs, background{name: b.Name(), sum: sum})
				sumBkg += sum
			}
			sort.SliceStable(bkgs, func(i, j int) bool { return bkgs[i].sum > bkgs[j].sum })

			nrData, haveData := data[ch.DataSample].Int(nrEventsKey(stage))
			if haveData {
				tb.WriteRow(ch.DataSample, nrData)
			} else {
				tb.WriteRow(orDash(ch.DataSample), "-")
			}
			tb.WriteRow("Data/MC", ratio(float64(nrData), sumBkg, haveData))
			for _, b := range bkgs {
				tb.WriteRow(b.name, ratio(b.sum, sumBkg, true))
			}
		}
	}
	return tb.String()
}

func ratio(a, b float64, valid bool) string {
	if !valid || b == 0 {
		return "-"
	}
	return fmt.Sprintf("%5.2f", a/b)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
