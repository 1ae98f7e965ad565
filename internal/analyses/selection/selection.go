// Package selection holds the event selection pieces shared by the event based analyses: per-sample weights,
// trigger requirements and cut chains applied to an events.Frame.
package selection

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/hepmr/hepmr/internal/catalog"
	"github.com/hepmr/hepmr/internal/common/mrcontext"
	"github.com/hepmr/hepmr/internal/events"
	"github.com/hepmr/hepmr/internal/pool"
)

// Definition is a derived column.
type Definition struct {
	Name string `yaml:"name"`
	Expr string `yaml:"expr"`
}

// Cut is one step of a selection: columns defined first, then an optional filter.
type Cut struct {
	Name   string       `yaml:"name"`
	Define []Definition `yaml:"define"`
	Filter string       `yaml:"filter"`
}

type Config struct {
	// Weight of collision data events.
	DataWeight string `yaml:"dataWeight"`
	// Weight of simulated events, before scaling to Luminosity.
	SimulationWeight string `yaml:"simulationWeight"`
	// Integrated luminosity simulated samples are normalised to; ignored if zero.
	Luminosity float64 `yaml:"luminosity"`
	// SQL run once on every worker before it takes any sample, e.g. CREATE MACRO statements for corrections.
	Setup []string `yaml:"setup"`
}

// WeightColumn is the column holding the event weight on frames returned by Apply.
const WeightColumn = "the_weight"

// Weight returns the weight expression for events of sample.
func (c Config) Weight(sample catalog.Node) string {
	if sample.Type() == catalog.Data {
		return orDefault(c.DataWeight, "1.0")
	}
	w := orDefault(c.SimulationWeight, "1.0")
	if c.Luminosity != 0 {
		return fmt.Sprintf("(%s) * %g", w, c.Luminosity)
	}
	return w
}

// WorkerSetup opens the event engine of a worker.
func (c Config) WorkerSetup(ctx *mrcontext.Context, info pool.WorkerInfo) (interface{}, error) {
	return events.Setup(c.Setup...)(ctx, info)
}

// Frame opens the events of sample on the engine of the current worker and defines WeightColumn.
func (c Config) Frame(ctx *mrcontext.Context, sample *catalog.Sample) (*events.Frame, error) {
	engine, err := events.FromWorker(ctx)
	if err != nil {
		return nil, err
	}
	return engine.From(sample.Chain(0)).Define(WeightColumn, c.Weight(sample)), nil
}

// Triggers keeps events passing any of the triggers present in columns.  Missing triggers are logged and
// ignored; if none are present the frame is returned unfiltered.
func Triggers(ctx *mrcontext.Context, frame *events.Frame, triggers []string, columns []string) *events.Frame {
	if len(triggers) == 0 {
		return frame
	}
	available := make(map[string]bool, len(columns))
	for _, c := range columns {
		available[c] = true
	}
	var present, missing []string
	for _, t := range triggers {
		if available[t] {
			present = append(present, t)
		} else {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		ctx.Log.Warnf("Triggers missing: %s", strings.Join(missing, ", "))
	}
	if len(present) == 0 {
		ctx.Log.Error("No trigger selection applied")
		return frame
	}
	return frame.Filter(strings.Join(present, " OR "))
}

// Apply applies a single cut.
func Apply(frame *events.Frame, cut Cut) *events.Frame {
	for _, d := range cut.Define {
		frame = frame.Define(d.Name, d.Expr)
	}
	if cut.Filter != "" {
		frame = frame.Filter(cut.Filter)
	}
	return frame
}

// ValidateCuts checks the cuts have distinct names and complete definitions.
func ValidateCuts(cuts []Cut) error {
	seen := make(map[string]bool)
	for i, cut := range cuts {
		if cut.Name == "" {
			return errors.Errorf("cut %d has no name", i)
		}
		if seen[cut.Name] {
			return errors.Errorf("duplicate cut %s", cut.Name)
		}
		seen[cut.Name] = true
		for _, d := range cut.Define {
			if d.Name == "" || d.Expr == "" {
				return errors.Errorf("cut %s has an incomplete definition", cut.Name)
			}
		}
	}
	return nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
