package hepmr

import (
	"io"

	"github.com/hepmr/hepmr/internal/analyses/histos"
	"github.com/hepmr/hepmr/internal/analyses/inventory"
	"github.com/hepmr/hepmr/internal/analyses/weights"
	"github.com/hepmr/hepmr/internal/analysis"
	"github.com/hepmr/hepmr/internal/common/mrerrors"
	"github.com/hepmr/hepmr/internal/configuration"
)

func Weights(config configuration.HepmrConfig, out io.Writer) (analysis.Analysis, error) {
	a, err := weights.New(config.WeightsAnalysis(), out)
	if err != nil {
		return nil, &mrerrors.ErrInvalidArgument{Name: "weights", Message: err.Error()}
	}
	return a, nil
}

// Histos returns a factory for the histogram analysis.  Non-empty arguments override the configured
// definitions file and output directory.
func Histos(definitionsFile, outputDir string) AnalysisFactory {
	return func(config configuration.HepmrConfig, _ io.Writer) (analysis.Analysis, error) {
		if definitionsFile == "" {
			definitionsFile = config.Histos.DefinitionsFile
		}
		if definitionsFile == "" {
			return nil, &mrerrors.ErrInvalidArgument{Name: "histos.definitionsFile", Message: "no histogram definitions given"}
		}
		definitions, err := histos.LoadDefinitions(definitionsFile)
		if err != nil {
			return nil, &mrerrors.ErrInvalidArgument{Name: "histos.definitionsFile", Value: definitionsFile, Message: err.Error()}
		}
		dir, err := config.HistosOutputDir(outputDir)
		if err != nil {
			return nil, err
		}
		return histos.New(config.Selection, definitions, dir)
	}
}

func Inventory(config configuration.HepmrConfig, out io.Writer) (analysis.Analysis, error) {
	return inventory.New(config.Inventory, out), nil
}
