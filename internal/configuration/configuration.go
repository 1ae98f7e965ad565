// Package configuration defines the configuration of the hepmr command line, read from config/hepmr/config.yaml,
// user supplied files, HEPMR_* environment variables and command line flags.
package configuration

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/hepmr/hepmr/internal/analyses/inventory"
	"github.com/hepmr/hepmr/internal/analyses/selection"
	"github.com/hepmr/hepmr/internal/analyses/weights"
	"github.com/hepmr/hepmr/internal/common/config"
	"github.com/hepmr/hepmr/internal/common/logging"
	"github.com/hepmr/hepmr/internal/common/mrerrors"
	"github.com/hepmr/hepmr/internal/pool"
)

// SmallMaxFiles is the number of files per leaf sample processed in small mode.
const SmallMaxFiles = 1

type HepmrConfig struct {
	Logging logging.Config
	// Port of the prometheus /metrics endpoint; zero disables it.
	MetricsPort uint16
	Catalog     CatalogConfig
	Pool        pool.Config
	Run         RunConfig
	// Event weights and worker setup shared by the event based analyses.
	Selection selection.Config
	Weights   WeightsConfig
	Histos    HistosConfig
	Inventory inventory.Config
}

type CatalogConfig struct {
	// Relative directories and files in catalog files are resolved against BaseDir.
	BaseDir string
	// Catalog files, loaded in order.
	Files []string `validate:"required,min=1"`
	// Glob pattern for leaf directories that don't specify one.
	Pattern string
}

type RunConfig struct {
	// Periods to process; all periods of the catalog if empty.
	Periods []string
	// Top-level or nested sample names to process; all visible top-level samples if empty.
	Samples []string
	// Process only the first SmallMaxFiles files of every leaf.
	Small bool
	// Show a progress bar.
	Progress bool
}

// MaxFiles is the per-leaf file limit of the run, zero for no limit.
func (c RunConfig) MaxFiles() int {
	if c.Small {
		return SmallMaxFiles
	}
	return 0
}

type WeightsConfig struct {
	Channels []weights.Channel
}

type HistosConfig struct {
	// YAML file with cuts and histogram definitions.
	DefinitionsFile string
	// Directory receiving one JSON file per period and top-level sample.
	OutputDir string
}

// Validate checks struct tags and the nested configurations.  All problems are returned together as
// *mrerrors.ErrInvalidArgument errors.
func (c HepmrConfig) Validate() error {
	var result *multierror.Error
	if err := config.Validate(c); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.Logging.Validate(); err != nil {
		result = multierror.Append(result, &mrerrors.ErrInvalidArgument{
			Name:    "logging",
			Value:   c.Logging,
			Message: err.Error(),
		})
	}
	if err := c.Pool.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// WeightsAnalysis returns the weights analysis configuration.
func (c HepmrConfig) WeightsAnalysis() weights.Config {
	return weights.Config{Selection: c.Selection, Channels: c.Weights.Channels}
}

// HistosOutputDir returns the output directory of the histos analysis, with override taking precedence.
func (c HepmrConfig) HistosOutputDir(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if c.Histos.OutputDir == "" {
		return "", errors.WithStack(&mrerrors.ErrInvalidArgument{
			Name:    "histos.outputDir",
			Value:   "",
			Message: "no output directory configured",
		})
	}
	return c.Histos.OutputDir, nil
}
