package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/hepmr/hepmr/internal/analysis"
	"github.com/hepmr/hepmr/internal/common"
	"github.com/hepmr/hepmr/internal/common/app"
	"github.com/hepmr/hepmr/internal/configuration"
	"github.com/hepmr/hepmr/internal/hepmr"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an analysis over the selected samples of every period",
		Long: `Run an analysis over the selected samples of every period.

Samples are selected by name as arguments to the analysis command; top-level samples are matched first, then
samples at any depth. Without arguments all visible top-level samples are processed.`,
	}
	cmd.AddCommand(
		analysisCmd("weights [samples...]", "Compare event weights of data and simulation per selection stage", hepmr.Weights),
		histosCmd(),
		analysisCmd("inventory [samples...]", "List file counts and sizes per sample", hepmr.Inventory),
	)
	return cmd
}

func histosCmd() *cobra.Command {
	var definitionsFile, outputDir string
	cmd := analysisCmd("histos [samples...]", "Fill histograms and write them as JSON per period and sample",
		func(config configuration.HepmrConfig, out io.Writer) (analysis.Analysis, error) {
			return hepmr.Histos(definitionsFile, outputDir)(config, out)
		})
	cmd.Flags().StringVar(&definitionsFile, "histos-file", "", "YAML file with cuts and histogram definitions")
	cmd.Flags().StringVar(&outputDir, "output", "", "Directory receiving the JSON files")
	return cmd
}

func analysisCmd(use, short string, factory hepmr.AnalysisFactory) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				a.Config.Run.Samples = args
			}
			shutdown := common.ServeMetrics(a.Config.MetricsPort)
			defer shutdown()
			return a.Run(app.CreateContextWithShutdown(), factory)
		},
	}
}
