package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hepmr/hepmr/internal/common"
	"github.com/hepmr/hepmr/internal/common/logging"
	"github.com/hepmr/hepmr/internal/configuration"
	"github.com/hepmr/hepmr/internal/hepmr"
)

const (
	CustomConfigLocation string = "config"
	defaultConfigPath    string = "./config/hepmr"
)

// Configuration keys of the flags, see common.BindCommandlineArguments.
var flagKeys = map[string]string{
	"samples-file":   "catalog.files",
	"base-dir":       "catalog.baseDir",
	"period":         "run.periods",
	"small":          "run.small",
	"progress":       "run.progress",
	"workers":        "pool.workers",
	"max-workers":    "pool.maxWorkers",
	"batch":          "pool.batch.enabled",
	"batch-walltime": "pool.batch.walltime",
	"batch-memory":   "pool.batch.memory",
	"log-level":      "logging.level",
	"metrics-port":   "metricsPort",
}

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "hepmr",
		Short:         "hepmr runs map-reduce analyses over physics sample catalogs.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	flags.StringSliceP("samples-file", "s", []string{}, "Catalog file defining the samples (repeatable)")
	flags.String("base-dir", "", "Directory relative sample directories and files are resolved against")
	flags.StringSliceP("period", "p", []string{}, "Data taking period to process (repeatable, default all periods of the catalog)")
	flags.Bool("small", false, "Process only the first file of every sample")
	flags.Bool("progress", false, "Show a progress bar")
	flags.Int("workers", 0, "Number of workers")
	flags.Int("max-workers", 0, "Scale the number of workers with the load up to this number")
	flags.Bool("batch", false, "Reserve a batch allocation for every worker; tasks still run in this process")
	flags.Duration("batch-walltime", 0, "Walltime of the allocation reserved for every worker")
	flags.String("batch-memory", "", "Memory of the allocation reserved for every worker, e.g. 2Gi")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.Uint16("metrics-port", 0, "Serve prometheus metrics on this port")

	cmd.AddCommand(
		runCmd(),
		treeCmd(),
		versionCmd(),
	)

	return cmd
}

// loadConfig merges the default configuration, user configuration files, environment and flags of cmd.
func loadConfig(cmd *cobra.Command) (configuration.HepmrConfig, error) {
	var config configuration.HepmrConfig
	v := viper.New()
	if err := common.BindCommandlineArguments(v, cmd.Flags(), flagKeys); err != nil {
		return config, err
	}
	userSpecifiedConfigs, err := cmd.Flags().GetStringSlice(CustomConfigLocation)
	if err != nil {
		return config, err
	}
	if err := common.LoadConfig(v, &config, defaultConfigPath, userSpecifiedConfigs); err != nil {
		return config, err
	}
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, logging.Configure(config.Logging)
}

// newApp loads the configuration and creates the app.
func newApp(cmd *cobra.Command) (*hepmr.App, error) {
	config, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	a := hepmr.New(config)
	a.Out = cmd.OutOrStdout()
	a.Err = cmd.ErrOrStderr()
	return a, nil
}
