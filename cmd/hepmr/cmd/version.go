package cmd

import (
	"github.com/spf13/cobra"

	"github.com/hepmr/hepmr/internal/configuration"
	"github.com/hepmr/hepmr/internal/hepmr"
)

func versionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := hepmr.New(configuration.HepmrConfig{})
			a.Out = cmd.OutOrStdout()
			return a.Version()
		},
	}
	return cmd
}
