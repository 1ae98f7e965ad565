package cmd

import (
	"github.com/spf13/cobra"

	"github.com/hepmr/hepmr/internal/common/app"
)

func treeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Print the samples of every period with their file counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			return a.Tree(app.CreateContextWithShutdown())
		},
	}
}
