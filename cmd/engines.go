package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kev-ang/ruben/internal/engines"
)

func newEnginesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "List the engine types configurations can use",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, t := range engines.NewRegistry().Types() {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), t)
			}
		},
	}
}
