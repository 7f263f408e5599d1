package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kev-ang/ruben/internal/config"
	"github.com/kev-ang/ruben/internal/engines"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config>...",
		Short: "Validate benchmark configurations",
		Long: `Check each configuration against the schema and make sure every engine
type is registered. All problems are reported before the command fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := engines.NewRegistry()
			out := cmd.OutOrStdout()

			var errs []error
			for _, path := range args {
				cfg, err := config.Load(path)
				if err == nil {
					err = cfg.CheckEngineTypes(reg)
				}
				if err != nil {
					fmt.Fprintf(out, "✗ %s\n    %v\n", path, err)
					errs = append(errs, err)
					continue
				}

				policy := cfg.Policy()
				fmt.Fprintf(out, "✓ %s\n", path)
				fmt.Fprintf(out, "    name: %s\n", cfg.Name)
				fmt.Fprintf(out, "    engines: %d, test cases: %d\n", len(cfg.Engines), len(cfg.TestCases))
				fmt.Fprintf(out, "    repetitions: %d, query timeout: %s\n", policy.Repetitions, policy.QueryTimeout)
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d of %d configurations invalid: %w", len(errs), len(args), errors.Join(errs...))
			}
			return nil
		},
	}
}
