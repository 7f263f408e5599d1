package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kev-ang/ruben/internal/benchmark"
	"github.com/kev-ang/ruben/internal/report"
	"github.com/kev-ang/ruben/internal/results"
)

type resultsFlags struct {
	outputDir string
	storePath string
}

func (f *resultsFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.outputDir, "output-dir", "results", "Directory holding run directories")
	cmd.Flags().StringVar(&f.storePath, "store", "", "SQLite run store to read instead of the output directory")
}

func (f *resultsFlags) openStore() (*results.Store, error) {
	if f.storePath == "" {
		return nil, nil
	}
	if _, err := os.Stat(f.storePath); err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	return results.OpenStore(f.storePath)
}

func newResultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Inspect past benchmark runs",
	}
	cmd.AddCommand(newResultsListCmd())
	cmd.AddCommand(newResultsShowCmd())
	return cmd
}

func newResultsListCmd() *cobra.Command {
	var flags resultsFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List past runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := flags.openStore()
			if err != nil {
				return err
			}

			var runs []results.RunSummary
			if store != nil {
				defer store.Close()
				runs, err = store.ListRuns(cmd.Context())
			} else {
				runs, err = results.ScanRuns(flags.outputDir)
			}
			if err != nil {
				return err
			}

			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN ID\tNAME\tSTARTED\tDURATION\tENGINES\tOUTCOMES\tFAILURES")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
					r.ID, r.Name, r.StartedAt.Local().Format(time.DateTime),
					r.Duration.Round(time.Millisecond), r.Engines, r.Outcomes, r.Failures)
			}
			return tw.Flush()
		},
	}
	flags.register(cmd)
	return cmd
}

func newResultsShowCmd() *cobra.Command {
	var (
		flags  resultsFlags
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the summary or full result of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			if runID != filepath.Base(runID) {
				return fmt.Errorf("invalid run ID %q", runID)
			}

			store, err := flags.openStore()
			if err != nil {
				return err
			}

			var res *benchmark.BenchmarkResult
			if store != nil {
				defer store.Close()
				res, err = store.Load(cmd.Context(), runID)
				if errors.Is(err, results.ErrRunNotFound) {
					return fmt.Errorf("run %q not found in %s", runID, flags.storePath)
				}
			} else {
				res, err = results.ReadJSON(filepath.Join(flags.outputDir, runID, results.ResultsFile))
			}
			if err != nil {
				return err
			}

			if asJSON {
				return results.WriteJSON(cmd.OutOrStdout(), res)
			}
			report.WriteTable(report.Summarize(res), cmd.OutOrStdout())
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result tree as JSON")
	return cmd
}
