package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ruben",
	Short: "Benchmark harness for reasoning engines",
	Long: `ruben benchmarks reasoning engines (Datalog engines, relational and document
databases, search engines and language models) on recursive query workloads.

For every engine and test case it loads data and rules, optionally materializes
all derivable facts, and evaluates each query a configured number of times under
a per-query deadline. Timings, result counts and failure classifications are
written as JSON, CSV or into a SQLite run store.

Engine servers can be deployed to Kubernetes for the duration of their run, and
every operation is also available as an MCP server.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		if verbose {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			})))
		}
	},
}

var (
	buildCommit = "unknown"
	buildDate   = "unknown"
)

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// SetBuildInfo sets the commit and build date for the version command.
func SetBuildInfo(commit, date string) {
	buildCommit = commit
	buildDate = date
}

// Execute is the main entry point for the CLI application. SIGINT and
// SIGTERM cancel the command context, which stops a running benchmark after
// its current query.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "ruben version %s\n" .Version}}`)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newEnginesCmd())
	rootCmd.AddCommand(newResultsCmd())

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().String("kubeconfig", "", "Path to kubeconfig file")
	rootCmd.PersistentFlags().StringP("namespace", "n", "ruben", "Kubernetes namespace for engine servers")
}
