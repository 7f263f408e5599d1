package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kev-ang/ruben/internal/benchmark"
	"github.com/kev-ang/ruben/internal/config"
	"github.com/kev-ang/ruben/internal/engines"
	"github.com/kev-ang/ruben/internal/metrics"
	"github.com/kev-ang/ruben/internal/report"
	"github.com/kev-ang/ruben/internal/runner"
)

func newRunCmd() *cobra.Command {
	var (
		engineNames  []string
		repetitions  int
		queryTimeout time.Duration
		outputDir    string
		formats      []string
		timeout      time.Duration
		skipDeploy   bool
		inCluster    bool
		metricsAddr  string
	)

	cmd := &cobra.Command{
		Use:   "run <config>",
		Short: "Run a benchmark configuration",
		Long: `Run every configured engine against every configured test case.

Engines run one after another. Engines with a server section get their server
deployed to Kubernetes before and torn down after their run, unless
--skip-deploy is set. Results are written to <output-dir>/<run-id>/ and a
summary table is printed when the run completes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if outputDir != "" {
				cfg.Output.Dir = outputDir
			}
			if len(formats) > 0 {
				cfg.Output.Formats = formats
			}

			opts := runner.Options{
				Registry: engines.NewRegistry(),
				Engines:  engineNames,
				Execution: benchmark.PolicyOverride{
					Repetitions:  repetitions,
					QueryTimeout: queryTimeout,
				},
				Progress: func(engine, testCase string, o benchmark.QueryOutcome) {
					status := "ok"
					if !o.Succeeded() {
						status = string(o.Classification)
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "  [%s] %s %s #%d: %s (%s)\n",
						engine, testCase, o.Query, o.Repetition, status, o.Elapsed.Round(time.Millisecond))
				},
			}

			if needsServers(cfg) && !skipDeploy {
				p, err := newProvisionerFromFlags(cmd, inCluster)
				if err != nil {
					return fmt.Errorf("engine servers need a cluster: %w", err)
				}
				opts.Deployer = p
			}

			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				opts.Observer = metrics.NewRecorder(reg)
				stop := serveMetrics(metricsAddr, reg)
				defer stop()
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Benchmark: %s\n", cfg.Name)
			fmt.Fprintf(cmd.OutOrStdout(), "Engines: %d, test cases: %d\n\n", len(cfg.Engines), len(cfg.TestCases))

			run, err := runner.Execute(ctx, cfg, opts)
			if run == nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout())
			report.WriteTable(report.Summarize(run.Result), cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "\nResults: %s\n", run.Dir)

			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return fmt.Errorf("benchmark interrupted, partial results written: %w", err)
				}
				return err
			}
			slog.Info("benchmark run complete", "run_id", run.Result.RunID)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&engineNames, "engines", nil, "Run only these engines (comma-separated names)")
	cmd.Flags().IntVar(&repetitions, "repetitions", 0, "Attempts per query (overrides config)")
	cmd.Flags().DurationVar(&queryTimeout, "query-timeout", 0, "Deadline per query attempt (overrides config)")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory for results (overrides config)")
	cmd.Flags().StringSliceVar(&formats, "format", nil, "Output formats: json, csv, sqlite (overrides config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Overall timeout for the run (e.g. 2h). 0 means no timeout")
	cmd.Flags().BoolVar(&skipDeploy, "skip-deploy", false, "Do not deploy engine servers, use configured endpoints")
	cmd.Flags().BoolVar(&inCluster, "in-cluster", false, "Use in-cluster Kubernetes authentication")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run (e.g. :9090)")

	return cmd
}

// serveMetrics exposes g on addr until the returned function is called.
func serveMetrics(addr string, g prometheus.Gatherer) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
