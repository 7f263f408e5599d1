// Package runner executes a benchmark configuration end to end. It wires the
// engine runner to infrastructure hooks and metrics, runs it and writes the
// result in every configured output format.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/kev-ang/ruben/internal/benchmark"
	"github.com/kev-ang/ruben/internal/config"
	"github.com/kev-ang/ruben/internal/kube"
	"github.com/kev-ang/ruben/internal/results"
)

// Options tune a single execution.
type Options struct {
	Registry *benchmark.Registry

	// Deployer provisions the servers of engines with a server section.
	// Without one, such engines must reach an already running server.
	Deployer kube.Deployer

	Observer benchmark.Observer
	Progress benchmark.ProgressFunc

	// Store receives the result when the sqlite format is enabled. When nil
	// the store at the configured path is opened for the write.
	Store *results.Store

	// Engines restricts the run to the named engines.
	Engines []string

	// Execution overrides the configured execution policy.
	Execution benchmark.PolicyOverride
}

// Run is a finished execution.
type Run struct {
	Result *benchmark.BenchmarkResult
	Dir    string
}

// Execute benchmarks cfg and writes its results below cfg.Output.Dir in a
// directory named after the run ID. An interrupted benchmark still writes
// its partial result and returns it together with the interruption error.
// An engine whose type is not registered fails on its own; the others run.
func Execute(ctx context.Context, cfg *config.Benchmark, opts Options) (*Run, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("no engine registry configured")
	}
	engines, err := SelectEngines(cfg.Engines, opts.Engines)
	if err != nil {
		return nil, err
	}

	r := benchmark.NewRunner(opts.Registry, cfg.TestDataPath, cfg.Policy().With(opts.Execution))
	if opts.Deployer != nil {
		r.SetBeforeEngineFunc(kube.BeforeEngine(opts.Deployer))
		r.SetAfterEngineFunc(kube.AfterEngine(opts.Deployer))
	}
	if opts.Observer != nil {
		r.SetObserver(opts.Observer)
	}
	if opts.Progress != nil {
		r.SetProgressFunc(opts.Progress)
	}

	res, runErr := r.Run(ctx, engines, cfg.TestCases)
	if res == nil {
		return nil, runErr
	}
	res.Name = cfg.Name

	run := &Run{Result: res, Dir: filepath.Join(cfg.Output.Dir, res.RunID)}
	if err := writeResults(context.WithoutCancel(ctx), cfg, run, opts.Store); err != nil {
		return run, fmt.Errorf("failed to write results: %w", err)
	}
	slog.Info("results written", "run_id", res.RunID, "dir", run.Dir, "formats", cfg.Output.Formats)
	return run, runErr
}

// SelectEngines returns the engines named in names, in configured order, or
// every engine when names is empty.
func SelectEngines(engines []benchmark.EngineConfig, names []string) ([]benchmark.EngineConfig, error) {
	if len(names) == 0 {
		return engines, nil
	}
	var selected []benchmark.EngineConfig
	found := make(map[string]bool, len(names))
	for _, e := range engines {
		for _, n := range names {
			if strings.EqualFold(e.Name, n) {
				selected = append(selected, e)
				found[strings.ToLower(n)] = true
				break
			}
		}
	}
	var missing []string
	for _, n := range names {
		if !found[strings.ToLower(n)] {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("engines not configured: %s", strings.Join(missing, ", "))
	}
	return selected, nil
}

func writeResults(ctx context.Context, cfg *config.Benchmark, run *Run, store *results.Store) error {
	var w results.MultiWriter
	if cfg.HasFormat(config.FormatJSON) {
		w = append(w, results.JSONWriter{Dir: run.Dir})
	}
	if cfg.HasFormat(config.FormatCSV) {
		w = append(w, results.CSVWriter{Dir: run.Dir})
	}
	if cfg.HasFormat(config.FormatSQLite) {
		if store == nil {
			if err := os.MkdirAll(filepath.Dir(cfg.Output.SQLitePath), 0o755); err != nil {
				return fmt.Errorf("failed to create store directory: %w", err)
			}
			s, err := results.OpenStore(cfg.Output.SQLitePath)
			if err != nil {
				return err
			}
			defer s.Close()
			store = s
		}
		w = append(w, store)
	}
	return w.Write(ctx, run.Result)
}
