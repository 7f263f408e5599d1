package benchmark

import (
	"context"
	"log/slog"
	"time"
)

// RunTestCase runs one test case against a configured engine: prepare,
// materialize when supported, every query for policy.Repetitions attempts,
// then clean up.
//
// Prepare and materialize failures are logged and recorded, and queries run
// anyway since the engine may still answer some of them. CleanUp always runs.
func (r *Runner) RunTestCase(ctx context.Context, eng Engine, tc TestCase, policy Policy) *TestCaseResult {
	policy = policy.normalized()
	name := tc.Name()
	engineName := eng.Name()
	result := NewTestCaseResult(name)
	logger := slog.With("engine", engineName, "test_case", name)

	defer cleanUp(ctx, eng, logger)

	start := time.Now()
	err := guard("Prepare", func() error { return eng.Prepare(ctx, r.dataRoot, tc) })
	result.PreparationTime = time.Since(start)
	r.observePhase(engineName, name, PhasePrepare, result.PreparationTime, err)
	if err != nil {
		perr := &PreparationError{Engine: engineName, TestCase: name, Err: err}
		logger.Error("preparation failed, evaluating queries anyway", "error", perr)
		result.PreparationError = perr.Error()
	}

	if m, ok := eng.(Materializer); ok {
		start = time.Now()
		err := guard("Materialize", func() error { return m.Materialize(ctx, r.dataRoot, tc) })
		elapsed := time.Since(start)
		r.observePhase(engineName, name, PhaseMaterialize, elapsed, err)
		if err != nil {
			merr := &MaterializationError{Engine: engineName, TestCase: name, Err: err}
			logger.Error("materialization failed, evaluating queries anyway", "error", merr)
			result.MaterializationError = merr.Error()
		} else {
			result.MaterializationTime = elapsed
		}
	}

	queries, err := LoadQueries(tc.File(r.dataRoot, DataFolder(eng), QueriesSuffix))
	if err != nil {
		logger.Error("failed to load queries", "error", err)
		return result
	}

	runner := NewTimedRunner(eng)
	defer func() {
		if !runner.Drain(ctx, policy.QueryTimeout) {
			logger.Warn("abandoned query still running, cleaning up anyway")
		}
		runner.Close()
	}()

	for _, q := range queries {
		for rep := 0; rep < policy.Repetitions; rep++ {
			if ctx.Err() != nil {
				logger.Warn("test case cancelled", "query", q.Name)
				return result
			}

			outcome := runner.Run(ctx, q, rep, policy.timeoutFor(q))
			result.Add(outcome)
			r.report(engineName, name, outcome)

			if outcome.Succeeded() {
				logger.Debug("query evaluated",
					"query", q.Name,
					"repetition", rep,
					"results", outcome.Count,
					"elapsed", outcome.Elapsed,
				)
				continue
			}

			logger.Warn("query failed",
				"query", q.Name,
				"repetition", rep,
				"classification", outcome.Classification,
				"error", outcome.Message,
			)
			if outcome.Terminal(policy) {
				break
			}
		}
	}

	logger.Info("test case complete", "queries", len(queries), "outcomes", len(result.Queries))
	return result
}

func cleanUp(ctx context.Context, eng Engine, logger *slog.Logger) {
	cctx := context.WithoutCancel(ctx)
	if err := guard("CleanUp", func() error { return eng.CleanUp(cctx) }); err != nil {
		logger.Warn("clean up failed", "error", err)
	}
}
