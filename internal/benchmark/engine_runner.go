package benchmark

import (
	"context"
	"log/slog"
	"maps"
	"time"
)

// RunEngine runs every test case against one engine and returns its result.
//
// Failing to provision, construct or configure the engine ends its run early
// with EngineResult.Error set. Every other failure is contained in the test
// case or query it happened in. ShutDown is called exactly once whenever the
// engine was constructed.
func (r *Runner) RunEngine(ctx context.Context, cfg EngineConfig, testCases []TestCase) *EngineResult {
	name := cfg.Name
	if name == "" {
		name = cfg.kind()
	}
	result := NewEngineResult(name, cfg.kind())
	policy := r.policy.With(cfg.Execution).normalized()
	logger := slog.With("engine", name)

	logger.Info("running engine",
		"type", cfg.kind(),
		"test_cases", len(testCases),
		"query_timeout", policy.QueryTimeout,
	)
	setupStart := time.Now()

	if r.beforeEngine != nil {
		updated, err := r.beforeEngine(ctx, cfg)
		if err != nil {
			logger.Error("failed to provision engine infrastructure", "error", err)
			result.Error = err.Error()
			r.runAfterEngine(ctx, cfg, logger)
			return result
		}
		cfg = updated
	}
	if r.afterEngine != nil {
		defer r.runAfterEngine(ctx, cfg, logger)
	}

	eng, err := r.registry.New(cfg.kind(), name)
	if err != nil {
		logger.Error("failed to construct engine", "error", err)
		result.Error = err.Error()
		return result
	}
	defer shutDown(ctx, eng, logger)

	settings := make(map[string]any, len(cfg.Settings))
	maps.Copy(settings, cfg.Settings)
	if err := guard("Configure", func() error { return eng.Configure(settings) }); err != nil {
		logger.Error("failed to configure engine", "error", err)
		result.Error = err.Error()
		return result
	}
	result.PreparationTime = time.Since(setupStart)

	for i, tc := range testCases {
		// Check for context cancellation between test cases.
		if err := ctx.Err(); err != nil {
			logger.Warn("engine run cancelled", "completed", i, "total", len(testCases))
			break
		}
		tcr := r.RunTestCase(ctx, eng, tc, policy)
		result.TestCases[tcr.Name] = tcr
	}

	logger.Info("engine run complete", "test_cases", len(result.TestCases), "preparation_time", result.PreparationTime)
	return result
}

func (r *Runner) runAfterEngine(ctx context.Context, cfg EngineConfig, logger *slog.Logger) {
	if r.afterEngine == nil {
		return
	}
	if err := r.afterEngine(context.WithoutCancel(ctx), cfg); err != nil {
		logger.Error("after-engine hook failed", "error", err)
	}
}

func shutDown(ctx context.Context, eng Engine, logger *slog.Logger) {
	sctx := context.WithoutCancel(ctx)
	if err := guard("ShutDown", func() error { return eng.ShutDown(sctx) }); err != nil {
		logger.Error("engine shut down failed", "error", err)
	}
}
