package benchmark

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ProgressFunc is called after every recorded query outcome.
type ProgressFunc func(engine, testCase string, outcome QueryOutcome)

// BeforeEngineFunc runs before an engine is constructed. It may provision
// external infrastructure and return an updated config, e.g. with the
// endpoint of a freshly deployed server added to the settings.
type BeforeEngineFunc func(ctx context.Context, cfg EngineConfig) (EngineConfig, error)

// AfterEngineFunc runs after an engine was shut down, or after setup failed.
// Use it to tear down whatever BeforeEngineFunc provisioned.
type AfterEngineFunc func(ctx context.Context, cfg EngineConfig) error

// Phase names passed to Observer.ObservePhase.
const (
	PhasePrepare     = "prepare"
	PhaseMaterialize = "materialize"
)

// Observer receives measurements as they are recorded.
type Observer interface {
	ObserveQuery(engine, testCase string, outcome QueryOutcome)
	ObservePhase(engine, testCase, phase string, d time.Duration, err error)
}

// Runner drives engines through the benchmark protocol. Engines and test
// cases run strictly sequentially; only query evaluation runs on a separate
// worker goroutine.
type Runner struct {
	registry     *Registry
	dataRoot     string
	policy       Policy
	beforeEngine BeforeEngineFunc
	afterEngine  AfterEngineFunc
	observer     Observer
	progress     ProgressFunc
}

// NewRunner creates a runner resolving engine types through registry and
// reading test data below dataRoot.
func NewRunner(registry *Registry, dataRoot string, policy Policy) *Runner {
	return &Runner{
		registry: registry,
		dataRoot: dataRoot,
		policy:   policy.normalized(),
	}
}

// SetProgressFunc sets the progress callback.
func (r *Runner) SetProgressFunc(fn ProgressFunc) {
	r.progress = fn
}

// SetBeforeEngineFunc sets the hook called before each engine is built.
func (r *Runner) SetBeforeEngineFunc(fn BeforeEngineFunc) {
	r.beforeEngine = fn
}

// SetAfterEngineFunc sets the hook called after each engine finished.
func (r *Runner) SetAfterEngineFunc(fn AfterEngineFunc) {
	r.afterEngine = fn
}

// SetObserver sets the measurement observer.
func (r *Runner) SetObserver(o Observer) {
	r.observer = o
}

// Run benchmarks every engine against every test case and returns the result
// tree. Engines run in configured order. When two engines share a name the
// later one's results replace the earlier one's.
//
// If ctx is cancelled, Run stops after the current query, returns the
// partial result and an error wrapping ctx.Err().
func (r *Runner) Run(ctx context.Context, engines []EngineConfig, testCases []TestCase) (*BenchmarkResult, error) {
	if len(engines) == 0 {
		return nil, fmt.Errorf("no engines configured")
	}

	result := &BenchmarkResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Engines:   make(map[string]*EngineResult, len(engines)),
	}

	slog.Info("starting benchmark",
		"run_id", result.RunID,
		"engines", len(engines),
		"test_cases", len(testCases),
		"repetitions", r.policy.Repetitions,
	)

	for _, cfg := range engines {
		// Check for context cancellation between engines.
		if err := ctx.Err(); err != nil {
			slog.Warn("benchmark cancelled before engine run", "engine", cfg.Name)
			break
		}

		er := r.RunEngine(ctx, cfg, testCases)
		if _, exists := result.Engines[er.Name]; exists {
			slog.Warn("duplicate engine name, discarding earlier results", "engine", er.Name)
		}
		result.Engines[er.Name] = er
	}

	result.Duration = time.Since(result.StartedAt)

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("benchmark interrupted: %w", err)
	}

	slog.Info("benchmark complete", "run_id", result.RunID, "duration", result.Duration)
	return result, nil
}

func (r *Runner) report(engine, testCase string, o QueryOutcome) {
	if r.observer != nil {
		r.observer.ObserveQuery(engine, testCase, o)
	}
	if r.progress != nil {
		r.progress(engine, testCase, o)
	}
}

func (r *Runner) observePhase(engine, testCase, phase string, d time.Duration, err error) {
	if r.observer != nil {
		r.observer.ObservePhase(engine, testCase, phase, d, err)
	}
}

// guard calls fn and converts a panic into a PanicError.
func guard(op string, fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Op: op, Value: v}
		}
	}()
	return fn()
}
