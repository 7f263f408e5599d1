package benchmark

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerSampleScenario(t *testing.T) {
	root := t.TempDir()
	writeQueries(t, root, "Mock", sampleTestCase, Query{Name: "q1", Text: "ask(X)"})

	eng := newMockEngine("Mock", constant(3))
	r := NewRunner(registryWith("mock", eng), root, DefaultPolicy())

	res, err := r.Run(context.Background(), []EngineConfig{{Name: "Mock", Settings: map[string]any{}}}, []TestCase{sampleTestCase})
	require.NoError(t, err)

	require.Len(t, res.Engines, 1)
	tcr := res.Engines["Mock"].TestCases["c1_t1_tc1"]
	require.NotNil(t, tcr)

	outcome, ok := tcr.Queries["q1_0"]
	require.True(t, ok)
	n, defined := outcome.ResultCount()
	assert.True(t, defined)
	assert.Equal(t, 3, n)

	data, err := json.Marshal(outcome)
	require.NoError(t, err)
	var rendered map[string]any
	require.NoError(t, json.Unmarshal(data, &rendered))
	assert.Equal(t, float64(3), rendered["numOfResults"])
	assert.Nil(t, rendered["exception"])

	// Warm repetition.
	assert.Contains(t, tcr.Queries, "q1_1")
	assert.Len(t, tcr.Queries, DefaultRepetitions)
	assert.NotEmpty(t, res.RunID)
}

func TestRunnerTimeoutIsTerminal(t *testing.T) {
	root := t.TempDir()
	writeQueries(t, root, "Mock", sampleTestCase, Query{Name: "q1", Text: "ask(X)"})

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	// Ignores cancellation, like a non-interruptible native call.
	eng := newMockEngine("Mock", func(context.Context, string, int) (int, error) {
		<-release
		return 1, nil
	})

	policy := DefaultPolicy()
	policy.QueryTimeout = 100 * time.Millisecond
	r := NewRunner(registryWith("mock", eng), root, policy)

	start := time.Now()
	res, err := r.Run(context.Background(), []EngineConfig{{Name: "Mock"}}, []TestCase{sampleTestCase})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	tcr := res.Engines["Mock"].TestCases["c1_t1_tc1"]
	require.Len(t, tcr.Queries, 1)

	outcome := tcr.Queries["q1_0"]
	assert.Equal(t, ClassificationTimeout, outcome.Classification)
	assert.Equal(t, 100*time.Millisecond, outcome.Elapsed)
	_, defined := outcome.ResultCount()
	assert.False(t, defined)

	assert.Equal(t, 1, eng.count("cleanup"))
	assert.Equal(t, 1, eng.count("shutdown"))
}

func TestRunnerQueryTimeoutOverride(t *testing.T) {
	root := t.TempDir()
	writeQueries(t, root, "Mock", sampleTestCase,
		Query{Name: "slow", Text: "slow", Timeout: Duration(50 * time.Millisecond)},
		Query{Name: "fast", Text: "fast"},
	)

	eng := newMockEngine("Mock", func(ctx context.Context, query string, _ int) (int, error) {
		if query == "slow" {
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return 7, nil
	})

	r := NewRunner(registryWith("mock", eng), root, DefaultPolicy())
	res, err := r.Run(context.Background(), []EngineConfig{{Name: "Mock"}}, []TestCase{sampleTestCase})
	require.NoError(t, err)

	tcr := res.Engines["Mock"].TestCases["c1_t1_tc1"]
	assert.Equal(t, ClassificationTimeout, tcr.Queries["slow_0"].Classification)
	assert.Equal(t, 50*time.Millisecond, tcr.Queries["slow_0"].Elapsed)
	assert.NotContains(t, tcr.Queries, "slow_1")

	// The cancelled call returned, so the next query starts right away.
	assert.Equal(t, 7, tcr.Queries["fast_0"].Count)
	assert.Equal(t, 7, tcr.Queries["fast_1"].Count)
}

func TestRunnerNeverOverlapsEngineCalls(t *testing.T) {
	root := t.TempDir()
	writeQueries(t, root, "Mock", sampleTestCase,
		Query{Name: "q1", Text: "slow"},
		Query{Name: "q2", Text: "fast", Timeout: Duration(time.Second)},
	)

	eng, peak := inFlightEngine(map[string]time.Duration{
		"slow": 300 * time.Millisecond,
		"fast": 50 * time.Millisecond,
	})

	policy := DefaultPolicy()
	policy.QueryTimeout = 100 * time.Millisecond
	r := NewRunner(registryWith("mock", eng), root, policy)
	res, err := r.Run(context.Background(), []EngineConfig{{Name: "Mock"}}, []TestCase{sampleTestCase})
	require.NoError(t, err)

	tcr := res.Engines["Mock"].TestCases["c1_t1_tc1"]
	assert.Equal(t, ClassificationTimeout, tcr.Queries["q1_0"].Classification)
	assert.NotContains(t, tcr.Queries, "q1_1")
	assert.Equal(t, 1, tcr.Queries["q2_0"].Count)
	assert.Equal(t, 1, tcr.Queries["q2_1"].Count)
	assert.Equal(t, int32(1), peak.Load())
}

func TestRunnerErrorIsTerminal(t *testing.T) {
	root := t.TempDir()
	writeQueries(t, root, "Mock", sampleTestCase,
		Query{Name: "q1", Text: "bad"},
		Query{Name: "q2", Text: "good"},
	)

	eng := newMockEngine("Mock", func(_ context.Context, query string, _ int) (int, error) {
		if query == "bad" {
			return 0, errors.New("syntax error")
		}
		return 2, nil
	})

	r := NewRunner(registryWith("mock", eng), root, DefaultPolicy())
	res, err := r.Run(context.Background(), []EngineConfig{{Name: "Mock"}}, []TestCase{sampleTestCase})
	require.NoError(t, err)

	tcr := res.Engines["Mock"].TestCases["c1_t1_tc1"]
	require.Contains(t, tcr.Queries, "q1_0")
	assert.NotContains(t, tcr.Queries, "q1_1")
	assert.Equal(t, ClassificationEngineError, tcr.Queries["q1_0"].Classification)
	assert.Equal(t, "syntax error", tcr.Queries["q1_0"].Message)

	// The test case continues with the next query.
	assert.Equal(t, 2, tcr.Queries["q2_0"].Count)
	assert.Equal(t, 2, tcr.Queries["q2_1"].Count)
}

func TestRunnerResourceExhaustedPolicy(t *testing.T) {
	exhausted := func(context.Context, string, int) (int, error) {
		return 0, &ResourceExhaustedError{Resource: "memory"}
	}

	tests := []struct {
		name     string
		terminal bool
		want     int
	}{
		{name: "terminal by default", terminal: true, want: 1},
		{name: "retried when not terminal", terminal: false, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeQueries(t, root, "Mock", sampleTestCase, Query{Name: "q1", Text: "ask(X)"})

			policy := DefaultPolicy()
			policy.ResourceExhaustedTerminal = tt.terminal
			r := NewRunner(registryWith("mock", newMockEngine("Mock", exhausted)), root, policy)

			res, err := r.Run(context.Background(), []EngineConfig{{Name: "Mock"}}, []TestCase{sampleTestCase})
			require.NoError(t, err)

			tcr := res.Engines["Mock"].TestCases["c1_t1_tc1"]
			assert.Len(t, tcr.Queries, tt.want)
			assert.Equal(t, ClassificationResourceExhausted, tcr.Queries["q1_0"].Classification)
		})
	}
}

func TestRunnerEngineExecutionOverride(t *testing.T) {
	root := t.TempDir()
	writeQueries(t, root, "Mock", sampleTestCase, Query{Name: "q1", Text: "ask(X)"})

	r := NewRunner(registryWith("mock", newMockEngine("Mock", constant(1))), root, DefaultPolicy())
	cfg := EngineConfig{Name: "Mock", Execution: PolicyOverride{Repetitions: 3}}

	res, err := r.Run(context.Background(), []EngineConfig{cfg}, []TestCase{sampleTestCase})
	require.NoError(t, err)
	assert.Len(t, res.Engines["Mock"].TestCases["c1_t1_tc1"].Queries, 3)
}

func TestRunnerCleanUpAlwaysRuns(t *testing.T) {
	root := t.TempDir()
	second := TestCase{Category: "c1", TestName: "t1", Identifier: "tc2"}
	writeQueries(t, root, "Mock", sampleTestCase, Query{Name: "q1", Text: "ask(X)"})

	eng := newMockEngine("Mock", constant(1))
	eng.prepareErr = errors.New("missing facts")
	eng.cleanUpErr = errors.New("cleanup exploded")

	r := NewRunner(registryWith("mock", eng), root, DefaultPolicy())
	res, err := r.Run(context.Background(), []EngineConfig{{Name: "Mock"}}, []TestCase{sampleTestCase, second})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"configure",
		"prepare:c1_t1_tc1",
		"query:ask(X)",
		"query:ask(X)",
		"cleanup",
		"prepare:c1_t1_tc2",
		"cleanup",
		"shutdown",
	}, eng.Calls())

	tcr := res.Engines["Mock"].TestCases["c1_t1_tc1"]
	assert.Contains(t, tcr.PreparationError, "missing facts")
	assert.Len(t, tcr.Queries, 2)
	assert.Equal(t, NotMeasured, tcr.MaterializationTime)

	// No query file is not an error.
	assert.Empty(t, res.Engines["Mock"].TestCases["c1_t1_tc2"].Queries)
}

func TestRunnerMaterialization(t *testing.T) {
	tests := []struct {
		name           string
		materializeErr error
		wantMeasured   bool
	}{
		{name: "success is timed", wantMeasured: true},
		{name: "failure is not measured", materializeErr: errors.New("closure failed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeQueries(t, root, "Mock", sampleTestCase, Query{Name: "q1", Text: "ask(X)"})

			eng := &mockMaterializer{mockEngine: newMockEngine("Mock", constant(4)), materializeErr: tt.materializeErr}
			r := NewRunner(registryWith("mock", eng), root, DefaultPolicy())

			res, err := r.Run(context.Background(), []EngineConfig{{Name: "Mock"}}, []TestCase{sampleTestCase})
			require.NoError(t, err)

			tcr := res.Engines["Mock"].TestCases["c1_t1_tc1"]
			if tt.wantMeasured {
				assert.GreaterOrEqual(t, tcr.MaterializationTime, time.Duration(0))
				assert.Empty(t, tcr.MaterializationError)
			} else {
				assert.Equal(t, NotMeasured, tcr.MaterializationTime)
				assert.Contains(t, tcr.MaterializationError, "closure failed")
			}
			// Queries run either way.
			assert.Equal(t, 4, tcr.Queries["q1_0"].Count)
			assert.Equal(t, 1, eng.count("materialize:c1_t1_tc1"))
		})
	}
}

func TestRunnerPanicsAreContained(t *testing.T) {
	root := t.TempDir()
	writeQueries(t, root, "Mock", sampleTestCase, Query{Name: "q1", Text: "ask(X)"})

	eng := newMockEngine("Mock", func(context.Context, string, int) (int, error) {
		panic("native crash")
	})

	r := NewRunner(registryWith("mock", eng), root, DefaultPolicy())
	res, err := r.Run(context.Background(), []EngineConfig{{Name: "Mock"}}, []TestCase{sampleTestCase})
	require.NoError(t, err)

	outcome := res.Engines["Mock"].TestCases["c1_t1_tc1"].Queries["q1_0"]
	assert.Equal(t, ClassificationEngineError, outcome.Classification)
	assert.Contains(t, outcome.Message, "native crash")
	assert.Equal(t, 1, eng.count("cleanup"))
}

func TestRunnerMalformedQueryFile(t *testing.T) {
	root := t.TempDir()
	path := sampleTestCase.File(root, "Mock", QueriesSuffix)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	eng := newMockEngine("Mock", constant(1))
	r := NewRunner(registryWith("mock", eng), root, DefaultPolicy())

	res, err := r.Run(context.Background(), []EngineConfig{{Name: "Mock"}}, []TestCase{sampleTestCase})
	require.NoError(t, err)

	assert.Empty(t, res.Engines["Mock"].TestCases["c1_t1_tc1"].Queries)
	assert.Equal(t, 1, eng.count("cleanup"))
}

func TestRunnerEngineConstructionFailures(t *testing.T) {
	root := t.TempDir()
	writeQueries(t, root, "Mock", sampleTestCase, Query{Name: "q1", Text: "ask(X)"})

	broken := newMockEngine("Broken", constant(1))
	broken.configErr = errors.New("missing dsn")

	reg := NewRegistry()
	reg.Register("mock", func(name string) Engine { return newMockEngine(name, constant(1)) })
	reg.Register("broken", func(string) Engine { return broken })

	engines := []EngineConfig{
		{Name: "Unknown", Type: "does-not-exist"},
		{Name: "Broken", Type: "broken"},
		{Name: "Mock", Type: "mock"},
	}

	r := NewRunner(reg, root, DefaultPolicy())
	res, err := r.Run(context.Background(), engines, []TestCase{sampleTestCase})
	require.NoError(t, err)

	require.Len(t, res.Engines, len(engines))
	assert.Contains(t, res.Engines["Unknown"].Error, "unknown engine type")
	assert.Contains(t, res.Engines["Broken"].Error, "missing dsn")
	assert.Empty(t, res.Engines["Broken"].TestCases)
	assert.Equal(t, 1, broken.count("shutdown"))

	assert.Empty(t, res.Engines["Mock"].Error)
	assert.Len(t, res.Engines["Mock"].TestCases["c1_t1_tc1"].Queries, 2)
}

func TestRunnerDuplicateEngineNames(t *testing.T) {
	root := t.TempDir()
	writeQueries(t, root, "Mock", sampleTestCase, Query{Name: "q1", Text: "ask(X)"})

	reg := NewRegistry()
	reg.Register("three", func(name string) Engine { return newMockEngine(name, constant(3)) })
	reg.Register("five", func(name string) Engine { return newMockEngine(name, constant(5)) })

	r := NewRunner(reg, root, DefaultPolicy())
	res, err := r.Run(context.Background(), []EngineConfig{
		{Name: "Mock", Type: "three"},
		{Name: "Mock", Type: "five"},
	}, []TestCase{sampleTestCase})
	require.NoError(t, err)

	require.Len(t, res.Engines, 1)
	assert.Equal(t, 5, res.Engines["Mock"].TestCases["c1_t1_tc1"].Queries["q1_0"].Count)
}

func TestRunnerHooks(t *testing.T) {
	root := t.TempDir()
	eng := newMockEngine("Mock", constant(1))
	r := NewRunner(registryWith("mock", eng), root, DefaultPolicy())

	var after []string
	r.SetBeforeEngineFunc(func(_ context.Context, cfg EngineConfig) (EngineConfig, error) {
		cfg.Settings = map[string]any{"endpoint": "http://mock:8080"}
		return cfg, nil
	})
	r.SetAfterEngineFunc(func(_ context.Context, cfg EngineConfig) error {
		after = append(after, cfg.Name)
		return nil
	})

	res, err := r.Run(context.Background(), []EngineConfig{{Name: "Mock"}}, []TestCase{sampleTestCase})
	require.NoError(t, err)

	assert.Equal(t, "http://mock:8080", eng.settings["endpoint"])
	assert.Equal(t, []string{"Mock"}, after)
	assert.GreaterOrEqual(t, res.Engines["Mock"].PreparationTime, time.Duration(0))
}

func TestRunnerBeforeEngineFailure(t *testing.T) {
	eng := newMockEngine("Mock", constant(1))
	r := NewRunner(registryWith("mock", eng), t.TempDir(), DefaultPolicy())

	afterCalls := 0
	r.SetBeforeEngineFunc(func(_ context.Context, cfg EngineConfig) (EngineConfig, error) {
		return cfg, errors.New("image pull failed")
	})
	r.SetAfterEngineFunc(func(context.Context, EngineConfig) error {
		afterCalls++
		return nil
	})

	res, err := r.Run(context.Background(), []EngineConfig{{Name: "Mock"}}, []TestCase{sampleTestCase})
	require.NoError(t, err)

	assert.Contains(t, res.Engines["Mock"].Error, "image pull failed")
	assert.Empty(t, eng.Calls())
	assert.Equal(t, 1, afterCalls)
}

func TestRunnerCancellation(t *testing.T) {
	root := t.TempDir()
	writeQueries(t, root, "Mock", sampleTestCase,
		Query{Name: "q1", Text: "ask(X)"},
		Query{Name: "q2", Text: "ask(Y)"},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := newMockEngine("Mock", func(ctx context.Context, _ string, call int) (int, error) {
		if call == 0 {
			cancel()
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return 1, nil
	})

	r := NewRunner(registryWith("mock", eng), root, DefaultPolicy())
	res, err := r.Run(ctx, []EngineConfig{{Name: "Mock"}, {Name: "Other", Type: "mock"}}, []TestCase{sampleTestCase})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)

	tcr := res.Engines["Mock"].TestCases["c1_t1_tc1"]
	assert.Len(t, tcr.Queries, 1)
	assert.Equal(t, ClassificationEngineError, tcr.Queries["q1_0"].Classification)
	assert.NotContains(t, res.Engines, "Other")
	assert.Equal(t, 1, eng.count("cleanup"))
	assert.Equal(t, 1, eng.count("shutdown"))
}

func TestRunnerNoEngines(t *testing.T) {
	r := NewRunner(NewRegistry(), t.TempDir(), DefaultPolicy())
	_, err := r.Run(context.Background(), nil, []TestCase{sampleTestCase})
	assert.Error(t, err)
}

type recordingObserver struct {
	queries []QueryOutcome
	phases  []string
}

func (o *recordingObserver) ObserveQuery(_, _ string, outcome QueryOutcome) {
	o.queries = append(o.queries, outcome)
}

func (o *recordingObserver) ObservePhase(_, _, phase string, _ time.Duration, _ error) {
	o.phases = append(o.phases, phase)
}

func TestRunnerObserverAndProgress(t *testing.T) {
	root := t.TempDir()
	writeQueries(t, root, "Mock", sampleTestCase, Query{Name: "q1", Text: "ask(X)"})

	eng := &mockMaterializer{mockEngine: newMockEngine("Mock", constant(2))}
	r := NewRunner(registryWith("mock", eng), root, DefaultPolicy())

	obs := &recordingObserver{}
	r.SetObserver(obs)
	progress := 0
	r.SetProgressFunc(func(engine, testCase string, _ QueryOutcome) {
		assert.Equal(t, "Mock", engine)
		assert.Equal(t, "c1_t1_tc1", testCase)
		progress++
	})

	_, err := r.Run(context.Background(), []EngineConfig{{Name: "Mock"}}, []TestCase{sampleTestCase})
	require.NoError(t, err)

	assert.Len(t, obs.queries, 2)
	assert.Equal(t, []string{PhasePrepare, PhaseMaterialize}, obs.phases)
	assert.Equal(t, 2, progress)
}
