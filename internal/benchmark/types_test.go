package benchmark

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestCasePaths(t *testing.T) {
	tc := TestCase{Category: "chain", TestName: "tc", Identifier: "n1000"}

	assert.Equal(t, "chain_tc_n1000", tc.Name())
	assert.Equal(t, filepath.Join("/data", "mangle", "chain", "tc"), tc.Dir("/data", "mangle"))
	assert.Equal(t, filepath.Join("/data", "mangle", "chain", "tc", "n1000_queries.json"), tc.File("/data", "mangle", QueriesSuffix))
}

func TestDataFolder(t *testing.T) {
	assert.Equal(t, "Mock", DataFolder(newMockEngine("Mock", nil)))
	assert.Equal(t, "shared", DataFolder(folderEngine{mockEngine: newMockEngine("Mock", nil), folder: "shared"}))
	assert.Equal(t, "Mock", DataFolder(folderEngine{mockEngine: newMockEngine("Mock", nil)}))
}

type folderEngine struct {
	*mockEngine
	folder string
}

func (f folderEngine) DataFolder() string { return f.folder }

func TestQueryOutcomeJSON(t *testing.T) {
	tests := []struct {
		name    string
		outcome QueryOutcome
		want    string
	}{
		{
			name:    "success",
			outcome: QueryOutcome{Query: "q1", Elapsed: 1500 * time.Millisecond, Count: 3},
			want:    `{"query":"q1","repetition":0,"timeSpent":1500,"numOfResults":3,"exception":null}`,
		},
		{
			name: "timeout",
			outcome: QueryOutcome{
				Query:          "q1",
				Repetition:     1,
				Elapsed:        100 * time.Millisecond,
				Classification: ClassificationTimeout,
				Message:        "query exceeded deadline of 100ms",
			},
			want: `{"query":"q1","repetition":1,"timeSpent":100,"numOfResults":null,"exception":"query exceeded deadline of 100ms","classification":"timeout"}`,
		},
		{
			name:    "failure without message",
			outcome: QueryOutcome{Query: "q1", Classification: ClassificationResourceExhausted},
			want:    `{"query":"q1","repetition":0,"timeSpent":0,"numOfResults":null,"exception":"resource-exhausted","classification":"resource-exhausted"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.outcome)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestTestCaseResultKeepsSentinel(t *testing.T) {
	r := NewTestCaseResult("c1_t1_tc1")
	r.PreparationTime = 20 * time.Millisecond
	r.Add(QueryOutcome{Query: "q1", Repetition: 0, Count: 3, Elapsed: time.Millisecond})

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, float64(-1), raw["materializationTime"])
	assert.Equal(t, float64(20), raw["preparationTime"])
	assert.Contains(t, raw["queryResults"], "q1_0")

	var decoded TestCaseResult
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, NotMeasured, decoded.MaterializationTime)
	assert.Equal(t, 3, decoded.Queries["q1_0"].Count)
}

func TestBenchmarkResultDurationInMillis(t *testing.T) {
	res := &BenchmarkResult{RunID: "run-1", Duration: 1500 * time.Millisecond, Engines: map[string]*EngineResult{}}

	data, err := json.Marshal(res)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, float64(1500), raw["duration"])
	assert.Equal(t, "run-1", raw["runId"])

	var decoded BenchmarkResult
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 1500*time.Millisecond, decoded.Duration)
	assert.NotNil(t, decoded.Engines)
}

func TestPolicyWith(t *testing.T) {
	no := false
	base := DefaultPolicy()

	assert.Equal(t, base, base.With(PolicyOverride{}))

	got := base.With(PolicyOverride{Repetitions: 3, QueryTimeout: 30 * time.Minute, ResourceExhaustedTerminal: &no})
	assert.Equal(t, Policy{Repetitions: 3, QueryTimeout: 30 * time.Minute, ResourceExhaustedTerminal: false}, got)
}

func TestOutcomeTerminal(t *testing.T) {
	terminal := DefaultPolicy()
	lenient := DefaultPolicy()
	lenient.ResourceExhaustedTerminal = false

	assert.False(t, QueryOutcome{}.Terminal(terminal))
	assert.True(t, QueryOutcome{Classification: ClassificationTimeout}.Terminal(lenient))
	assert.True(t, QueryOutcome{Classification: ClassificationEngineError}.Terminal(lenient))
	assert.True(t, QueryOutcome{Classification: ClassificationResourceExhausted}.Terminal(terminal))
	assert.False(t, QueryOutcome{Classification: ClassificationResourceExhausted}.Terminal(lenient))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register("Mangle", func(name string) Engine { return newMockEngine(name, nil) })
	reg.Register("postgres", func(name string) Engine { return newMockEngine(name, nil) })

	assert.Equal(t, []string{"mangle", "postgres"}, reg.Types())
	assert.True(t, reg.Has("MANGLE"))

	e, err := reg.New("mangle", "Datalog")
	require.NoError(t, err)
	assert.Equal(t, "Datalog", e.Name())

	_, err = reg.New("vlog", "VLog")
	var unknown *UnknownEngineTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "vlog", unknown.Type)
}
