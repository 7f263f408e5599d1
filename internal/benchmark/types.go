package benchmark

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// NotMeasured marks a duration that was never recorded, e.g. the
// materialization time of an engine without a materialization phase.
const NotMeasured time.Duration = -1

// TestCase identifies one benchmark scenario. Its data, rules and queries
// live under <root>/<engine data folder>/<category>/<test name>/.
type TestCase struct {
	Category   string `yaml:"category" json:"category"`
	TestName   string `yaml:"test_name" json:"test_name"`
	Identifier string `yaml:"identifier" json:"identifier"`
}

// Name returns the composite display name category_testName_identifier.
func (tc TestCase) Name() string {
	return strings.Join([]string{tc.Category, tc.TestName, tc.Identifier}, "_")
}

// Dir returns the directory holding the test case files for one engine.
func (tc TestCase) Dir(dataRoot, dataFolder string) string {
	return filepath.Join(dataRoot, dataFolder, tc.Category, tc.TestName)
}

// File returns the path of the test case file with the given suffix,
// e.g. ".fct" or "_queries.json".
func (tc TestCase) File(dataRoot, dataFolder, suffix string) string {
	return filepath.Join(tc.Dir(dataRoot, dataFolder), tc.Identifier+suffix)
}

// Query is one named query of a test case.
type Query struct {
	Name    string   `json:"name"`
	Text    string   `json:"query"`
	Timeout Duration `json:"timeout,omitempty"`
}

// Duration is a time.Duration that decodes from JSON strings such as "30s".
type Duration time.Duration

// UnmarshalJSON accepts a Go duration string or a number of milliseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(v) * time.Millisecond)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
	return nil
}

// MarshalJSON renders the duration as a Go duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Classification tags the outcome of one query attempt.
type Classification string

const (
	ClassificationNone              Classification = ""
	ClassificationTimeout           Classification = "timeout"
	ClassificationEngineError       Classification = "engine-error"
	ClassificationResourceExhausted Classification = "resource-exhausted"
)

// QueryOutcome is the result of one (query, repetition) attempt. A count is
// only meaningful when Classification is ClassificationNone.
type QueryOutcome struct {
	Query          string
	Repetition     int
	Elapsed        time.Duration
	Count          int
	Classification Classification
	Message        string
}

// Succeeded reports whether the attempt returned a result count.
func (o QueryOutcome) Succeeded() bool {
	return o.Classification == ClassificationNone
}

// ResultCount returns the result count and whether it is defined.
func (o QueryOutcome) ResultCount() (int, bool) {
	if !o.Succeeded() {
		return 0, false
	}
	return o.Count, true
}

// Terminal reports whether no further repetitions of the query should run.
func (o QueryOutcome) Terminal(p Policy) bool {
	switch o.Classification {
	case ClassificationNone:
		return false
	case ClassificationResourceExhausted:
		return p.ResourceExhaustedTerminal
	default:
		return true
	}
}

type queryOutcomeJSON struct {
	Query          string         `json:"query"`
	Repetition     int            `json:"repetition"`
	TimeSpent      int64          `json:"timeSpent"`
	NumOfResults   *int           `json:"numOfResults"`
	Exception      *string        `json:"exception"`
	Classification Classification `json:"classification,omitempty"`
}

// MarshalJSON renders the outcome in the result artifact layout: timeSpent in
// milliseconds, numOfResults null on failure, exception null on success.
func (o QueryOutcome) MarshalJSON() ([]byte, error) {
	out := queryOutcomeJSON{
		Query:          o.Query,
		Repetition:     o.Repetition,
		TimeSpent:      o.Elapsed.Milliseconds(),
		Classification: o.Classification,
	}
	if n, ok := o.ResultCount(); ok {
		out.NumOfResults = &n
	} else {
		msg := o.Message
		if msg == "" {
			msg = string(o.Classification)
		}
		out.Exception = &msg
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads an outcome written by MarshalJSON.
func (o *QueryOutcome) UnmarshalJSON(data []byte) error {
	var in queryOutcomeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*o = QueryOutcome{
		Query:          in.Query,
		Repetition:     in.Repetition,
		Elapsed:        time.Duration(in.TimeSpent) * time.Millisecond,
		Classification: in.Classification,
	}
	if in.NumOfResults != nil {
		o.Count = *in.NumOfResults
	}
	if in.Exception != nil {
		o.Message = *in.Exception
		if o.Classification == ClassificationNone {
			o.Classification = ClassificationEngineError
		}
	}
	return nil
}

// OutcomeKey returns the key of an outcome inside TestCaseResult.Queries.
func OutcomeKey(query string, repetition int) string {
	return fmt.Sprintf("%s_%d", query, repetition)
}

// TestCaseResult collects the outcomes of one test case against one engine.
type TestCaseResult struct {
	Name                 string                  `json:"name"`
	PreparationTime      time.Duration           `json:"-"`
	MaterializationTime  time.Duration           `json:"-"`
	PreparationError     string                  `json:"preparationError,omitempty"`
	MaterializationError string                  `json:"materializationError,omitempty"`
	Queries              map[string]QueryOutcome `json:"queryResults"`
}

// NewTestCaseResult returns an empty result with materialization unmeasured.
func NewTestCaseResult(name string) *TestCaseResult {
	return &TestCaseResult{
		Name:                name,
		MaterializationTime: NotMeasured,
		Queries:             make(map[string]QueryOutcome),
	}
}

// Add records an outcome under its composite key.
func (r *TestCaseResult) Add(o QueryOutcome) {
	r.Queries[OutcomeKey(o.Query, o.Repetition)] = o
}

// MarshalJSON writes durations as milliseconds, keeping the -1 sentinel.
func (r TestCaseResult) MarshalJSON() ([]byte, error) {
	type alias TestCaseResult
	return json.Marshal(struct {
		alias
		PreparationTime     int64 `json:"preparationTime"`
		MaterializationTime int64 `json:"materializationTime"`
	}{
		alias:               alias(r),
		PreparationTime:     millis(r.PreparationTime),
		MaterializationTime: millis(r.MaterializationTime),
	})
}

// UnmarshalJSON reads a result written by MarshalJSON.
func (r *TestCaseResult) UnmarshalJSON(data []byte) error {
	type alias TestCaseResult
	aux := struct {
		*alias
		PreparationTime     int64 `json:"preparationTime"`
		MaterializationTime int64 `json:"materializationTime"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.PreparationTime = fromMillis(aux.PreparationTime)
	r.MaterializationTime = fromMillis(aux.MaterializationTime)
	if r.Queries == nil {
		r.Queries = make(map[string]QueryOutcome)
	}
	return nil
}

// EngineResult collects every test case result of one engine.
type EngineResult struct {
	Name            string                     `json:"name"`
	Type            string                     `json:"type,omitempty"`
	PreparationTime time.Duration              `json:"-"`
	Error           string                     `json:"error,omitempty"`
	TestCases       map[string]*TestCaseResult `json:"testCaseResults"`
}

// NewEngineResult returns an empty engine result.
func NewEngineResult(name, typ string) *EngineResult {
	return &EngineResult{
		Name:            name,
		Type:            typ,
		PreparationTime: NotMeasured,
		TestCases:       make(map[string]*TestCaseResult),
	}
}

// MarshalJSON writes the preparation time in milliseconds.
func (r EngineResult) MarshalJSON() ([]byte, error) {
	type alias EngineResult
	return json.Marshal(struct {
		alias
		PreparationTime int64 `json:"preparationTime"`
	}{alias: alias(r), PreparationTime: millis(r.PreparationTime)})
}

// UnmarshalJSON reads a result written by MarshalJSON.
func (r *EngineResult) UnmarshalJSON(data []byte) error {
	type alias EngineResult
	aux := struct {
		*alias
		PreparationTime int64 `json:"preparationTime"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.PreparationTime = fromMillis(aux.PreparationTime)
	if r.TestCases == nil {
		r.TestCases = make(map[string]*TestCaseResult)
	}
	return nil
}

// BenchmarkResult is the root of the result tree, keyed by engine name.
type BenchmarkResult struct {
	RunID     string                   `json:"runId"`
	Name      string                   `json:"name,omitempty"`
	StartedAt time.Time                `json:"startedAt"`
	Duration  time.Duration            `json:"-"`
	Engines   map[string]*EngineResult `json:"engines"`
}

// MarshalJSON writes the run duration in milliseconds like every other
// duration of the artifact.
func (r BenchmarkResult) MarshalJSON() ([]byte, error) {
	type alias BenchmarkResult
	return json.Marshal(struct {
		alias
		Duration int64 `json:"duration"`
	}{alias: alias(r), Duration: r.Duration.Milliseconds()})
}

// UnmarshalJSON reads a result written by MarshalJSON.
func (r *BenchmarkResult) UnmarshalJSON(data []byte) error {
	type alias BenchmarkResult
	aux := struct {
		*alias
		Duration int64 `json:"duration"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Duration = time.Duration(aux.Duration) * time.Millisecond
	if r.Engines == nil {
		r.Engines = make(map[string]*EngineResult)
	}
	return nil
}

func millis(d time.Duration) int64 {
	if d < 0 {
		return -1
	}
	return d.Milliseconds()
}

func fromMillis(ms int64) time.Duration {
	if ms < 0 {
		return NotMeasured
	}
	return time.Duration(ms) * time.Millisecond
}
