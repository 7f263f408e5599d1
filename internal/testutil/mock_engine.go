// Package testutil provides shared test helpers.
package testutil

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kev-ang/ruben/internal/benchmark"
)

// MockType is the registry key MockEngine is registered under.
const MockType = "mock"

// MockEngine is a configurable in-memory engine used across test packages.
type MockEngine struct {
	name string

	// Counts maps query text to the result count returned for it.
	Counts map[string]int

	// Errors maps query text to the error returned for it.
	Errors map[string]error

	// PrepareErr is returned by Prepare.
	PrepareErr error

	mu       sync.Mutex
	calls    []string
	settings map[string]any
}

// NewMockEngine returns an engine answering every query with zero results.
func NewMockEngine(name string) *MockEngine {
	return &MockEngine{name: name, Counts: map[string]int{}, Errors: map[string]error{}}
}

// Register adds a factory handing out m to reg under MockType.
func (m *MockEngine) Register(reg *benchmark.Registry) {
	reg.Register(MockType, func(string) benchmark.Engine { return m })
}

// Calls returns the lifecycle calls recorded so far.
func (m *MockEngine) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Settings returns the settings passed to Configure.
func (m *MockEngine) Settings() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

func (m *MockEngine) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *MockEngine) Name() string { return m.name }

func (m *MockEngine) Configure(settings map[string]any) error {
	m.record("configure")
	m.mu.Lock()
	m.settings = settings
	m.mu.Unlock()
	return nil
}

func (m *MockEngine) Prepare(_ context.Context, _ string, tc benchmark.TestCase) error {
	m.record("prepare:" + tc.Name())
	return m.PrepareErr
}

func (m *MockEngine) ExecuteQuery(_ context.Context, query string) (int, error) {
	m.record("query:" + query)
	if err, ok := m.Errors[query]; ok {
		return 0, err
	}
	return m.Counts[query], nil
}

func (m *MockEngine) CleanUp(context.Context) error {
	m.record("cleanup")
	return nil
}

func (m *MockEngine) ShutDown(context.Context) error {
	m.record("shutdown")
	return nil
}

// WriteQueries writes a query file for tc below dataRoot in the folder of
// the engine named engine. queries maps query names to query text.
func WriteQueries(t *testing.T, dataRoot, engine string, tc benchmark.TestCase, queries map[string]string) {
	t.Helper()

	type query struct {
		Name string `json:"name"`
		Text string `json:"query"`
	}
	var qf struct {
		Queries []query `json:"queries"`
	}
	for _, name := range sortedKeys(queries) {
		qf.Queries = append(qf.Queries, query{Name: name, Text: queries[name]})
	}
	data, err := json.Marshal(qf)
	require.NoError(t, err)

	path := tc.File(dataRoot, engine, benchmark.QueriesSuffix)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
