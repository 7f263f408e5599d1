package benchmark

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// mockEngine is a test double recording every lifecycle call.
type mockEngine struct {
	name string

	queryFn     func(ctx context.Context, query string, call int) (int, error)
	prepareErr  error
	configErr   error
	cleanUpErr  error
	shutDownErr error

	mu         sync.Mutex
	calls      []string
	queryCalls int
	settings   map[string]any
}

func newMockEngine(name string, queryFn func(ctx context.Context, query string, call int) (int, error)) *mockEngine {
	return &mockEngine{name: name, queryFn: queryFn}
}

func (m *mockEngine) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockEngine) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockEngine) count(call string) int {
	n := 0
	for _, c := range m.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (m *mockEngine) Name() string { return m.name }

func (m *mockEngine) Configure(settings map[string]any) error {
	m.record("configure")
	m.mu.Lock()
	m.settings = settings
	m.mu.Unlock()
	return m.configErr
}

func (m *mockEngine) Prepare(_ context.Context, _ string, tc TestCase) error {
	m.record("prepare:" + tc.Name())
	return m.prepareErr
}

func (m *mockEngine) ExecuteQuery(ctx context.Context, query string) (int, error) {
	m.mu.Lock()
	call := m.queryCalls
	m.queryCalls++
	m.mu.Unlock()
	m.record("query:" + query)
	if m.queryFn == nil {
		return 0, nil
	}
	return m.queryFn(ctx, query, call)
}

func (m *mockEngine) CleanUp(context.Context) error {
	m.record("cleanup")
	return m.cleanUpErr
}

func (m *mockEngine) ShutDown(context.Context) error {
	m.record("shutdown")
	return m.shutDownErr
}

// mockMaterializer adds a materialization phase to mockEngine.
type mockMaterializer struct {
	*mockEngine
	materializeErr error
}

func (m *mockMaterializer) Materialize(_ context.Context, _ string, tc TestCase) error {
	m.record("materialize:" + tc.Name())
	return m.materializeErr
}

func constant(n int) func(context.Context, string, int) (int, error) {
	return func(context.Context, string, int) (int, error) { return n, nil }
}

// registryWith returns a registry whose factory always hands out e.
func registryWith(kind string, e Engine) *Registry {
	reg := NewRegistry()
	reg.Register(kind, func(string) Engine { return e })
	return reg
}

var sampleTestCase = TestCase{Category: "c1", TestName: "t1", Identifier: "tc1"}

// writeQueries writes a query file for tc below root/folder.
func writeQueries(t *testing.T, root, folder string, tc TestCase, queries ...Query) {
	t.Helper()
	path := tc.File(root, folder, QueriesSuffix)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	entries := make([]map[string]any, 0, len(queries))
	for _, q := range queries {
		entry := map[string]any{"name": q.Name, "query": q.Text}
		if q.Timeout > 0 {
			entry["timeout"] = time.Duration(q.Timeout).String()
		}
		entries = append(entries, entry)
	}
	data, err := json.Marshal(map[string]any{"queries": entries})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}
