package mongo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/kev-ang/ruben/internal/benchmark"
)

func TestParseQuery(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantPipe int
		wantErr  bool
	}{
		{
			name:     "pipeline",
			query:    `{"collection": "edge", "pipeline": [{"$match": {"src": "a"}}, {"$graphLookup": {"from": "edge", "startWith": "$dst", "connectFromField": "dst", "connectToField": "src", "as": "path"}}]}`,
			wantPipe: 2,
		},
		{
			name:  "filter",
			query: `{"collection": "edge", "filter": {"src": "a"}}`,
		},
		{
			name:    "no collection",
			query:   `{"filter": {}}`,
			wantErr: true,
		},
		{
			name:    "both",
			query:   `{"collection": "edge", "filter": {"a": 1}, "pipeline": [{"$match": {}}]}`,
			wantErr: true,
		},
		{
			name:    "not json",
			query:   `edge(a, X)`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := ParseQuery(tt.query)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "edge", q.Collection)
			assert.Len(t, q.Pipeline, tt.wantPipe)
		})
	}
}

func TestParseCollections(t *testing.T) {
	collections, err := parseCollections([]byte(`{
		"edge": [{"src": "a", "dst": "b"}, {"src": "b", "dst": "c", "w": {"$numberLong": "3"}}],
		"node": []
	}`))
	require.NoError(t, err)
	require.Len(t, collections["edge"], 2)
	assert.Empty(t, collections["node"])

	second := collections["edge"][1].(bson.D)
	assert.Equal(t, bson.E{Key: "w", Value: int64(3)}, second[2])

	_, err = parseCollections([]byte(`["edge"]`))
	assert.Error(t, err)
}

func TestParseSteps(t *testing.T) {
	steps, err := parseSteps([]byte(`[{"collection": "edge", "pipeline": [{"$out": "closure"}]}]`))
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "edge", steps[0].Collection)

	_, err = parseSteps([]byte(`[{"collection": "edge"}]`))
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	exhausted := classify(fmt.Errorf("aggregate: %w", mongo.CommandError{Code: 292, Message: "exceeded memory limit"}))
	assert.Equal(t, benchmark.ClassificationResourceExhausted, benchmark.Classify(exhausted))

	other := classify(mongo.CommandError{Code: 2, Message: "bad value"})
	assert.Equal(t, benchmark.ClassificationEngineError, benchmark.Classify(other))
}

func TestConfigure(t *testing.T) {
	e := New("Mongo").(*Engine)
	assert.Error(t, e.Configure(nil))

	require.NoError(t, e.Configure(map[string]any{SettingEndpoint: "mongo:27017"}))
	assert.Equal(t, "mongodb://mongo:27017", e.uri)
	assert.Equal(t, defaultDatabase, e.database)
}

// TestEngineAgainstServer runs only when RUBEN_MONGODB_URI points at a
// disposable server.
func TestEngineAgainstServer(t *testing.T) {
	uri := os.Getenv("RUBEN_MONGODB_URI")
	if uri == "" {
		t.Skip("RUBEN_MONGODB_URI not set")
	}
	ctx := context.Background()
	root := t.TempDir()
	tc := benchmark.TestCase{Category: "chain", TestName: "tc", Identifier: "n4"}
	path := tc.File(root, "Mongo", dataSuffix)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{"edge": [
		{"src": "a", "dst": "b"}, {"src": "b", "dst": "c"}, {"src": "c", "dst": "d"}
	]}`), 0o644))

	e := New("Mongo")
	require.NoError(t, e.Configure(map[string]any{SettingURI: uri, SettingDatabase: "ruben_test"}))
	defer e.ShutDown(ctx)

	require.NoError(t, e.Prepare(ctx, root, tc))
	n, err := e.ExecuteQuery(ctx, `{"collection": "edge", "filter": {"src": "a"}}`)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, e.CleanUp(ctx))
}
