package sqldb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kev-ang/ruben/internal/benchmark"
	"github.com/kev-ang/ruben/internal/engines/adapter"
)

var chain = benchmark.TestCase{Category: "chain", TestName: "tc", Identifier: "n4"}

const schemaScript = `
-- graph
CREATE TABLE edge (src TEXT NOT NULL, dst TEXT NOT NULL);

CREATE VIEW reachable AS
  WITH RECURSIVE r(src, dst) AS (
    SELECT src, dst FROM edge
    UNION
    SELECT r.src, e.dst FROM r JOIN edge e ON r.dst = e.src
  )
  SELECT src, dst FROM r;
`

func writeTestData(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for suffix, content := range files {
		path := chain.File(root, "SQLite", suffix)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func newSQLite(t *testing.T) benchmark.Engine {
	t.Helper()
	e := NewSQLite("SQLite")
	require.NoError(t, e.Configure(map[string]any{SettingPath: filepath.Join(t.TempDir(), "bench.db")}))
	t.Cleanup(func() { e.ShutDown(context.Background()) })
	return e
}

func TestSQLiteLifecycle(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeTestData(t, root, map[string]string{
		schemaSuffix:      schemaScript,
		factsSuffix:       "edge;a;b\nedge;b;c\nedge;c;d\n",
		materializeSuffix: "CREATE TABLE closure AS SELECT * FROM reachable;",
	})

	e := newSQLite(t)
	require.NoError(t, e.Prepare(ctx, root, chain))
	require.NoError(t, e.(benchmark.Materializer).Materialize(ctx, root, chain))

	tests := []struct {
		query string
		want  int
	}{
		{query: "SELECT * FROM reachable WHERE src = 'a'", want: 3},
		{query: "SELECT * FROM reachable;", want: 6},
		{query: "SELECT * FROM closure WHERE dst = 'd'", want: 3},
		{query: "SELECT * FROM edge WHERE src = 'd'", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			n, err := e.ExecuteQuery(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}

	require.NoError(t, e.CleanUp(ctx))
	_, err := e.ExecuteQuery(ctx, "SELECT * FROM edge")
	assert.Error(t, err)

	// The same engine can load the next test case after cleaning up.
	require.NoError(t, e.Prepare(ctx, root, chain))
	n, err := e.ExecuteQuery(ctx, "SELECT * FROM edge")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSQLiteInMemoryDefault(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeTestData(t, root, map[string]string{schemaSuffix: schemaScript, factsSuffix: "edge;x;y\n"})

	e := NewSQLite("SQLite")
	require.NoError(t, e.Configure(nil))
	defer e.ShutDown(ctx)

	require.NoError(t, e.Prepare(ctx, root, chain))
	n, err := e.ExecuteQuery(ctx, "SELECT * FROM reachable")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("no test data", func(t *testing.T) {
		e := newSQLite(t)
		assert.Error(t, e.Prepare(ctx, t.TempDir(), chain))
	})

	t.Run("broken schema", func(t *testing.T) {
		root := t.TempDir()
		writeTestData(t, root, map[string]string{schemaSuffix: "CREATE TABLE edge (;"})
		e := newSQLite(t)
		assert.Error(t, e.Prepare(ctx, root, chain))
	})

	t.Run("fact for unknown table", func(t *testing.T) {
		root := t.TempDir()
		writeTestData(t, root, map[string]string{factsSuffix: "missing;a\n"})
		e := newSQLite(t)
		assert.Error(t, e.Prepare(ctx, root, chain))
	})

	t.Run("invalid query", func(t *testing.T) {
		root := t.TempDir()
		writeTestData(t, root, map[string]string{schemaSuffix: schemaScript})
		e := newSQLite(t)
		require.NoError(t, e.Prepare(ctx, root, chain))

		_, err := e.ExecuteQuery(ctx, "SELECT * FROM nowhere")
		var qerr *benchmark.QueryError
		assert.ErrorAs(t, err, &qerr)
		assert.Equal(t, benchmark.ClassificationEngineError, benchmark.Classify(err))
	})

	t.Run("not connected", func(t *testing.T) {
		e := newSQLite(t)
		_, err := e.ExecuteQuery(ctx, "SELECT 1")
		assert.Error(t, err)
		assert.NoError(t, e.CleanUp(ctx))
	})
}

func TestMySQLDSN(t *testing.T) {
	tests := []struct {
		name     string
		settings adapter.Settings
		want     string
		wantErr  bool
	}{
		{
			name:     "explicit",
			settings: adapter.Settings{SettingDSN: "u:p@tcp(db:3306)/x"},
			want:     "u:p@tcp(db:3306)/x",
		},
		{
			name:     "endpoint",
			settings: adapter.Settings{SettingEndpoint: "mysql:3306", SettingPassword: "pw"},
			want:     "root:pw@tcp(mysql:3306)/ruben",
		},
		{
			name:     "missing",
			settings: adapter.Settings{},
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mysqlDialect.dsn(tt.settings)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMySQLClassify(t *testing.T) {
	full := mysqlDialect.classify(fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1114, Message: "The table 'edge' is full"}))
	assert.Equal(t, benchmark.ClassificationResourceExhausted, benchmark.Classify(full))

	syntax := mysqlDialect.classify(&mysql.MySQLError{Number: 1064, Message: "syntax"})
	assert.Equal(t, benchmark.ClassificationEngineError, benchmark.Classify(syntax))
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "`we``ird`", mysqlDialect.quote("we`ird"))
	assert.Equal(t, `"we""ird"`, sqliteDialect.quote(`we"ird`))
}
