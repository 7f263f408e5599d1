// Package postgres benchmarks PostgreSQL through pgx.
//
// Test data: <identifier>.sql holds the schema and rule views,
// <identifier>.csv the facts (table;value;...), and the optional
// <identifier>_materialize.sql statements run in the materialization phase.
// Queries are SELECT statements; the result count is their row count.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kev-ang/ruben/internal/benchmark"
	"github.com/kev-ang/ruben/internal/engines/adapter"
)

// Type is the registry key of this adapter.
const Type = "postgres"

// Settings understood by the adapter. SettingDSN wins over the individual
// connection settings; SettingEndpoint is filled in for provisioned servers.
const (
	SettingDSN      = "dsn"
	SettingEndpoint = "endpoint"
	SettingUser     = "user"
	SettingPassword = "password"
	SettingDatabase = "database"
	SettingSchema   = "schema"
	SettingMaxConns = "max_conns"
)

const (
	schemaSuffix      = ".sql"
	factsSuffix       = ".csv"
	materializeSuffix = "_materialize.sql"

	defaultSchema = "ruben"
)

// Engine runs test cases inside a dedicated schema that CleanUp drops.
type Engine struct {
	adapter.Base

	dsn      string
	schema   string
	maxConns int
	pool     *pgxpool.Pool
}

// New returns an unconfigured PostgreSQL engine.
func New(name string) benchmark.Engine {
	return &Engine{Base: adapter.NewBase(name)}
}

// Configure resolves the connection string and schema.
func (e *Engine) Configure(settings map[string]any) error {
	if err := e.Base.Configure(settings); err != nil {
		return err
	}
	dsn, err := dsnFrom(e.Settings)
	if err != nil {
		return err
	}
	maxConns, err := e.Settings.Int(SettingMaxConns, 4)
	if err != nil {
		return err
	}
	e.dsn = dsn
	e.schema = e.Settings.String(SettingSchema, defaultSchema)
	e.maxConns = maxConns
	return nil
}

func dsnFrom(s adapter.Settings) (string, error) {
	if dsn := s.String(SettingDSN, ""); dsn != "" {
		return dsn, nil
	}
	endpoint := s.String(SettingEndpoint, "")
	if endpoint == "" {
		return "", fmt.Errorf("setting %s or %s is required", SettingDSN, SettingEndpoint)
	}
	user := s.String(SettingUser, "postgres")
	password := s.String(SettingPassword, "")
	database := s.String(SettingDatabase, "postgres")
	if password != "" {
		user += ":" + password
	}
	return fmt.Sprintf("postgres://%s@%s/%s?sslmode=disable", user, endpoint, database), nil
}

func (e *Engine) connect(ctx context.Context) error {
	if e.pool != nil {
		return nil
	}
	cfg, err := pgxpool.ParseConfig(e.dsn)
	if err != nil {
		return fmt.Errorf("failed to parse dsn: %w", err)
	}
	cfg.MaxConns = int32(e.maxConns)
	cfg.ConnConfig.RuntimeParams["search_path"] = e.schema
	// Fact values arrive as text; the simple protocol lets the server coerce
	// them to the column types.
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	e.pool = pool
	return nil
}

// Prepare creates the schema, runs the schema script and loads the facts.
func (e *Engine) Prepare(ctx context.Context, dataRoot string, tc benchmark.TestCase) error {
	if err := e.connect(ctx); err != nil {
		return err
	}
	script, err := e.ReadOptional(dataRoot, tc, schemaSuffix)
	if err != nil {
		return err
	}
	factData, err := e.ReadOptional(dataRoot, tc, factsSuffix)
	if err != nil {
		return err
	}
	if script == nil && factData == nil {
		return fmt.Errorf("neither %s nor %s found for %s", schemaSuffix, factsSuffix, tc.Name())
	}

	if _, err := e.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+e.schemaIdent()); err != nil {
		return classify(fmt.Errorf("failed to create schema: %w", err))
	}
	if err := e.execScript(ctx, script); err != nil {
		return err
	}

	facts, err := adapter.ParseFacts(factData)
	if err != nil {
		return err
	}
	if err := e.loadFacts(ctx, facts); err != nil {
		return err
	}
	slog.Debug("postgres test case loaded", "engine", e.Name(), "test_case", tc.Name(), "facts", len(facts))
	return nil
}

func (e *Engine) loadFacts(ctx context.Context, facts []adapter.Fact) error {
	if len(facts) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, f := range facts {
		stmt := fmt.Sprintf("INSERT INTO %s VALUES (%s)",
			pgx.Identifier{f.Table}.Sanitize(),
			adapter.Placeholders(len(f.Values), func(i int) string { return "$" + strconv.Itoa(i) }),
		)
		args := make([]any, len(f.Values))
		for i, v := range f.Values {
			args[i] = v
		}
		batch.Queue(stmt, args...)
	}
	if err := e.pool.SendBatch(ctx, batch).Close(); err != nil {
		return classify(fmt.Errorf("failed to insert facts: %w", err))
	}
	return nil
}

func (e *Engine) execScript(ctx context.Context, script []byte) error {
	for _, stmt := range adapter.SplitStatements(script) {
		if _, err := e.pool.Exec(ctx, stmt); err != nil {
			return classify(fmt.Errorf("failed to execute %q: %w", firstLine(stmt), err))
		}
	}
	return nil
}

// Materialize runs the optional materialization script, typically
// REFRESH MATERIALIZED VIEW statements.
func (e *Engine) Materialize(ctx context.Context, dataRoot string, tc benchmark.TestCase) error {
	if e.pool == nil {
		return fmt.Errorf("not connected")
	}
	script, err := e.ReadOptional(dataRoot, tc, materializeSuffix)
	if err != nil {
		return err
	}
	return e.execScript(ctx, script)
}

// ExecuteQuery returns the number of rows the query yields.
func (e *Engine) ExecuteQuery(ctx context.Context, query string) (int, error) {
	if e.pool == nil {
		return 0, fmt.Errorf("not connected")
	}
	var count int64
	if err := e.pool.QueryRow(ctx, adapter.CountQuery(query)).Scan(&count); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, classify(&benchmark.QueryError{Query: query, Err: err})
	}
	return int(count), nil
}

// CleanUp drops the benchmark schema with everything in it.
func (e *Engine) CleanUp(ctx context.Context) error {
	if e.pool == nil {
		return nil
	}
	if _, err := e.pool.Exec(ctx, "DROP SCHEMA IF EXISTS "+e.schemaIdent()+" CASCADE"); err != nil {
		return fmt.Errorf("failed to drop schema: %w", err)
	}
	return nil
}

// ShutDown closes the connection pool.
func (e *Engine) ShutDown(context.Context) error {
	if e.pool != nil {
		e.pool.Close()
		e.pool = nil
	}
	return nil
}

func (e *Engine) schemaIdent() string {
	return pgx.Identifier{e.schema}.Sanitize()
}

// classify maps insufficient-resource (53xxx) and program-limit (54xxx)
// errors to resource exhaustion.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (strings.HasPrefix(pgErr.Code, "53") || strings.HasPrefix(pgErr.Code, "54")) {
		return &benchmark.ResourceExhaustedError{Resource: "postgres " + pgErr.Code, Err: err}
	}
	return err
}

func firstLine(stmt string) string {
	line, _, _ := strings.Cut(stmt, "\n")
	return line
}
