// Package sqldb benchmarks SQL engines reached through database/sql: MySQL
// via go-sql-driver/mysql and SQLite via modernc.org/sqlite.
//
// Test data matches the postgres adapter: <identifier>.sql for the schema
// and rule views, <identifier>.csv for facts and an optional
// <identifier>_materialize.sql.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kev-ang/ruben/internal/benchmark"
	"github.com/kev-ang/ruben/internal/engines/adapter"
)

// Registry keys of the dialects.
const (
	TypeMySQL  = "mysql"
	TypeSQLite = "sqlite"
)

// Settings understood by the adapter.
const (
	SettingDSN      = "dsn"
	SettingEndpoint = "endpoint"
	SettingUser     = "user"
	SettingPassword = "password"
	SettingDatabase = "database"
	SettingPath     = "path"
)

const (
	schemaSuffix      = ".sql"
	factsSuffix       = ".csv"
	materializeSuffix = "_materialize.sql"
)

// dialect captures what differs between the supported databases.
type dialect struct {
	driver   string
	maxConns int
	dsn      func(adapter.Settings) (string, error)
	quote    func(ident string) string
	// objects lists the views and tables CleanUp must drop, views first.
	objects string
	// session runs once on the connection used for CleanUp.
	session  []string
	classify func(error) error
}

// Engine runs test cases on a database/sql connection pool.
type Engine struct {
	adapter.Base

	dialect dialect
	dsn     string
	db      *sql.DB
}

// NewMySQL returns an unconfigured MySQL engine.
func NewMySQL(name string) benchmark.Engine {
	return &Engine{Base: adapter.NewBase(name), dialect: mysqlDialect}
}

// NewSQLite returns an unconfigured SQLite engine.
func NewSQLite(name string) benchmark.Engine {
	return &Engine{Base: adapter.NewBase(name), dialect: sqliteDialect}
}

// Configure resolves the data source name.
func (e *Engine) Configure(settings map[string]any) error {
	if err := e.Base.Configure(settings); err != nil {
		return err
	}
	dsn, err := e.dialect.dsn(e.Settings)
	if err != nil {
		return err
	}
	e.dsn = dsn
	return nil
}

func (e *Engine) connect(ctx context.Context) error {
	if e.db != nil {
		return nil
	}
	db, err := sql.Open(e.dialect.driver, e.dsn)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", e.dialect.driver, err)
	}
	if e.dialect.maxConns > 0 {
		db.SetMaxOpenConns(e.dialect.maxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping %s: %w", e.dialect.driver, err)
	}
	e.db = db
	return nil
}

// Prepare runs the schema script and inserts the facts in one transaction.
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
	slog.Debug("sql test case loaded", "engine", e.Name(), "driver", e.dialect.driver, "test_case", tc.Name(), "facts", len(facts))
	return nil
}

func (e *Engine) loadFacts(ctx context.Context, facts []adapter.Fact) error {
	if len(facts) == 0 {
		return nil
	}
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmts := make(map[string]*sql.Stmt)
	for _, f := range facts {
		key := fmt.Sprintf("%s/%d", f.Table, len(f.Values))
		stmt, ok := stmts[key]
		if !ok {
			query := fmt.Sprintf("INSERT INTO %s VALUES (%s)",
				e.dialect.quote(f.Table),
				adapter.Placeholders(len(f.Values), func(int) string { return "?" }),
			)
			stmt, err = tx.PrepareContext(ctx, query)
			if err != nil {
				return e.dialect.classify(fmt.Errorf("failed to prepare insert into %s: %w", f.Table, err))
			}
			defer stmt.Close()
			stmts[key] = stmt
		}
		args := make([]any, len(f.Values))
		for i, v := range f.Values {
			args[i] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return e.dialect.classify(fmt.Errorf("failed to insert into %s: %w", f.Table, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return e.dialect.classify(fmt.Errorf("failed to commit facts: %w", err))
	}
	return nil
}

func (e *Engine) execScript(ctx context.Context, script []byte) error {
	for _, stmt := range adapter.SplitStatements(script) {
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			line, _, _ := strings.Cut(stmt, "\n")
			return e.dialect.classify(fmt.Errorf("failed to execute %q: %w", line, err))
		}
	}
	return nil
}

// Materialize runs the optional materialization script.
func (e *Engine) Materialize(ctx context.Context, dataRoot string, tc benchmark.TestCase) error {
	if e.db == nil {
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
	if e.db == nil {
		return 0, fmt.Errorf("not connected")
	}
	var count int64
	if err := e.db.QueryRowContext(ctx, adapter.CountQuery(query)).Scan(&count); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, e.dialect.classify(&benchmark.QueryError{Query: query, Err: err})
	}
	return int(count), nil
}

// CleanUp drops every view and table of the database.
func (e *Engine) CleanUp(ctx context.Context) error {
	if e.db == nil {
		return nil
	}
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	for _, stmt := range e.dialect.session {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute %q: %w", stmt, err)
		}
	}

	type object struct{ kind, name string }
	rows, err := conn.QueryContext(ctx, e.dialect.objects)
	if err != nil {
		return fmt.Errorf("failed to list objects: %w", err)
	}
	var objects []object
	for rows.Next() {
		var o object
		if err := rows.Scan(&o.kind, &o.name); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan object: %w", err)
		}
		objects = append(objects, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to list objects: %w", err)
	}

	for _, o := range objects {
		stmt := fmt.Sprintf("DROP %s IF EXISTS %s", o.kind, e.dialect.quote(o.name))
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to drop %s %s: %w", strings.ToLower(o.kind), o.name, err)
		}
	}
	slog.Debug("sql objects dropped", "engine", e.Name(), "count", len(objects))
	return nil
}

// ShutDown closes the connection pool.
func (e *Engine) ShutDown(context.Context) error {
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}
