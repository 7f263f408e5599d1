package results

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kev-ang/ruben/internal/benchmark"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    started_at  DATETIME NOT NULL,
    duration_ms INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS engine_results (
    run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    engine          TEXT NOT NULL,
    type            TEXT,
    preparation_ms  INTEGER NOT NULL,
    error           TEXT,
    PRIMARY KEY (run_id, engine)
);
CREATE TABLE IF NOT EXISTS test_case_results (
    run_id               TEXT NOT NULL,
    engine               TEXT NOT NULL,
    test_case            TEXT NOT NULL,
    preparation_ms       INTEGER NOT NULL,
    materialization_ms   INTEGER NOT NULL,
    preparation_error    TEXT,
    materialization_error TEXT,
    PRIMARY KEY (run_id, engine, test_case)
);
CREATE TABLE IF NOT EXISTS query_outcomes (
    run_id         TEXT NOT NULL,
    engine         TEXT NOT NULL,
    test_case      TEXT NOT NULL,
    query          TEXT NOT NULL,
    repetition     INTEGER NOT NULL,
    elapsed_ms     INTEGER NOT NULL,
    result_count   INTEGER,
    classification TEXT NOT NULL,
    message        TEXT,
    PRIMARY KEY (run_id, engine, test_case, query, repetition)
)`

// ErrRunNotFound is returned when a run ID is not in the store.
var ErrRunNotFound = errors.New("run not found")

var _ Writer = (*Store)(nil)

// RunSummary describes one stored run.
type RunSummary struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Engines   int           `json:"engines"`
	Outcomes  int           `json:"outcomes"`
	Failures  int           `json:"failures"`
}

// Store persists benchmark results in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens the SQLite database at path and creates its tables.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure result store: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create result tables: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Write stores a complete run in one transaction.
func (s *Store) Write(ctx context.Context, res *benchmark.BenchmarkResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, name, started_at, duration_ms) VALUES (?, ?, ?, ?)`,
		res.RunID, res.Name, res.StartedAt.UTC(), res.Duration.Milliseconds(),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, engineName := range SortedKeys(res.Engines) {
		er := res.Engines[engineName]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO engine_results (run_id, engine, type, preparation_ms, error) VALUES (?, ?, ?, ?, ?)`,
			res.RunID, engineName, er.Type, millis(er.PreparationTime), nullString(er.Error),
		); err != nil {
			return fmt.Errorf("insert engine result: %w", err)
		}

		for _, tcName := range SortedKeys(er.TestCases) {
			tcr := er.TestCases[tcName]
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO test_case_results (
					run_id, engine, test_case, preparation_ms, materialization_ms,
					preparation_error, materialization_error
				) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				res.RunID, engineName, tcName, millis(tcr.PreparationTime), millis(tcr.MaterializationTime),
				nullString(tcr.PreparationError), nullString(tcr.MaterializationError),
			); err != nil {
				return fmt.Errorf("insert test case result: %w", err)
			}

			for _, o := range SortedOutcomes(tcr) {
				var count sql.NullInt64
				if n, ok := o.ResultCount(); ok {
					count = sql.NullInt64{Int64: int64(n), Valid: true}
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO query_outcomes (
						run_id, engine, test_case, query, repetition,
						elapsed_ms, result_count, classification, message
					) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					res.RunID, engineName, tcName, o.Query, o.Repetition,
					o.Elapsed.Milliseconds(), count, string(o.Classification), nullString(o.Message),
				); err != nil {
					return fmt.Errorf("insert query outcome: %w", err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// ListRuns returns stored runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.started_at, r.duration_ms,
			(SELECT COUNT(*) FROM engine_results e WHERE e.run_id = r.id),
			(SELECT COUNT(*) FROM query_outcomes q WHERE q.run_id = r.id),
			(SELECT COUNT(*) FROM query_outcomes q WHERE q.run_id = r.id AND q.classification != '')
		FROM runs r
		ORDER BY r.started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			r          RunSummary
			durationMS int64
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.StartedAt, &durationMS, &r.Engines, &r.Outcomes, &r.Failures); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Load rebuilds the result tree of a stored run.
func (s *Store) Load(ctx context.Context, runID string) (*benchmark.BenchmarkResult, error) {
	res := &benchmark.BenchmarkResult{RunID: runID, Engines: make(map[string]*benchmark.EngineResult)}

	var durationMS int64
	err := s.db.QueryRowContext(ctx,
		`SELECT name, started_at, duration_ms FROM runs WHERE id = ?`, runID,
	).Scan(&res.Name, &res.StartedAt, &durationMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	res.Duration = time.Duration(durationMS) * time.Millisecond

	if err := s.loadEngines(ctx, res); err != nil {
		return nil, err
	}
	if err := s.loadTestCases(ctx, res); err != nil {
		return nil, err
	}
	if err := s.loadOutcomes(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) loadEngines(ctx context.Context, res *benchmark.BenchmarkResult) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT engine, type, preparation_ms, error FROM engine_results WHERE run_id = ?`, res.RunID)
	if err != nil {
		return fmt.Errorf("load engine results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name, typ   sql.NullString
			prepMS      int64
			engineError sql.NullString
		)
		if err := rows.Scan(&name, &typ, &prepMS, &engineError); err != nil {
			return fmt.Errorf("scan engine result: %w", err)
		}
		er := benchmark.NewEngineResult(name.String, typ.String)
		er.PreparationTime = fromMillis(prepMS)
		er.Error = engineError.String
		res.Engines[er.Name] = er
	}
	return rows.Err()
}

func (s *Store) loadTestCases(ctx context.Context, res *benchmark.BenchmarkResult) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT engine, test_case, preparation_ms, materialization_ms, preparation_error, materialization_error
		FROM test_case_results WHERE run_id = ?`, res.RunID)
	if err != nil {
		return fmt.Errorf("load test case results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			engine, testCase     string
			prepMS, matMS        int64
			prepErr, materialErr sql.NullString
		)
		if err := rows.Scan(&engine, &testCase, &prepMS, &matMS, &prepErr, &materialErr); err != nil {
			return fmt.Errorf("scan test case result: %w", err)
		}
		er, ok := res.Engines[engine]
		if !ok {
			continue
		}
		tcr := benchmark.NewTestCaseResult(testCase)
		tcr.PreparationTime = fromMillis(prepMS)
		tcr.MaterializationTime = fromMillis(matMS)
		tcr.PreparationError = prepErr.String
		tcr.MaterializationError = materialErr.String
		er.TestCases[testCase] = tcr
	}
	return rows.Err()
}

func (s *Store) loadOutcomes(ctx context.Context, res *benchmark.BenchmarkResult) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT engine, test_case, query, repetition, elapsed_ms, result_count, classification, message
		FROM query_outcomes WHERE run_id = ?`, res.RunID)
	if err != nil {
		return fmt.Errorf("load query outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			engine, testCase string
			o                benchmark.QueryOutcome
			elapsedMS        int64
			count            sql.NullInt64
			classification   string
			message          sql.NullString
		)
		if err := rows.Scan(&engine, &testCase, &o.Query, &o.Repetition, &elapsedMS, &count, &classification, &message); err != nil {
			return fmt.Errorf("scan query outcome: %w", err)
		}
		er, ok := res.Engines[engine]
		if !ok {
			continue
		}
		tcr, ok := er.TestCases[testCase]
		if !ok {
			continue
		}
		o.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		o.Classification = benchmark.Classification(classification)
		o.Message = message.String
		if count.Valid {
			o.Count = int(count.Int64)
		}
		tcr.Add(o)
	}
	return rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func millis(d time.Duration) int64 {
	if d < 0 {
		return -1
	}
	return d.Milliseconds()
}

func fromMillis(ms int64) time.Duration {
	if ms < 0 {
		return benchmark.NotMeasured
	}
	return time.Duration(ms) * time.Millisecond
}
