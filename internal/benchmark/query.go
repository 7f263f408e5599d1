package benchmark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// QueriesSuffix is the file suffix of a test case query file.
const QueriesSuffix = "_queries.json"

var errWorkerStopped = errors.New("query worker stopped")

// QueryTask evaluates one query against a prepared engine. It is the unit of
// cancellation: cancelling the context passed to Run asks the engine to stop.
type QueryTask struct {
	Engine Engine
	Query  string
}

// Run executes the query and validates the returned count.
func (t QueryTask) Run(ctx context.Context) (int, error) {
	n, err := t.Engine.ExecuteQuery(ctx, t.Query)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, &QueryError{Query: t.Query, Err: fmt.Errorf("negative result count %d", n)}
	}
	return n, nil
}

// TimedRunner executes query tasks for one test case on a dedicated worker
// and enforces a deadline per attempt.
//
// Cancellation is best effort. An engine call that ignores its context keeps
// running after the timeout outcome was recorded. The engine still sees one
// call at a time: the next attempt waits for the abandoned call to return,
// and that wait counts against the next attempt's deadline.
type TimedRunner struct {
	engine  Engine
	worker  *worker
	pending <-chan taskResult
}

// NewTimedRunner returns a runner for queries against e.
func NewTimedRunner(e Engine) *TimedRunner {
	return &TimedRunner{engine: e}
}

// Run evaluates q once with the given deadline and returns its outcome.
func (r *TimedRunner) Run(ctx context.Context, q Query, repetition int, timeout time.Duration) QueryOutcome {
	outcome := QueryOutcome{Query: q.Name, Repetition: repetition}
	if timeout <= 0 {
		outcome.Classification = ClassificationEngineError
		outcome.Message = fmt.Sprintf("invalid query timeout %s", timeout)
		return outcome
	}
	if r.worker == nil {
		r.worker = newWorker()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	start := time.Now()

	if r.pending != nil {
		select {
		case <-r.pending:
			r.pending = nil
		case <-timer.C:
			outcome.Elapsed = timeout
			outcome.Classification = ClassificationTimeout
			outcome.Message = fmt.Sprintf("query exceeded deadline of %s waiting for an abandoned query to return", timeout)
			return outcome
		case <-ctx.Done():
			outcome.Elapsed = time.Since(start)
			outcome.Classification = ClassificationEngineError
			outcome.Message = fmt.Sprintf("benchmark cancelled: %v", ctx.Err())
			return outcome
		}
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := r.worker.submit(taskCtx, QueryTask{Engine: r.engine, Query: q.Text})

	select {
	case res := <-done:
		outcome.Elapsed = time.Since(start)
		if res.err != nil {
			outcome.Classification = Classify(res.err)
			outcome.Message = res.err.Error()
			if errors.Is(res.err, errWorkerStopped) {
				r.worker = nil
			}
			return outcome
		}
		outcome.Count = res.count
		return outcome

	case <-timer.C:
		r.pending = done
		outcome.Elapsed = timeout
		outcome.Classification = ClassificationTimeout
		outcome.Message = fmt.Sprintf("query exceeded deadline of %s", timeout)
		return outcome

	case <-ctx.Done():
		r.pending = done
		outcome.Elapsed = time.Since(start)
		outcome.Classification = ClassificationEngineError
		outcome.Message = fmt.Sprintf("benchmark cancelled: %v", ctx.Err())
		return outcome
	}
}

// Drain waits up to grace for an abandoned query to return. It reports
// whether the engine is idle.
func (r *TimedRunner) Drain(ctx context.Context, grace time.Duration) bool {
	if r.pending == nil {
		return true
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-r.pending:
		r.pending = nil
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close stops the worker once its current task, if any, returns.
func (r *TimedRunner) Close() {
	if r.worker != nil {
		r.worker.stop()
		r.worker = nil
	}
}

type queryFile struct {
	Queries []Query `json:"queries"`
}

// LoadQueries reads a query file. A missing file yields no queries and no
// error; a malformed one yields a ConfigurationError.
func LoadQueries(path string) ([]Query, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("no query file for test case", "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, &ConfigurationError{Path: path, Err: err}
	}

	var qf queryFile
	if err := json.Unmarshal(data, &qf); err != nil {
		return nil, &ConfigurationError{Path: path, Err: err}
	}

	seen := make(map[string]bool, len(qf.Queries))
	for i, q := range qf.Queries {
		if q.Name == "" {
			return nil, &ConfigurationError{Path: path, Err: fmt.Errorf("query %d has no name", i)}
		}
		if seen[q.Name] {
			return nil, &ConfigurationError{Path: path, Err: fmt.Errorf("duplicate query name %q", q.Name)}
		}
		seen[q.Name] = true
	}
	return qf.Queries, nil
}
