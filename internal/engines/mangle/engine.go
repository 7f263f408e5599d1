// Package mangle benchmarks the Mangle Datalog engine in process.
//
// Test data: <identifier>.rls holds declarations and rules, <identifier>.fct
// holds facts. Both are Mangle source. A query is a single atom such as
// reachable(/a, X); its result count is the number of matching facts after
// evaluation.
package mangle

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"github.com/kev-ang/ruben/internal/benchmark"
	"github.com/kev-ang/ruben/internal/engines/adapter"
)

// Type is the registry key of this adapter.
const Type = "mangle"

const (
	rulesSuffix = ".rls"
	factsSuffix = ".fct"

	// SettingFactLimit caps the number of facts derived during evaluation.
	SettingFactLimit = "derived_fact_limit"

	defaultFactLimit = 5_000_000
)

// Engine evaluates Mangle programs against an in-memory fact store.
type Engine struct {
	adapter.Base

	factLimit   int
	programInfo *analysis.ProgramInfo
	store       factstore.FactStore
	evaluated   bool
}

// New returns an unconfigured Mangle engine.
func New(name string) benchmark.Engine {
	return &Engine{Base: adapter.NewBase(name)}
}

// Configure reads the derived fact limit.
func (e *Engine) Configure(settings map[string]any) error {
	if err := e.Base.Configure(settings); err != nil {
		return err
	}
	limit, err := e.Settings.Int(SettingFactLimit, defaultFactLimit)
	if err != nil {
		return err
	}
	if limit <= 0 {
		return fmt.Errorf("setting %s must be positive, got %d", SettingFactLimit, limit)
	}
	e.factLimit = limit
	return nil
}

// Prepare parses and analyzes the rules and facts of tc.
func (e *Engine) Prepare(_ context.Context, dataRoot string, tc benchmark.TestCase) error {
	rules, err := e.ReadOptional(dataRoot, tc, rulesSuffix)
	if err != nil {
		return err
	}
	facts, err := e.ReadOptional(dataRoot, tc, factsSuffix)
	if err != nil {
		return err
	}
	if rules == nil && facts == nil {
		return fmt.Errorf("neither %s nor %s found for %s", rulesSuffix, factsSuffix, tc.Name())
	}

	var src bytes.Buffer
	src.Write(rules)
	src.WriteString("\n")
	src.Write(facts)

	unit, err := parse.Unit(&src)
	if err != nil {
		return fmt.Errorf("failed to parse program: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return fmt.Errorf("failed to analyze program: %w", err)
	}

	store := factstore.NewSimpleInMemoryStore()
	for _, fact := range programInfo.InitialFacts {
		store.Add(fact)
	}

	e.programInfo = programInfo
	e.store = store
	e.evaluated = false

	slog.Debug("mangle program loaded",
		"engine", e.Name(),
		"test_case", tc.Name(),
		"rules", len(programInfo.Rules),
		"facts", len(programInfo.InitialFacts),
	)
	return nil
}

// Materialize evaluates the program to its fixpoint. Exceeding the derived
// fact limit is reported as resource exhaustion; the facts derived until then
// stay queryable.
func (e *Engine) Materialize(_ context.Context, _ string, tc benchmark.TestCase) error {
	if e.programInfo == nil {
		return fmt.Errorf("no program loaded for %s", tc.Name())
	}
	return e.evaluate()
}

func (e *Engine) evaluate() error {
	e.evaluated = true
	stats, err := engine.EvalProgramWithStats(e.programInfo, e.store, engine.WithCreatedFactLimit(e.factLimit))
	if err != nil {
		if isFactLimitError(err) {
			return &benchmark.ResourceExhaustedError{Resource: "derived facts", Err: err}
		}
		return fmt.Errorf("failed to evaluate program: %w", err)
	}
	slog.Debug("mangle fixpoint reached", "engine", e.Name(), "strata", len(stats.Strata))
	return nil
}

// ExecuteQuery counts the facts matching the query atom. The program is
// evaluated first if Materialize was never called. Evaluation itself cannot
// be interrupted; the fact scan stops when ctx is cancelled.
func (e *Engine) ExecuteQuery(ctx context.Context, query string) (int, error) {
	if e.store == nil {
		return 0, fmt.Errorf("no program loaded")
	}
	atom, err := parse.Atom(strings.TrimSuffix(strings.TrimSpace(query), "."))
	if err != nil {
		return 0, &benchmark.QueryError{Query: query, Err: err}
	}
	if !e.evaluated {
		if err := e.evaluate(); err != nil {
			return 0, err
		}
	}

	count := 0
	err = e.store.GetFacts(atom, func(ast.Atom) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// CleanUp drops the program and all facts.
func (e *Engine) CleanUp(context.Context) error {
	e.programInfo = nil
	e.store = nil
	e.evaluated = false
	return nil
}

// ShutDown releases everything CleanUp does; the engine holds no external
// resources.
func (e *Engine) ShutDown(ctx context.Context) error {
	return e.CleanUp(ctx)
}

func isFactLimitError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "limit") || strings.Contains(msg, "exceeded")
}
