// Package results writes finished benchmark results as JSON, CSV and into a
// SQLite run store.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kev-ang/ruben/internal/benchmark"
)

// ResultsFile is the name of the JSON document written per run.
const ResultsFile = "results.json"

// Writer persists a finished benchmark result.
type Writer interface {
	Write(ctx context.Context, res *benchmark.BenchmarkResult) error
}

// MultiWriter runs every writer and joins their errors, so one failing
// format does not prevent the others from being written.
type MultiWriter []Writer

func (m MultiWriter) Write(ctx context.Context, res *benchmark.BenchmarkResult) error {
	var errs []error
	for _, w := range m {
		if err := w.Write(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// JSONWriter writes the result tree as one pretty-printed document.
type JSONWriter struct {
	Dir string
}

func (w JSONWriter) Write(_ context.Context, res *benchmark.BenchmarkResult) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(filepath.Join(w.Dir, ResultsFile))
	if err != nil {
		return fmt.Errorf("failed to create results file: %w", err)
	}
	defer f.Close()

	if err := WriteJSON(f, res); err != nil {
		return err
	}
	return f.Close()
}

// WriteJSON encodes res to w.
func WriteJSON(w io.Writer, res *benchmark.BenchmarkResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return nil
}

// ReadJSON loads a result document written by JSONWriter.
func ReadJSON(path string) (*benchmark.BenchmarkResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read results: %w", err)
	}
	var res benchmark.BenchmarkResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to decode results %s: %w", path, err)
	}
	return &res, nil
}

// SortedOutcomes returns the outcomes of r ordered by query then repetition.
func SortedOutcomes(r *benchmark.TestCaseResult) []benchmark.QueryOutcome {
	outcomes := make([]benchmark.QueryOutcome, 0, len(r.Queries))
	for _, o := range r.Queries {
		outcomes = append(outcomes, o)
	}
	sort.Slice(outcomes, func(i, j int) bool {
		if outcomes[i].Query != outcomes[j].Query {
			return outcomes[i].Query < outcomes[j].Query
		}
		return outcomes[i].Repetition < outcomes[j].Repetition
	})
	return outcomes
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sanitizeFilename replaces characters unsafe for filenames with underscores.
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	return replacer.Replace(name)
}
