package results

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/kev-ang/ruben/internal/benchmark"
)

// SummaryOf digests a result tree the way ListRuns does for stored runs.
func SummaryOf(res *benchmark.BenchmarkResult) RunSummary {
	s := RunSummary{
		ID:        res.RunID,
		Name:      res.Name,
		StartedAt: res.StartedAt,
		Duration:  res.Duration,
		Engines:   len(res.Engines),
	}
	for _, er := range res.Engines {
		for _, tcr := range er.TestCases {
			for _, o := range tcr.Queries {
				s.Outcomes++
				if !o.Succeeded() {
					s.Failures++
				}
			}
		}
	}
	return s
}

// ScanRuns summarizes every run directory below dir holding a results.json,
// newest first. A missing dir yields no runs.
func ScanRuns(dir string) ([]RunSummary, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read results directory: %w", err)
	}

	var runs []RunSummary
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name(), ResultsFile)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		res, err := ReadJSON(path)
		if err != nil {
			slog.Warn("skipping unreadable run", "path", path, "error", err)
			continue
		}
		runs = append(runs, SummaryOf(res))
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	return runs, nil
}
