// Package report summarizes benchmark results per engine.
package report

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/kev-ang/ruben/internal/benchmark"
)

// Latencies are recorded in microseconds up to one day.
const maxLatencyMicros = int64(24 * time.Hour / time.Microsecond)

// Summary is the per-engine digest of one run.
type Summary struct {
	RunID    string
	Name     string
	Duration time.Duration
	Engines  []EngineSummary
}

// EngineSummary aggregates the outcomes of one engine.
type EngineSummary struct {
	Engine    string
	Error     string
	TestCases int
	Outcomes  int
	Succeeded int
	Timeouts  int
	Errors    int
	Exhausted int

	// Unrecorded counts successful outcomes whose latency could not be
	// added to the histogram. They are missing from the percentiles.
	Unrecorded int

	// Latency percentiles over successful outcomes. Zero when none succeeded.
	P50 time.Duration
	P90 time.Duration
	P99 time.Duration
	Max time.Duration
}

// Summarize builds a summary of res with engines sorted by name.
func Summarize(res *benchmark.BenchmarkResult) *Summary {
	s := &Summary{
		RunID:    res.RunID,
		Name:     res.Name,
		Duration: res.Duration,
	}

	names := make([]string, 0, len(res.Engines))
	for name := range res.Engines {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s.Engines = append(s.Engines, summarizeEngine(name, res.Engines[name]))
	}
	return s
}

func summarizeEngine(name string, er *benchmark.EngineResult) EngineSummary {
	es := EngineSummary{
		Engine:    name,
		Error:     er.Error,
		TestCases: len(er.TestCases),
	}
	histogram := hdrhistogram.New(1, maxLatencyMicros, 3)
	var lastErr error

	for _, tcr := range er.TestCases {
		for _, o := range tcr.Queries {
			es.Outcomes++
			switch o.Classification {
			case benchmark.ClassificationNone:
				es.Succeeded++
				micros := min(o.Elapsed.Microseconds(), maxLatencyMicros)
				var err error
				if micros < 0 {
					err = fmt.Errorf("negative latency %s", o.Elapsed)
				} else {
					err = histogram.RecordValue(micros)
				}
				if err != nil {
					es.Unrecorded++
					lastErr = err
				}
			case benchmark.ClassificationTimeout:
				es.Timeouts++
			case benchmark.ClassificationResourceExhausted:
				es.Exhausted++
			default:
				es.Errors++
			}
		}
	}

	if es.Unrecorded > 0 {
		slog.Debug("latency samples left out of percentiles",
			"engine", name,
			"samples", es.Unrecorded,
			"error", lastErr,
		)
	}

	if histogram.TotalCount() > 0 {
		es.P50 = micros(histogram.ValueAtQuantile(50))
		es.P90 = micros(histogram.ValueAtQuantile(90))
		es.P99 = micros(histogram.ValueAtQuantile(99))
		es.Max = micros(histogram.Max())
	}
	return es
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}
