package results

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kev-ang/ruben/internal/benchmark"
)

var csvHeader = []string{"Query", "NrResults", "Time (in ms)", "Exception"}

// CSVWriter writes one semicolon-separated file per engine and test case,
// named <engine>_<testcase>.csv.
type CSVWriter struct {
	Dir string
}

func (w CSVWriter) Write(_ context.Context, res *benchmark.BenchmarkResult) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	for _, engineName := range SortedKeys(res.Engines) {
		er := res.Engines[engineName]
		for _, tcName := range SortedKeys(er.TestCases) {
			name := sanitizeFilename(fmt.Sprintf("%s_%s.csv", engineName, tcName))
			if err := writeCSVFile(filepath.Join(w.Dir, name), er.TestCases[tcName]); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeCSVFile(path string, r *benchmark.TestCaseResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := WriteCSV(f, r); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// WriteCSV writes the outcomes of one test case. NrResults is empty and
// Exception set for failed attempts.
func WriteCSV(w io.Writer, r *benchmark.TestCaseResult) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'

	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, o := range SortedOutcomes(r) {
		count := ""
		if n, ok := o.ResultCount(); ok {
			count = strconv.Itoa(n)
		}
		exception := ""
		if !o.Succeeded() {
			exception = o.Message
			if exception == "" {
				exception = string(o.Classification)
			}
		}
		row := []string{
			benchmark.OutcomeKey(o.Query, o.Repetition),
			count,
			strconv.FormatInt(o.Elapsed.Milliseconds(), 10),
			exception,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
