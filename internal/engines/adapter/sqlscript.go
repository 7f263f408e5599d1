package adapter

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Fact is one row of a fact file: the target table and its column values.
type Fact struct {
	Table  string
	Values []string
}

// Placeholders returns n positional placeholders built by mark, for example
// "$1, $2" or "?, ?".
func Placeholders(n int, mark func(i int) string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = mark(i + 1)
	}
	return strings.Join(parts, ", ")
}

// SplitStatements splits a SQL script into statements. Statements end with a
// semicolon at the end of a line; lines starting with "--" are comments.
func SplitStatements(script []byte) []string {
	var (
		statements []string
		current    strings.Builder
	)
	scanner := bufio.NewScanner(bytes.NewReader(script))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
		if strings.HasSuffix(line, ";") {
			if stmt := strings.TrimSpace(strings.TrimSuffix(current.String(), ";")); stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
		}
	}
	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}

// ParseFacts reads semicolon separated fact lines of the form
// table;value1;value2. Empty lines are skipped.
func ParseFacts(data []byte) ([]Fact, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = ';'
	r.FieldsPerRecord = -1
	r.Comment = '#'

	var facts []Fact
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return facts, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse facts: %w", err)
		}
		if len(record) < 2 || strings.TrimSpace(record[0]) == "" {
			line, _ := r.FieldPos(0)
			return nil, fmt.Errorf("line %d: fact needs a table and at least one value", line)
		}
		facts = append(facts, Fact{Table: strings.TrimSpace(record[0]), Values: record[1:]})
	}
}

// CountQuery wraps a SELECT so that it returns the number of result rows.
func CountQuery(query string) string {
	q := strings.TrimSpace(query)
	q = strings.TrimRight(q, "; \n\t")
	return "SELECT COUNT(*) FROM (" + q + ") AS ruben_q"
}
