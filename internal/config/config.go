// Package config loads benchmark configuration files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kev-ang/ruben/internal/benchmark"
)

// Output formats understood by the result writers.
const (
	FormatJSON   = "json"
	FormatCSV    = "csv"
	FormatSQLite = "sqlite"
)

// Benchmark is a loaded benchmark configuration.
type Benchmark struct {
	Name         string                   `yaml:"name"`
	TestDataPath string                   `yaml:"test_data_path"`
	Engines      []benchmark.EngineConfig `yaml:"engines"`
	TestCases    []benchmark.TestCase     `yaml:"test_cases"`
	Execution    benchmark.PolicyOverride `yaml:"execution"`
	Output       Output                   `yaml:"output"`

	// Path is the file the configuration was loaded from.
	Path string `yaml:"-"`
}

// Output configures where and how results are written.
type Output struct {
	Dir        string   `yaml:"dir"`
	Formats    []string `yaml:"formats"`
	SQLitePath string   `yaml:"sqlite_path"`
}

// Policy returns the execution policy with configured overrides applied.
func (b *Benchmark) Policy() benchmark.Policy {
	return benchmark.DefaultPolicy().With(b.Execution)
}

// HasFormat reports whether results should be written in format f.
func (b *Benchmark) HasFormat(f string) bool {
	for _, format := range b.Output.Formats {
		if format == f {
			return true
		}
	}
	return false
}

// CheckEngineTypes returns an error naming every engine whose type is not
// registered.
func (b *Benchmark) CheckEngineTypes(reg *benchmark.Registry) error {
	var unknown []string
	for _, e := range b.Engines {
		kind := e.Type
		if kind == "" {
			kind = e.Name
		}
		if !reg.Has(kind) {
			unknown = append(unknown, fmt.Sprintf("%s (type %q)", e.Name, kind))
		}
	}
	if len(unknown) > 0 {
		return &benchmark.ConfigurationError{
			Path: b.Path,
			Err:  fmt.Errorf("unknown engine types: %s", strings.Join(unknown, ", ")),
		}
	}
	return nil
}

// Load reads, validates and normalizes a benchmark configuration. YAML and
// JSON files are accepted. A .env file next to the configuration is loaded
// first and ${VAR} references in the file are expanded from the environment.
func Load(path string) (*Benchmark, error) {
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, &benchmark.ConfigurationError{Path: envFile, Err: err}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &benchmark.ConfigurationError{Path: path, Err: err}
	}
	return Parse(path, []byte(os.ExpandEnv(string(data))))
}

// Parse validates and decodes configuration data. path is used to resolve
// a relative test data path and in error messages.
func Parse(path string, data []byte) (*Benchmark, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &benchmark.ConfigurationError{Path: path, Err: err}
	}
	if err := Validate(raw); err != nil {
		return nil, &benchmark.ConfigurationError{Path: path, Err: err}
	}

	var cfg Benchmark
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &benchmark.ConfigurationError{Path: path, Err: err}
	}
	cfg.Path = path
	cfg.applyDefaults()

	seen := make(map[string]bool, len(cfg.Engines))
	for _, e := range cfg.Engines {
		if seen[e.Name] {
			slog.Warn("engine name used more than once, only the last engine's results are kept", "engine", e.Name)
		}
		seen[e.Name] = true
	}

	return &cfg, nil
}

func (b *Benchmark) applyDefaults() {
	if b.Name == "" {
		b.Name = strings.TrimSuffix(filepath.Base(b.Path), filepath.Ext(b.Path))
	}
	if b.TestDataPath != "" && !filepath.IsAbs(b.TestDataPath) && b.Path != "" {
		b.TestDataPath = filepath.Join(filepath.Dir(b.Path), b.TestDataPath)
	}
	if b.Output.Dir == "" {
		b.Output.Dir = "results"
	}
	if len(b.Output.Formats) == 0 {
		b.Output.Formats = []string{FormatJSON, FormatCSV}
	}
	if b.Output.SQLitePath == "" {
		b.Output.SQLitePath = filepath.Join(b.Output.Dir, "ruben.db")
	}
}

// List returns the benchmark configuration files in dir, sorted by name.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read config directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml", ".json":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
