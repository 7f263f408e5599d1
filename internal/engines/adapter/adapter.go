// Package adapter holds helpers shared by the engine adapters.
package adapter

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kev-ang/ruben/internal/benchmark"
)

// SettingDataFolder overrides the folder below the data root holding an
// engine's test data.
const SettingDataFolder = "data_folder"

// Settings is the key/value configuration of one engine.
type Settings map[string]any

// String returns the string value of key, or def when unset.
func (s Settings) String(key, def string) string {
	v, ok := s[key]
	if !ok || v == nil {
		return def
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

// Int returns the integer value of key, or def when unset.
func (s Settings) Int(key string, def int) (int, error) {
	v, ok := s[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("setting %s: %v is not an integer", key, v)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("setting %s: %w", key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("setting %s: unsupported type %T", key, v)
	}
}

// Bool returns the boolean value of key, or def when unset.
func (s Settings) Bool(key string, def bool) (bool, error) {
	v, ok := s[key]
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("setting %s: %w", key, err)
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("setting %s: unsupported type %T", key, v)
	}
}

// Duration returns the duration value of key, or def when unset.
func (s Settings) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := s[key]
	if !ok || v == nil {
		return def, nil
	}
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("setting %s: %w", key, err)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("setting %s: unsupported type %T", key, v)
	}
}

// Required returns the string value of key or an error when it is empty.
func (s Settings) Required(key string) (string, error) {
	v := s.String(key, "")
	if v == "" {
		return "", fmt.Errorf("setting %s is required", key)
	}
	return v, nil
}

// Base implements the naming and settings part of benchmark.Engine.
type Base struct {
	name     string
	Settings Settings
}

// NewBase returns a Base for an engine with the given display name.
func NewBase(name string) Base {
	return Base{name: name, Settings: Settings{}}
}

// Name returns the display name.
func (b *Base) Name() string { return b.name }

// Configure stores the settings.
func (b *Base) Configure(settings map[string]any) error {
	if settings == nil {
		settings = map[string]any{}
	}
	b.Settings = settings
	return nil
}

// DataFolder returns the configured data folder, empty for the default.
func (b *Base) DataFolder() string {
	return b.Settings.String(SettingDataFolder, "")
}

// File returns the path of a test case file for this engine.
func (b *Base) File(dataRoot string, tc benchmark.TestCase, suffix string) string {
	folder := b.DataFolder()
	if folder == "" {
		folder = b.name
	}
	return tc.File(dataRoot, folder, suffix)
}

// ReadOptional reads a test case file, returning nil data when it is absent.
func (b *Base) ReadOptional(dataRoot string, tc benchmark.TestCase, suffix string) ([]byte, error) {
	data, err := os.ReadFile(b.File(dataRoot, tc, suffix))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s file: %w", suffix, err)
	}
	return data, nil
}
