package mcp

import (
	"fmt"
	"path/filepath"
	"strings"
)

// resolveRunPath returns the directory of a run below outputDir.
func resolveRunPath(outputDir, runID string) (string, error) {
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run_id is required")
	}
	if err := checkBareName(runID); err != nil {
		return "", err
	}
	return resolvePathWithinBase(outputDir, runID)
}

// resolveConfigPath returns the path of a configuration file in configDir.
func resolveConfigPath(configDir, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("config is required")
	}
	if err := checkBareName(name); err != nil {
		return "", err
	}
	return resolvePathWithinBase(configDir, name)
}

func checkBareName(name string) error {
	if strings.Contains(name, string(filepath.Separator)) || strings.Contains(name, "/") {
		return fmt.Errorf("path separators are not allowed")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("path traversal is not allowed")
	}
	return nil
}

func resolvePathWithinBase(baseDir, pathValue string) (string, error) {
	baseAbs, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}
	target := pathValue
	if !filepath.IsAbs(target) {
		target = filepath.Join(baseAbs, target)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	rel, err := filepath.Rel(baseAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("failed to resolve relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path must be within %s", baseDir)
	}
	return targetAbs, nil
}
