package server

import (
	"github.com/kev-ang/ruben/internal/benchmark"
	"github.com/kev-ang/ruben/internal/kube"
	"github.com/kev-ang/ruben/internal/metrics"
	"github.com/kev-ang/ruben/internal/results"
)

// ServerContext holds shared dependencies for MCP tool handlers.
type ServerContext struct {
	Registry    *benchmark.Registry
	Provisioner *kube.Provisioner // nil when not running against a cluster
	Store       *results.Store    // optional run store
	Recorder    *metrics.Recorder
	ConfigDir   string
	OutputDir   string
}
