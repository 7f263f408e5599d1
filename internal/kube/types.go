package kube

import (
	"time"

	"github.com/kev-ang/ruben/internal/benchmark"
)

// ServerSpec describes an engine server to run in the cluster.
type ServerSpec struct {
	// Engine is the display name of the engine the server belongs to.
	Engine string

	// Image is the container image of the engine server.
	Image string

	// Port is the port the server listens on.
	Port int32

	// Args are passed to the container.
	Args []string

	// Env is set in the container environment.
	Env map[string]string

	// ReadyTimeout is how long to wait for the server to become available.
	ReadyTimeout time.Duration
}

// SpecFor derives a server spec from an engine configuration.
func SpecFor(cfg benchmark.EngineConfig) ServerSpec {
	return ServerSpec{
		Engine:       cfg.Name,
		Image:        cfg.Server.Image,
		Port:         cfg.Server.Port,
		Args:         cfg.Server.Args,
		Env:          cfg.Server.Env,
		ReadyTimeout: cfg.Server.ReadyTimeout,
	}
}

// ServerStatus is the observed state of a provisioned engine server.
type ServerStatus struct {
	Name      string `json:"name"`
	Engine    string `json:"engine"`
	Ready     bool   `json:"ready"`
	Endpoint  string `json:"endpoint,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	Message   string `json:"message,omitempty"`
}
