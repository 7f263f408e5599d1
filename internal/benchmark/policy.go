package benchmark

import "time"

const (
	// DefaultRepetitions runs every query cold once and warm once.
	DefaultRepetitions = 2
	// DefaultQueryTimeout is the per-query deadline when none is configured.
	DefaultQueryTimeout = 15 * time.Minute
)

// Policy controls how queries are repeated and when repetitions stop.
type Policy struct {
	Repetitions  int           `yaml:"repetitions" json:"repetitions"`
	QueryTimeout time.Duration `yaml:"query_timeout" json:"query_timeout"`
	// ResourceExhaustedTerminal stops the remaining repetitions of a query
	// once one of them exhausted engine resources.
	ResourceExhaustedTerminal bool `yaml:"resource_exhausted_terminal" json:"resource_exhausted_terminal"`
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		Repetitions:               DefaultRepetitions,
		QueryTimeout:              DefaultQueryTimeout,
		ResourceExhaustedTerminal: true,
	}
}

// PolicyOverride holds per-engine overrides. Zero values keep the base policy.
type PolicyOverride struct {
	Repetitions               int           `yaml:"repetitions,omitempty" json:"repetitions,omitempty"`
	QueryTimeout              time.Duration `yaml:"query_timeout,omitempty" json:"query_timeout,omitempty"`
	ResourceExhaustedTerminal *bool         `yaml:"resource_exhausted_terminal,omitempty" json:"resource_exhausted_terminal,omitempty"`
}

// With returns p with the non-zero fields of o applied.
func (p Policy) With(o PolicyOverride) Policy {
	if o.Repetitions > 0 {
		p.Repetitions = o.Repetitions
	}
	if o.QueryTimeout > 0 {
		p.QueryTimeout = o.QueryTimeout
	}
	if o.ResourceExhaustedTerminal != nil {
		p.ResourceExhaustedTerminal = *o.ResourceExhaustedTerminal
	}
	return p
}

// normalized fills unset fields with defaults.
func (p Policy) normalized() Policy {
	if p.Repetitions <= 0 {
		p.Repetitions = DefaultRepetitions
	}
	if p.QueryTimeout <= 0 {
		p.QueryTimeout = DefaultQueryTimeout
	}
	return p
}

// timeoutFor returns the deadline of q, falling back to the policy timeout.
func (p Policy) timeoutFor(q Query) time.Duration {
	if q.Timeout > 0 {
		return time.Duration(q.Timeout)
	}
	return p.QueryTimeout
}

// ServerConfig describes an out-of-process engine server that must be running
// while the engine is benchmarked.
type ServerConfig struct {
	Image        string            `yaml:"image" json:"image"`
	Port         int32             `yaml:"port" json:"port"`
	Args         []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env          map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	ReadyTimeout time.Duration     `yaml:"ready_timeout,omitempty" json:"ready_timeout,omitempty"`
}

// EngineConfig is one configured engine: a registry type, a unique display
// name and adapter specific settings.
type EngineConfig struct {
	Name      string         `yaml:"name" json:"name"`
	Type      string         `yaml:"type" json:"type"`
	Settings  map[string]any `yaml:"settings,omitempty" json:"settings,omitempty"`
	Execution PolicyOverride `yaml:"execution,omitempty" json:"execution,omitempty"`
	Server    *ServerConfig  `yaml:"server,omitempty" json:"server,omitempty"`
}

// kind returns the registry key, defaulting to the engine name.
func (c EngineConfig) kind() string {
	if c.Type != "" {
		return c.Type
	}
	return c.Name
}
