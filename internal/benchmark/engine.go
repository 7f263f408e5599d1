package benchmark

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Engine is the lifecycle contract of a pluggable reasoning backend.
//
// An engine is driven by a single goroutine at a time: test cases run
// sequentially and ExecuteQuery is only ever called from the test case's
// worker. ShutDown must be safe to call after any earlier step failed.
type Engine interface {
	Name() string
	Configure(settings map[string]any) error
	// Prepare loads the test case data and rules into engine-native form.
	Prepare(ctx context.Context, dataRoot string, tc TestCase) error
	// ExecuteQuery evaluates one query and returns the number of results.
	// Implementations should return when ctx is cancelled if they can.
	ExecuteQuery(ctx context.Context, query string) (int, error)
	// CleanUp releases test case state before the next test case starts.
	CleanUp(ctx context.Context) error
	// ShutDown releases engine-wide resources. It is called exactly once.
	ShutDown(ctx context.Context) error
}

// Materializer is implemented by engines with a separate phase computing
// every derivable fact before queries run.
type Materializer interface {
	Materialize(ctx context.Context, dataRoot string, tc TestCase) error
}

// DataFolderer is implemented by engines whose test data folder differs from
// the engine name.
type DataFolderer interface {
	DataFolder() string
}

// DataFolder returns the folder below the data root holding e's test data.
func DataFolder(e Engine) string {
	if df, ok := e.(DataFolderer); ok && df.DataFolder() != "" {
		return df.DataFolder()
	}
	return e.Name()
}

// Factory creates an unconfigured engine with the given display name.
type Factory func(name string) Engine

// Registry maps engine type keys to factories. Keys are case-insensitive.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory, replacing any previous one for the same type.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(kind)] = f
}

// New creates an engine of the given type.
func (r *Registry) New(kind, name string) (Engine, error) {
	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(kind)]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownEngineTypeError{Type: kind}
	}
	e := f(name)
	if e == nil {
		return nil, fmt.Errorf("factory for %q returned no engine", kind)
	}
	return e, nil
}

// Has reports whether a factory is registered for kind.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[strings.ToLower(kind)]
	return ok
}

// Types returns the registered type keys, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for k := range r.factories {
		types = append(types, k)
	}
	sort.Strings(types)
	return types
}
