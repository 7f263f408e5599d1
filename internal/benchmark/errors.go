package benchmark

import (
	"errors"
	"fmt"
)

// ErrResourceExhausted is wrapped by adapters when a call ran out of memory or
// another bounded resource.
var ErrResourceExhausted = errors.New("resource exhausted")

// ConfigurationError is returned for unparseable or missing configuration,
// test case or query files.
type ConfigurationError struct {
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid configuration %s: %v", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// UnknownEngineTypeError is returned when no factory is registered for a type.
type UnknownEngineTypeError struct {
	Type string
}

func (e *UnknownEngineTypeError) Error() string {
	return fmt.Sprintf("unknown engine type %q", e.Type)
}

// PreparationError wraps a failure to load test data or rules.
type PreparationError struct {
	Engine   string
	TestCase string
	Err      error
}

func (e *PreparationError) Error() string {
	return fmt.Sprintf("engine %s failed to prepare %s: %v", e.Engine, e.TestCase, e.Err)
}

func (e *PreparationError) Unwrap() error { return e.Err }

// MaterializationError wraps a failure to compute the closure of a test case.
type MaterializationError struct {
	Engine   string
	TestCase string
	Err      error
}

func (e *MaterializationError) Error() string {
	return fmt.Sprintf("engine %s failed to materialize %s: %v", e.Engine, e.TestCase, e.Err)
}

func (e *MaterializationError) Unwrap() error { return e.Err }

// QueryError is an adapter fault while evaluating a query.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %q failed: %v", e.Query, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// ResourceExhaustedError is an adapter call that exhausted a bounded resource.
// It matches ErrResourceExhausted with errors.Is.
type ResourceExhaustedError struct {
	Resource string
	Err      error
}

func (e *ResourceExhaustedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s exhausted", e.Resource)
	}
	return fmt.Sprintf("%s exhausted: %v", e.Resource, e.Err)
}

func (e *ResourceExhaustedError) Unwrap() error { return e.Err }

func (e *ResourceExhaustedError) Is(target error) bool {
	return target == ErrResourceExhausted
}

// PanicError is a recovered panic from an adapter call.
type PanicError struct {
	Op    string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Op, e.Value)
}

// Classify maps an adapter error to an outcome classification.
func Classify(err error) Classification {
	switch {
	case err == nil:
		return ClassificationNone
	case errors.Is(err, ErrResourceExhausted):
		return ClassificationResourceExhausted
	default:
		return ClassificationEngineError
	}
}
