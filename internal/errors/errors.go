package errors

import (
	"fmt"
	"strings"
)

// Category classifies engine errors so callers can decide between
// retrying, surfacing, or quarantining.
type Category string

const (
	// CategoryInvariant means ledger consistency was broken. Fatal for the
	// affected instrument lane; the lane is quarantined pending manual review.
	CategoryInvariant Category = "INVARIANT"

	// CategoryRetryable covers transient exchange failures: network errors,
	// timeouts, rate limits. Eligible for bounded backoff.
	CategoryRetryable Category = "RETRYABLE"

	// CategoryRejected covers hard exchange rejections: invalid price or
	// size, insufficient margin. Never retried.
	CategoryRejected Category = "REJECTED"

	// CategoryProtective means a stop-loss or take-profit order could not be
	// placed and the position is running unprotected.
	CategoryProtective Category = "PROTECTIVE"

	// CategoryStrategy marks failures isolated to a single strategy
	// invocation. They never propagate to other strategies or instruments.
	CategoryStrategy Category = "STRATEGY"

	CategoryConfig  Category = "CONFIG"
	CategoryNetwork Category = "NETWORK"
	CategoryTimeout Category = "TIMEOUT"
)

// EngineError is a categorized error with enough context to route it to the
// right recovery path.
type EngineError struct {
	Category   Category
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]interface{}
	Retryable  bool
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s in %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s in %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *EngineError) Unwrap() error {
	return e.Underlying
}

// IsRetryable returns whether this error can be retried
func (e *EngineError) IsRetryable() bool {
	return e.Retryable
}

// IsFatal returns whether this error should stop the affected lane
func (e *EngineError) IsFatal() bool {
	return e.Category == CategoryInvariant || e.Category == CategoryConfig
}

// New creates a new categorized engine error
func New(category Category, component, operation, message string) *EngineError {
	return &EngineError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
		Retryable: isRetryableCategory(category),
	}
}

// Wrap wraps an existing error with engine error context
func Wrap(err error, category Category, component, operation string) *EngineError {
	if err == nil {
		return nil
	}

	return &EngineError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Context:    make(map[string]interface{}),
		Retryable:  isRetryableCategory(category),
	}
}

// WithContext adds context information to the error
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRetryable sets the retryable flag
func (e *EngineError) WithRetryable(retryable bool) *EngineError {
	e.Retryable = retryable
	return e
}

func isRetryableCategory(category Category) bool {
	switch category {
	case CategoryRetryable, CategoryNetwork, CategoryTimeout:
		return true
	case CategoryInvariant, CategoryRejected, CategoryConfig:
		return false
	default:
		return false
	}
}

// IsCategory reports whether err is an EngineError of the given category.
func IsCategory(err error, category Category) bool {
	if ee, ok := err.(*EngineError); ok {
		return ee.Category == category
	}
	return false
}

// ContextString renders the error context map for log lines.
func (e *EngineError) ContextString() string {
	if len(e.Context) == 0 {
		return ""
	}
	parts := make([]string, 0, len(e.Context))
	for k, v := range e.Context {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, " ")
}
