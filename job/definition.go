package job

import "context"

// Definition is a typed handler for one job type.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Type is the job type this definition handles.
	Type string

	// Handler is the function that processes the job payload. A nil error
	// completes the job; any error counts the attempt as failed.
	Handler func(ctx context.Context, payload T) error
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](jobType string, handler func(ctx context.Context, payload T) error) *Definition[T] {
	return &Definition[T]{Type: jobType, Handler: handler}
}
