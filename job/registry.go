package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is the erased form of a handler: raw payload in, error out.
// Workers only ever see this shape; the typed Definition[T] is erased at
// registration time.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Registry holds the handler for each job type. All methods are safe for
// concurrent use; registration normally happens once at startup but the
// lock makes late registration safe too.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// RegisterDefinition erases def and stores it under its type name. A
// later registration for the same type replaces the earlier one. It is a
// free function because methods cannot introduce type parameters.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	erased := func(ctx context.Context, payload []byte) error {
		var value T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &value); err != nil {
				return fmt.Errorf("unmarshal payload for job type %q: %w", def.Type, err)
			}
		}
		return def.Handler(ctx, value)
	}

	r.mu.Lock()
	r.handlers[def.Type] = erased
	r.mu.Unlock()
}

// Get looks up the handler for jobType. The second result is false when
// nothing is registered under that name.
func (r *Registry) Get(jobType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types lists the registered job type names in no particular order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
