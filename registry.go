package calcgraph

import (
	"log"
	"sync"
)

// Registry holds the declared operations keyed by output name. Registering
// an operation whose output name is already bound replaces the prior
// binding (last write wins); replacements are logged so accidental
// collisions are visible.
//
// The Registry is safe for concurrent reads. Mutation is guarded, but
// re-registering operations concurrently with in-flight compilations is not
// a designed-for usage pattern: compilations work on a snapshot taken at
// query start.
type Registry struct {
	mu       sync.RWMutex
	ops      map[string]Operation
	replaced int
}

// NewRegistry creates an empty operation registry.
func NewRegistry() *Registry {
	return &Registry{
		ops: make(map[string]Operation),
	}
}

// Register inserts the operation, replacing any prior operation with the
// same output name.
func (r *Registry) Register(op Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ops[op.Output]; exists {
		r.replaced++
		log.Printf("Registry: output %q re-registered, previous binding replaced (total replacements: %d)", op.Output, r.replaced)
	}
	r.ops[op.Output] = op
}

// RegisterAll registers every operation in the slice, in order.
func (r *Registry) RegisterAll(ops []Operation) {
	for _, op := range ops {
		r.Register(op)
	}
}

// Lookup returns the operation producing the given output name.
func (r *Registry) Lookup(name string) (Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[name]
	return op, ok
}

// Len returns the number of registered operations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ops)
}

// Outputs returns the output names of all registered operations, in
// unspecified order.
func (r *Registry) Outputs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	return names
}

// Snapshot returns a copy of the current bindings. Traversal and
// compilation operate on a snapshot so a query never observes a partially
// applied batch of registrations.
func (r *Registry) Snapshot() map[string]Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := make(map[string]Operation, len(r.ops))
	for name, op := range r.ops {
		snap[name] = op
	}
	return snap
}
