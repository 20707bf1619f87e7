package agent

import (
	"sync"
)

// Type is one registered agent type. ThreadSafe is a property of the type,
// never of an instance: a type is either always cache-eligible or never.
type Type struct {
	// Name is the key recorded in agent state and used at instantiation.
	Name string
	// New constructs an unbound instance.
	New func() Agent
	// ThreadSafe marks instances as safe for concurrent dispatch. Only
	// thread-safe types are ever cached and shared between requests.
	ThreadSafe bool
}

// Registry maps type names to agent factories.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Type
}

// NewRegistry creates an empty registry (useful for testing).
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]Type)}
}

// Register adds an agent type. Registering a duplicate or incomplete type
// panics, so wiring mistakes surface at process start.
func (r *Registry) Register(t Type) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.Name == "" {
		panic("agent: Register with empty type name")
	}
	if t.New == nil {
		panic("agent: Register with nil constructor for type " + t.Name)
	}
	if _, dup := r.types[t.Name]; dup {
		panic("agent: Register called twice for type " + t.Name)
	}
	r.types[t.Name] = t
}

// Lookup returns the type registered under name.
func (r *Registry) Lookup(name string) (Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Names returns every registered type name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	return names
}

var defaultRegistry = NewRegistry()

// Register adds an agent type to the default registry.
func Register(t Type) {
	defaultRegistry.Register(t)
}

// Lookup returns a type from the default registry.
func Lookup(name string) (Type, bool) {
	return defaultRegistry.Lookup(name)
}

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}
