// Package state defines the per-agent persistence contract and the registry
// of pluggable store backends.
//
// Every agent owns exactly one State: an isolated key/value map plus one
// reserved slot recording the agent's concrete type, so the agent can be
// reconstructed from storage. Keys starting with "_" are reserved for the
// runtime and rejected on Put/Remove.
package state

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no state exists for an agent id.
	ErrNotFound = errors.New("agent state not found")
	// ErrExists is returned by Create when the agent id already has state.
	ErrExists = errors.New("agent state already exists")
	// ErrReservedKey is returned on writes to a runtime-reserved key.
	ErrReservedKey = errors.New("reserved state key")
)

// TypeKey is the reserved slot holding the agent's registered type name.
const TypeKey = "_type"

// State is an agent-scoped mutable key/value map. A State is owned by exactly
// one agent id and is never shared between agents. Implementations must be
// safe for concurrent use: thread-safe agent types may be invoked from
// multiple dispatches at once.
type State interface {
	// AgentID returns the id of the owning agent.
	AgentID() string

	// Init prepares the state for use after construction or load.
	Init() error

	// Get returns the decoded value for key, reporting whether it exists.
	Get(key string) (any, bool)

	// GetString returns the value for key if it is a string.
	GetString(key string) (string, bool)

	// Decode binds the value for key into v through a JSON round-trip.
	// Returns false when the key is absent.
	Decode(key string, v any) (bool, error)

	// Put stores value under key. Values must be JSON-marshalable.
	Put(key string, value any) error

	// Remove deletes key. Removing an absent key is a no-op.
	Remove(key string) error

	// Contains reports whether key is present.
	Contains(key string) bool

	// AgentType returns the recorded agent type, or "" when missing.
	AgentType() string

	// SetAgentType records the agent's concrete type in the reserved slot.
	SetAgentType(agentType string) error
}

// Store is the pluggable persistence backend supplying one State per agent id.
// Implementations must be safe for concurrent use.
type Store interface {
	// Exists reports whether state exists for id without loading it.
	Exists(ctx context.Context, id string) (bool, error)

	// Create allocates empty state for id. Fails with ErrExists when the id
	// already has state recorded; a create is never an overwrite.
	Create(ctx context.Context, id string) (State, error)

	// Get loads the state for id. Returns ErrNotFound when absent.
	Get(ctx context.Context, id string) (State, error)

	// Delete removes all state for id. Deleting an absent id is a no-op.
	Delete(ctx context.Context, id string) error

	// AllIDs enumerates every agent id known to this store.
	AllIDs(ctx context.Context) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// Reserved reports whether key is runtime-reserved.
func Reserved(key string) bool {
	return len(key) > 0 && key[0] == '_'
}
