// Package memory provides the in-process state store. State lives only for
// the lifetime of the process; it is the default backend and the one used by
// most tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agentgrid-dev/agentgrid/state"
)

func init() {
	state.Register("MemoryStateFactory", func(params map[string]any) (state.Store, error) {
		return New(), nil
	})
	state.Deprecate("MemoryContextFactory", "MemoryStateFactory")
}

// Store keeps every agent's state in a process-local map.
type Store struct {
	mu     sync.RWMutex
	agents map[string]*agentState
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{agents: make(map[string]*agentState)}
}

// Exists reports whether state exists for id.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.agents[id]
	return ok, nil
}

// Create allocates empty state for id, failing when it already exists.
func (s *Store) Create(ctx context.Context, id string) (state.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[id]; ok {
		return nil, fmt.Errorf("create state %q: %w", id, state.ErrExists)
	}
	st := &agentState{id: id, values: make(map[string]any)}
	s.agents[id] = st
	return st, nil
}

// Get loads the state for id.
func (s *Store) Get(ctx context.Context, id string) (state.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("get state %q: %w", id, state.ErrNotFound)
	}
	return st, nil
}

// Delete removes the state for id. Absent ids are a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, id)
	return nil
}

// AllIDs enumerates every agent id in the store.
func (s *Store) AllIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	return ids, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

// agentState is one agent's key/value map.
type agentState struct {
	id     string
	mu     sync.RWMutex
	values map[string]any
}

func (a *agentState) AgentID() string { return a.id }

func (a *agentState) Init() error { return nil }

func (a *agentState) Get(key string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.values[key]
	return v, ok
}

func (a *agentState) GetString(key string) (string, bool) {
	v, ok := a.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (a *agentState) Decode(key string, v any) (bool, error) {
	raw, ok := a.Get(key)
	if !ok {
		return false, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return true, fmt.Errorf("marshal state key %q: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("unmarshal state key %q: %w", key, err)
	}
	return true, nil
}

func (a *agentState) Put(key string, value any) error {
	if state.Reserved(key) {
		return fmt.Errorf("put %q: %w", key, state.ErrReservedKey)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[key] = value
	return nil
}

func (a *agentState) Remove(key string) error {
	if state.Reserved(key) {
		return fmt.Errorf("remove %q: %w", key, state.ErrReservedKey)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.values, key)
	return nil
}

func (a *agentState) Contains(key string) bool {
	_, ok := a.Get(key)
	return ok
}

func (a *agentState) AgentType() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, _ := a.values[state.TypeKey].(string)
	return t
}

func (a *agentState) SetAgentType(agentType string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[state.TypeKey] = agentType
	return nil
}
