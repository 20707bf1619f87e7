// Package file provides the file-backed state store. Each agent's state is
// one JSON document under the base directory:
//
//	<base>/
//	  └── <agent-id>.json
//
// Writes flush the whole document; agent state is small by design.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/agentgrid-dev/agentgrid/state"
)

func init() {
	state.Register("FileStateFactory", func(params map[string]any) (state.Store, error) {
		dir, _ := params["path"].(string)
		return New(dir)
	})
	state.Deprecate("FileContextFactory", "FileStateFactory")
}

// ErrInvalidID is returned when an agent id is unsafe as a path component.
var ErrInvalidID = errors.New("invalid agent id: contains path separator or traversal sequence")

func validateID(id string) error {
	if id == "" {
		return errors.New("agent id cannot be empty")
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return ErrInvalidID
	}
	return nil
}

// Store persists one JSON file per agent id.
type Store struct {
	baseDir string
	mu      sync.Mutex
}

// New creates a file store rooted at baseDir. An empty baseDir defaults to
// ~/.agentgrid/state.
func New(baseDir string) (*Store, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".agentgrid", "state")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &Store{baseDir: baseDir}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.baseDir, id+".json")
}

// Exists reports whether a state file exists for id.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat state file: %w", err)
}

// Create allocates an empty state file for id, failing when it exists.
func (s *Store) Create(ctx context.Context, id string) (state.State, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// O_EXCL makes create-on-existing an error, not an overwrite.
	f, err := os.OpenFile(s.path(id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600) // #nosec G304 - id validated above
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("create state %q: %w", id, state.ErrExists)
		}
		return nil, fmt.Errorf("create state file: %w", err)
	}

	st := &agentState{id: id, path: s.path(id), values: make(map[string]any)}
	if err := st.flushLocked(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close state file: %w", err)
	}
	return st, nil
}

// Get loads the state for id from disk.
func (s *Store) Get(ctx context.Context, id string) (state.State, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(id)) // #nosec G304 - id validated above
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("get state %q: %w", id, state.ErrNotFound)
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	values := make(map[string]any)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("parse state file %q: %w", id, err)
		}
	}
	return &agentState{id: id, path: s.path(id), values: values}, nil
}

// Delete removes the state file for id. Absent ids are a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state file: %w", err)
	}
	return nil
}

// AllIDs enumerates every agent id with a state file.
func (s *Store) AllIDs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read base directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// Close is a no-op; files are flushed on every write.
func (s *Store) Close() error { return nil }

// agentState is one agent's state document, flushed to disk on every write.
type agentState struct {
	id     string
	path   string
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
	return a.mutate(func() { a.values[key] = value })
}

func (a *agentState) Remove(key string) error {
	if state.Reserved(key) {
		return fmt.Errorf("remove %q: %w", key, state.ErrReservedKey)
	}
	return a.mutate(func() { delete(a.values, key) })
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
	return a.mutate(func() { a.values[state.TypeKey] = agentType })
}

func (a *agentState) mutate(apply func()) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	apply()
	return a.flush()
}

func (a *agentState) flush() error {
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600) // #nosec G304 - path built from validated id
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	if err := a.flushLocked(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close state file: %w", err)
	}
	return nil
}

func (a *agentState) flushLocked(f *os.File) error {
	data, err := json.MarshalIndent(a.values, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}
