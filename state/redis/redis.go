// Package redis provides the Redis-backed state store, suitable for hosts
// whose agents must survive process restarts or be shared across nodes.
//
// Layout: one hash per agent id at <prefix><id>, fields holding JSON-encoded
// values, plus a set at <prefix>ids indexing every agent id.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentgrid-dev/agentgrid/state"
)

func init() {
	state.Register("RedisStateFactory", func(params map[string]any) (state.Store, error) {
		cfg := Config{}
		if addr, ok := params["addr"].(string); ok {
			cfg.Addr = addr
		}
		if password, ok := params["password"].(string); ok {
			cfg.Password = password
		}
		if db, ok := params["db"].(int); ok {
			cfg.DB = db
		}
		if prefix, ok := params["prefix"].(string); ok {
			cfg.Prefix = prefix
		}
		return New(cfg)
	})
}

const opTimeout = 5 * time.Second

// createdField marks a hash as allocated so empty state still exists.
const createdField = "_created"

// Config holds Redis connection configuration.
type Config struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all agent state keys (default: "agentgrid:state:").
	Prefix string
}

// Store implements state.Store on a Redis server.
type Store struct {
	client *redis.Client
	prefix string
	mu     sync.RWMutex
	closed bool
}

// New connects to Redis and verifies the connection.
func New(cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromClient(client, cfg.Prefix), nil
}

// NewFromClient builds a store from an existing client. This is the entry
// point tests use with miniredis.
func NewFromClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "agentgrid:state:"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(id string) string { return s.prefix + id }
func (s *Store) idsKey() string       { return s.prefix + "ids" }

func (s *Store) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("redis state store is closed")
	}
	return nil
}

// Exists reports whether state exists for id.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	n, err := s.client.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("exists %q: %w", id, err)
	}
	return n > 0, nil
}

// Create allocates empty state for id, failing when it already exists.
func (s *Store) Create(ctx context.Context, id string) (state.State, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	created, err := s.client.HSetNX(ctx, s.key(id), createdField,
		time.Now().UTC().Format(time.RFC3339)).Result()
	if err != nil {
		return nil, fmt.Errorf("create state %q: %w", id, err)
	}
	if !created {
		return nil, fmt.Errorf("create state %q: %w", id, state.ErrExists)
	}
	if err := s.client.SAdd(ctx, s.idsKey(), id).Err(); err != nil {
		return nil, fmt.Errorf("index state %q: %w", id, err)
	}

	return &agentState{id: id, store: s}, nil
}

// Get loads the state for id.
func (s *Store) Get(ctx context.Context, id string) (state.State, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	n, err := s.client.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get state %q: %w", id, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("get state %q: %w", id, state.ErrNotFound)
	}
	return &agentState{id: id, store: s}, nil
}

// Delete removes all state for id. Absent ids are a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.guard(); err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(id))
	pipe.SRem(ctx, s.idsKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete state %q: %w", id, err)
	}
	return nil
}

// AllIDs enumerates every agent id in the index.
func (s *Store) AllIDs(ctx context.Context) ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	ids, err := s.client.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list agent ids: %w", err)
	}
	return ids, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// agentState reads and writes hash fields directly; every access is a round
// trip, so the hash is the single source of truth across processes.
type agentState struct {
	id    string
	store *Store
}

func (a *agentState) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}

func (a *agentState) AgentID() string { return a.id }

func (a *agentState) Init() error { return nil }

func (a *agentState) raw(key string) (string, bool) {
	ctx, cancel := a.ctx()
	defer cancel()

	v, err := a.store.client.HGet(ctx, a.store.key(a.id), key).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

func (a *agentState) Get(key string) (any, bool) {
	raw, ok := a.raw(key)
	if !ok {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false
	}
	return v, true
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
	raw, ok := a.raw(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return true, fmt.Errorf("unmarshal state key %q: %w", key, err)
	}
	return true, nil
}

func (a *agentState) Put(key string, value any) error {
	if state.Reserved(key) {
		return fmt.Errorf("put %q: %w", key, state.ErrReservedKey)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal state key %q: %w", key, err)
	}

	ctx, cancel := a.ctx()
	defer cancel()
	if err := a.store.client.HSet(ctx, a.store.key(a.id), key, data).Err(); err != nil {
		return fmt.Errorf("put state key %q: %w", key, err)
	}
	return nil
}

func (a *agentState) Remove(key string) error {
	if state.Reserved(key) {
		return fmt.Errorf("remove %q: %w", key, state.ErrReservedKey)
	}
	ctx, cancel := a.ctx()
	defer cancel()
	if err := a.store.client.HDel(ctx, a.store.key(a.id), key).Err(); err != nil {
		return fmt.Errorf("remove state key %q: %w", key, err)
	}
	return nil
}

func (a *agentState) Contains(key string) bool {
	ctx, cancel := a.ctx()
	defer cancel()

	ok, err := a.store.client.HExists(ctx, a.store.key(a.id), key).Result()
	return err == nil && ok
}

func (a *agentState) AgentType() string {
	raw, ok := a.raw(state.TypeKey)
	if !ok {
		return ""
	}
	var t string
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return ""
	}
	return t
}

func (a *agentState) SetAgentType(agentType string) error {
	data, err := json.Marshal(agentType)
	if err != nil {
		return fmt.Errorf("marshal agent type: %w", err)
	}

	ctx, cancel := a.ctx()
	defer cancel()
	if err := a.store.client.HSet(ctx, a.store.key(a.id), state.TypeKey, data).Err(); err != nil {
		return fmt.Errorf("set agent type: %w", err)
	}
	return nil
}
