// Package scheduler defines the deferred/periodic task contract used to
// re-deliver requests to agents, and the registry of pluggable scheduler
// factories.
//
// A task re-injects its request into the host's normal receive path, as if
// the agent had sent it to itself; scheduled work therefore flows through the
// same dispatch, caching, and error handling as any other request.
package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/agentgrid-dev/agentgrid/internal/logging"
	"github.com/agentgrid-dev/agentgrid/rpc"
)

// Scheduler schedules requests for one agent.
// Implementations must be safe for concurrent use.
type Scheduler interface {
	// CreateTask schedules req for re-delivery after interval. One-shot
	// tasks fire once; otherwise the task fires every interval until
	// canceled. When overwrite is allowed the task handle is derived from
	// the request method and replaces any existing task with that handle.
	// Returns the opaque, cancelable task handle.
	CreateTask(req *rpc.Request, interval time.Duration, oneShot, overwrite bool) (string, error)

	// CancelTask stops future firings of the task. Canceling an unknown or
	// already-fired handle is a no-op; an already-dispatched request is
	// never recalled.
	CancelTask(taskID string)

	// TaskIDs returns the handles of all live tasks, for inspection.
	TaskIDs() []string
}

// Factory hands out per-agent schedulers.
type Factory interface {
	// Scheduler returns the scheduler bound to agentID, creating it on
	// first use.
	Scheduler(agentID string) Scheduler

	// Destroy cancels every task bound to agentID and releases its
	// scheduler.
	Destroy(agentID string)
}

// Receiver is what a scheduler needs from the host: the landing point that
// task firings are re-injected into.
type Receiver interface {
	Receive(ctx context.Context, receiverID string, req *rpc.Request, p *rpc.Params) (*rpc.Response, error)
}

// FactoryFunc constructs a Factory bound to the receiving host from its
// configuration section.
type FactoryFunc func(recv Receiver, params map[string]any) (Factory, error)

var (
	mu         sync.RWMutex
	registry   = make(map[string]FactoryFunc)
	deprecated = make(map[string]string)

	log = logging.For("scheduler")
)

// Register adds a scheduler factory under the given alias (case-insensitive).
// Registering a duplicate alias panics at process start.
func Register(alias string, factory FactoryFunc) {
	mu.Lock()
	defer mu.Unlock()

	if factory == nil {
		panic("scheduler: Register factory is nil")
	}
	key := strings.ToLower(alias)
	if _, dup := registry[key]; dup {
		panic("scheduler: Register called twice for alias " + alias)
	}
	registry[key] = factory
}

// Deprecate maps an obsolete alias to its replacement; resolving the old
// alias logs a warning and rewrites it before lookup.
func Deprecate(oldAlias, replacement string) {
	mu.Lock()
	defer mu.Unlock()
	deprecated[strings.ToLower(oldAlias)] = replacement
}

// New resolves alias and constructs the factory bound to recv.
func New(alias string, recv Receiver, params map[string]any) (Factory, error) {
	key := strings.ToLower(alias)

	mu.RLock()
	if replacement, ok := deprecated[key]; ok {
		log.Warn().Str("alias", alias).Str("replacement", replacement).
			Msg("deprecated scheduler factory alias, please update your configuration")
		key = strings.ToLower(replacement)
	}
	factory, ok := registry[key]
	mu.RUnlock()

	if !ok {
		return nil, rpc.Errorf(rpc.KindConfiguration,
			"unknown scheduler factory %q", alias)
	}
	return factory(recv, params)
}
