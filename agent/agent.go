// Package agent defines the contract an agent implementation must satisfy
// and the registry of agent types the host can instantiate by name.
//
// An agent is an addressable unit of stateful behavior. The host constructs
// instances on demand from the type recorded in their state, binds them to
// itself and their State, and drops them after each request; types marked
// thread-safe are cached and shared instead.
package agent

import (
	"context"

	"github.com/agentgrid-dev/agentgrid/rpc"
	"github.com/agentgrid-dev/agentgrid/scheduler"
	"github.com/agentgrid-dev/agentgrid/state"
)

// Host is the runtime surface an agent sees. It is a back-reference: the
// agent never owns the host.
type Host interface {
	// Send dispatches req to the agent at receiverURL and blocks for the
	// response. sender may be nil for anonymous sends.
	Send(ctx context.Context, sender Agent, receiverURL string, req *rpc.Request) (*rpc.Response, error)

	// SendAsync dispatches req without blocking; cb observes the response
	// or failure exactly once.
	SendAsync(ctx context.Context, sender Agent, receiverURL string, req *rpc.Request, cb rpc.Callback) error

	// Scheduler returns the scheduler bound to the agent, blocking briefly
	// while the scheduler subsystem finishes wiring during startup.
	Scheduler(a Agent) (scheduler.Scheduler, error)

	// AgentID resolves an agent id from a URL, or "" when the URL does not
	// address an agent on this host.
	AgentID(url string) string

	// AgentURLs returns every address at which the agent is reachable,
	// including the in-process one.
	AgentURLs(agentID string) []string
}

// Agent is implemented by consumers. The host constructs instances via the
// registered factory and immediately calls Bind; every other method may
// assume the agent is bound.
type Agent interface {
	// ID returns the agent's unique identifier.
	ID() string

	// State returns the agent's persistent state handle.
	State() state.State

	// Bind attaches the agent to its host and state. Called exactly once,
	// before any other method.
	Bind(h Host, id string, st state.State)

	// Init runs after Bind on every instantiation.
	Init() error

	// Create runs once in the agent's life, when it is first created.
	Create() error

	// Boot runs when the host boots an existing agent at startup.
	Boot() error

	// Destroy runs after every dispatched request; agents must not assume
	// they stay instantiated between independent requests.
	Destroy()

	// Delete runs once, when the agent is being deleted. Failures never
	// block state cleanup.
	Delete()

	// Operations returns the agent's runtime-invocable operation table.
	Operations() map[string]rpc.Handler
}

// Base carries the bookkeeping shared by agent implementations: the bound
// host, id, and state, plus no-op lifecycle hooks. Embed it and override
// what you need. Base deliberately does not implement Operations; every
// concrete type declares its own table.
type Base struct {
	host Host
	id   string
	st   state.State
}

// Bind attaches the agent to its host and state.
func (b *Base) Bind(h Host, id string, st state.State) {
	b.host = h
	b.id = id
	b.st = st
}

// ID returns the agent's unique identifier.
func (b *Base) ID() string { return b.id }

// State returns the agent's persistent state handle.
func (b *Base) State() state.State { return b.st }

// Host returns the runtime this agent is bound to.
func (b *Base) Host() Host { return b.host }

// Init is a no-op by default.
func (b *Base) Init() error { return nil }

// Create is a no-op by default.
func (b *Base) Create() error { return nil }

// Boot is a no-op by default.
func (b *Base) Boot() error { return nil }

// Destroy is a no-op by default.
func (b *Base) Destroy() {}

// Delete is a no-op by default.
func (b *Base) Delete() {}
