// Package transport defines the contract a network binding must satisfy to
// carry agent requests, and the registry of pluggable bindings.
//
// A binding owns one or more URI schemes. The host asks each registered
// service, in registration order, to resolve agent ids from URLs; outbound
// requests are delegated to the first service whose protocol set contains the
// receiver's scheme.
package transport

import (
	"context"
	"strings"
	"sync"

	"github.com/agentgrid-dev/agentgrid/internal/logging"
	"github.com/agentgrid-dev/agentgrid/rpc"
)

// Service carries requests for one or more URI schemes.
// Implementations must be safe for concurrent use.
type Service interface {
	// Send delivers req to receiverURL and blocks for the response.
	Send(ctx context.Context, senderURL, receiverURL string, req *rpc.Request) (*rpc.Response, error)

	// SendAsync delivers req without blocking the caller. The callback
	// observes the response or the failure exactly once.
	SendAsync(ctx context.Context, senderURL, receiverURL string, req *rpc.Request, cb rpc.Callback)

	// AgentID resolves an agent id from a URL this service owns,
	// or "" when the URL is not ours.
	AgentID(url string) string

	// AgentURL returns the address at which this service exposes the agent,
	// or "" when the agent is not addressable over this binding.
	AgentURL(agentID string) string

	// Protocols returns the URI schemes this service owns.
	Protocols() []string
}

// Receiver is the host-side landing point for inbound requests. Server-side
// bindings hand every decoded request to it.
type Receiver interface {
	Receive(ctx context.Context, receiverID string, req *rpc.Request, p *rpc.Params) (*rpc.Response, error)
}

// Factory constructs a Service bound to the receiving host from its
// configuration section.
type Factory func(recv Receiver, params map[string]any) (Service, error)

var (
	mu         sync.RWMutex
	registry   = make(map[string]Factory)
	deprecated = make(map[string]string)

	log = logging.For("transport")
)

// Register adds a transport factory under the given alias (case-insensitive).
// Registering a duplicate alias panics at process start.
func Register(alias string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if factory == nil {
		panic("transport: Register factory is nil")
	}
	key := strings.ToLower(alias)
	if _, dup := registry[key]; dup {
		panic("transport: Register called twice for alias " + alias)
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

// New resolves alias and constructs the service bound to recv.
func New(alias string, recv Receiver, params map[string]any) (Service, error) {
	key := strings.ToLower(alias)

	mu.RLock()
	if replacement, ok := deprecated[key]; ok {
		log.Warn().Str("alias", alias).Str("replacement", replacement).
			Msg("deprecated transport service alias, please update your configuration")
		key = strings.ToLower(replacement)
	}
	factory, ok := registry[key]
	mu.RUnlock()

	if !ok {
		return nil, rpc.Errorf(rpc.KindConfiguration,
			"unknown transport service %q", alias)
	}
	return factory(recv, params)
}
