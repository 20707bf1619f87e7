package state

import (
	"strings"
	"sync"

	"github.com/agentgrid-dev/agentgrid/internal/logging"
	"github.com/agentgrid-dev/agentgrid/rpc"
)

// Factory constructs a Store from its configuration section.
type Factory func(params map[string]any) (Store, error)

var (
	mu         sync.RWMutex
	registry   = make(map[string]Factory)
	deprecated = make(map[string]string)

	log = logging.For("state")
)

// Register adds a store factory under the given alias. Alias matching is
// case-insensitive. Register panics when the alias is already taken, so
// misconfigured init ordering fails loudly at process start.
func Register(alias string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if factory == nil {
		panic("state: Register factory is nil")
	}
	key := strings.ToLower(alias)
	if _, dup := registry[key]; dup {
		panic("state: Register called twice for alias " + alias)
	}
	registry[key] = factory
}

// Deprecate maps an obsolete alias to its replacement. The old alias keeps
// working; resolving it logs a warning and rewrites to the replacement.
func Deprecate(oldAlias, replacement string) {
	mu.Lock()
	defer mu.Unlock()
	deprecated[strings.ToLower(oldAlias)] = replacement
}

// New resolves alias against the registry and constructs the store from
// params. Unknown aliases fail with a configuration error.
func New(alias string, params map[string]any) (Store, error) {
	key := strings.ToLower(alias)

	mu.RLock()
	if replacement, ok := deprecated[key]; ok {
		log.Warn().Str("alias", alias).Str("replacement", replacement).
			Msg("deprecated state factory alias, please update your configuration")
		key = strings.ToLower(replacement)
	}
	factory, ok := registry[key]
	mu.RUnlock()

	if !ok {
		return nil, rpc.Errorf(rpc.KindConfiguration,
			"unknown state factory %q", alias)
	}
	return factory(params)
}

// Aliases returns every registered alias, for diagnostics.
func Aliases() []string {
	mu.RLock()
	defer mu.RUnlock()

	aliases := make([]string, 0, len(registry))
	for alias := range registry {
		aliases = append(aliases, alias)
	}
	return aliases
}
