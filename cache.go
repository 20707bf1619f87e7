package agentgrid

import (
	"sync"

	"github.com/agentgrid-dev/agentgrid/agent"
	"github.com/agentgrid-dev/agentgrid/internal/metrics"
)

// agentCache shares instantiated agents between requests. Only agents of
// thread-safe types are ever put here; everything else is rebuilt per
// request.
type agentCache struct {
	mu     sync.RWMutex
	agents map[string]agent.Agent
}

func newAgentCache() *agentCache {
	return &agentCache{agents: make(map[string]agent.Agent)}
}

func (c *agentCache) get(id string) (agent.Agent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.agents[id]
	return a, ok
}

func (c *agentCache) put(id string, a agent.Agent) {
	c.mu.Lock()
	c.agents[id] = a
	size := len(c.agents)
	c.mu.Unlock()
	metrics.SetAgentCacheSize(size)
}

func (c *agentCache) delete(id string) {
	c.mu.Lock()
	delete(c.agents, id)
	size := len(c.agents)
	c.mu.Unlock()
	metrics.SetAgentCacheSize(size)
}

func (c *agentCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.agents)
}
