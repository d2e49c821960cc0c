package monitor

import (
	"sync"
	"time"

	"github.com/progfed/progfed/internal/registry"
)

// ProbeResult holds the latest health probe outcome for one server.
type ProbeResult struct {
	ServerID  string          `json:"serverId"`
	Name      string          `json:"name"`
	BaseURL   string          `json:"baseUrl"`
	Status    registry.Status `json:"status"`
	LastProbe time.Time       `json:"lastProbe"`
	Message   string          `json:"message,omitempty"`
}

// Cache is a thread-safe store of the latest probe results, exposed
// through the federation status endpoint.
type Cache struct {
	mu      sync.RWMutex
	results map[string]ProbeResult
}

// NewCache creates an empty probe result cache.
func NewCache() *Cache {
	return &Cache{results: make(map[string]ProbeResult)}
}

// Update records a probe result for a server.
func (c *Cache) Update(result ProbeResult) {
	c.mu.Lock()
	c.results[result.ServerID] = result
	c.mu.Unlock()
}

// Get returns the cached result for serverID.
func (c *Cache) Get(serverID string) (ProbeResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.results[serverID]
	return r, ok
}

// GetAll returns a snapshot of all cached results.
func (c *Cache) GetAll() []ProbeResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ProbeResult, 0, len(c.results))
	for _, r := range c.results {
		out = append(out, r)
	}
	return out
}

// PreviousStatus returns the last known status for serverID, or
// StatusUnknown when untracked.
func (c *Cache) PreviousStatus(serverID string) registry.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if r, ok := c.results[serverID]; ok {
		return r.Status
	}
	return registry.StatusUnknown
}

// Remove drops the cached result for serverID.
func (c *Cache) Remove(serverID string) {
	c.mu.Lock()
	delete(c.results, serverID)
	c.mu.Unlock()
}
