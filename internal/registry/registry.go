// Package registry implements the in-process federation service registry:
// a directory of live domain server descriptors with TTL-based expiry.
// State is runtime-only; restarted processes rebuild it through
// re-registration.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Status represents the reported health of a federation server.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"

	// StatusUnknown is used by the health monitor before the first probe
	// completes. Registrations normally carry one of the three states above.
	StatusUnknown Status = "unknown"
)

// ServerDescriptor identifies one federation server and how to reach it.
type ServerDescriptor struct {
	ServerID     string   `json:"serverId"`
	Name         string   `json:"name"`
	BaseURL      string   `json:"baseUrl"`
	Version      string   `json:"version,omitempty"`
	Status       Status   `json:"status"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// ValidationError reports a malformed registration.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid registration: %s %s", e.Field, e.Reason)
}

type entry struct {
	desc      ServerDescriptor
	expiresAt time.Time
}

// Registry is the process-wide directory of live server descriptors.
// Entries expire lazily: reads never return a descriptor whose TTL has
// passed, whether or not the sweep loop is running.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time // for testing
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Register inserts or overwrites the entry for desc.ServerID and resets its
// expiry to now+ttl. Re-registering an existing id is an idempotent upsert,
// not an error.
func (r *Registry) Register(desc ServerDescriptor, ttl time.Duration) error {
	if desc.ServerID == "" {
		return &ValidationError{Field: "serverId", Reason: "must not be empty"}
	}
	if desc.BaseURL == "" {
		return &ValidationError{Field: "baseUrl", Reason: "must not be empty"}
	}

	r.mu.Lock()
	r.entries[desc.ServerID] = entry{
		desc:      desc,
		expiresAt: r.now().Add(ttl),
	}
	r.mu.Unlock()

	r.logger.Info("server registered",
		"server_id", desc.ServerID,
		"name", desc.Name,
		"base_url", desc.BaseURL,
		"ttl", ttl,
	)
	return nil
}

// Unregister removes the entry for serverID. Removing an absent id is a no-op.
func (r *Registry) Unregister(serverID string) {
	r.mu.Lock()
	_, existed := r.entries[serverID]
	delete(r.entries, serverID)
	r.mu.Unlock()

	if existed {
		r.logger.Info("server unregistered", "server_id", serverID)
	}
}

// Get returns the descriptor for serverID if present and unexpired.
// Absence is a normal outcome, reported through the bool.
func (r *Registry) Get(serverID string) (ServerDescriptor, bool) {
	r.mu.RLock()
	e, ok := r.entries[serverID]
	now := r.now()
	r.mu.RUnlock()

	if !ok || now.After(e.expiresAt) {
		return ServerDescriptor{}, false
	}
	return e.desc, true
}

// List returns all unexpired descriptors, sorted by server id for
// deterministic output. Callers must not depend on the order.
func (r *Registry) List() []ServerDescriptor {
	r.mu.RLock()
	now := r.now()
	out := make([]ServerDescriptor, 0, len(r.entries))
	for _, e := range r.entries {
		if now.After(e.expiresAt) {
			continue
		}
		out = append(out, e.desc)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

// UpdateStatus overwrites the stored status for serverID without touching
// its expiry. Returns false if the entry is absent or already expired.
func (r *Registry) UpdateStatus(serverID string, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[serverID]
	if !ok || r.now().After(e.expiresAt) {
		return false
	}
	e.desc.Status = status
	r.entries[serverID] = e
	return true
}

// Len reports how many unexpired entries the registry currently holds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	n := 0
	for _, e := range r.entries {
		if !now.After(e.expiresAt) {
			n++
		}
	}
	return n
}

// Clear removes all entries. Intended for tests and process resets.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.entries = make(map[string]entry)
	r.mu.Unlock()
}

// Sweep runs an active expiry loop that evicts stale entries on the given
// interval. Lazy expiry on read makes this optional; running it keeps the
// map from accumulating dead entries. Blocks until ctx is cancelled.
func (r *Registry) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evictExpired()
		}
	}
}

func (r *Registry) evictExpired() {
	r.mu.Lock()
	now := r.now()
	var evicted []string
	for id, e := range r.entries {
		if now.After(e.expiresAt) {
			delete(r.entries, id)
			evicted = append(evicted, id)
		}
	}
	r.mu.Unlock()

	for _, id := range evicted {
		r.logger.Info("expired registration evicted", "server_id", id)
	}
}
