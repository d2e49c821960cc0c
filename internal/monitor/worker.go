// Package monitor runs the background health probe worker: it periodically
// queries the registry for live servers, probes each one's /health
// endpoint, updates registry status, and announces transitions on the
// local event bus.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/progfed/progfed/internal/eventbus"
	"github.com/progfed/progfed/internal/messaging"
	"github.com/progfed/progfed/internal/registry"
)

// healthPath is the liveness route every registrant is expected to serve.
const healthPath = "/health"

// federationProgramID is the correlation key used for infrastructure
// events that are not tied to a single program.
const federationProgramID = "federation"

// Worker probes registered servers and keeps their status current.
type Worker struct {
	registry *registry.Registry
	bus      *eventbus.Bus
	cache    *Cache
	config   Config
	logger   *slog.Logger
	client   *http.Client

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewWorker creates a health probe worker.
func NewWorker(reg *registry.Registry, bus *eventbus.Bus, cache *Cache, config Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		registry: reg,
		bus:      bus,
		cache:    cache,
		config:   config,
		logger:   logger,
		client: &http.Client{
			Timeout: config.HTTPTimeout,
		},
		breakers: make(map[string]*Breaker),
	}
}

// Run starts the probe loop. It blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("health probe worker starting",
		"probe_interval", w.config.ProbeInterval,
		"failure_threshold", w.config.FailureThreshold,
	)

	ticker := time.NewTicker(w.config.ProbeInterval)
	defer ticker.Stop()

	// Probe immediately on start, then on each tick.
	w.probeAll(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("health probe worker stopping")
			return
		case <-ticker.C:
			w.probeAll(ctx)
		}
	}
}

func (w *Worker) probeAll(ctx context.Context) {
	servers := w.registry.List()

	live := make(map[string]struct{}, len(servers))
	for _, desc := range servers {
		live[desc.ServerID] = struct{}{}
	}

	// Fan out: probe all servers concurrently.
	var wg sync.WaitGroup
	for _, desc := range servers {
		wg.Add(1)
		go func(desc registry.ServerDescriptor) {
			defer wg.Done()
			w.probeServer(ctx, desc)
		}(desc)
	}
	wg.Wait()

	// Evict cache entries for servers whose registrations are gone.
	for _, cached := range w.cache.GetAll() {
		if _, ok := live[cached.ServerID]; !ok {
			w.cache.Remove(cached.ServerID)
		}
	}
}

func (w *Worker) probeServer(ctx context.Context, desc registry.ServerDescriptor) {
	breaker := w.getBreaker(desc.ServerID)

	if !breaker.Allow() {
		w.updateStatus(desc, registry.StatusUnhealthy, "circuit open due to repeated probe failures")
		return
	}

	status, message := w.probe(ctx, desc)

	if status == registry.StatusHealthy || status == registry.StatusDegraded {
		breaker.RecordSuccess()
	} else {
		breaker.RecordFailure()
	}

	w.updateStatus(desc, status, message)
}

// probe issues one GET against the server's health route. A 2xx response
// counts as healthy unless the body itself reports a degraded state.
func (w *Worker) probe(ctx context.Context, desc registry.ServerDescriptor) (registry.Status, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.BaseURL+healthPath, nil)
	if err != nil {
		return registry.StatusUnhealthy, fmt.Sprintf("request error: %v", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return registry.StatusUnhealthy, fmt.Sprintf("probe failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return registry.StatusUnhealthy, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && json.Unmarshal(raw, &body) == nil && body.Status == string(registry.StatusDegraded) {
		return registry.StatusDegraded, "self-reported degraded"
	}

	return registry.StatusHealthy, fmt.Sprintf("HTTP %d", resp.StatusCode)
}

func (w *Worker) updateStatus(desc registry.ServerDescriptor, status registry.Status, message string) {
	previous := w.cache.PreviousStatus(desc.ServerID)

	w.cache.Update(ProbeResult{
		ServerID:  desc.ServerID,
		Name:      desc.Name,
		BaseURL:   desc.BaseURL,
		Status:    status,
		LastProbe: time.Now().UTC(),
		Message:   message,
	})
	w.registry.UpdateStatus(desc.ServerID, status)

	// Announce the transition locally so subscribers can react.
	if previous != status && previous != registry.StatusUnknown && w.bus != nil {
		w.bus.Publish(eventbus.New(messaging.EventServerHealthChanged, federationProgramID, map[string]any{
			"serverId":       desc.ServerID,
			"serverName":     desc.Name,
			"previousStatus": string(previous),
			"currentStatus":  string(status),
			"message":        message,
		}))
	}
}

func (w *Worker) getBreaker(serverID string) *Breaker {
	w.mu.Lock()
	defer w.mu.Unlock()

	if b, ok := w.breakers[serverID]; ok {
		return b
	}

	breakDuration := w.config.ProbeInterval * 2
	b := NewBreaker(w.config.FailureThreshold, w.config.RecoveryThreshold, breakDuration)
	w.breakers[serverID] = b
	return b
}
