// Package httpapi exposes the federation HTTP contract: the liveness
// probe, the event-receiver endpoint, and the registration/introspection
// routes remote servers use to join and observe the federation.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/progfed/progfed/internal/eventbus"
	"github.com/progfed/progfed/internal/messaging"
	"github.com/progfed/progfed/internal/metrics"
	"github.com/progfed/progfed/internal/monitor"
	"github.com/progfed/progfed/internal/registry"
)

// maxEventBody bounds inbound event envelopes (1MB).
const maxEventBody = 1 << 20

// Handler wires the federation endpoints to the registry and local bus.
type Handler struct {
	registry   *registry.Registry
	bus        *eventbus.Bus
	cache      *monitor.Cache
	metrics    *metrics.Metrics
	publisher  *messaging.Publisher
	logger     *slog.Logger
	defaultTTL time.Duration
}

// New constructs a Handler. cache, metrics and publisher may be nil;
// defaultTTL applies to registrations that do not carry their own.
func New(reg *registry.Registry, bus *eventbus.Bus, cache *monitor.Cache, m *metrics.Metrics, pub *messaging.Publisher, logger *slog.Logger, defaultTTL time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Second
	}
	return &Handler{
		registry:   reg,
		bus:        bus,
		cache:      cache,
		metrics:    m,
		publisher:  pub,
		logger:     logger,
		defaultTTL: defaultTTL,
	}
}

// Register mounts the federation routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Post(messaging.ReceivePath, h.handleReceive)
	if h.publisher != nil {
		r.Post("/api/events/publish", h.handlePublish)
	}

	r.Route("/api/federation", func(r chi.Router) {
		r.Post("/register", h.handleRegister)
		r.Get("/servers", h.handleListServers)
		r.Get("/servers/{serverID}", h.handleGetServer)
		r.Delete("/servers/{serverID}", h.handleUnregister)
		r.Get("/status", h.handleStatus)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": string(registry.StatusHealthy)})
}

// handleReceive accepts a forwarded event envelope and republishes it on
// the local bus, turning remote delivery into local delivery.
func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	var evt eventbus.Event
	body := http.MaxBytesReader(w, r.Body, maxEventBody)
	if err := json.NewDecoder(body).Decode(&evt); err != nil {
		writeJSON(w, http.StatusBadRequest, messaging.Ack{Success: false, Error: "malformed event body"})
		return
	}
	if err := evt.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, messaging.Ack{Success: false, Error: err.Error()})
		return
	}

	h.bus.Publish(evt)
	h.metrics.IncEventsReceived()

	h.logger.Info("event received",
		"event_type", evt.EventType,
		"program_id", evt.ProgramID,
	)
	writeJSON(w, http.StatusOK, messaging.Ack{Success: true})
}

type publishRequest struct {
	Event         eventbus.Event `json:"event"`
	TargetServers []string       `json:"targetServers"`
}

// handlePublish fans an event out to the named federation servers and
// reports which legs landed and which failed.
func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	body := http.MaxBytesReader(w, r.Body, maxEventBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed publish body"})
		return
	}

	result, err := h.publisher.PublishTo(r.Context(), req.TargetServers, req.Event)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type registerRequest struct {
	registry.ServerDescriptor
	TTLSeconds int `json:"ttlSeconds,omitempty"`
}

type registerResponse struct {
	Success    bool   `json:"success"`
	ServerID   string `json:"serverId,omitempty"`
	TTLSeconds int    `json:"ttlSeconds,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, registerResponse{Success: false, Error: "malformed registration body"})
		return
	}

	ttl := h.defaultTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	if req.Status == "" {
		req.Status = registry.StatusHealthy
	}

	if err := h.registry.Register(req.ServerDescriptor, ttl); err != nil {
		writeJSON(w, http.StatusBadRequest, registerResponse{Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{
		Success:    true,
		ServerID:   req.ServerID,
		TTLSeconds: int(ttl / time.Second),
	})
}

func (h *Handler) handleUnregister(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverID")
	h.registry.Unregister(serverID)
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

func (h *Handler) handleListServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.List())
}

func (h *Handler) handleGetServer(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverID")

	desc, ok := h.registry.Get(serverID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "server not found: " + serverID})
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeJSON(w, http.StatusOK, []monitor.ProbeResult{})
		return
	}
	writeJSON(w, http.StatusOK, h.cache.GetAll())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
