package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/progfed/progfed/internal/eventbus"
	"github.com/progfed/progfed/internal/metrics"
	"github.com/progfed/progfed/internal/registry"
)

// ReasonUnknownServer marks targets whose registration was absent or
// expired; no network attempt is made for them.
const ReasonUnknownServer = "unknown_server"

// maxAckBody bounds receiver acknowledgment bodies (64KB is generous for
// an ack).
const maxAckBody = 64 << 10

// defaultMaxConcurrent caps fan-out parallelism when the target set is
// large.
const defaultMaxConcurrent = 8

// ValidationError reports malformed publish input: an empty target set or
// an event missing its required envelope fields.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid publish request: %s", e.Reason)
}

// DeliveryResult is the complete per-target accounting of one PublishTo
// call. Delivered and the keys of Failed exactly partition the requested
// target set; no target is dropped silently.
type DeliveryResult struct {
	Delivered []string          `json:"delivered"`
	Failed    map[string]string `json:"failed"`
}

// Config controls fan-out behavior.
type Config struct {
	LegTimeout    time.Duration // per-target HTTP attempt timeout
	MaxConcurrent int           // 0 means defaultMaxConcurrent
}

// DefaultConfig returns the publisher defaults.
func DefaultConfig() Config {
	return Config{
		LegTimeout:    5 * time.Second,
		MaxConcurrent: defaultMaxConcurrent,
	}
}

// Publisher fans one event out to a set of remote servers' receiver
// endpoints, accounting for partial failure instead of raising it.
type Publisher struct {
	registry *registry.Registry
	config   Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	bridge   *Bridge
	http     *http.Client
}

// PublisherOption customizes a Publisher.
type PublisherOption func(*Publisher)

// WithConfig overrides the fan-out defaults.
func WithConfig(cfg Config) PublisherOption {
	return func(p *Publisher) { p.config = cfg }
}

// WithMetrics wires delivery-outcome counters.
func WithMetrics(m *metrics.Metrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

// WithBridge mirrors every published event to an AMQP exchange,
// best-effort.
func WithBridge(b *Bridge) PublisherOption {
	return func(p *Publisher) { p.bridge = b }
}

// NewPublisher creates a Publisher that resolves targets through reg.
func NewPublisher(reg *registry.Registry, logger *slog.Logger, opts ...PublisherOption) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		registry: reg,
		config:   DefaultConfig(),
		logger:   logger,
		http:     &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.config.MaxConcurrent <= 0 {
		p.config.MaxConcurrent = defaultMaxConcurrent
	}
	return p
}

// PublishTo delivers evt to every target independently and concurrently.
// Per-target failures are recorded, never raised; the only error return is
// a ValidationError for malformed input. The call joins all legs before
// returning, so the result accounting is always complete.
func (p *Publisher) PublishTo(ctx context.Context, targetServerIDs []string, evt eventbus.Event) (*DeliveryResult, error) {
	if len(targetServerIDs) == 0 {
		return nil, &ValidationError{Reason: "target set must not be empty"}
	}
	if err := evt.Validate(); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	targets := dedupe(targetServerIDs)

	body, err := json.Marshal(evt)
	if err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("event not serializable: %v", err)}
	}

	p.metrics.IncEventsPublished()

	result := &DeliveryResult{
		Delivered: make([]string, 0, len(targets)),
		Failed:    make(map[string]string),
	}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(min(len(targets), p.config.MaxConcurrent))

	for _, targetID := range targets {
		g.Go(func() error {
			reason := p.deliver(ctx, targetID, body)

			mu.Lock()
			if reason == "" {
				result.Delivered = append(result.Delivered, targetID)
			} else {
				result.Failed[targetID] = reason
			}
			mu.Unlock()

			if reason == "" {
				p.metrics.ObserveDelivery("delivered")
			} else {
				p.metrics.ObserveDelivery("failed")
				p.logger.Warn("event delivery failed",
					"target", targetID,
					"event_type", evt.EventType,
					"program_id", evt.ProgramID,
					"reason", reason,
				)
			}
			return nil
		})
	}
	_ = g.Wait() // legs never return errors; Wait is the join point

	if p.bridge != nil {
		if err := p.bridge.Mirror(ctx, evt); err != nil {
			p.logger.Warn("amqp mirror failed", "event_type", evt.EventType, "error", err)
		}
	}

	return result, nil
}

// deliver attempts one leg of the fan-out. Returns "" on success or a
// failure reason string.
func (p *Publisher) deliver(ctx context.Context, targetID string, body []byte) string {
	desc, ok := p.registry.Get(targetID)
	if !ok {
		return ReasonUnknownServer
	}

	legCtx, cancel := context.WithTimeout(ctx, p.config.LegTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(legCtx, http.MethodPost,
		desc.BaseURL+ReceivePath, bytes.NewReader(body))
	if err != nil {
		return fmt.Sprintf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Sprintf("request failed: %v", err)
	}
	defer resp.Body.Close()

	ackBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAckBody))
	if err != nil {
		return fmt.Sprintf("read acknowledgment: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Sprintf("http status %d", resp.StatusCode)
	}

	var ack Ack
	if err := json.Unmarshal(ackBody, &ack); err != nil {
		return fmt.Sprintf("unparseable acknowledgment: %v", err)
	}
	if !ack.Success {
		return "not_acknowledged"
	}
	return ""
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
