// Package client performs HTTP calls against federation servers addressed
// by logical server id. Base URLs are resolved through the registry at call
// time so callers never hold addresses themselves.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/progfed/progfed/internal/metrics"
	"github.com/progfed/progfed/internal/registry"
)

// maxResponseBody bounds decoded upstream bodies (10MB).
const maxResponseBody = 10 << 20

// NotFoundError reports that the target server id is not registered or its
// registration has expired. No network attempt was made.
type NotFoundError struct {
	ServerID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("server not found: %s", e.ServerID)
}

// CallError is the single error kind raised for failed HTTP attempts:
// connection failures, timeouts, non-2xx statuses, and malformed bodies.
type CallError struct {
	TargetServer string
	Status       int // zero when no HTTP response was received
	Err          error
}

func (e *CallError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("cross-server call to %s failed: status %d: %v", e.TargetServer, e.Status, e.Err)
	}
	return fmt.Sprintf("cross-server call to %s failed: %v", e.TargetServer, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Response carries the decoded body of a successful call plus per-call
// metadata.
type Response struct {
	ServerID     string
	Status       int
	Body         json.RawMessage
	ResponseTime time.Duration
	Attempts     int
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Config controls per-call behavior.
type Config struct {
	Timeout     time.Duration
	RetryDelay  time.Duration // base delay before the single retry
	RetryJitter time.Duration
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:     10 * time.Second,
		RetryDelay:  100 * time.Millisecond,
		RetryJitter: 100 * time.Millisecond,
	}
}

// Client resolves logical server ids through the registry and issues HTTP
// requests against the resolved base URL.
type Client struct {
	registry *registry.Registry
	config   Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	http     *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithConfig overrides the default timeouts.
func WithConfig(cfg Config) Option {
	return func(c *Client) { c.config = cfg }
}

// WithMetrics wires call-outcome counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTransport replaces the underlying transport, mainly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.http.Transport = rt }
}

// New creates a Client backed by reg.
func New(reg *registry.Registry, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		registry: reg,
		config:   DefaultConfig(),
		logger:   logger,
		http:     &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.Timeout = c.config.Timeout
	return c
}

// Get issues a GET against path on the named server.
func (c *Client) Get(ctx context.Context, serverID, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, serverID, path, nil)
}

// Post marshals body as JSON and POSTs it to path on the named server.
func (c *Client) Post(ctx context.Context, serverID, path string, body any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &CallError{TargetServer: serverID, Err: fmt.Errorf("marshal request body: %w", err)}
	}
	return c.do(ctx, http.MethodPost, serverID, path, payload)
}

func (c *Client) do(ctx context.Context, method, serverID, path string, payload []byte) (*Response, error) {
	desc, ok := c.registry.Get(serverID)
	if !ok {
		c.metrics.ObserveCrossCall("not_found")
		return nil, &NotFoundError{ServerID: serverID}
	}

	target, err := joinURL(desc.BaseURL, path)
	if err != nil {
		c.metrics.ObserveCrossCall("error")
		return nil, &CallError{TargetServer: serverID, Err: err}
	}

	start := time.Now()

	// One automatic retry for transient transport failures; application
	// responses (any HTTP status) are never retried.
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		if attempt > 1 {
			delay := c.config.RetryDelay + time.Duration(rand.Float64()*float64(c.config.RetryJitter))
			c.logger.Warn("retrying cross-server call",
				"server_id", serverID,
				"method", method,
				"path", path,
				"delay", delay,
			)
			select {
			case <-ctx.Done():
				c.metrics.ObserveCrossCall("error")
				return nil, &CallError{TargetServer: serverID, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		resp, err := c.attempt(ctx, method, target, payload)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			c.metrics.ObserveCrossCall("error")
			return nil, &CallError{
				TargetServer: serverID,
				Status:       resp.StatusCode,
				Err:          fmt.Errorf("unexpected status %s", resp.Status),
			}
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		resp.Body.Close()
		if err != nil {
			c.metrics.ObserveCrossCall("error")
			return nil, &CallError{TargetServer: serverID, Status: resp.StatusCode, Err: err}
		}
		if len(body) > 0 && !json.Valid(body) {
			c.metrics.ObserveCrossCall("error")
			return nil, &CallError{
				TargetServer: serverID,
				Status:       resp.StatusCode,
				Err:          fmt.Errorf("response body is not valid JSON"),
			}
		}

		c.metrics.ObserveCrossCall("ok")
		return &Response{
			ServerID:     serverID,
			Status:       resp.StatusCode,
			Body:         body,
			ResponseTime: time.Since(start),
			Attempts:     attempt,
		}, nil
	}

	c.metrics.ObserveCrossCall("error")
	return nil, &CallError{TargetServer: serverID, Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, method, target string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return c.http.Do(req)
}

func joinURL(baseURL, path string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimSuffix(u.String(), "/") + path, nil
}
