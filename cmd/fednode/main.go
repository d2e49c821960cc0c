// fednode runs one federation node: it hosts the service registry, the
// local event bus, the event-receiver endpoint, and the health probe
// worker, and registers itself so sibling servers can reach it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/progfed/progfed/internal/eventbus"
	"github.com/progfed/progfed/internal/httpapi"
	"github.com/progfed/progfed/internal/messaging"
	"github.com/progfed/progfed/internal/metrics"
	"github.com/progfed/progfed/internal/monitor"
	"github.com/progfed/progfed/internal/registry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

type config struct {
	Port         string
	ServerID     string
	ServerName   string
	BaseURL      string
	Version      string
	Capabilities []string

	RegistrationTTL time.Duration
	SweepInterval   time.Duration

	AMQPURL      string
	AMQPExchange string

	Monitor monitor.Config
}

func run(logger *slog.Logger) error {
	cfg := loadConfig()

	m := metrics.New(prometheus.DefaultRegisterer)

	reg := registry.New(logger)
	metrics.RegisterServerGauge(prometheus.DefaultRegisterer, reg.Len)

	bus := eventbus.NewBus(logger)
	eventbus.SetDefault(bus)

	bridge, err := messaging.NewBridge(cfg.AMQPURL, cfg.AMQPExchange, logger)
	if err != nil {
		return fmt.Errorf("amqp bridge: %w", err)
	}
	defer bridge.Close()

	publisher := messaging.NewPublisher(reg, logger,
		messaging.WithMetrics(m),
		messaging.WithBridge(bridge),
	)

	cache := monitor.NewCache()
	worker := monitor.NewWorker(reg, bus, cache, cfg.Monitor, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go worker.Run(ctx)
	go reg.Sweep(ctx, cfg.SweepInterval)
	go heartbeat(ctx, reg, cfg, logger)

	api := httpapi.New(reg, bus, cache, m, publisher, logger, cfg.RegistrationTTL)

	router := chi.NewRouter()
	api.Register(router)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpapi.RequestLogging(logger, router),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down federation node")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("federation node starting",
		"port", cfg.Port,
		"server_id", cfg.ServerID,
		"server_name", cfg.ServerName,
		"base_url", cfg.BaseURL,
	)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// heartbeat keeps this node's own registration fresh by re-registering at
// half the TTL; siblings do the same against each other's registries.
func heartbeat(ctx context.Context, reg *registry.Registry, cfg config, logger *slog.Logger) {
	desc := registry.ServerDescriptor{
		ServerID:     cfg.ServerID,
		Name:         cfg.ServerName,
		BaseURL:      cfg.BaseURL,
		Version:      cfg.Version,
		Status:       registry.StatusHealthy,
		Capabilities: cfg.Capabilities,
	}

	if err := reg.Register(desc, cfg.RegistrationTTL); err != nil {
		logger.Error("self-registration failed", "error", err)
		return
	}

	ticker := time.NewTicker(cfg.RegistrationTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			reg.Unregister(cfg.ServerID)
			return
		case <-ticker.C:
			if err := reg.Register(desc, cfg.RegistrationTTL); err != nil {
				logger.Error("heartbeat re-registration failed", "error", err)
			}
		}
	}
}

func loadConfig() config {
	cfg := config{
		Port:            envOr("FEDNODE_PORT", "4000"),
		ServerName:      envOr("FEDNODE_SERVER_NAME", "program"),
		Version:         envOr("FEDNODE_VERSION", "1.0.0"),
		RegistrationTTL: 30 * time.Second,
		SweepInterval:   time.Minute,
		AMQPURL:         os.Getenv("FEDNODE_AMQP_URL"),
		AMQPExchange:    os.Getenv("FEDNODE_AMQP_EXCHANGE"),
		Monitor:         monitor.DefaultConfig(),
	}

	cfg.ServerID = envOr("FEDNODE_SERVER_ID", cfg.ServerName+"-"+uuid.NewString()[:8])
	cfg.BaseURL = envOr("FEDNODE_BASE_URL", "http://localhost:"+cfg.Port)

	if v, err := strconv.Atoi(os.Getenv("FEDNODE_TTL_SECONDS")); err == nil && v > 0 {
		cfg.RegistrationTTL = time.Duration(v) * time.Second
	}
	if v, err := strconv.Atoi(os.Getenv("FEDNODE_SWEEP_SECONDS")); err == nil && v > 0 {
		cfg.SweepInterval = time.Duration(v) * time.Second
	}
	if v := os.Getenv("FEDNODE_CAPABILITIES"); v != "" {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Capabilities = append(cfg.Capabilities, p)
			}
		}
	}

	if v, err := strconv.Atoi(os.Getenv("FEDNODE_PROBE_INTERVAL_SECONDS")); err == nil && v > 0 {
		cfg.Monitor.ProbeInterval = time.Duration(v) * time.Second
	}
	if v, err := strconv.Atoi(os.Getenv("FEDNODE_PROBE_TIMEOUT_SECONDS")); err == nil && v > 0 {
		cfg.Monitor.HTTPTimeout = time.Duration(v) * time.Second
	}
	if v, err := strconv.Atoi(os.Getenv("FEDNODE_FAILURE_THRESHOLD")); err == nil && v > 0 {
		cfg.Monitor.FailureThreshold = v
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

