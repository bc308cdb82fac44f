package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskrelay/internal/api"
	"taskrelay/internal/config"
	"taskrelay/internal/conflict"
	"taskrelay/internal/engine"
	"taskrelay/internal/events"
	"taskrelay/internal/logging"
	"taskrelay/internal/metrics"
	"taskrelay/internal/network"
	"taskrelay/internal/offline"
	"taskrelay/internal/queue"
	"taskrelay/internal/remote"
	"taskrelay/internal/schema"
	"taskrelay/internal/store"
	"taskrelay/internal/store/rediscache"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := initStore(cfg, &logger)
	if err != nil {
		return err
	}
	defer st.Close()

	mirror := initMirror(ctx, cfg, &logger)

	monitor, probe := initMonitor(cfg, &logger)
	if probe != nil {
		go probe.Start(ctx)
	}

	metrics.Register()

	q, err := queue.New(ctx, st, defaultSchemas(), monitor, &logger)
	if err != nil {
		return err
	}

	client := remote.NewClient(
		cfg.Remote.BaseURL, cfg.Remote.APIKey, cfg.Remote.Timeout(),
		cfg.Remote.RPS, cfg.Remote.Burst, &logger,
	)

	bus := events.NewEventBus()
	subscribeOutcomeEvents(bus, &logger)

	eng := engine.New(q, client, conflict.NewResolver(&logger), monitor, bus, &logger)
	eng.Start(ctx)

	facade := offline.New(q, eng, monitor, bus, mirror, &logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := facade.Close(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("facade shutdown failed")
		}
	}()

	if cfg.API.Enabled {
		apiServer := api.NewHTTPServer(cfg.API, facade, &logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("admin API error")
			}
		}()
		defer func() {
			_ = apiServer.Shutdown(context.Background())
		}()
	}

	if cfg.Monitoring.PrometheusEnabled {
		go serveMetrics(cfg.Monitoring.PrometheusPort, &logger)
	}

	logger.Info().
		Str("backend", cfg.Storage.Backend).
		Str("namespace", cfg.Storage.Namespace).
		Msg("sync daemon started")

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "syncd").Logger()
	return cfg, logger, closer, nil
}

// initStore opens the configured durable backend and wraps it with a
// memory fallback so a store outage degrades instead of halting.
func initStore(cfg *config.Config, logger *zerolog.Logger) (store.Store, error) {
	var primary store.Store
	var err error
	switch cfg.Storage.Backend {
	case "bolt":
		primary, err = store.NewBoltStore(cfg.Storage.BoltPath, cfg.Storage.Namespace)
	default:
		primary, err = store.NewSQLiteStore(cfg.Storage.SQLitePath, cfg.Storage.Namespace)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}

	return store.NewFailoverStore(primary, store.NewMemoryStore(), logger), nil
}

func initMirror(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *rediscache.Mirror {
	if !cfg.Redis.Enabled || cfg.Redis.Address == "" {
		return nil
	}

	client := rediscache.NewClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize)
	if err := rediscache.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, mirror disabled")
		return nil
	}
	return rediscache.NewMirror(client, cfg.Storage.Namespace, 5*time.Minute)
}

func initMonitor(cfg *config.Config, logger *zerolog.Logger) (network.Monitor, *network.ProbeMonitor) {
	if cfg.Monitor.ProbeURL == "" {
		logger.Warn().Msg("no probe URL configured, using simulated monitor")
		return network.NewSimulatedMonitor(true), nil
	}
	probe := network.NewProbeMonitor(cfg.Monitor.ProbeURL, cfg.Monitor.ProbeInterval(), cfg.Monitor.ProbeTimeout(), logger)
	return probe, probe
}

// defaultSchemas validates the payloads of the built-in task operations.
// Operations outside this set stay opaque.
func defaultSchemas() *schema.Registry {
	reg := schema.NewRegistry()
	reg.Register("task.create", schema.RequireFields("title"))
	reg.Register("task.update", schema.RequireFields("id"))
	reg.Register("task.delete", schema.RequireFields("id"))
	return reg
}

func subscribeOutcomeEvents(bus *events.EventBus, logger *zerolog.Logger) {
	decode := func(ev *events.Event) (events.OperationOutcome, error) {
		var outcome events.OperationOutcome
		err := json.Unmarshal(ev.Payload, &outcome)
		return outcome, err
	}

	bus.Subscribe(events.EventOperationCompleted, func(ev *events.Event) error {
		outcome, err := decode(ev)
		if err != nil {
			return nil
		}
		logger.Info().
			Str("item_id", outcome.ItemID).
			Str("operation", outcome.Operation).
			Bool("discarded", outcome.Discarded).
			Msg("operation completed")
		return nil
	})

	bus.Subscribe(events.EventOperationFailed, func(ev *events.Event) error {
		outcome, err := decode(ev)
		if err != nil {
			return nil
		}
		logger.Warn().
			Str("item_id", outcome.ItemID).
			Str("operation", outcome.Operation).
			Int("attempts", outcome.Attempts).
			Str("error", outcome.Error).
			Msg("operation failed")
		return nil
	})

	bus.Subscribe(events.EventOperationConflicted, func(ev *events.Event) error {
		outcome, err := decode(ev)
		if err != nil {
			return nil
		}
		logger.Warn().
			Str("item_id", outcome.ItemID).
			Str("operation", outcome.Operation).
			Msg("operation awaiting manual resolution")
		return nil
	})

	bus.Subscribe(events.EventQueueCleared, func(ev *events.Event) error {
		var payload events.QueueCleared
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return nil
		}
		logger.Info().Int("removed", payload.Removed).Msg("queue cleared")
		return nil
	})
}

func serveMetrics(port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info().Str("addr", addr).Msg("metrics listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
