package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"feedwatch/internal/config"
	"feedwatch/internal/logging"
	"feedwatch/internal/watcher"
	"feedwatch/internal/watcher/checkpoint"
	"feedwatch/internal/watcher/dispatch"
	"feedwatch/internal/watcher/events"
	"feedwatch/internal/watcher/feed"
	"feedwatch/internal/watcher/supervisor"
)

func main() {
	configDir := flag.String("config", "config", "configuration directory")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "feedwatch: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "feedwatch: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logging.Shutdown() }()

	logger := slog.Default()
	logger.Info("feedwatch starting",
		"database", cfg.Watcher.Mongo.Database,
		"collection", cfg.Watcher.Mongo.Collection,
		"checkpoint_backend", cfg.Watcher.Checkpoint.Backend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := run(ctx, cancel, sigCh, cfg, logger); err != nil {
		logger.Error("feedwatch failed", "error", err)
		os.Exit(1)
	}

	logger.Info("feedwatch stopped")
}

func run(ctx context.Context, cancel context.CancelFunc, sigCh <-chan os.Signal, cfg *config.Config, logger *slog.Logger) error {
	connectCtx, connectCancel := context.WithTimeout(ctx, cfg.Watcher.Mongo.Timeout)
	defer connectCancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.Watcher.Mongo.URI))
	if err != nil {
		return fmt.Errorf("connecting to mongodb: %w", err)
	}
	defer func() {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer disconnectCancel()
		if err := client.Disconnect(disconnectCtx); err != nil {
			logger.Warn("failed to disconnect from mongodb", "error", err)
		}
	}()

	store, closeStore, err := buildStore(ctx, cfg.Watcher, client)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.Watcher.Metrics.Enabled {
		startMetricsServer(cfg.Watcher.Metrics, logger)
	}

	source := feed.NewMongoSource(client, cfg.Watcher.Mongo.Database, cfg.Watcher.Mongo.Collection, logger)

	w, err := watcher.New(source, watcher.Options{
		Filter: cfg.Watcher.Filter,
		Store:  store,
		Checkpoint: checkpoint.Policy{
			Interval:   cfg.Watcher.Checkpoint.Interval,
			EventCount: cfg.Watcher.Checkpoint.EventCount,
			OnShutdown: cfg.Watcher.Checkpoint.OnShutdown,
		},
		HandlerPolicy: dispatch.Policy(cfg.Watcher.HandlerPolicy),
		Backoff:       supervisorConfig(cfg.Watcher.Backoff),
		Bootstrap:     watcher.Bootstrap(cfg.Watcher.Bootstrap.Mode),
		Callbacks: watcher.Callbacks{
			OnGap: func(events.ResumeToken) {
				logger.Warn("resume window lost, continuing from current position")
			},
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	handler := printEvent(os.Stdout, logger)
	if d := cfg.Watcher.RunDuration; d > 0 {
		return w.RunFor(ctx, d, handler)
	}
	return w.Run(ctx, handler)
}

func buildStore(ctx context.Context, cfg config.WatcherConfig, client *mongo.Client) (checkpoint.Store, func(), error) {
	noop := func() {}

	switch cfg.Checkpoint.Backend {
	case "memory":
		return checkpoint.NewMemoryStore(), noop, nil

	case "mongodb":
		db := client.Database(cfg.Mongo.Database)
		return checkpoint.NewMongoStore(db, cfg.Checkpoint.Mongo.Collection, cfg.Checkpoint.WatcherID), noop, nil

	case "nats":
		nc, err := nats.Connect(cfg.Checkpoint.NATS.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to nats: %w", err)
		}
		store, err := checkpoint.NewNATSStore(ctx, nc, checkpoint.NATSStoreOptions{
			Bucket:    cfg.Checkpoint.NATS.Bucket,
			WatcherID: cfg.Checkpoint.WatcherID,
		})
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return store, nc.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}

func supervisorConfig(cfg config.BackoffConfig) supervisor.Config {
	return supervisor.Config{
		BaseDelay:           cfg.BaseDelay,
		MaxDelay:            cfg.MaxDelay,
		MaxAttempts:         cfg.MaxAttempts,
		RandomizationFactor: cfg.RandomizationFactor,
	}
}

func startMetricsServer(cfg config.MetricsConfig, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("metrics server listening", "port", cfg.Port, "path", cfg.Path)
}

type eventOutput struct {
	Operation  string         `json:"operation"`
	Database   string         `json:"database"`
	Collection string         `json:"collection"`
	Key        string         `json:"key"`
	Document   map[string]any `json:"document,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// printEvent writes each event to w as one JSON line.
func printEvent(w *os.File, logger *slog.Logger) dispatch.Handler {
	enc := json.NewEncoder(w)
	return func(_ context.Context, evt *events.ChangeEvent) error {
		out := eventOutput{
			Operation:  string(evt.Operation),
			Database:   evt.Database,
			Collection: evt.Collection,
			Key:        evt.DocumentKey,
			Document:   evt.Payload,
			Timestamp:  time.UnixMilli(evt.Timestamp).UTC(),
		}
		if err := enc.Encode(out); err != nil {
			logger.Error("failed to encode event", "error", err)
			return err
		}
		return nil
	}
}
