// Command server boots the conversational streaming orchestrator: it loads
// configuration, wires the Conversation Registry (C4), Tool Manager (C3)
// server list, Storage Facade (C7) backend, completion client, and Streaming
// Orchestrator (C5) together behind the C8 HTTP Boundary Adapter's gin
// router, then serves it with graceful shutdown -- grounded on the teacher's
// cmd/server/main.go signal-handling/shutdown-timeout shape, trimmed to this
// module's single HTTP server (no GraphQL gateway, no reverse-proxy surface).
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/nats-io/nats.go"

	"github.com/frevagpt/orchestrator/internal/completion"
	"github.com/frevagpt/orchestrator/internal/config"
	"github.com/frevagpt/orchestrator/internal/distributed"
	"github.com/frevagpt/orchestrator/internal/httpapi"
	"github.com/frevagpt/orchestrator/internal/logger"
	"github.com/frevagpt/orchestrator/internal/orchestrator"
	"github.com/frevagpt/orchestrator/internal/registry"
	"github.com/frevagpt/orchestrator/internal/storage"
	"github.com/frevagpt/orchestrator/internal/toolmanager"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	log.Info("frevagpt orchestrator starting",
		"storage_backend", cfg.StorageBackend,
		"dev_mode", cfg.DevMode,
		"tool_servers", cfg.AvailableMCPServers,
	)

	store, err := buildStore(cfg, log)
	if err != nil {
		log.Error("failed to initialize storage backend", slog.String("error", err.Error()))
		os.Exit(1)
	}

	reg := registry.New(log)

	compClient := completion.New(cfg.LiteLLMAddress, "", nil)
	orch := orchestrator.New(reg, compClient, store, log)
	orch.HeartbeatInterval = time.Duration(cfg.HeartbeatIntervalSec) * time.Second
	orch.StateProbeInterval = time.Duration(cfg.StateProbeIntervalMS) * time.Millisecond

	toolServers := make([]toolmanager.ServerConfig, 0, len(cfg.AvailableMCPServers))
	for _, name := range cfg.AvailableMCPServers {
		url, ok := cfg.MCPServerURLs[name]
		if !ok {
			continue
		}
		toolServers = append(toolServers, toolmanager.ServerConfig{Name: name, BaseURL: url})
	}

	scheduler := registry.NewScheduler(reg, store, time.Duration(cfg.MaxIdleSeconds)*time.Second, log)
	if err := scheduler.Start(cfg.CleanupCron); err != nil {
		log.Error("failed to start idle-eviction scheduler", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer scheduler.Stop()

	var relay *distributed.CancelRelay
	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			log.Error("failed to connect to NATS, distributed stop relay disabled", slog.String("error", err.Error()))
		} else {
			relay = distributed.New(nc, reg, log, logger.GetInstanceID())
			if err := relay.Start(); err != nil {
				log.Error("failed to start distributed stop relay", slog.String("error", err.Error()))
				relay = nil
			} else {
				defer relay.Stop()
				defer nc.Close()
			}
		}
	}

	server := httpapi.New(reg, orch, store, cfg, log, toolServers, relay)

	httpServer := &http.Server{
		Addr:              cfg.Host + ":" + cfg.BackendPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		log.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server forced to shutdown", slog.String("error", err.Error()))
	}

	if saver, ok := store.(*storage.AsyncSaver); ok {
		saver.Shutdown()
	}

	log.Info("shutdown complete")
}

// buildStore selects and constructs the C7 Storage Facade backend per
// FREVAGPT_STORAGE_BACKEND, wrapping it in an AsyncSaver when
// FREVAGPT_STORAGE_ASYNC is enabled (default true) so the orchestrator's
// turn-completion path never blocks on storage latency (spec.md §5).
func buildStore(cfg *config.Config, log *logger.Logger) (storage.Store, error) {
	var backend storage.Store

	switch cfg.StorageBackend {
	case config.StorageBackendFirestore:
		client, err := firestore.NewClient(context.Background(), cfg.FirestoreProjectID)
		if err != nil {
			return nil, err
		}
		backend = storage.NewFirestoreStore(client)
	default:
		backend = storage.NewMemoryStore()
	}

	if cfg.StorageAsync {
		backend = storage.NewAsyncSaver(backend, cfg.StorageWorkerPool, cfg.StorageQueueSize, cfg.StorageSaveTimeout, log)
	}
	return backend, nil
}
