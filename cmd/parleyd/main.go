package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbarnett/parley/internal/cache"
	"github.com/mbarnett/parley/internal/config"
	"github.com/mbarnett/parley/internal/database"
	"github.com/mbarnett/parley/internal/pipeline"
	"github.com/mbarnett/parley/internal/push"
	"github.com/mbarnett/parley/internal/registry"
	"github.com/mbarnett/parley/internal/store"
	"github.com/mbarnett/parley/internal/text"
	"github.com/mbarnett/parley/internal/version"
	"github.com/mbarnett/parley/internal/ws"
)

func main() {
	configPath := flag.String("config", "configs/parleyd.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting parleyd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"addr", cfg.Server.Addr,
		"driver", cfg.Database.Driver,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Select the storage driver. The writer owns the mutating surface; reads
	// go straight to the read surface.
	var (
		writeStore store.WriteStore
		readStore  store.ReadStore
		pools      *database.Pools
	)
	switch cfg.Database.Driver {
	case "postgres":
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)
		pools, err = database.NewPools(ctx, cfg.Database.Postgres)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pools.Close()

		pg := store.NewPostgres(pools)
		writeStore, readStore = pg, pg
		logger.Info("database connected")

	case "memory":
		mem := store.NewMemory()
		writeStore, readStore = mem, mem
		logger.Warn("using in-memory store, data will not survive restart")

	default:
		logger.Error("unknown database driver", "driver", cfg.Database.Driver)
		os.Exit(1)
	}

	// Build components
	caches := cache.New(cfg.Cache, logger)
	reg := registry.New(cfg.Registry, logger)
	writer := store.NewWriter(writeStore, cfg.Writer, logger)
	dispatcher := push.NewDispatcher(push.LogSender{Logger: logger}, cfg.Push, logger)

	type component struct {
		name string
		item interface {
			Start(ctx context.Context) error
			Stop(ctx context.Context) error
		}
	}
	components := []component{
		{"caches", caches},
		{"registry", reg},
		{"writer", writer},
		{"push", dispatcher},
	}
	for _, c := range components {
		if err := c.item.Start(ctx); err != nil {
			logger.Error("failed to start component", "component", c.name, "error", err)
			os.Exit(1)
		}
	}

	p := pipeline.New(writer, readStore, caches, reg,
		text.NewValidator(0), text.NewParser(), dispatcher, logger)

	// HTTP surface
	mux := http.NewServeMux()
	mux.Handle("/ws", ws.NewHandler(cfg.Server, p, reg, logger))
	mux.Handle("/health", healthHandler(pools, writer, reg, caches))

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	logger.Info("parleyd running",
		"instance_id", cfg.Instance.ID,
		"ws_path", "/ws",
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// Stop the listener first so no new work arrives, then the components in
	// reverse start order. The writer drains its queue before returning.
	server.Shutdown(shutdownCtx)
	for i := len(components) - 1; i >= 0; i-- {
		if err := components[i].item.Stop(shutdownCtx); err != nil {
			logger.Warn("component stop failed",
				"component", components[i].name, "error", err)
		}
	}

	logger.Info("parleyd stopped")
}

// healthHandler reports liveness plus per-component counters.
func healthHandler(pools *database.Pools, writer *store.Writer, reg *registry.Registry, caches *cache.Caches) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		if pools != nil {
			if err := pools.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["postgres"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["postgres"] = "connected"
			}
		} else {
			health.Components["store"] = "memory"
		}

		health.Components["writer"] = writer.Stats()
		health.Components["registry"] = reg.Stats()
		health.Components["caches"] = caches.AllStats()

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})
}
