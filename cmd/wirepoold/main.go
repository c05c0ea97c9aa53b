package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/fieldline/wirepool/internal/config"
	"github.com/fieldline/wirepool/internal/database"
	"github.com/fieldline/wirepool/internal/pool"
	"github.com/fieldline/wirepool/internal/recorder"
	"github.com/fieldline/wirepool/internal/transport"
	"github.com/fieldline/wirepool/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/wirepoold.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	runID := uuid.NewString()

	logger.Info("starting wirepoold",
		"version", version.Version,
		"commit", version.Commit,
		"run_id", runID,
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
		"endpoints", len(cfg.Endpoints),
	)

	// Cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database if the recorder is on
	var db *pgxpool.Pool
	if cfg.Recorder.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		db, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		logger.Info("database connected")
	}

	// Connection pool over a shared websocket transport
	tr := transport.NewWebSocket(transport.WebSocketConfig{
		WriteTimeout: cfg.Connection.WriteTimeout,
		BufferSize:   cfg.Connection.ReadBufferSize,
	}, logger)

	clientCfg := cfg.Connection.ClientConfig()
	connPool := pool.New(pool.Config{
		Capacity:       cfg.Connection.PoolCapacity,
		ClientDefaults: clientCfg,
	}, logger, pool.WithTransport(tr))

	// Bring up every configured endpoint
	var recorders []*recorder.Recorder
	for _, ep := range cfg.Endpoints {
		c, err := connPool.GetOrCreate(ctx, ep.URL, headerFrom(ep.Headers), clientCfg, true)
		if err != nil {
			logger.Error("failed to create connection", "endpoint", ep.Name, "error", err)
			os.Exit(1)
		}

		if ep.Record && db != nil {
			rec := recorder.New(recorder.Config{
				BatchSize:     cfg.Recorder.BatchSize,
				FlushInterval: cfg.Recorder.FlushInterval,
				SpoolSize:     cfg.Recorder.SpoolSize,
			}, endpointName(ep), c, db, logger)

			if err := rec.Start(ctx); err != nil {
				logger.Error("failed to start recorder", "endpoint", ep.Name, "error", err)
				os.Exit(1)
			}
			recorders = append(recorders, rec)
		}
	}

	// Health server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(cfg, connPool, db, runID),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port, "path", cfg.Health.Path)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	logger.Info("wirepoold running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d%s", cfg.Health.Port, cfg.Health.Path),
	)

	if err := g.Wait(); err != nil {
		logger.Error("runtime error", "error", err)
	}

	logger.Info("shutting down...")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, rec := range recorders {
		rec.Stop(stopCtx)
	}
	connPool.DisposeAll()

	logger.Info("wirepoold stopped")
}

// headerFrom converts config headers to an http.Header.
func headerFrom(h map[string]string) http.Header {
	if len(h) == 0 {
		return nil
	}
	header := make(http.Header, len(h))
	for k, v := range h {
		header.Set(k, v)
	}
	return header
}

// endpointName returns the configured name, falling back to the URL.
func endpointName(ep config.EndpointConfig) string {
	if ep.Name != "" {
		return ep.Name
	}
	return ep.URL
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(cfg *config.DaemonConfig, connPool *pool.Pool, db *pgxpool.Pool, runID string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(cfg.Health.Path, func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status      string        `json:"status"`
			Instance    string        `json:"instance"`
			RunID       string        `json:"run_id"`
			Version     string        `json:"version"`
			Connections []pool.Status `json:"connections"`
			Database    string        `json:"database,omitempty"`
		}{
			Status:      "healthy",
			Instance:    cfg.Instance.ID,
			RunID:       runID,
			Version:     version.String(),
			Connections: connPool.Snapshot(),
		}

		connected := 0
		for _, c := range health.Connections {
			if c.State == "connected" {
				connected++
			}
		}
		if connected == 0 {
			health.Status = "degraded"
		}

		if db != nil {
			if err := db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Database = "disconnected: " + err.Error()
			} else {
				health.Database = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
