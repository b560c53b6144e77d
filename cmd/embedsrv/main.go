// Command embedsrv starts the centralized code-embedding service: an HTTP
// server fronting a worker pool of external model-hosting processes, backed
// by the on-disk content-addressed cache and an optional BadgerDB global
// mirror. Wiring mirrors the teacher's cmd/trace/main.go: flag parsing,
// gin setup, signal-driven graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vectorforge/embedcore/services/embed/cache"
	"github.com/vectorforge/embedcore/services/embed/config"
	"github.com/vectorforge/embedcore/services/embed/embedder"
	"github.com/vectorforge/embedcore/services/embed/globalcache"
	"github.com/vectorforge/embedcore/services/embed/httpapi"
	"github.com/vectorforge/embedcore/services/embed/metrics"
	"github.com/vectorforge/embedcore/services/embed/pool"
	"github.com/vectorforge/embedcore/services/embed/registry"
	"github.com/vectorforge/embedcore/services/embed/shutdown"
)

func main() {
	port := flag.Int("port", 0, "HTTP listen port (0 uses config default)")
	cacheDir := flag.String("cache-dir", "", "on-disk cache directory (empty uses config default)")
	configPath := flag.String("config", "", "optional YAML config file, re-read live for auto-shutdown thresholds")
	debug := flag.Bool("debug", false, "enable debug logging and gin debug mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *cacheDir != "" {
		cfg.CacheDir = *cacheDir
	}

	shutdownTracing, err := setupTracing(context.Background(), tracingConfig{
		otlpEndpoint: cfg.OTLPEndpoint,
		debug:        *debug,
		version:      "dev",
	})
	if err != nil {
		slog.Error("failed to configure tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("tracer shutdown error", slog.String("error", err.Error()))
		}
	}()

	if err := run(cfg, *configPath, *debug); err != nil {
		slog.Error("embedsrv exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath string, debug bool) error {
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	store, err := cache.Open(cfg.CacheDir, uint64(cfg.CacheCapacity), cfg.Dim, cfg.ModelID)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer store.Close()

	mirror, mirrorDB := openMirror(cfg)
	if mirrorDB != nil {
		defer mirrorDB.Close()
	}

	// Worker init gets its own generous timeout since it covers loading the
	// model into memory, which for bge-small can take several seconds.
	const workerInitTimeout = 30 * time.Second

	mc := metrics.New(prometheus.DefaultRegisterer)

	// InitTimeout bounds the init handshake. The context passed to pool.New
	// bounds each worker process's whole lifetime, so it is never cancelled.
	workerPool, err := pool.New(context.Background(), pool.Config{
		WorkerCount:        cfg.MaxWorkers,
		Command:            cfg.ModelCommand,
		QueueHighWater:     cfg.QueueHighWater,
		BatchSoftDeadline:  cfg.BatchSoftDeadline,
		BatchHardDeadline:  cfg.BatchHardDeadline,
		WorkerStall:        cfg.WorkerStall,
		InitTimeout:        workerInitTimeout,
		MaxRespawnFailures: 3,
		RespawnWindow:      time.Minute,
		DrainGrace:         5 * time.Second,
		Metrics:            mc,
	}, slog.Default())
	if err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	e := embedder.New(store, mirror, workerPool, cfg.MaxBatchSize, cfg.ModelID)
	reg := registry.New()

	ctrl := shutdown.New(shutdown.Config{
		NoClientsTimeout: cfg.NoClientsTimeout,
		IdleTimeout:      cfg.IdleTimeout,
	}, reg, workerPool, slog.Default())
	defer ctrl.Close()

	watcher, err := config.WatchThresholds(configPath, func(updated *config.Config) {
		ctrl.UpdateConfig(shutdown.Config{
			NoClientsTimeout: updated.NoClientsTimeout,
			IdleTimeout:      updated.IdleTimeout,
		})
	})
	if err != nil {
		slog.Warn("config file watch unavailable, thresholds fixed for process lifetime", slog.String("error", err.Error()))
	}
	if watcher != nil {
		defer watcher.Close()
	}

	server := httpapi.New(e, reg, workerPool, ctrl, cfg.ModelID, cfg.Dim, cfg.MaxWorkers, slog.Default(), mc, cfg.ProjectPath)

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpSrv := &http.Server{Addr: addr, Handler: server.Handler(debug)}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("embedsrv listening", slog.String("addr", addr), slog.String("model_id", cfg.ModelID), slog.Int("workers", cfg.MaxWorkers))
		serveErr <- httpSrv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
	case <-quit:
		slog.Info("shutting down embedsrv")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown error", slog.String("error", err.Error()))
		}
		workerPool.Shutdown()
	}

	return nil
}

func openMirror(cfg *config.Config) (*globalcache.Mirror, *globalcache.DB) {
	dbCfg := globalcache.DefaultConfig()
	dbCfg.Dir = cfg.CacheDir + "/global"
	db, err := globalcache.OpenDB(dbCfg)
	if err != nil {
		slog.Warn("global cache mirror unavailable, continuing without it", slog.String("error", err.Error()))
		return nil, nil
	}
	return globalcache.NewMirror(db, 0, slog.Default()), db
}
