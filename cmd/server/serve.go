package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dhruvsoni1802/browser-usage-tracker/internal/api"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/browser"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/config"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/metrics"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/session"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/storage"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/syncer"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/tracker"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tracker daemon (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), logger)
		},
	}
}

// openStore connects the configured storage backend
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		store, err := storage.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKeyPrefix)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := storage.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

func newEngine(repo *storage.Repository, cfg *config.Config, clock quartz.Clock, m *metrics.Metrics, logger *slog.Logger) *syncer.Engine {
	client := syncer.NewClient(&http.Client{Timeout: cfg.SyncTimeout})
	return syncer.NewEngine(repo, client, syncer.DialProber{Timeout: 3 * time.Second}, clock, m, logger)
}

func runServe(parent context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	slog.Info("Browser Usage Tracker starting",
		"server_port", cfg.ServerPort,
		"store", cfg.StoreBackend,
		"debug_port", cfg.CDPPort)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Create a channel to receive shutdown signals
	// Ctrl+C is SIGINT, kill signal is SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	go func() {
		select {
		case sig := <-quit:
			slog.Info("shutdown initiated", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	var seed *session.Config
	if cfg.SeedConfigFile != "" {
		if seed, err = config.LoadSeed(cfg.SeedConfigFile); err != nil {
			return err
		}
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	repo := storage.NewRepository(store)
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)
	clock := quartz.NewReal()

	if cfg.BrowserLaunch {
		process, err := launchBrowser(ctx, cfg)
		if err != nil {
			return err
		}
		if process != nil {
			defer func() {
				if err := process.Stop(); err != nil {
					slog.Warn("failed to stop browser", "error", err)
				}
			}()
		}
	}

	var tr *tracker.Tracker
	watcher := browser.NewWatcher(cfg.CDPHost, cfg.CDPPort, cfg.CDPPollInterval,
		browser.SinkFunc(func(ctx context.Context, ev tracker.Event) error { return tr.Send(ctx, ev) }),
		clock, logger.With("component", "watcher"))

	tr = tracker.New(tracker.Options{
		Repo:        repo,
		Engine:      newEngine(repo, cfg, clock, m, logger.With("component", "syncer")),
		Clock:       clock,
		Metrics:     m,
		Logger:      logger.With("component", "tracker"),
		Querier:     watcher,
		SeedConfig:  seed,
		SyncTimeout: cfg.SyncTimeout,
	})

	server := api.NewServer(cfg.ServerPort, tr, store, registry)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tr.Run(gctx)
	})
	g.Go(func() error {
		select {
		case <-tr.Started():
		case <-gctx.Done():
			return nil
		}
		return watcher.Run(gctx)
	})
	g.Go(func() error {
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	slog.Info("Service ready", "status", "awaiting shutdown signal")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	slog.Info("shutdown complete")
	return nil
}

// launchBrowser starts a debuggable browser unless one already owns the port
func launchBrowser(ctx context.Context, cfg *config.Config) (*browser.Process, error) {
	port, err := strconv.Atoi(cfg.CDPPort)
	if err != nil {
		return nil, fmt.Errorf("invalid CDP_PORT %q: %w", cfg.CDPPort, err)
	}

	profile := cfg.BrowserProfile
	if profile == "" {
		profile = browser.DefaultUserDataDir()
	}

	process, err := browser.NewProcess(cfg.ChromiumPath, port, profile)
	if errors.Is(err, browser.ErrPortInUse) {
		slog.Info("debug port busy, attaching to running browser", "port", port)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := process.Start(); err != nil {
		return nil, err
	}

	readyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := process.WaitReady(readyCtx); err != nil {
		_ = process.Stop()
		return nil, err
	}

	slog.Info("browser launched", "pid", process.GetPID(), "debug_url", process.GetDebugURL())
	return process, nil
}
