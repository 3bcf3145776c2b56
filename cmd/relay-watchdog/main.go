// Relay Watchdog — фоновая проверка таймаутов executions.
//
// Несколько реплик могут работать одновременно: проверку выполняет
// только держатель advisory lock в PostgreSQL.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/shaiso/Relay/internal/config"
	"github.com/shaiso/Relay/internal/mq"
	"github.com/shaiso/Relay/internal/orchestrator"
	"github.com/shaiso/Relay/internal/registry"
	"github.com/shaiso/Relay/internal/repo"
	"github.com/shaiso/Relay/internal/telemetry"
	"github.com/shaiso/Relay/internal/watchdog"
)

const watchdogLockKey int64 = 424242

var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "relay-watchdog",
		Short:         "Relay execution timeout watchdog",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(configPath)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config (default: $RELAY_CONFIG)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Store != config.StorePostgres {
		return fmt.Errorf("relay-watchdog requires store %q, got %q", config.StorePostgres, cfg.Store)
	}

	logger := telemetry.SetupLogger(cfg.Log)
	logger.Info("starting relay-watchdog", "version", version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	executions := repo.NewExecutionRepo(pool)
	tasks := repo.NewTaskRepo(pool)

	orchCfg := orchestrator.Config{
		Runs:       repo.NewRunRepo(pool),
		Executions: executions,
		Tasks:      tasks,
		Workflows:  repo.NewWorkflowRepo(pool),
		Settings:   repo.NewSettingsRepo(pool),
		Workers: registry.New(registry.Config{
			Workers:      repo.NewWorkerRepo(pool),
			OfflineAfter: cfg.Dispatch.OfflineAfter,
			Logger:       logger,
		}),
		Logger: logger,
	}
	wdCfg := watchdog.Config{
		Executions:     executions,
		Tasks:          tasks,
		Schedule:       cfg.Watchdog.Schedule,
		DefaultTimeout: cfg.Watchdog.DefaultTimeout,
		BatchSize:      cfg.Watchdog.BatchSize,
		Logger:         logger,
	}

	// RabbitMQ
	if cfg.RabbitMQ.URL != "" {
		conn, err := mq.NewConnection(cfg.RabbitMQ.URL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, events disabled", "error", err)
		} else {
			defer conn.Close()
			if err := mq.SetupTopology(ctx, conn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			publisher := mq.NewPublisher(conn, logger)
			orchCfg.Events = publisher
			wdCfg.Events = publisher
			logger.Info("RabbitMQ connected")
		}
	}

	wdCfg.Terminator = orchestrator.New(orchCfg)

	leader := repo.NewLeader(pool, watchdogLockKey)
	defer leader.Release(context.Background())
	wdCfg.Leader = leader

	wd := watchdog.New(wdCfg)
	if err := wd.Start(ctx); err != nil {
		return err
	}
	defer wd.Stop()

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              ":" + cfg.Watchdog.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
	return nil
}
