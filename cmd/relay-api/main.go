// Relay API — HTTP сервер оркестратора.
//
// Обслуживает:
//   - протокол worker'ов (register, heartbeat, poll, claim, complete)
//   - запуск workflows и разовых tasks
//   - чтение и terminate runs
//   - управление worker'ами и тегами
//
// В режиме store=memory состояние живёт в процессе, поэтому
// watchdog запускается здесь же.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Relay/internal/api"
	"github.com/shaiso/Relay/internal/cache"
	"github.com/shaiso/Relay/internal/config"
	"github.com/shaiso/Relay/internal/dispatch"
	"github.com/shaiso/Relay/internal/mq"
	"github.com/shaiso/Relay/internal/orchestrator"
	"github.com/shaiso/Relay/internal/registry"
	"github.com/shaiso/Relay/internal/repo"
	"github.com/shaiso/Relay/internal/telemetry"
	"github.com/shaiso/Relay/internal/watchdog"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var configPath, seedPath string

	rootCmd := &cobra.Command{
		Use:           "relay-api",
		Short:         "Relay API server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(configPath, seedPath)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config (default: $RELAY_CONFIG)")
	rootCmd.Flags().StringVar(&seedPath, "seed", "", "YAML catalog to load in memory mode")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(configPath, seedPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := telemetry.SetupLogger(cfg.Log)
	logger.Info("starting relay-api", "version", version, "store", cfg.Store)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStores(ctx, cfg, seedPath, logger)
	if err != nil {
		return err
	}
	defer st.close()

	// Кэш глобальных переменных
	var variables repo.Variables = st.variables
	if cfg.Redis.URL != "" {
		client, err := cache.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Warn("redis not available, variables are read directly", "error", err)
		} else {
			defer client.Close()
			variables = cache.NewVariables(client, st.variables, cfg.Redis.VariablesTTL, logger)
			logger.Info("redis connected")
		}
	}

	// RabbitMQ
	publisher := openPublisher(ctx, cfg.RabbitMQ.URL, logger)
	if publisher != nil {
		defer publisher.conn.Close()
	}

	reg := registry.New(registry.Config{
		Workers:      st.workers,
		OfflineAfter: cfg.Dispatch.OfflineAfter,
		Logger:       logger,
	})

	router := dispatch.New(dispatch.Config{
		Executions:     st.executions,
		Workers:        st.workers,
		Tasks:          st.tasks,
		Variables:      variables,
		CandidateLimit: cfg.Dispatch.CandidateLimit,
		Logger:         logger,
	})

	orchCfg := orchestrator.Config{
		Runs:       st.runs,
		Executions: st.executions,
		Tasks:      st.tasks,
		Workflows:  st.workflows,
		Settings:   st.settings,
		Workers:    reg,
		Logger:     logger,
	}
	if publisher != nil {
		orchCfg.Events = publisher.Publisher
	}
	orch := orchestrator.New(orchCfg)

	if cfg.Store == config.StoreMemory {
		wdCfg := watchdog.Config{
			Executions:     st.executions,
			Tasks:          st.tasks,
			Terminator:     orch,
			Schedule:       cfg.Watchdog.Schedule,
			DefaultTimeout: cfg.Watchdog.DefaultTimeout,
			BatchSize:      cfg.Watchdog.BatchSize,
			Logger:         logger,
		}
		if publisher != nil {
			wdCfg.Events = publisher.Publisher
		}
		wd := watchdog.New(wdCfg)
		if err := wd.Start(ctx); err != nil {
			return err
		}
		defer wd.Stop()
	}

	handler := api.NewHandler(api.Config{
		Orchestrator: orch,
		Router:       router,
		Registry:     reg,
		Tags:         st.tags,
		Health:       st.health,
		Logger:       logger,
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              ":" + cfg.API.Port,
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

// eventSink — publisher вместе с соединением, которое нужно закрыть.
type eventSink struct {
	*mq.Publisher
	conn *mq.Connection
}

// openPublisher подключается к RabbitMQ. Пустой URL или недоступный
// брокер отключают события: API продолжает работать без них.
func openPublisher(ctx context.Context, url string, logger *slog.Logger) *eventSink {
	if url == "" {
		logger.Info("rabbitmq url not set, events disabled")
		return nil
	}

	conn, err := mq.NewConnection(url, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, events disabled", "error", err)
		return nil
	}
	if err := mq.SetupTopology(ctx, conn); err != nil {
		logger.Warn("failed to setup topology", "error", err)
	}
	logger.Info("RabbitMQ connected")

	return &eventSink{Publisher: mq.NewPublisher(conn, logger), conn: conn}
}
