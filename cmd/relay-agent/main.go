// Relay Agent — worker, выполняющий executions.
//
// Agent:
//   - регистрируется в relay-api по hostname и тегам
//   - шлёт heartbeat
//   - забирает работу через poll и выполняет её (http, variable)
//   - отправляет отчёт о результате
//
// Agents масштабируются горизонтально: каждый экземпляр со своим hostname.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Relay/internal/config"
	"github.com/shaiso/Relay/internal/telemetry"
	"github.com/shaiso/Relay/internal/worker"
)

const apiTimeout = 30 * time.Second

var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "relay-agent",
		Short:         "Relay worker agent",
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

	logger := telemetry.SetupLogger(cfg.Log)
	logger.Info("starting relay-agent",
		"version", version,
		"api_url", cfg.Agent.APIURL,
		"hostname", cfg.Agent.Hostname,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	agent := worker.New(worker.Config{
		API:               worker.NewClient(cfg.Agent.APIURL, apiTimeout),
		Hostname:          cfg.Agent.Hostname,
		Tags:              cfg.Agent.Tags,
		PollInterval:      cfg.Agent.PollInterval,
		HeartbeatInterval: cfg.Agent.HeartbeatInterval,
		Logger:            logger,
	})

	if err := agent.Start(ctx); err != nil {
		return fmt.Errorf("start agent: %w", err)
	}

	<-ctx.Done()

	agent.Stop()
	logger.Info("relay-agent stopped")
	return nil
}
