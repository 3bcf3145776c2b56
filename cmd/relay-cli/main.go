// Relay CLI — инструмент командной строки для запуска workflows,
// просмотра runs и управления worker'ами через HTTP API.
//
// Использование:
//
//	relay [--api-url URL] [--json] [--no-color] <command> <subcommand> [flags]
//
// Команды:
//
//	workflows   Запуск workflows
//	tasks       Разовый запуск task
//	runs        Просмотр и terminate runs
//	executions  Просмотр executions
//	workers     Управление worker'ами
//	tags        Использование тегов
//	events      Поток событий из RabbitMQ
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Relay/internal/cli"
	"github.com/shaiso/Relay/internal/config"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL, amqpURL string
	var jsonOutput, noColor, verbose bool

	rootCmd := &cobra.Command{
		Use:           "relay",
		Short:         "Relay CLI — workflow dispatch tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&apiURL, "api-url", envOr("RELAY_API_URL", config.DefaultAPIURL), "API server URL")
	flags.StringVar(&amqpURL, "amqp-url", envOr("RABBITMQ_URL", config.DefaultRabbitMQURL), "RabbitMQ URL for events")
	flags.BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log diagnostics to stderr")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput, noColor) }
	amqpURLFn := func() string { return amqpURL }

	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	rootCmd.PersistentPreRun = func(_ *cobra.Command, _ []string) {
		if verbose {
			level.Set(slog.LevelDebug)
		}
	}

	rootCmd.AddCommand(
		cli.NewWorkflowCmd(clientFn, outputFn),
		cli.NewTaskCmd(clientFn, outputFn),
		cli.NewRunCmd(clientFn, outputFn),
		cli.NewExecutionCmd(clientFn, outputFn),
		cli.NewWorkerCmd(clientFn, outputFn),
		cli.NewTagsCmd(clientFn, outputFn),
		cli.NewEventsCmd(amqpURLFn, outputFn, logger),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
