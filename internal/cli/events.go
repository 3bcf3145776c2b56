package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/Relay/internal/mq"
)

// NewEventsCmd создаёт группу команд для событий RabbitMQ.
func NewEventsCmd(amqpURLFn func() string, outputFn func() *Output, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Observe orchestration events",
	}

	cmd.AddCommand(newEventsTailCmd(amqpURLFn, outputFn, logger))

	return cmd
}

func newEventsTailCmd(amqpURLFn func() string, outputFn func() *Output, logger *slog.Logger) *cobra.Command {
	var patterns []string

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream events until interrupted",
		Long: "Stream events from the relay.events exchange. Patterns are AMQP topic\n" +
			"patterns, e.g. run.* or execution.timed_out (default: all events).",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			conn, err := mq.NewConnection(amqpURLFn(), logger)
			if err != nil {
				return fmt.Errorf("connect to rabbitmq: %w", err)
			}
			defer conn.Close()

			if err := mq.SetupTopology(ctx, conn); err != nil {
				return fmt.Errorf("setup topology: %w", err)
			}

			keys := make([]mq.RoutingKey, len(patterns))
			for i, p := range patterns {
				keys[i] = mq.RoutingKey(p)
			}

			consumer := mq.NewConsumer(conn, logger, mq.ConsumerConfig{
				Patterns: keys,
				Handler: func(_ context.Context, d *mq.Delivery) error {
					if out.jsonMode {
						out.JSON(d.Message)
						return nil
					}
					out.Line(FormatEvent(&d.Message))
					return nil
				},
			})

			out.Success("Tailing events, press Ctrl+C to stop")
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&patterns, "pattern", nil, "Routing key pattern (repeatable)")

	return cmd
}

// FormatEvent форматирует событие в одну строку.
func FormatEvent(msg *mq.Message) string {
	ts := msg.Timestamp.Format("15:04:05.000")

	switch msg.Type {
	case mq.MessageTypeExecutionCompleted, mq.MessageTypeExecutionTimedOut:
		p, err := mq.ParsePayload[mq.ExecutionPayload](msg)
		if err != nil {
			break
		}
		line := fmt.Sprintf("%s %-20s execution=%s status=%s", ts, msg.Type, p.ExecutionID, Status(string(p.Status)))
		if p.RunID != nil {
			line += fmt.Sprintf(" run=%s node=%s", p.RunID, p.NodeID)
		}
		if p.Error != "" {
			line += fmt.Sprintf(" error=%q", p.Error)
		}
		return line

	case mq.MessageTypeRunFinished:
		p, err := mq.ParsePayload[mq.RunPayload](msg)
		if err != nil {
			break
		}
		line := fmt.Sprintf("%s %-20s run=%s workflow=%q status=%s duration_ms=%d",
			ts, msg.Type, p.RunID, p.WorkflowName, Status(string(p.Status)), p.DurationMs)
		if p.Error != "" {
			line += fmt.Sprintf(" error=%q", p.Error)
		}
		return line
	}

	payload, _ := json.Marshal(msg.Payload)
	return fmt.Sprintf("%s %-20s %s", ts, msg.Type, payload)
}
