package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/telemetry"
)

// MessageType — тип события.
type MessageType string

// Типы событий.
const (
	MessageTypeExecutionCompleted MessageType = "execution.completed"
	MessageTypeExecutionTimedOut  MessageType = "execution.timed_out"
	MessageTypeRunFinished        MessageType = "run.finished"
)

// Publisher публикует события в relay.events.
//
// Реализует orchestrator.EventPublisher и watchdog.EventPublisher.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger.With("component", "mq.publisher"),
		now:    time.Now,
	}
}

// Message — конверт события.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// ExecutionPayload — событие о завершении execution.
type ExecutionPayload struct {
	ExecutionID uuid.UUID     `json:"execution_id"`
	TaskID      uuid.UUID     `json:"task_id"`
	RunID       *uuid.UUID    `json:"run_id,omitempty"`
	NodeID      string        `json:"node_id,omitempty"`
	WorkerID    *uuid.UUID    `json:"worker_id,omitempty"`
	Status      domain.Status `json:"status"`
	Error       string        `json:"error,omitempty"`
	DurationMs  int64         `json:"duration_ms"`
}

// RunPayload — событие о завершении run.
type RunPayload struct {
	RunID        uuid.UUID     `json:"run_id"`
	WorkflowID   uuid.UUID     `json:"workflow_id"`
	WorkflowName string        `json:"workflow_name"`
	ParentID     *uuid.UUID    `json:"parent_id,omitempty"`
	Status       domain.Status `json:"status"`
	Error        string        `json:"error,omitempty"`
	DurationMs   int64         `json:"duration_ms"`
}

// NewExecutionPayload собирает payload из execution.
func NewExecutionPayload(e *domain.TaskExecution) ExecutionPayload {
	return ExecutionPayload{
		ExecutionID: e.ID,
		TaskID:      e.TaskID,
		RunID:       e.WorkflowExecutionID,
		NodeID:      e.NodeID,
		WorkerID:    e.WorkerID,
		Status:      e.Status,
		Error:       e.Error,
		DurationMs:  e.DurationMs,
	}
}

// NewRunPayload собирает payload из run.
func NewRunPayload(run *domain.WorkflowExecution) RunPayload {
	return RunPayload{
		RunID:        run.ID,
		WorkflowID:   run.WorkflowID,
		WorkflowName: run.WorkflowName,
		ParentID:     run.ParentExecutionID,
		Status:       run.Status,
		Error:        run.Error,
		DurationMs:   run.DurationMs,
	}
}

// Publish публикует событие с routing key.
func (p *Publisher) Publish(ctx context.Context, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(ExchangeEvents),
			string(routingKey),
			false, // mandatory: событие без подписчиков просто теряется
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish %s: %w", routingKey, err)
		}

		p.logger.Debug("published event",
			"routing_key", routingKey,
			"message_id", msg.ID,
		)
		return nil
	})

	result := "ok"
	if err != nil {
		result = "error"
	}
	telemetry.EventsPublished.WithLabelValues(string(routingKey), result).Inc()
	return err
}

// PublishExecutionCompleted публикует execution.completed.
func (p *Publisher) PublishExecutionCompleted(ctx context.Context, e *domain.TaskExecution) error {
	return p.publish(ctx, MessageTypeExecutionCompleted, RoutingKeyExecutionCompleted, NewExecutionPayload(e))
}

// PublishExecutionTimedOut публикует execution.timed_out.
func (p *Publisher) PublishExecutionTimedOut(ctx context.Context, e *domain.TaskExecution) error {
	return p.publish(ctx, MessageTypeExecutionTimedOut, RoutingKeyExecutionTimedOut, NewExecutionPayload(e))
}

// PublishRunFinished публикует run.finished.
func (p *Publisher) PublishRunFinished(ctx context.Context, run *domain.WorkflowExecution) error {
	return p.publish(ctx, MessageTypeRunFinished, RoutingKeyRunFinished, NewRunPayload(run))
}

func (p *Publisher) publish(ctx context.Context, t MessageType, key RoutingKey, payload any) error {
	return p.Publish(ctx, key, &Message{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   payload,
		Timestamp: p.now().UTC(),
	})
}
