package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler — обработчик события. Ошибка возвращает сообщение в очередь.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — доставленное событие.
type Delivery struct {
	Message    Message
	RoutingKey RoutingKey
	Raw        amqp.Delivery
}

// Consumer читает события из relay.events.
//
// Если Queue не задана, на каждом (пере)подключении создаётся временная
// эксклюзивная очередь, привязанная по Patterns.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    string
	patterns []RoutingKey
	handler  Handler
	prefetch int

	cancelFunc context.CancelFunc
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Queue — существующая очередь. Пусто — временная очередь.
	Queue string

	// Patterns — шаблоны routing key для временной очереди (по умолчанию "#").
	Patterns []RoutingKey

	Handler  Handler
	Prefetch int
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		conn:     conn,
		logger:   logger.With("component", "mq.consumer"),
		queue:    cfg.Queue,
		patterns: cfg.Patterns,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Start потребляет события до отмены ctx.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	defer cancel()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		deliveries, queue, err := c.setupConsume()
		if err != nil {
			c.logger.Error("failed to setup consume", "error", err)
		} else {
			c.logger.Info("consumer started", "queue", queue)
			err = c.processDeliveries(ctx, deliveries)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("deliveries channel closed, waiting for reconnect", "queue", queue, "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.ReconnectNotify():
		}
	}
}

// setupConsume объявляет очередь (если нужно) и начинает потребление.
func (c *Consumer) setupConsume() (<-chan amqp.Delivery, string, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, "", ErrNotConnected
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, "", fmt.Errorf("set qos: %w", err)
	}

	queue := c.queue
	if queue == "" {
		name, err := declareTailQueue(ch, c.patterns)
		if err != nil {
			return nil, "", err
		}
		queue = name
	}

	deliveries, err := ch.Consume(
		queue,
		"",    // consumer tag (auto-generated)
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, "", fmt.Errorf("consume %s: %w", queue, err)
	}
	return deliveries, queue, nil
}

func (c *Consumer) processDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.handleDelivery(ctx, raw)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) {
	msg, err := DecodeMessage(raw.Body)
	if err != nil {
		c.logger.Error("dropping malformed event",
			"routing_key", raw.RoutingKey,
			"error", err,
		)
		_ = raw.Nack(false, false)
		return
	}

	delivery := &Delivery{Message: *msg, RoutingKey: RoutingKey(raw.RoutingKey), Raw: raw}
	if err := c.handler(ctx, delivery); err != nil {
		c.logger.Error("handler failed",
			"message_id", msg.ID,
			"type", msg.Type,
			"error", err,
		)
		_ = raw.Nack(false, true)
		return
	}
	_ = raw.Ack(false)
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

// DecodeMessage разбирает конверт события.
func DecodeMessage(body []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	if msg.Type == "" {
		return nil, errors.New("message has no type")
	}
	return &msg, nil
}

// ParsePayload разбирает payload события в указанный тип.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}
	return result, nil
}
