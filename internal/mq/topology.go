package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// ExchangeEvents — topic exchange событий Relay.
const ExchangeEvents Exchange = "relay.events"

// Routing keys событий.
const (
	RoutingKeyExecutionCompleted RoutingKey = "execution.completed"
	RoutingKeyExecutionTimedOut  RoutingKey = "execution.timed_out"
	RoutingKeyRunFinished        RoutingKey = "run.finished"

	// RoutingKeyAll — шаблон подписки на все события.
	RoutingKeyAll RoutingKey = "#"
)

// SetupTopology объявляет exchange событий. Очереди создают подписчики.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, declareExchange)
}

func declareExchange(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		string(ExchangeEvents), // name
		"topic",                // type
		true,                   // durable
		false,                  // auto-deleted
		false,                  // internal
		false,                  // no-wait
		nil,                    // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", ExchangeEvents, err)
	}
	return nil
}

// declareTailQueue создаёт временную очередь подписчика и привязывает её
// к exchange по шаблонам. Очередь живёт, пока живёт канал.
func declareTailQueue(ch *amqp.Channel, patterns []RoutingKey) (string, error) {
	if err := declareExchange(ch); err != nil {
		return "", err
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return "", fmt.Errorf("declare tail queue: %w", err)
	}

	if len(patterns) == 0 {
		patterns = []RoutingKey{RoutingKeyAll}
	}
	for _, p := range patterns {
		if err := ch.QueueBind(q.Name, string(p), string(ExchangeEvents), false, nil); err != nil {
			return "", fmt.Errorf("bind %s to %s: %w", p, ExchangeEvents, err)
		}
	}
	return q.Name, nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Relay RabbitMQ Topology:

    relay.events (topic)
    ├── execution.completed   relay-api
    ├── execution.timed_out   relay-watchdog
    └── run.finished          relay-api, relay-watchdog

    Subscribers declare exclusive auto-delete queues
    (relay events tail binds "#" or the given patterns).
`
}
