package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

// Exchanges.
const (
	ExchangeEvents Exchange = "conveyor.events"
	ExchangeRuns   Exchange = "conveyor.runs"
	ExchangeDLQ    Exchange = "conveyor.dlq"
)

// Queues.
const (
	QueueEventsTrigger Queue = "events.trigger"
	QueueRunsFinished  Queue = "runs.finished"
	QueueDLQEvents     Queue = "dlq.events"
)

// Routing keys.
const (
	RoutingKeyTrigger   RoutingKey = "trigger"
	RoutingKeyFinished  RoutingKey = "finished"
	RoutingKeyDLQEvents RoutingKey = "events"
)

// queueSpec — очередь и её привязка к обменнику.
type queueSpec struct {
	name       Queue
	exchange   Exchange
	routingKey RoutingKey
	args       amqp.Table
}

// topology — полная топология Conveyor.
// events.trigger отправляет отвергнутые сообщения в dlq.events.
var topology = struct {
	exchanges []Exchange
	queues    []queueSpec
}{
	exchanges: []Exchange{ExchangeEvents, ExchangeRuns, ExchangeDLQ},
	queues: []queueSpec{
		{
			name:       QueueEventsTrigger,
			exchange:   ExchangeEvents,
			routingKey: RoutingKeyTrigger,
			args: amqp.Table{
				"x-dead-letter-exchange":    string(ExchangeDLQ),
				"x-dead-letter-routing-key": string(RoutingKeyDLQEvents),
			},
		},
		{name: QueueRunsFinished, exchange: ExchangeRuns, routingKey: RoutingKeyFinished},
		{name: QueueDLQEvents, exchange: ExchangeDLQ, routingKey: RoutingKeyDLQEvents},
	},
}

// SetupTopology объявляет exchanges и queues и связывает их.
// Объявления идемпотентны.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range topology.exchanges {
			err := ch.ExchangeDeclare(
				string(ex),
				amqp.ExchangeDirect,
				true,  // durable
				false, // auto-deleted
				false, // internal
				false, // no-wait
				nil,
			)
			if err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		for _, q := range topology.queues {
			if _, err := ch.QueueDeclare(
				string(q.name),
				true,  // durable
				false, // delete when unused
				false, // exclusive
				false, // no-wait
				q.args,
			); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}

			if err := ch.QueueBind(
				string(q.name),
				string(q.routingKey),
				string(q.exchange),
				false,
				nil,
			); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", q.name, q.exchange, err)
			}
		}
		return nil
	})
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Conveyor RabbitMQ Topology:

    conveyor.events (direct)
    └── events.trigger [routing: trigger]
            Consumer: conveyor-server
            DLQ: dlq.events

    conveyor.runs (direct)
    └── runs.finished [routing: finished]
            Consumer: external notifiers

    conveyor.dlq (direct)
    └── dlq.events [routing: events]
            Manual processing
`
}
