package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			false, // mandatory
			false, // immediate
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
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishEvent публикует внешнее событие для запуска pipeline.
// Потребитель: Orchestrator (conveyor-server).
func (p *Publisher) PublishEvent(ctx context.Context, ev domain.Event) error {
	msg := NewMessage(MessageTypeEventTrigger, EventTriggerPayload{Event: ev})
	return p.Publish(ctx, ExchangeEvents, RoutingKeyTrigger, msg)
}

// PublishRunFinished публикует уведомление о завершённом run.
// Потребители: внешние (статусы коммитов, чат-уведомления).
func (p *Publisher) PublishRunFinished(ctx context.Context, run *domain.Run) error {
	msg := NewMessage(MessageTypeRunFinished, NewRunFinishedPayload(run))
	return p.Publish(ctx, ExchangeRuns, RoutingKeyFinished, msg)
}
