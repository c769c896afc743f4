package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/trigger"
)

// HandleMessage обрабатывает сообщение event.trigger из RabbitMQ.
//
// Некорректные сообщения помечаются mq.Permanent и уходят в DLQ.
// Если не создан ни один run, ошибка возвращается как есть и сообщение
// вернётся в очередь. После частичного успеха повтор создал бы дубликаты,
// поэтому ошибка только логируется.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg.Type != mq.MessageTypeEventTrigger {
		return mq.Permanent(fmt.Errorf("%w: %s", ErrUnexpectedMessage, msg.Type))
	}

	payload, err := mq.ParsePayload[mq.EventTriggerPayload](msg)
	if err != nil {
		return mq.Permanent(err)
	}

	runs, decision, err := o.HandleEvent(ctx, payload.Event)
	switch {
	case errors.Is(err, ErrInvalidEvent), errors.Is(err, trigger.ErrForeignRepository):
		return mq.Permanent(err)
	case err != nil && len(runs) == 0:
		return err
	case err != nil:
		o.logger.Error("event.trigger partially handled",
			"message_id", msg.ID,
			"runs", len(runs),
			"error", err,
		)
		return nil
	}

	o.logger.Debug("event.trigger handled",
		"message_id", msg.ID,
		"matched", decision.Matched,
		"runs", len(runs),
	)
	return nil
}
