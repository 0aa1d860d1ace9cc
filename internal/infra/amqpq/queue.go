package amqpq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"shortsq/internal/ports"
)

var _ ports.Queue = (*Queue)(nil)

// ChannelProvider hands a live channel to fn. *Connection implements it.
type ChannelProvider interface {
	WithChannel(fn func(ch Channel) error) error
}

// Queue is a durable FIFO on a single RabbitMQ queue published through the
// default exchange. Pop uses basic.get with auto-ack, so an item is gone
// from the broker once it is handed to the scheduler.
type Queue struct {
	conn       ChannelProvider
	name       string
	deadLetter string
}

// NewQueue declares the work queue and its dead-letter queue.
func NewQueue(conn ChannelProvider, name, deadLetter string) (*Queue, error) {
	q := &Queue{conn: conn, name: name, deadLetter: deadLetter}
	err := conn.WithChannel(func(ch Channel) error {
		for _, n := range []string{name, deadLetter} {
			if _, err := ch.QueueDeclare(n, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare queue %s: %w", n, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) Push(ctx context.Context, item ports.WorkItem) error {
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode work item: %w", err)
	}
	return q.publish(ctx, q.name, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    item.ID,
		Timestamp:    item.EnqueuedAt,
		Type:         item.Func,
		Body:         body,
	})
}

func (q *Queue) publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	return q.conn.WithChannel(func(ch Channel) error {
		if err := ch.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
			return fmt.Errorf("publish to %s: %w", queue, err)
		}
		return nil
	})
}

func (q *Queue) Pop(ctx context.Context) (ports.WorkItem, bool, error) {
	for {
		var (
			d  amqp.Delivery
			ok bool
		)
		err := q.conn.WithChannel(func(ch Channel) error {
			var err error
			d, ok, err = ch.Get(q.name, true)
			return err
		})
		if err != nil {
			return ports.WorkItem{}, false, fmt.Errorf("get from %s: %w", q.name, err)
		}
		if !ok {
			return ports.WorkItem{}, false, nil
		}

		var item ports.WorkItem
		if err := json.Unmarshal(d.Body, &item); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("queue", q.name).Str("message_id", d.MessageId).
				Msg("moving undecodable work item to dead letter queue")
			dead := amqp.Publishing{
				ContentType:  d.ContentType,
				DeliveryMode: amqp.Persistent,
				MessageId:    d.MessageId,
				Body:         d.Body,
			}
			if err := q.publish(ctx, q.deadLetter, dead); err != nil {
				return ports.WorkItem{}, false, err
			}
			continue
		}
		return item, true, nil
	}
}

func (q *Queue) IsEmpty(ctx context.Context) (bool, error) {
	n, err := q.Len(ctx)
	return n == 0, err
}

func (q *Queue) Len(_ context.Context) (int, error) {
	var n int
	err := q.conn.WithChannel(func(ch Channel) error {
		info, err := ch.QueueDeclarePassive(q.name, true, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("inspect queue %s: %w", q.name, err)
		}
		n = info.Messages
		return nil
	})
	return n, err
}
