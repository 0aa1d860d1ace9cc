package amqpq

import (
	"context"
	"errors"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"shortsq/internal/ports"
)

// fakeBroker holds messages per queue name in publish order.
type fakeBroker struct {
	mu       sync.Mutex
	queues   map[string][]amqp.Publishing
	declared []string
	fail     error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{queues: map[string][]amqp.Publishing{}}
}

func (b *fakeBroker) WithChannel(fn func(ch Channel) error) error {
	if b.fail != nil {
		return b.fail
	}
	return fn(b)
}

func (b *fakeBroker) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.declared = append(b.declared, name)
	return amqp.Queue{Name: name, Messages: len(b.queues[name])}, nil
}

func (b *fakeBroker) QueueDeclarePassive(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return amqp.Queue{Name: name, Messages: len(b.queues[name])}, nil
}

func (b *fakeBroker) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if exchange != "" {
		return errors.New("unexpected exchange " + exchange)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[key] = append(b.queues[key], msg)
	return nil
}

func (b *fakeBroker) Get(queue string, _ bool) (amqp.Delivery, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.queues[queue]
	if len(msgs) == 0 {
		return amqp.Delivery{}, false, nil
	}
	b.queues[queue] = msgs[1:]
	m := msgs[0]
	return amqp.Delivery{Body: m.Body, MessageId: m.MessageId, ContentType: m.ContentType}, true, nil
}

func TestQueueFIFO(t *testing.T) {
	ctx := context.Background()
	b := newFakeBroker()
	q, err := NewQueue(b, "jobs", "jobs.dead")
	if err != nil {
		t.Fatalf("NewQueue() error = %v", err)
	}
	if len(b.declared) != 2 {
		t.Fatalf("declared = %v", b.declared)
	}

	for _, id := range []string{"A", "B", "C"} {
		if err := q.Push(ctx, ports.WorkItem{ID: id, Func: "pipeline.start"}); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}
	if b.queues["jobs"][0].DeliveryMode != amqp.Persistent {
		t.Fatalf("published message is not persistent")
	}
	if n, _ := q.Len(ctx); n != 3 {
		t.Fatalf("Len() = %d, want 3", n)
	}
	for _, want := range []string{"A", "B", "C"} {
		item, ok, err := q.Pop(ctx)
		if err != nil || !ok || item.ID != want {
			t.Fatalf("Pop() = %+v, %v, %v, want %s", item, ok, err, want)
		}
	}
	if empty, _ := q.IsEmpty(ctx); !empty {
		t.Fatalf("queue not empty after draining")
	}
}

func TestQueueDeadLetter(t *testing.T) {
	ctx := context.Background()
	b := newFakeBroker()
	q, _ := NewQueue(b, "jobs", "jobs.dead")

	_ = b.PublishWithContext(ctx, "", "jobs", false, false, amqp.Publishing{MessageId: "bad", Body: []byte("{")})
	if err := q.Push(ctx, ports.WorkItem{ID: "good", Func: "f"}); err != nil {
		t.Fatal(err)
	}

	item, ok, err := q.Pop(ctx)
	if err != nil || !ok || item.ID != "good" {
		t.Fatalf("Pop() = %+v, %v, %v", item, ok, err)
	}
	dead := b.queues["jobs.dead"]
	if len(dead) != 1 || dead[0].MessageId != "bad" {
		t.Fatalf("dead letter queue = %+v", dead)
	}
}

func TestQueueUnavailable(t *testing.T) {
	b := newFakeBroker()
	q, _ := NewQueue(b, "jobs", "jobs.dead")
	b.fail = errors.New("no channel")

	if err := q.Push(context.Background(), ports.WorkItem{ID: "x"}); err == nil {
		t.Fatal("Push() succeeded without a channel")
	}
	if _, _, err := q.Pop(context.Background()); err == nil {
		t.Fatal("Pop() succeeded without a channel")
	}
}
