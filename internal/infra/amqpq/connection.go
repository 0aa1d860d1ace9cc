// Package amqpq is the RabbitMQ queue backend.
package amqpq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"shortsq/pkg/backoff"
)

var ErrClosed = errors.New("amqp connection closed")

// Channel is the subset of *amqp.Channel the queue uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
}

// Connection keeps one channel open and redials when the broker drops it.
type Connection struct {
	url string

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
	done    chan struct{}

	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func Dial(ctx context.Context, url string) (*Connection, error) {
	c := &Connection{
		url:         url,
		done:        make(chan struct{}),
		BaseBackoff: time.Second,
		MaxBackoff:  30 * time.Second,
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	go c.watch(ctx)
	return c, nil
}

func (c *Connection) connect(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.mu.Lock()
	c.conn, c.channel = conn, ch
	c.mu.Unlock()

	log.Ctx(ctx).Info().Msg("connected to rabbitmq")
	return nil
}

func (c *Connection) watch(ctx context.Context) {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		notify := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-c.done:
			return
		case err := <-notify:
			if err != nil {
				log.Ctx(ctx).Warn().Err(err).Msg("rabbitmq connection lost")
			}
			if !c.reconnect(ctx) {
				return
			}
		}
	}
}

func (c *Connection) reconnect(ctx context.Context) bool {
	r := &backoff.Retrier{Base: c.BaseBackoff, Max: c.MaxBackoff}
	for {
		delay := r.Next()
		log.Ctx(ctx).Info().Dur("delay", delay).Int("attempt", r.Attempt()).Msg("reconnecting to rabbitmq")
		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}
		if err := c.connect(ctx); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("rabbitmq reconnect failed")
			continue
		}
		return true
	}
}

// WithChannel runs fn against the current channel.
func (c *Connection) WithChannel(fn func(ch Channel) error) error {
	c.mu.RLock()
	ch, closed := c.channel, c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if ch == nil || ch.IsClosed() {
		return fmt.Errorf("no amqp channel available")
	}
	return fn(ch)
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}
