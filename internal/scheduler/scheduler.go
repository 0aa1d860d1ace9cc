// Package scheduler admits work items against a fixed concurrency bound.
//
// An item is dispatched to its own goroutine when a slot is free and pushed
// to the queue otherwise. Every dispatch is paired with exactly one
// completion, which passes its slot to the next queued item in FIFO order
// and frees it only when the queue is empty.
// Queue I/O never happens under the scheduler mutex: a slot is reserved
// first, then the queue is popped, and the slot is returned if nothing was
// there.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"shortsq/internal/ports"
)

type Config struct {
	MaxConcurrent int
	Queue         ports.Queue
	Handlers      *Handlers
	Metrics       *Metrics

	// Fatal is called when a queued item names an unregistered handler.
	// Defaults to terminating the process.
	Fatal func(err error)
}

type Scheduler struct {
	mu            sync.Mutex
	running       int
	maxConcurrent int

	queue    ports.Queue
	handlers *Handlers
	metrics  *Metrics
	fatal    func(error)

	// base is the context items run under; it outlives the submitting request.
	base context.Context
	wg   sync.WaitGroup
}

func New(ctx context.Context, cfg Config) *Scheduler {
	limit := cfg.MaxConcurrent
	if limit < 1 {
		limit = 1
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	fatal := cfg.Fatal
	if fatal == nil {
		fatal = func(err error) {
			log.Fatal().Err(err).Msg("cannot resolve queued work item")
		}
	}
	queue := cfg.Queue
	if queue == nil {
		queue = NewMemoryQueue()
	}
	handlers := cfg.Handlers
	if handlers == nil {
		handlers = NewHandlers()
	}
	return &Scheduler{
		maxConcurrent: limit,
		queue:         queue,
		handlers:      handlers,
		metrics:       metrics,
		fatal:         fatal,
		base:          context.WithoutCancel(ctx),
	}
}

// Submit runs item immediately when capacity allows and queues it otherwise.
// Queueing is not an error; only an unknown handler or a failing queue backend are.
func (s *Scheduler) Submit(ctx context.Context, item ports.WorkItem) error {
	fn, err := s.handlers.Resolve(item.Func)
	if err != nil {
		return err
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}

	if s.acquire() {
		log.Ctx(ctx).Info().Str("item", item.ID).Str("func", item.Func).Msg("dispatching work item")
		s.metrics.submitted.WithLabelValues("dispatched").Inc()
		s.dispatch(item, fn)
		return nil
	}

	if err := s.queue.Push(ctx, item); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	log.Ctx(ctx).Info().Str("item", item.ID).Str("func", item.Func).Msg("queueing work item")
	s.metrics.submitted.WithLabelValues("queued").Inc()

	// A completion may have drained an empty queue between acquire and Push.
	s.Drain(ctx)
	return nil
}

// Drain dispatches queued items while slots are free and returns how many it started.
func (s *Scheduler) Drain(ctx context.Context) int {
	return s.drain(ctx, false)
}

// drain pops and dispatches queued items. With held set the caller already
// owns a slot, which is reused for the first item or released when the
// queue is empty.
func (s *Scheduler) drain(ctx context.Context, held bool) int {
	n := 0
	for held || s.acquire() {
		held = false
		item, ok, err := s.queue.Pop(ctx)
		if err != nil {
			s.release()
			log.Ctx(ctx).Error().Err(err).Msg("failed to pop work item")
			return n
		}
		if !ok {
			s.release()
			return n
		}
		fn, err := s.handlers.Resolve(item.Func)
		if err != nil {
			s.release()
			s.fatal(err)
			return n
		}
		log.Ctx(ctx).Info().Str("item", item.ID).Str("func", item.Func).
			Dur("waited", time.Since(item.EnqueuedAt)).Msg("dispatching queued work item")
		s.dispatch(item, fn)
		n++
	}
	return n
}

// Stats reports the number of running items and the bound.
func (s *Scheduler) Stats() (running, maxConcurrent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, s.maxConcurrent
}

func (s *Scheduler) Queue() ports.Queue { return s.queue }

// Wait blocks until every dispatched item has completed.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running >= s.maxConcurrent {
		return false
	}
	s.running++
	s.metrics.running.Set(float64(s.running))
	return true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running <= 0 {
		panic("scheduler: release without matching acquire")
	}
	s.running--
	s.metrics.running.Set(float64(s.running))
}

// dispatch runs item on a new goroutine that owns an already acquired slot.
func (s *Scheduler) dispatch(item ports.WorkItem, fn HandlerFunc) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.onCompletion()
		s.run(item, fn)
	}()
}

func (s *Scheduler) run(item ports.WorkItem, fn HandlerFunc) {
	started := time.Now()
	result := "ok"
	defer func() {
		if r := recover(); r != nil {
			result = "panic"
			log.Error().Str("item", item.ID).Str("func", item.Func).
				Msgf("work item panicked: %v\n%s", r, debug.Stack())
		}
		s.metrics.completed.WithLabelValues(result).Inc()
		s.metrics.duration.Observe(time.Since(started).Seconds())
	}()

	if err := fn(s.base, item.Args); err != nil {
		result = "error"
		log.Error().Err(err).Str("item", item.ID).Str("func", item.Func).Msg("work item failed")
	}
}

// onCompletion hands the finished item's slot to the oldest queued item so a
// concurrent Submit cannot take it ahead of the queue.
func (s *Scheduler) onCompletion() {
	s.drain(s.base, true)
}
