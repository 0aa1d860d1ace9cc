package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"shortsq/internal/ports"
	"shortsq/pkg/backoff"
)

// Drainer dispatches queued work while capacity allows.
type Drainer interface {
	Drain(ctx context.Context) int
	Queue() ports.Queue
}

// Poller pulls work another process left on a durable queue. Submissions made
// in this process drain on completion already; the poller only catches items
// pushed elsewhere and items left over from a previous run.
type Poller struct {
	Scheduler   Drainer
	Interval    time.Duration
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (p Poller) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}
	retry := &backoff.Retrier{Base: max(p.BaseBackoff, interval), Max: max(p.MaxBackoff, interval)}

	wait := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		if _, err := p.Scheduler.Queue().IsEmpty(ctx); err != nil {
			wait = retry.Next()
			log.Ctx(ctx).Warn().Err(err).Dur("retry_in", wait).Int("attempt", retry.Attempt()).Msg("queue backend unavailable")
			continue
		}
		retry.Reset()

		if n := p.Scheduler.Drain(ctx); n > 0 {
			log.Ctx(ctx).Debug().Int("dispatched", n).Msg("drained queued work")
		}
		wait = interval
	}
}
