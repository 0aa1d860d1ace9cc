// Package janitor purges finished tasks and their working directories once
// they are older than the retention window.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"shortsq/internal/ports"
)

const pageSize = 100

type Janitor struct {
	Registry  ports.Registry
	Workspace ports.Workspace
	Retention time.Duration
	Now       func() time.Time
}

// Sweep deletes every complete or failed task last updated before the
// retention cutoff and returns how many it removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	cutoff := now().Add(-j.Retention)

	var expired []string
	for page := 1; ; page++ {
		tasks, total, err := j.Registry.List(ctx, page, pageSize)
		if err != nil {
			return 0, fmt.Errorf("list tasks: %w", err)
		}
		for _, t := range tasks {
			if t.Status.Terminal() && t.UpdatedAt.Before(cutoff) {
				expired = append(expired, t.ID)
			}
		}
		if len(tasks) == 0 || page*pageSize >= total {
			break
		}
	}

	removed := 0
	for _, id := range expired {
		if err := j.Workspace.Remove(id); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("task_id", id).Msg("failed to remove task directory")
			continue
		}
		if err := j.Registry.Delete(ctx, id); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("task_id", id).Msg("failed to delete task record")
			continue
		}
		removed++
	}
	return removed, nil
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports whether schedule is a usable cron expression.
func Validate(schedule string) error {
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}
	return nil
}

// Start runs Sweep on schedule until ctx is done.
func (j *Janitor) Start(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithParser(parser))
	_, err := c.AddFunc(schedule, func() {
		n, err := j.Sweep(ctx)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("janitor sweep failed")
			return
		}
		if n > 0 {
			log.Ctx(ctx).Info().Int("removed", n).Msg("expired tasks purged")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule janitor %q: %w", schedule, err)
	}
	c.Start()
	log.Ctx(ctx).Info().Str("schedule", schedule).Dur("retention", j.Retention).Msg("janitor started")

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}
