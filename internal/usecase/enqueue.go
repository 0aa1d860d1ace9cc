package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"shortsq/internal/domain"
	"shortsq/internal/pipeline"
	"shortsq/internal/ports"
)

// ErrInfrastructure reports that a task could not be accepted because a
// backend (queue or registry) failed. The caller's input was fine.
var ErrInfrastructure = errors.New("task backend unavailable")

// Dispatcher accepts work items. *scheduler.Scheduler implements it.
type Dispatcher interface {
	Submit(ctx context.Context, item ports.WorkItem) error
}

// Submitter is the boundary between callers and the pipeline: it validates
// a request, records a pending task, and hands the job to the scheduler.
type Submitter struct {
	Registry  ports.Registry
	Scheduler Dispatcher
	NewID     func() string
}

func (s Submitter) Submit(ctx context.Context, requestID string, params domain.VideoParams, stopAt domain.Stage) (string, error) {
	if err := params.Normalize(); err != nil {
		return "", err
	}
	if stopAt == 0 {
		stopAt = domain.StageRender
	}

	newID := s.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	taskID := newID()

	if _, err := s.Registry.Create(ctx, taskID, requestID); err != nil {
		return "", fmt.Errorf("%w: create task: %v", ErrInfrastructure, err)
	}

	job := pipeline.Job{TaskID: taskID, RequestID: requestID, StopAt: stopAt, Params: params}
	item, err := job.WorkItem()
	if err == nil {
		err = s.Scheduler.Submit(ctx, item)
	}
	if err != nil {
		if derr := s.Registry.Delete(ctx, taskID); derr != nil {
			log.Ctx(ctx).Error().Err(derr).Str("task_id", taskID).Msg("failed to remove unscheduled task")
		}
		return "", fmt.Errorf("%w: submit task: %v", ErrInfrastructure, err)
	}

	log.Ctx(ctx).Info().Str("task_id", taskID).Str("request_id", requestID).Stringer("stop_at", stopAt).Msg("task submitted")
	return taskID, nil
}
