package ports

import (
	"context"

	"shortsq/internal/domain"
)

// Registry is the shared view of task state.
//
// Create fails with domain.ErrTaskExists for a known id. Update returns
// domain.ErrTaskFinalized once a task is complete or failed and leaves the
// record untouched. List returns tasks in insertion order together with the
// total count; page and pageSize start at 1.
type Registry interface {
	Create(ctx context.Context, id, requestID string) (domain.Task, error)
	Update(ctx context.Context, id string, u domain.TaskUpdate) (domain.Task, error)
	Get(ctx context.Context, id string) (domain.Task, error)
	List(ctx context.Context, page, pageSize int) ([]domain.Task, int, error)
	Delete(ctx context.Context, id string) error
}
