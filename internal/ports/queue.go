package ports

import (
	"context"
	"encoding/json"
	"time"
)

// Args is the plain key-value argument set of a WorkItem.
type Args map[string]any

// Decode copies the arguments into v through their JSON form.
func (a Args) Decode(v any) error {
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// WorkItem is a deferred call: a registered handler name plus its arguments.
type WorkItem struct {
	ID         string    `json:"id"`
	Func       string    `json:"func"`
	Args       Args      `json:"args"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is a FIFO of work items. Pop reports ok=false when the queue is empty.
type Queue interface {
	Push(ctx context.Context, item WorkItem) error
	Pop(ctx context.Context) (item WorkItem, ok bool, err error)
	IsEmpty(ctx context.Context) (bool, error)
	Len(ctx context.Context) (int, error)
}
