package scheduler

import (
	"container/list"
	"context"
	"sync"

	"shortsq/internal/ports"
)

var _ ports.Queue = (*MemoryQueue)(nil)

// MemoryQueue is the in-process FIFO backend.
type MemoryQueue struct {
	mu    sync.Mutex
	items *list.List
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{items: list.New()}
}

func (q *MemoryQueue) Push(_ context.Context, item ports.WorkItem) error {
	q.mu.Lock()
	q.items.PushBack(item)
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Pop(_ context.Context) (ports.WorkItem, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.items.Front()
	if front == nil {
		return ports.WorkItem{}, false, nil
	}
	q.items.Remove(front)
	return front.Value.(ports.WorkItem), true, nil
}

func (q *MemoryQueue) IsEmpty(_ context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len() == 0, nil
}

func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len(), nil
}
