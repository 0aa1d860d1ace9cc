package registry

import (
	"context"
	"sync"
	"time"

	"shortsq/internal/domain"
	"shortsq/internal/ports"
)

var _ ports.Registry = (*Memory)(nil)

// Memory keeps task records in process memory, listed in insertion order.
type Memory struct {
	mu    sync.RWMutex
	tasks map[string]*domain.Task
	order []string
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{tasks: map[string]*domain.Task{}, now: time.Now}
}

func (m *Memory) Create(_ context.Context, id, requestID string) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[id]; ok {
		return domain.Task{}, domain.ErrTaskExists
	}
	t := domain.NewTask(id, requestID, m.now())
	m.tasks[id] = &t
	m.order = append(m.order, id)
	return t.Clone(), nil
}

func (m *Memory) Update(_ context.Context, id string, u domain.TaskUpdate) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	next := *t
	if err := next.Apply(u, m.now()); err != nil {
		return t.Clone(), err
	}
	*t = next
	return t.Clone(), nil
}

func (m *Memory) Get(_ context.Context, id string) (domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return t.Clone(), nil
}

func (m *Memory) List(_ context.Context, page, pageSize int) ([]domain.Task, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start, end := Window(page, pageSize, len(m.order))
	out := make([]domain.Task, 0, end-start)
	for _, id := range m.order[start:end] {
		out = append(out, m.tasks[id].Clone())
	}
	return out, len(m.order), nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[id]; !ok {
		return nil
	}
	delete(m.tasks, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Window converts a 1-based page into slice bounds over total records.
func Window(page, pageSize, total int) (start, end int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if total <= 0 || page-1 > (total-1)/pageSize {
		return max(total, 0), max(total, 0)
	}
	start = (page - 1) * pageSize
	end = start + min(pageSize, total-start)
	return start, end
}
