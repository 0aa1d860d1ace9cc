package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"shortsq/internal/ports"
)

// HandlerFunc executes one work item.
type HandlerFunc func(ctx context.Context, args ports.Args) error

// Handlers is the fixed lookup table used to resolve work item names.
// Names must resolve identically in every process sharing a durable queue.
type Handlers struct {
	mu sync.RWMutex
	m  map[string]HandlerFunc
}

func NewHandlers() *Handlers {
	return &Handlers{m: map[string]HandlerFunc{}}
}

// Register binds name to fn. Registering a name twice is a programming error.
func (h *Handlers) Register(name string, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.m[name]; ok {
		panic(fmt.Sprintf("scheduler: handler %q registered twice", name))
	}
	h.m[name] = fn
}

func (h *Handlers) Resolve(name string) (HandlerFunc, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	fn, ok := h.m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunc, name)
	}
	return fn, nil
}

func (h *Handlers) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.m))
	for n := range h.m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
