package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shortsq/internal/domain"
	"shortsq/internal/pipeline"
	"shortsq/internal/ports"
	"shortsq/internal/registry"
	"shortsq/internal/scheduler"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	items []ports.WorkItem
	err   error
}

func (d *recordingDispatcher) Submit(_ context.Context, item ports.WorkItem) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.items = append(d.items, item)
	return nil
}

func TestSubmitCreatesPendingTask(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemory()
	d := &recordingDispatcher{}
	s := Submitter{Registry: reg, Scheduler: d, NewID: func() string { return "task-1" }}

	id, err := s.Submit(ctx, "req-1", domain.VideoParams{VideoScript: "hello"}, domain.StageAudio)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if id != "task-1" {
		t.Fatalf("task id = %q", id)
	}
	task, err := reg.Get(ctx, id)
	if err != nil || task.Status != domain.StatusPending || task.RequestID != "req-1" {
		t.Fatalf("task = %+v, %v", task, err)
	}

	if len(d.items) != 1 {
		t.Fatalf("dispatched %d items, want 1", len(d.items))
	}
	item := d.items[0]
	if item.Func != pipeline.FuncStart {
		t.Fatalf("func = %q", item.Func)
	}
	var job pipeline.Job
	if err := item.Args.Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.TaskID != id || job.StopAt != domain.StageAudio || job.Params.VideoCount != 1 {
		t.Fatalf("job = %+v", job)
	}
}

func TestSubmitDefaultsToRender(t *testing.T) {
	d := &recordingDispatcher{}
	s := Submitter{Registry: registry.NewMemory(), Scheduler: d}
	if _, err := s.Submit(context.Background(), "", domain.VideoParams{VideoScript: "x"}, 0); err != nil {
		t.Fatal(err)
	}
	if d.items[0].Args["stop_at"] != "render" {
		t.Fatalf("stop_at = %v", d.items[0].Args["stop_at"])
	}
}

func TestSubmitRejectsInvalidParams(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemory()
	d := &recordingDispatcher{}
	s := Submitter{Registry: reg, Scheduler: d}

	_, err := s.Submit(ctx, "", domain.VideoParams{VideoCount: 50}, domain.StageRender)
	if !domain.IsValidation(err) {
		t.Fatalf("Submit() error = %v, want validation error", err)
	}
	if _, total, _ := reg.List(ctx, 1, 10); total != 0 {
		t.Fatalf("%d tasks created for an invalid request", total)
	}
	if len(d.items) != 0 {
		t.Fatal("invalid request reached the scheduler")
	}
}

func TestSubmitQueueFailureRemovesTask(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemory()
	d := &recordingDispatcher{err: scheduler.ErrQueueUnavailable}
	s := Submitter{Registry: reg, Scheduler: d, NewID: func() string { return "t" }}

	_, err := s.Submit(ctx, "", domain.VideoParams{VideoScript: "x"}, domain.StageRender)
	if !errors.Is(err, ErrInfrastructure) {
		t.Fatalf("Submit() error = %v, want ErrInfrastructure", err)
	}
	if _, err := reg.Get(ctx, "t"); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("task still recorded after failed submission: %v", err)
	}
}

type flakyQueue struct {
	*scheduler.MemoryQueue
	failures atomic.Int32
}

func (q *flakyQueue) IsEmpty(ctx context.Context) (bool, error) {
	if q.failures.Add(-1) >= 0 {
		return false, errors.New("connection refused")
	}
	return q.MemoryQueue.IsEmpty(ctx)
}

type countingDrainer struct {
	q      ports.Queue
	drains atomic.Int32
}

func (c *countingDrainer) Drain(context.Context) int { c.drains.Add(1); return 0 }
func (c *countingDrainer) Queue() ports.Queue        { return c.q }

func TestPollerDrainsAfterQueueRecovers(t *testing.T) {
	q := &flakyQueue{MemoryQueue: scheduler.NewMemoryQueue()}
	q.failures.Store(2)
	d := &countingDrainer{q: q}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Poller{Scheduler: d, Interval: time.Millisecond, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for d.drains.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("drains = %d after queue recovered", d.drains.Load())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v", err)
	}
	if q.failures.Load() >= 0 {
		t.Fatal("poller drained without checking the queue")
	}
}

func TestPollerPicksUpForeignItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := scheduler.NewMemoryQueue()
	handlers := scheduler.NewHandlers()
	ran := make(chan string, 1)
	handlers.Register("echo", func(_ context.Context, args ports.Args) error {
		ran <- args["v"].(string)
		return nil
	})
	s := scheduler.New(ctx, scheduler.Config{MaxConcurrent: 1, Queue: q, Handlers: handlers})

	// Pushed straight onto the queue, as another process would.
	if err := q.Push(ctx, ports.WorkItem{ID: "x", Func: "echo", Args: ports.Args{"v": "hi"}}); err != nil {
		t.Fatal(err)
	}
	go func() { _ = Poller{Scheduler: s, Interval: time.Millisecond}.Run(ctx) }()

	select {
	case v := <-ran:
		if v != "hi" {
			t.Fatalf("handler got %q", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued item never ran")
	}
	s.Wait()
}
