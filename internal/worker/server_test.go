package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"shortsq/internal/app"
	"shortsq/internal/config"
	"shortsq/internal/domain"
	"shortsq/internal/pipeline"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.App.StorageDir = t.TempDir()
	cfg.App.MaxConcurrentTasks = 2
	cfg.App.MaterialWorkers = 1
	cfg.Queue.Backend = backend
	cfg.Queue.Name = "test_queue"
	cfg.Queue.DeadLetter = "test_queue:dead"
	cfg.Queue.PollInterval = 10 * time.Millisecond
	cfg.Registry.Backend = backend
	cfg.Registry.Prefix = "task"
	return cfg
}

func TestRunNeedsDurableQueue(t *testing.T) {
	a, err := app.New(context.Background(), testConfig(t, app.BackendMemory))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if err := New(a).Run(context.Background(), 0); !errors.Is(err, ErrNotDurable) {
		t.Fatalf("Run() error = %v, want ErrNotDurable", err)
	}
}

func TestHealthz(t *testing.T) {
	a, err := app.New(context.Background(), testConfig(t, app.BackendMemory))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	rec := httptest.NewRecorder()
	New(a).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var h health
	if err := json.Unmarshal(rec.Body.Bytes(), &h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "up" || h.MaxConcurrent != 2 || h.Running != 0 || h.Queued != 0 {
		t.Fatalf("health = %+v", h)
	}
}

func TestRunExecutesForeignWork(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, app.BackendRedis)
	cfg.Redis.URL = "redis://" + mr.Addr() + "/0"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	// Another process registered the task and queued it.
	if _, err := a.Registry.Create(ctx, "remote-1", "req"); err != nil {
		t.Fatal(err)
	}
	job := pipeline.Job{
		TaskID: "remote-1",
		StopAt: domain.StageScript,
		Params: domain.VideoParams{VideoSubject: "sea", VideoScript: "Waves roll in."},
	}
	if err := job.Params.Normalize(); err != nil {
		t.Fatal(err)
	}
	item, err := job.WorkItem()
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Queue.Push(ctx, item); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- New(a).Run(ctx, 0) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		task, err := a.Registry.Get(ctx, "remote-1")
		if err == nil && task.Status == domain.StatusComplete {
			if task.Script != "Waves roll in." {
				t.Fatalf("task = %+v", task)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task not completed: %+v %v", task, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
