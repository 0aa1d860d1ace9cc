// Package registrytest holds the behavioural suite every ports.Registry backend must pass.
package registrytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"shortsq/internal/domain"
	"shortsq/internal/ports"
)

// Run exercises newRegistry against the registry contract. Each subtest gets a fresh registry.
func Run(t *testing.T, newRegistry func(t *testing.T) ports.Registry) {
	ctx := context.Background()

	t.Run("create starts pending", func(t *testing.T) {
		r := newRegistry(t)
		task, err := r.Create(ctx, "a", "req-a")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if task.Status != domain.StatusPending || task.Progress != 0 || task.RequestID != "req-a" {
			t.Fatalf("created task = %+v", task)
		}
		got, err := r.Get(ctx, "a")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.ID != "a" || got.Status != domain.StatusPending {
			t.Fatalf("stored task = %+v", got)
		}
	})

	t.Run("duplicate create is rejected", func(t *testing.T) {
		r := newRegistry(t)
		mustCreate(t, r, "a")
		if _, err := r.Update(ctx, "a", domain.Progress(30)); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if _, err := r.Create(ctx, "a", "other"); !errors.Is(err, domain.ErrTaskExists) {
			t.Fatalf("second Create() error = %v, want ErrTaskExists", err)
		}
		got, _ := r.Get(ctx, "a")
		if got.Progress != 30 {
			t.Fatalf("progress = %v, duplicate create must not overwrite", got.Progress)
		}
	})

	t.Run("missing task", func(t *testing.T) {
		r := newRegistry(t)
		if _, err := r.Get(ctx, "nope"); !errors.Is(err, domain.ErrTaskNotFound) {
			t.Fatalf("Get() error = %v, want ErrTaskNotFound", err)
		}
		if _, err := r.Update(ctx, "nope", domain.Progress(10)); !errors.Is(err, domain.ErrTaskNotFound) {
			t.Fatalf("Update() error = %v, want ErrTaskNotFound", err)
		}
		if err := r.Delete(ctx, "nope"); err != nil {
			t.Fatalf("Delete() of missing task error = %v", err)
		}
	})

	t.Run("partial update merges fields", func(t *testing.T) {
		r := newRegistry(t)
		mustCreate(t, r, "a")
		script := "hello"
		u := domain.Progress(10)
		u.Script = &script
		if _, err := r.Update(ctx, "a", u); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		u = domain.Progress(20)
		u.Terms = []string{"sky", "sea"}
		if _, err := r.Update(ctx, "a", u); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		got, _ := r.Get(ctx, "a")
		if got.Status != domain.StatusProcessing || got.Progress != 20 {
			t.Fatalf("status/progress = %s/%v", got.Status, got.Progress)
		}
		if got.Script != "hello" || len(got.Terms) != 2 || got.Terms[1] != "sea" {
			t.Fatalf("artifacts = %+v", got)
		}
	})

	t.Run("progress never decreases", func(t *testing.T) {
		r := newRegistry(t)
		mustCreate(t, r, "a")
		_, _ = r.Update(ctx, "a", domain.Progress(40))
		got, err := r.Update(ctx, "a", domain.Progress(20))
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if got.Progress != 40 {
			t.Fatalf("progress = %v, want 40", got.Progress)
		}
		got, _ = r.Update(ctx, "a", domain.Progress(100))
		if got.Progress == 100 || got.Status == domain.StatusComplete {
			t.Fatalf("progress 100 without completion: %s/%v", got.Status, got.Progress)
		}
	})

	t.Run("terminal tasks are frozen", func(t *testing.T) {
		for _, final := range []domain.TaskStatus{domain.StatusComplete, domain.StatusFailed} {
			r := newRegistry(t)
			mustCreate(t, r, "a")
			_, _ = r.Update(ctx, "a", domain.Progress(30))
			done, err := r.Update(ctx, "a", domain.Status(final))
			if err != nil {
				t.Fatalf("finalize %s: %v", final, err)
			}
			if final == domain.StatusComplete && done.Progress != 100 {
				t.Fatalf("complete progress = %v, want 100", done.Progress)
			}
			if final == domain.StatusFailed && done.Progress != 30 {
				t.Fatalf("failed progress = %v, want 30", done.Progress)
			}

			script := "late"
			u := domain.Progress(60)
			u.Script = &script
			if _, err := r.Update(ctx, "a", u); !errors.Is(err, domain.ErrTaskFinalized) {
				t.Fatalf("update after %s error = %v, want ErrTaskFinalized", final, err)
			}
			if _, err := r.Update(ctx, "a", domain.Status(domain.StatusProcessing)); !errors.Is(err, domain.ErrTaskFinalized) {
				t.Fatalf("status regression after %s error = %v", final, err)
			}
			got, _ := r.Get(ctx, "a")
			if got.Status != final || got.Progress != done.Progress || got.Script != "" {
				t.Fatalf("task changed after %s: %+v", final, got)
			}
		}
	})

	t.Run("status cannot move backwards", func(t *testing.T) {
		r := newRegistry(t)
		mustCreate(t, r, "a")
		_, _ = r.Update(ctx, "a", domain.Progress(10))
		if _, err := r.Update(ctx, "a", domain.Status(domain.StatusPending)); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("regression error = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("paged listing in insertion order", func(t *testing.T) {
		r := newRegistry(t)
		for i := 0; i < 15; i++ {
			mustCreate(t, r, fmt.Sprintf("task-%02d", i))
		}

		first, total, err := r.List(ctx, 1, 10)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if total != 15 || len(first) != 10 {
			t.Fatalf("page 1 = %d records total %d, want 10/15", len(first), total)
		}
		second, total, _ := r.List(ctx, 2, 10)
		if total != 15 || len(second) != 5 {
			t.Fatalf("page 2 = %d records total %d, want 5/15", len(second), total)
		}
		for i, task := range append(first, second...) {
			if want := fmt.Sprintf("task-%02d", i); task.ID != want {
				t.Fatalf("record %d = %s, want %s", i, task.ID, want)
			}
		}
		empty, _, _ := r.List(ctx, 3, 10)
		if len(empty) != 0 {
			t.Fatalf("page 3 = %d records, want 0", len(empty))
		}
	})

	t.Run("delete removes from listing", func(t *testing.T) {
		r := newRegistry(t)
		mustCreate(t, r, "a")
		mustCreate(t, r, "b")
		if err := r.Delete(ctx, "a"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := r.Get(ctx, "a"); !errors.Is(err, domain.ErrTaskNotFound) {
			t.Fatalf("Get() after delete error = %v", err)
		}
		tasks, total, _ := r.List(ctx, 1, 10)
		if total != 1 || len(tasks) != 1 || tasks[0].ID != "b" {
			t.Fatalf("listing after delete = %+v total %d", tasks, total)
		}
	})

	t.Run("concurrent progress updates", func(t *testing.T) {
		r := newRegistry(t)
		mustCreate(t, r, "a")
		var wg sync.WaitGroup
		for i := 1; i <= 20; i++ {
			wg.Add(1)
			go func(p float64) {
				defer wg.Done()
				_, _ = r.Update(ctx, "a", domain.Progress(p))
			}(float64(i * 4))
		}
		wg.Wait()
		got, _ := r.Get(ctx, "a")
		if got.Progress != 80 {
			t.Fatalf("progress = %v, want highest value 80", got.Progress)
		}
	})
}

func mustCreate(t *testing.T, r ports.Registry, id string) {
	t.Helper()
	if _, err := r.Create(context.Background(), id, "req-"+id); err != nil {
		t.Fatalf("Create(%s) error = %v", id, err)
	}
}
