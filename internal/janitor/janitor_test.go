package janitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"shortsq/internal/domain"
	"shortsq/internal/registry"
)

type fakeWorkspace struct {
	mu      sync.Mutex
	removed []string
}

func (w *fakeWorkspace) TaskDir(id string) (string, error)                  { return "/tmp/" + id, nil }
func (w *fakeWorkspace) SaveScript(string, string, []string, string) error { return nil }
func (w *fakeWorkspace) Remove(id string) error {
	w.mu.Lock()
	w.removed = append(w.removed, id)
	w.mu.Unlock()
	return nil
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemory()
	for i := 0; i < 250; i++ {
		id := fmt.Sprintf("t%03d", i)
		if _, err := reg.Create(ctx, id, ""); err != nil {
			t.Fatal(err)
		}
		switch i % 3 {
		case 0:
			_, _ = reg.Update(ctx, id, domain.Status(domain.StatusComplete))
		case 1:
			_, _ = reg.Update(ctx, id, domain.Status(domain.StatusFailed))
		}
	}

	ws := &fakeWorkspace{}
	j := &Janitor{Registry: reg, Workspace: ws, Retention: time.Hour, Now: func() time.Time { return time.Now().Add(2 * time.Hour) }}

	n, err := j.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	// 84 complete + 83 failed, pending ones survive
	if n != 167 || len(ws.removed) != 167 {
		t.Fatalf("removed = %d (dirs %d), want 167", n, len(ws.removed))
	}
	_, total, _ := reg.List(ctx, 1, 10)
	if total != 83 {
		t.Fatalf("remaining = %d, want 83 pending", total)
	}
}

func TestSweepKeepsRecentTasks(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemory()
	_, _ = reg.Create(ctx, "fresh", "")
	_, _ = reg.Update(ctx, "fresh", domain.Status(domain.StatusComplete))

	j := &Janitor{Registry: reg, Workspace: &fakeWorkspace{}, Retention: time.Hour}
	if n, _ := j.Sweep(ctx); n != 0 {
		t.Fatalf("removed %d recent tasks", n)
	}
}

func TestValidate(t *testing.T) {
	for _, ok := range []string{"0 3 * * *", "@hourly", "@every 10m"} {
		if err := Validate(ok); err != nil {
			t.Errorf("Validate(%q) = %v", ok, err)
		}
	}
	if err := Validate("every tuesday"); err == nil {
		t.Error("Validate() accepted garbage")
	}
}
