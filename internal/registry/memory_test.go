package registry

import (
	"context"
	"math"
	"testing"

	"shortsq/internal/ports"
	"shortsq/internal/registry/registrytest"
)

func TestMemoryRegistry(t *testing.T) {
	registrytest.Run(t, func(t *testing.T) ports.Registry { return NewMemory() })
}

func TestWindow(t *testing.T) {
	tests := []struct {
		page, size, total int
		start, end        int
	}{
		{1, 10, 15, 0, 10},
		{2, 10, 15, 10, 15},
		{3, 10, 15, 15, 15},
		{1, 10, 0, 0, 0},
		{0, 0, 5, 0, 1},
		{922337203685477582, 10, 3, 3, 3},
		{math.MaxInt, 10, 15, 15, 15},
		{2, math.MaxInt, 15, 15, 15},
		{1, math.MaxInt, 15, 0, 15},
	}
	for _, tt := range tests {
		start, end := Window(tt.page, tt.size, tt.total)
		if start != tt.start || end != tt.end {
			t.Errorf("Window(%d, %d, %d) = %d, %d, want %d, %d", tt.page, tt.size, tt.total, start, end, tt.start, tt.end)
		}
	}
}

func TestListHugePageIsEmpty(t *testing.T) {
	m := NewMemory()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := m.Create(context.Background(), id, ""); err != nil {
			t.Fatal(err)
		}
	}
	tasks, total, err := m.List(context.Background(), math.MaxInt, 10)
	if err != nil || total != 3 || len(tasks) != 0 {
		t.Fatalf("List() = %d tasks, total %d, err %v", len(tasks), total, err)
	}
}
