package engine

import (
	"context"
	"sync"
	"testing"
)

func TestPoolSubmitReportsSlotAndIdlesAfter(t *testing.T) {
	pool, err := NewPool(2)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := pool.Size(), 2; got != want {
		t.Fatalf("Size() = %d, want %d", got, want)
	}

	tgt := NewPhonyTarget("noop", nil, false, ".", FuncAction{Fn: func(ctx context.Context, t *Target) error { return nil }})

	var mu sync.Mutex
	var lines []string
	_, err = pool.Submit(context.Background(), tgt, func(slot int, line string) {
		if slot < 0 || slot >= 2 {
			t.Errorf("onSlot called with out-of-range slot %d", slot)
		}
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(lines) != 2 || lines[0] != "building noop" || lines[1] != "idle" {
		t.Fatalf("onSlot calls = %v, want [\"building noop\" \"idle\"]", lines)
	}
}

func TestPoolResizeChangesSlotCount(t *testing.T) {
	pool, err := NewPool(1)
	if err != nil {
		t.Fatal(err)
	}
	pool.Resize(4)
	if got, want := pool.Size(), 4; got != want {
		t.Fatalf("Size() after Resize(4) = %d, want %d", got, want)
	}
}
