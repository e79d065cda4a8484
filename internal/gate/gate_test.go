package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	g := New(2, nil)
	ctx := context.Background()

	p1, err := g.Acquire(ctx, "")
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if p1.Lane() != DefaultLane {
		t.Errorf("lane = %q, want %q", p1.Lane(), DefaultLane)
	}
	p2, err := g.Acquire(ctx, DefaultLane)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if got := g.InUse(DefaultLane); got != 2 {
		t.Errorf("InUse = %d, want 2", got)
	}

	g.Release(p1)
	g.Release(p1)
	g.Release(nil)
	if got := g.InUse(DefaultLane); got != 1 {
		t.Errorf("InUse after double release = %d, want 1", got)
	}
	g.Release(p2)
	if got := g.InUse(DefaultLane); got != 0 {
		t.Errorf("InUse = %d, want 0", got)
	}
}

func TestLaneLimits(t *testing.T) {
	g := New(3, map[string]int{"heavy": 1, "broken": 0})
	tests := []struct {
		lane string
		want int
	}{
		{"heavy", 1},
		{"broken", 1},
		{"unknown", 3},
	}
	for _, tt := range tests {
		if got := g.Limit(tt.lane); got != tt.want {
			t.Errorf("Limit(%q) = %d, want %d", tt.lane, got, tt.want)
		}
	}
}

func TestAcquireBlocksUntilContextDone(t *testing.T) {
	g := New(1, nil)
	p, err := g.Acquire(context.Background(), "x")
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	defer g.Release(p)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := g.Acquire(ctx, "x"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if got := g.InUse("x"); got != 1 {
		t.Errorf("InUse = %d, want 1", got)
	}
}

func TestNeverExceedsLimit(t *testing.T) {
	const limit = 3
	g := New(limit, nil)

	var (
		mu      sync.Mutex
		current int
		peak    int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := g.Acquire(context.Background(), "lane")
			if err != nil {
				t.Errorf("Acquire() error: %v", err)
				return
			}
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
			g.Release(p)
		}()
	}
	wg.Wait()

	if peak > limit {
		t.Errorf("peak concurrency %d exceeded limit %d", peak, limit)
	}
}

func TestFIFOAdmission(t *testing.T) {
	g := New(1, nil)
	held, err := g.Acquire(context.Background(), "lane")
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	order := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			p, err := g.Acquire(context.Background(), "lane")
			if err != nil {
				t.Errorf("Acquire() error: %v", err)
				return
			}
			order <- i
			g.Release(p)
		}()
		// Let each waiter enqueue before the next one.
		time.Sleep(10 * time.Millisecond)
	}

	g.Release(held)
	for want := 0; want < 3; want++ {
		select {
		case got := <-order:
			if got != want {
				t.Errorf("admitted %d, want %d", got, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for admission")
		}
	}
}
