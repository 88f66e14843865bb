package pool

import (
	"context"
	"testing"
	"time"

	"github.com/unidal/dal"
)

// TestOrderedResultsUnderReordering submits tasks 0..9 into a pool of
// concurrency 4, task i sleeping (9-i)ms, and checks that Next returns
// results in submission order 0,1,2,...,9 regardless of completion
// order.
func TestOrderedResultsUnderReordering(t *testing.T) {
	p := New[int, int](dal.GoExecutor{}, 4, 10, func(ctx context.Context, i int) (int, error) {
		time.Sleep(time.Duration(9-i) * time.Millisecond)
		return i, nil
	})

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := p.Execute(ctx, i); err != nil {
			t.Fatalf("Execute(%d) error = %v", i, err)
		}
	}

	for want := 0; want < 10; want++ {
		got, ok, err := p.Next(ctx)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if !ok {
			t.Fatalf("Next() ok = false, want true at index %d", want)
		}
		if got != want {
			t.Fatalf("Next() = %d, want %d", got, want)
		}
	}

	if _, ok, err := p.Next(ctx); ok || err != nil {
		t.Fatalf("Next() after drain = (_, %v, %v), want (_, false, nil)", ok, err)
	}
}

func TestConcurrencyBound(t *testing.T) {
	const concurrency = 3
	running := make(chan struct{}, 100)
	release := make(chan struct{})
	maxSeen := 0
	var cur int

	p := New[int, int](dal.GoExecutor{}, concurrency, 100, func(ctx context.Context, i int) (int, error) {
		running <- struct{}{}
		cur++
		if cur > maxSeen {
			maxSeen = cur
		}
		<-release
		cur--
		<-running
		return i, nil
	})

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		if err := p.Execute(ctx, i); err != nil {
			t.Fatalf("Execute error = %v", err)
		}
	}

	// Let the first batch actually start.
	time.Sleep(20 * time.Millisecond)
	if n := len(running); n > concurrency {
		t.Fatalf("tasks running at once = %d, want at most %d", n, concurrency)
	}
	close(release)

	for i := 0; i < 20; i++ {
		if _, ok, err := p.Next(ctx); !ok || err != nil {
			t.Fatalf("Next() = (_, %v, %v)", ok, err)
		}
	}
}

func TestExecuteBlocksOnBackpressure(t *testing.T) {
	gate := make(chan struct{})
	p := New[int, int](dal.GoExecutor{}, 1, 0, func(ctx context.Context, i int) (int, error) {
		<-gate
		return i, nil
	})

	ctx := context.Background()
	if err := p.Execute(ctx, 0); err != nil {
		t.Fatalf("Execute(0) error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = p.Execute(ctx, 1)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Execute(1) should have blocked with C=1, Q=0 and task 0 still running")
	case <-time.After(30 * time.Millisecond):
	}

	close(gate)
	if _, ok, err := p.Next(ctx); !ok || err != nil {
		t.Fatalf("Next() = (_, %v, %v)", ok, err)
	}
	<-done
	if _, ok, err := p.Next(ctx); !ok || err != nil {
		t.Fatalf("Next() = (_, %v, %v)", ok, err)
	}
}

func TestClearReturnsPoolToIdle(t *testing.T) {
	gate := make(chan struct{})
	p := New[int, int](dal.GoExecutor{}, 2, 2, func(ctx context.Context, i int) (int, error) {
		<-gate
		return i, nil
	})

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if err := p.Execute(ctx, i); err != nil {
			t.Fatalf("Execute error = %v", err)
		}
	}

	p.Clear()

	if _, ok, _ := p.Next(ctx); ok {
		t.Fatal("Next() after Clear() should report an idle pool")
	}

	if err := p.Execute(ctx, 99); err != nil {
		t.Fatalf("Execute after Clear error = %v", err)
	}
	close(gate)
	got, ok, err := p.Next(ctx)
	if !ok || err != nil || got != 99 {
		t.Fatalf("Next() = (%d, %v, %v), want (99, true, nil)", got, ok, err)
	}
}

func TestTaskTimeout(t *testing.T) {
	exec := dal.GoExecutor{PerTaskTimeout: 10 * time.Millisecond}
	p := New[int, int](exec, 1, 0, func(ctx context.Context, i int) (int, error) {
		select {
		case <-time.After(time.Second):
			return i, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	})

	ctx := context.Background()
	if err := p.Execute(ctx, 0); err != nil {
		t.Fatalf("Execute error = %v", err)
	}
	_, ok, err := p.Next(ctx)
	if !ok {
		t.Fatal("Next() ok = false, want true (a timed-out task still yields a result)")
	}
	if err == nil {
		t.Fatal("Next() error = nil, want a timeout error")
	}
	if !dal.IsTemporary(err) {
		t.Fatalf("timeout error should be Temporary, got %v", err)
	}
}
