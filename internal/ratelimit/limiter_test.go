package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signalnine/moralmachine/internal/ratelimit"
)

type fakeClock struct {
	mu    sync.Mutex
	t     time.Time
	slept time.Duration
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	c.slept += d
	return nil
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestWaitBlocksOverLimit(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := ratelimit.NewWithClock(clock.now, clock.sleep)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := l.Wait(ctx, 5, 10*time.Second); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
	if clock.slept != 0 {
		t.Fatalf("first max_calls calls slept %v", clock.slept)
	}

	if err := l.Wait(ctx, 5, 10*time.Second); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if clock.slept == 0 {
		t.Error("call over the limit did not block")
	}
	// The window is widened by 10%, so the oldest call expires after 11s.
	if clock.slept < 11*time.Second {
		t.Errorf("slept %v, want at least 11s", clock.slept)
	}
}

func TestWaitSpacedCallsNeverBlock(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := ratelimit.NewWithClock(clock.now, clock.sleep)
	for i := 0; i < 20; i++ {
		if err := l.Wait(context.Background(), 3, time.Second); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		clock.advance(1200 * time.Millisecond)
	}
	if clock.slept != 0 {
		t.Errorf("spaced calls slept %v", clock.slept)
	}
}

func TestWaitRealClock(t *testing.T) {
	l := ratelimit.New()
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		l.Wait(ctx, 2, 100*time.Millisecond)
	}
	start := time.Now()
	if err := l.Wait(ctx, 2, 100*time.Millisecond); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed <= 0 || elapsed < 50*time.Millisecond {
		t.Errorf("third call returned after %v, expected to block", elapsed)
	}
}

func TestWaitCancelled(t *testing.T) {
	l := ratelimit.New()
	ctx, cancel := context.WithCancel(context.Background())
	l.Wait(ctx, 1, time.Hour)
	cancel()
	if err := l.Wait(ctx, 1, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestWaitConcurrent(t *testing.T) {
	l := ratelimit.New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Wait(context.Background(), 1000, time.Minute)
		}()
	}
	wg.Wait()
	if got := l.Calls(); got != 50 {
		t.Errorf("recorded %d calls, want 50", got)
	}
}

func TestShared(t *testing.T) {
	if ratelimit.Shared("openai") != ratelimit.Shared("openai") {
		t.Error("Shared returned different limiters for the same resource")
	}
	if ratelimit.Shared("openai") == ratelimit.Shared("google") {
		t.Error("Shared returned the same limiter for different resources")
	}
}

func TestSetMargin(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := ratelimit.NewWithClock(clock.now, clock.sleep)
	l.SetMargin(2)
	l.SetMargin(0.5)
	if got := l.Margin(); got != 2 {
		t.Fatalf("margin = %v, want 2 (values below 1 ignored)", got)
	}

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		if err := l.Wait(ctx, 5, 10*time.Second); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
	// A doubled window keeps the oldest call for 20s.
	if clock.slept < 20*time.Second {
		t.Errorf("slept %v, want at least 20s", clock.slept)
	}
}
