package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayGrowsExponentially(t *testing.T) {
	t.Parallel()
	b := Backoff{Attempts: 3, Initial: time.Second, Multiplier: 2}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %s, want %s", i+1, got, w)
		}
	}

	b.Max = 3 * time.Second
	if got := b.Delay(3); got != 3*time.Second {
		t.Errorf("Expected capped delay 3s, got %s", got)
	}
}

func TestDoStopsOnSuccess(t *testing.T) {
	t.Parallel()
	b := Backoff{Attempts: 5, Initial: time.Millisecond, Multiplier: 2}

	calls := 0
	err := b.Do(context.Background(), func(n int) error {
		calls++
		if n < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
}

func TestDoReturnsLastError(t *testing.T) {
	t.Parallel()
	b := Backoff{Attempts: 3, Initial: time.Millisecond, Multiplier: 2}

	calls := 0
	err := b.Do(context.Background(), func(n int) error {
		calls++
		return errors.New("down")
	})
	if err == nil || err.Error() != "down" {
		t.Errorf("Expected last error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestDoHonoursCancellation(t *testing.T) {
	t.Parallel()
	b := Backoff{Attempts: 3, Initial: time.Hour, Multiplier: 2}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Do(ctx, func(n int) error { return errors.New("down") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
