package retry

import (
	"context"
	"time"
)

// Backoff retries an operation with exponentially growing pauses.
type Backoff struct {
	Attempts   int           // total tries, including the first
	Initial    time.Duration // pause after the first failure
	Multiplier float64
	Max        time.Duration // caps a single pause; zero means no cap
}

// Delay returns the pause that follows failed attempt n (1-based).
func (b Backoff) Delay(n int) time.Duration {
	d := float64(b.Initial)
	for i := 1; i < n; i++ {
		d *= b.Multiplier
	}
	if b.Max > 0 && time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}

// Do calls fn until it succeeds, the attempts are used up or ctx ends.
// It returns the last error from fn, or ctx.Err() if cancelled while waiting.
func (b Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for n := 1; n <= attempts; n++ {
		if err = fn(n); err == nil {
			return nil
		}
		if n == attempts {
			break
		}

		t := time.NewTimer(b.Delay(n))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}
