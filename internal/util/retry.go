package util

import (
	"context"
	"errors"
	"time"
)

// Backoff is an exponential retry policy. The delay before attempt n+1 is
// Base * 2^(n-1), capped at Max when Max is positive.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

func (b Backoff) delay(attempt int) time.Duration {
	d := b.Base << (attempt - 1)
	if b.Max > 0 && (d > b.Max || d < b.Base) {
		return b.Max
	}
	return d
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Retry stops at once and
// returns err itself, unwrapped from the marker.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn until it succeeds, returns a Permanent error, the attempts
// run out, or ctx is done. fn receives the 1-based attempt number. The last
// error is returned.
func Retry(ctx context.Context, b Backoff, fn func(attempt int) error) error {
	attempts := max(b.Attempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(b.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
