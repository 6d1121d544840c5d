package util

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterBusy(t *testing.T) {
	var seen []int
	err := Retry(context.Background(), Backoff{Attempts: 5}, func(attempt int) error {
		seen = append(seen, attempt)
		if attempt < 3 {
			return errors.New("database is locked")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), Backoff{Attempts: 3}, func(int) error {
		calls++
		return errors.New("database is locked")
	})

	require.EqualError(t, err, "database is locked")
	assert.Equal(t, 3, calls)
}

func TestRetryPermanentStopsAfterOneAttempt(t *testing.T) {
	cause := errors.New("driver not compiled in")
	calls := 0
	err := Retry(context.Background(), Backoff{Attempts: 5, Base: time.Hour}, func(int) error {
		calls++
		return Permanent(cause)
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, cause, err, "the marker is stripped")
}

func TestRetryPermanentWrapped(t *testing.T) {
	cause := errors.New("no such table")
	calls := 0
	err := Retry(context.Background(), Backoff{Attempts: 5, Base: time.Hour}, func(int) error {
		calls++
		return errors.Join(Permanent(cause))
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, cause)
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}

func TestRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, Backoff{Attempts: 3, Base: time.Hour}, func(int) error {
		calls++
		return errors.New("database is locked")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Retry(context.Background(), Backoff{}, func(int) error {
		calls++
		return errors.New("boom")
	})
	assert.Equal(t, 1, calls)
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 500 * time.Millisecond, Max: 3 * time.Second}

	assert.Equal(t, 500*time.Millisecond, b.delay(1))
	assert.Equal(t, time.Second, b.delay(2))
	assert.Equal(t, 2*time.Second, b.delay(3))
	assert.Equal(t, 3*time.Second, b.delay(4), "capped at Max")
	assert.Equal(t, 3*time.Second, b.delay(70), "overflow is capped too")

	uncapped := Backoff{Base: time.Millisecond}
	assert.Equal(t, 8*time.Millisecond, uncapped.delay(4))
}
