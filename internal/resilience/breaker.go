// Package resilience holds the circuit breaker and backoff-restart helpers that make the log-write path and
// background maintenance tasks degrade gracefully under a struggling dependency (SPEC_FULL.md §4.10).
package resilience

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// NewLogWriteBreaker returns a circuit breaker tuned for wrapping a single Postgres write statement: it trips after
// 5 consecutive failures within the rolling window, then holds the circuit open for a cooldown before allowing a
// single trial request through. name distinguishes breakers in the library's internal state-change callback, useful
// when several breakers (direct vs group message writes) are running in the same process.
func NewLogWriteBreaker(name string, onStateChange func(name string, from, to gobreaker.State)) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: onStateChange,
	})
}

// ErrBreakerOpen wraps gobreaker.ErrOpenState so callers can detect a tripped breaker without importing gobreaker
// directly.
var ErrBreakerOpen = gobreaker.ErrOpenState

// Do runs fn through breaker, discarding the breaker's unused generic return slot. Returns ErrBreakerOpen (via
// errors.Is) immediately without calling fn when the circuit is open.
func Do(breaker *gobreaker.CircuitBreaker, fn func() error) error {
	_, err := breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// RunWithBackoff runs fn repeatedly until ctx is cancelled, restarting it with exponential backoff (capped at
// maxBackoff) whenever it returns an error. Grounded on the teacher's cmd/uncord/main.go background-task restart
// loop; used here for the refresh token expiry sweep (SPEC_FULL.md §4.10).
func RunWithBackoff(ctx context.Context, name string, minBackoff, maxBackoff time.Duration, fn func(ctx context.Context) error, onError func(name string, err error, backoff time.Duration)) {
	backoff := minBackoff
	for {
		err := fn(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			backoff = minBackoff
			continue
		}

		if onError != nil {
			onError(name, err, backoff)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
