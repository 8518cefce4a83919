// Package retry wraps a single provider call with bounded-attempt
// exponential backoff and jitter. Only transient provider failures are
// retried; fatal ones propagate immediately.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/backtran/backtran/internal/provider"
)

// Policy configures the backoff schedule. The delay before attempt n+1 is
// min(MaxDelay, BaseDelay * 2^(n-1)) plus a random jitter in [0, Jitter).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration
}

// DefaultPolicy returns the standard retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Jitter:      250 * time.Millisecond,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy().MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultPolicy().BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPolicy().MaxDelay
	}
	return p
}

// Event describes one failed attempt and the backoff decision taken.
// Delay is zero when no further attempt follows.
type Event struct {
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
	Err         error
}

// Executor runs operations under a Policy. Events, when non-nil, receives a
// notification per failed attempt; sends never block, a slow consumer just
// misses events.
type Executor struct {
	policy Policy
	logger *slog.Logger
	events chan<- Event
}

func New(policy Policy, logger *slog.Logger, events chan<- Event) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{policy: policy.normalized(), logger: logger, events: events}
}

// Do calls op until it succeeds, fails fatally, runs out of attempts, or the
// context is cancelled. The backoff sleep is cancellable; on cancellation
// the context error is returned without further attempts.
func (e *Executor) Do(ctx context.Context, op func(context.Context) (string, error)) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !Retryable(err) {
			e.logger.Warn("attempt failed with fatal error",
				"attempt", attempt, "max_attempts", e.policy.MaxAttempts, "error", err)
			e.emit(Event{Attempt: attempt, MaxAttempts: e.policy.MaxAttempts, Err: err})
			return "", err
		}

		if attempt == e.policy.MaxAttempts {
			e.emit(Event{Attempt: attempt, MaxAttempts: e.policy.MaxAttempts, Err: err})
			break
		}

		delay := e.delay(attempt)
		e.logger.Warn("attempt failed, backing off",
			"attempt", attempt, "max_attempts", e.policy.MaxAttempts,
			"delay", delay, "error", err)
		e.emit(Event{Attempt: attempt, MaxAttempts: e.policy.MaxAttempts, Delay: delay, Err: err})

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}

	return "", lastErr
}

// delay computes the backoff before the attempt following attempt n.
func (e *Executor) delay(attempt int) time.Duration {
	backoff := e.policy.BaseDelay << (attempt - 1)
	if backoff > e.policy.MaxDelay || backoff <= 0 {
		backoff = e.policy.MaxDelay
	}
	if e.policy.Jitter > 0 {
		backoff += time.Duration(rand.Int63n(int64(e.policy.Jitter)))
	}
	return backoff
}

func (e *Executor) emit(ev Event) {
	if e.events == nil {
		return
	}
	select {
	case e.events <- ev:
	default:
	}
}

// Retryable reports whether err is a transient provider failure. Context
// cancellation and unclassified errors are never retried.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perr provider.Error
	if errors.As(err, &perr) {
		return perr.Retryable()
	}
	return false
}
