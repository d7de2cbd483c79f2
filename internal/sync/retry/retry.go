// Package retry provides the backoff policy for queued sync operations.
//
// The delay grows exponentially from one second, caps at one minute, and
// carries up to one second of uniform jitter so clients recovering from a
// shared outage don't retry in lockstep. An operation that has failed
// MaxAttempts times is terminal and never resent automatically.
package retry

import (
	"math/rand"
	"time"

	"github.com/joselitz123/budget-planner/internal/models"
)

const (
	BaseDelay   = 1 * time.Second
	MaxDelay    = 60 * time.Second
	MaxJitter   = 1 * time.Second
	MaxAttempts = 5
)

// Floor returns the deterministic part of the delay after retryCount
// failed attempts: min(BaseDelay * 2^retryCount, MaxDelay).
func Floor(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	// 2^6 s already exceeds the cap; clamp the exponent so the shift
	// cannot overflow for large persisted counts.
	if retryCount > 6 {
		return MaxDelay
	}
	d := BaseDelay << uint(retryCount)
	if d > MaxDelay {
		return MaxDelay
	}
	return d
}

// Delay returns the backoff delay after retryCount failed attempts,
// jittered into [Floor(retryCount), Floor(retryCount)+MaxJitter).
func Delay(retryCount int) time.Duration {
	return Floor(retryCount) + time.Duration(rand.Int63n(int64(MaxJitter)))
}

// NextAttempt returns the earliest instant an operation may be resent,
// given the time of the attempt that just failed and the operation's
// retry count after the failure increment. The delay is computed from
// the attempts already made, i.e. retryCount-1.
func NextAttempt(attemptTime time.Time, retryCount int) time.Time {
	return attemptTime.Add(Delay(retryCount - 1))
}

// Exhausted reports whether an operation has used up its retry budget.
func Exhausted(retryCount int) bool {
	return retryCount >= MaxAttempts
}

// Eligible reports whether a queued operation may be sent at instant now.
// Fresh operations (no attempts yet) are always eligible; exhausted
// operations never are.
func Eligible(op *models.SyncOperation, now time.Time) bool {
	if Exhausted(op.RetryCount) {
		return false
	}
	if op.RetryCount == 0 {
		return true
	}
	return !now.Before(time.UnixMilli(op.NextRetryAt))
}
