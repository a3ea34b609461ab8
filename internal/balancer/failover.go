package balancer

import (
	"context"
	"time"
)

// FailureInfo describes one failed attempt, passed to a
// FailoverCondition and FailoverPolicy to decide what happens next.
type FailureInfo struct {
	Attempt     int
	Cause       error
	AffinityKey string
}

// FailoverCondition decides whether a given failure is retryable at
// all (e.g. a codec error never is; a connection-refused error is).
type FailoverCondition func(FailureInfo) bool

// AlwaysRetry treats every failure as retryable.
func AlwaysRetry(FailureInfo) bool { return true }

// FailoverPolicy decides whether to retry a failed send and, if so,
// how long to wait first.
type FailoverPolicy interface {
	ShouldRetry(ctx context.Context, info FailureInfo) (delay time.Duration, retry bool)
}

// Retry is the reference FailoverPolicy: retries up to MaxAttempts
// times with a fixed Delay between attempts, gated by Condition
// (defaulting to AlwaysRetry).
type Retry struct {
	MaxAttempts int
	Delay       time.Duration
	Condition   FailoverCondition
}

// NewRetry returns a Retry policy with sane defaults.
func NewRetry(maxAttempts int, delay time.Duration) Retry {
	return Retry{MaxAttempts: maxAttempts, Delay: delay, Condition: AlwaysRetry}
}

func (r Retry) ShouldRetry(_ context.Context, info FailureInfo) (time.Duration, bool) {
	cond := r.Condition
	if cond == nil {
		cond = AlwaysRetry
	}
	if info.Attempt >= r.MaxAttempts {
		return 0, false
	}
	if !cond(info) {
		return 0, false
	}
	return r.Delay, true
}
