// Package backoff classifies transient errors and computes delays between
// retry attempts.
package backoff

import (
	"context"
	"errors"
	"time"

	"github.com/rendis/agentflow/pkg/schema"
)

// Strategy selects how the delay grows between attempts.
type Strategy string

const (
	StrategyConstant    Strategy = "constant"
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
)

// Policy describes the delay between retry attempts.
type Policy struct {
	Strategy Strategy
	Delay    time.Duration
	MaxDelay time.Duration
}

// Constant returns a policy that waits d between every attempt.
func Constant(d time.Duration) Policy {
	return Policy{Strategy: StrategyConstant, Delay: d}
}

// IsRetryable classifies whether an error should be retried. Context
// cancellation and FlowErrors with non-retryable codes are final; every
// other error, deadlines included, is retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// A per-call deadline is transient; the caller's own cancellation is not.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var flowErr *schema.FlowError
	if errors.As(err, &flowErr) {
		return flowErr.IsRetryable()
	}

	// Anything else, including network errors, is treated as transient;
	// the attempt bound limits the damage.
	return true
}

// Compute calculates the delay before the next attempt. attempt is zero-based:
// attempt 0 is the wait after the first failure.
func Compute(policy Policy, attempt int) time.Duration {
	if policy.Delay <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}

	var delay time.Duration
	switch policy.Strategy {
	case StrategyExponential:
		multiplier := time.Duration(1)
		for i := 0; i < attempt; i++ {
			multiplier *= 2
		}
		delay = policy.Delay * multiplier
	case StrategyLinear:
		delay = policy.Delay * time.Duration(attempt+1)
	default:
		delay = policy.Delay
	}

	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// Wait sleeps for delay or returns early if the context is cancelled.
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
