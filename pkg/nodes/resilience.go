package nodes

import (
	"context"
	"errors"
	"time"

	"github.com/rendis/agentflow/internal/breaker"
	"github.com/rendis/agentflow/pkg/flow"
	"github.com/rendis/agentflow/pkg/schema"
)

// Breakers tracks one circuit per guarded collaborator.
type Breakers = breaker.Registry

// BreakerConfig configures Breakers.
type BreakerConfig = breaker.Config

// BreakerOption customises Breakers.
type BreakerOption = breaker.Option

// WithBreakerClock replaces the clock used for cooldowns.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return breaker.WithClock(now)
}

// NewBreakers creates a circuit registry. Zero fields take defaults
// (5 failures, 30s cooldown, 1 probe).
func NewBreakers(cfg BreakerConfig, opts ...BreakerOption) *Breakers {
	return breaker.New(cfg, opts...)
}

// Guard protects node with the circuit named key. While the circuit is open
// calls fail fast with CIRCUIT_OPEN without running node. A call cancelled
// by its caller is not held against the collaborator.
func Guard(key string, breakers *Breakers, node flow.StateNode) flow.StateNode {
	return flow.NewNode(func(ctx context.Context, state *flow.SharedState) (*flow.SharedState, error) {
		if err := breakers.Allow(key); err != nil {
			return state, err
		}
		out, err := node.Call(ctx, state)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				breakers.Cancel(key)
			} else {
				breakers.Failure(key)
			}
			return out, err
		}
		breakers.Success(key)
		return out, nil
	})
}

// Timeout bounds a single call of node to d. The node receives a context
// with the deadline; if it does not return in time the call fails with
// TIMEOUT_ERROR. A node that ignores its context keeps running in the
// background and may still write to the state. When the caller's own
// context ends first, the error reports that instead of d.
func Timeout(d time.Duration, node flow.StateNode) flow.StateNode {
	return flow.NewNode(func(parent context.Context, state *flow.SharedState) (*flow.SharedState, error) {
		ctx, cancel := context.WithTimeout(parent, d)
		defer cancel()

		type result struct {
			state *flow.SharedState
			err   error
		}
		done := make(chan result, 1)
		go func() {
			out, err := node.Call(ctx, state)
			done <- result{out, err}
		}()

		select {
		case r := <-done:
			if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
				return r.state, deadlineError(parent, d, r.err)
			}
			return r.state, r.err
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return state, deadlineError(parent, d, ctx.Err())
			}
			return state, ctx.Err()
		}
	})
}

// deadlineError attributes an expired deadline to the caller when the
// parent context has already ended, otherwise to the node limit d.
func deadlineError(parent context.Context, d time.Duration, cause error) error {
	switch perr := parent.Err(); {
	case errors.Is(perr, context.DeadlineExceeded):
		return schema.NewError(schema.ErrCodeTimeout, "caller deadline passed before the node finished").WithCause(perr)
	case perr != nil:
		return perr
	}
	return schema.NewErrorf(schema.ErrCodeTimeout, "node did not finish within %s", d).WithCause(cause)
}
