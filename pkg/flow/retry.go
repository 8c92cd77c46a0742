package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/agentflow/internal/backoff"
	"github.com/rendis/agentflow/internal/logging"
	"github.com/rendis/agentflow/pkg/schema"
	"github.com/rendis/agentflow/pkg/streaming"
)

// PrepFunc reads what exec needs from the state. It cannot fail.
type PrepFunc func(ctx context.Context, state *SharedState) any

// ExecFunc performs the fallible work. It is retried.
type ExecFunc func(ctx context.Context, state *SharedState, prep any) (any, error)

// PostFunc stores the exec value into the state. It runs exactly once per call.
type PostFunc func(ctx context.Context, state *SharedState, prep, exec any) (*SharedState, error)

// FallbackFunc produces an exec value after every attempt failed. It gets
// the live state, so changes it makes are kept.
type FallbackFunc func(ctx context.Context, state *SharedState, prep any, err error) (any, error)

// Sleeper waits between attempts. Replace it to control time in tests.
type Sleeper func(ctx context.Context, d time.Duration) error

// BackoffPolicy controls the wait between attempts.
type BackoffPolicy = backoff.Policy

// Backoff strategies for BackoffPolicy.
const (
	BackoffConstant    = backoff.StrategyConstant
	BackoffLinear      = backoff.StrategyLinear
	BackoffExponential = backoff.StrategyExponential
)

// ExecFailure is the exec value handed to post when every attempt failed
// and no fallback recovered. Post can detect it with errors.As.
type ExecFailure struct {
	Attempts int
	Err      error
}

func (e *ExecFailure) Error() string {
	return fmt.Sprintf("exec failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExecFailure) Unwrap() error { return e.Err }

// RetryNode runs a prep/exec/post pipeline where exec is retried with
// waits between attempts and an optional fallback.
type RetryNode struct {
	name        string
	prep        PrepFunc
	exec        ExecFunc
	post        PostFunc
	maxAttempts int
	policy      BackoffPolicy
	fallback    FallbackFunc
	sleep       Sleeper
	retryable   func(error) bool
	logger      *slog.Logger
	hub         streaming.Hub
}

// RetryOption configures a RetryNode.
type RetryOption func(*RetryNode)

// WithMaxRetries sets the total number of exec attempts. Values below one
// mean a single attempt.
func WithMaxRetries(n int) RetryOption {
	return func(r *RetryNode) { r.maxAttempts = n }
}

// WithWait waits d between attempts.
func WithWait(d time.Duration) RetryOption {
	return func(r *RetryNode) { r.policy = backoff.Constant(d) }
}

// WithBackoff sets a growing wait between attempts.
func WithBackoff(p BackoffPolicy) RetryOption {
	return func(r *RetryNode) { r.policy = p }
}

// WithFallback recovers from exhausted attempts.
func WithFallback(fn FallbackFunc) RetryOption {
	return func(r *RetryNode) { r.fallback = fn }
}

// WithSleeper replaces the context-aware timer used between attempts. A nil
// fn keeps the default.
func WithSleeper(fn Sleeper) RetryOption {
	return func(r *RetryNode) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

// WithRetryable decides which exec errors are worth another attempt.
// The default retries everything except cancellation and FlowErrors with
// non-retryable codes.
func WithRetryable(fn func(error) bool) RetryOption {
	return func(r *RetryNode) { r.retryable = fn }
}

// WithRetryLogger sets the logger for attempt failures.
func WithRetryLogger(l *slog.Logger) RetryOption {
	return func(r *RetryNode) { r.logger = l }
}

// WithRetryEvents publishes retry and fallback events to hub.
func WithRetryEvents(hub streaming.Hub) RetryOption {
	return func(r *RetryNode) { r.hub = hub }
}

// WithNodeName names the node in logs, events and errors.
func WithNodeName(name string) RetryOption {
	return func(r *RetryNode) { r.name = name }
}

// NewRetryNode builds a retrying node. A nil prep yields a nil prep value
// and a nil post returns the state unchanged.
func NewRetryNode(prep PrepFunc, exec ExecFunc, post PostFunc, opts ...RetryOption) *RetryNode {
	r := &RetryNode{
		prep:        prep,
		exec:        exec,
		post:        post,
		maxAttempts: 1,
		sleep:       backoff.Wait,
		retryable:   backoff.IsRetryable,
	}
	for _, o := range opts {
		o(r)
	}
	if r.maxAttempts < 1 {
		r.maxAttempts = 1
	}
	if r.prep == nil {
		r.prep = func(context.Context, *SharedState) any { return nil }
	}
	if r.post == nil {
		r.post = func(_ context.Context, s *SharedState, _, _ any) (*SharedState, error) { return s, nil }
	}
	r.logger = logging.OrNop(r.logger)
	return r
}

// Call runs prep once, exec up to the configured number of attempts, then
// post once with the exec value, the fallback value or an *ExecFailure.
func (r *RetryNode) Call(ctx context.Context, state *SharedState) (*SharedState, error) {
	if r.name != "" {
		ctx = logging.WithNode(ctx, r.name)
	}
	prep := r.prep(ctx, state)
	value := r.attempt(ctx, state, prep)
	return r.post(ctx, state, prep, value)
}

func (r *RetryNode) attempt(ctx context.Context, state *SharedState, prep any) any {
	log := logging.LogWith(ctx, r.logger)

	var lastErr error
	attempts := 0
	for attempts < r.maxAttempts {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		attempts++
		value, err := r.exec(ctx, state, prep)
		if err == nil {
			return value
		}
		lastErr = err
		log.Warn("exec attempt failed",
			slog.Int("attempt", attempts),
			slog.Int("max_attempts", r.maxAttempts),
			slog.String("error", err.Error()))

		if attempts == r.maxAttempts || !r.retryable(err) {
			break
		}
		r.publish(ctx, schema.EventRetryAttempt, map[string]any{"attempt": attempts, "error": err.Error()})
		if err := r.sleep(ctx, backoff.Compute(r.policy, attempts-1)); err != nil {
			lastErr = err
			break
		}
	}

	if r.fallback != nil {
		r.publish(ctx, schema.EventFallback, map[string]any{"attempts": attempts, "error": lastErr.Error()})
		value, err := r.fallback(ctx, state, prep, lastErr)
		if err == nil {
			return value
		}
		log.Warn("fallback failed", slog.String("error", err.Error()))
		lastErr = fmt.Errorf("fallback: %w (after %w)", err, lastErr)
	}
	return &ExecFailure{Attempts: attempts, Err: lastErr}
}

func (r *RetryNode) publish(ctx context.Context, typ string, payload map[string]any) {
	if r.hub == nil {
		return
	}
	// Events are still delivered after the run's context has ended.
	_ = r.hub.Publish(context.WithoutCancel(ctx), streaming.Event{
		RunID:   logging.RunID(ctx),
		Flow:    logging.Flow(ctx),
		Node:    logging.Node(ctx),
		Type:    typ,
		Time:    time.Now(),
		Payload: payload,
	})
}

var _ StateNode = (*RetryNode)(nil)
