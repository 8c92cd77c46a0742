package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/agentflow/internal/backoff"
	"github.com/rendis/agentflow/internal/logging"
	"github.com/rendis/agentflow/pkg/schema"
)

// ErrorKey is the state key a node writes to report a soft failure that
// PolicyUntilSuccess treats as a reason to retry.
const ErrorKey = "error"

// AgentPolicy decides when Decide makes another attempt.
type AgentPolicy int

const (
	// PolicyFirstCompletion treats the first call that returns as final.
	// Only a call that failed with a retryable error is attempted again.
	PolicyFirstCompletion AgentPolicy = iota
	// PolicyUntilSuccess also retries when the node succeeded but left a
	// value under ErrorKey.
	PolicyUntilSuccess
)

func (p AgentPolicy) String() string {
	switch p {
	case PolicyFirstCompletion:
		return "first_completion"
	case PolicyUntilSuccess:
		return "until_success"
	default:
		return "unknown"
	}
}

// Agent wraps a decision node. Decide runs it on a private state built
// from a plain map, attempting up to the configured number of times.
type Agent struct {
	node        StateNode
	maxAttempts int
	wait        time.Duration
	policy      AgentPolicy
	sleep       Sleeper
	logger      *slog.Logger
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithRetry allows up to max attempts with wait between them.
func WithRetry(max int, wait time.Duration) AgentOption {
	return func(a *Agent) {
		a.maxAttempts = max
		a.wait = wait
	}
}

// WithRetryPolicy selects when another attempt is made.
func WithRetryPolicy(p AgentPolicy) AgentOption {
	return func(a *Agent) { a.policy = p }
}

// WithAgentSleeper replaces the wait between attempts. A nil fn keeps the default.
func WithAgentSleeper(fn Sleeper) AgentOption {
	return func(a *Agent) {
		if fn != nil {
			a.sleep = fn
		}
	}
}

// WithAgentLogger sets the agent's logger.
func WithAgentLogger(l *slog.Logger) AgentOption {
	return func(a *Agent) { a.logger = l }
}

// NewAgent wraps node. By default it makes a single attempt.
func NewAgent(node StateNode, opts ...AgentOption) *Agent {
	a := &Agent{node: node, maxAttempts: 1, sleep: backoff.Wait}
	for _, o := range opts {
		o(a)
	}
	if a.maxAttempts < 1 {
		a.maxAttempts = 1
	}
	a.logger = logging.OrNop(a.logger)
	return a
}

// Call delegates to the wrapped node on the caller's state.
func (a *Agent) Call(ctx context.Context, state *SharedState) (*SharedState, error) {
	return a.node.Call(ctx, state)
}

// Decide runs the node on a fresh private copy of input for each attempt
// and returns the resulting map. When attempts run out the last result is
// returned with a RETRY_EXHAUSTED error.
func (a *Agent) Decide(ctx context.Context, input map[string]any) (map[string]any, error) {
	log := logging.LogWith(ctx, a.logger)

	var (
		result  map[string]any
		lastErr error
	)
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := a.sleep(ctx, a.wait); err != nil {
				return result, schema.NewError(schema.ErrCodeCancelled, "agent cancelled between attempts").WithCause(err)
			}
		}

		result, lastErr = a.once(ctx, input)
		if !a.shouldRetry(result, lastErr) {
			return result, lastErr
		}
		log.Debug("agent attempt did not succeed",
			slog.Int("attempt", attempt),
			slog.String("policy", a.policy.String()))
	}

	cause := lastErr
	if cause == nil {
		cause = fmt.Errorf("node reported %v", result[ErrorKey])
	}
	return result, schema.NewErrorf(schema.ErrCodeRetryExhausted,
		"agent gave up after %d attempt(s): %v", a.maxAttempts, cause).WithCause(cause)
}

func (a *Agent) once(ctx context.Context, input map[string]any) (map[string]any, error) {
	state := NewSharedState(input)
	out, err := a.node.Call(ctx, state)
	if out == nil || err != nil {
		out = state
	}
	return out.IntoMap(), err
}

func (a *Agent) shouldRetry(result map[string]any, err error) bool {
	if err != nil {
		return backoff.IsRetryable(err)
	}
	if a.policy == PolicyUntilSuccess {
		_, failed := result[ErrorKey]
		return failed
	}
	return false
}

var _ StateNode = (*Agent)(nil)
