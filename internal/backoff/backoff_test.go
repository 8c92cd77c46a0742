package backoff

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/rendis/agentflow/pkg/schema"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryable_Nil(t *testing.T) {
	assert.False(t, IsRetryable(nil))
}

func TestIsRetryable_ContextCanceled(t *testing.T) {
	assert.False(t, IsRetryable(context.Canceled))
}

func TestIsRetryable_ContextDeadlineExceeded(t *testing.T) {
	assert.True(t, IsRetryable(context.DeadlineExceeded))
}

func TestIsRetryable_FlowError(t *testing.T) {
	assert.True(t, IsRetryable(schema.NewError(schema.ErrCodeExecution, "model call failed")))
	assert.True(t, IsRetryable(schema.NewError(schema.ErrCodeTimeout, "search timed out")))

	assert.False(t, IsRetryable(schema.NewError(schema.ErrCodeNonRetryable, "bad api key")))
	assert.False(t, IsRetryable(schema.NewError(schema.ErrCodeCircuitOpen, "open")))
	assert.False(t, IsRetryable(schema.NewError(schema.ErrCodeValidation, "bad input")))
}

func TestIsRetryable_PlainErrorDefaultsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("something went wrong")))
}

func TestIsRetryable_UnclassifiedErrorsRetry(t *testing.T) {
	for _, msg := range []string{
		"connection reset by peer",
		"429 too many requests",
		"400 bad request",
		"model returned malformed JSON",
	} {
		assert.True(t, IsRetryable(errors.New(msg)), "expected %q to be retryable", msg)
	}
	assert.True(t, IsRetryable(&net.OpError{Op: "dial", Err: errors.New("no route to host")}))
}

func TestIsRetryable_WrappedFlowErrorDecides(t *testing.T) {
	err := fmt.Errorf("call llm: %w", schema.NewError(schema.ErrCodeNonRetryable, "service unavailable: bad api key"))
	assert.False(t, IsRetryable(err))
}

func TestCompute_ZeroDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), Compute(Policy{Strategy: StrategyExponential}, 3))
}

func TestCompute_Constant(t *testing.T) {
	p := Constant(100 * time.Millisecond)

	assert.Equal(t, 100*time.Millisecond, Compute(p, 0))
	assert.Equal(t, 100*time.Millisecond, Compute(p, 1))
	assert.Equal(t, 100*time.Millisecond, Compute(p, 7))
}

func TestCompute_Exponential(t *testing.T) {
	p := Policy{Strategy: StrategyExponential, Delay: 10 * time.Millisecond}

	assert.Equal(t, 10*time.Millisecond, Compute(p, 0))
	assert.Equal(t, 20*time.Millisecond, Compute(p, 1))
	assert.Equal(t, 40*time.Millisecond, Compute(p, 2))
	assert.Equal(t, 80*time.Millisecond, Compute(p, 3))
}

func TestCompute_Linear(t *testing.T) {
	p := Policy{Strategy: StrategyLinear, Delay: 10 * time.Millisecond}

	assert.Equal(t, 10*time.Millisecond, Compute(p, 0))
	assert.Equal(t, 20*time.Millisecond, Compute(p, 1))
	assert.Equal(t, 30*time.Millisecond, Compute(p, 2))
}

func TestCompute_MaxDelay(t *testing.T) {
	p := Policy{Strategy: StrategyExponential, Delay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}

	assert.Equal(t, 40*time.Millisecond, Compute(p, 2))
	assert.Equal(t, 50*time.Millisecond, Compute(p, 3)) // capped
	assert.Equal(t, 50*time.Millisecond, Compute(p, 4)) // capped
}

func TestWait_ZeroDelay(t *testing.T) {
	assert.NoError(t, Wait(context.Background(), 0))
	assert.NoError(t, Wait(context.Background(), -1))
}

func TestWait_Waits(t *testing.T) {
	start := time.Now()
	err := Wait(context.Background(), 50*time.Millisecond)

	assert.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestWait_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Wait(ctx, 5*time.Second)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
