package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rendis/agentflow/pkg/schema"
	"github.com/rendis/agentflow/pkg/streaming"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func (r *sleepRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delays)
}

// failingExec fails the first n calls and then returns "ok".
func failingExec(n int, calls *int) ExecFunc {
	return func(ctx context.Context, s *SharedState, prep any) (any, error) {
		*calls++
		if *calls <= n {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}
}

func storeExec(key string) PostFunc {
	return func(ctx context.Context, s *SharedState, prep, exec any) (*SharedState, error) {
		s.Set(key, exec)
		return s, nil
	}
}

func TestRetryNode_SucceedsAfterFailures(t *testing.T) {
	sleeper := &sleepRecorder{}
	calls := 0
	node := NewRetryNode(nil, failingExec(2, &calls), storeExec("result"),
		WithMaxRetries(5), WithWait(100*time.Millisecond), WithSleeper(sleeper.Sleep))

	out, err := node.Call(context.Background(), NewSharedState(nil))
	require.NoError(t, err)

	v, _ := out.Get("result")
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, sleeper.Count())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, sleeper.delays)
}

func TestRetryNode_AlwaysFailing(t *testing.T) {
	sleeper := &sleepRecorder{}
	calls := 0
	postCalls := 0
	var seen any
	node := NewRetryNode(nil, failingExec(100, &calls),
		func(ctx context.Context, s *SharedState, prep, exec any) (*SharedState, error) {
			postCalls++
			seen = exec
			return s, nil
		},
		WithMaxRetries(3), WithWait(time.Second), WithSleeper(sleeper.Sleep))

	_, err := node.Call(context.Background(), NewSharedState(nil))
	require.NoError(t, err)

	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, sleeper.Count(), "no wait after the last attempt")
	assert.Equal(t, 1, postCalls)

	failure, ok := seen.(*ExecFailure)
	require.True(t, ok)
	assert.Equal(t, 3, failure.Attempts)
	assert.EqualError(t, failure.Err, "transient")
}

func TestRetryNode_FallbackValueAndMutationsKept(t *testing.T) {
	calls := 0
	node := NewRetryNode(
		func(ctx context.Context, s *SharedState) any {
			q, _ := s.GetString("query")
			return q
		},
		failingExec(10, &calls),
		storeExec("answer"),
		WithMaxRetries(2),
		WithSleeper(func(context.Context, time.Duration) error { return nil }),
		WithFallback(func(ctx context.Context, s *SharedState, prep any, err error) (any, error) {
			s.Set("degraded", true)
			return "cached answer for " + prep.(string), nil
		}),
	)

	out, err := node.Call(context.Background(), NewSharedState(map[string]any{"query": "go"}))
	require.NoError(t, err)

	answer, _ := out.GetString("answer")
	assert.Equal(t, "cached answer for go", answer)
	degraded, _ := out.Get("degraded")
	assert.Equal(t, true, degraded)
}

func TestRetryNode_FailingFallbackYieldsExecFailure(t *testing.T) {
	calls := 0
	var seen any
	node := NewRetryNode(nil, failingExec(10, &calls),
		func(ctx context.Context, s *SharedState, prep, exec any) (*SharedState, error) {
			seen = exec
			return s, nil
		},
		WithFallback(func(ctx context.Context, s *SharedState, prep any, err error) (any, error) {
			return nil, errors.New("cache miss")
		}),
	)

	_, err := node.Call(context.Background(), NewSharedState(nil))
	require.NoError(t, err)

	failure, ok := seen.(*ExecFailure)
	require.True(t, ok)
	assert.ErrorContains(t, failure, "cache miss")
	assert.ErrorContains(t, failure, "transient")
}

func TestRetryNode_NonRetryableStopsEarly(t *testing.T) {
	sleeper := &sleepRecorder{}
	calls := 0
	node := NewRetryNode(nil,
		func(ctx context.Context, s *SharedState, prep any) (any, error) {
			calls++
			return nil, schema.NewError(schema.ErrCodeNonRetryable, "bad prompt")
		},
		nil,
		WithMaxRetries(5), WithSleeper(sleeper.Sleep))

	_, err := node.Call(context.Background(), NewSharedState(nil))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, sleeper.Count())
}

func TestRetryNode_CustomRetryable(t *testing.T) {
	calls := 0
	node := NewRetryNode(nil, failingExec(10, &calls), nil,
		WithMaxRetries(4),
		WithSleeper(func(context.Context, time.Duration) error { return nil }),
		WithRetryable(func(error) bool { return false }))

	_, err := node.Call(context.Background(), NewSharedState(nil))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryNode_ExponentialBackoff(t *testing.T) {
	sleeper := &sleepRecorder{}
	calls := 0
	node := NewRetryNode(nil, failingExec(10, &calls), nil,
		WithMaxRetries(5),
		WithBackoff(BackoffPolicy{Strategy: BackoffExponential, Delay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}),
		WithSleeper(sleeper.Sleep))

	_, err := node.Call(context.Background(), NewSharedState(nil))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond,
	}, sleeper.delays)
}

func TestRetryNode_CancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	var seen any
	node := NewRetryNode(nil, failingExec(10, &calls),
		func(ctx context.Context, s *SharedState, prep, exec any) (*SharedState, error) {
			seen = exec
			return s, nil
		},
		WithMaxRetries(5),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}))

	_, err := node.Call(ctx, NewSharedState(nil))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	var failure *ExecFailure
	require.ErrorAs(t, seen.(error), &failure)
	assert.ErrorIs(t, failure, context.Canceled)
}

func TestRetryNode_PostErrorPropagates(t *testing.T) {
	node := NewRetryNode(nil,
		func(ctx context.Context, s *SharedState, prep any) (any, error) { return 1, nil },
		func(ctx context.Context, s *SharedState, prep, exec any) (*SharedState, error) {
			return s, errors.New("store failed")
		})

	_, err := node.Call(context.Background(), NewSharedState(nil))
	assert.EqualError(t, err, "store failed")
}

func TestRetryNode_ZeroRetriesStillAttemptsOnce(t *testing.T) {
	calls := 0
	node := NewRetryNode(nil, failingExec(0, &calls), storeExec("r"), WithMaxRetries(0))

	out, err := node.Call(context.Background(), NewSharedState(nil))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	r, _ := out.Get("r")
	assert.Equal(t, "ok", r)
}

func TestRetryNode_PublishesRetryEvents(t *testing.T) {
	hub := streaming.NewMemoryHub(0)
	ch, cancel, err := hub.Subscribe(context.Background(), streaming.Filter{})
	require.NoError(t, err)
	defer cancel()

	calls := 0
	node := NewRetryNode(nil, failingExec(10, &calls), nil,
		WithMaxRetries(2),
		WithNodeName("llm"),
		WithRetryEvents(hub),
		WithSleeper(func(context.Context, time.Duration) error { return nil }),
		WithFallback(func(ctx context.Context, s *SharedState, prep any, err error) (any, error) { return "x", nil }))

	_, err = node.Call(context.Background(), NewSharedState(nil))
	require.NoError(t, err)

	first := <-ch
	second := <-ch
	assert.Equal(t, schema.EventRetryAttempt, first.Type)
	assert.Equal(t, "llm", first.Node)
	assert.Equal(t, schema.EventFallback, second.Type)
}
