package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowError_Message(t *testing.T) {
	err := NewError(ErrCodeExecution, "boom")
	assert.Equal(t, "[EXECUTION_ERROR] boom", err.Error())

	err = NewErrorf(ErrCodeNodeFailed, "call failed: %d", 3).WithNode("summarize")
	assert.Equal(t, "[NODE_FAILED] node summarize: call failed: 3", err.Error())
}

func TestFlowError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewError(ErrCodeExecution, "search failed").WithCause(cause)

	assert.ErrorIs(t, err, cause)

	var flowErr *FlowError
	wrapped := fmt.Errorf("outer: %w", err)
	require.True(t, errors.As(wrapped, &flowErr))
	assert.Equal(t, ErrCodeExecution, flowErr.Code)
}

func TestFlowError_IsRetryable(t *testing.T) {
	assert.True(t, NewError(ErrCodeExecution, "x").IsRetryable())
	assert.True(t, NewError(ErrCodeTimeout, "x").IsRetryable())
	assert.True(t, NewError(ErrCodeNodeFailed, "x").IsRetryable())

	for _, code := range []string{
		ErrCodeValidation, ErrCodeNonRetryable, ErrCodeCancelled, ErrCodeNotFound,
		ErrCodeStateReleased, ErrCodeSchemaMismatch, ErrCodeStepLimit, ErrCodeCircuitOpen,
	} {
		assert.False(t, NewError(code, "x").IsRetryable(), "expected %s to be non-retryable", code)
	}
}

func TestHasCode_NestedCauses(t *testing.T) {
	inner := NewError(ErrCodeSchemaMismatch, "bad shape")
	outer := NewError(ErrCodeNodeFailed, "node failed").WithNode("extract").WithCause(inner)

	assert.True(t, HasCode(outer, ErrCodeNodeFailed))
	assert.True(t, HasCode(outer, ErrCodeSchemaMismatch))
	assert.True(t, HasCode(fmt.Errorf("ctx: %w", outer), ErrCodeSchemaMismatch))
	assert.False(t, HasCode(outer, ErrCodeTimeout))
	assert.False(t, HasCode(errors.New("plain"), ErrCodeExecution))
	assert.False(t, HasCode(nil, ErrCodeExecution))
}
