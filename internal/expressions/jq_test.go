package expressions

import (
	"context"
	"testing"

	"github.com/rendis/agentflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJQ_Name(t *testing.T) {
	assert.Equal(t, "jq", NewJQEngine().Name())
}

func TestJQ_SelectField(t *testing.T) {
	e := NewJQEngine()

	out, err := e.Evaluate(context.Background(), `.query`, map[string]any{"query": "what is Go?"})
	require.NoError(t, err)
	assert.Equal(t, "what is Go?", out)
}

func TestJQ_NormalisesGoTypes(t *testing.T) {
	e := NewJQEngine()
	type doc struct {
		Title string `json:"title"`
		Words int64  `json:"words"`
	}

	out, err := e.Evaluate(context.Background(), `[.docs[] | .words] | add`, map[string]any{
		"docs": []doc{{Title: "a", Words: 3}, {Title: "b", Words: 4}},
	})
	require.NoError(t, err)
	assert.Equal(t, 7.0, out)
}

func TestJQ_Reshape(t *testing.T) {
	e := NewJQEngine()

	out, err := e.Evaluate(context.Background(), `{summary: .text, n: (.chunks | length)}`, map[string]any{
		"text":   "hello",
		"chunks": []string{"he", "llo"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"summary": "hello", "n": 2}, out)
}

func TestJQ_MultipleOutputs(t *testing.T) {
	e := NewJQEngine()
	data := map[string]any{"items": []any{1, 2, 3}}

	out, err := e.Evaluate(context.Background(), `.items[]`, data)
	require.NoError(t, err)
	assert.Len(t, out, 3)

	all, err := e.EvaluateAll(context.Background(), `.missing`, data)
	require.NoError(t, err)
	assert.Equal(t, []any{nil}, all)

	none, err := e.Evaluate(context.Background(), `empty`, data)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestJQ_EnvironmentIsEmpty(t *testing.T) {
	t.Setenv("AGENTFLOW_SECRET", "hunter2")
	e := NewJQEngine()

	out, err := e.Evaluate(context.Background(), `$ENV.AGENTFLOW_SECRET`, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestJQ_Errors(t *testing.T) {
	e := NewJQEngine()

	_, err := e.Evaluate(context.Background(), `.[`, nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(context.Background(), `error("boom")`, nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExecution))

	_, err = e.Evaluate(context.Background(), `.x`, map[string]any{"x": make(chan int)})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}
