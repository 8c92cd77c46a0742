package expressions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
	"github.com/rendis/agentflow/pkg/schema"
)

// JQEngine evaluates jq programs over the JSON form of a state snapshot.
type JQEngine struct {
	cache *programCache[*gojq.Code]
}

// NewJQEngine creates a jq engine.
func NewJQEngine() *JQEngine {
	return &JQEngine{cache: newProgramCache[*gojq.Code]()}
}

func (e *JQEngine) Name() string { return "jq" }

func (e *JQEngine) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

func (e *JQEngine) program(expression string) (*gojq.Code, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}
	return e.cache.get(expression, compileJQ)
}

// Evaluate runs expression. A single output is returned as is, several
// outputs are collected into a []any, and no output yields nil.
func (e *JQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	results, err := e.EvaluateAll(ctx, expression, data)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// EvaluateAll runs expression and returns every output.
func (e *JQEngine) EvaluateAll(ctx context.Context, expression string, data map[string]any) ([]any, error) {
	code, err := e.program(expression)
	if err != nil {
		return nil, err
	}

	input, err := toJSONValue(data)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"state is not representable as JSON: %s", err).WithCause(err)
	}

	iter := code.RunWithContext(ctx, input)
	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"jq evaluation failed for %q: %s", expression, err).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
		}
		results = append(results, v)
	}
	return results, nil
}

func compileJQ(expression string) (*gojq.Code, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", expression, err).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	// No environment: $ENV and env are empty inside programs.
	code, err := gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", expression, err).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return code, nil
}

// toJSONValue converts arbitrary Go values into the plain JSON shapes gojq
// accepts (maps, slices, float64, string, bool, nil).
func toJSONValue(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return out, nil
}

var _ Engine = (*JQEngine)(nil)
