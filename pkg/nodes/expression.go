package nodes

import (
	"context"
	"fmt"
	"maps"
	"strconv"

	"github.com/rendis/agentflow/pkg/flow"
	"github.com/rendis/agentflow/pkg/schema"
)

// Condition builds a router whose label is a CEL expression over the state,
// exposed as `state`. The expression must yield a string (used as the
// label) or a bool (labels "true" and "false").
//
//	nodes.Condition(`state.score >= 0.8 ? "accept" : "revise"`)
func Condition(expression string) (flow.StateNode, error) {
	engine, err := celEngine()
	if err != nil {
		return nil, err
	}
	if err := engine.Compile(expression); err != nil {
		return nil, err
	}
	return flow.NewRouterNode(func(ctx context.Context, state *flow.SharedState) (flow.Transition, error) {
		out, err := engine.Evaluate(ctx, expression, state.Snapshot())
		if err != nil {
			return flow.Transition{}, err
		}
		switch v := out.(type) {
		case string:
			return flow.Goto(state, flow.Action(v)), nil
		case bool:
			return flow.Goto(state, flow.Action(strconv.FormatBool(v))), nil
		default:
			return flow.Transition{}, schema.NewErrorf(schema.ErrCodeValidation,
				"condition %q produced %T, want string or bool", expression, out)
		}
	}), nil
}

// Compute stores the result of an expr-lang expression under key. Every
// state key is a variable of the expression.
//
//	nodes.Compute("total", `sum(map(chunks, len(#)))`)
func Compute(key, expression string) (flow.StateNode, error) {
	engine := exprEngine()
	if err := engine.Compile(expression); err != nil {
		return nil, err
	}
	return flow.NewNode(func(ctx context.Context, state *flow.SharedState) (*flow.SharedState, error) {
		out, err := engine.Evaluate(ctx, expression, state.Snapshot())
		if err != nil {
			return state, err
		}
		state.Set(key, out)
		return state, nil
	}), nil
}

// TransformOption configures Transform.
type TransformOption func(*transform)

type transform struct {
	target string
}

// Into stores the jq result under key instead of merging it into the state.
func Into(key string) TransformOption {
	return func(t *transform) { t.target = key }
}

// Transform reshapes the state with a jq program. By default the program
// must produce an object whose keys are written into the state.
//
//	nodes.Transform(`{prompt: "Summarise: " + .text}`)
func Transform(expression string, opts ...TransformOption) (flow.StateNode, error) {
	var cfg transform
	for _, o := range opts {
		o(&cfg)
	}
	engine := jqEngine()
	if err := engine.Compile(expression); err != nil {
		return nil, err
	}
	return flow.NewNode(func(ctx context.Context, state *flow.SharedState) (*flow.SharedState, error) {
		out, err := engine.Evaluate(ctx, expression, state.Snapshot())
		if err != nil {
			return state, err
		}
		if cfg.target != "" {
			state.Set(cfg.target, out)
			return state, nil
		}
		obj, ok := out.(map[string]any)
		if !ok {
			return state, schema.NewError(schema.ErrCodeValidation,
				fmt.Sprintf("transform %q produced %T, want an object", expression, out))
		}
		state.Update(func(data map[string]any) { maps.Copy(data, obj) })
		return state, nil
	}), nil
}
