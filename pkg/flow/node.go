// Package flow composes asynchronous processing units into sequential,
// branching and parallel pipelines over a shared mutable state.
package flow

import "context"

// Node is a unit of work that turns an input into an output. Nodes are
// immutable once built and may be called concurrently.
type Node[I, O any] interface {
	Call(ctx context.Context, in I) (O, error)
}

// NodeFunc lifts a plain function into a Node.
type NodeFunc[I, O any] func(ctx context.Context, in I) (O, error)

func (f NodeFunc[I, O]) Call(ctx context.Context, in I) (O, error) {
	return f(ctx, in)
}

// StateNode transforms one shared state.
type StateNode = Node[*SharedState, *SharedState]

// BatchNode transforms a list of states into a list of the same length.
type BatchNode = Node[[]*SharedState, []*SharedState]

// ReduceNode folds a list of states into one.
type ReduceNode = Node[[]*SharedState, *SharedState]

// NewNode adapts fn into a StateNode.
func NewNode(fn func(ctx context.Context, state *SharedState) (*SharedState, error)) StateNode {
	return NodeFunc[*SharedState, *SharedState](fn)
}

// NewReduceNode adapts fn into a ReduceNode.
func NewReduceNode(fn func(ctx context.Context, states []*SharedState) (*SharedState, error)) ReduceNode {
	return NodeFunc[[]*SharedState, *SharedState](fn)
}

// Transition is the result of a routing node: the state to continue with
// and the label of the edge to follow. A nil State keeps the input state;
// an empty Action falls back to the label stored under ActionKey.
type Transition struct {
	State  *SharedState
	Action Action
}

// Router is implemented by nodes that choose their outgoing edge
// explicitly. Flow prefers Route over Call when a node implements both.
type Router interface {
	Route(ctx context.Context, state *SharedState) (Transition, error)
}

// RouterFunc adapts a routing function into a StateNode that is also a Router.
type RouterFunc func(ctx context.Context, state *SharedState) (Transition, error)

func (f RouterFunc) Route(ctx context.Context, state *SharedState) (Transition, error) {
	return f(ctx, state)
}

// Call runs the router and discards the label, so a RouterFunc can be used
// wherever a StateNode is accepted.
func (f RouterFunc) Call(ctx context.Context, state *SharedState) (*SharedState, error) {
	t, err := f(ctx, state)
	if t.State == nil {
		return state, err
	}
	return t.State, err
}

// NewRouterNode adapts fn into a routing StateNode.
func NewRouterNode(fn func(ctx context.Context, state *SharedState) (Transition, error)) StateNode {
	return RouterFunc(fn)
}

// Goto is shorthand for a Transition that keeps state and follows action.
func Goto(state *SharedState, action Action) Transition {
	return Transition{State: state, Action: action}
}
