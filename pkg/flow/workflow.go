package flow

import (
	"context"
	"maps"
)

// Workflow is a Flow with default parameters that are merged into the
// state, without overwriting, before every run.
type Workflow struct {
	flow   *Flow
	params map[string]any
}

// NewWorkflow creates an empty workflow.
func NewWorkflow(opts ...Option) *Workflow {
	return &Workflow{flow: NewFlow(opts...), params: map[string]any{}}
}

// WorkflowWithStart creates a workflow whose first step is name.
func WorkflowWithStart(name string, node StateNode, opts ...Option) *Workflow {
	return &Workflow{flow: WithStart(name, node, opts...), params: map[string]any{}}
}

// AddStep registers a step. The first step added is the entry point.
func (w *Workflow) AddStep(name string, node StateNode) {
	w.flow.AddNode(name, node)
}

// Connect links from to to on the default label.
func (w *Workflow) Connect(from, to string) {
	w.flow.AddEdge(from, DefaultAction, to)
}

// ConnectWithAction links from to to on action.
func (w *Workflow) ConnectWithAction(from string, action Action, to string) {
	w.flow.AddEdge(from, action, to)
}

// SetParams replaces the default parameters.
func (w *Workflow) SetParams(params map[string]any) {
	w.params = maps.Clone(params)
	if w.params == nil {
		w.params = map[string]any{}
	}
}

// Params returns a copy of the default parameters.
func (w *Workflow) Params() map[string]any {
	return maps.Clone(w.params)
}

// Execute merges the parameters into a copy of input, runs the workflow
// and returns the final contents.
func (w *Workflow) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	state := NewSharedState(input)
	out, err := w.Call(ctx, state)
	if out == nil {
		out = state
	}
	return out.IntoMap(), err
}

// Call merges the parameters into state and runs the workflow on it.
func (w *Workflow) Call(ctx context.Context, state *SharedState) (*SharedState, error) {
	state.Merge(w.params)
	return w.flow.Run(ctx, state)
}

// Step runs the single step name on state and returns the step that would
// follow it, or "" when the workflow would halt. Parameters are not merged.
// Drivers use it to put a human between steps.
func (w *Workflow) Step(ctx context.Context, name string, state *SharedState) (*SharedState, string, error) {
	node, ok := w.flow.Node(name)
	if !ok {
		return state, "", notFound(name)
	}
	next, action, err := w.flow.step(ctx, name, node, state)
	if err != nil {
		return next, "", err
	}
	to, _ := w.flow.NextStep(name, action)
	return next, to, nil
}

// Node returns the step registered under name.
func (w *Workflow) Node(name string) (StateNode, bool) { return w.flow.Node(name) }

// NextStep returns the step reached from from by following action.
func (w *Workflow) NextStep(from string, action Action) (string, bool) {
	return w.flow.NextStep(from, action)
}

// Flow exposes the underlying graph.
func (w *Workflow) Flow() *Flow { return w.flow }

// Clone copies the graph and parameters. Nodes are shared.
func (w *Workflow) Clone() *Workflow {
	return &Workflow{flow: w.flow.Clone(), params: maps.Clone(w.params)}
}

var _ StateNode = (*Workflow)(nil)
