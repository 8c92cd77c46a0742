package flow

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rendis/agentflow/internal/logging"
	"github.com/rendis/agentflow/pkg/schema"
	"github.com/rendis/agentflow/pkg/streaming"
)

// Flow is a directed graph of named nodes joined by labelled edges.
// Running a flow executes the start node, reads the label it produced and
// follows the matching edge until no edge matches. Cycles are allowed.
//
// A Flow is built single-threaded and then treated as read-only; Run may be
// called concurrently once construction is finished.
type Flow struct {
	name     string
	start    string
	nodes    map[string]StateNode
	order    []string
	edges    map[string]map[Action]string
	maxSteps int
	logger   *slog.Logger
	hub      streaming.Hub
}

// Option configures a Flow.
type Option func(*Flow)

// WithName names the flow in logs and events.
func WithName(name string) Option {
	return func(f *Flow) { f.name = name }
}

// WithMaxSteps aborts a run with a STEP_LIMIT error after n node executions.
// Zero means unlimited.
func WithMaxSteps(n int) Option {
	return func(f *Flow) { f.maxSteps = n }
}

// WithLogger sets the flow's logger. Flows are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(f *Flow) { f.logger = l }
}

// WithEventHub publishes run and node lifecycle events to hub.
func WithEventHub(hub streaming.Hub) Option {
	return func(f *Flow) { f.hub = hub }
}

// NewFlow creates an empty flow.
func NewFlow(opts ...Option) *Flow {
	f := &Flow{
		nodes: make(map[string]StateNode),
		edges: make(map[string]map[Action]string),
	}
	for _, o := range opts {
		o(f)
	}
	f.logger = logging.OrNop(f.logger)
	return f
}

// WithStart creates a flow whose start node is name.
func WithStart(name string, node StateNode, opts ...Option) *Flow {
	f := NewFlow(opts...)
	f.AddNode(name, node)
	return f
}

// Name returns the flow name.
func (f *Flow) Name() string { return f.name }

// AddNode registers node under name. The first node added becomes the start
// node. Adding a name again replaces the node and keeps its edges.
func (f *Flow) AddNode(name string, node StateNode) {
	if _, exists := f.nodes[name]; !exists {
		f.order = append(f.order, name)
	}
	f.nodes[name] = node
	if f.start == "" {
		f.start = name
	}
}

// SetStart makes name the start node.
func (f *Flow) SetStart(name string) {
	f.start = name
}

// AddEdge routes label action from node from to node to. An empty action
// means DefaultAction. A second edge for the same (from, action) pair
// replaces the first.
func (f *Flow) AddEdge(from string, action Action, to string) {
	if action == "" {
		action = DefaultAction
	}
	out, ok := f.edges[from]
	if !ok {
		out = make(map[Action]string)
		f.edges[from] = out
	}
	out[action] = to
}

// Node returns the node registered under name.
func (f *Flow) Node(name string) (StateNode, bool) {
	n, ok := f.nodes[name]
	return n, ok
}

// NextStep returns the node reached from from by following action.
func (f *Flow) NextStep(from string, action Action) (string, bool) {
	if action == "" {
		action = DefaultAction
	}
	to, ok := f.edges[from][action]
	return to, ok
}

// Start returns the start node name, or "" for an empty flow.
func (f *Flow) Start() string { return f.start }

// Edge is one labelled transition.
type Edge struct {
	From   string `json:"from"`
	Action Action `json:"action"`
	To     string `json:"to"`
}

// Topology is a read-only description of the graph.
type Topology struct {
	Name  string   `json:"name,omitempty"`
	Start string   `json:"start"`
	Nodes []string `json:"nodes"`
	Edges []Edge   `json:"edges"`
}

// Topology describes the graph. Nodes keep insertion order; edges are
// sorted by source node order, then label.
func (f *Flow) Topology() Topology {
	pos := make(map[string]int, len(f.order))
	for i, n := range f.order {
		pos[n] = i
	}
	var edges []Edge
	for from, out := range f.edges {
		for action, to := range out {
			edges = append(edges, Edge{From: from, Action: action, To: to})
		}
	}
	slices.SortFunc(edges, func(a, b Edge) int {
		pa, oka := pos[a.From]
		pb, okb := pos[b.From]
		if oka != okb {
			if oka {
				return -1
			}
			return 1
		}
		return cmp.Or(cmp.Compare(pa, pb), cmp.Compare(a.From, b.From), cmp.Compare(a.Action, b.Action))
	})
	return Topology{
		Name:  f.name,
		Start: f.start,
		Nodes: slices.Clone(f.order),
		Edges: edges,
	}
}

// Validate checks the graph. Edges touching unknown nodes and a missing
// start node are errors; nodes unreachable from the start are warnings.
func (f *Flow) Validate() *schema.ValidationResult {
	res := &schema.ValidationResult{}
	if len(f.nodes) == 0 {
		return res
	}
	if _, ok := f.nodes[f.start]; !ok {
		res.AddError(schema.GraphIssue{Check: schema.CheckMissingStart, Node: f.start, Message: "start node is not registered"})
	}
	for _, e := range f.Topology().Edges {
		if _, ok := f.nodes[e.From]; !ok {
			res.AddError(schema.GraphIssue{Check: schema.CheckDanglingEdge, Node: e.From, Action: string(e.Action),
				Message: "source node is not registered"})
		}
		if _, ok := f.nodes[e.To]; !ok {
			res.AddError(schema.GraphIssue{Check: schema.CheckDanglingEdge, Node: e.From, Action: string(e.Action),
				Message: fmt.Sprintf("target %q is not registered", e.To)})
		}
	}

	reached := map[string]bool{f.start: true}
	queue := []string{f.start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, to := range f.edges[cur] {
			if !reached[to] {
				reached[to] = true
				queue = append(queue, to)
			}
		}
	}
	for _, n := range f.order {
		if !reached[n] {
			res.AddWarning(schema.GraphIssue{Check: schema.CheckUnreachable, Node: n,
				Message: fmt.Sprintf("not reachable from %q", f.start)})
		}
	}
	return res
}

// Clone returns a flow with the same nodes, edges and options. Nodes are
// shared, not copied.
func (f *Flow) Clone() *Flow {
	c := *f
	c.nodes = maps.Clone(f.nodes)
	c.order = slices.Clone(f.order)
	c.edges = make(map[string]map[Action]string, len(f.edges))
	for from, out := range f.edges {
		c.edges[from] = maps.Clone(out)
	}
	return &c
}

// Call runs the flow, so a Flow can be nested as a node of another flow.
func (f *Flow) Call(ctx context.Context, state *SharedState) (*SharedState, error) {
	return f.Run(ctx, state)
}

// Run executes the graph on state and returns the final state. The
// reserved ActionKey is removed from the returned state, also when a node
// fails. An empty flow returns state unchanged. A run ID already carried by
// ctx is reused, so nested flows report under their parent's run.
func (f *Flow) Run(ctx context.Context, state *SharedState) (*SharedState, error) {
	if f.start == "" {
		return state, nil
	}

	if logging.RunID(ctx) == "" {
		ctx = logging.WithRunID(ctx, uuid.NewString())
	}
	if f.name != "" {
		ctx = logging.WithFlow(ctx, f.name)
	}
	log := logging.LogWith(ctx, f.logger)
	started := time.Now()

	log.Debug("flow started", slog.String("start", f.start))
	f.publish(ctx, schema.EventFlowStarted, "", map[string]any{"start": f.start})

	state, steps, err := f.run(ctx, state)
	state.Remove(ActionKey)

	if err != nil {
		log.Warn("flow failed", slog.Int("steps", steps), slog.String("error", err.Error()))
		f.publish(ctx, schema.EventFlowFailed, "", map[string]any{"steps": steps, "error": err.Error()})
		return state, err
	}
	log.Debug("flow completed", slog.Int("steps", steps), slog.Duration("duration", time.Since(started)))
	f.publish(ctx, schema.EventFlowCompleted, "", map[string]any{"steps": steps})
	return state, nil
}

func (f *Flow) run(ctx context.Context, state *SharedState) (*SharedState, int, error) {
	current := f.start
	steps := 0
	for {
		if err := ctx.Err(); err != nil {
			return state, steps, schema.NewError(schema.ErrCodeCancelled, "flow cancelled").
				WithNode(current).WithCause(err)
		}
		if f.maxSteps > 0 && steps >= f.maxSteps {
			return state, steps, schema.NewErrorf(schema.ErrCodeStepLimit,
				"flow exceeded %d steps", f.maxSteps).WithNode(current)
		}
		node, ok := f.nodes[current]
		if !ok {
			// An edge or start naming an unregistered node halts the run
			// like a missing edge. Validate reports it ahead of time.
			logging.LogWith(ctx, f.logger).Warn("halting at unregistered node", slog.String("target", current))
			return state, steps, nil
		}

		next, action, err := f.step(ctx, current, node, state)
		steps++
		if err != nil {
			return state, steps, err
		}
		state = next

		to, ok := f.NextStep(current, action)
		if !ok {
			return state, steps, nil
		}
		current = to
	}
}

// step executes a single node and resolves the label it produced. The
// stored label is consumed so that a node which sets none gets the default.
func (f *Flow) step(ctx context.Context, name string, node StateNode, state *SharedState) (*SharedState, Action, error) {
	ctx = logging.WithNode(ctx, name)
	log := logging.LogWith(ctx, f.logger)
	f.publish(ctx, schema.EventNodeStarted, name, nil)
	log.Debug("node started")

	var (
		next     *SharedState
		explicit Action
		err      error
	)
	if r, ok := node.(Router); ok {
		var t Transition
		t, err = r.Route(ctx, state)
		next, explicit = t.State, t.Action
	} else {
		next, err = node.Call(ctx, state)
	}
	if next == nil {
		next = state
	}

	if err != nil {
		f.publish(ctx, schema.EventNodeFailed, name, map[string]any{"error": err.Error()})
		log.Warn("node failed", slog.String("error", err.Error()))
		if next != state {
			next.Remove(ActionKey)
		}
		return state, "", wrapNodeError(name, err)
	}

	stored, _ := next.Remove(ActionKey)
	action := explicit
	if action == "" {
		action = toAction(stored)
	}
	f.publish(ctx, schema.EventNodeCompleted, name, map[string]any{"action": string(action)})
	log.Debug("node completed", slog.String("action", string(action)))
	return next, action, nil
}

func (f *Flow) publish(ctx context.Context, typ, node string, payload map[string]any) {
	if f.hub == nil {
		return
	}
	// Events are still delivered after the run's context has ended.
	_ = f.hub.Publish(context.WithoutCancel(ctx), streaming.Event{
		RunID:   logging.RunID(ctx),
		Flow:    f.name,
		Node:    node,
		Type:    typ,
		Time:    time.Now(),
		Payload: payload,
	})
}

// wrapNodeError attributes err to the node that produced it. Errors that
// already name a node, such as those from a nested flow, pass through.
func wrapNodeError(name string, err error) error {
	var fe *schema.FlowError
	if errors.As(err, &fe) && fe.Node != "" {
		return err
	}
	code := schema.ErrCodeNodeFailed
	switch {
	case errors.Is(err, context.Canceled):
		code = schema.ErrCodeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		code = schema.ErrCodeTimeout
	}
	return schema.NewErrorf(code, "%v", err).WithNode(name).WithCause(err)
}

func notFound(name string) error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "node %q is not registered", name).WithNode(name)
}

var _ StateNode = (*Flow)(nil)
