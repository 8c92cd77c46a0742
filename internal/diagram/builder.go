package diagram

import (
	"fmt"

	"github.com/rendis/agentflow/pkg/flow"
	"github.com/rendis/agentflow/pkg/schema"
	"github.com/rendis/agentflow/pkg/streaming"
)

// Build constructs a Model from a flow topology. A virtual start node points
// at the flow's start node and every node without outgoing edges points at a
// virtual end node. Nodes with more than one outgoing action are branches.
func Build(topo flow.Topology) (*Model, error) {
	if topo.Start == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "diagram: flow has no start node")
	}

	out := make(map[string]int, len(topo.Nodes))
	for _, e := range topo.Edges {
		out[e.From]++
	}

	nodes := make([]*Node, 0, len(topo.Nodes)+2)
	nodes = append(nodes, &Node{ID: StartID, Label: "Start", Kind: NodeKindStart})
	for _, name := range topo.Nodes {
		kind := NodeKindStep
		if out[name] > 1 {
			kind = NodeKindBranch
		}
		nodes = append(nodes, &Node{ID: name, Label: name, Kind: kind})
	}
	nodes = append(nodes, &Node{ID: EndID, Label: "End", Kind: NodeKindEnd})

	edges := make([]Edge, 0, len(topo.Edges)+len(topo.Nodes)+1)
	edges = append(edges, Edge{From: StartID, To: topo.Start})
	for _, e := range topo.Edges {
		label := string(e.Action)
		if e.Action == flow.DefaultAction {
			label = ""
		}
		edges = append(edges, Edge{From: e.From, To: e.To, Label: label})
	}
	for _, name := range topo.Nodes {
		if out[name] == 0 {
			edges = append(edges, Edge{From: name, To: EndID})
		}
	}

	model := &Model{Title: topo.Name, Nodes: nodes, Edges: edges}
	if model.Node(topo.Start) == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "diagram: start node %q is not registered", topo.Start)
	}
	model.Levels = buildLevels(model)
	return model, nil
}

// buildLevels assigns each node the BFS depth of its first discovery from the
// start node. Unreachable nodes share a level just before the end node.
func buildLevels(m *Model) [][]string {
	adj := make(map[string][]string, len(m.Nodes))
	for _, e := range m.Edges {
		if e.To == EndID {
			continue
		}
		adj[e.From] = append(adj[e.From], e.To)
	}

	depth := map[string]int{StartID: 0}
	queue := []string{StartID}
	maxDepth := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if _, seen := depth[next]; seen {
				continue
			}
			depth[next] = depth[cur] + 1
			maxDepth = max(maxDepth, depth[next])
			queue = append(queue, next)
		}
	}

	var orphans []string
	for _, n := range m.Nodes {
		if n.Kind == NodeKindStart || n.Kind == NodeKindEnd {
			continue
		}
		if _, ok := depth[n.ID]; !ok {
			orphans = append(orphans, n.ID)
		}
	}
	if len(orphans) > 0 {
		maxDepth++
	}

	levels := make([][]string, maxDepth+2)
	for _, n := range m.Nodes {
		switch {
		case n.ID == EndID:
			levels[maxDepth+1] = append(levels[maxDepth+1], n.ID)
		case n.ID == StartID:
			levels[0] = append(levels[0], n.ID)
		default:
			if d, ok := depth[n.ID]; ok {
				levels[d] = append(levels[d], n.ID)
			}
		}
	}
	if len(orphans) > 0 {
		levels[maxDepth] = append(levels[maxDepth], orphans...)
	}
	return levels
}

// Overlay applies recorded run events to the model. Later events win, so a
// node that was revisited shows the status of its last visit.
func Overlay(m *Model, events []streaming.Event) {
	for _, ev := range events {
		if ev.Node == "" {
			continue
		}
		n := m.Node(ev.Node)
		if n == nil {
			continue
		}
		if n.Status == nil {
			n.Status = &StatusOverlay{Status: string(schema.NodeStatusPending)}
		}
		switch ev.Type {
		case schema.EventNodeStarted:
			n.Status.Visits++
			n.Status.Status = string(schema.NodeStatusRunning)
		case schema.EventNodeCompleted:
			n.Status.Status = string(schema.NodeStatusCompleted)
			n.Status.Error = ""
		case schema.EventNodeFailed:
			n.Status.Status = string(schema.NodeStatusFailed)
			if p, ok := ev.Payload.(map[string]any); ok {
				n.Status.Error = fmt.Sprint(p["error"])
			}
		}
	}
}
