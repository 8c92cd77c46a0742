// Package diagram renders flow graphs as Mermaid, ASCII and PNG.
package diagram

// NodeKind classifies a diagram node by its role in the graph.
type NodeKind string

const (
	NodeKindStep   NodeKind = "step"
	NodeKindBranch NodeKind = "branch"
	NodeKindStart  NodeKind = "start"
	NodeKindEnd    NodeKind = "end"
)

// Virtual node IDs added around every flow.
const (
	StartID = "__start__"
	EndID   = "__end__"
)

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is a single flow node in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries what a recorded run did with a node.
type StatusOverlay struct {
	Status string
	Visits int
	Error  string
}

// shade is the colour set for one run status.
type shade struct {
	fill, stroke, font string
}

// statusShades is shared by the Mermaid and PNG renderers; statusOrder fixes
// the order of Mermaid classDefs.
var (
	statusShades = map[string]shade{
		"completed": {"#2d6a2d", "#1a4a1a", "#ffffff"},
		"failed":    {"#8b1a1a", "#5c0e0e", "#ffffff"},
		"running":   {"#1a5276", "#0e3a52", "#ffffff"},
		"pending":   {"#6b6b6b", "#4a4a4a", "#ffffff"},
	}
	statusOrder = []string{"completed", "failed", "running", "pending"}
)

// Edge is a transition between two nodes, labelled by its action.
type Edge struct {
	From  string
	To    string
	Label string
}

// Node returns the node with the given ID, or nil.
func (m *Model) Node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
