package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// RenderImage lays the model out with dot and returns it as PNG. Nodes with
// a status overlay are filled with the status colour and nodes visited
// more than once show their visit count.
func RenderImage(ctx context.Context, model *Model) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: graphviz: %w", err)
	}
	defer gv.Close()
	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: graph: %w", err)
	}
	defer graph.Close()
	graph.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	byID := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, n := range model.Nodes {
		gn, err := graph.CreateNodeByName(n.ID)
		if err != nil {
			return nil, fmt.Errorf("diagram: node %s: %w", n.ID, err)
		}
		shapeNode(gn, n)
		paintNode(gn, n.Status)
		byID[n.ID] = gn
	}

	for i, edge := range model.Edges {
		from, to := byID[edge.From], byID[edge.To]
		if from == nil || to == nil {
			return nil, fmt.Errorf("diagram: edge %s -> %s references an unknown node", edge.From, edge.To)
		}
		ge, err := graph.CreateEdgeByName(fmt.Sprintf("e%d", i), from, to)
		if err != nil {
			return nil, fmt.Errorf("diagram: edge %s -> %s: %w", edge.From, edge.To, err)
		}
		if edge.Label != "" {
			ge.SetLabel(edge.Label)
		}
		if edge.From == StartID || edge.To == EndID {
			ge.SetStyle(cgraph.DashedEdgeStyle)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.PNG, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render png: %w", err)
	}
	return buf.Bytes(), nil
}

func shapeNode(gn *cgraph.Node, n *Node) {
	label := firstLine(n.Label)
	if n.Status != nil && n.Status.Visits > 1 {
		label = fmt.Sprintf("%s\nx%d", label, n.Status.Visits)
	}
	gn.SetLabel(label)

	switch n.Kind {
	case NodeKindBranch:
		gn.SetShape(cgraph.DiamondShape)
	case NodeKindStart, NodeKindEnd:
		gn.SetShape(cgraph.CircleShape)
		gn.SetWidth(0.4)
		gn.SetHeight(0.4)
	default:
		gn.SetShape(cgraph.BoxShape)
	}
}

func paintNode(gn *cgraph.Node, status *StatusOverlay) {
	if status == nil {
		return
	}
	sh, ok := statusShades[status.Status]
	if !ok {
		return
	}
	gn.SetStyle(cgraph.FilledNodeStyle)
	gn.SetFillColor(sh.fill)
	gn.SetColor(sh.stroke)
	gn.SetFontColor(sh.font)
}
