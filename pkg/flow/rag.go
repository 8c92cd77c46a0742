package flow

import (
	"context"
	"fmt"
)

// Rag chains a retrieval node into a generation node.
type Rag struct {
	retriever StateNode
	generator StateNode
}

// NewRag creates a Rag.
func NewRag(retriever, generator StateNode) *Rag {
	return &Rag{retriever: retriever, generator: generator}
}

// Ask runs the retriever, then the generator on the retriever's output.
func (r *Rag) Ask(ctx context.Context, state *SharedState) (*SharedState, error) {
	retrieved, err := r.retriever.Call(ctx, state)
	if err != nil {
		return state, fmt.Errorf("retrieve: %w", err)
	}
	if retrieved == nil {
		retrieved = state
	}
	out, err := r.generator.Call(ctx, retrieved)
	if err != nil {
		return retrieved, fmt.Errorf("generate: %w", err)
	}
	return out, nil
}

// Call implements StateNode.
func (r *Rag) Call(ctx context.Context, state *SharedState) (*SharedState, error) {
	return r.Ask(ctx, state)
}

var _ StateNode = (*Rag)(nil)
