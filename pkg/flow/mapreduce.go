package flow

import (
	"context"
	"fmt"
)

// MapReduce maps a batch of states and folds the results into one.
type MapReduce struct {
	mapper  BatchNode
	reducer ReduceNode
}

// NewMapReduce maps items one after another with a Batch.
func NewMapReduce(mapper StateNode, reducer ReduceNode, opts ...BatchOption) *MapReduce {
	return &MapReduce{mapper: NewBatch(mapper, opts...), reducer: reducer}
}

// NewParallelMapReduce maps items concurrently with a ParallelBatch.
func NewParallelMapReduce(mapper StateNode, reducer ReduceNode, opts ...BatchOption) *MapReduce {
	return &MapReduce{mapper: NewParallelBatch(mapper, opts...), reducer: reducer}
}

// MapReduceOf composes any batch node with a reducer.
func MapReduceOf(mapper BatchNode, reducer ReduceNode) *MapReduce {
	return &MapReduce{mapper: mapper, reducer: reducer}
}

// Run maps inputs and reduces the mapped states. A mapping failure skips
// the reduce step.
func (m *MapReduce) Run(ctx context.Context, inputs []*SharedState) (*SharedState, error) {
	mapped, err := m.mapper.Call(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("map: %w", err)
	}
	out, err := m.reducer.Call(ctx, mapped)
	if err != nil {
		return out, fmt.Errorf("reduce: %w", err)
	}
	return out, nil
}

// Call implements ReduceNode.
func (m *MapReduce) Call(ctx context.Context, inputs []*SharedState) (*SharedState, error) {
	return m.Run(ctx, inputs)
}

var _ ReduceNode = (*MapReduce)(nil)
