package flow

import (
	"context"
	"fmt"
)

// BatchFlow runs one workflow repeatedly on a single shared state, once
// per parameter set.
type BatchFlow struct {
	workflow *Workflow
}

// NewBatchFlow creates a BatchFlow over workflow.
func NewBatchFlow(workflow *Workflow) *BatchFlow {
	return &BatchFlow{workflow: workflow}
}

// Run merges each parameter set into state without overwriting existing
// keys and runs the workflow. Sets are processed in order; the first
// failing run stops the batch.
func (b *BatchFlow) Run(ctx context.Context, state *SharedState, params []map[string]any) (*SharedState, error) {
	for i, p := range params {
		wf := b.workflow.Clone()
		wf.SetParams(p)
		next, err := wf.Call(ctx, state)
		if next != nil {
			state = next
		}
		if err != nil {
			return state, fmt.Errorf("batch flow run %d of %d: %w", i+1, len(params), err)
		}
	}
	return state, nil
}
