package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/rendis/agentflow/internal/pool"
)

// MultiAgent runs several agents concurrently on the same state.
type MultiAgent struct {
	agents []StateNode
	limit  int
}

// NewMultiAgent creates a MultiAgent. WithConcurrency bounds how many
// agents run at once; by default all do.
func NewMultiAgent(opts ...BatchOption) *MultiAgent {
	cfg := newBatchConfig(opts)
	return &MultiAgent{limit: cfg.concurrency}
}

// AddAgent appends an agent.
func (m *MultiAgent) AddAgent(agent StateNode) {
	m.agents = append(m.agents, agent)
}

// Len returns the number of agents.
func (m *MultiAgent) Len() int { return len(m.agents) }

// Run calls every agent with state and waits for all of them. Agents write
// to the same state, so writes to one key race and the last wins. State is
// returned even when agents fail; their errors are joined.
func (m *MultiAgent) Run(ctx context.Context, state *SharedState) (*SharedState, error) {
	errs := pool.RunAll(ctx, len(m.agents), m.limit, func(ctx context.Context, i int) error {
		_, err := m.agents[i].Call(ctx, state)
		return err
	})
	var failed []error
	for i, err := range errs {
		if err != nil {
			failed = append(failed, fmt.Errorf("agent %d: %w", i, err))
		}
	}
	return state, errors.Join(failed...)
}

// Call implements StateNode.
func (m *MultiAgent) Call(ctx context.Context, state *SharedState) (*SharedState, error) {
	return m.Run(ctx, state)
}

var _ StateNode = (*MultiAgent)(nil)
