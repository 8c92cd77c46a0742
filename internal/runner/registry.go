// Package runner executes named workflows on behalf of the CLI and the MCP
// server and keeps a bounded in-memory history of their runs.
package runner

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rendis/agentflow/pkg/flow"
	"github.com/rendis/agentflow/pkg/schema"
)

// BuildFunc constructs a fresh flow for one run. Options supplied by the
// runner must be passed through to flow.NewFlow.
type BuildFunc func(opts ...flow.Option) *flow.Flow

// Workflow is a named, runnable flow definition.
type Workflow struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Build       BuildFunc       `json:"-"`
}

// Registry holds workflows by name. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	workflows map[string]Workflow
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{workflows: make(map[string]Workflow)}
}

// Register adds w. Names must be non-empty and unique, and the built
// graph must pass Flow.Validate without errors.
func (r *Registry) Register(w Workflow) error {
	if strings.TrimSpace(w.Name) == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow name is required")
	}
	if w.Build == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "workflow %q has no build function", w.Name)
	}
	if err := w.Build(flow.WithName(w.Name)).Validate().ToError(); err != nil {
		return fmt.Errorf("workflow %q: %w", w.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workflows[w.Name]; exists {
		return schema.NewErrorf(schema.ErrCodeValidation, "workflow %q is already registered", w.Name)
	}
	r.workflows[w.Name] = w
	return nil
}

// MustRegister is Register for static setup code; it panics on error.
func (r *Registry) MustRegister(w Workflow) {
	if err := r.Register(w); err != nil {
		panic(err)
	}
}

// Get returns the workflow registered under name.
func (r *Registry) Get(name string) (Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workflows[name]
	if !ok {
		return Workflow{}, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", name)
	}
	return w, nil
}

// List returns all workflows sorted by name.
func (r *Registry) List() []Workflow {
	r.mu.RLock()
	out := make([]Workflow, 0, len(r.workflows))
	for _, w := range r.workflows {
		out = append(out, w)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Workflow) int { return strings.Compare(a.Name, b.Name) })
	return out
}
