package runner

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rendis/agentflow/pkg/streaming"
)

// RunStatus is the outcome of a recorded run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run describes one finished workflow invocation.
type Run struct {
	ID         string            `json:"id"`
	Workflow   string            `json:"workflow"`
	Status     RunStatus         `json:"status"`
	Input      map[string]any    `json:"input,omitempty"`
	Output     map[string]any    `json:"output,omitempty"`
	Error      string            `json:"error,omitempty"`
	Trace      []string          `json:"trace"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Events     []streaming.Event `json:"-"`
}

// Duration returns how long the run took.
func (r *Run) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// clone copies the run so callers cannot mutate recorded history. Map and
// slice headers are copied; values inside them are shared.
func (r *Run) clone() *Run {
	c := *r
	c.Input = maps.Clone(r.Input)
	c.Output = maps.Clone(r.Output)
	c.Trace = slices.Clone(r.Trace)
	c.Events = slices.Clone(r.Events)
	return &c
}

const defaultHistory = 100

// History keeps the most recent runs in memory, evicting the oldest first.
type History struct {
	mu    sync.RWMutex
	limit int
	order []string
	runs  map[string]*Run
}

// NewHistory creates a history holding up to limit runs. A non-positive
// limit uses the default of 100.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = defaultHistory
	}
	return &History{limit: limit, runs: make(map[string]*Run)}
}

// Add records run, evicting the oldest entry when full.
func (h *History) Add(run *Run) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.runs[run.ID]; !exists {
		h.order = append(h.order, run.ID)
	}
	h.runs[run.ID] = run.clone()

	for len(h.order) > h.limit {
		delete(h.runs, h.order[0])
		h.order = h.order[1:]
	}
}

// Get returns a copy of the run with the given ID.
func (h *History) Get(id string) (*Run, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	run, ok := h.runs[id]
	if !ok {
		return nil, false
	}
	return run.clone(), true
}

// List returns up to limit runs, newest first. An empty workflow matches all
// runs; a non-positive limit returns everything retained.
func (h *History) List(workflow string, limit int) []*Run {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*Run
	for i := len(h.order) - 1; i >= 0; i-- {
		run := h.runs[h.order[i]]
		if workflow != "" && run.Workflow != workflow {
			continue
		}
		out = append(out, run.clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Len returns the number of retained runs.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.order)
}
