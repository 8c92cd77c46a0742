package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rendis/agentflow/internal/diagram"
	"github.com/rendis/agentflow/internal/logging"
	"github.com/rendis/agentflow/internal/validation"
	"github.com/rendis/agentflow/pkg/flow"
	"github.com/rendis/agentflow/pkg/schema"
	"github.com/rendis/agentflow/pkg/streaming"
)

// DefaultMaxSteps bounds every run so a looping workflow cannot spin forever.
const DefaultMaxSteps = 1000

// Config holds runner settings. Zero values select defaults.
type Config struct {
	MaxSteps    int           // step limit per run
	Timeout     time.Duration // per-run deadline, 0 for none
	History     int           // retained runs
	EventBuffer int           // per-run subscriber buffer
}

// Runner executes registered workflows, validates their input and records
// each run with the events it produced.
type Runner struct {
	registry  *Registry
	history   *History
	hub       *streaming.MemoryHub
	validator *validation.Validator
	logger    *slog.Logger
	config    Config
}

// New creates a Runner over registry.
func New(registry *Registry, cfg Config, logger *slog.Logger) *Runner {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 1024
	}
	return &Runner{
		registry:  registry,
		history:   NewHistory(cfg.History),
		hub:       streaming.NewMemoryHub(cfg.EventBuffer),
		validator: validation.NewValidator(),
		logger:    logging.OrNop(logger),
		config:    cfg,
	}
}

// Registry returns the workflows this runner can execute.
func (r *Runner) Registry() *Registry { return r.registry }

// History returns the recorded runs.
func (r *Runner) History() *History { return r.history }

// Hub returns the hub every run publishes to.
func (r *Runner) Hub() streaming.Hub { return r.hub }

// Run executes the named workflow on a fresh shared state seeded with input.
// The returned Run is recorded in the history and is non-nil whenever the
// workflow was found and its input was valid, including when it failed.
func (r *Runner) Run(ctx context.Context, name string, input map[string]any) (*Run, error) {
	wf, err := r.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if input == nil {
		input = map[string]any{}
	}
	if len(wf.InputSchema) > 0 {
		if err := r.validator.Validate(input, wf.InputSchema); err != nil {
			return nil, fmt.Errorf("workflow %s input: %w", name, err)
		}
	}

	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)

	events, unsubscribe, err := r.hub.Subscribe(ctx, streaming.Filter{RunID: runID})
	if err != nil {
		return nil, fmt.Errorf("subscribe to run %s: %w", runID, err)
	}
	collected := make(chan []streaming.Event, 1)
	go func() {
		var all []streaming.Event
		for ev := range events {
			all = append(all, ev)
		}
		collected <- all
	}()

	f := wf.Build(
		flow.WithName(name),
		flow.WithLogger(r.logger),
		flow.WithEventHub(r.hub),
		flow.WithMaxSteps(r.config.MaxSteps),
	)

	log := logging.LogWith(ctx, r.logger).With(slog.String("workflow", name))
	log.Info("run started")

	run := &Run{ID: runID, Workflow: name, Input: input, StartedAt: time.Now().UTC()}
	state, runErr := f.Run(ctx, flow.NewSharedState(input))
	run.FinishedAt = time.Now().UTC()
	if state != nil {
		run.Output = state.Snapshot()
	}

	unsubscribe()
	run.Events = <-collected
	run.Trace = trace(name, run.Events)

	if runErr != nil {
		run.Status = RunFailed
		run.Error = runErr.Error()
		log.Warn("run failed", slog.String("error", run.Error), slog.Duration("duration", run.Duration()))
	} else {
		run.Status = RunCompleted
		log.Info("run completed", slog.Int("steps", len(run.Trace)), slog.Duration("duration", run.Duration()))
	}

	r.history.Add(run)
	return run, runErr
}

// trace lists the nodes of the named flow in the order they started.
// Nested flows share the run ID but publish under their own flow name.
func trace(flowName string, events []streaming.Event) []string {
	out := []string{}
	for _, ev := range topLevel(flowName, events) {
		if ev.Type == schema.EventNodeStarted {
			out = append(out, ev.Node)
		}
	}
	return out
}

func topLevel(flowName string, events []streaming.Event) []streaming.Event {
	var out []streaming.Event
	for _, ev := range events {
		if ev.Flow == flowName {
			out = append(out, ev)
		}
	}
	return out
}

// Format selects a diagram rendering.
type Format string

const (
	FormatMermaid Format = "mermaid"
	FormatASCII   Format = "ascii"
	FormatPNG     Format = "png"
)

// Diagram renders the named workflow. When runID is set, node statuses from
// that recorded run are overlaid.
func (r *Runner) Diagram(ctx context.Context, name, runID string, format Format) ([]byte, error) {
	wf, err := r.registry.Get(name)
	if err != nil {
		return nil, err
	}
	model, err := diagram.Build(wf.Build(flow.WithName(name)).Topology())
	if err != nil {
		return nil, err
	}

	if runID != "" {
		run, ok := r.history.Get(runID)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", runID)
		}
		if run.Workflow != name {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "run %q belongs to workflow %q", runID, run.Workflow)
		}
		diagram.Overlay(model, topLevel(name, run.Events))
	}

	switch format {
	case FormatMermaid, "":
		return []byte(diagram.RenderMermaid(model)), nil
	case FormatASCII:
		return []byte(diagram.RenderASCII(model)), nil
	case FormatPNG:
		return diagram.RenderImage(ctx, model)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported diagram format %q", format)
	}
}
