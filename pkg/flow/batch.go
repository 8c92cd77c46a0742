package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rendis/agentflow/internal/logging"
	"github.com/rendis/agentflow/internal/pool"
	"github.com/rendis/agentflow/pkg/schema"
)

// BatchError reports the items of a batch that failed. Errors is aligned
// with the batch input: Errors[i] is nil when item i succeeded.
type BatchError struct {
	Errors []error
}

func (e *BatchError) Error() string {
	failed := e.Failed()
	if len(failed) == 0 {
		return "batch: no failures"
	}
	first := failed[0]
	if len(failed) == 1 {
		return fmt.Sprintf("batch: item %d failed: %v", first, e.Errors[first])
	}
	return fmt.Sprintf("batch: %d of %d items failed, first (item %d): %v",
		len(failed), len(e.Errors), first, e.Errors[first])
}

// Unwrap exposes every item error to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	var out []error
	for _, err := range e.Errors {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

// Failed returns the indices of the failed items in ascending order.
func (e *BatchError) Failed() []int {
	var idx []int
	for i, err := range e.Errors {
		if err != nil {
			idx = append(idx, i)
		}
	}
	return idx
}

// batchResult returns a *BatchError when any slot holds an error.
func batchResult(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return &BatchError{Errors: errs}
		}
	}
	return nil
}

type batchConfig struct {
	concurrency int
	logger      *slog.Logger
}

// BatchOption configures Batch and ParallelBatch.
type BatchOption func(*batchConfig)

// WithConcurrency bounds how many items a ParallelBatch runs at once.
// Zero or less runs every item at the same time. Batch ignores it.
func WithConcurrency(n int) BatchOption {
	return func(c *batchConfig) { c.concurrency = n }
}

// WithBatchLogger sets the logger used for per-item failures.
func WithBatchLogger(l *slog.Logger) BatchOption {
	return func(c *batchConfig) { c.logger = l }
}

func newBatchConfig(opts []BatchOption) batchConfig {
	var c batchConfig
	for _, o := range opts {
		o(&c)
	}
	c.logger = logging.OrNop(c.logger)
	return c
}

// Batch applies one node to every item, one after another in input order.
type Batch struct {
	node StateNode
	cfg  batchConfig
}

// NewBatch creates a sequential batch over node.
func NewBatch(node StateNode, opts ...BatchOption) *Batch {
	return &Batch{node: node, cfg: newBatchConfig(opts)}
}

// Call runs the node on each item in order. A failing item does not stop
// the batch: its input state is kept at its index and its error is
// reported in the returned *BatchError, next to the full result slice.
// Cancellation of ctx between items aborts the batch with a CANCELLED error.
func (b *Batch) Call(ctx context.Context, items []*SharedState) ([]*SharedState, error) {
	out := make([]*SharedState, len(items))
	errs := make([]error, len(items))

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeCancelled,
				"batch cancelled before item %d of %d", i, len(items)).WithCause(err)
		}
		out[i], errs[i] = callItem(ctx, b.node, item)
		if errs[i] != nil {
			logging.LogWith(ctx, b.cfg.logger).Warn("batch item failed",
				slog.Int("index", i), slog.String("error", errs[i].Error()))
		}
	}
	return out, batchResult(errs)
}

// ParallelBatch applies one node to every item concurrently. Output i
// always corresponds to input i.
type ParallelBatch struct {
	node StateNode
	cfg  batchConfig
}

// NewParallelBatch creates a concurrent batch over node.
func NewParallelBatch(node StateNode, opts ...BatchOption) *ParallelBatch {
	return &ParallelBatch{node: node, cfg: newBatchConfig(opts)}
}

// Call starts every item and waits for all of them; a failure does not
// cancel its siblings. Failures are reported as a *BatchError next to the
// full, index-aligned result slice. A panicking item is reported as a
// failure of that item.
func (b *ParallelBatch) Call(ctx context.Context, items []*SharedState) ([]*SharedState, error) {
	out := make([]*SharedState, len(items))
	copy(out, items)

	errs := pool.RunAll(ctx, len(items), b.cfg.concurrency, func(ctx context.Context, i int) error {
		next, err := callItem(ctx, b.node, items[i])
		out[i] = next
		return err
	})
	for i, err := range errs {
		if err == nil {
			continue
		}
		var panicErr *pool.PanicError
		if errors.As(err, &panicErr) {
			errs[i] = schema.NewErrorf(schema.ErrCodeExecution, "batch item %d panicked: %v", i, panicErr.Value).WithCause(err)
		}
		logging.LogWith(ctx, b.cfg.logger).Warn("parallel batch item failed",
			slog.Int("index", i), slog.String("error", errs[i].Error()))
	}
	return out, batchResult(errs)
}

// callItem runs node on item, falling back to item when the node fails or
// returns no state.
func callItem(ctx context.Context, node StateNode, item *SharedState) (*SharedState, error) {
	next, err := node.Call(ctx, item)
	if err != nil || next == nil {
		return item, err
	}
	return next, nil
}

var (
	_ BatchNode = (*Batch)(nil)
	_ BatchNode = (*ParallelBatch)(nil)
)
