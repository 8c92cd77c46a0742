// Package pool provides the bounded goroutine pool used for fan-out execution.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Metrics tracks pool operational metrics.
type Metrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrShutdown is returned when work is submitted to a shut-down pool.
var ErrShutdown = errors.New("worker pool is shut down")

// PanicError carries a value recovered from a panicking task.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Pool is a bounded goroutine pool.
type Pool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	metrics Metrics
	mu      sync.Mutex
	done    chan struct{}
	closed  bool
}

// New creates a pool with the given max concurrency.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		sem:  make(chan struct{}, size),
		done: make(chan struct{}),
	}
}

// Submit enqueues work into the pool. It blocks if the pool is at capacity
// and respects context cancellation while waiting. Returns ErrShutdown if
// the pool has been shut down.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrShutdown
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrShutdown
	}

	// wg.Add must happen under the lock so Shutdown's wg.Wait cannot race it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrShutdown
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.metrics.Active, 1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.metrics.Panics, 1)
				atomic.AddInt64(&p.metrics.Failed, 1)
			}
			atomic.AddInt64(&p.metrics.Active, -1)
			<-p.sem
			p.wg.Done()
		}()

		if err := fn(ctx); err != nil {
			atomic.AddInt64(&p.metrics.Failed, 1)
		} else {
			atomic.AddInt64(&p.metrics.Completed, 1)
		}
	}()

	return nil
}

// Wait blocks until all submitted work completes.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Shutdown prevents new submissions and waits for active work to complete.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the current pool metrics.
func (p *Pool) Metrics() Metrics {
	return Metrics{
		Active:    atomic.LoadInt64(&p.metrics.Active),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Failed:    atomic.LoadInt64(&p.metrics.Failed),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
	}
}

// RunAll runs fn for every index in [0, n) with at most limit tasks in
// flight (limit <= 0 means all at once) and waits for every task. The
// returned slice holds each task's error at its own index. Panics are
// converted to *PanicError. Tasks that could not be scheduled because ctx
// ended record ctx.Err().
func RunAll(ctx context.Context, n, limit int, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	if n == 0 {
		return errs
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	p := New(limit)
	defer p.Shutdown()

	for i := 0; i < n; i++ {
		idx := i
		err := p.Submit(ctx, func(ctx context.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &PanicError{Value: r}
					errs[idx] = err
				}
			}()
			err = fn(ctx, idx)
			errs[idx] = err
			return err
		})
		if err != nil {
			errs[idx] = err
		}
	}

	p.Wait()
	return errs
}
