// Package dispatch fans a batch of independent items out to a bounded pool
// of goroutines and collects per-item results by index.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/houzhh15/scribeflow/cmd/server/internal/metrics"
)

// DefaultMaxConcurrency bounds in-flight items when the caller passes <= 0.
const DefaultMaxConcurrency = 4

// Worker processes one item. index is the item's position in the batch.
type Worker[T, R any] func(ctx context.Context, index int, item T) (R, error)

// Outcome holds the results of a batch with at least one success.
type Outcome[R any] struct {
	// Results has one slot per item; failed slots hold the zero value.
	Results []R
	// Indices lists successful items in ascending order.
	Indices []int
	// Failed lists failed items in ascending order.
	Failed []int
	Errors map[int]error
}

// OK reports whether item i succeeded.
func (o *Outcome[R]) OK(i int) bool {
	_, failed := o.Errors[i]
	return i >= 0 && i < len(o.Results) && !failed
}

type options struct {
	logger    *slog.Logger
	gate      *Gate
	component string
}

// Option customizes DispatchAll.
type Option func(*options)

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithGate makes every worker wait for g before processing.
func WithGate(g *Gate) Option { return func(o *options) { o.gate = g } }

// WithComponent labels metrics and logs (e.g. "chunk", "segment").
func WithComponent(name string) Option { return func(o *options) { o.component = name } }

// DispatchAll runs worker over items with at most maxConcurrency in flight.
// A failing item never cancels its siblings. When ctx is cancelled no new
// items start and the unstarted ones are recorded as failed with ctx's
// error. If every item fails the result is a *BatchError.
func DispatchAll[T, R any](ctx context.Context, items []T, maxConcurrency int, worker Worker[T, R], opts ...Option) (*Outcome[R], error) {
	o := options{logger: slog.Default(), component: "item"}
	for _, opt := range opts {
		opt(&o)
	}
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}

	n := len(items)
	results := make([]R, n)
	errs := make([]error, n)
	if n == 0 {
		return &Outcome[R]{Results: results, Errors: map[int]error{}}, nil
	}

	sem := semaphore.NewWeighted(int64(maxConcurrency))
	var wg sync.WaitGroup
	for i, item := range items {
		err := ctx.Err()
		if err == nil {
			if err = sem.Acquire(ctx, 1); err == nil && ctx.Err() != nil {
				// Acquire may win the race against cancellation
				sem.Release(1)
				err = ctx.Err()
			}
		}
		if err != nil {
			for j := i; j < n; j++ {
				errs[j] = err
			}
			break
		}

		wg.Add(1)
		go func(i int, item T) {
			defer wg.Done()
			defer sem.Release(1)
			results[i], errs[i] = runOne(ctx, i, item, worker, &o)
		}(i, item)
	}
	wg.Wait()

	out := &Outcome[R]{Results: results, Errors: make(map[int]error)}
	for i, err := range errs {
		if err != nil {
			out.Failed = append(out.Failed, i)
			out.Errors[i] = err
			continue
		}
		out.Indices = append(out.Indices, i)
	}
	sort.Ints(out.Failed)

	if len(out.Failed) == n {
		o.logger.Error("all items failed", "component", o.component, "count", n)
		return nil, newBatchError(n, out.Errors)
	}
	if len(out.Failed) > 0 {
		o.logger.Warn("some items failed",
			"component", o.component,
			"failed_indices", out.Failed,
			"failed", len(out.Failed),
			"total", n,
		)
	}
	return out, nil
}

func runOne[T, R any](ctx context.Context, i int, item T, worker Worker[T, R], o *options) (r R, err error) {
	done := metrics.TrackInFlight(o.component)
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("worker panic recovered", "component", o.component, "index", i, "panic", p)
			var zero R
			r, err = zero, fmt.Errorf("%w: %v", ErrWorkerPanic, p)
		}
		done()
		metrics.RecordDuration(o.component, time.Since(start).Seconds())
		metrics.RecordUnitProcessed(o.component, err == nil)
	}()

	if o.gate != nil {
		if err := o.gate.Wait(ctx); err != nil {
			return r, err
		}
	}
	return worker(ctx, i, item)
}
