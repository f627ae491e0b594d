package dispatch

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
)

// ErrWorkerPanic wraps a panic recovered from a worker.
var ErrWorkerPanic = errors.New("worker panicked")

// BatchError is returned when every item of a batch failed.
type BatchError struct {
	Attempted int
	Failed    []int
	Errors    map[int]error
}

func newBatchError(attempted int, errs map[int]error) *BatchError {
	failed := make([]int, 0, len(errs))
	for i := range errs {
		failed = append(failed, i)
	}
	sort.Ints(failed)
	return &BatchError{Attempted: attempted, Failed: failed, Errors: errs}
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("all %d items failed (indices %v): %v", e.Attempted, e.Failed, e.cause())
}

// cause aggregates per-item errors in index order.
func (e *BatchError) cause() *multierror.Error {
	var result *multierror.Error
	for _, i := range e.Failed {
		result = multierror.Append(result, fmt.Errorf("item %d: %w", i, e.Errors[i]))
	}
	if result != nil {
		result.ErrorFormat = func(errs []error) string {
			s := ""
			for i, err := range errs {
				if i > 0 {
					s += "; "
				}
				s += err.Error()
			}
			return s
		}
	}
	return result
}

// Unwrap exposes the per-item errors to errors.Is / errors.As.
func (e *BatchError) Unwrap() []error {
	if c := e.cause(); c != nil {
		return c.WrappedErrors()
	}
	return nil
}
