package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrGateFailed is returned by Wait when the gate was opened with an error.
var ErrGateFailed = errors.New("readiness gate failed")

// Gate is a one-shot readiness barrier. Workers Wait on it before doing
// work; whoever prepares shared resources calls Open exactly once.
type Gate struct {
	once sync.Once
	done chan struct{}
	err  error
}

func NewGate() *Gate {
	return &Gate{done: make(chan struct{})}
}

// Open releases all waiters. A non-nil err makes every Wait fail. Only the
// first call has an effect.
func (g *Gate) Open(err error) {
	g.once.Do(func() {
		g.err = err
		close(g.done)
	})
}

// Wait blocks until the gate opens or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.done:
		if g.err != nil {
			return fmt.Errorf("%w: %w", ErrGateFailed, g.err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether the gate opened successfully.
func (g *Gate) Ready() bool {
	select {
	case <-g.done:
		return g.err == nil
	default:
		return false
	}
}
