// internal/engine/gate.go
package engine

import (
	"context"
	"sync"
)

// pauseGate is a per-session binary signal controlling whether the step loop
// may proceed to the next step. PAUSE/RESUME act as the single writer, the
// execution loop as the single reader.
//
// An open gate is represented by a closed channel, so Wait returns
// immediately. Shutting the gate swaps in a fresh channel that Wait blocks on
// until the gate is opened again.
type pauseGate struct {
	mu sync.Mutex
	ch chan struct{}
}

// newPauseGate returns an open gate.
func newPauseGate() *pauseGate {
	g := &pauseGate{ch: make(chan struct{})}
	close(g.ch)
	return g
}

// Shut closes the gate; subsequent Wait calls block.
func (g *pauseGate) Shut() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		// Gate was open; install a fresh blocking channel.
		g.ch = make(chan struct{})
	default:
		// Already shut.
	}
}

// Open opens the gate, releasing any blocked Wait.
func (g *pauseGate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		// Already open.
	default:
		close(g.ch)
	}
}

// Wait blocks until the gate is open or the context is done.
func (g *pauseGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
