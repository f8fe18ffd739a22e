package rebalance

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Cycle runs a function once at start and then at a fixed interval until
// the done channel is closed or the context ends.
type Cycle struct {
	clock    clockwork.Clock
	interval time.Duration
	done     chan struct{}
	runOnce  chan chan struct{}
}

func NewCycle(clock clockwork.Clock, interval time.Duration, done chan struct{}) *Cycle {
	return &Cycle{
		clock:    clock,
		interval: interval,
		done:     done,
		runOnce:  make(chan chan struct{}),
	}
}

// Run blocks until the cycle is stopped. Runs never overlap: a tick that
// arrives during a run is handled after it.
func (c *Cycle) Run(ctx context.Context, fn func(ctx context.Context)) {
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	fn(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case finished := <-c.runOnce:
			fn(ctx)
			close(finished)
		case <-ticker.Chan():
			fn(ctx)
		}
	}
}

// RunOnce triggers an extra run and waits for it to finish. It returns
// immediately if the cycle has been stopped.
func (c *Cycle) RunOnce() {
	finished := make(chan struct{})
	select {
	case c.runOnce <- finished:
	case <-c.done:
		return
	}
	select {
	case <-finished:
	case <-c.done:
	}
}
