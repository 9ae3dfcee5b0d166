package executor

import (
	"context"
	"sync"
)

// Coalescer serializes re-runs of one task. A trigger while the task is
// running marks a single pending re-run; any further triggers fold into it.
type Coalescer struct {
	fn     TaskFunc
	onDone func(error)

	mu      sync.Mutex
	running bool
	pending bool
	wg      sync.WaitGroup
}

func NewCoalescer(fn TaskFunc, onDone func(error)) *Coalescer {
	if onDone == nil {
		onDone = func(error) {}
	}
	return &Coalescer{fn: fn, onDone: onDone}
}

// Trigger starts a run in the background, or queues one behind the run in
// flight. It reports whether a new run started right away.
func (c *Coalescer) Trigger(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.pending = true
		return false
	}
	c.running = true
	c.wg.Add(1)
	go c.loop(ctx)
	return true
}

func (c *Coalescer) loop(ctx context.Context) {
	defer c.wg.Done()
	for {
		c.onDone(c.fn(ctx))

		c.mu.Lock()
		if c.pending && ctx.Err() == nil {
			c.pending = false
			c.mu.Unlock()
			continue
		}
		c.pending = false
		c.running = false
		c.mu.Unlock()
		return
	}
}

// Wait blocks until no run is in flight or pending.
func (c *Coalescer) Wait() {
	c.wg.Wait()
}
