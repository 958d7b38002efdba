package testutil

import (
	"context"
	"sync"
	"time"
)

// Collector drains a side-effect channel in the background and keeps
// everything it received, in order.
//
// Thread-safety: all methods are safe for concurrent use.
type Collector[E any] struct {
	mu     sync.Mutex
	items  []E
	notify chan struct{}
	done   chan struct{}
}

// Collect starts draining ch. Collection stops when ch is closed.
func Collect[E any](ch <-chan E) *Collector[E] {
	c := &Collector[E]{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		for e := range ch {
			c.mu.Lock()
			c.items = append(c.items, e)
			c.mu.Unlock()
			select {
			case c.notify <- struct{}{}:
			default:
			}
		}
	}()
	return c
}

// Items returns a copy of everything collected so far.
func (c *Collector[E]) Items() []E {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]E, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of items collected so far.
func (c *Collector[E]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// WaitFor blocks until at least n items arrived, the channel closed or
// ctx ended. It reports whether n items arrived.
func (c *Collector[E]) WaitFor(ctx context.Context, n int) bool {
	for {
		if c.Len() >= n {
			return true
		}
		select {
		case <-c.notify:
		case <-c.done:
			return c.Len() >= n
		case <-ctx.Done():
			return false
		}
	}
}

// Closed returns a channel closed once the source channel is drained.
func (c *Collector[E]) Closed() <-chan struct{} {
	return c.done
}

// Poll calls cond every interval until it returns true or ctx ends, and
// reports whether cond held.
func Poll(ctx context.Context, interval time.Duration, cond func() bool) bool {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if cond() {
			return true
		}
		select {
		case <-ctx.Done():
			return cond()
		case <-t.C:
		}
	}
}
