package engine

import (
	"context"
	"sync"
)

// Canceller registers every in-flight cancellable operation for one edit
// session. Closing the editor or tearing down the host calls CancelAll,
// which aborts all outstanding tokens at once. A call that is mid-flight
// when cancelled unwinds without emitting success or failure notices.
type Canceller struct {
	mu      sync.Mutex
	next    uint64
	cancels map[uint64]context.CancelFunc
}

// NewCanceller creates an empty registry.
func NewCanceller() *Canceller {
	return &Canceller{cancels: make(map[uint64]context.CancelFunc)}
}

// Begin derives a cancellable token context from parent and registers it.
// The returned done func unregisters and releases the token; callers must
// invoke it when the operation finishes, cancelled or not.
func (c *Canceller) Begin(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	c.mu.Lock()
	id := c.next
	c.next++
	c.cancels[id] = cancel
	c.mu.Unlock()

	done := func() {
		c.mu.Lock()
		delete(c.cancels, id)
		c.mu.Unlock()
		cancel()
	}
	return ctx, done
}

// CancelAll cancels every outstanding token. Idempotent.
func (c *Canceller) CancelAll() {
	c.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(c.cancels))
	for id, cancel := range c.cancels {
		cancels = append(cancels, cancel)
		delete(c.cancels, id)
	}
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// Active returns the number of outstanding tokens.
func (c *Canceller) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cancels)
}
