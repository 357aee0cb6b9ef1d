// Package mutex implements a non-reentrant, non-owning binary lock with
// strict FIFO waiting, used by the worker to serialize cluster mutations.
//
// A bare sync.Mutex does not guarantee FIFO hand-off under contention; this
// type keeps an explicit waiter queue of per-waiter channels so that release
// always transfers the lock to the earliest-arrived waiter with no
// observable unlocked window in between.
package mutex

import (
	"context"
	"sync"
)

// FIFOMutex is a binary lock with strict first-in-first-out waiter ordering.
type FIFOMutex struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

// New creates a free FIFOMutex.
func New() *FIFOMutex {
	return &FIFOMutex{}
}

// Acquire blocks until the caller holds the lock, or ctx is canceled while
// waiting. If the lock is free, it is taken in one indivisible step. If it
// is held, the caller is appended to the tail of the waiter queue.
func (m *FIFOMutex) Acquire(ctx context.Context) error {
	m.mu.Lock()
	if !m.held {
		m.held = true
		m.mu.Unlock()
		return nil
	}

	wait := make(chan struct{})
	m.waiters = append(m.waiters, wait)
	m.mu.Unlock()

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		m.removeWaiter(wait)
		return ctx.Err()
	}
}

// removeWaiter drops wait from the queue if it has not already been woken.
// If it was already signaled (lost the race with cancellation), the lock it
// was handed must be passed on immediately so it is never left held with no
// logical owner.
func (m *FIFOMutex) removeWaiter(wait chan struct{}) {
	m.mu.Lock()
	for i, w := range m.waiters {
		if w == wait {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			m.mu.Unlock()
			return
		}
	}
	m.mu.Unlock()

	select {
	case <-wait:
		// Already handed the lock — release it on the canceled waiter's behalf.
		m.Release()
	default:
	}
}

// Release gives up the lock. If waiters are queued, the lock transfers
// directly to the head waiter; otherwise it is marked free.
func (m *FIFOMutex) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.waiters) == 0 {
		m.held = false
		return
	}

	next := m.waiters[0]
	m.waiters = m.waiters[1:]
	close(next)
}
