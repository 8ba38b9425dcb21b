// Package resilience provides the concurrency primitives used by the image
// download pipeline.
package resilience

import (
	"context"
	"sync"
)

// Semaphore is a counting semaphore bounding concurrent operations. Permits
// are handed to waiters in FIFO order.
type Semaphore struct {
	mu       sync.Mutex
	capacity int
	current  int
	waiters  []chan struct{}
}

// NewSemaphore creates a semaphore with the given capacity.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 1
	}
	return &Semaphore{capacity: capacity}
}

// TryAcquire attempts to take a permit without blocking.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current < s.capacity {
		s.current++
		return true
	}
	return false
}

// Acquire takes a permit, blocking until one is available or the context is
// cancelled.
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.current < s.capacity {
		s.current++
		s.mu.Unlock()
		return nil
	}
	waiter := make(chan struct{})
	s.waiters = append(s.waiters, waiter)
	s.mu.Unlock()

	select {
	case <-waiter:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for i, w := range s.waiters {
			if w == waiter {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				s.mu.Unlock()
				return ctx.Err()
			}
		}
		s.mu.Unlock()
		// Already handed a permit between cancellation and cleanup.
		select {
		case <-waiter:
			s.Release()
		default:
		}
		return ctx.Err()
	}
}

// Release returns a permit. A waiting Acquire receives it directly.
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current <= 0 {
		return
	}
	if len(s.waiters) > 0 && s.current <= s.capacity {
		waiter := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(waiter)
		return
	}
	s.current--
}

// Resize changes the capacity. Shrinking never revokes held permits; extra
// permits drain as they are released. Growing wakes queued waiters.
func (s *Semaphore) Resize(capacity int) {
	if capacity <= 0 {
		capacity = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.capacity = capacity
	for len(s.waiters) > 0 && s.current < s.capacity {
		waiter := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.current++
		close(waiter)
	}
}

// Current returns the number of held permits.
func (s *Semaphore) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Capacity returns the current capacity.
func (s *Semaphore) Capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}
