package dispatcher

import (
	"context"
	"sync"
)

// weightedSemaphore bounds concurrent "cost" rather than goroutine count,
// since a test instance can declare threads_required > 1 (spec.md §4.5).
// No library in the example pack provides a weighted semaphore (x/sync is
// not part of the dependency set this module draws from), so this is a
// small hand-rolled mutex+condvar implementation — see DESIGN.md.
type weightedSemaphore struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	inUse    int
}

func newWeightedSemaphore(capacity int) *weightedSemaphore {
	s := &weightedSemaphore{capacity: capacity}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Acquire blocks until n units are available or ctx is done. A weight
// larger than the semaphore's total capacity is admitted alone (it simply
// waits for the whole capacity to free up), matching nextest's handling of
// a test whose threads_required exceeds test_threads.
func (s *weightedSemaphore) Acquire(ctx context.Context, n int) error {
	if n > s.capacity {
		n = s.capacity
	}
	// sync.Cond has no context-aware wait, so a ctx-triggered broadcast is
	// how cancellation wakes a blocked Acquire.
	stop := context.AfterFunc(ctx, s.cond.Broadcast)
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.inUse+n > s.capacity {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.cond.Wait()
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.inUse += n
	return nil
}

// Release returns n units of capacity and wakes any waiters. n is clamped
// to the capacity the same way Acquire clamps it.
func (s *weightedSemaphore) Release(n int) {
	if n > s.capacity {
		n = s.capacity
	}
	s.mu.Lock()
	s.inUse -= n
	s.mu.Unlock()
	s.cond.Broadcast()
}
