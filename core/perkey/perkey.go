// Package perkey serializes work per key while work for different keys
// runs concurrently.
//
// Typical use-case: event-sourced aggregates, where commands for one
// aggregate id must run one at a time, but different aggregates in
// parallel.
package perkey

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Scheduler runs functions such that for any given key K at most one
// function executes at a time. Callers waiting on the same key are served
// in FIFO order. Work runs on the caller's goroutine, the scheduler owns
// no goroutines and needs no shutdown.
type Scheduler[K comparable] struct {
	mu    sync.Mutex
	slots map[K]*slot
}

type slot struct {
	sem *semaphore.Weighted
	// waiters counts callers holding or waiting for the slot. The slot is
	// dropped from the map when it reaches zero.
	waiters int
}

// New creates a new Scheduler.
func New[K comparable]() *Scheduler[K] {
	return &Scheduler[K]{slots: make(map[K]*slot)}
}

// Do runs fn under the key's slot and returns its error. If the slot is
// busy, Do blocks until it is free or ctx is done; a caller that gives up
// waiting returns the context error without fn having run.
func (s *Scheduler[K]) Do(ctx context.Context, key K, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	sl, ok := s.slots[key]
	if !ok {
		sl = &slot{sem: semaphore.NewWeighted(1)}
		s.slots[key] = sl
	}
	sl.waiters++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		sl.waiters--
		if sl.waiters == 0 {
			delete(s.slots, key)
		}
		s.mu.Unlock()
	}()

	if err := sl.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sl.sem.Release(1)

	return fn()
}

// size reports how many keys currently hold a slot.
func (s *Scheduler[K]) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
