// Package supervisor runs background tasks whose terminal errors are always
// observed and whose number is always known.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Supervisor spawns named tasks, at most maxConcurrent of them running at
// once. Tasks waiting for a slot count as in flight.
type Supervisor struct {
	sem      *semaphore.Weighted
	inFlight atomic.Int64
	failures atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(ctx context.Context, maxConcurrent int64) *Supervisor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	s := &Supervisor{sem: semaphore.NewWeighted(maxConcurrent)}
	s.ctx, s.cancel = context.WithCancel(ctx)
	return s
}

// Go runs fn in its own goroutine. A returned error or a panic is logged
// exactly once; neither propagates.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.inFlight.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Add(-1)

		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			slog.Warn("task not started", "task", name, "error", err)
			return
		}
		defer s.sem.Release(1)

		if err := s.run(fn); err != nil {
			s.failures.Add(1)
			slog.Error("task failed", "task", name, "error", err)
		}
	}()
}

func (s *Supervisor) run(fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(s.ctx)
}

// InFlight returns the number of spawned tasks that have not finished.
func (s *Supervisor) InFlight() int64 {
	return s.inFlight.Load()
}

// Failures returns how many tasks ended with an error or panic.
func (s *Supervisor) Failures() int64 {
	return s.failures.Load()
}

// WaitIdle blocks until no tasks are in flight, or the timeout expires.
// Returns true if idle, false if timed out.
func (s *Supervisor) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if s.inFlight.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// Stop cancels the context handed to tasks and waits for them to return.
func (s *Supervisor) Stop() {
	s.cancel()
	s.wg.Wait()
}
