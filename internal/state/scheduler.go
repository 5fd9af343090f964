package state

import (
	"sync/atomic"
	"time"
)

// Scheduler defers a flush to a later turn of the owning context.
// The returned cancel disarms the callback if it has not run yet.
type Scheduler interface {
	Schedule(fn func()) (cancel func())
}

// ManualScheduler runs callbacks only when Tick is called. Deterministic
// drivers and tests use it in place of a frame clock.
type ManualScheduler struct {
	pending []*manualTask
}

type manualTask struct {
	fn        func()
	cancelled bool
}

// NewManualScheduler creates a scheduler with nothing pending.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// Schedule implements Scheduler.
func (s *ManualScheduler) Schedule(fn func()) func() {
	task := &manualTask{fn: fn}
	s.pending = append(s.pending, task)
	return func() { task.cancelled = true }
}

// Tick runs the callbacks pending at the time of the call. Callbacks they
// schedule wait for the next Tick. Returns how many ran.
func (s *ManualScheduler) Tick() int {
	batch := s.pending
	s.pending = nil
	n := 0
	for _, task := range batch {
		if task.cancelled {
			continue
		}
		task.fn()
		n++
	}
	return n
}

// Pending returns the number of armed callbacks.
func (s *ManualScheduler) Pending() int {
	n := 0
	for _, task := range s.pending {
		if !task.cancelled {
			n++
		}
	}
	return n
}

// DefaultFrameInterval is the flush delay of a LoopScheduler when none is configured.
const DefaultFrameInterval = 16 * time.Millisecond

// LoopScheduler arms a frame timer and runs the callback on a Loop, so
// flushes always execute on the loop's goroutine.
type LoopScheduler struct {
	loop     *Loop
	interval time.Duration
}

// NewLoopScheduler creates a scheduler posting onto loop after interval.
// A non-positive interval means DefaultFrameInterval.
func NewLoopScheduler(loop *Loop, interval time.Duration) *LoopScheduler {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &LoopScheduler{loop: loop, interval: interval}
}

// Schedule implements Scheduler.
func (s *LoopScheduler) Schedule(fn func()) func() {
	var cancelled atomic.Bool
	timer := time.AfterFunc(s.interval, func() {
		if cancelled.Load() {
			return
		}
		s.loop.Post(func() {
			// Cancellation may race the timer; re-check on the loop.
			if !cancelled.Load() {
				fn()
			}
		})
	})
	return func() {
		cancelled.Store(true)
		timer.Stop()
	}
}
