package state

import (
	"context"
	"log/slog"
	"sync"
)

// Loop is a FIFO executor that runs posted functions one at a time on the
// goroutine calling Run. It is the owning execution context of the
// containers scheduled on it.
//
// Post is safe from any goroutine. The queue is unbounded so a callback may
// post further work without blocking.
type Loop struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	signal chan struct{} // buffered, size 1
}

// NewLoop creates an empty loop.
func NewLoop() *Loop {
	return &Loop{
		tasks:  make([]func(), 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Post appends fn to the queue. Returns false once the loop is stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	l.tasks = append(l.tasks, fn)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case l.signal <- struct{}{}:
	default:
	}
	return true
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.tasks) == 0 {
		return nil, false
	}
	fn := l.tasks[0]
	l.tasks[0] = nil
	if len(l.tasks) == 1 {
		l.tasks = l.tasks[:0]
	} else {
		l.tasks = l.tasks[1:]
	}
	return fn, true
}

// Len returns the number of queued functions.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

func (l *Loop) done() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed && len(l.tasks) == 0
}

// RunPending runs the functions queued at the time of the call, plus any
// they post, until the queue is empty. It returns how many ran.
// For drivers that own the goroutine and do not call Run.
func (l *Loop) RunPending() int {
	n := 0
	for {
		fn, ok := l.next()
		if !ok {
			return n
		}
		fn()
		n++
	}
}

// Run executes posted functions until ctx is cancelled or Stop is called
// and the queue drains.
func (l *Loop) Run(ctx context.Context) error {
	slog.Debug("loop starting")
	for {
		if fn, ok := l.next(); ok {
			fn()
			continue
		}

		select {
		case <-ctx.Done():
			slog.Debug("loop stopping: context cancelled")
			l.Stop()
			return ctx.Err()
		case <-l.signal:
			// The signal channel closes on Stop; a stale buffered signal
			// on an open loop just loops back to next.
			if l.done() {
				slog.Debug("loop stopping: stopped")
				return nil
			}
		}
	}
}

// Stop rejects further posts and lets Run return once queued work drains.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	close(l.signal)
}
