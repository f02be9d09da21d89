// Package loop runs callbacks one at a time on a single goroutine.
//
// Timers, filesystem notifications, cron jobs and HTTP handlers all hop onto
// the loop before touching reactive state, so the planner and timezone
// source never need their own locking.
package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var ErrStopped = errors.New("loop: stopped")

// Timer is a one-shot callback armed on a Scheduler.
type Timer interface {
	// Stop cancels the timer. It reports true if the call prevented the
	// callback from running, and false if it already ran or was stopped.
	Stop() bool
}

// Scheduler arms one-shot callbacks.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// Poster queues a callback for serial execution.
type Poster interface {
	Post(fn func()) bool
}

// Loop is the default Scheduler and Poster.
type Loop struct {
	queue    chan func()
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a loop. Callbacks queue up until Run is called.
func New() *Loop {
	return &Loop{
		queue: make(chan func(), 64),
		done:  make(chan struct{}),
	}
}

// Run dispatches callbacks until ctx is canceled. Callbacks still queued at
// that point are dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stop()
	for {
		select {
		case fn := <-l.queue:
			fn()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Loop) stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// Post queues fn. It returns false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call runs fn on the loop and waits for it to return.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

const (
	timerArmed int32 = iota
	timerFired
	timerStopped
)

type loopTimer struct {
	state atomic.Int32
	t     *time.Timer
}

// AfterFunc runs fn on the loop no sooner than d from now.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	lt := &loopTimer{}
	lt.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if lt.state.CompareAndSwap(timerArmed, timerFired) {
				fn()
			}
		})
	})
	return lt
}

func (lt *loopTimer) Stop() bool {
	if !lt.state.CompareAndSwap(timerArmed, timerStopped) {
		return false
	}
	lt.t.Stop()
	return true
}
