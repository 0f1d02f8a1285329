package chatsync

import (
	"context"
	"time"
)

// Clock abstracts time so timers can be driven in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a pending AfterFunc.
type Timer interface {
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Loop serializes every mutation of sync state onto one goroutine.
// Handlers run one at a time, to completion, in the order they were posted.
type Loop struct {
	clock Clock
	tasks chan func()
	done  chan struct{}
}

// NewLoop creates a loop. It does nothing until Run is called.
func NewLoop(clock Clock) *Loop {
	if clock == nil {
		clock = systemClock{}
	}
	return &Loop{
		clock: clock,
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
	}
}

// Run executes posted tasks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Post enqueues fn. It reports false if the loop has stopped.
// Post may block briefly when the queue is full, which throttles producers
// such as the channel reader.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish.
// It must not be called from the loop goroutine.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case l.tasks <- task:
	case <-l.done:
		return NewError(ErrorDisconnected, "event loop stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return NewError(ErrorDisconnected, "event loop stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Now returns the loop clock's current time.
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// loopTimer guards against a fired timer whose task is already queued
// when Stop is called.
type loopTimer struct {
	timer   Timer
	stopped bool
}

// Stop must be called on the loop.
func (t *loopTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	return t.timer.Stop()
}

// AfterFunc runs fn on the loop after d. Must be called on the loop.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	lt := &loopTimer{}
	lt.timer = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if lt.stopped {
				return
			}
			lt.stopped = true
			fn()
		})
	})
	return lt
}

// scheduler is what loop-confined components need from the loop.
type scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
	Post(fn func()) bool
}
