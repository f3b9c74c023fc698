// Package eventloop runs every socket callback, timer and store mutation
// of the companion on one goroutine, so that handlers for one frame run
// to completion before the next frame is looked at.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const inboxSize = 256

var ErrStopped = errors.New("event loop stopped")

type Option func(*Loop)

// WithClock replaces the real clock, mostly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(l *Loop) { l.clock = c }
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Loop) { l.log = log }
}

type Loop struct {
	inbox  chan func()
	clock  clockwork.Clock
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts a loop that runs until parent is cancelled or Stop is called.
func New(parent context.Context, opts ...Option) *Loop {
	ctx, cancel := context.WithCancel(parent)
	l := &Loop{
		inbox:  make(chan func(), inboxSize),
		clock:  clockwork.NewRealClock(),
		log:    zap.NewNop(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			return
		case fn := <-l.inbox:
			l.invoke(fn)
		}
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			l.log.Error("loop task panicked", zap.Any("panic", p))
		}
	}()
	fn()
}

// Post queues fn. It reports false once the loop has stopped. Post
// blocks while the inbox is full, so loop tasks must not post in bulk.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.ctx.Done():
		return false
	default:
	}
	select {
	case l.inbox <- fn:
		return true
	case <-l.ctx.Done():
		return false
	}
}

// Do runs fn on the loop and waits for it. Never call Do from a loop
// task: it would wait for itself.
func (l *Loop) Do(fn func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

// Call is Do for tasks that return an error. A stopped loop yields
// ErrStopped.
func (l *Loop) Call(fn func() error) error {
	var err error
	if !l.Do(func() { err = fn() }) {
		return ErrStopped
	}
	return err
}

// Teardown runs fn on the loop, or on the caller once the loop has
// exited, so cleanup still happens after the parent context is
// cancelled. fn runs exactly once. Never call it from a loop task.
func (l *Loop) Teardown(fn func()) {
	var once sync.Once
	run := func() { once.Do(fn) }
	if l.Do(run) {
		return
	}
	// the loop may still be finishing a task when its context is cancelled
	<-l.done
	run()
}

func (l *Loop) Now() time.Time { return l.clock.Now() }

func (l *Loop) Clock() clockwork.Clock { return l.clock }

// Context is cancelled when the loop stops.
func (l *Loop) Context() context.Context { return l.ctx }

func (l *Loop) Done() <-chan struct{} { return l.done }

// Stop ends the loop and waits for the running task to return. Queued
// tasks are dropped.
func (l *Loop) Stop() {
	l.cancel()
	<-l.done
}

// Timer is a one-shot callback that runs on the loop.
type Timer struct {
	timer   clockwork.Timer
	stopped atomic.Bool
	fired   atomic.Bool
}

// AfterFunc schedules fn on the loop after d. Stopping the timer also
// cancels a firing that is already queued but not yet run.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{}
	t.timer = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped.Load() {
				return
			}
			t.fired.Store(true)
			fn()
		})
	})
	return t
}

// Stop reports whether the call prevented fn from running. A nil Timer
// is valid and already stopped.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	wasPending := !t.stopped.Swap(true) && !t.fired.Load()
	if t.timer != nil {
		t.timer.Stop()
	}
	return wasPending
}
