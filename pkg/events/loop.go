package events

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// Scheduler posts functions onto the UI-owning goroutine.
type Scheduler interface {
	// Post queues fn to run on the UI goroutine. It reports false if the
	// scheduler has shut down.
	Post(fn func()) bool

	// PostAfter queues fn to run on the UI goroutine after d. If the
	// scheduler has shut down by then, refused is called instead, on
	// whichever goroutine noticed.
	PostAfter(d time.Duration, fn func(), refused func())
}

// Loop is a single goroutine that owns the user interface. Every function
// posted to it runs on that goroutine, one at a time, in posting order.
type Loop struct {
	mu     sync.Mutex
	tasks  []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

// NewLoop creates a loop. Call Run to start executing posted work.
func NewLoop() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Run executes posted functions until ctx is cancelled or Quit is called.
// The calling goroutine is locked to its OS thread for the duration, as
// native windowing toolkits require.
func (l *Loop) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	defer close(l.done)

	for {
		fn, ok := l.next()
		if ok {
			fn()
			continue
		}
		if l.isClosed() {
			return nil
		}
		select {
		case <-ctx.Done():
			l.Quit()
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.tasks) == 0 {
		return nil, false
	}
	fn := l.tasks[0]
	l.tasks[0] = nil
	l.tasks = l.tasks[1:]
	return fn, true
}

func (l *Loop) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Post implements Scheduler.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// PostAfter implements Scheduler.
func (l *Loop) PostAfter(d time.Duration, fn func(), refused func()) {
	post := func() {
		if !l.Post(fn) && refused != nil {
			refused()
		}
	}
	if d <= 0 {
		post()
		return
	}
	time.AfterFunc(d, post)
}

// DoAndWait posts fn and blocks until it has run. It must not be called from
// the loop goroutine itself.
func (l *Loop) DoAndWait(fn func()) bool {
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

// Quit stops accepting work. Functions already posted still run before Run
// returns.
func (l *Loop) Quit() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
