package events

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrBusy is returned when a worker is started while another is still alive.
var ErrBusy = errors.New("a worker is already running")

// Worker tracks the single worker goroutine of a run.
type Worker struct {
	mu   sync.Mutex
	done chan struct{}
}

// Go starts fn on a new goroutine. Only one goroutine may be alive at a time.
func (w *Worker) Go(fn func()) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done != nil {
		select {
		case <-w.done:
		default:
			return ErrBusy
		}
	}

	done := make(chan struct{})
	w.done = done
	go func() {
		defer close(done)
		fn()
	}()
	return nil
}

// Alive reports whether the worker goroutine is still running.
func (w *Worker) Alive() bool {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()

	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Wait blocks until the current worker goroutine, if any, has returned.
func (w *Worker) Wait() {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()

	if done != nil {
		<-done
	}
}
