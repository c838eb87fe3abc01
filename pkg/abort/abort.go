// Package abort holds the cancellation flag shared between the UI goroutine
// and the worker goroutine of a run.
//
// Cancellation is cooperative: a filter that is already running only stops
// when it next polls the flag, otherwise the request takes effect at the next
// stage boundary.
package abort

import "sync/atomic"

// Controller is a single shared abort flag.
type Controller struct {
	requested atomic.Bool
}

// RequestAbort marks the run as cancelled. Calling it more than once has no
// further effect.
func (c *Controller) RequestAbort() {
	c.requested.Store(true)
}

// ShouldAbort reports whether an abort has been requested.
func (c *Controller) ShouldAbort() bool {
	return c.requested.Load()
}

// Reset clears the flag before a new run.
func (c *Controller) Reset() {
	c.requested.Store(false)
}
