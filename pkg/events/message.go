// Package events bridges a worker goroutine and the goroutine that owns the
// user interface.
//
// Worker code never touches UI state. It enqueues Messages on a Queue; a
// Poller running on the UI Loop drains the Queue and hands each Message to a
// Handler. Only the Loop goroutine ever calls into the StatusSurface.
package events

import (
	"fmt"
	"time"
)

// Message is a unit of UI-bound work queued by the worker.
type Message interface {
	message()
}

// StageStarted is emitted when a filter stage begins.
type StageStarted struct {
	Stage string
}

// Progress reports the fractional completion (0.0-1.0) of a stage.
type Progress struct {
	Stage    string
	Fraction float64
}

// Aborted is emitted once a stage acknowledges an abort request.
type Aborted struct {
	Stage string
}

// StageEnded is emitted when a filter stage finishes.
type StageEnded struct {
	Stage string
}

// Status replaces the status text.
type Status struct {
	Text string
}

// ShowProgress makes the progress indicator visible.
type ShowProgress struct{}

// HideProgress hides the progress indicator, optionally resetting it to zero.
type HideProgress struct {
	Reset bool
}

// Dialog shows a blocking message to the user for Duration.
type Dialog struct {
	Text     string
	Duration time.Duration
}

// Stop asks the Poller to stop polling and join the worker. The worker sends
// it as its last message.
type Stop struct{}

// Call runs host-defined work on the UI goroutine.
type Call struct {
	Fn func() error
}

func (StageStarted) message() {}
func (Progress) message()     {}
func (Aborted) message()      {}
func (StageEnded) message()   {}
func (Status) message()       {}
func (ShowProgress) message() {}
func (HideProgress) message() {}
func (Dialog) message()       {}
func (Stop) message()         {}
func (Call) message()         {}

// Describe returns a short human readable form of msg for logs.
func Describe(msg Message) string {
	switch m := msg.(type) {
	case StageStarted:
		return "start " + m.Stage
	case Progress:
		return fmt.Sprintf("progress %s %.3f", m.Stage, m.Fraction)
	case Aborted:
		return "aborted " + m.Stage
	case StageEnded:
		return "end " + m.Stage
	case Status:
		return "status " + m.Text
	case Dialog:
		return "dialog " + m.Text
	}
	return fmt.Sprintf("%T", msg)
}
