package events

import (
	"fmt"
	"time"
)

// DefaultDialogDuration is how long a dialog stays up when no duration is
// given.
const DefaultDialogDuration = time.Second

// StatusSurface is the part of the user interface the pipeline reports to.
// Implementations are only ever called from the UI goroutine.
type StatusSurface interface {
	SetStatusText(text string)
	ShowProgress()
	HideProgress(reset bool)
	SetProgressValue(value int)
	ShowDialog(text string, d time.Duration)
}

// Dispatcher maps queued messages onto a StatusSurface.
type Dispatcher struct {
	surface StatusSurface
}

// NewDispatcher creates a Handler that drives surface.
func NewDispatcher(surface StatusSurface) *Dispatcher {
	return &Dispatcher{surface: surface}
}

// Handle implements Handler.
func (d *Dispatcher) Handle(msg Message) error {
	switch m := msg.(type) {
	case StageStarted:
		d.surface.SetStatusText("Running")
		d.surface.SetProgressValue(0)
		d.surface.ShowProgress()
	case Progress:
		d.surface.SetStatusText(fmt.Sprintf("Running %s (%6.5f)", m.Stage, m.Fraction))
		d.surface.SetProgressValue(progressValue(m.Fraction))
	case Aborted:
		d.surface.SetStatusText("Aborted")
	case StageEnded:
		d.surface.SetStatusText("Completed")
		d.surface.SetProgressValue(100)
	case Status:
		d.surface.SetStatusText(m.Text)
	case ShowProgress:
		d.surface.ShowProgress()
	case HideProgress:
		d.surface.HideProgress(m.Reset)
	case Dialog:
		dur := m.Duration
		if dur <= 0 {
			dur = DefaultDialogDuration
		}
		d.surface.ShowDialog(m.Text, dur)
	default:
		return fmt.Errorf("unhandled message %T", msg)
	}
	return nil
}

func progressValue(fraction float64) int {
	v := int(fraction * 100)
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
