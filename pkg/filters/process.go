// Package filters is the image-processing library used by the sweep and
// merge pipelines. Every operation runs inside a Process that reports
// start, progress, abort and end events to an Observer and can be asked to
// abort cooperatively.
package filters

import (
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrAborted is returned by a filter that stopped because an abort was
// requested.
var ErrAborted = errors.New("filter aborted")

// progressStep is the smallest progress increase that is reported.
const progressStep = 0.01

// Observer receives the lifecycle events of a Process.
type Observer interface {
	OnStart(p *Process)
	OnProgress(p *Process, fraction float64)
	OnAbort(p *Process)
	OnEnd(p *Process)
}

// Process is the execution context of one filter stage.
type Process struct {
	stage    string
	observer Observer

	abort    atomic.Bool
	progress float64
	reported float64
}

// NewProcess creates a process for stage. A nil observer discards events.
func NewProcess(stage string, observer Observer) *Process {
	return &Process{stage: stage, observer: observer, reported: -1}
}

// Stage returns the stage name.
func (p *Process) Stage() string {
	return p.stage
}

// Abort asks the running filter to stop at its next check.
func (p *Process) Abort() {
	p.abort.Store(true)
}

// AbortRequested is polled by filters between units of work.
func (p *Process) AbortRequested() bool {
	return p.abort.Load()
}

// Progress returns the last recorded progress fraction.
func (p *Process) Progress() float64 {
	return p.progress
}

// UpdateProgress records fraction (clamped to 0..1) and notifies the
// observer when it has advanced by at least one percent. Progress never
// decreases.
func (p *Process) UpdateProgress(fraction float64) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	if fraction < p.progress {
		return
	}
	p.progress = fraction
	if fraction-p.reported < progressStep && fraction < 1 {
		return
	}
	if fraction == p.reported {
		return
	}
	p.reported = fraction
	if p.observer != nil {
		p.observer.OnProgress(p, fraction)
	}
}

// checkpoint reports progress and returns ErrAborted when an abort has been
// requested, including one requested by the observer in response.
func (p *Process) checkpoint(done, total int) error {
	if total > 0 {
		p.UpdateProgress(float64(done) / float64(total))
	}
	if p.AbortRequested() {
		return ErrAborted
	}
	return nil
}

// Execute runs fn as the body of p. The observer sees OnStart, then either
// OnEnd after success or OnAbort after an abort. A panic inside fn is
// returned as an error.
func Execute(p *Process, fn func(p *Process) error) (err error) {
	if p.observer != nil {
		p.observer.OnStart(p)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: filter panicked: %v", p.stage, r)
		}
	}()

	if p.AbortRequested() {
		err = ErrAborted
	} else {
		err = fn(p)
	}

	switch {
	case errors.Is(err, ErrAborted):
		if p.observer != nil {
			p.observer.OnAbort(p)
		}
		return err
	case err != nil:
		return errors.Wrap(err, p.stage)
	}

	p.UpdateProgress(1)
	if p.observer != nil {
		p.observer.OnEnd(p)
	}
	return nil
}
