package filters

import (
	"wasp/pkg/abort"
	"wasp/pkg/events"
)

// Adapter turns process lifecycle events into queued UI messages. It runs on
// the worker goroutine and never touches UI state itself.
//
// On every progress event the shared abort flag is consulted and, when set,
// the running process is asked to abort.
type Adapter struct {
	queue *events.Queue
	abort *abort.Controller
}

// NewAdapter creates an observer that reports to queue and honours ctl.
func NewAdapter(queue *events.Queue, ctl *abort.Controller) *Adapter {
	return &Adapter{queue: queue, abort: ctl}
}

// OnStart implements Observer.
func (a *Adapter) OnStart(p *Process) {
	a.queue.Enqueue(events.StageStarted{Stage: p.Stage()})
}

// OnProgress implements Observer.
func (a *Adapter) OnProgress(p *Process, fraction float64) {
	a.queue.Enqueue(events.Progress{Stage: p.Stage(), Fraction: fraction})
	if a.abort != nil && a.abort.ShouldAbort() {
		p.Abort()
	}
}

// OnAbort implements Observer.
func (a *Adapter) OnAbort(p *Process) {
	a.queue.Enqueue(events.Aborted{Stage: p.Stage()})
}

// OnEnd implements Observer.
func (a *Adapter) OnEnd(p *Process) {
	a.queue.Enqueue(events.StageEnded{Stage: p.Stage()})
}
