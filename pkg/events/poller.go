package events

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"wasp/pkg/logging"
)

// DefaultPollInterval is the pause between drain cycles while polling.
const DefaultPollInterval = 10 * time.Millisecond

// Handler executes a Message on the UI goroutine.
type Handler interface {
	Handle(msg Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(msg Message) error

// Handle implements Handler.
func (f HandlerFunc) Handle(msg Message) error {
	return f(msg)
}

// Poller drains a Queue on the UI goroutine. Each drain cycle runs one
// message and reschedules itself, so the UI goroutine is never held for
// longer than a single message. While polling, an empty queue is checked
// again after the poll interval.
type Poller struct {
	queue     *Queue
	scheduler Scheduler
	handler   Handler
	interval  time.Duration
	log       *logging.Logger

	running atomic.Bool
	pending atomic.Bool
	worker  atomic.Pointer[Worker]

	handled atomic.Int64
	failed  atomic.Int64
}

// NewPoller creates a poller that hands messages from queue to handler on
// the goroutine behind scheduler.
func NewPoller(queue *Queue, scheduler Scheduler, handler Handler, log *logging.Logger) *Poller {
	if log == nil {
		log = logging.Nop()
	}
	return &Poller{
		queue:     queue,
		scheduler: scheduler,
		handler:   handler,
		interval:  DefaultPollInterval,
		log:       log,
	}
}

// SetInterval changes the pause between drain cycles.
func (p *Poller) SetInterval(d time.Duration) {
	p.interval = d
}

// Track registers the worker that Stop joins.
func (p *Poller) Track(w *Worker) {
	p.worker.Store(w)
}

// Running reports whether the poller is polling.
func (p *Poller) Running() bool {
	return p.running.Load()
}

// Handled returns the number of messages executed successfully.
func (p *Poller) Handled() int64 {
	return p.handled.Load()
}

// Failed returns the number of messages whose execution failed.
func (p *Poller) Failed() int64 {
	return p.failed.Load()
}

// Start begins polling. It is called once per run from the UI goroutine.
func (p *Poller) Start() {
	p.running.Store(true)
	p.schedule(0)
}

// Stop ends polling. If the tracked worker is still alive Stop blocks until
// it has returned, so nothing is enqueued by it after Stop completes.
func (p *Poller) Stop() {
	p.running.Store(false)
	if w := p.worker.Load(); w != nil && w.Alive() {
		w.Wait()
	}
}

// Wake schedules one drain cycle without resuming polling. Messages
// enqueued after Stop, such as late completion notices, are drained by it.
func (p *Poller) Wake() {
	p.schedule(0)
}

// schedule arranges for one drain cycle. At most one cycle is ever pending.
func (p *Poller) schedule(delay time.Duration) {
	if !p.pending.CompareAndSwap(false, true) {
		return
	}
	cycle := func() {
		p.pending.Store(false)
		p.drainCycle()
	}
	refused := func() { p.pending.Store(false) }
	if delay <= 0 {
		if !p.scheduler.Post(cycle) {
			refused()
		}
		return
	}
	p.scheduler.PostAfter(delay, cycle, refused)
}

func (p *Poller) drainCycle() {
	if msg, ok := p.queue.Pop(); ok {
		p.execute(msg)
	}

	// Anything still queued is drained even after Stop; new work only keeps
	// arriving while polling.
	if p.queue.Len() > 0 {
		p.schedule(0)
		return
	}
	if p.running.Load() {
		p.schedule(p.interval)
	}
}

// execute runs one message, containing any failure so draining continues.
func (p *Poller) execute(msg Message) {
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			p.log.Error("queue", fmt.Errorf("panic: %v", r), map[string]interface{}{
				"message": Describe(msg),
			})
		}
	}()

	var err error
	switch m := msg.(type) {
	case Stop:
		p.Stop()
	case Call:
		if m.Fn != nil {
			err = m.Fn()
		}
	default:
		err = p.handler.Handle(msg)
	}
	if err != nil {
		p.failed.Add(1)
		p.log.Error("queue", errors.Wrap(err, "error in main queue"), map[string]interface{}{
			"message": Describe(msg),
		})
		return
	}
	p.handled.Add(1)
}
