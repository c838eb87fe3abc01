// Package wasp wires the sweep pipeline and the merge engine to one event
// queue, one worker and one abort controller. A host drives it from its UI
// goroutine.
package wasp

import (
	"time"

	"github.com/pkg/errors"

	"wasp/pkg/abort"
	"wasp/pkg/annotation"
	"wasp/pkg/config"
	"wasp/pkg/events"
	"wasp/pkg/logging"
	"wasp/pkg/merge"
	"wasp/pkg/mesh"
	"wasp/pkg/reference"
	"wasp/pkg/sweep"
	"wasp/pkg/visualization"
	"wasp/pkg/volume"
)

// ErrBusy is returned when a run is started while another is in progress.
var ErrBusy = events.ErrBusy

// Options are the collaborators a Logic is built from.
type Options struct {
	Config *config.Config
	Store  volume.Store

	// Surface receives UI updates; it is only called on the goroutine
	// behind Scheduler
	Surface   events.StatusSurface
	Scheduler events.Scheduler

	Log *logging.Logger
}

// Logic runs watershed sweeps and fiducial merges for a host.
type Logic struct {
	cfg     *config.Config
	store   volume.Store
	surface events.StatusSurface
	log     *logging.Logger

	queue  *events.Queue
	poller *events.Poller
	abort  *abort.Controller
	worker *events.Worker

	sweep *sweep.Pipeline
	merge *merge.Engine
	mesh  *mesh.Generator
}

// New validates the configuration and builds a Logic.
func New(opts Options) (*Logic, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	if opts.Store == nil || opts.Surface == nil || opts.Scheduler == nil {
		return nil, errors.New("store, surface and scheduler are required")
	}
	log := opts.Log
	if log == nil {
		log = logging.Nop()
	}

	l := &Logic{
		cfg:     cfg,
		store:   opts.Store,
		surface: opts.Surface,
		log:     log,
		queue:   events.NewQueue(),
		abort:   &abort.Controller{},
		worker:  &events.Worker{},
	}
	l.poller = events.NewPoller(l.queue, opts.Scheduler, events.NewDispatcher(opts.Surface), log)
	l.poller.SetInterval(time.Duration(cfg.Queue.PollInterval))

	if cfg.Mesh.OutputDir != "" {
		l.mesh = mesh.NewGenerator(cfg.Mesh.Params, log)
	}

	l.sweep = sweep.NewPipeline(sweep.Deps{
		Store:  l.store,
		Queue:  l.queue,
		Poller: l.poller,
		Abort:  l.abort,
		Worker: l.worker,
		Log:    log,
	})
	l.merge = merge.NewEngine(merge.Deps{
		Store:          l.store,
		Queue:          l.queue,
		Poller:         l.poller,
		Abort:          l.abort,
		Worker:         l.worker,
		Log:            log,
		Mesh:           l.mesh,
		ModelDir:       cfg.Mesh.OutputDir,
		ColorTableName: cfg.Output.ColorTableName,
	})
	return l, nil
}

// RunWatershed starts a sweep over input with the configured parameters.
// Call it from the UI goroutine.
func (l *Logic) RunWatershed(input string) (bool, error) {
	return l.RunWatershedWith(l.cfg.SweepParams(input))
}

// RunWatershedWith starts a sweep with explicit parameters.
func (l *Logic) RunWatershedWith(params sweep.Params) (bool, error) {
	l.log.Info("wasp", "watershed requested", map[string]interface{}{"input": params.InputVolume})
	return l.sweep.Run(params)
}

// RunAnnotation starts a merge of the regions under set into outputName.
// ref may be nil. Call it from the UI goroutine.
func (l *Logic) RunAnnotation(set annotation.Set, outputName string, ref *reference.Ordering) (bool, error) {
	l.log.Info("wasp", "annotation requested", map[string]interface{}{"output": outputName})
	return l.merge.Run(set, outputName, ref)
}

// Cancel marks the run aborted on the surface and asks the running filter to
// stop. It must be called on the UI goroutine. Model generation is not
// interrupted.
func (l *Logic) Cancel() {
	l.surface.SetStatusText("Aborted")
	l.surface.HideProgress(false)
	l.abort.RequestAbort()
	l.log.Info("wasp", "abort requested", nil)
}

// WaitWatershed blocks until the current sweep finishes.
func (l *Logic) WaitWatershed() *sweep.Result {
	return l.sweep.Wait()
}

// WaitAnnotation blocks until the current merge finishes.
func (l *Logic) WaitAnnotation() (*merge.Result, error) {
	return l.merge.Wait()
}

// WaitModels blocks until model generation finishes. It returns nothing when
// models are disabled.
func (l *Logic) WaitModels() ([]string, error) {
	if l.mesh == nil {
		return nil, nil
	}
	return l.mesh.Wait()
}

// Idle reports whether polling has stopped and every message was drained.
func (l *Logic) Idle() bool {
	return !l.poller.Running() && l.queue.Len() == 0 && !l.worker.Alive()
}

// Preview writes the middle slice of a stored volume to the configured
// preview directory. It returns "" when previews are disabled.
func (l *Logic) Preview(name string) (string, error) {
	dir := l.cfg.Output.PreviewDir
	if dir == "" {
		return "", nil
	}
	vol, err := l.store.Read(name)
	if err != nil {
		return "", err
	}
	table, _ := l.store.ColorTable(name)
	path, err := visualization.NewViewer(vol, table).SaveMiddleSlice(dir)
	if err != nil {
		return "", errors.Wrapf(err, "preview of %s", name)
	}
	l.log.Debug("wasp", "preview written", map[string]interface{}{"volume": name, "path": path})
	return path, nil
}

// Close stops polling and joins the worker.
func (l *Logic) Close() {
	l.poller.Stop()
	l.worker.Wait()
}
