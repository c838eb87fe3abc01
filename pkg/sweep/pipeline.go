// Package sweep runs the watershed level sweep: one gradient image is
// segmented at a range of watershed levels and every result is stored as its
// own label volume.
package sweep

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"wasp/pkg/abort"
	"wasp/pkg/events"
	"wasp/pkg/filters"
	"wasp/pkg/logging"
	"wasp/pkg/volume"
)

// Params holds the sweep parameters.
type Params struct {
	// InputVolume is the name of the intensity volume to segment
	InputVolume string

	// GradientSigma is the Gaussian sigma in mm of the gradient feature image
	GradientSigma float64

	// LevelStart, LevelEnd and LevelStep define the watershed levels; the
	// end is inclusive
	LevelStart float64
	LevelEnd   float64
	LevelStep  float64

	// MinComponentSize drops components with fewer voxels after each level
	MinComponentSize int

	// MarkWatershedLine separates basins with label 0
	MarkWatershedLine bool

	// FullyConnected uses 26-connectivity in the watershed
	FullyConnected bool

	// SaveGradient stores the feature image as gradient_mag
	SaveGradient bool
}

// Validate checks the parameters before a run.
func (p *Params) Validate() error {
	if p.InputVolume == "" {
		return fmt.Errorf("no input volume selected")
	}
	if p.GradientSigma <= 0 {
		return fmt.Errorf("gradient sigma must be positive, got %g", p.GradientSigma)
	}
	if p.MinComponentSize < 0 {
		return fmt.Errorf("minimum component size must not be negative, got %d", p.MinComponentSize)
	}
	_, err := Levels(p.LevelStart, p.LevelEnd, p.LevelStep)
	return err
}

// LevelResult describes the label volume produced for one level.
type LevelResult struct {
	Level      float64
	Volume     string
	Components int
	MeanSize   float64
	Largest    int
}

// Result summarises a finished sweep. Volumes lists every label volume that
// was stored, including those produced before an abort or failure.
type Result struct {
	Volumes []string
	Levels  []LevelResult
	Aborted bool
	Err     error

	// MeanComponents and StdComponents summarise component counts across
	// the produced levels
	MeanComponents float64
	StdComponents  float64
}

// Pipeline launches sweeps on a worker goroutine. Progress is reported only
// through the event queue.
type Pipeline struct {
	store  volume.Store
	queue  *events.Queue
	poller *events.Poller
	abort  *abort.Controller
	worker *events.Worker
	log    *logging.Logger

	mu     sync.Mutex
	result *Result
}

// Deps are the collaborators a Pipeline runs with.
type Deps struct {
	Store  volume.Store
	Queue  *events.Queue
	Poller *events.Poller
	Abort  *abort.Controller
	Worker *events.Worker
	Log    *logging.Logger
}

// NewPipeline creates a pipeline over deps.
func NewPipeline(deps Deps) *Pipeline {
	log := deps.Log
	if log == nil {
		log = logging.Nop()
	}
	return &Pipeline{
		store:  deps.Store,
		queue:  deps.Queue,
		poller: deps.Poller,
		abort:  deps.Abort,
		worker: deps.Worker,
		log:    log,
	}
}

// Run validates params, starts polling and launches the sweep on the worker
// goroutine. It returns as soon as the worker is started.
func (p *Pipeline) Run(params Params) (bool, error) {
	if err := params.Validate(); err != nil {
		return false, err
	}
	if p.worker.Alive() {
		return false, events.ErrBusy
	}

	p.abort.Reset()
	p.mu.Lock()
	p.result = nil
	p.mu.Unlock()

	p.poller.Track(p.worker)
	p.poller.Start()
	if err := p.worker.Go(func() { p.executeSweep(params) }); err != nil {
		p.poller.Stop()
		return false, err
	}
	return true, nil
}

// Wait blocks until the current sweep has finished and returns its result.
func (p *Pipeline) Wait() *Result {
	p.worker.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

func (p *Pipeline) executeSweep(params Params) {
	start := time.Now()
	result := &Result{}
	defer func() {
		p.summarise(result)
		p.mu.Lock()
		p.result = result
		p.mu.Unlock()
		p.finish(result)

		p.log.Info("sweep", "sweep finished", map[string]interface{}{
			"input":    params.InputVolume,
			"volumes":  len(result.Volumes),
			"aborted":  result.Aborted,
			"duration": time.Since(start).String(),
		})
	}()

	lib := filters.NewLibrary(filters.NewAdapter(p.queue, p.abort), p.log)

	// Step 1: read the input volume
	p.log.Info("sweep", "Step 1: reading input volume", map[string]interface{}{"volume": params.InputVolume})
	input, err := lib.Read(p.store, params.InputVolume)
	if p.stopped(result, err, "failed to read input volume") {
		return
	}

	// Step 2: compute the feature image once for all levels
	p.log.Info("sweep", "Step 2: computing gradient magnitude", map[string]interface{}{"sigma": params.GradientSigma})
	feature, err := lib.GradientMagnitude(input, params.GradientSigma)
	if p.stopped(result, err, "failed to compute gradient magnitude") {
		return
	}
	if params.SaveGradient {
		feature.Name = GradientVolumeName
		if p.stopped(result, p.store.Write(feature), "failed to store gradient") {
			return
		}
	}

	// Step 3: level sequence
	levels, err := Levels(params.LevelStart, params.LevelEnd, params.LevelStep)
	if p.stopped(result, err, "invalid levels") {
		return
	}
	p.log.Info("sweep", "Step 3: sweeping watershed levels", map[string]interface{}{
		"levels": len(levels),
		"first":  levels[0],
		"last":   levels[len(levels)-1],
	})

	// Step 4: segment each level
	opts := filters.WatershedOptions{
		MarkLine:       params.MarkWatershedLine,
		FullyConnected: params.FullyConnected,
	}
	for _, level := range levels {
		if p.abort.ShouldAbort() {
			result.Aborted = true
			return
		}

		opts.Level = level
		ws, err := lib.Watershed(feature, opts)
		if p.stopped(result, err, "watershed failed") {
			return
		}
		labels, sizes, err := lib.RelabelComponents(ws, params.MinComponentSize)
		if p.stopped(result, err, "relabel failed") {
			return
		}

		labels.Name = VolumeName(level)
		if p.stopped(result, p.store.Write(labels), "failed to store level") {
			return
		}
		result.Volumes = append(result.Volumes, labels.Name)
		result.Levels = append(result.Levels, levelResult(level, labels.Name, sizes))

		p.log.Debug("sweep", "level stored", map[string]interface{}{
			"volume":     labels.Name,
			"components": len(sizes),
		})
	}
}

// stopped records err and reports whether the sweep must stop.
func (p *Pipeline) stopped(result *Result, err error, msg string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, filters.ErrAborted) {
		result.Aborted = true
		return true
	}
	result.Err = errors.Wrap(err, msg)
	return true
}

// finish enqueues the end-of-run messages. A failure is handed to the queue
// so it is reported from the UI goroutine.
func (p *Pipeline) finish(result *Result) {
	if result.Err != nil {
		err := result.Err
		p.queue.Enqueue(events.Call{Fn: func() error { return err }})
	}
	p.queue.Enqueue(events.HideProgress{Reset: true})
	if result.Err == nil {
		p.queue.Enqueue(events.Status{Text: "Idle"})
	}
	p.queue.Enqueue(events.Stop{})
}

func levelResult(level float64, name string, sizes []int) LevelResult {
	r := LevelResult{Level: level, Volume: name, Components: len(sizes)}
	if len(sizes) == 0 {
		return r
	}
	values := make([]float64, len(sizes))
	for i, s := range sizes {
		values[i] = float64(s)
	}
	r.MeanSize = stat.Mean(values, nil)
	r.Largest = sizes[0]
	return r
}

func (p *Pipeline) summarise(result *Result) {
	if len(result.Levels) == 0 {
		return
	}
	counts := make([]float64, len(result.Levels))
	for i, l := range result.Levels {
		counts[i] = float64(l.Components)
	}
	if len(counts) == 1 {
		result.MeanComponents = counts[0]
		return
	}
	result.MeanComponents, result.StdComponents = stat.MeanStdDev(counts, nil)
}
