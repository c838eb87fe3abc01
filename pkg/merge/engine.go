// Package merge combines the watershed regions picked by fiducials into one
// label volume, one label per picked region.
package merge

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"wasp/internal/models"
	"wasp/pkg/abort"
	"wasp/pkg/annotation"
	"wasp/pkg/colortable"
	"wasp/pkg/events"
	"wasp/pkg/filters"
	"wasp/pkg/logging"
	"wasp/pkg/mesh"
	"wasp/pkg/reference"
	"wasp/pkg/sweep"
	"wasp/pkg/volume"
)

// validationDialog is how long a validation error stays on screen.
const validationDialog = 100 * time.Second

// Result describes a completed merge.
type Result struct {
	// OutputName is the label volume that was written
	OutputName string

	// Dictionary maps every fiducial name to its final label
	Dictionary models.LabelDictionary

	// ChangeMap is the label substitution applied for the reference
	// ordering, empty without one
	ChangeMap map[int]int

	// ColorTable is attached to the output volume
	ColorTable *colortable.Table

	// Components is the number of regions in the output
	Components int

	// ModelsStarted is set when mesh generation was scheduled
	ModelsStarted bool
}

// Deps are the collaborators an Engine runs with.
type Deps struct {
	Store  volume.Store
	Queue  *events.Queue
	Poller *events.Poller
	Abort  *abort.Controller
	Worker *events.Worker
	Log    *logging.Logger

	// Mesh, when set, builds surface models of every merge into ModelDir
	Mesh     *mesh.Generator
	ModelDir string

	// ColorTableName names the tables attached to outputs
	ColorTableName string
}

// Engine runs merges on a worker goroutine.
type Engine struct {
	store     volume.Store
	queue     *events.Queue
	poller    *events.Poller
	abort     *abort.Controller
	worker    *events.Worker
	log       *logging.Logger
	mesh      *mesh.Generator
	modelDir  string
	tableName string

	mu     sync.Mutex
	result *Result
	err    error
}

// NewEngine creates an engine over deps.
func NewEngine(deps Deps) *Engine {
	e := &Engine{
		store:     deps.Store,
		queue:     deps.Queue,
		poller:    deps.Poller,
		abort:     deps.Abort,
		worker:    deps.Worker,
		log:       deps.Log,
		mesh:      deps.Mesh,
		modelDir:  deps.ModelDir,
		tableName: deps.ColorTableName,
	}
	if e.log == nil {
		e.log = logging.Nop()
	}
	if e.abort == nil {
		e.abort = &abort.Controller{}
	}
	if e.tableName == "" {
		e.tableName = colortable.DefaultName
	}
	if e.mesh != nil {
		e.mesh.AddObserver(e.modelStatus)
	}
	return e
}

// modelStatus runs on the mesh goroutine and only queues UI updates.
func (e *Engine) modelStatus(status string) {
	if !strings.Contains(status, mesh.StatusCompleted) {
		return
	}
	e.queue.Enqueue(events.Status{Text: "Done"})
	e.queue.Enqueue(events.HideProgress{Reset: true})
	if e.poller != nil {
		e.poller.Wake()
	}
}

// Run starts polling and merges on the worker goroutine. It returns once the
// worker is started.
func (e *Engine) Run(set annotation.Set, outputName string, ref *reference.Ordering) (bool, error) {
	if outputName == "" {
		return false, errors.New("no output volume selected")
	}
	if e.worker.Alive() {
		return false, events.ErrBusy
	}

	e.abort.Reset()
	e.mu.Lock()
	e.result, e.err = nil, nil
	e.mu.Unlock()

	e.poller.Track(e.worker)
	e.poller.Start()
	err := e.worker.Go(func() {
		res, err := e.Merge(set, outputName, ref)
		e.mu.Lock()
		e.result, e.err = res, err
		e.mu.Unlock()
		e.finish(res, err)
	})
	if err != nil {
		e.poller.Stop()
		return false, err
	}
	return true, nil
}

// Wait blocks until the current merge has finished.
func (e *Engine) Wait() (*Result, error) {
	e.worker.Wait()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result, e.err
}

func (e *Engine) finish(res *Result, err error) {
	switch {
	case err == nil:
		if !res.ModelsStarted {
			e.queue.Enqueue(events.Status{Text: "Done"})
			e.queue.Enqueue(events.HideProgress{Reset: true})
		}
	case IsUserError(err), errors.Is(err, filters.ErrAborted):
		e.queue.Enqueue(events.HideProgress{Reset: true})
	default:
		e.queue.Enqueue(events.Call{Fn: func() error { return err }})
		e.queue.Enqueue(events.HideProgress{Reset: true})
	}
	e.queue.Enqueue(events.Stop{})
}

// fiducialHit is a fiducial resolved to a voxel and label.
type fiducialHit struct {
	fiducial models.Fiducial
	index    models.Index3
	label    int
}

// Merge combines the regions under set into outputName. It runs on the
// calling goroutine; progress goes to the queue.
func (e *Engine) Merge(set annotation.Set, outputName string, ref *reference.Ordering) (*Result, error) {
	if set == nil {
		e.queue.Enqueue(events.Dialog{Text: "No fiducial selected"})
		return nil, ErrNoSelection
	}
	if set.Count() == 0 {
		e.queue.Enqueue(events.Dialog{Text: "No fiducials within fiducial set"})
		return nil, ErrNoFiducials
	}

	start := time.Now()
	lib := filters.NewLibrary(filters.NewAdapter(e.queue, e.abort), e.log)

	// Resolve every fiducial and accumulate the union of picked regions.
	volumes := make(map[string]*models.Volume)
	var union *models.Volume
	hits := make([]fiducialHit, 0, set.Count())
	for i := 0; i < set.Count(); i++ {
		if e.abort.ShouldAbort() {
			return nil, filters.ErrAborted
		}
		f := set.At(i)

		vol, ok := volumes[f.VolumeName]
		if !ok {
			v, err := lib.Read(e.store, f.VolumeName)
			if err != nil {
				return nil, errors.Wrapf(err, "reading volume for fiducial %q", f.Name)
			}
			vol = v
			volumes[f.VolumeName] = vol
		}

		idx, err := volume.WorldToIndex(vol, f.World)
		if err != nil {
			return nil, errors.Wrapf(err, "fiducial %q", f.Name)
		}
		label := vol.Label(idx)
		e.log.Debug("merge", "fiducial resolved", map[string]interface{}{
			"fiducial": f.Name,
			"volume":   vol.Name,
			"index":    idx.String(),
			"label":    label,
		})

		if invalidLabel(label, vol.Name) {
			verr := &ValidationError{Fiducial: f.Name, Volume: vol.Name, Label: label}
			e.queue.Enqueue(events.Dialog{Text: verr.Error(), Duration: validationDialog})
			return nil, verr
		}

		mask := filters.BinaryMask(vol, label)
		if union == nil {
			union = mask
		} else if err := filters.AddMasks(union, mask); err != nil {
			return nil, errors.Wrapf(err, "fiducial %q", f.Name)
		}
		hits = append(hits, fiducialHit{fiducial: f, index: idx, label: label})
	}

	// Split regions that touch after the union, then order by size.
	connected, _, err := lib.ConnectedComponents(union, false)
	if err != nil {
		return nil, err
	}
	relabeled, sizes, err := lib.RelabelComponents(connected, 0)
	if err != nil {
		return nil, err
	}

	dict := make(models.LabelDictionary, len(hits))
	for _, h := range hits {
		dict[h.fiducial.Name] = relabeled.Label(h.index)
	}

	res := &Result{OutputName: outputName, Dictionary: dict, ChangeMap: map[int]int{}, Components: len(sizes)}
	if ref != nil {
		changes, final := ref.Remap(dict)
		relabeled, err = lib.ChangeLabels(relabeled, changes)
		if err != nil {
			return nil, err
		}
		res.ChangeMap, res.Dictionary = changes, final
	}

	if e.abort.ShouldAbort() {
		return nil, filters.ErrAborted
	}

	relabeled.Name = outputName
	relabeled.LabelMap = true
	if err := e.store.Write(relabeled); err != nil {
		return nil, errors.Wrap(err, "writing merged volume")
	}
	res.ColorTable = colortable.FromDictionary(e.tableName, res.Dictionary)
	if err := e.store.AttachColorTable(outputName, res.ColorTable); err != nil {
		return nil, errors.Wrap(err, "attaching color table")
	}

	e.log.Info("merge", "merge written", map[string]interface{}{
		"output":     outputName,
		"fiducials":  sortedNames(res.Dictionary),
		"components": res.Components,
		"reference":  ref != nil,
		"duration":   time.Since(start).String(),
	})

	res.ModelsStarted = e.startModels(relabeled, res.ColorTable)
	return res, nil
}

// invalidLabel reports whether a fiducial landed on a reserved label. Label
// 1 is always background; label 0 is only a watershed line on sweep output.
func invalidLabel(label int, volumeName string) bool {
	if label == models.BackgroundLabel {
		return true
	}
	return label == models.BoundaryLabel && sweep.IsSweepVolume(volumeName)
}

// startModels schedules mesh generation without waiting for it. Completion
// is reported by modelStatus.
func (e *Engine) startModels(vol *models.Volume, table *colortable.Table) bool {
	if e.mesh == nil || e.modelDir == "" {
		return false
	}
	e.queue.Enqueue(events.Status{Text: "Making model"})
	if err := e.mesh.Start(vol, table, e.modelDir); err != nil {
		e.log.Error("merge", errors.Wrap(err, "starting model generation"), nil)
		return false
	}
	return true
}

func sortedNames(dict models.LabelDictionary) []string {
	names := make([]string, 0, len(dict))
	for n := range dict {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
