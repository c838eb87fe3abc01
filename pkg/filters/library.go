package filters

import (
	"time"

	"wasp/internal/models"
	"wasp/pkg/logging"
)

// Stage names reported to the observer.
const (
	StageReading    = "reading"
	StageGradient   = "gradient"
	StageWatershed  = "watershed"
	StageRelabel    = "relabel"
	StageConnecting = "connecting components"
	StageReorder    = "change order"
)

// Reader loads a named volume.
type Reader interface {
	Read(name string) (*models.Volume, error)
}

// Library runs filters as instrumented stages reporting to one observer.
type Library struct {
	observer Observer
	log      *logging.Logger
}

// NewLibrary creates a library whose stages report to observer.
func NewLibrary(observer Observer, log *logging.Logger) *Library {
	if log == nil {
		log = logging.Nop()
	}
	return &Library{observer: observer, log: log}
}

func (l *Library) run(stage string, fn func(p *Process) error) error {
	start := time.Now()
	err := Execute(NewProcess(stage, l.observer), fn)
	fields := map[string]interface{}{
		"stage":    stage,
		"duration": time.Since(start).String(),
	}
	if err != nil {
		l.log.Debug("filters", "stage stopped", fields)
		return err
	}
	l.log.Debug("filters", "stage completed", fields)
	return nil
}

// Read loads a volume from r as a stage of its own.
func (l *Library) Read(r Reader, name string) (*models.Volume, error) {
	var out *models.Volume
	err := l.run(StageReading, func(p *Process) error {
		v, err := r.Read(name)
		out = v
		return err
	})
	return out, err
}

// GradientMagnitude computes the Gaussian-smoothed gradient magnitude of in.
func (l *Library) GradientMagnitude(in *models.Volume, sigma float64) (*models.Volume, error) {
	var out *models.Volume
	err := l.run(StageGradient, func(p *Process) error {
		v, err := gradientMagnitude(p, in, sigma)
		out = v
		return err
	})
	return out, err
}

// Watershed segments a feature image into basins.
func (l *Library) Watershed(in *models.Volume, opts WatershedOptions) (*models.Volume, error) {
	var out *models.Volume
	err := l.run(StageWatershed, func(p *Process) error {
		v, err := watershed(p, in, opts)
		out = v
		return err
	})
	return out, err
}

// RelabelComponents orders labels by size and drops regions below minSize.
func (l *Library) RelabelComponents(in *models.Volume, minSize int) (*models.Volume, []int, error) {
	var out *models.Volume
	var sizes []int
	err := l.run(StageRelabel, func(p *Process) error {
		v, s, err := relabelComponents(p, in, minSize)
		out, sizes = v, s
		return err
	})
	return out, sizes, err
}

// ConnectedComponents labels the connected non-zero regions of in and
// returns the number of components.
func (l *Library) ConnectedComponents(in *models.Volume, fullyConnected bool) (*models.Volume, int, error) {
	var out *models.Volume
	var n int
	err := l.run(StageConnecting, func(p *Process) error {
		v, count, err := connectedComponents(p, in, fullyConnected)
		out, n = v, count
		return err
	})
	return out, n, err
}

// ChangeLabels rewrites label values according to changes.
func (l *Library) ChangeLabels(in *models.Volume, changes map[int]int) (*models.Volume, error) {
	var out *models.Volume
	err := l.run(StageReorder, func(p *Process) error {
		v, err := changeLabels(p, in, changes)
		out = v
		return err
	})
	return out, err
}
