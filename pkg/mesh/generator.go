// Package mesh generates per-label surface models from a label volume.
// Generation runs in the background and reports a status string that
// observers can watch for completion.
package mesh

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"wasp/internal/models"
	"wasp/pkg/colortable"
	"wasp/pkg/logging"
	"wasp/pkg/stl"
	"wasp/pkg/volume"
)

// Smoothing filters.
const (
	FilterSinc    = "Sinc"
	FilterLaplace = "Laplace"
)

// Generation states.
const (
	StatusIdle                = "Idle"
	StatusScheduled           = "Scheduled"
	StatusRunning             = "Running"
	StatusCompleted           = "Completed"
	StatusCompletedWithErrors = "Completed with errors"
)

// Params controls model generation.
type Params struct {
	FilterType     string  `yaml:"filterType" toml:"filter_type"`
	Decimate       float64 `yaml:"decimate" toml:"decimate"`
	Smooth         int     `yaml:"smooth" toml:"smooth"`
	SplitNormals   bool    `yaml:"splitNormals" toml:"split_normals"`
	PointNormals   bool    `yaml:"pointNormals" toml:"point_normals"`
	GenerateAll    bool    `yaml:"generateAll" toml:"generate_all"`
	SkipUnNamed    bool    `yaml:"skipUnNamed" toml:"skip_unnamed"`
	JointSmoothing bool    `yaml:"jointSmoothing" toml:"joint_smoothing"`
}

// DefaultParams returns the settings models are generated with after a
// merge.
func DefaultParams() Params {
	return Params{
		FilterType:     FilterSinc,
		Decimate:       0.25,
		Smooth:         65,
		SplitNormals:   true,
		PointNormals:   true,
		GenerateAll:    true,
		SkipUnNamed:    true,
		JointSmoothing: false,
	}
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if p.FilterType != FilterSinc && p.FilterType != FilterLaplace {
		return fmt.Errorf("unknown smoothing filter %q", p.FilterType)
	}
	if p.Decimate < 0 || p.Decimate >= 1 {
		return fmt.Errorf("decimate must be in [0,1), got %g", p.Decimate)
	}
	if p.Smooth < 0 {
		return fmt.Errorf("smooth must not be negative, got %d", p.Smooth)
	}
	return nil
}

// Observer is told about every status change. It runs on the generator's
// goroutine.
type Observer func(status string)

// Generator builds STL models in the background.
type Generator struct {
	params Params
	log    *logging.Logger

	mu        sync.Mutex
	status    string
	observers []Observer
	files     []string
	err       error
	done      chan struct{}
}

// NewGenerator creates an idle generator.
func NewGenerator(params Params, log *logging.Logger) *Generator {
	if log == nil {
		log = logging.Nop()
	}
	return &Generator{params: params, log: log, status: StatusIdle}
}

// AddObserver registers fn for status changes.
func (g *Generator) AddObserver(fn Observer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observers = append(g.observers, fn)
}

// Status returns the current status string.
func (g *Generator) Status() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

func (g *Generator) setStatus(status string) {
	g.mu.Lock()
	g.status = status
	observers := append([]Observer(nil), g.observers...)
	g.mu.Unlock()

	for _, fn := range observers {
		fn(status)
	}
}

// Start schedules model generation for vol and returns immediately. Models
// are written to outDir as one STL file per label, named from table.
func (g *Generator) Start(vol *models.Volume, table *colortable.Table, outDir string) error {
	if err := g.params.Validate(); err != nil {
		return err
	}
	if !vol.LabelMap {
		return fmt.Errorf("volume %q is not a label map", vol.Name)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return errors.Wrap(err, "creating model directory")
	}

	g.mu.Lock()
	if g.done != nil {
		select {
		case <-g.done:
		default:
			g.mu.Unlock()
			return errors.New("model generation already running")
		}
	}
	done := make(chan struct{})
	g.done = done
	g.files = nil
	g.err = nil
	g.mu.Unlock()

	g.setStatus(StatusScheduled)
	go func() {
		defer close(done)
		g.run(vol, table, outDir)
	}()
	return nil
}

// Wait blocks until the current generation finishes and returns the files
// written.
func (g *Generator) Wait() ([]string, error) {
	g.mu.Lock()
	done := g.done
	g.mu.Unlock()
	if done != nil {
		<-done
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	files := append([]string(nil), g.files...)
	sort.Strings(files)
	return files, g.err
}

type bounds struct {
	min, max [3]int
}

func (g *Generator) run(vol *models.Volume, table *colortable.Table, outDir string) {
	g.setStatus(StatusRunning)
	start := time.Now()

	if g.params.JointSmoothing {
		g.log.Warning("mesh", "joint smoothing is not supported, smoothing labels separately", nil)
	}

	labels := g.selectLabels(vol, table)
	g.log.Info("mesh", "generating models", map[string]interface{}{
		"volume": vol.Name,
		"labels": len(labels),
		"filter": g.params.FilterType,
	})

	var eg errgroup.Group
	eg.SetLimit(runtime.GOMAXPROCS(0))
	var mu sync.Mutex
	var failures []string
	for label, box := range labels {
		eg.Go(func() error {
			name := modelName(label, table)
			path := filepath.Join(outDir, name+".stl")
			if err := g.buildModel(vol, label, box, path); err != nil {
				mu.Lock()
				failures = append(failures, name)
				mu.Unlock()
				return errors.Wrapf(err, "model %s", name)
			}
			mu.Lock()
			g.files = append(g.files, path)
			mu.Unlock()
			return nil
		})
	}
	err := eg.Wait()

	g.mu.Lock()
	g.err = err
	g.mu.Unlock()

	fields := map[string]interface{}{
		"volume":   vol.Name,
		"models":   len(labels) - len(failures),
		"duration": time.Since(start).String(),
	}
	if err != nil {
		fields["failed"] = failures
		g.log.Error("mesh", err, fields)
		g.setStatus(StatusCompletedWithErrors)
		return
	}
	g.log.Info("mesh", "models generated", fields)
	g.setStatus(StatusCompleted)
}

// selectLabels returns the bounding box of every label to model.
func (g *Generator) selectLabels(vol *models.Volume, table *colortable.Table) map[int]*bounds {
	labels := make(map[int]*bounds)
	for k := 0; k < vol.Depth; k++ {
		for j := 0; j < vol.Height; j++ {
			for i := 0; i < vol.Width; i++ {
				l := int(vol.Data[vol.Index(i, j, k)])
				if l <= 0 {
					continue
				}
				b, ok := labels[l]
				if !ok {
					b = &bounds{min: [3]int{i, j, k}, max: [3]int{i, j, k}}
					labels[l] = b
				}
				for a, c := range [3]int{i, j, k} {
					if c < b.min[a] {
						b.min[a] = c
					}
					if c > b.max[a] {
						b.max[a] = c
					}
				}
			}
		}
	}

	for l := range labels {
		_, named := lookup(table, l)
		if !named && (g.params.SkipUnNamed || !g.params.GenerateAll) {
			delete(labels, l)
		}
	}
	return labels
}

func (g *Generator) buildModel(vol *models.Volume, label int, box *bounds, path string) error {
	w := box.max[0] - box.min[0] + 1
	h := box.max[1] - box.min[1] + 1
	d := box.max[2] - box.min[2] + 1
	mask := make([]float64, w*h*d)
	for k := 0; k < d; k++ {
		for j := 0; j < h; j++ {
			for i := 0; i < w; i++ {
				v := vol.Data[vol.Index(box.min[0]+i, box.min[1]+j, box.min[2]+k)]
				if int(v) == label {
					mask[k*w*h+j*w+i] = 1
				}
			}
		}
	}

	m := stl.BoundaryMesh(mask, w, h, d, 0.5)
	Smooth(m, g.params.FilterType, g.params.Smooth)
	m = Decimate(m, g.params.Decimate)

	offset := [3]float64{float64(box.min[0]), float64(box.min[1]), float64(box.min[2])}
	m.Transform(func(p [3]float64) [3]float64 {
		w := volume.ContinuousIndexToWorld(vol, [3]float64{p[0] + offset[0], p[1] + offset[1], p[2] + offset[2]})
		return [3]float64{w.X, w.Y, w.Z}
	})

	if volume.Determinant(vol) < 0 {
		for i, f := range m.Faces {
			m.Faces[i] = [3]int{f[0], f[2], f[1]}
		}
	}

	triangles := m.Triangles()
	if len(triangles) == 0 {
		return fmt.Errorf("label %d produced an empty surface", label)
	}
	return stl.SaveToSTL(path, triangles)
}

func lookup(table *colortable.Table, label int) (colortable.Entry, bool) {
	if table == nil {
		return colortable.Entry{}, false
	}
	return table.Lookup(label)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// modelName is the file stem for a label: its table name when it has one.
func modelName(label int, table *colortable.Table) string {
	if e, ok := lookup(table, label); ok {
		if name := strings.Trim(unsafeChars.ReplaceAllString(e.Name, "_"), "_."); name != "" {
			return name
		}
	}
	return fmt.Sprintf("label_%d", label)
}
