package filters

import (
	"container/heap"
	"fmt"

	"wasp/internal/models"
)

// WatershedOptions configures the morphological watershed.
type WatershedOptions struct {
	// Level suppresses minima shallower than this depth
	Level float64

	// MarkLine separates basins with a one voxel line of label 0
	MarkLine bool

	// FullyConnected uses 26-connectivity instead of 6
	FullyConnected bool
}

type queued struct {
	value float64
	seq   int
	index int
}

// floodQueue is a min-heap on value, FIFO among equal values.
type floodQueue []queued

func (q floodQueue) Len() int { return len(q) }
func (q floodQueue) Less(i, j int) bool {
	if q[i].value != q[j].value {
		return q[i].value < q[j].value
	}
	return q[i].seq < q[j].seq
}
func (q floodQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *floodQueue) Push(x interface{}) { *q = append(*q, x.(queued)) }
func (q *floodQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

type flooder struct {
	q   floodQueue
	seq int
}

func (f *flooder) push(value float64, index int) {
	heap.Push(&f.q, queued{value: value, seq: f.seq, index: index})
	f.seq++
}

func (f *flooder) pop() queued {
	return heap.Pop(&f.q).(queued)
}

// reconstructByErosion returns the h-minima transform of data: every minimum
// shallower than level is filled. It is the geodesic reconstruction by
// erosion of data+level above data.
func reconstructByErosion(p *Process, g *grid, data []float64, level float64, done *int, total int) ([]float64, error) {
	r := make([]float64, len(data))
	f := &flooder{q: make(floodQueue, 0, len(data))}
	for i, v := range data {
		r[i] = v + level
		f.push(r[i], i)
	}

	step := g.sliceSize()
	for popped := 0; f.q.Len() > 0; popped++ {
		it := f.pop()
		if it.value != r[it.index] {
			continue
		}
		g.neighbors(it.index, func(q int) {
			cand := r[it.index]
			if data[q] > cand {
				cand = data[q]
			}
			if cand < r[q] {
				r[q] = cand
				f.push(cand, q)
			}
		})
		if popped%step == 0 {
			*done++
			if err := p.checkpoint(*done, total); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

// regionalMinima labels every plateau with no strictly lower neighbour,
// numbering them from 1 in raster order of their first voxel.
func regionalMinima(g *grid, data []float64) ([]int32, int) {
	labels := make([]int32, len(data))
	visited := make([]bool, len(data))
	var plateau, stack []int
	next := int32(0)

	for start := range data {
		if visited[start] {
			continue
		}
		value := data[start]
		minimum := true
		plateau = plateau[:0]
		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			plateau = append(plateau, cur)
			g.neighbors(cur, func(q int) {
				switch {
				case data[q] < value:
					minimum = false
				case data[q] == value && !visited[q]:
					visited[q] = true
					stack = append(stack, q)
				}
			})
		}
		if minimum {
			next++
			for _, idx := range plateau {
				labels[idx] = next
			}
		}
	}
	return labels, int(next)
}

// watershed floods data from its regional minima (after h-minima filtering
// at opts.Level) and returns a label volume. With MarkLine, voxels reached by
// two different basins get label 0 and do not propagate.
func watershed(p *Process, in *models.Volume, opts WatershedOptions) (*models.Volume, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if opts.Level < 0 {
		return nil, fmt.Errorf("watershed level must not be negative, got %g", opts.Level)
	}

	g := newGrid(in, opts.FullyConnected)
	data := in.Data
	total := 3 * in.Depth
	done := 0

	filtered := data
	if opts.Level > 0 {
		var err error
		filtered, err = reconstructByErosion(p, g, data, opts.Level, &done, total)
		if err != nil {
			return nil, err
		}
	}
	done = in.Depth
	if err := p.checkpoint(done, total); err != nil {
		return nil, err
	}

	markers, _ := regionalMinima(g, filtered)
	done = 2 * in.Depth
	if err := p.checkpoint(done, total); err != nil {
		return nil, err
	}

	const unlabeled = -1
	labels := make([]int32, len(data))
	queuedAt := make([]bool, len(data))
	f := &flooder{q: make(floodQueue, 0, g.sliceSize())}
	for i := range labels {
		labels[i] = unlabeled
		if markers[i] > 0 {
			labels[i] = markers[i]
		}
	}
	for i := range labels {
		if labels[i] <= 0 {
			continue
		}
		g.neighbors(i, func(q int) {
			if labels[q] == unlabeled && !queuedAt[q] {
				queuedAt[q] = true
				f.push(data[q], q)
			}
		})
	}

	step := g.sliceSize()
	for popped := 0; f.q.Len() > 0; popped++ {
		it := f.pop()
		label := int32(unlabeled)
		line := false
		g.neighbors(it.index, func(q int) {
			l := labels[q]
			if l <= 0 {
				return
			}
			if label == unlabeled {
				label = l
			} else if l != label {
				line = true
			}
		})

		if line && opts.MarkLine {
			labels[it.index] = models.BoundaryLabel
		} else {
			labels[it.index] = label
			g.neighbors(it.index, func(q int) {
				if labels[q] == unlabeled && !queuedAt[q] {
					queuedAt[q] = true
					f.push(data[q], q)
				}
			})
		}

		if popped%step == 0 {
			if err := p.checkpoint(done+popped/step, total); err != nil {
				return nil, err
			}
		}
	}

	out := in.WithGeometry("", true)
	for i, l := range labels {
		if l > 0 {
			out.Data[i] = float64(l)
		}
	}
	return out, nil
}
