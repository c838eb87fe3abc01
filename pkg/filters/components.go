package filters

import (
	"fmt"
	"sort"

	"github.com/theodesp/unionfind"

	"wasp/internal/models"
)

// connectedComponents labels the connected regions of non-zero voxels from 1
// in raster order of their first voxel. The first pass hands out provisional
// labels and records which ones touch; the second replaces each by its root.
func connectedComponents(p *Process, in *models.Volume, fullyConnected bool) (*models.Volume, int, error) {
	if err := in.Validate(); err != nil {
		return nil, 0, err
	}
	g := newGrid(in, fullyConnected)
	slice := g.sliceSize()

	// At most one provisional label per voxel, 0 unused.
	uf := unionfind.NewThreadSafeUnionFind(g.size() + 1)
	provisional := make([]int, g.size())
	nextLabel := 1
	for i, v := range in.Data {
		if i%slice == 0 {
			if err := p.checkpoint(i/slice, 2*in.Depth); err != nil {
				return nil, 0, err
			}
		}
		if v == 0 {
			continue
		}
		label := 0
		g.before(i, func(q int) {
			prev := provisional[q]
			if prev == 0 {
				return
			}
			if label == 0 {
				label = prev
				return
			}
			if prev != label {
				uf.Union(label, prev)
			}
		})
		if label == 0 {
			label = nextLabel
			nextLabel++
		}
		provisional[i] = label
	}

	// Roots are numbered in the order their component is first met.
	out := in.WithGeometry("", true)
	final := make(map[int]int)
	for i, label := range provisional {
		if i%slice == 0 {
			if err := p.checkpoint(in.Depth+i/slice, 2*in.Depth); err != nil {
				return nil, 0, err
			}
		}
		if label == 0 {
			continue
		}
		root := uf.Root(label)
		n, ok := final[root]
		if !ok {
			n = len(final) + 1
			final[root] = n
		}
		out.Data[i] = float64(n)
	}
	return out, len(final), nil
}

type component struct {
	label int
	size  int
	first int
}

// relabelComponents renumbers labels by decreasing size so the largest
// region becomes 1. Equal sizes keep raster order of first appearance.
// Regions smaller than minSize, and label 0, become 0. sizes[i] is the voxel
// count of new label i+1.
func relabelComponents(p *Process, in *models.Volume, minSize int) (*models.Volume, []int, error) {
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}

	byLabel := make(map[int]*component)
	var order []*component
	slice := in.Width * in.Height
	for i, v := range in.Data {
		if i%slice == 0 {
			if err := p.checkpoint(i/slice, 2*in.Depth); err != nil {
				return nil, nil, err
			}
		}
		l := int(v)
		if l == 0 {
			continue
		}
		c, ok := byLabel[l]
		if !ok {
			c = &component{label: l, first: i}
			byLabel[l] = c
			order = append(order, c)
		}
		c.size++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].size > order[j].size
	})

	mapping := make(map[int]float64, len(order))
	var sizes []int
	for _, c := range order {
		if c.size < minSize {
			continue
		}
		sizes = append(sizes, c.size)
		mapping[c.label] = float64(len(sizes))
	}

	out := in.WithGeometry("", true)
	for i, v := range in.Data {
		if i%slice == 0 {
			if err := p.checkpoint(in.Depth+i/slice, 2*in.Depth); err != nil {
				return nil, nil, err
			}
		}
		out.Data[i] = mapping[int(v)]
	}
	return out, sizes, nil
}

// changeLabels substitutes label values according to changes. Labels not in
// the map are kept.
func changeLabels(p *Process, in *models.Volume, changes map[int]int) (*models.Volume, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	out := in.Clone()
	out.LabelMap = true
	slice := in.Width * in.Height
	for i, v := range in.Data {
		if i%slice == 0 {
			if err := p.checkpoint(i/slice, in.Depth); err != nil {
				return nil, err
			}
		}
		if to, ok := changes[int(v)]; ok {
			out.Data[i] = float64(to)
		}
	}
	return out, nil
}

// BinaryMask returns a volume that is 1 where in holds label and 0
// elsewhere.
func BinaryMask(in *models.Volume, label int) *models.Volume {
	out := in.WithGeometry("", true)
	for i, v := range in.Data {
		if int(v) == label {
			out.Data[i] = 1
		}
	}
	return out
}

// AddMasks adds mask into acc voxel by voxel.
func AddMasks(acc, mask *models.Volume) error {
	if !acc.SameGeometry(mask) {
		return fmt.Errorf("cannot add %dx%dx%d mask to %dx%dx%d volume",
			mask.Width, mask.Height, mask.Depth, acc.Width, acc.Height, acc.Depth)
	}
	for i, v := range mask.Data {
		acc.Data[i] += v
	}
	return nil
}
