package filters

import "wasp/internal/models"

// grid walks the voxel neighbourhood of a volume. Face connectivity uses the
// 6 axis neighbours, full connectivity all 26.
type grid struct {
	w, h, d int
	offsets [][3]int
}

func newGrid(v *models.Volume, fullyConnected bool) *grid {
	g := &grid{w: v.Width, h: v.Height, d: v.Depth}
	for dk := -1; dk <= 1; dk++ {
		for dj := -1; dj <= 1; dj++ {
			for di := -1; di <= 1; di++ {
				n := abs(di) + abs(dj) + abs(dk)
				if n == 0 || (!fullyConnected && n > 1) {
					continue
				}
				g.offsets = append(g.offsets, [3]int{di, dj, dk})
			}
		}
	}
	return g
}

func (g *grid) size() int {
	return g.w * g.h * g.d
}

func (g *grid) sliceSize() int {
	return g.w * g.h
}

// neighbors calls fn with the offset of every in-bounds neighbour of p.
func (g *grid) neighbors(p int, fn func(q int)) {
	k := p / (g.w * g.h)
	rem := p % (g.w * g.h)
	j := rem / g.w
	i := rem % g.w
	for _, o := range g.offsets {
		ni, nj, nk := i+o[0], j+o[1], k+o[2]
		if ni < 0 || ni >= g.w || nj < 0 || nj >= g.h || nk < 0 || nk >= g.d {
			continue
		}
		fn(nk*g.w*g.h + nj*g.w + ni)
	}
}

// before calls fn with every in-bounds neighbour of p that precedes it in
// raster order.
func (g *grid) before(p int, fn func(q int)) {
	g.neighbors(p, func(q int) {
		if q < p {
			fn(q)
		}
	})
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
