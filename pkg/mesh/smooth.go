package mesh

import (
	"math"

	"wasp/pkg/stl"
)

// Taubin pass band factors. The negative step undoes the shrinkage of the
// positive one.
const (
	taubinLambda = 0.33
	taubinMu     = -0.34

	laplaceFactor = 0.1
)

// relax moves every vertex by factor towards the centroid of its
// neighbours.
func relax(m *stl.Mesh, neighbors [][]int, factor float64, scratch [][3]float64) {
	for i, nbrs := range neighbors {
		p := m.Vertices[i]
		if len(nbrs) == 0 {
			scratch[i] = p
			continue
		}
		var c [3]float64
		for _, n := range nbrs {
			q := m.Vertices[n]
			c[0] += q[0]
			c[1] += q[1]
			c[2] += q[2]
		}
		inv := 1 / float64(len(nbrs))
		for a := 0; a < 3; a++ {
			scratch[i][a] = p[a] + factor*(c[a]*inv-p[a])
		}
	}
	copy(m.Vertices, scratch)
}

// Smooth runs iterations of the named filter over the mesh in place. "Sinc"
// uses Taubin's non-shrinking lambda/mu smoothing, "Laplace" plain
// Laplacian relaxation.
func Smooth(m *stl.Mesh, filter string, iterations int) {
	if iterations <= 0 || len(m.Vertices) == 0 {
		return
	}
	neighbors := m.Neighbors()
	scratch := make([][3]float64, len(m.Vertices))
	for it := 0; it < iterations; it++ {
		if filter == FilterLaplace {
			relax(m, neighbors, laplaceFactor, scratch)
			continue
		}
		relax(m, neighbors, taubinLambda, scratch)
		relax(m, neighbors, taubinMu, scratch)
	}
}

// Decimate reduces the triangle count by roughly the given fraction by
// clustering vertices on a regular grid. Faces that collapse are dropped.
func Decimate(m *stl.Mesh, fraction float64) *stl.Mesh {
	if fraction <= 0 || len(m.Faces) == 0 {
		return m
	}

	// Triangle count scales with the inverse square of the cell size.
	cell := meanEdgeLength(m) / math.Sqrt(1-fraction)
	if cell == 0 {
		return m
	}

	type key [3]int64
	clusters := make(map[key]int)
	var sums [][3]float64
	var counts []int
	remap := make([]int, len(m.Vertices))
	for i, p := range m.Vertices {
		k := key{
			int64(math.Floor(p[0] / cell)),
			int64(math.Floor(p[1] / cell)),
			int64(math.Floor(p[2] / cell)),
		}
		idx, ok := clusters[k]
		if !ok {
			idx = len(sums)
			clusters[k] = idx
			sums = append(sums, [3]float64{})
			counts = append(counts, 0)
		}
		sums[idx][0] += p[0]
		sums[idx][1] += p[1]
		sums[idx][2] += p[2]
		counts[idx]++
		remap[i] = idx
	}

	out := &stl.Mesh{Vertices: make([][3]float64, len(sums))}
	for i, s := range sums {
		n := float64(counts[i])
		out.Vertices[i] = [3]float64{s[0] / n, s[1] / n, s[2] / n}
	}

	seen := make(map[[3]int]bool)
	for _, f := range m.Faces {
		a, b, c := remap[f[0]], remap[f[1]], remap[f[2]]
		if a == b || b == c || a == c {
			continue
		}
		canon := canonicalFace(a, b, c)
		if seen[canon] {
			continue
		}
		seen[canon] = true
		out.Faces = append(out.Faces, [3]int{a, b, c})
	}
	return out
}

// canonicalFace rotates a face so its smallest index comes first, keeping
// the winding.
func canonicalFace(a, b, c int) [3]int {
	switch {
	case a <= b && a <= c:
		return [3]int{a, b, c}
	case b <= a && b <= c:
		return [3]int{b, c, a}
	}
	return [3]int{c, a, b}
}

func meanEdgeLength(m *stl.Mesh) float64 {
	var total float64
	var n int
	for _, f := range m.Faces {
		for e := 0; e < 3; e++ {
			p, q := m.Vertices[f[e]], m.Vertices[f[(e+1)%3]]
			d := [3]float64{p[0] - q[0], p[1] - q[1], p[2] - q[2]}
			total += math.Sqrt(d[0]*d[0] + d[1]*d[1] + d[2]*d[2])
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}
