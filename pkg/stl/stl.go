// Package stl extracts boundary surfaces from voxel masks and writes them as
// binary STL files.
package stl

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
)

// Triangle is one STL facet.
type Triangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
}

// Mesh is an indexed triangle mesh. Faces are wound counter-clockwise when
// seen from outside.
type Mesh struct {
	Vertices [][3]float64
	Faces    [][3]int
}

// BoundaryMesh builds the closed surface around voxels whose value exceeds
// iso. Vertices sit on voxel corners in index coordinates, so a voxel at
// (i,j,k) spans i-0.5..i+0.5 on each axis. Corners are shared between
// faces.
func BoundaryMesh(data []float64, width, height, depth int, iso float64) *Mesh {
	m := &Mesh{}
	inside := func(i, j, k int) bool {
		if i < 0 || i >= width || j < 0 || j >= height || k < 0 || k >= depth {
			return false
		}
		return data[k*width*height+j*width+i] > iso
	}

	cw, ch := width+1, height+1
	corners := make(map[int]int)
	corner := func(c [3]int) int {
		key := c[2]*cw*ch + c[1]*cw + c[0]
		if idx, ok := corners[key]; ok {
			return idx
		}
		idx := len(m.Vertices)
		corners[key] = idx
		m.Vertices = append(m.Vertices, [3]float64{
			float64(c[0]) - 0.5, float64(c[1]) - 0.5, float64(c[2]) - 0.5,
		})
		return idx
	}

	for k := 0; k < depth; k++ {
		for j := 0; j < height; j++ {
			for i := 0; i < width; i++ {
				if !inside(i, j, k) {
					continue
				}
				pos := [3]int{i, j, k}
				for axis := 0; axis < 3; axis++ {
					for _, sign := range []int{-1, 1} {
						n := pos
						n[axis] += sign
						if inside(n[0], n[1], n[2]) {
							continue
						}
						m.addFace(pos, axis, sign, corner)
					}
				}
			}
		}
	}
	return m
}

// addFace emits the two triangles of the voxel face on the given side.
func (m *Mesh) addFace(pos [3]int, axis, sign int, corner func([3]int) int) {
	u, v := (axis+1)%3, (axis+2)%3
	base := pos
	if sign > 0 {
		base[axis]++
	}
	q := [4][3]int{base, base, base, base}
	q[1][u]++
	q[2][u]++
	q[2][v]++
	q[3][v]++

	idx := [4]int{corner(q[0]), corner(q[1]), corner(q[2]), corner(q[3])}
	if sign > 0 {
		m.Faces = append(m.Faces, [3]int{idx[0], idx[1], idx[2]}, [3]int{idx[0], idx[2], idx[3]})
	} else {
		m.Faces = append(m.Faces, [3]int{idx[0], idx[2], idx[1]}, [3]int{idx[0], idx[3], idx[2]})
	}
}

// SetScale multiplies every vertex coordinate by the per-axis factors.
func (m *Mesh) SetScale(x, y, z float64) {
	for i := range m.Vertices {
		m.Vertices[i][0] *= x
		m.Vertices[i][1] *= y
		m.Vertices[i][2] *= z
	}
}

// Transform maps every vertex through fn.
func (m *Mesh) Transform(fn func(p [3]float64) [3]float64) {
	for i, p := range m.Vertices {
		m.Vertices[i] = fn(p)
	}
}

// Neighbors returns the vertex adjacency of the mesh.
func (m *Mesh) Neighbors() [][]int {
	sets := make([]map[int]struct{}, len(m.Vertices))
	link := func(a, b int) {
		if sets[a] == nil {
			sets[a] = make(map[int]struct{})
		}
		sets[a][b] = struct{}{}
	}
	for _, f := range m.Faces {
		for e := 0; e < 3; e++ {
			a, b := f[e], f[(e+1)%3]
			link(a, b)
			link(b, a)
		}
	}
	out := make([][]int, len(m.Vertices))
	for i, s := range sets {
		for n := range s {
			out[i] = append(out[i], n)
		}
	}
	return out
}

// Triangles converts the mesh to STL facets with unit face normals.
// Degenerate faces are skipped.
func (m *Mesh) Triangles() []Triangle {
	out := make([]Triangle, 0, len(m.Faces))
	for _, f := range m.Faces {
		a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
		n := cross(sub(b, a), sub(c, a))
		l := math.Sqrt(n[0]*n[0] + n[1]*n[1] + n[2]*n[2])
		if l == 0 {
			continue
		}
		out = append(out, Triangle{
			Normal:  toFloat32([3]float64{n[0] / l, n[1] / l, n[2] / l}),
			Vertex1: toFloat32(a),
			Vertex2: toFloat32(b),
			Vertex3: toFloat32(c),
		})
	}
	return out
}

func sub(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func toFloat32(v [3]float64) [3]float32 {
	return [3]float32{float32(v[0]), float32(v[1]), float32(v[2])}
}

// WriteSTL encodes triangles as binary STL. name fills the 80 byte header.
func WriteSTL(w io.Writer, name string, triangles []Triangle) error {
	bw := bufio.NewWriter(w)

	var header [80]byte
	copy(header[:], name)
	if _, err := bw.Write(header[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(triangles))); err != nil {
		return err
	}

	var rec [50]byte
	for _, t := range triangles {
		off := 0
		for _, v := range [4][3]float32{t.Normal, t.Vertex1, t.Vertex2, t.Vertex3} {
			for _, c := range v {
				binary.LittleEndian.PutUint32(rec[off:], math.Float32bits(c))
				off += 4
			}
		}
		// Trailing attribute byte count stays zero.
		if _, err := bw.Write(rec[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// SaveToSTL writes triangles to a binary STL file at path.
func SaveToSTL(path string, triangles []Triangle) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating stl file")
	}
	if err := WriteSTL(f, "wasp binary STL", triangles); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	return f.Close()
}
