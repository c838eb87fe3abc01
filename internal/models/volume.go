package models

import (
	"fmt"
)

// Reserved component labels produced by the watershed stage.
const (
	// BoundaryLabel marks voxels on a watershed line.
	BoundaryLabel = 0

	// BackgroundLabel is the largest region after relabelling, which for a
	// watershed result is the background.
	BackgroundLabel = 1
)

// Point3 is a world (RAS) coordinate in millimetres.
type Point3 struct {
	X, Y, Z float64
}

// Index3 is a discrete voxel index into a volume.
type Index3 struct {
	I, J, K int
}

func (idx Index3) String() string {
	return fmt.Sprintf("(%d,%d,%d)", idx.I, idx.J, idx.K)
}

// Volume represents a named 3D scalar or label image
type Volume struct {
	// Name is the session-unique key the volume is addressed by
	Name string

	// Data is the 3D volume data as a 1D array in row-major order
	Data []float64

	// Width is the width of the volume in voxels
	Width int

	// Height is the height of the volume in voxels
	Height int

	// Depth is the depth of the volume in voxels
	Depth int

	// Spacing is the physical size of each voxel in mm
	Spacing Point3

	// Origin is the world position of voxel (0,0,0)
	Origin Point3

	// Directions holds the IJK axis direction cosines as columns
	Directions [3][3]float64

	// LabelMap is set when voxel values are region identifiers
	LabelMap bool
}

// NewVolume allocates a zero-filled volume with unit spacing and identity
// directions.
func NewVolume(name string, width, height, depth int) *Volume {
	return &Volume{
		Name:       name,
		Data:       make([]float64, width*height*depth),
		Width:      width,
		Height:     height,
		Depth:      depth,
		Spacing:    Point3{1, 1, 1},
		Directions: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
	}
}

// NumVoxels returns the number of voxels in the volume
func (v *Volume) NumVoxels() int {
	return v.Width * v.Height * v.Depth
}

// Index converts voxel coordinates to an offset into Data
func (v *Volume) Index(i, j, k int) int {
	return k*v.Width*v.Height + j*v.Width + i
}

// Contains reports whether idx lies inside the volume
func (v *Volume) Contains(idx Index3) bool {
	return idx.I >= 0 && idx.I < v.Width &&
		idx.J >= 0 && idx.J < v.Height &&
		idx.K >= 0 && idx.K < v.Depth
}

// At returns the voxel value at idx. The caller must check Contains.
func (v *Volume) At(idx Index3) float64 {
	return v.Data[v.Index(idx.I, idx.J, idx.K)]
}

// Set stores a voxel value at idx.
func (v *Volume) Set(idx Index3, value float64) {
	v.Data[v.Index(idx.I, idx.J, idx.K)] = value
}

// Label returns the component label at idx.
func (v *Volume) Label(idx Index3) int {
	return int(v.At(idx))
}

// Validate checks that the data length matches the dimensions.
func (v *Volume) Validate() error {
	if v.Width <= 0 || v.Height <= 0 || v.Depth <= 0 {
		return fmt.Errorf("volume %q has invalid dimensions %dx%dx%d", v.Name, v.Width, v.Height, v.Depth)
	}
	if len(v.Data) != v.NumVoxels() {
		return fmt.Errorf("volume %q has %d voxels, expected %d", v.Name, len(v.Data), v.NumVoxels())
	}
	return nil
}

// Clone returns a deep copy of the volume
func (v *Volume) Clone() *Volume {
	out := *v
	out.Data = make([]float64, len(v.Data))
	copy(out.Data, v.Data)
	return &out
}

// WithGeometry returns a new zero-filled volume that shares this volume's
// dimensions and physical placement.
func (v *Volume) WithGeometry(name string, labelMap bool) *Volume {
	out := *v
	out.Name = name
	out.LabelMap = labelMap
	out.Data = make([]float64, len(v.Data))
	return &out
}

// SameGeometry reports whether two volumes have identical voxel grids.
func (v *Volume) SameGeometry(o *Volume) bool {
	return v.Width == o.Width && v.Height == o.Height && v.Depth == o.Depth
}
