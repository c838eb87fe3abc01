package volume

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"wasp/internal/models"
)

// indexAffine returns the 3x3 IJK to RAS matrix: direction cosines scaled by
// spacing along each axis.
func indexAffine(vol *models.Volume) *mat.Dense {
	spacing := [3]float64{vol.Spacing.X, vol.Spacing.Y, vol.Spacing.Z}
	m := mat.NewDense(3, 3, nil)
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			m.Set(row, col, vol.Directions[row][col]*spacing[col])
		}
	}
	return m
}

// Determinant returns the determinant of the index to world matrix. It is
// negative when the axes form a left-handed frame.
func Determinant(vol *models.Volume) float64 {
	return mat.Det(indexAffine(vol))
}

// IndexToWorld returns the world position of a voxel.
func IndexToWorld(vol *models.Volume, idx models.Index3) models.Point3 {
	return ContinuousIndexToWorld(vol, [3]float64{float64(idx.I), float64(idx.J), float64(idx.K)})
}

// ContinuousIndexToWorld maps a fractional index position to world space.
func ContinuousIndexToWorld(vol *models.Volume, ijk [3]float64) models.Point3 {
	var out mat.VecDense
	out.MulVec(indexAffine(vol), mat.NewVecDense(3, ijk[:]))
	return models.Point3{
		X: out.AtVec(0) + vol.Origin.X,
		Y: out.AtVec(1) + vol.Origin.Y,
		Z: out.AtVec(2) + vol.Origin.Z,
	}
}

// WorldToIndex resolves a world coordinate to the voxel containing it.
// Continuous indices are truncated toward zero; a result outside the volume
// is an error.
func WorldToIndex(vol *models.Volume, p models.Point3) (models.Index3, error) {
	var inv mat.Dense
	if err := inv.Inverse(indexAffine(vol)); err != nil {
		return models.Index3{}, errors.Wrapf(err, "volume %q has a singular index transform", vol.Name)
	}

	var ijk mat.VecDense
	ijk.MulVec(&inv, mat.NewVecDense(3, []float64{
		p.X - vol.Origin.X,
		p.Y - vol.Origin.Y,
		p.Z - vol.Origin.Z,
	}))

	var c [3]int
	for i := range c {
		x := ijk.AtVec(i)
		// Absorb round-off from the inverse so exact voxel positions stay put.
		if r := math.Round(x); math.Abs(x-r) < 1e-6 {
			x = r
		}
		c[i] = int(x)
	}
	idx := models.Index3{I: c[0], J: c[1], K: c[2]}
	if !vol.Contains(idx) {
		return idx, fmt.Errorf("point (%g, %g, %g) maps to %s outside volume %q",
			p.X, p.Y, p.Z, idx, vol.Name)
	}
	return idx, nil
}
