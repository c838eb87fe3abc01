package filters

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"wasp/internal/models"
)

// gaussianKernels returns the smoothing and first-derivative kernels for a
// Gaussian of the given standard deviation in voxels. Both are applied as
// correlations over offsets -radius..radius.
func gaussianKernels(sigma float64) (smooth, deriv []float64) {
	radius := int(math.Ceil(4 * sigma))
	if radius < 1 {
		radius = 1
	}
	n := 2*radius + 1
	offsets := make([]float64, n)
	smooth = make([]float64, n)
	for t := -radius; t <= radius; t++ {
		x := float64(t)
		offsets[t+radius] = x
		smooth[t+radius] = math.Exp(-x * x / (2 * sigma * sigma))
	}
	floats.Scale(1/floats.Sum(smooth), smooth)

	// Scaled so a unit ramp has derivative exactly one.
	deriv = make([]float64, n)
	floats.MulTo(deriv, offsets, smooth)
	floats.Scale(1/floats.Dot(offsets, deriv), deriv)
	return smooth, deriv
}

// correlateAxis filters src along one axis into dst, replicating edge voxels.
func correlateAxis(p *Process, g *grid, src, dst []float64, axis int, kernel []float64, done *int, total int) error {
	radius := len(kernel) / 2
	dims := [3]int{g.w, g.h, g.d}
	strides := [3]int{1, g.w, g.w * g.h}
	n := dims[axis]
	stride := strides[axis]

	for k := 0; k < g.d; k++ {
		for j := 0; j < g.h; j++ {
			for i := 0; i < g.w; i++ {
				pos := [3]int{i, j, k}[axis]
				off := k*strides[2] + j*strides[1] + i
				var sum float64
				for t := -radius; t <= radius; t++ {
					c := pos + t
					if c < 0 {
						c = 0
					} else if c >= n {
						c = n - 1
					}
					sum += src[off+(c-pos)*stride] * kernel[t+radius]
				}
				dst[off] = sum
			}
		}
		*done++
		if err := p.checkpoint(*done, total); err != nil {
			return err
		}
	}
	return nil
}

// gradientMagnitude computes the magnitude of the gradient of the input
// smoothed by a Gaussian of sigma millimetres. Derivatives are taken in
// physical units.
func gradientMagnitude(p *Process, in *models.Volume, sigma float64) (*models.Volume, error) {
	if sigma <= 0 {
		return nil, fmt.Errorf("gradient sigma must be positive, got %g", sigma)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	g := newGrid(in, false)
	dims := [3]int{in.Width, in.Height, in.Depth}
	spacing := [3]float64{in.Spacing.X, in.Spacing.Y, in.Spacing.Z}
	for a := range spacing {
		if spacing[a] <= 0 {
			spacing[a] = 1
		}
	}

	var axes []int
	for a := 0; a < 3; a++ {
		if dims[a] > 1 {
			axes = append(axes, a)
		}
	}

	out := in.WithGeometry("", false)
	total := len(axes) * len(axes) * in.Depth
	done := 0

	bufA := make([]float64, g.size())
	bufB := make([]float64, g.size())
	for _, a := range axes {
		copy(bufA, in.Data)
		for _, b := range axes {
			smooth, deriv := gaussianKernels(sigma / spacing[b])
			kernel := smooth
			if b == a {
				kernel = deriv
			}
			if err := correlateAxis(p, g, bufA, bufB, b, kernel, &done, total); err != nil {
				return nil, err
			}
			bufA, bufB = bufB, bufA
		}
		scale := 1 / spacing[a]
		for i, v := range bufA {
			d := v * scale
			out.Data[i] += d * d
		}
	}
	for i, v := range out.Data {
		out.Data[i] = math.Sqrt(v)
	}
	return out, nil
}
