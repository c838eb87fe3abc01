// Package visualization renders preview slices of scalar and label volumes.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"

	"wasp/internal/models"
	"wasp/pkg/colortable"
)

// Viewer extracts 2D slices from a volume. Label maps are drawn with their
// color table, everything else in grayscale scaled to the volume's range.
type Viewer struct {
	vol   *models.Volume
	table *colortable.Table

	// intensity window of scalar volumes
	min, max float64
}

// NewViewer creates a viewer for vol. table may be nil; labels without an
// entry get their generated color.
func NewViewer(vol *models.Volume, table *colortable.Table) *Viewer {
	v := &Viewer{vol: vol, table: table}
	if !vol.LabelMap && len(vol.Data) > 0 {
		v.min = floats.Min(vol.Data)
		v.max = floats.Max(vol.Data)
	}
	return v
}

// pixel maps one voxel value to a color.
func (v *Viewer) pixel(value float64) color.Color {
	if v.vol.LabelMap {
		label := int(value)
		if label == models.BoundaryLabel {
			return color.RGBA{A: 255}
		}
		c := colortable.ColorFor(label)
		if v.table != nil {
			if e, ok := v.table.Lookup(label); ok {
				c = e.Color
			}
		}
		r, g, b := c.Clamped().RGB255()
		return color.RGBA{R: r, G: g, B: b, A: 255}
	}

	if v.max <= v.min {
		return color.Gray16{}
	}
	scaled := (value - v.min) / (v.max - v.min) * 65535
	return color.Gray16{Y: uint16(scaled)}
}

// newImage allocates the image type that matches the volume kind.
func (v *Viewer) newImage(w, h int) canvas {
	r := image.Rect(0, 0, w, h)
	if v.vol.LabelMap {
		return image.NewRGBA(r)
	}
	return image.NewGray16(r)
}

type canvas interface {
	image.Image
	Set(x, y int, c color.Color)
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	vol := v.vol

	var img canvas
	switch axis {
	case "x", "X":
		// YZ plane
		if position >= vol.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, vol.Width)
		}
		img = v.newImage(vol.Depth, vol.Height)
		for y := 0; y < vol.Height; y++ {
			for z := 0; z < vol.Depth; z++ {
				img.Set(z, y, v.pixel(vol.Data[vol.Index(position, y, z)]))
			}
		}

	case "y", "Y":
		// XZ plane
		if position >= vol.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, vol.Height)
		}
		img = v.newImage(vol.Width, vol.Depth)
		for z := 0; z < vol.Depth; z++ {
			for x := 0; x < vol.Width; x++ {
				img.Set(x, z, v.pixel(vol.Data[vol.Index(x, position, z)]))
			}
		}

	case "z", "Z":
		// XY plane
		if position >= vol.Depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, vol.Depth)
		}
		img = v.newImage(vol.Width, vol.Height)
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				img.Set(x, y, v.pixel(vol.Data[vol.Index(x, y, position)]))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a PNG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.vol.Width
	case "y", "Y":
		maxPos = v.vol.Height
	case "z", "Z":
		maxPos = v.vol.Depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// SaveMiddleSlice writes the central z slice of the volume to
// dir/<volume name>.png and returns the path.
func (v *Viewer) SaveMiddleSlice(dir string) (string, error) {
	img, err := v.ExtractSlice("z", v.vol.Depth/2)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, v.vol.Name+".png")
	return path, v.SaveSlice(img, path)
}
