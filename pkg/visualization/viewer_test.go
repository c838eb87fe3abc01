package visualization

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"wasp/internal/models"
	"wasp/pkg/colortable"
)

// testVolume fills a scalar volume where each z slice has its own value.
func testVolume(width, height, depth int) *models.Volume {
	vol := models.NewVolume("ct", width, height, depth)
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				vol.Data[vol.Index(x, y, z)] = float64(z) / float64(depth-1)
			}
		}
	}
	return vol
}

// TestExtractSlice verifies slice dimensions and grayscale scaling
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 8, 5
	viewer := NewViewer(testVolume(width, height, depth), nil)

	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}

		bounds := img.Bounds()
		if bounds.Dx() != width || bounds.Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d",
				width, height, bounds.Dx(), bounds.Dy())
		}

		gray, ok := img.(*image.Gray16)
		if !ok {
			t.Fatalf("Expected *image.Gray16, got %T", img)
		}
		want := uint16(float64(z) / float64(depth-1) * 65535)
		if got := gray.Gray16At(width/2, height/2).Y; got != want {
			t.Errorf("Expected Z slice value %d at center, got %d", want, got)
		}
	}

	tests := []struct {
		axis   string
		pos    int
		dx, dy int
	}{
		{"x", width / 2, depth, height},
		{"Y", height / 2, width, depth},
	}
	for _, tt := range tests {
		img, err := viewer.ExtractSlice(tt.axis, tt.pos)
		if err != nil {
			t.Fatalf("Failed to extract %s slice: %v", tt.axis, err)
		}
		if b := img.Bounds(); b.Dx() != tt.dx || b.Dy() != tt.dy {
			t.Errorf("Expected %s slice dimensions %dx%d, got %dx%d", tt.axis, tt.dx, tt.dy, b.Dx(), b.Dy())
		}
	}

	if _, err := viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := viewer.ExtractSlice("z", depth); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
	if _, err := viewer.ExtractSlice("z", -1); err == nil {
		t.Error("Expected error for negative position, got nil")
	}
}

func TestConstantVolumeIsBlack(t *testing.T) {
	vol := models.NewVolume("flat", 3, 3, 1)
	for i := range vol.Data {
		vol.Data[i] = 7
	}
	img, err := NewViewer(vol, nil).ExtractSlice("z", 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.(*image.Gray16).Gray16At(1, 1).Y; got != 0 {
		t.Errorf("Expected black, got %d", got)
	}
}

// TestLabelColors verifies label maps use the color table
func TestLabelColors(t *testing.T) {
	vol := models.NewVolume("merged", 3, 1, 1)
	vol.LabelMap = true
	copy(vol.Data, []float64{0, 1, 2})
	table := colortable.FromDictionary("WASP_labels", models.LabelDictionary{"liver": 1})

	img, err := NewViewer(vol, table).ExtractSlice("z", 0)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}
	rgba, ok := img.(*image.RGBA)
	if !ok {
		t.Fatalf("Expected *image.RGBA, got %T", img)
	}

	if c := rgba.RGBAAt(0, 0); c.R != 0 || c.G != 0 || c.B != 0 || c.A != 255 {
		t.Errorf("Expected opaque black for label 0, got %v", c)
	}
	e, _ := table.Lookup(1)
	r, g, b := e.Color.Clamped().RGB255()
	if c := rgba.RGBAAt(1, 0); c.R != r || c.G != g || c.B != b {
		t.Errorf("Label 1 = %v, want table color %d,%d,%d", c, r, g, b)
	}
	r, g, b = colortable.ColorFor(2).Clamped().RGB255()
	if c := rgba.RGBAAt(2, 0); c.R != r || c.G != g || c.B != b {
		t.Errorf("Label 2 = %v, want generated color %d,%d,%d", c, r, g, b)
	}
}

// TestSaveSliceSequence verifies that a sequence of slices can be saved
func TestSaveSliceSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	width, height, depth := 5, 5, 3
	viewer := NewViewer(testVolume(width, height, depth), nil)

	outputDir := filepath.Join(t.TempDir(), "slices")
	if err := viewer.SaveSliceSequence("z", outputDir); err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}

	for z := 0; z < depth; z++ {
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_z_%03d.png", z))
		f, err := os.Open(filename)
		if err != nil {
			t.Errorf("Expected slice file does not exist: %s", filename)
			continue
		}
		img, err := png.Decode(f)
		f.Close()
		if err != nil {
			t.Errorf("Slice %s is not a PNG: %v", filename, err)
			continue
		}
		if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
			t.Errorf("Slice %s has size %dx%d", filename, b.Dx(), b.Dy())
		}
	}

	if err := viewer.SaveSliceSequence("invalid", outputDir); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
}

func TestSaveMiddleSlice(t *testing.T) {
	vol := testVolume(4, 4, 3)
	path, err := NewViewer(vol, nil).SaveMiddleSlice(t.TempDir())
	if err != nil {
		t.Fatalf("SaveMiddleSlice failed: %v", err)
	}
	if filepath.Base(path) != "ct.png" {
		t.Errorf("Unexpected preview path %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Preview not written: %v", err)
	}
}
