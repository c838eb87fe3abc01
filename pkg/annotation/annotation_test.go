package annotation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wasp/internal/models"
)

const sampleFCSV = `# Markups fiducial file version = 4.11
# CoordinateSystem = RAS
# columns = id,x,y,z,ow,ox,oy,oz,vis,sel,lock,label,desc,associatedNodeID
vtkMRMLMarkupsFiducialNode_0,1.5,-2,30,0,0,0,1,1,1,0,liver,,ws_level0.3
vtkMRMLMarkupsFiducialNode_1,4,5,6,0,0,0,1,1,1,0,lung,"left, upper",ws_level1.2
`

func TestLoadFCSV(t *testing.T) {
	list, err := LoadFCSV(strings.NewReader(sampleFCSV))
	if err != nil {
		t.Fatalf("LoadFCSV failed: %v", err)
	}
	if list.Count() != 2 {
		t.Fatalf("Expected 2 fiducials, got %d", list.Count())
	}

	want := models.Fiducial{Name: "liver", World: models.Point3{X: 1.5, Y: -2, Z: 30}, VolumeName: "ws_level0.3"}
	if got := list.At(0); got != want {
		t.Errorf("Got %+v, want %+v", got, want)
	}
	if got := list.At(1).VolumeName; got != "ws_level1.2" {
		t.Errorf("Quoted description shifted columns: volume %q", got)
	}
	if names := Names(list); names[0] != "liver" || names[1] != "lung" {
		t.Errorf("Unexpected names %v", names)
	}
}

func TestLoadFCSVConvertsLPS(t *testing.T) {
	data := "# CoordinateSystem = LPS\n" +
		"# columns = id,x,y,z,label,associatedNodeID\n" +
		"a,1,2,3,heart,vol\n"
	list, err := LoadFCSV(strings.NewReader(data))
	if err != nil {
		t.Fatalf("LoadFCSV failed: %v", err)
	}
	if got := list.At(0).World; got != (models.Point3{X: -1, Y: -2, Z: 3}) {
		t.Errorf("Expected RAS (-1,-2,3), got %+v", got)
	}
}

func TestLoadFCSVErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad coordinate", "a,x,2,3,0,0,0,1,1,1,0,liver,,vol\n"},
		{"no label", "a,1,2,3,0,0,0,1,1,1,0,,,vol\n"},
		{"no volume", "a,1,2,3,0,0,0,1,1,1,0,liver,,\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFCSV(strings.NewReader(tt.data)); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestReadFCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.fcsv")
	if err := os.WriteFile(path, []byte(sampleFCSV), 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}
	list, err := ReadFCSVFile(path)
	if err != nil || list.Count() != 2 {
		t.Fatalf("ReadFCSVFile = %d fiducials, %v", list.Count(), err)
	}
	if _, err := ReadFCSVFile(filepath.Join(t.TempDir(), "missing.fcsv")); err == nil {
		t.Error("Expected an error for a missing file")
	}
}
