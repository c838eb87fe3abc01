package colortable

import (
	"bytes"
	"strings"
	"testing"

	"wasp/internal/models"
)

func TestFromDictionary(t *testing.T) {
	dict := models.LabelDictionary{"liver": 1, "lung": 3, "Lung_left": 3, "heart": 2}
	table := FromDictionary(DefaultName, dict)

	if len(table.Entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(table.Entries))
	}
	for i, want := range []struct {
		label int
		name  string
	}{{1, "liver"}, {2, "heart"}, {3, "Lung_left_lung"}} {
		e := table.Entries[i]
		if e.Label != want.label || e.Name != want.name {
			t.Errorf("Entry %d = (%d, %s), want (%d, %s)", i, e.Label, e.Name, want.label, want.name)
		}
	}

	e, ok := table.Lookup(2)
	if !ok || e.Name != "heart" {
		t.Errorf("Lookup(2) = %v, %v", e, ok)
	}
	if _, ok := table.Lookup(7); ok {
		t.Error("Lookup(7) should miss")
	}
}

func TestColorsAreDeterministicAndDistinct(t *testing.T) {
	if ColorFor(5) != ColorFor(5) {
		t.Error("ColorFor should be deterministic")
	}
	for label := 1; label < 20; label++ {
		if !ColorFor(label).IsValid() {
			t.Errorf("Color for label %d is out of gamut", label)
		}
		if ColorFor(label).DistanceLab(ColorFor(label+1)) < 0.05 {
			t.Errorf("Labels %d and %d are too close in color", label, label+1)
		}
	}
}

func TestCTBLRoundTrip(t *testing.T) {
	table := FromDictionary("labels", models.LabelDictionary{"left kidney": 4, "spleen": 2})

	var buf bytes.Buffer
	if err := table.WriteCTBL(&buf); err != nil {
		t.Fatalf("WriteCTBL failed: %v", err)
	}
	if !strings.Contains(buf.String(), "4 left_kidney ") {
		t.Errorf("Expected spaces replaced in names, got:\n%s", buf.String())
	}

	back, err := ReadCTBL(&buf, "labels")
	if err != nil {
		t.Fatalf("ReadCTBL failed: %v", err)
	}
	if len(back.Entries) != 2 || back.Entries[0].Label != 2 || back.Entries[1].Name != "left_kidney" {
		t.Errorf("Unexpected entries after round trip: %+v", back.Entries)
	}
	r1, g1, b1 := table.Entries[0].Color.RGB255()
	r2, g2, b2 := back.Entries[0].Color.RGB255()
	if r1 != r2 || g1 != g2 || b1 != b2 {
		t.Errorf("Color changed in round trip: %d,%d,%d vs %d,%d,%d", r1, g1, b1, r2, g2, b2)
	}
}
