package merge

import (
	"errors"
	"testing"
	"time"

	"wasp/internal/models"
	"wasp/pkg/annotation"
	"wasp/pkg/events"
	"wasp/pkg/mesh"
	"wasp/pkg/reference"
	"wasp/pkg/volume"
)

// segmented is a small sweep result:
//
//	2 2 0 3 3
//	2 2 0 3 3
//	0 0 0 0 0
//	1 1 0 4 1
func segmented(name string) *models.Volume {
	v := models.NewVolume(name, 5, 4, 1)
	v.LabelMap = true
	copy(v.Data, []float64{
		2, 2, 0, 3, 3,
		2, 2, 0, 3, 3,
		0, 0, 0, 0, 0,
		1, 1, 0, 4, 1,
	})
	return v
}

func at(name string, x, y float64, vol string) models.Fiducial {
	return models.Fiducial{Name: name, World: models.Point3{X: x, Y: y}, VolumeName: vol}
}

func organs(vol string) annotation.List {
	return annotation.List{
		at("liver", 0, 0, vol),
		at("lung", 4, 1, vol),
		at("heart", 3, 3, vol),
	}
}

func newEngine(t *testing.T, volumes ...*models.Volume) (*Engine, *events.Queue, *volume.MemoryStore) {
	t.Helper()
	store := volume.NewMemoryStore(nil)
	for _, v := range volumes {
		if err := store.Write(v); err != nil {
			t.Fatalf("Failed to seed store: %v", err)
		}
	}
	q := events.NewQueue()
	e := NewEngine(Deps{Store: store, Queue: q, Worker: &events.Worker{}})
	return e, q, store
}

func TestMergeKeepsSeparatedRegionsDistinct(t *testing.T) {
	e, _, store := newEngine(t, segmented("ws_level0.3"))

	res, err := e.Merge(organs("ws_level0.3"), "merged", nil)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	want := models.LabelDictionary{"liver": 1, "lung": 2, "heart": 3}
	for name, label := range want {
		if res.Dictionary[name] != label {
			t.Errorf("%s = %d, want %d (dictionary %v)", name, res.Dictionary[name], label, res.Dictionary)
		}
	}
	if res.Components != 3 {
		t.Errorf("Expected 3 components, got %d", res.Components)
	}

	out, err := store.Read("merged")
	if err != nil {
		t.Fatalf("Merged volume missing: %v", err)
	}
	if !out.LabelMap {
		t.Error("Merged volume is not a label map")
	}
	// Picked regions only; lines and unpicked background are 0.
	wantData := []int{
		1, 1, 0, 2, 2,
		1, 1, 0, 2, 2,
		0, 0, 0, 0, 0,
		0, 0, 0, 3, 0,
	}
	for i, w := range wantData {
		if int(out.Data[i]) != w {
			t.Fatalf("Voxel %d = %v, want %d", i, out.Data[i], w)
		}
	}

	table, ok := store.ColorTable("merged")
	if !ok || len(table.Entries) != 3 || table.Name != "WASP_labels" {
		t.Fatalf("Unexpected color table %+v", table)
	}
	if e, _ := table.Lookup(2); e.Name != "lung" {
		t.Errorf("Expected label 2 named lung, got %q", e.Name)
	}
}

func TestMergeSplitsDiagonalContact(t *testing.T) {
	v := models.NewVolume("ws_level1", 2, 2, 1)
	v.LabelMap = true
	copy(v.Data, []float64{5, 0, 0, 6})
	e, _, _ := newEngine(t, v)

	res, err := e.Merge(annotation.List{at("a", 0, 0, "ws_level1"), at("b", 1, 1, "ws_level1")}, "out", nil)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if res.Dictionary["a"] == res.Dictionary["b"] {
		t.Errorf("Diagonally touching regions were merged: %v", res.Dictionary)
	}
}

func TestMergeAcrossLevels(t *testing.T) {
	coarse := segmented("ws_level0.6")
	fine := segmented("ws_level0.2")
	e, _, _ := newEngine(t, coarse, fine)

	set := annotation.List{at("liver", 0, 0, "ws_level0.6"), at("lung", 3, 0, "ws_level0.2")}
	res, err := e.Merge(set, "merged", nil)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if res.Dictionary["liver"] != 1 || res.Dictionary["lung"] != 2 {
		t.Errorf("Unexpected dictionary %v", res.Dictionary)
	}
}

func TestMergeValidation(t *testing.T) {
	tests := []struct {
		name     string
		volume   string
		x, y     float64
		wantFail bool
	}{
		{"line on sweep output", "ws_level0.3", 2, 0, true},
		{"background on sweep output", "ws_level0.3", 0, 3, true},
		{"background on external labels", "external", 0, 3, true},
		{"zero on external labels", "external", 2, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, q, store := newEngine(t, segmented("ws_level0.3"), segmented("external"))
			set := annotation.List{at("liver", 0, 0, tt.volume), at("bad", tt.x, tt.y, tt.volume)}

			_, err := e.Merge(set, "merged", nil)
			if !tt.wantFail {
				if err != nil {
					t.Fatalf("Expected success, got %v", err)
				}
				return
			}

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected a ValidationError, got %v", err)
			}
			if verr.Fiducial != "bad" || verr.Volume != tt.volume {
				t.Errorf("Error names %q on %q", verr.Fiducial, verr.Volume)
			}
			if store.Exists("merged") {
				t.Error("Output written despite a validation error")
			}
			var dialog bool
			for _, m := range q.Snapshot() {
				if d, ok := m.(events.Dialog); ok && d.Text == verr.Error() {
					dialog = true
				}
			}
			if !dialog {
				t.Error("Validation error was not shown in a dialog")
			}
		})
	}
}

func TestMergePreconditions(t *testing.T) {
	e, q, _ := newEngine(t, segmented("ws_level0.3"))

	if _, err := e.Merge(nil, "merged", nil); !errors.Is(err, ErrNoSelection) {
		t.Errorf("Expected ErrNoSelection, got %v", err)
	}
	if _, err := e.Merge(annotation.List{}, "merged", nil); !errors.Is(err, ErrNoFiducials) {
		t.Errorf("Expected ErrNoFiducials, got %v", err)
	}

	msgs := q.Snapshot()
	if len(msgs) != 2 {
		t.Fatalf("Expected two dialogs, got %v", msgs)
	}
	if d := msgs[1].(events.Dialog); d.Text != "No fiducials within fiducial set" {
		t.Errorf("Unexpected dialog %q", d.Text)
	}
	if !IsUserError(ErrNoFiducials) || IsUserError(errors.New("disk full")) {
		t.Error("IsUserError misclassified an error")
	}

	_, err := e.Merge(annotation.List{at("far", 100, 0, "ws_level0.3")}, "merged", nil)
	if err == nil || IsUserError(err) {
		t.Errorf("Expected an out of bounds failure, got %v", err)
	}
}

func TestMergeWithReference(t *testing.T) {
	e, _, store := newEngine(t, segmented("ws_level0.3"))
	ref := reference.New(map[string]int{"liver": 1, "heart": 2})

	res, err := e.Merge(organs("ws_level0.3"), "merged", ref)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if res.ChangeMap[1] != 1 || res.ChangeMap[2] != 3 || res.ChangeMap[3] != 2 {
		t.Errorf("Unexpected change map %v", res.ChangeMap)
	}
	if res.Dictionary["liver"] != 1 || res.Dictionary["heart"] != 2 || res.Dictionary["lung"] != 3 {
		t.Errorf("Unexpected dictionary %v", res.Dictionary)
	}
	if idx, ok := ref.Index("lung"); !ok || idx != 3 {
		t.Errorf("Reference not extended with lung:3, got %d, %v", idx, ok)
	}

	out, _ := store.Read("merged")
	if got := out.Label(models.Index3{I: 4, J: 1}); got != 3 {
		t.Errorf("Lung voxel = %d, want 3", got)
	}
	if got := out.Label(models.Index3{I: 3, J: 3}); got != 2 {
		t.Errorf("Heart voxel = %d, want 2", got)
	}
}

func TestMergeWithReferenceSharedRegion(t *testing.T) {
	e, _, store := newEngine(t, segmented("ws_level0.3"))
	ref := reference.New(map[string]int{"liver": 1, "heart": 2})

	// liver and heart both fall in the top-left region.
	set := annotation.List{
		at("liver", 0, 0, "ws_level0.3"),
		at("heart", 1, 1, "ws_level0.3"),
		at("lung", 4, 1, "ws_level0.3"),
	}
	res, err := e.Merge(set, "merged", ref)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if res.Dictionary["liver"] != 1 || res.Dictionary["heart"] != 1 || res.Dictionary["lung"] != 3 {
		t.Errorf("Unexpected dictionary %v", res.Dictionary)
	}

	out, _ := store.Read("merged")
	present := make(map[int]bool)
	for _, v := range out.Data {
		present[int(v)] = true
	}
	for _, entry := range res.ColorTable.Entries {
		if !present[entry.Label] {
			t.Errorf("Color table entry %d (%s) has no voxels", entry.Label, entry.Name)
		}
	}
	if len(res.ColorTable.Entries) != 2 {
		t.Errorf("Expected two color table entries, got %+v", res.ColorTable.Entries)
	}
	if entry, _ := res.ColorTable.Lookup(1); entry.Name != "heart_liver" {
		t.Errorf("Expected label 1 named heart_liver, got %q", entry.Name)
	}
	if ref.Max() != 3 {
		t.Errorf("Reference grew to %d, want 3", ref.Max())
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	var first models.LabelDictionary
	for run := 0; run < 3; run++ {
		e, _, _ := newEngine(t, segmented("ws_level0.3"))
		res, err := e.Merge(organs("ws_level0.3"), "merged", nil)
		if err != nil {
			t.Fatalf("Run %d failed: %v", run, err)
		}
		if first == nil {
			first = res.Dictionary
			continue
		}
		for name, label := range first {
			if res.Dictionary[name] != label {
				t.Errorf("Run %d: %s = %d, first run had %d", run, name, res.Dictionary[name], label)
			}
		}
	}
}

// idleScheduler accepts drain cycles without running them
type idleScheduler struct{}

func (idleScheduler) Post(func()) bool                        { return true }
func (idleScheduler) PostAfter(time.Duration, func(), func()) {}

func TestRunStartsModelsAndReportsDone(t *testing.T) {
	store := volume.NewMemoryStore(nil)
	if err := store.Write(segmented("ws_level0.3")); err != nil {
		t.Fatal(err)
	}
	q := events.NewQueue()
	params := mesh.DefaultParams()
	params.Decimate = 0
	gen := mesh.NewGenerator(params, nil)
	e := NewEngine(Deps{
		Store:    store,
		Queue:    q,
		Poller:   events.NewPoller(q, idleScheduler{}, events.HandlerFunc(func(events.Message) error { return nil }), nil),
		Worker:   &events.Worker{},
		Mesh:     gen,
		ModelDir: t.TempDir(),
	})

	if ok, err := e.Run(organs("ws_level0.3"), "merged", nil); !ok || err != nil {
		t.Fatalf("Run = %v, %v", ok, err)
	}
	res, err := e.Wait()
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !res.ModelsStarted {
		t.Fatal("Expected model generation to start")
	}
	files, err := gen.Wait()
	if err != nil || len(files) != 3 {
		t.Fatalf("Expected three models, got %v (%v)", files, err)
	}

	var making, done, stop int
	for i, m := range q.Snapshot() {
		switch m := m.(type) {
		case events.Status:
			if m.Text == "Making model" {
				making = i
			}
			if m.Text == "Done" {
				done = i
			}
		case events.Stop:
			stop = i
		}
	}
	if making == 0 || done <= making || stop == 0 {
		t.Errorf("Unexpected message order: making=%d done=%d stop=%d", making, done, stop)
	}
}
