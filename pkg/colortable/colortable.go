// Package colortable builds the label color tables attached to merged label
// volumes.
package colortable

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"

	"wasp/internal/models"
)

// DefaultName is the name given to tables built by the merge.
const DefaultName = "WASP_labels"

// goldenAngle spreads consecutive labels around the hue circle.
const goldenAngle = 137.50776405003785

// Entry names one label and its display color.
type Entry struct {
	Label int
	Name  string
	Color colorful.Color
}

// Table is an ordered set of label entries.
type Table struct {
	Name    string
	Entries []Entry
}

// ColorFor returns the deterministic display color of label. Label 0 is
// black.
func ColorFor(label int) colorful.Color {
	if label <= 0 {
		return colorful.Color{}
	}
	hue := math.Mod(float64(label)*goldenAngle, 360)
	sat := 0.55 + 0.15*float64(label%3)
	return colorful.Hsv(hue, sat, 0.95).Clamped()
}

// FromDictionary builds a table with one entry per distinct label in dict,
// sorted by label. Names sharing a label are joined with an underscore in
// alphabetical order.
func FromDictionary(name string, dict models.LabelDictionary) *Table {
	byLabel := make(map[int][]string)
	for n, label := range dict {
		byLabel[label] = append(byLabel[label], n)
	}

	t := &Table{Name: name}
	for label, names := range byLabel {
		sort.Strings(names)
		t.Entries = append(t.Entries, Entry{
			Label: label,
			Name:  strings.Join(names, "_"),
			Color: ColorFor(label),
		})
	}
	sort.Slice(t.Entries, func(i, j int) bool {
		return t.Entries[i].Label < t.Entries[j].Label
	})
	return t
}

// Lookup returns the entry for label.
func (t *Table) Lookup(label int) (Entry, bool) {
	i := sort.Search(len(t.Entries), func(i int) bool {
		return t.Entries[i].Label >= label
	})
	if i < len(t.Entries) && t.Entries[i].Label == label {
		return t.Entries[i], true
	}
	return Entry{}, false
}

// WriteCTBL writes the table in the Slicer color table text format.
func (t *Table) WriteCTBL(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# Color table file %s\n", t.Name)
	fmt.Fprintf(bw, "# %d values\n", len(t.Entries))
	for _, e := range t.Entries {
		r, g, b := e.Color.RGB255()
		alpha := 255
		if e.Label == 0 {
			alpha = 0
		}
		name := strings.ReplaceAll(e.Name, " ", "_")
		fmt.Fprintf(bw, "%d %s %d %d %d %d\n", e.Label, name, r, g, b, alpha)
	}
	return bw.Flush()
}

// ReadCTBL parses a table written by WriteCTBL.
func ReadCTBL(r io.Reader, name string) (*Table, error) {
	t := &Table{Name: name}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 5 {
			return nil, fmt.Errorf("color table line %d: expected label, name and rgb", line)
		}
		label, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, errors.Wrapf(err, "color table line %d", line)
		}
		var rgb [3]uint8
		for i := range rgb {
			v, err := strconv.ParseUint(fields[2+i], 10, 8)
			if err != nil {
				return nil, errors.Wrapf(err, "color table line %d", line)
			}
			rgb[i] = uint8(v)
		}
		t.Entries = append(t.Entries, Entry{
			Label: label,
			Name:  fields[1],
			Color: colorful.Color{R: float64(rgb[0]) / 255, G: float64(rgb[1]) / 255, B: float64(rgb[2]) / 255},
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sort.Slice(t.Entries, func(i, j int) bool {
		return t.Entries[i].Label < t.Entries[j].Label
	})
	return t, nil
}
