// Package annotation supplies the fiducial points a merge is driven by.
package annotation

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"wasp/internal/models"
)

// Set is an indexed collection of fiducials.
type Set interface {
	Count() int
	At(i int) models.Fiducial
}

// List is a Set backed by a slice.
type List []models.Fiducial

func (l List) Count() int                { return len(l) }
func (l List) At(i int) models.Fiducial { return l[i] }

// Names returns the fiducial names in order.
func Names(s Set) []string {
	names := make([]string, s.Count())
	for i := range names {
		names[i] = s.At(i).Name
	}
	return names
}

// defaultColumns is the column layout of Slicer markups files that carry no
// columns comment.
var defaultColumns = []string{
	"id", "x", "y", "z", "ow", "ox", "oy", "oz",
	"vis", "sel", "lock", "label", "desc", "associatedNodeID",
}

// LoadFCSV parses a Slicer markups fiducial CSV. Coordinates are returned in
// RAS; files declaring an LPS coordinate system are converted.
func LoadFCSV(r io.Reader) (List, error) {
	columns := defaultColumns
	lps := false

	reader := csv.NewReader(r)
	reader.Comment = 0
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var list List
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "reading fiducial file")
		}
		line++

		if len(record) > 0 && strings.HasPrefix(record[0], "#") {
			header := strings.TrimSpace(strings.TrimPrefix(strings.Join(record, ","), "#"))
			key, value, ok := strings.Cut(header, "=")
			if !ok {
				continue
			}
			switch strings.TrimSpace(key) {
			case "columns":
				columns = strings.Split(strings.ReplaceAll(value, " ", ""), ",")
			case "CoordinateSystem":
				cs := strings.TrimSpace(value)
				lps = cs == "LPS" || cs == "1"
			}
			continue
		}

		f, err := parseFiducial(columns, record)
		if err != nil {
			return nil, fmt.Errorf("fiducial line %d: %w", line, err)
		}
		if lps {
			f.World.X, f.World.Y = -f.World.X, -f.World.Y
		}
		list = append(list, f)
	}
	return list, nil
}

func parseFiducial(columns, record []string) (models.Fiducial, error) {
	values := make(map[string]string, len(columns))
	for i, c := range columns {
		if i < len(record) {
			values[c] = strings.TrimSpace(record[i])
		}
	}

	var f models.Fiducial
	var coords [3]float64
	for i, c := range []string{"x", "y", "z"} {
		v, ok := values[c]
		if !ok {
			return f, fmt.Errorf("missing %s coordinate", c)
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return f, errors.Wrapf(err, "%s coordinate", c)
		}
		coords[i] = parsed
	}
	f.World = models.Point3{X: coords[0], Y: coords[1], Z: coords[2]}

	f.Name = values["label"]
	if f.Name == "" {
		return f, fmt.Errorf("fiducial has no label")
	}
	f.VolumeName = values["associatedNodeID"]
	if f.VolumeName == "" {
		return f, fmt.Errorf("fiducial %q has no associated volume", f.Name)
	}
	return f, nil
}

// ReadFCSVFile loads fiducials from path.
func ReadFCSVFile(path string) (List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening fiducial file")
	}
	defer f.Close()
	return LoadFCSV(f)
}
