package sweep

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// volumePrefix starts the name of every label volume the sweep produces.
const volumePrefix = "ws_level"

// GradientVolumeName is the name the shared feature image is stored under.
const GradientVolumeName = "gradient_mag"

// MaxLevels bounds the number of label volumes one sweep may produce.
const MaxLevels = 10000

// Levels returns start, start+step, ... up to and including the last value
// not above end. Values are computed by multiplication and rounded to the
// finer of the decimal precisions of start and step, so that accumulated
// floating point error neither drops nor adds the end point. The first
// level is always start itself.
func Levels(start, end, step float64) ([]float64, error) {
	if step <= 0 || math.IsNaN(step) || math.IsInf(step, 0) {
		return nil, fmt.Errorf("level step must be positive, got %g", step)
	}
	if math.IsNaN(start) || math.IsInf(start, 0) || math.IsNaN(end) || math.IsInf(end, 0) {
		return nil, fmt.Errorf("level range %g..%g is not finite", start, end)
	}
	if end < start {
		return nil, fmt.Errorf("level end %g is below level start %g", end, start)
	}

	count := math.Floor((end-start)/step + 1e-9) + 1
	if count > MaxLevels {
		return nil, fmt.Errorf("level range %g..%g in steps of %g gives %.0f levels, at most %d allowed",
			start, end, step, count, MaxLevels)
	}

	n := int(count) - 1
	scale := math.Pow(10, float64(max(decimals(start), decimals(step))))
	levels := make([]float64, 0, n+1)
	levels = append(levels, start)
	for k := 1; k <= n; k++ {
		levels = append(levels, math.Round((start+float64(k)*step)*scale)/scale)
	}
	return levels, nil
}

// decimals is the number of fractional digits in the shortest decimal form
// of v, capped at 15.
func decimals(v float64) int {
	s := strconv.FormatFloat(math.Abs(v), 'f', -1, 64)
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return 0
	}
	return min(len(s)-dot-1, 15)
}

// VolumeName returns the deterministic name of the label volume for level,
// for example ws_level0.3.
func VolumeName(level float64) string {
	return volumePrefix + strconv.FormatFloat(level, 'f', -1, 64)
}

// IsSweepVolume reports whether name carries the sweep naming pattern. Copies
// and renamed variants such as "ws_level0.3 copy" still match.
func IsSweepVolume(name string) bool {
	return strings.Contains(name, volumePrefix)
}
