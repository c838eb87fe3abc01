package models

// Fiducial is a named point annotation placed on a specific volume
type Fiducial struct {
	// Name is the user-facing label, e.g. "liver"
	Name string

	// World is the RAS coordinate of the point
	World Point3

	// VolumeName is the volume the point was placed on
	VolumeName string
}

// LabelDictionary maps a fiducial name to its resolved component label
type LabelDictionary map[string]int

// Clone returns a copy of the dictionary
func (d LabelDictionary) Clone() LabelDictionary {
	out := make(LabelDictionary, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
