package labels

import (
	"github.com/banshee-data/v2x.prep/internal/lidar/prep"
)

// LabelSet is an ordered collection of labels for one frame and view.
//
// Incomplete holds the classes of records that named a known type but lacked
// the geometry to become a Label. They count toward CountByClass only.
type LabelSet struct {
	Labels     []Label
	Incomplete []ObjectClass
}

// Len returns the number of labels; nil sets have none.
func (s *LabelSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Labels)
}

// CountByClass tallies labels per class, including incomplete records.
func (s *LabelSet) CountByClass() map[ObjectClass]int {
	out := make(map[ObjectClass]int)
	if s == nil {
		return out
	}
	for _, l := range s.Labels {
		out[l.Class]++
	}
	for _, c := range s.Incomplete {
		out[c]++
	}
	return out
}

// FilterByRange returns a new set holding the labels whose center lies in r.
// Box extent is not considered: a box straddling the boundary survives or is
// dropped on its center alone. Incomplete records are not carried over. A nil
// set returns nil.
func FilterByRange(s *LabelSet, r prep.VolumeRange) (*LabelSet, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}
	out := &LabelSet{Labels: make([]Label, 0, len(s.Labels))}
	for _, l := range s.Labels {
		if r.Contains(l.Center.X, l.Center.Y, l.Center.Z) {
			out.Labels = append(out.Labels, l)
		}
	}
	return out, nil
}

// FilterInPlace replaces the set's labels with the subset whose center lies
// in r, drops incomplete records and returns s. On error s is left unchanged.
func (s *LabelSet) FilterInPlace(r prep.VolumeRange) (*LabelSet, error) {
	if s == nil {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	filtered, err := FilterByRange(s, r)
	if err != nil {
		return s, err
	}
	s.Labels = filtered.Labels
	s.Incomplete = nil
	return s, nil
}
