package labels

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrMalformedRecord marks a record that fails the schema check. Parsing
// drops such records silently; only Record.Validate returns it.
var ErrMalformedRecord = errors.New("malformed label record")

// Location is the 3d_location object of a label record.
type Location struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Dimensions is the 3d_dimensions object of a label record (meters).
type Dimensions struct {
	L float64 `json:"l"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Record is one entry of a label file as written by the dataset. Optional
// fields are pointers so absence can be told apart from zero.
type Record struct {
	Type       string      `json:"type"`
	Location   *Location   `json:"3d_location,omitempty"`
	Dimensions *Dimensions `json:"3d_dimensions,omitempty"`
	Rotation   *float64    `json:"rotation,omitempty"`
}

// Validate checks the record against the label schema.
func (r Record) Validate() error {
	if _, err := ParseObjectClass(r.Type); err != nil {
		return err
	}
	if r.Location == nil {
		return fmt.Errorf("%w: missing 3d_location", ErrMalformedRecord)
	}
	if r.Dimensions == nil {
		return fmt.Errorf("%w: missing 3d_dimensions", ErrMalformedRecord)
	}
	for _, v := range []float64{r.Location.X, r.Location.Y, r.Location.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite location", ErrMalformedRecord)
		}
	}
	return nil
}

// Label converts a validated record. Rotation defaults to 0.
func (r Record) Label() (Label, error) {
	if err := r.Validate(); err != nil {
		return Label{}, err
	}
	l := Label{
		Class:      ObjectClass(r.Type),
		Center:     r3.Vec{X: r.Location.X, Y: r.Location.Y, Z: r.Location.Z},
		Dimensions: *r.Dimensions,
	}
	if r.Rotation != nil {
		l.Yaw = *r.Rotation
	}
	return l, nil
}

// Decode parses a label file (a JSON array of records). Records failing
// Validate are skipped and counted; only a syntactically broken file is an
// error. A skipped record with a known type still has its class recorded in
// Incomplete.
func Decode(data []byte) (*LabelSet, int, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("decode label file: %w", err)
	}
	set := &LabelSet{Labels: make([]Label, 0, len(raw))}
	skipped := 0
	for _, msg := range raw {
		var rec Record
		if err := json.Unmarshal(msg, &rec); err != nil {
			skipped++
			continue
		}
		l, err := rec.Label()
		if err != nil {
			skipped++
			if c, perr := ParseObjectClass(rec.Type); perr == nil {
				set.Incomplete = append(set.Incomplete, c)
			}
			continue
		}
		set.Labels = append(set.Labels, l)
	}
	return set, skipped, nil
}
