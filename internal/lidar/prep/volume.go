package prep

import (
	"fmt"
	"math"
)

// VolumeRange is an axis-aligned box with inclusive bounds.
type VolumeRange struct {
	XMin, YMin, ZMin float64
	XMax, YMax, ZMax float64
}

// DefaultVolumeRange is the cooperative-perception detection volume
// [-75.2, -75.2, -2, 75.2, 75.2, 4].
var DefaultVolumeRange = VolumeRange{
	XMin: -75.2, YMin: -75.2, ZMin: -2,
	XMax: 75.2, YMax: 75.2, ZMax: 4,
}

// UnboundedRange covers the whole coordinate space.
var UnboundedRange = VolumeRange{
	XMin: math.Inf(-1), YMin: math.Inf(-1), ZMin: math.Inf(-1),
	XMax: math.Inf(1), YMax: math.Inf(1), ZMax: math.Inf(1),
}

// VolumeRangeFromSlice reads the flat [xmin, ymin, zmin, xmax, ymax, zmax]
// layout used in configuration files and validates it.
func VolumeRangeFromSlice(v []float64) (VolumeRange, error) {
	if len(v) != 6 {
		return VolumeRange{}, fmt.Errorf("%w: expected 6 values, got %d", ErrInvalidRange, len(v))
	}
	r := VolumeRange{XMin: v[0], YMin: v[1], ZMin: v[2], XMax: v[3], YMax: v[4], ZMax: v[5]}
	if err := r.Validate(); err != nil {
		return VolumeRange{}, err
	}
	return r, nil
}

// Slice returns the flat six-value layout.
func (r VolumeRange) Slice() []float64 {
	return []float64{r.XMin, r.YMin, r.ZMin, r.XMax, r.YMax, r.ZMax}
}

// Validate enforces min <= max on every axis. NaN bounds fail the comparison
// and are rejected too.
func (r VolumeRange) Validate() error {
	axes := [3]struct {
		name     string
		min, max float64
	}{
		{"x", r.XMin, r.XMax},
		{"y", r.YMin, r.YMax},
		{"z", r.ZMin, r.ZMax},
	}
	for _, a := range axes {
		if !(a.min <= a.max) {
			return fmt.Errorf("%w: %s min %g > max %g", ErrInvalidRange, a.name, a.min, a.max)
		}
	}
	return nil
}

// Contains reports whether (x, y, z) lies inside the range, bounds included.
func (r VolumeRange) Contains(x, y, z float64) bool {
	return x >= r.XMin && x <= r.XMax &&
		y >= r.YMin && y <= r.YMax &&
		z >= r.ZMin && z <= r.ZMax
}

func (r VolumeRange) String() string {
	return fmt.Sprintf("[%g, %g, %g, %g, %g, %g]", r.XMin, r.YMin, r.ZMin, r.XMax, r.YMax, r.ZMax)
}
