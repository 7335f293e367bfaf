package prep

import "errors"

var (
	// ErrInvalidRange reports a VolumeRange with min > max (or a NaN bound)
	// on at least one axis.
	ErrInvalidRange = errors.New("invalid volume range")

	// ErrInvalidParameter reports a non-positive or non-finite voxel size.
	ErrInvalidParameter = errors.New("invalid parameter")
)
