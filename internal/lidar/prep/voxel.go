package prep

import (
	"fmt"
	"math"
)

// VoxelKey identifies the grid cell a point falls in for a given voxel size.
// It is an in-memory grouping key only.
type VoxelKey struct {
	X, Y, Z int64
}

// VoxelKeyOf returns floor(coord / size) on each axis. Quotients outside the
// int64 range saturate to math.MaxInt64 or math.MinInt64, and NaN maps to
// math.MinInt64, so far-away or non-finite points share the edge cells.
func VoxelKeyOf(p Point, size float64) VoxelKey {
	return VoxelKey{
		X: voxelIndex(p.X / size),
		Y: voxelIndex(p.Y / size),
		Z: voxelIndex(p.Z / size),
	}
}

func voxelIndex(q float64) int64 {
	f := math.Floor(q)
	switch {
	case math.IsNaN(f), f < math.MinInt64:
		return math.MinInt64
	case f >= math.MaxInt64:
		return math.MaxInt64
	}
	return int64(f)
}

func validateVoxelSize(size float64) error {
	if !(size > 0) || math.IsInf(size, 1) {
		return fmt.Errorf("%w: voxel size must be a positive finite number, got %g", ErrInvalidParameter, size)
	}
	return nil
}

// VoxelDownsample keeps exactly one point per occupied voxel: the first one
// encountered in input order. Retained points are copied unmodified, so
// running it again with the same size returns an equal cloud.
func VoxelDownsample(pc *PointCloud, size float64) (*PointCloud, error) {
	if err := validateVoxelSize(size); err != nil {
		return nil, err
	}
	if pc == nil {
		return nil, nil
	}

	seen := make(map[VoxelKey]struct{}, len(pc.Points))
	out := &PointCloud{Points: make([]Point, 0, len(pc.Points)), HasIntensity: pc.HasIntensity}
	for _, p := range pc.Points {
		k := VoxelKeyOf(p, size)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out.Points = append(out.Points, p)
	}
	return out, nil
}
