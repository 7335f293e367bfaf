package prep

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// minShardPoints keeps tiny shards from paying goroutine overhead.
const minShardPoints = 4096

// RangeMask returns one flag per point: true when the point lies inside r on
// all three axes (inclusive). An empty cloud yields an empty mask.
func RangeMask(pc *PointCloud, r VolumeRange) ([]bool, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	mask := make([]bool, pc.Len())
	if pc != nil {
		fillMask(mask, pc.Points, r)
	}
	return mask, nil
}

// RangeMaskParallel computes the same mask as RangeMask by splitting the cloud
// into contiguous index shards. Each shard writes a disjoint window of the
// mask, so point order is preserved without a merge step.
func RangeMaskParallel(ctx context.Context, pc *PointCloud, r VolumeRange, shards int) ([]bool, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	n := pc.Len()
	if shards <= 1 || n < 2*minShardPoints {
		return RangeMask(pc, r)
	}
	size := (n + shards - 1) / shards
	if size < minShardPoints {
		size = minShardPoints
	}

	mask := make([]bool, n)
	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fillMask(mask[start:end], pc.Points[start:end], r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mask, nil
}

func fillMask(mask []bool, pts []Point, r VolumeRange) {
	for i, p := range pts {
		mask[i] = r.Contains(p.X, p.Y, p.Z)
	}
}

// ApplyMask returns a new cloud holding the points whose mask flag is set.
// A mask shorter than the cloud drops the unmatched tail.
func ApplyMask(pc *PointCloud, mask []bool) *PointCloud {
	if pc == nil {
		return nil
	}
	kept := 0
	for _, m := range mask {
		if m {
			kept++
		}
	}
	out := &PointCloud{Points: make([]Point, 0, kept), HasIntensity: pc.HasIntensity}
	for i, p := range pc.Points {
		if i < len(mask) && mask[i] {
			out.Points = append(out.Points, p)
		}
	}
	return out
}

// FilterByRange keeps the points inside r.
func FilterByRange(pc *PointCloud, r VolumeRange) (*PointCloud, error) {
	mask, err := RangeMask(pc, r)
	if err != nil {
		return nil, err
	}
	return ApplyMask(pc, mask), nil
}
