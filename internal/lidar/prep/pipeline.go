package prep

import (
	"context"
)

// Pipeline applies range filter, voxel downsample and intensity
// normalization in that order. Parameters are validated once at construction.
type Pipeline struct {
	volume    VolumeRange
	voxelSize float64
	workers   int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWorkers shards the range filter across n goroutines for large clouds.
// Output is identical to the single-worker path.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// RunStats reports how many points survived each stage of one Run.
type RunStats struct {
	Input   int
	InRange int
	Output  int
}

// NewPipeline validates the range and voxel size.
func NewPipeline(volume VolumeRange, voxelSize float64, opts ...Option) (*Pipeline, error) {
	if err := volume.Validate(); err != nil {
		return nil, err
	}
	if err := validateVoxelSize(voxelSize); err != nil {
		return nil, err
	}
	p := &Pipeline{volume: volume, voxelSize: voxelSize, workers: 1}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Volume returns the configured range.
func (p *Pipeline) Volume() VolumeRange { return p.volume }

// VoxelSize returns the configured voxel edge length.
func (p *Pipeline) VoxelSize() float64 { return p.voxelSize }

// Run preprocesses pc. A nil cloud means "no data" and yields nil, nil.
func (p *Pipeline) Run(pc *PointCloud) (*PointCloud, error) {
	out, _, err := p.RunWithStats(context.Background(), pc)
	return out, err
}

// RunWithStats is Run plus per-stage counts. ctx only matters when the
// range filter is sharded.
func (p *Pipeline) RunWithStats(ctx context.Context, pc *PointCloud) (*PointCloud, RunStats, error) {
	if pc == nil {
		return nil, RunStats{}, nil
	}
	stats := RunStats{Input: pc.Len()}

	mask, err := RangeMaskParallel(ctx, pc, p.volume, p.workers)
	if err != nil {
		return nil, stats, err
	}
	filtered := ApplyMask(pc, mask)
	stats.InRange = filtered.Len()

	down, err := VoxelDownsample(filtered, p.voxelSize)
	if err != nil {
		return nil, stats, err
	}

	out := NormalizeIntensity(down)
	stats.Output = out.Len()
	return out, stats, nil
}
