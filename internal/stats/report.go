package stats

import (
	"encoding/json"
	"io"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/v2x.prep/internal/dataset"
	"github.com/banshee-data/v2x.prep/internal/lidar/labels"
)

// Report is the outcome of one Collect run. Partition sample counts are the
// full split sizes; Sampled is how many frames were actually visited.
type Report struct {
	RunID                 string                     `json:"run_id"`
	Side                  dataset.Side               `json:"side"`
	TotalSamples          int                        `json:"total_samples"`
	InfrastructureSamples int                        `json:"infrastructure_samples"`
	VehicleSamples        int                        `json:"vehicle_samples"`
	CooperativeSamples    int                        `json:"cooperative_samples"`
	Sampled               int                        `json:"sampled"`
	ClassDistribution     map[labels.ObjectClass]int `json:"class_distribution"`
	LoadFailures          int                        `json:"load_failures"`
	FailedFrames          []uint32                   `json:"failed_frames,omitempty"`
	PointCloud            *PointCountSummary         `json:"pointcloud_stats,omitempty"`
	StartedAt             time.Time                  `json:"started_at"`
	Elapsed               time.Duration              `json:"elapsed_ns"`
}

// PointCountSummary describes the number of points per sampled frame.
type PointCountSummary struct {
	Frames int     `json:"frames"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
}

// ClassCount is one histogram bin.
type ClassCount struct {
	Class labels.ObjectClass
	Count int
}

func newReport(loader Loader, opts Options, acc *accumulator) *Report {
	inf := loader.Count(dataset.SideInfrastructure)
	veh := loader.Count(dataset.SideVehicle)
	r := &Report{
		RunID:                 uuid.NewString(),
		Side:                  opts.Side,
		TotalSamples:          inf + veh,
		InfrastructureSamples: inf,
		VehicleSamples:        veh,
		CooperativeSamples:    loader.Count(dataset.SideCooperative),
		Sampled:               acc.sampled,
		ClassDistribution:     acc.classes,
		LoadFailures:          int(acc.failed.GetCardinality()),
		FailedFrames:          acc.failed.ToArray(),
	}
	if opts.PointCloudStats {
		r.PointCloud = summarize(acc.pointCounts)
	}
	return r
}

// summarize returns nil when no frame loaded.
func summarize(counts []float64) *PointCountSummary {
	if len(counts) == 0 {
		return nil
	}
	x := append([]float64(nil), counts...)
	sort.Float64s(x)
	mean, std := stat.MeanStdDev(x, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return &PointCountSummary{
		Frames: len(x),
		Mean:   mean,
		StdDev: std,
		Min:    floats.Min(x),
		Median: stat.Quantile(0.5, stat.Empirical, x, nil),
		Max:    floats.Max(x),
	}
}

// Histogram lists every known class in taxonomy order, including classes
// that were never seen.
func (r *Report) Histogram() []ClassCount {
	out := make([]ClassCount, 0, len(labels.AllClasses))
	for _, c := range labels.AllClasses {
		out = append(out, ClassCount{Class: c, Count: r.ClassDistribution[c]})
	}
	return out
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
