package stats

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/v2x.prep/internal/dataset"
	"github.com/banshee-data/v2x.prep/internal/monitoring"
	"github.com/banshee-data/v2x.prep/internal/timeutil"
)

// DefaultSampleCap is the number of frames sampled when Options leaves
// SampleCap unset.
const DefaultSampleCap = 100

// Loader is the frame source a run samples. *dataset.Model satisfies it.
type Loader interface {
	Count(side dataset.Side) int
	Frame(side dataset.Side, i int) (*dataset.FrameHandle, error)
}

// Options controls a Collect run. Zero values select the defaults.
type Options struct {
	SampleCap       *int // nil means DefaultSampleCap; 0 samples nothing
	Workers         int
	Side            dataset.Side
	PointCloudStats bool
	Clock           timeutil.Clock
}

func (o Options) withDefaults() (Options, error) {
	if o.SampleCap == nil {
		n := DefaultSampleCap
		o.SampleCap = &n
	}
	if *o.SampleCap < 0 {
		return o, fmt.Errorf("sample cap must be non-negative, got %d", *o.SampleCap)
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	switch o.Side {
	case "":
		o.Side = dataset.SideInfrastructure
	case dataset.SideInfrastructure, dataset.SideVehicle:
	default:
		return o, fmt.Errorf("cannot sample %s frames", o.Side)
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o, nil
}

// Collect samples the first min(SampleCap, Count(Side)) frames of the loader
// and builds a Report. Frames whose labels (or, with PointCloudStats, whose
// payload) fail to load are recorded in the report and otherwise skipped.
// Only invalid options, an inconsistent loader or ctx ending abort the run.
func Collect(ctx context.Context, loader Loader, opts Options) (*Report, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	started := opts.Clock.Now()

	n := min(*opts.SampleCap, loader.Count(opts.Side))
	workers := min(opts.Workers, max(n, 1))
	accs := make([]*accumulator, workers)

	g, gctx := errgroup.WithContext(ctx)
	for w := range workers {
		acc := newAccumulator()
		accs[w] = acc
		g.Go(func() error {
			// Worker w takes frames w, w+workers, w+2*workers, ...
			for i := w; i < n; i += workers {
				if err := sampleFrame(gctx, loader, opts, i, acc); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("collect statistics: %w", err)
	}

	total := newAccumulator()
	for _, acc := range accs {
		total.merge(acc)
	}

	r := newReport(loader, opts, total)
	r.StartedAt = started
	r.Elapsed = opts.Clock.Since(started)
	monitoring.Logf("stats run %s: sampled %d %s frames, %d classes, %d load failures",
		r.RunID, r.Sampled, r.Side, len(r.ClassDistribution), r.LoadFailures)
	return r, nil
}

func sampleFrame(ctx context.Context, loader Loader, opts Options, i int, acc *accumulator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h, err := loader.Frame(opts.Side, i)
	if err != nil {
		return err
	}
	acc.sampled++

	sets, ok := h.Labels(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}
	if ok {
		acc.addLabels(sets)
	} else if len(h.Frame().LabelPaths) > 0 {
		acc.fail(i)
	}

	if opts.PointCloudStats {
		p, ok := h.Payload(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
		if ok && p.PointCloud != nil {
			acc.pointCounts = append(acc.pointCounts, float64(p.PointCloud.Len()))
		} else {
			acc.fail(i)
		}
	}
	return nil
}
