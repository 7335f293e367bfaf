package dataset

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/banshee-data/v2x.prep/internal/config"
	"github.com/banshee-data/v2x.prep/internal/fsutil"
	"github.com/banshee-data/v2x.prep/internal/monitoring"
)

// Model serves frames of one split. Handles are created on demand and cache
// their own payloads; the Model itself holds no mutable state besides the
// shared load limiter.
type Model struct {
	index    *Index
	sensor   config.SensorType
	timeout  time.Duration
	readers  Readers
	limiter  *rate.Limiter
	reporter monitoring.Reporter
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithReporter sends per-frame diagnostics to r instead of the log.
func WithReporter(r monitoring.Reporter) ModelOption {
	return func(m *Model) {
		if r != nil {
			m.reporter = r
		}
	}
}

// NewModel binds an Index to the readers that materialise its frames.
// s.Sensor selects which payload is fetched, s.LoadTimeout bounds every
// load, and s.LoadRate (loads per second, 0 for unlimited) throttles them.
func NewModel(s config.Settings, ix *Index, readers Readers, opts ...ModelOption) (*Model, error) {
	if ix == nil {
		return nil, fmt.Errorf("new model: nil index")
	}
	if !s.Sensor.Valid() {
		return nil, fmt.Errorf("new model: unknown sensor type %q", s.Sensor)
	}
	switch s.Sensor {
	case config.SensorLidar:
		if readers.PointCloud == nil {
			return nil, fmt.Errorf("new model: lidar sensor requires a point cloud reader")
		}
	case config.SensorCamera:
		if readers.Image == nil {
			return nil, fmt.Errorf("new model: camera sensor requires an image reader")
		}
	}
	if readers.Labels == nil {
		readers.Labels = fsutil.OSFileSystem{}
	}
	if s.LoadTimeout <= 0 {
		return nil, fmt.Errorf("new model: load timeout must be positive, got %s", s.LoadTimeout)
	}

	limit := rate.Inf
	burst := 1
	if s.LoadRate > 0 {
		limit = rate.Limit(s.LoadRate)
		burst = int(math.Max(1, math.Ceil(s.LoadRate)))
	}
	m := &Model{
		index:    ix,
		sensor:   s.Sensor,
		timeout:  s.LoadTimeout,
		readers:  readers,
		limiter:  rate.NewLimiter(limit, burst),
		reporter: monitoring.LogReporter,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Index returns the frame index the model serves.
func (m *Model) Index() *Index { return m.index }

// Count returns the number of frames of side in the split.
func (m *Model) Count(side Side) int { return m.index.Count(side) }

// Frame returns a handle for the i-th frame of a single side. Every call
// returns a fresh handle; keep the handle to reuse its loaded payload.
func (m *Model) Frame(side Side, i int) (*FrameHandle, error) {
	f, err := m.index.Frame(side, i)
	if err != nil {
		return nil, err
	}
	return m.handle(f), nil
}

// Infrastructure returns a handle for the i-th infrastructure frame.
func (m *Model) Infrastructure(i int) (*FrameHandle, error) {
	return m.Frame(SideInfrastructure, i)
}

// Vehicle returns a handle for the i-th vehicle frame.
func (m *Model) Vehicle(i int) (*FrameHandle, error) {
	return m.Frame(SideVehicle, i)
}

// Cooperative returns the i-th cooperative frame of the split.
func (m *Model) Cooperative(i int) (*CooperativeFrame, error) {
	p, err := m.index.Pair(i)
	if err != nil {
		return nil, err
	}
	return m.cooperative(p), nil
}

// Pair returns the cooperative frame with the given pair id.
func (m *Model) Pair(id string) (*CooperativeFrame, error) {
	p, err := m.index.PairByID(id)
	if err != nil {
		return nil, err
	}
	return m.cooperative(p), nil
}

func (m *Model) handle(f Frame) *FrameHandle {
	return &FrameHandle{
		model:      m,
		frame:      f,
		payloadSem: make(chan struct{}, 1),
		labelsSem:  make(chan struct{}, 1),
	}
}

func (m *Model) cooperative(p Pair) *CooperativeFrame {
	return &CooperativeFrame{
		pair:           p,
		model:          m,
		infrastructure: m.handle(p.Infrastructure),
		vehicle:        m.handle(p.Vehicle),
		labelsSem:      make(chan struct{}, 1),
	}
}

// wait blocks on the load limiter.
// errThrottled marks a load abandoned while waiting for the load rate limit,
// typically because ctx's deadline comes before the next token.
var errThrottled = errors.New("load rate wait cut short")

func (m *Model) wait(ctx context.Context) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", errThrottled, err)
	}
	return nil
}

func (m *Model) report(d monitoring.Diagnostic) {
	m.reporter.Report(d)
}
