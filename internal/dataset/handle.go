package dataset

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/banshee-data/v2x.prep/internal/config"
	"github.com/banshee-data/v2x.prep/internal/lidar/labels"
	"github.com/banshee-data/v2x.prep/internal/lidar/prep"
	"github.com/banshee-data/v2x.prep/internal/monitoring"
)

// Payload is the raw sensor data of one frame. Exactly one of PointCloud and
// Image is set, depending on Sensor.
type Payload struct {
	Sensor     config.SensorType
	PointCloud *prep.PointCloud
	Image      image.Image
}

// cached remembers the outcome of one load, including failures.
type cached[T any] struct {
	done  bool
	value T
	ok    bool
}

// FrameHandle is a frame descriptor plus lazily loaded payload and labels.
// It is safe for concurrent use; concurrent callers share one load.
type FrameHandle struct {
	model *Model
	frame Frame

	payloadSem chan struct{}
	labelsSem  chan struct{}
	payload    cached[Payload]
	labels     cached[map[labels.View]*labels.LabelSet]
}

// Frame returns the descriptor. It never performs I/O.
func (h *FrameHandle) Frame() Frame { return h.frame }

// ID is shorthand for Frame().ID.
func (h *FrameHandle) ID() string { return h.frame.ID }

// Payload returns the sensor payload selected by the model's sensor type,
// loading it on first access. ok is false when the load failed or timed out;
// the failure is reported as a diagnostic and remembered. If ctx ends before
// the load finishes, or its deadline is too short to wait for the load rate
// limit, nothing is cached and a later call retries.
func (h *FrameHandle) Payload(ctx context.Context) (Payload, bool) {
	if !acquire(ctx, h.payloadSem) {
		return Payload{}, false
	}
	defer release(h.payloadSem)
	if h.payload.done {
		return h.payload.value, h.payload.ok
	}

	p, err := h.loadPayload(ctx)
	if interrupted(ctx, err) {
		return Payload{}, false
	}
	if err != nil {
		h.model.report(monitoring.Diagnostic{
			Kind:    monitoring.PayloadLoadFailure,
			Side:    string(h.frame.Side),
			FrameID: h.frame.ID,
			Path:    h.payloadPath(),
			Err:     err,
		})
	}
	h.payload = cached[Payload]{done: true, value: p, ok: err == nil}
	return p, err == nil
}

func (h *FrameHandle) payloadPath() string {
	if h.model.sensor == config.SensorCamera {
		return h.frame.ImagePath
	}
	return h.frame.PointCloudPath
}

func (h *FrameHandle) loadPayload(ctx context.Context) (Payload, error) {
	m := h.model
	path := h.payloadPath()
	if path == "" {
		return Payload{}, fmt.Errorf("%w: no %s path for frame %s", ErrPayloadLoad, m.sensor, h.frame.ID)
	}
	if err := m.wait(ctx); err != nil {
		return Payload{}, err
	}

	switch m.sensor {
	case config.SensorCamera:
		img, err := await(ctx, m.timeout, func(ctx context.Context) (image.Image, error) {
			return m.readers.Image.ReadImage(ctx, path)
		})
		if err != nil {
			return Payload{}, fmt.Errorf("%w: read %s: %w", ErrPayloadLoad, path, err)
		}
		return Payload{Sensor: m.sensor, Image: img}, nil
	default:
		pc, err := await(ctx, m.timeout, func(ctx context.Context) (*prep.PointCloud, error) {
			d, err := m.readers.PointCloud.ReadPointCloud(ctx, path)
			if err != nil {
				return nil, err
			}
			if d == nil {
				return nil, errors.New("reader returned no points")
			}
			return prep.FromDense(d)
		})
		if err != nil {
			return Payload{}, fmt.Errorf("%w: read %s: %w", ErrPayloadLoad, path, err)
		}
		return Payload{Sensor: m.sensor, PointCloud: pc}, nil
	}
}

// Labels returns the label set of every view the frame has a label file for,
// loading them on first access. Files that cannot be read or parsed are
// reported and omitted; ok is false when no view loaded.
func (h *FrameHandle) Labels(ctx context.Context) (map[labels.View]*labels.LabelSet, bool) {
	if !acquire(ctx, h.labelsSem) {
		return nil, false
	}
	defer release(h.labelsSem)
	if h.labels.done {
		return h.labels.value, h.labels.ok
	}

	out := make(map[labels.View]*labels.LabelSet, len(h.frame.LabelPaths))
	for _, view := range labels.Views {
		path := h.frame.LabelPath(view)
		if path == "" {
			continue
		}
		set, err := h.model.loadLabelFile(ctx, path)
		if interrupted(ctx, err) {
			return nil, false
		}
		if err != nil {
			h.model.report(monitoring.Diagnostic{
				Kind:    monitoring.LabelLoadFailure,
				Side:    string(h.frame.Side),
				FrameID: h.frame.ID,
				Path:    path,
				Err:     err,
			})
			continue
		}
		out[view] = set
	}
	h.labels = cached[map[labels.View]*labels.LabelSet]{done: true, value: out, ok: len(out) > 0}
	return out, len(out) > 0
}

func (m *Model) loadLabelFile(ctx context.Context, path string) (*labels.LabelSet, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return await(ctx, m.timeout, func(context.Context) (*labels.LabelSet, error) {
		data, err := m.readers.Labels.ReadFile(path)
		if err != nil {
			return nil, err
		}
		set, _, err := labels.Decode(data)
		return set, err
	})
}

// CooperativeFrame pairs the infrastructure and vehicle captures of one
// moment. The two handles load independently.
type CooperativeFrame struct {
	pair           Pair
	model          *Model
	infrastructure *FrameHandle
	vehicle        *FrameHandle

	labelsSem chan struct{}
	labels    cached[*labels.LabelSet]
}

// ID returns the pair identifier.
func (c *CooperativeFrame) ID() string { return c.pair.ID }

// Pair returns the pair descriptor.
func (c *CooperativeFrame) Pair() Pair { return c.pair }

// Infrastructure returns the roadside half of the pair.
func (c *CooperativeFrame) Infrastructure() *FrameHandle { return c.infrastructure }

// Vehicle returns the vehicle half of the pair.
func (c *CooperativeFrame) Vehicle() *FrameHandle { return c.vehicle }

// Labels loads the cooperative (fused) label file, if the pair has one.
func (c *CooperativeFrame) Labels(ctx context.Context) (*labels.LabelSet, bool) {
	if c.pair.LabelPath == "" {
		return nil, false
	}
	if !acquire(ctx, c.labelsSem) {
		return nil, false
	}
	defer release(c.labelsSem)
	if c.labels.done {
		return c.labels.value, c.labels.ok
	}

	set, err := c.model.loadLabelFile(ctx, c.pair.LabelPath)
	if interrupted(ctx, err) {
		return nil, false
	}
	if err != nil {
		c.model.report(monitoring.Diagnostic{
			Kind:    monitoring.LabelLoadFailure,
			Side:    string(SideCooperative),
			FrameID: c.pair.ID,
			Path:    c.pair.LabelPath,
			Err:     err,
		})
	}
	c.labels = cached[*labels.LabelSet]{done: true, value: set, ok: err == nil}
	return set, err == nil
}

// await runs load under a per-item timeout and returns as soon as ctx ends,
// even if load ignores its context. An abandoned load finishes in the
// background and its result is dropped. A panic in load becomes an error.
func await[T any](ctx context.Context, timeout time.Duration, load func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- result{err: fmt.Errorf("reader panicked: %v", p)}
			}
		}()
		v, err := load(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// interrupted reports whether err came from the caller giving up rather than
// from the item itself. Such failures are not cached.
func interrupted(ctx context.Context, err error) bool {
	return err != nil && (ctx.Err() != nil || errors.Is(err, errThrottled))
}

func acquire(ctx context.Context, sem chan struct{}) bool {
	select {
	case sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func release(sem chan struct{}) { <-sem }
