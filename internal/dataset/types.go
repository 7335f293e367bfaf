package dataset

import (
	"errors"

	"github.com/banshee-data/v2x.prep/internal/lidar/labels"
)

// Side names a dataset partition.
type Side string

const (
	SideInfrastructure Side = "infrastructure"
	SideVehicle        Side = "vehicle"
	SideCooperative    Side = "cooperative"
)

// ErrFrameNotFound is returned for an unknown frame id or an index outside
// the split.
var ErrFrameNotFound = errors.New("frame not found")

// ErrPayloadLoad wraps reader failures inside diagnostics. It never reaches
// callers of FrameHandle.Payload.
var ErrPayloadLoad = errors.New("payload load failed")

// Frame describes one sensor capture. Paths are already resolved against the
// dataset root; nothing is read until a FrameHandle asks for it.
type Frame struct {
	Side           Side
	ID             string
	PointCloudPath string
	ImagePath      string
	LabelPaths     map[labels.View]string
}

// LabelPath returns the label file for view, or "" when the frame has none.
func (f Frame) LabelPath(view labels.View) string {
	return f.LabelPaths[view]
}

// Pair links the infrastructure and vehicle captures of one cooperative
// frame. ID is the cooperative frame identifier (the vehicle frame id in
// DAIR-V2X).
type Pair struct {
	ID             string
	Infrastructure Frame
	Vehicle        Frame
	LabelPath      string
}
