package dataset

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/v2x.prep/internal/config"
	"github.com/banshee-data/v2x.prep/internal/fsutil"
	"github.com/banshee-data/v2x.prep/internal/lidar/labels"
	"github.com/banshee-data/v2x.prep/internal/monitoring"
	"github.com/banshee-data/v2x.prep/internal/security"
)

// Dataset tree layout, relative to the data root.
const (
	InfrastructureDir = "infrastructure-side"
	VehicleDir        = "vehicle-side"
	CooperativeDir    = "cooperative"
	DataInfoFile      = "data_info.json"
)

// frameInfo is one entry of a side's data_info.json.
type frameInfo struct {
	FrameID            string `json:"frame_id,omitempty"`
	PointCloudPath     string `json:"pointcloud_path"`
	ImagePath          string `json:"image_path"`
	LabelLidarStdPath  string `json:"label_lidar_std_path,omitempty"`
	LabelCameraStdPath string `json:"label_camera_std_path,omitempty"`
}

// cooperativeInfo is one entry of cooperative/data_info.json. Paths are
// relative to the data root.
type cooperativeInfo struct {
	InfrastructurePointCloudPath string `json:"infrastructure_pointcloud_path"`
	InfrastructureImagePath      string `json:"infrastructure_image_path"`
	VehiclePointCloudPath        string `json:"vehicle_pointcloud_path"`
	VehicleImagePath             string `json:"vehicle_image_path"`
	CooperativeLabelPath         string `json:"cooperative_label_path,omitempty"`
}

// Index is the resolved, split-filtered view of a dataset tree. It is
// read-only after construction.
type Index struct {
	Root  string
	Split string

	frames   map[Side][]Frame
	byID     map[Side]map[string]int
	pairs    []Pair
	pairByID map[string]int
}

// NewIndex builds lookup tables over already-resolved frames and pairs.
func NewIndex(root, split string, infrastructure, vehicle []Frame, pairs []Pair) *Index {
	ix := &Index{
		Root:  root,
		Split: split,
		frames: map[Side][]Frame{
			SideInfrastructure: infrastructure,
			SideVehicle:        vehicle,
		},
		byID:     make(map[Side]map[string]int, 2),
		pairs:    pairs,
		pairByID: make(map[string]int, len(pairs)),
	}
	for side, frames := range ix.frames {
		m := make(map[string]int, len(frames))
		for i, f := range frames {
			m[f.ID] = i
		}
		ix.byID[side] = m
	}
	for i, p := range pairs {
		ix.pairByID[p.ID] = i
	}
	return ix
}

// Count returns the number of frames (or pairs, for SideCooperative).
func (ix *Index) Count(side Side) int {
	if side == SideCooperative {
		return len(ix.pairs)
	}
	return len(ix.frames[side])
}

// Frame returns the i-th frame of side in split order.
func (ix *Index) Frame(side Side, i int) (Frame, error) {
	frames := ix.frames[side]
	if i < 0 || i >= len(frames) {
		return Frame{}, fmt.Errorf("%w: %s index %d of %d", ErrFrameNotFound, side, i, len(frames))
	}
	return frames[i], nil
}

// FrameByID looks a frame up by its identifier.
func (ix *Index) FrameByID(side Side, id string) (Frame, error) {
	i, ok := ix.byID[side][id]
	if !ok {
		return Frame{}, fmt.Errorf("%w: %s id %q", ErrFrameNotFound, side, id)
	}
	return ix.frames[side][i], nil
}

// Frames returns a copy of the frames of side.
func (ix *Index) Frames(side Side) []Frame {
	return append([]Frame(nil), ix.frames[side]...)
}

// Pair returns the i-th cooperative pair in split order.
func (ix *Index) Pair(i int) (Pair, error) {
	if i < 0 || i >= len(ix.pairs) {
		return Pair{}, fmt.Errorf("%w: cooperative index %d of %d", ErrFrameNotFound, i, len(ix.pairs))
	}
	return ix.pairs[i], nil
}

// PairByID looks a cooperative pair up by its identifier.
func (ix *Index) PairByID(id string) (Pair, error) {
	i, ok := ix.pairByID[id]
	if !ok {
		return Pair{}, fmt.Errorf("%w: cooperative id %q", ErrFrameNotFound, id)
	}
	return ix.pairs[i], nil
}

// Pairs returns a copy of every cooperative pair.
func (ix *Index) Pairs() []Pair {
	return append([]Pair(nil), ix.pairs...)
}

// LoadIndex reads the split manifest and the three data_info files under
// s.DataRoot and keeps the frames listed for s.Split.
func LoadIndex(fsys fsutil.FileSystem, s config.Settings) (*Index, error) {
	manifest, err := LoadSplitManifest(fsys, s.SplitDataPath)
	if err != nil {
		return nil, err
	}

	sides := [2]struct {
		side Side
		dir  string
	}{
		{SideInfrastructure, InfrastructureDir},
		{SideVehicle, VehicleDir},
	}
	var loaded [2][]Frame
	for i, sd := range sides {
		ids, ok := manifest.IDs(sd.side, s.Split)
		if !ok {
			return nil, fmt.Errorf("split %q missing from %s split of manifest", s.Split, sd.side)
		}
		frames, err := loadSideFrames(fsys, s.DataRoot, sd.dir, sd.side)
		if err != nil {
			return nil, err
		}
		loaded[i] = keepListed(frames, ids, sd.side, func(f Frame) string { return f.ID })
	}

	coopIDs, ok := manifest.IDs(SideCooperative, s.Split)
	if !ok {
		return nil, fmt.Errorf("split %q missing from cooperative split of manifest", s.Split)
	}
	pairs, err := loadPairs(fsys, s.DataRoot, loaded[0], loaded[1])
	if err != nil {
		return nil, err
	}
	pairs = keepListed(pairs, coopIDs, SideCooperative, func(p Pair) string { return p.ID })

	monitoring.Logf("dataset index %s/%s: %d infrastructure, %d vehicle, %d cooperative frames",
		s.DataRoot, s.Split, len(loaded[0]), len(loaded[1]), len(pairs))
	return NewIndex(s.DataRoot, s.Split, loaded[0], loaded[1], pairs), nil
}

func loadSideFrames(fsys fsutil.FileSystem, root, dir string, side Side) ([]Frame, error) {
	sideRoot := filepath.Join(root, dir)
	infoPath := filepath.Join(sideRoot, DataInfoFile)
	data, err := fsys.ReadFile(infoPath)
	if err != nil {
		return nil, fmt.Errorf("read %s frame records: %w", side, err)
	}
	var infos []frameInfo
	if err := json.Unmarshal(data, &infos); err != nil {
		return nil, fmt.Errorf("decode %s: %w", infoPath, err)
	}

	frames := make([]Frame, 0, len(infos))
	for i, info := range infos {
		f, err := info.frame(sideRoot, side)
		if err != nil {
			return nil, fmt.Errorf("%s entry %d: %w", infoPath, i, err)
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func (info frameInfo) frame(sideRoot string, side Side) (Frame, error) {
	f := Frame{Side: side, ID: info.FrameID, LabelPaths: make(map[labels.View]string, 2)}
	if f.ID == "" {
		f.ID = frameIDFromPath(info.PointCloudPath)
	}
	if f.ID == "" {
		f.ID = frameIDFromPath(info.ImagePath)
	}
	if f.ID == "" {
		return Frame{}, fmt.Errorf("no frame id, pointcloud_path or image_path")
	}

	var err error
	if f.PointCloudPath, err = optionalPath(sideRoot, info.PointCloudPath); err != nil {
		return Frame{}, err
	}
	if f.ImagePath, err = optionalPath(sideRoot, info.ImagePath); err != nil {
		return Frame{}, err
	}
	for view, rel := range map[labels.View]string{
		labels.ViewLidar:  info.LabelLidarStdPath,
		labels.ViewCamera: info.LabelCameraStdPath,
	} {
		p, err := optionalPath(sideRoot, rel)
		if err != nil {
			return Frame{}, err
		}
		if p != "" {
			f.LabelPaths[view] = p
		}
	}
	return f, nil
}

func loadPairs(fsys fsutil.FileSystem, root string, infra, vehicle []Frame) ([]Pair, error) {
	infoPath := filepath.Join(root, CooperativeDir, DataInfoFile)
	data, err := fsys.ReadFile(infoPath)
	if err != nil {
		return nil, fmt.Errorf("read cooperative frame records: %w", err)
	}
	var infos []cooperativeInfo
	if err := json.Unmarshal(data, &infos); err != nil {
		return nil, fmt.Errorf("decode %s: %w", infoPath, err)
	}

	infraByID := framesByID(infra)
	vehicleByID := framesByID(vehicle)
	pairs := make([]Pair, 0, len(infos))
	for i, info := range infos {
		inf, err := pairedFrame(root, SideInfrastructure, info.InfrastructurePointCloudPath, info.InfrastructureImagePath, infraByID)
		if err != nil {
			return nil, fmt.Errorf("%s entry %d: %w", infoPath, i, err)
		}
		veh, err := pairedFrame(root, SideVehicle, info.VehiclePointCloudPath, info.VehicleImagePath, vehicleByID)
		if err != nil {
			return nil, fmt.Errorf("%s entry %d: %w", infoPath, i, err)
		}
		labelPath, err := optionalPath(root, info.CooperativeLabelPath)
		if err != nil {
			return nil, fmt.Errorf("%s entry %d: %w", infoPath, i, err)
		}
		pairs = append(pairs, Pair{ID: veh.ID, Infrastructure: inf, Vehicle: veh, LabelPath: labelPath})
	}
	return pairs, nil
}

// pairedFrame prefers the full side record (which carries label paths) and
// falls back to the paths listed in the cooperative record when the frame is
// outside the side's split.
func pairedFrame(root string, side Side, pcRel, imgRel string, known map[string]Frame) (Frame, error) {
	id := frameIDFromPath(pcRel)
	if id == "" {
		id = frameIDFromPath(imgRel)
	}
	if id == "" {
		return Frame{}, fmt.Errorf("no %s frame path", side)
	}
	if f, ok := known[id]; ok {
		return f, nil
	}
	f := Frame{Side: side, ID: id, LabelPaths: map[labels.View]string{}}
	var err error
	if f.PointCloudPath, err = optionalPath(root, pcRel); err != nil {
		return Frame{}, err
	}
	if f.ImagePath, err = optionalPath(root, imgRel); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func framesByID(frames []Frame) map[string]Frame {
	m := make(map[string]Frame, len(frames))
	for _, f := range frames {
		m[f.ID] = f
	}
	return m
}

// keepListed returns the items whose id is listed, in item order. Listed ids
// with no record are logged and otherwise ignored.
func keepListed[T any](items []T, ids []string, side Side, id func(T) string) []T {
	want := make(map[string]bool, len(ids))
	for _, i := range ids {
		want[i] = true
	}
	out := make([]T, 0, len(ids))
	found := make(map[string]bool, len(ids))
	for _, it := range items {
		if i := id(it); want[i] {
			out = append(out, it)
			found[i] = true
		}
	}
	var missing []string
	for _, i := range ids {
		if !found[i] {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 {
		monitoring.Logf("dataset index: %d %s ids listed in the split have no data_info record: %s",
			len(missing), side, strings.Join(missing, ", "))
	}
	return out
}

func optionalPath(root, rel string) (string, error) {
	if rel == "" {
		return "", nil
	}
	return security.ResolveDatasetPath(root, rel)
}

// frameIDFromPath returns the file stem, ignoring a compression suffix:
// "velodyne/000009.pcd" and "velodyne/000009.bin.zst" both give "000009".
func frameIDFromPath(p string) string {
	if p == "" {
		return ""
	}
	base := filepath.Base(p)
	switch filepath.Ext(base) {
	case ".zst", ".lz4":
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
