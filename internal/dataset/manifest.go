package dataset

import (
	"encoding/json"
	"fmt"

	"github.com/banshee-data/v2x.prep/internal/fsutil"
)

// SplitManifest is the cooperative split file: for each partition, the frame
// ids belonging to each split.
type SplitManifest struct {
	InfrastructureSplit map[string][]string `json:"infrastructure_split"`
	VehicleSplit        map[string][]string `json:"vehicle_split"`
	CooperativeSplit    map[string][]string `json:"cooperative_split"`
}

// ParseSplitManifest decodes manifest JSON.
func ParseSplitManifest(data []byte) (*SplitManifest, error) {
	var m SplitManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode split manifest: %w", err)
	}
	return &m, nil
}

// LoadSplitManifest reads and decodes the manifest at path.
func LoadSplitManifest(fsys fsutil.FileSystem, path string) (*SplitManifest, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read split manifest: %w", err)
	}
	return ParseSplitManifest(data)
}

// IDs returns the frame ids of side in split. ok is false when the manifest
// has no entry for that split.
func (m *SplitManifest) IDs(side Side, split string) (ids []string, ok bool) {
	var bySplit map[string][]string
	switch side {
	case SideInfrastructure:
		bySplit = m.InfrastructureSplit
	case SideVehicle:
		bySplit = m.VehicleSplit
	case SideCooperative:
		bySplit = m.CooperativeSplit
	}
	ids, ok = bySplit[split]
	return ids, ok
}
