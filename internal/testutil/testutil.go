// Package testutil provides shared test utilities and fixtures.
//
// The dataset fixture writes a small DAIR-V2X style tree (split manifest,
// per-side frame records, label files) so dataset, stats and CLI tests share
// one layout.
package testutil

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/v2x.prep/internal/config"
	"github.com/banshee-data/v2x.prep/internal/fsutil"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// LabelRecord is one entry of a label file as written to disk.
type LabelRecord map[string]any

// Box returns a well-formed label record of the given type centred at
// (x, y, z) with unit dimensions.
func Box(class string, x, y, z float64) LabelRecord {
	return LabelRecord{
		"type":          class,
		"3d_location":   map[string]float64{"x": x, "y": y, "z": z},
		"3d_dimensions": map[string]float64{"l": 1, "w": 1, "h": 1},
		"rotation":      0.0,
	}
}

// FrameSpec describes one side frame. Labels maps a view name ("lidar",
// "camera") to its records; a view absent from the map gets no label path.
// RawLabels overrides the file contents for a view.
type FrameSpec struct {
	ID        string
	Split     string
	Labels    map[string][]LabelRecord
	RawLabels map[string]string
}

// PairSpec links an infrastructure and a vehicle frame id.
type PairSpec struct {
	Infrastructure string
	Vehicle        string
	Split          string
	Labels         []LabelRecord
}

// DatasetSpec is the whole fixture. Frames whose Split is empty belong to
// DatasetSpec.Split.
type DatasetSpec struct {
	Split          string
	Infrastructure []FrameSpec
	Vehicle        []FrameSpec
	Pairs          []PairSpec
}

// Paths used by the fixture, relative to the data root.
const (
	SplitManifestPath = "split_datas/cooperative-split-data.json"
)

// PointCloudPath is where the fixture points a side frame's cloud.
func PointCloudPath(root, sideDir, id string) string {
	return filepath.Join(root, sideDir, "velodyne", id+".bin")
}

// ImagePath is where the fixture points a side frame's image.
func ImagePath(root, sideDir, id string) string {
	return filepath.Join(root, sideDir, "image", id+".jpg")
}

// WriteDataset writes spec under root and returns settings pointing at it.
func WriteDataset(t testing.TB, fsys fsutil.FileSystem, root string, spec DatasetSpec) config.Settings {
	t.Helper()
	if spec.Split == "" {
		spec.Split = "train"
	}

	manifest := map[string]map[string][]string{
		"infrastructure_split": {},
		"vehicle_split":        {},
		"cooperative_split":    {},
	}
	for _, split := range []string{spec.Split, "val"} {
		manifest["infrastructure_split"][split] = []string{}
		manifest["vehicle_split"][split] = []string{}
		manifest["cooperative_split"][split] = []string{}
	}
	splitOf := func(s string) string {
		if s == "" {
			return spec.Split
		}
		return s
	}

	sides := []struct {
		key, dir string
		frames   []FrameSpec
	}{
		{"infrastructure_split", "infrastructure-side", spec.Infrastructure},
		{"vehicle_split", "vehicle-side", spec.Vehicle},
	}
	for _, side := range sides {
		infos := make([]map[string]string, 0, len(side.frames))
		for _, f := range side.frames {
			split := splitOf(f.Split)
			manifest[side.key][split] = append(manifest[side.key][split], f.ID)
			info := map[string]string{
				"pointcloud_path": "velodyne/" + f.ID + ".bin",
				"image_path":      "image/" + f.ID + ".jpg",
			}
			for view, key := range map[string]string{
				"lidar":  "label_lidar_std_path",
				"camera": "label_camera_std_path",
			} {
				records, hasRecords := f.Labels[view]
				raw, hasRaw := f.RawLabels[view]
				if !hasRecords && !hasRaw {
					continue
				}
				rel := filepath.Join("label", view, f.ID+".json")
				info[key] = rel
				path := filepath.Join(root, side.dir, rel)
				if hasRaw {
					writeFile(t, fsys, path, []byte(raw))
				} else {
					writeJSON(t, fsys, path, records)
				}
			}
			infos = append(infos, info)
		}
		writeJSON(t, fsys, filepath.Join(root, side.dir, "data_info.json"), infos)
	}

	coop := make([]map[string]string, 0, len(spec.Pairs))
	for _, p := range spec.Pairs {
		split := splitOf(p.Split)
		manifest["cooperative_split"][split] = append(manifest["cooperative_split"][split], p.Vehicle)
		info := map[string]string{
			"infrastructure_pointcloud_path": "infrastructure-side/velodyne/" + p.Infrastructure + ".bin",
			"infrastructure_image_path":      "infrastructure-side/image/" + p.Infrastructure + ".jpg",
			"vehicle_pointcloud_path":        "vehicle-side/velodyne/" + p.Vehicle + ".bin",
			"vehicle_image_path":             "vehicle-side/image/" + p.Vehicle + ".jpg",
		}
		if p.Labels != nil {
			rel := fmt.Sprintf("cooperative/label_world/%s.json", p.Vehicle)
			info["cooperative_label_path"] = rel
			writeJSON(t, fsys, filepath.Join(root, rel), p.Labels)
		}
		coop = append(coop, info)
	}
	writeJSON(t, fsys, filepath.Join(root, "cooperative", "data_info.json"), coop)
	writeJSON(t, fsys, filepath.Join(root, SplitManifestPath), manifest)

	s := config.DefaultSettings()
	s.DataRoot = root
	s.Split = spec.Split
	s.SplitDataPath = filepath.Join(root, SplitManifestPath)
	s.LoadTimeout = 2 * time.Second
	return s
}

func writeJSON(t testing.TB, fsys fsutil.FileSystem, path string, v any) {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	AssertNoError(t, err)
	writeFile(t, fsys, path, data)
}

func writeFile(t testing.TB, fsys fsutil.FileSystem, path string, data []byte) {
	t.Helper()
	AssertNoError(t, fsys.MkdirAll(filepath.Dir(path), 0o755))
	AssertNoError(t, fsys.WriteFile(path, data, 0o644))
}
