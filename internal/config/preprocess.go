package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
)

// DefaultConfigPath is the path to the canonical preprocessing defaults file.
const DefaultConfigPath = "config/preprocess.defaults.json"

// SensorType selects which raw payload a frame load fetches.
type SensorType string

const (
	SensorLidar  SensorType = "lidar"
	SensorCamera SensorType = "camera"
)

// Valid reports whether s is a known sensor type.
func (s SensorType) Valid() bool {
	return s == SensorLidar || s == SensorCamera
}

// PreprocessConfig is the on-disk configuration. Every field is optional;
// the Get* accessors supply defaults for anything left out, so partial files
// are safe.
type PreprocessConfig struct {
	// Dataset location
	DataRoot      *string `json:"data_root,omitempty"`
	Split         *string `json:"split,omitempty"` // train | val | test
	SensorType    *string `json:"sensor_type,omitempty"`
	SplitDataPath *string `json:"split_data_path,omitempty"` // relative to the working directory

	// Point-cloud preprocessing
	PointCloudRange []float64 `json:"point_cloud_range,omitempty"` // [xmin, ymin, zmin, xmax, ymax, zmax]
	VoxelSize       *float64  `json:"voxel_size,omitempty"`

	// Frame loading
	LoadTimeout *string  `json:"load_timeout,omitempty"` // duration string like "10s"
	LoadRate    *float64 `json:"load_rate,omitempty"`    // loads per second, 0 = unlimited

	// Statistics and batch processing
	SampleCap       *int  `json:"sample_cap,omitempty"`
	Workers         *int  `json:"workers,omitempty"`
	BatchSize       *int  `json:"batch_size,omitempty"`
	PointCloudStats *bool `json:"pointcloud_stats,omitempty"`
}

var defaultPointCloudRange = [6]float64{-75.2, -75.2, -2, 75.2, 75.2, 4}

// EmptyPreprocessConfig returns a config with every field unset.
func EmptyPreprocessConfig() *PreprocessConfig {
	return &PreprocessConfig{}
}

// LoadPreprocessConfig loads a PreprocessConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadPreprocessConfig(path string) (*PreprocessConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParsePreprocessConfig(data)
}

// ParsePreprocessConfig decodes and validates JSON config bytes.
func ParsePreprocessConfig(data []byte) (*PreprocessConfig, error) {
	cfg := EmptyPreprocessConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root.
// Panics if the file cannot be loaded; intended for tests and binaries.
func MustLoadDefaultConfig() *PreprocessConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/lidar/prep/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadPreprocessConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks every set field and reports all problems at once.
func (c *PreprocessConfig) Validate() error {
	var errs error

	if c.SensorType != nil && !SensorType(*c.SensorType).Valid() {
		errs = multierr.Append(errs, fmt.Errorf("sensor_type must be %q or %q, got %q", SensorLidar, SensorCamera, *c.SensorType))
	}

	if c.Split != nil && *c.Split == "" {
		errs = multierr.Append(errs, fmt.Errorf("split must not be empty"))
	}

	if c.PointCloudRange != nil {
		r := c.PointCloudRange
		if len(r) != 6 {
			errs = multierr.Append(errs, fmt.Errorf("point_cloud_range must have 6 values, got %d", len(r)))
		} else {
			for axis, name := range []string{"x", "y", "z"} {
				if !(r[axis] <= r[axis+3]) {
					errs = multierr.Append(errs, fmt.Errorf("point_cloud_range %s min %g exceeds max %g", name, r[axis], r[axis+3]))
				}
			}
		}
	}

	if c.VoxelSize != nil {
		if v := *c.VoxelSize; !(v > 0) || math.IsInf(v, 1) {
			errs = multierr.Append(errs, fmt.Errorf("voxel_size must be positive, got %g", v))
		}
	}

	if c.LoadTimeout != nil && *c.LoadTimeout != "" {
		d, err := time.ParseDuration(*c.LoadTimeout)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("invalid load_timeout '%s': %w", *c.LoadTimeout, err))
		} else if d <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("load_timeout must be positive, got %s", d))
		}
	}

	if c.LoadRate != nil && *c.LoadRate < 0 {
		errs = multierr.Append(errs, fmt.Errorf("load_rate must be non-negative, got %g", *c.LoadRate))
	}
	if c.SampleCap != nil && *c.SampleCap < 0 {
		errs = multierr.Append(errs, fmt.Errorf("sample_cap must be non-negative, got %d", *c.SampleCap))
	}
	if c.Workers != nil && *c.Workers < 1 {
		errs = multierr.Append(errs, fmt.Errorf("workers must be at least 1, got %d", *c.Workers))
	}
	if c.BatchSize != nil && *c.BatchSize < 0 {
		errs = multierr.Append(errs, fmt.Errorf("batch_size must be non-negative, got %d", *c.BatchSize))
	}

	return errs
}

// GetDataRoot returns the data_root value or the default.
func (c *PreprocessConfig) GetDataRoot() string {
	if c.DataRoot == nil || *c.DataRoot == "" {
		return "data/DAIR-V2X"
	}
	return *c.DataRoot
}

// GetSplit returns the split value or the default.
func (c *PreprocessConfig) GetSplit() string {
	if c.Split == nil {
		return "train"
	}
	return *c.Split
}

// GetSensorType returns the sensor_type value or the default.
func (c *PreprocessConfig) GetSensorType() SensorType {
	if c.SensorType == nil {
		return SensorLidar
	}
	return SensorType(*c.SensorType)
}

// GetSplitDataPath returns the split manifest path. Relative paths are
// relative to the working directory, not to data_root.
func (c *PreprocessConfig) GetSplitDataPath() string {
	if c.SplitDataPath == nil || *c.SplitDataPath == "" {
		return "data/split_datas/cooperative-split-data.json"
	}
	return filepath.Clean(*c.SplitDataPath)
}

// GetPointCloudRange returns the point_cloud_range value or the default.
func (c *PreprocessConfig) GetPointCloudRange() [6]float64 {
	if len(c.PointCloudRange) != 6 {
		return defaultPointCloudRange
	}
	var out [6]float64
	copy(out[:], c.PointCloudRange)
	return out
}

// GetVoxelSize returns the voxel_size value or the default.
func (c *PreprocessConfig) GetVoxelSize() float64 {
	if c.VoxelSize == nil {
		return 0.1
	}
	return *c.VoxelSize
}

// GetLoadTimeout parses and returns load_timeout as a time.Duration.
func (c *PreprocessConfig) GetLoadTimeout() time.Duration {
	if c.LoadTimeout == nil || *c.LoadTimeout == "" {
		return 10 * time.Second // default
	}
	d, err := time.ParseDuration(*c.LoadTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second // default on parse error
	}
	return d
}

// GetLoadRate returns the load_rate value or the default (unlimited).
func (c *PreprocessConfig) GetLoadRate() float64 {
	if c.LoadRate == nil {
		return 0
	}
	return *c.LoadRate
}

// GetSampleCap returns the sample_cap value or the default.
func (c *PreprocessConfig) GetSampleCap() int {
	if c.SampleCap == nil {
		return 100
	}
	return *c.SampleCap
}

// GetWorkers returns the workers value or the default.
func (c *PreprocessConfig) GetWorkers() int {
	if c.Workers == nil {
		return 4
	}
	return *c.Workers
}

// GetBatchSize returns the batch_size value or the default.
func (c *PreprocessConfig) GetBatchSize() int {
	if c.BatchSize == nil {
		return 5
	}
	return *c.BatchSize
}

// GetPointCloudStats returns the pointcloud_stats value or the default.
func (c *PreprocessConfig) GetPointCloudStats() bool {
	if c.PointCloudStats == nil {
		return false
	}
	return *c.PointCloudStats
}
