package config

import "time"

// Settings is the resolved, immutable view of a PreprocessConfig. It is a
// plain value: copies are independent and nothing in it is shared.
type Settings struct {
	DataRoot        string
	Split           string
	Sensor          SensorType
	SplitDataPath   string
	PointCloudRange [6]float64
	VoxelSize       float64
	LoadTimeout     time.Duration
	LoadRate        float64
	SampleCap       int
	Workers         int
	BatchSize       int
	PointCloudStats bool
}

// Settings resolves every field, applying defaults.
func (c *PreprocessConfig) Settings() Settings {
	return Settings{
		DataRoot:        c.GetDataRoot(),
		Split:           c.GetSplit(),
		Sensor:          c.GetSensorType(),
		SplitDataPath:   c.GetSplitDataPath(),
		PointCloudRange: c.GetPointCloudRange(),
		VoxelSize:       c.GetVoxelSize(),
		LoadTimeout:     c.GetLoadTimeout(),
		LoadRate:        c.GetLoadRate(),
		SampleCap:       c.GetSampleCap(),
		Workers:         c.GetWorkers(),
		BatchSize:       c.GetBatchSize(),
		PointCloudStats: c.GetPointCloudStats(),
	}
}

// DefaultSettings resolves an empty config.
func DefaultSettings() Settings {
	return EmptyPreprocessConfig().Settings()
}
