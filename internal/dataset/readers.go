package dataset

import (
	"context"
	"image"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/v2x.prep/internal/fsutil"
)

// PointCloudReader loads a raw point cloud as an N×3 or N×4 matrix
// (x, y, z[, intensity]). Implementations should honour ctx, but the model
// does not depend on it.
type PointCloudReader interface {
	ReadPointCloud(ctx context.Context, path string) (*mat.Dense, error)
}

// ImageReader loads a camera image.
type ImageReader interface {
	ReadImage(ctx context.Context, path string) (image.Image, error)
}

// PointCloudReaderFunc adapts a function to PointCloudReader.
type PointCloudReaderFunc func(ctx context.Context, path string) (*mat.Dense, error)

func (f PointCloudReaderFunc) ReadPointCloud(ctx context.Context, path string) (*mat.Dense, error) {
	return f(ctx, path)
}

// ImageReaderFunc adapts a function to ImageReader.
type ImageReaderFunc func(ctx context.Context, path string) (image.Image, error)

func (f ImageReaderFunc) ReadImage(ctx context.Context, path string) (image.Image, error) {
	return f(ctx, path)
}

// Readers bundles the external loaders a Model uses. Labels is where label
// JSON files are read from.
type Readers struct {
	PointCloud PointCloudReader
	Image      ImageReader
	Labels     fsutil.FileSystem
}
