package sensorio

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/banshee-data/v2x.prep/internal/fsutil"
)

// ImageReader implements dataset.ImageReader over a FileSystem.
type ImageReader struct {
	FS fsutil.FileSystem
}

// NewImageReader returns a reader over fsys, or the OS filesystem when fsys
// is nil.
func NewImageReader(fsys fsutil.FileSystem) *ImageReader {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &ImageReader{FS: fsys}
}

// ReadImage decodes the image at path.
func (r *ImageReader) ReadImage(ctx context.Context, path string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := r.FS.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return img, nil
}
