package sensorio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/v2x.prep/internal/fsutil"
)

// binColumns is the row layout of .bin clouds: x, y, z, intensity as
// little-endian float32.
const binColumns = 4

// PointCloudReader implements dataset.PointCloudReader over a FileSystem.
type PointCloudReader struct {
	FS fsutil.FileSystem
}

// NewPointCloudReader returns a reader over fsys, or the OS filesystem when
// fsys is nil.
func NewPointCloudReader(fsys fsutil.FileSystem) *PointCloudReader {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &PointCloudReader{FS: fsys}
}

// ReadPointCloud returns an N×3 or N×4 matrix. The format is chosen by
// extension after any compression suffix is removed.
func (r *PointCloudReader) ReadPointCloud(ctx context.Context, path string) (*mat.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := r.FS.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name, data, err := decompress(path, data)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".bin":
		return decodeBin(data)
	case ".pcd":
		return decodePCD(data)
	default:
		return nil, fmt.Errorf("unsupported point cloud format %q", ext)
	}
}

func decodeBin(data []byte) (*mat.Dense, error) {
	const rowBytes = binColumns * 4
	if len(data)%rowBytes != 0 {
		return nil, fmt.Errorf("bin cloud size %d is not a multiple of %d", len(data), rowBytes)
	}
	n := len(data) / rowBytes
	if n == 0 {
		return &mat.Dense{}, nil
	}
	vals := make([]float64, n*binColumns)
	for i := range vals {
		vals[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
	}
	return mat.NewDense(n, binColumns, vals), nil
}

// EncodeBin is the inverse of the .bin decoder. It is used to write test
// fixtures and exported clouds.
func EncodeBin(m *mat.Dense) ([]byte, error) {
	if m == nil || m.IsEmpty() {
		return nil, nil
	}
	r, c := m.Dims()
	if c < 3 {
		return nil, fmt.Errorf("need at least 3 columns, got %d", c)
	}
	out := make([]byte, r*binColumns*4)
	for i := 0; i < r; i++ {
		for j := 0; j < binColumns; j++ {
			var v float64
			if j < c {
				v = m.At(i, j)
			}
			binary.LittleEndian.PutUint32(out[(i*binColumns+j)*4:], math.Float32bits(float32(v)))
		}
	}
	return out, nil
}
