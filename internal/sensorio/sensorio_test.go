package sensorio

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/v2x.prep/internal/fsutil"
)

var sampleCloud = mat.NewDense(3, 4, []float64{
	0, 0, 0, 10,
	1.5, -2.25, 0.5, 50,
	100, 100, 100, 300,
})

func binBytes(t *testing.T) []byte {
	t.Helper()
	data, err := EncodeBin(sampleCloud)
	require.NoError(t, err)
	return data
}

func TestReadPointCloud_Bin(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("/d/000001.bin", binBytes(t), 0o644))

	got, err := NewPointCloudReader(fsys).ReadPointCloud(context.Background(), "/d/000001.bin")
	require.NoError(t, err)
	assert.True(t, mat.Equal(sampleCloud, got))
}

func TestReadPointCloud_Compressed(t *testing.T) {
	raw := binBytes(t)
	fsys := fsutil.NewMemoryFileSystem()

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	require.NoError(t, fsys.WriteFile("/d/a.bin.zst", enc.EncodeAll(raw, nil), 0o644))
	require.NoError(t, enc.Close())

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	_, err = zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, fsys.WriteFile("/d/a.bin.lz4", buf.Bytes(), 0o644))

	r := NewPointCloudReader(fsys)
	for _, path := range []string{"/d/a.bin.zst", "/d/a.bin.lz4"} {
		got, err := r.ReadPointCloud(context.Background(), path)
		require.NoError(t, err, path)
		assert.True(t, mat.Equal(sampleCloud, got), path)
	}

	require.NoError(t, fsys.WriteFile("/d/bad.bin.zst", []byte("not zstd"), 0o644))
	_, err = r.ReadPointCloud(context.Background(), "/d/bad.bin.zst")
	assert.ErrorContains(t, err, "zstd decode")
}

const asciiPCD = `# .PCD v0.7 - Point Cloud Data file format
VERSION 0.7
FIELDS x y z intensity
SIZE 4 4 4 4
TYPE F F F F
COUNT 1 1 1 1
WIDTH 3
HEIGHT 1
VIEWPOINT 0 0 0 1 0 0 0
POINTS 3
DATA ascii
0 0 0 10
1.5 -2.25 0.5 50
100 100 100 300
`

func TestReadPointCloud_PCDASCII(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("/d/000001.pcd", []byte(asciiPCD), 0o644))

	got, err := NewPointCloudReader(fsys).ReadPointCloud(context.Background(), "/d/000001.pcd")
	require.NoError(t, err)
	assert.True(t, mat.Equal(sampleCloud, got))
}

func TestReadPointCloud_PCDBinary(t *testing.T) {
	// Fields deliberately out of the usual order with an extra ring field.
	header := "VERSION 0.7\nFIELDS intensity x y z ring\nSIZE 1 4 4 4 2\nTYPE U F F F U\nCOUNT 1 1 1 1 1\n" +
		"WIDTH 2\nHEIGHT 1\nPOINTS 2\nDATA binary\n"
	var body bytes.Buffer
	body.WriteString(header)
	for _, p := range [][4]float32{{7, 1, 2, 3}, {255, -1, -2, -3}} {
		body.WriteByte(byte(p[0]))
		for _, v := range p[1:] {
			require.NoError(t, binary.Write(&body, binary.LittleEndian, math.Float32bits(v)))
		}
		require.NoError(t, binary.Write(&body, binary.LittleEndian, uint16(9)))
	}

	got, err := decodePCD(body.Bytes())
	require.NoError(t, err)
	want := mat.NewDense(2, 4, []float64{1, 2, 3, 7, -1, -2, -3, 255})
	assert.True(t, mat.Equal(want, got))
}

func TestReadPointCloud_PCDWithoutIntensity(t *testing.T) {
	pcd := "FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nWIDTH 1\nHEIGHT 1\nDATA ascii\n1 2 3\n"
	got, err := decodePCD([]byte(pcd))
	require.NoError(t, err)
	r, c := got.Dims()
	assert.Equal(t, 1, r)
	assert.Equal(t, 3, c)
}

func TestReadPointCloud_Errors(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("/d/odd.bin", make([]byte, 15), 0o644))
	require.NoError(t, fsys.WriteFile("/d/x.ply", []byte("ply"), 0o644))
	require.NoError(t, fsys.WriteFile("/d/short.pcd", []byte("FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nPOINTS 2\nDATA ascii\n1 2 3\n"), 0o644))
	require.NoError(t, fsys.WriteFile("/d/nox.pcd", []byte("FIELDS a b c\nSIZE 4 4 4\nTYPE F F F\nPOINTS 0\nDATA ascii\n"), 0o644))
	r := NewPointCloudReader(fsys)

	tests := []struct {
		path string
		msg  string
	}{
		{"/d/odd.bin", "not a multiple"},
		{"/d/x.ply", "unsupported point cloud format"},
		{"/d/short.pcd", "ended after 1 of 2"},
		{"/d/nox.pcd", "no x field"},
		{"/d/missing.bin", "file does not exist"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := r.ReadPointCloud(context.Background(), tt.path)
			assert.ErrorContains(t, err, tt.msg)
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.ReadPointCloud(ctx, "/d/odd.bin")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadPointCloud_PCDCorruptHeader(t *testing.T) {
	const fields = "FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\n"
	tests := []struct {
		name string
		pcd  string
		msg  string
	}{
		{"huge points binary", fields + "POINTS 3000000000000000000\nDATA binary\n" + strings.Repeat("\x00", 12), "declares 3000000000000000000 points"},
		{"huge points ascii", fields + "POINTS 3000000000000000000\nDATA ascii\n1 2 3\n", "declares 3000000000000000000 points"},
		{"width height overflow", fields + "WIDTH 4611686018427387904\nHEIGHT 4\nDATA binary\n", "overflow"},
		{"negative points", fields + "POINTS -5\nDATA ascii\n", "invalid pcd POINTS"},
		{"negative width", fields + "WIDTH -1\nHEIGHT 1\nDATA ascii\n", "invalid pcd WIDTH"},
		{"bad size", "FIELDS x y z\nSIZE 4 4 9223372036854775807\nTYPE F F F\nPOINTS 1\nDATA binary\n", "invalid pcd SIZE"},
		{"huge count", fields + "COUNT 1 1 9223372036854775807\nPOINTS 1\nDATA binary\n", "invalid pcd COUNT"},
		{"unknown data", fields + "POINTS 1\nDATA binary_compressed\n", "unsupported pcd data type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			require.NotPanics(t, func() { _, err = decodePCD([]byte(tt.pcd)) })
			assert.ErrorContains(t, err, tt.msg)
		})
	}
}

func TestEncodeBin_PadsMissingIntensity(t *testing.T) {
	data, err := EncodeBin(mat.NewDense(1, 3, []float64{1, 2, 3}))
	require.NoError(t, err)
	got, err := decodeBin(data)
	require.NoError(t, err)
	assert.True(t, mat.Equal(mat.NewDense(1, 4, []float64{1, 2, 3, 0}), got))

	data, err = EncodeBin(nil)
	assert.NoError(t, err)
	assert.Nil(t, data)
}

func TestReadImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for x := 0; x < 4; x++ {
		for y := 0; y < 2; y++ {
			img.Set(x, y, color.RGBA{A: 255})
		}
	}
	img.Set(1, 1, color.RGBA{R: 200, A: 255})

	var pngBuf, bmpBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, img))
	require.NoError(t, bmp.Encode(&bmpBuf, img))

	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("/d/a.png", pngBuf.Bytes(), 0o644))
	require.NoError(t, fsys.WriteFile("/d/a.bmp", bmpBuf.Bytes(), 0o644))
	require.NoError(t, fsys.WriteFile("/d/a.jpg", []byte("garbage"), 0o644))

	r := NewImageReader(fsys)
	for _, path := range []string{"/d/a.png", "/d/a.bmp"} {
		got, err := r.ReadImage(context.Background(), path)
		require.NoError(t, err, path)
		assert.Equal(t, img.Bounds(), got.Bounds(), path)
		red, _, _, _ := got.At(1, 1).RGBA()
		assert.Equal(t, uint32(200)*0x101, red, path)
	}

	_, err := r.ReadImage(context.Background(), "/d/a.jpg")
	assert.ErrorContains(t, err, "decode image")
}
