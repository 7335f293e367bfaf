package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/v2x.prep/internal/config"
	"github.com/banshee-data/v2x.prep/internal/fsutil"
	"github.com/banshee-data/v2x.prep/internal/lidar/labels"
	"github.com/banshee-data/v2x.prep/internal/monitoring"
	"github.com/banshee-data/v2x.prep/internal/testutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func fixture(t *testing.T) (*fsutil.MemoryFileSystem, config.Settings) {
	t.Helper()
	fsys := fsutil.NewMemoryFileSystem()
	s := testutil.WriteDataset(t, fsys, "/data", testutil.DatasetSpec{
		Infrastructure: []testutil.FrameSpec{
			{ID: "000009", Labels: map[string][]testutil.LabelRecord{
				"lidar":  {testutil.Box("Car", 1, 2, 0), testutil.Box("Bus", 200, 0, 0)},
				"camera": {testutil.Box("Pedestrian", 3, 3, 0), {"type": "Car"}},
			}},
			{ID: "000010", RawLabels: map[string]string{"camera": "{broken"}},
			{ID: "000011", Split: "val"},
			{ID: "000012"},
		},
		Vehicle: []testutil.FrameSpec{
			{ID: "015404", Labels: map[string][]testutil.LabelRecord{"lidar": {testutil.Box("Van", 0, 0, 0)}}},
			{ID: "015405"},
		},
		Pairs: []testutil.PairSpec{
			{Infrastructure: "000009", Vehicle: "015404", Labels: []testutil.LabelRecord{testutil.Box("Truck", 5, 5, 0)}},
			{Infrastructure: "000011", Vehicle: "015405"},
			{Infrastructure: "000012", Vehicle: "015406", Split: "val"},
		},
	})
	return fsys, s
}

type fakeReaders struct {
	clouds atomic.Int32
	images atomic.Int32
	cloud  func(ctx context.Context, path string) (*mat.Dense, error)
}

func (f *fakeReaders) readers(fsys fsutil.FileSystem) Readers {
	return Readers{
		PointCloud: PointCloudReaderFunc(func(ctx context.Context, path string) (*mat.Dense, error) {
			f.clouds.Add(1)
			if f.cloud != nil {
				return f.cloud(ctx, path)
			}
			return mat.NewDense(2, 4, []float64{0, 0, 0, 10, 1, 1, 1, 300}), nil
		}),
		Image: ImageReaderFunc(func(ctx context.Context, path string) (image.Image, error) {
			f.images.Add(1)
			return image.NewGray(image.Rect(0, 0, 4, 3)), nil
		}),
		Labels: fsys,
	}
}

func newModel(t *testing.T, s config.Settings, fsys fsutil.FileSystem, f *fakeReaders) (*Model, *monitoring.Collector) {
	t.Helper()
	ix, err := LoadIndex(fsys, s)
	require.NoError(t, err)
	var diags monitoring.Collector
	m, err := NewModel(s, ix, f.readers(fsys), WithReporter(&diags))
	require.NoError(t, err)
	return m, &diags
}

func TestLoadIndex_SplitFiltering(t *testing.T) {
	fsys, s := fixture(t)
	ix, err := LoadIndex(fsys, s)
	require.NoError(t, err)

	assert.Equal(t, 3, ix.Count(SideInfrastructure))
	assert.Equal(t, 2, ix.Count(SideVehicle))
	assert.Equal(t, 2, ix.Count(SideCooperative))

	var ids []string
	for _, f := range ix.Frames(SideInfrastructure) {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []string{"000009", "000010", "000012"}, ids)

	f, err := ix.Frame(SideInfrastructure, 0)
	require.NoError(t, err)
	assert.Equal(t, "/data/infrastructure-side/velodyne/000009.bin", f.PointCloudPath)
	assert.Equal(t, "/data/infrastructure-side/image/000009.jpg", f.ImagePath)
	assert.Equal(t, "/data/infrastructure-side/label/lidar/000009.json", f.LabelPath(labels.ViewLidar))
	assert.Equal(t, "/data/infrastructure-side/label/camera/000009.json", f.LabelPath(labels.ViewCamera))

	s.Split = "val"
	val, err := LoadIndex(fsys, s)
	require.NoError(t, err)
	assert.Equal(t, 1, val.Count(SideInfrastructure))
	assert.Equal(t, 0, val.Count(SideVehicle))
	assert.Equal(t, 1, val.Count(SideCooperative))
}

func TestLoadIndex_Pairs(t *testing.T) {
	fsys, s := fixture(t)
	ix, err := LoadIndex(fsys, s)
	require.NoError(t, err)

	p, err := ix.PairByID("015404")
	require.NoError(t, err)
	assert.Equal(t, "000009", p.Infrastructure.ID)
	assert.Equal(t, "015404", p.Vehicle.ID)
	assert.Equal(t, "/data/cooperative/label_world/015404.json", p.LabelPath)
	assert.NotEmpty(t, p.Infrastructure.LabelPaths, "pair frames come from the side index when available")

	// 000011 is outside the train split, so its half is built from the
	// cooperative record alone.
	p, err = ix.Pair(1)
	require.NoError(t, err)
	assert.Equal(t, "000011", p.Infrastructure.ID)
	assert.Equal(t, "/data/infrastructure-side/velodyne/000011.bin", p.Infrastructure.PointCloudPath)
	assert.Empty(t, p.Infrastructure.LabelPaths)
	assert.Empty(t, p.LabelPath)
}

func TestLoadIndex_Errors(t *testing.T) {
	t.Run("missing manifest", func(t *testing.T) {
		fsys, s := fixture(t)
		s.SplitDataPath = "/data/nope.json"
		_, err := LoadIndex(fsys, s)
		assert.ErrorContains(t, err, "read split manifest")
	})
	t.Run("unknown split", func(t *testing.T) {
		fsys, s := fixture(t)
		s.Split = "test"
		_, err := LoadIndex(fsys, s)
		assert.ErrorContains(t, err, `split "test" missing`)
	})
	t.Run("missing side records", func(t *testing.T) {
		fsys := fsutil.NewMemoryFileSystem()
		s := testutil.WriteDataset(t, fsys, "/d", testutil.DatasetSpec{})
		require.NoError(t, fsys.WriteFile("/d/vehicle-side/data_info.json", []byte("{"), 0o644))
		_, err := LoadIndex(fsys, s)
		assert.ErrorContains(t, err, "decode /d/vehicle-side/data_info.json")
	})
	t.Run("path escapes root", func(t *testing.T) {
		fsys, s := fixture(t)
		require.NoError(t, fsys.WriteFile("/data/infrastructure-side/data_info.json",
			[]byte(`[{"pointcloud_path": "../../etc/000009.bin"}]`), 0o644))
		_, err := LoadIndex(fsys, s)
		assert.ErrorContains(t, err, "path traversal")
	})
}

func TestParseSplitManifest(t *testing.T) {
	m, err := ParseSplitManifest([]byte(`{"cooperative_split": {"train": ["1", "2"]}}`))
	require.NoError(t, err)
	ids, ok := m.IDs(SideCooperative, "train")
	assert.True(t, ok)
	assert.Equal(t, []string{"1", "2"}, ids)
	_, ok = m.IDs(SideVehicle, "train")
	assert.False(t, ok)

	_, err = ParseSplitManifest([]byte("[]"))
	assert.Error(t, err)
}

func TestFrameIDFromPath(t *testing.T) {
	assert.Equal(t, "000009", frameIDFromPath("velodyne/000009.pcd"))
	assert.Equal(t, "000009", frameIDFromPath("000009"))
	assert.Equal(t, "", frameIDFromPath(""))
	assert.Equal(t, "000009", frameIDFromPath("velodyne/000009.bin.zst"))
	assert.Equal(t, "000009", frameIDFromPath("velodyne/000009.pcd.lz4"))
	assert.Equal(t, "000009", frameIDFromPath("000009.zst"))
}

func TestLoadIndex_LogsUnmatchedManifestIDs(t *testing.T) {
	fsys, s := fixture(t)
	data, err := fsys.ReadFile(s.SplitDataPath)
	require.NoError(t, err)
	manifest, err := ParseSplitManifest(data)
	require.NoError(t, err)
	manifest.CooperativeSplit[s.Split] = append(manifest.CooperativeSplit[s.Split], "099999")
	manifest.VehicleSplit[s.Split] = append(manifest.VehicleSplit[s.Split], "088888")
	data, err = json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, fsys.WriteFile(s.SplitDataPath, data, 0o644))

	var logged []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		logged = append(logged, fmt.Sprintf(format, v...))
	})
	defer monitoring.SetLogger(nil)

	ix, err := LoadIndex(fsys, s)
	require.NoError(t, err)
	assert.Equal(t, 2, ix.Count(SideCooperative))
	assert.Equal(t, 2, ix.Count(SideVehicle))

	all := strings.Join(logged, "\n")
	assert.Contains(t, all, "1 cooperative ids listed in the split have no data_info record: 099999")
	assert.Contains(t, all, "1 vehicle ids listed in the split have no data_info record: 088888")
}

func TestNewModel_Validation(t *testing.T) {
	fsys, s := fixture(t)
	ix, err := LoadIndex(fsys, s)
	require.NoError(t, err)
	f := &fakeReaders{}

	_, err = NewModel(s, nil, f.readers(fsys))
	assert.Error(t, err)

	_, err = NewModel(s, ix, Readers{Image: f.readers(fsys).Image})
	assert.ErrorContains(t, err, "point cloud reader")

	cam := s
	cam.Sensor = config.SensorCamera
	_, err = NewModel(cam, ix, Readers{PointCloud: f.readers(fsys).PointCloud})
	assert.ErrorContains(t, err, "image reader")

	zero := s
	zero.LoadTimeout = 0
	_, err = NewModel(zero, ix, f.readers(fsys))
	assert.ErrorContains(t, err, "load timeout")

	bad := s
	bad.Sensor = "radar"
	_, err = NewModel(bad, ix, f.readers(fsys))
	assert.ErrorContains(t, err, "unknown sensor")
}

func TestModel_FrameNotFound(t *testing.T) {
	fsys, s := fixture(t)
	m, _ := newModel(t, s, fsys, &fakeReaders{})

	_, err := m.Infrastructure(3)
	assert.ErrorIs(t, err, ErrFrameNotFound)
	_, err = m.Vehicle(-1)
	assert.ErrorIs(t, err, ErrFrameNotFound)
	_, err = m.Cooperative(2)
	assert.ErrorIs(t, err, ErrFrameNotFound)
	_, err = m.Pair("015406")
	assert.ErrorIs(t, err, ErrFrameNotFound, "val pair is not served by the train model")
}

func TestPayload_LoadedOnceAndSelectedBySensor(t *testing.T) {
	fsys, s := fixture(t)
	f := &fakeReaders{}
	m, diags := newModel(t, s, fsys, f)

	h, err := m.Infrastructure(0)
	require.NoError(t, err)
	assert.Equal(t, "000009", h.ID())
	assert.Equal(t, int32(0), f.clouds.Load(), "creating a handle performs no I/O")

	p, ok := h.Payload(context.Background())
	require.True(t, ok)
	assert.Equal(t, config.SensorLidar, p.Sensor)
	require.NotNil(t, p.PointCloud)
	assert.Equal(t, 2, p.PointCloud.Len())
	assert.True(t, p.PointCloud.HasIntensity)
	assert.Nil(t, p.Image)

	_, ok = h.Payload(context.Background())
	assert.True(t, ok)
	assert.Equal(t, int32(1), f.clouds.Load())
	assert.Equal(t, int32(0), f.images.Load())
	assert.Empty(t, diags.Diagnostics())

	s.Sensor = config.SensorCamera
	cam, _ := newModel(t, s, fsys, f)
	h, err = cam.Vehicle(1)
	require.NoError(t, err)
	p, ok = h.Payload(context.Background())
	require.True(t, ok)
	assert.Nil(t, p.PointCloud)
	assert.Equal(t, image.Rect(0, 0, 4, 3), p.Image.Bounds())
	assert.Equal(t, int32(1), f.images.Load())
}

func TestPayload_FailureIsCachedAndReported(t *testing.T) {
	fsys, s := fixture(t)
	f := &fakeReaders{cloud: func(context.Context, string) (*mat.Dense, error) {
		return nil, errors.New("corrupt file")
	}}
	m, diags := newModel(t, s, fsys, f)

	h, err := m.Infrastructure(1)
	require.NoError(t, err)
	_, ok := h.Payload(context.Background())
	assert.False(t, ok)
	_, ok = h.Payload(context.Background())
	assert.False(t, ok)
	assert.Equal(t, int32(1), f.clouds.Load())

	got := diags.Diagnostics()
	require.Len(t, got, 1)
	assert.Equal(t, monitoring.PayloadLoadFailure, got[0].Kind)
	assert.Equal(t, "infrastructure", got[0].Side)
	assert.Equal(t, "000010", got[0].FrameID)
	assert.Equal(t, "/data/infrastructure-side/velodyne/000010.bin", got[0].Path)
	assert.ErrorIs(t, got[0].Err, ErrPayloadLoad)
	assert.ErrorContains(t, got[0].Err, "corrupt file")

	// Other frames are unaffected by the failure.
	other, err := m.Infrastructure(2)
	require.NoError(t, err)
	_, ok = other.Payload(context.Background())
	assert.False(t, ok)
	assert.Equal(t, 2, diags.CountKind(monitoring.PayloadLoadFailure))
}

func TestPayload_TimeoutWithReaderIgnoringContext(t *testing.T) {
	fsys, s := fixture(t)
	s.LoadTimeout = 20 * time.Millisecond
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	f := &fakeReaders{cloud: func(context.Context, string) (*mat.Dense, error) {
		<-block
		return mat.NewDense(1, 3, nil), nil
	}}
	m, diags := newModel(t, s, fsys, f)

	h, err := m.Vehicle(0)
	require.NoError(t, err)
	start := time.Now()
	_, ok := h.Payload(context.Background())
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)

	got := diags.Diagnostics()
	require.Len(t, got, 1)
	assert.ErrorIs(t, got[0].Err, context.DeadlineExceeded)
	assert.ErrorIs(t, got[0].Err, ErrPayloadLoad)
}

func TestPayload_CallerCancellationIsNotCached(t *testing.T) {
	fsys, s := fixture(t)
	f := &fakeReaders{}
	m, diags := newModel(t, s, fsys, f)
	h, err := m.Infrastructure(0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := h.Payload(ctx)
	assert.False(t, ok)
	assert.Empty(t, diags.Diagnostics())

	p, ok := h.Payload(context.Background())
	assert.True(t, ok)
	assert.NotNil(t, p.PointCloud)
}

func TestPayload_ConcurrentCallersShareOneLoad(t *testing.T) {
	fsys, s := fixture(t)
	f := &fakeReaders{cloud: func(context.Context, string) (*mat.Dense, error) {
		time.Sleep(5 * time.Millisecond)
		return mat.NewDense(1, 3, []float64{1, 2, 3}), nil
	}}
	m, _ := newModel(t, s, fsys, f)
	h, err := m.Infrastructure(0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := h.Payload(context.Background())
			assert.True(t, ok)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), f.clouds.Load())
}

func TestPayload_MissingPath(t *testing.T) {
	ix := NewIndex("/r", "train", []Frame{{Side: SideInfrastructure, ID: "1"}}, nil, nil)
	f := &fakeReaders{}
	var diags monitoring.Collector
	s := config.DefaultSettings()
	m, err := NewModel(s, ix, f.readers(fsutil.NewMemoryFileSystem()), WithReporter(&diags))
	require.NoError(t, err)

	h, err := m.Infrastructure(0)
	require.NoError(t, err)
	_, ok := h.Payload(context.Background())
	assert.False(t, ok)
	assert.Equal(t, int32(0), f.clouds.Load())
	assert.Equal(t, 1, diags.CountKind(monitoring.PayloadLoadFailure))
}

func TestLabels(t *testing.T) {
	fsys, s := fixture(t)
	m, diags := newModel(t, s, fsys, &fakeReaders{})

	t.Run("both views", func(t *testing.T) {
		h, err := m.Infrastructure(0)
		require.NoError(t, err)
		sets, ok := h.Labels(context.Background())
		require.True(t, ok)
		require.Len(t, sets, 2)
		assert.Equal(t, 2, sets[labels.ViewLidar].Len())
		assert.Equal(t, 1, sets[labels.ViewCamera].Len(), "record without geometry is dropped")
		assert.Equal(t, labels.ClassPedestrian, sets[labels.ViewCamera].Labels[0].Class)
		assert.Equal(t, []labels.ObjectClass{labels.ClassCar}, sets[labels.ViewCamera].Incomplete)
	})

	t.Run("unreadable file", func(t *testing.T) {
		h, err := m.Infrastructure(1)
		require.NoError(t, err)
		sets, ok := h.Labels(context.Background())
		assert.False(t, ok)
		assert.Empty(t, sets)
		assert.Equal(t, 1, diags.CountKind(monitoring.LabelLoadFailure))

		h.Labels(context.Background())
		assert.Equal(t, 1, diags.CountKind(monitoring.LabelLoadFailure), "failure is cached")
	})

	t.Run("no label files", func(t *testing.T) {
		h, err := m.Infrastructure(2)
		require.NoError(t, err)
		sets, ok := h.Labels(context.Background())
		assert.False(t, ok)
		assert.Empty(t, sets)
	})
}

func TestCooperativeFrame(t *testing.T) {
	fsys, s := fixture(t)
	f := &fakeReaders{}
	m, _ := newModel(t, s, fsys, f)

	c, err := m.Cooperative(0)
	require.NoError(t, err)
	assert.Equal(t, "015404", c.ID())
	assert.Equal(t, "000009", c.Infrastructure().ID())
	assert.Equal(t, "015404", c.Vehicle().ID())

	byID, err := m.Pair("015404")
	require.NoError(t, err)
	assert.Equal(t, c.Pair(), byID.Pair())

	set, ok := c.Labels(context.Background())
	require.True(t, ok)
	require.Equal(t, 1, set.Len())
	assert.Equal(t, labels.ClassTruck, set.Labels[0].Class)

	_, ok = c.Infrastructure().Payload(context.Background())
	assert.True(t, ok)
	assert.Equal(t, int32(1), f.clouds.Load(), "the vehicle half is not loaded")

	other, err := m.Cooperative(1)
	require.NoError(t, err)
	_, ok = other.Labels(context.Background())
	assert.False(t, ok)
}

func TestModel_LoadRate(t *testing.T) {
	fsys, s := fixture(t)
	s.LoadRate = 1000
	f := &fakeReaders{}
	m, _ := newModel(t, s, fsys, f)
	for i := 0; i < m.Count(SideInfrastructure); i++ {
		h, err := m.Infrastructure(i)
		require.NoError(t, err)
		_, ok := h.Payload(context.Background())
		assert.True(t, ok)
	}
	assert.Equal(t, int32(3), f.clouds.Load())
}

func TestModel_LoadRateDeadlineIsNotCached(t *testing.T) {
	fsys, s := fixture(t)
	s.LoadRate = 1
	f := &fakeReaders{}
	m, diags := newModel(t, s, fsys, f)

	first, err := m.Infrastructure(0)
	require.NoError(t, err)
	_, ok := first.Payload(context.Background())
	require.True(t, ok)

	// The next token is a second away, past this deadline.
	h, err := m.Infrastructure(1)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok = h.Payload(ctx)
	assert.False(t, ok)
	assert.Empty(t, diags.Diagnostics())
	assert.Equal(t, int32(1), f.clouds.Load())

	p, ok := h.Payload(context.Background())
	require.True(t, ok, "a throttled load is retried")
	assert.Equal(t, 2, p.PointCloud.Len())
	assert.Equal(t, int32(2), f.clouds.Load())
}

func TestPayload_ReaderPanicIsReported(t *testing.T) {
	fsys, s := fixture(t)
	f := &fakeReaders{cloud: func(context.Context, string) (*mat.Dense, error) {
		panic("corrupt header")
	}}
	m, diags := newModel(t, s, fsys, f)
	h, err := m.Infrastructure(0)
	require.NoError(t, err)

	_, ok := h.Payload(context.Background())
	assert.False(t, ok)
	got := diags.Diagnostics()
	require.Len(t, got, 1)
	assert.Equal(t, monitoring.PayloadLoadFailure, got[0].Kind)
	assert.ErrorIs(t, got[0].Err, ErrPayloadLoad)
	assert.ErrorContains(t, got[0].Err, "reader panicked: corrupt header")

	_, ok = h.Payload(context.Background())
	assert.False(t, ok)
	assert.Equal(t, int32(1), f.clouds.Load(), "panicked load is cached like any failure")
}
