// Command v2x-demo walks through a DAIR-V2X cooperative dataset split:
// it prints the configuration, indexes the split, collects label
// statistics, loads one frame of each partition, and preprocesses a batch of
// infrastructure point clouds.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/v2x.prep/internal/config"
	"github.com/banshee-data/v2x.prep/internal/dataset"
	"github.com/banshee-data/v2x.prep/internal/fsutil"
	"github.com/banshee-data/v2x.prep/internal/httputil"
	"github.com/banshee-data/v2x.prep/internal/indexdb"
	"github.com/banshee-data/v2x.prep/internal/lidar/labels"
	"github.com/banshee-data/v2x.prep/internal/lidar/prep"
	"github.com/banshee-data/v2x.prep/internal/monitoring"
	"github.com/banshee-data/v2x.prep/internal/security"
	"github.com/banshee-data/v2x.prep/internal/sensorio"
	"github.com/banshee-data/v2x.prep/internal/stats"
	"github.com/banshee-data/v2x.prep/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("v2x-demo: %v", err)
	}
}

type options struct {
	configPath  string
	indexDB     string
	statsJSON   string
	chartPNG    string
	chartHTML   string
	exportDir   string
	debugListen string
	showVersion bool
}

// parseFlags loads the config file and applies every flag that was set on
// top of it.
func parseFlags(args []string, stderr io.Writer) (*config.PreprocessConfig, options, error) {
	var o options
	fs := flag.NewFlagSet("v2x-demo", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&o.configPath, "config", "", "preprocessing config JSON (default "+config.DefaultConfigPath+" when present)")
	dataRoot := fs.String("data-root", "", "dataset root directory")
	split := fs.String("split", "", "dataset split (train, val, test)")
	sensor := fs.String("sensor", "", "sensor payload to load: lidar or camera")
	sampleCap := fs.Int("sample-cap", 0, "frames sampled for statistics")
	batchSize := fs.Int("batch-size", 0, "infrastructure frames preprocessed in the batch step")
	workers := fs.Int("workers", 0, "statistics and range-filter workers")
	fs.StringVar(&o.indexDB, "index-db", "", "sqlite index cache; imported on first use")
	fs.StringVar(&o.statsJSON, "stats-json", "", "write the statistics report as JSON")
	fs.StringVar(&o.chartPNG, "chart-png", "", "write the class histogram as PNG")
	fs.StringVar(&o.chartHTML, "chart-html", "", "write the class histogram as HTML")
	fs.StringVar(&o.exportDir, "export-dir", "", "write preprocessed batch clouds as .bin files")
	fs.StringVar(&o.debugListen, "debug-listen", "", "serve /debug/ (and tailsql with -index-db) until interrupted")
	fs.BoolVar(&o.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, o, err
	}

	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return nil, o, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data-root":
			cfg.DataRoot = dataRoot
		case "split":
			cfg.Split = split
		case "sensor":
			cfg.SensorType = sensor
		case "sample-cap":
			cfg.SampleCap = sampleCap
		case "batch-size":
			cfg.BatchSize = batchSize
		case "workers":
			cfg.Workers = workers
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, o, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, o, nil
}

func loadConfig(path string) (*config.PreprocessConfig, error) {
	if path != "" {
		return config.LoadPreprocessConfig(path)
	}
	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		return config.LoadPreprocessConfig(config.DefaultConfigPath)
	}
	return config.EmptyPreprocessConfig(), nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, o, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	if o.showVersion {
		fmt.Fprintf(stdout, "v2x-demo %s\n", version.String())
		return nil
	}
	s := cfg.Settings()

	fmt.Fprintln(stdout, "== configuration")
	fmt.Fprintf(stdout, "data root:        %s\n", s.DataRoot)
	fmt.Fprintf(stdout, "split:            %s\n", s.Split)
	fmt.Fprintf(stdout, "sensor:           %s\n", s.Sensor)
	fmt.Fprintf(stdout, "split manifest:   %s\n", s.SplitDataPath)
	fmt.Fprintf(stdout, "point range:      %v\n", s.PointCloudRange)
	fmt.Fprintf(stdout, "voxel size:       %g\n", s.VoxelSize)

	var store *indexdb.Store
	if o.indexDB != "" {
		store, err = indexdb.Open(o.indexDB)
		if err != nil {
			return err
		}
		defer store.Close()
	}
	ix, err := buildIndex(ctx, s, store)
	if err != nil {
		return err
	}

	var diags monitoring.Collector
	fsys := fsutil.OSFileSystem{}
	model, err := dataset.NewModel(s, ix, dataset.Readers{
		PointCloud: sensorio.NewPointCloudReader(fsys),
		Image:      sensorio.NewImageReader(fsys),
		Labels:     fsys,
	}, dataset.WithReporter(monitoring.Tee(monitoring.LogReporter, &diags)))
	if err != nil {
		return err
	}

	report, err := statistics(ctx, stdout, s, model, o)
	if err != nil {
		return err
	}
	firstFrames(ctx, stdout, model)

	if s.Sensor == config.SensorLidar {
		volume, err := prep.VolumeRangeFromSlice(s.PointCloudRange[:])
		if err != nil {
			return err
		}
		pipeline, err := prep.NewPipeline(volume, s.VoxelSize, prep.WithWorkers(s.Workers))
		if err != nil {
			return err
		}
		if err := preprocessFirst(ctx, stdout, model, pipeline); err != nil {
			return err
		}
		if err := batch(ctx, stdout, model, pipeline, s.BatchSize, o.exportDir); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(stdout, "\n== preprocessing skipped for sensor %s\n", s.Sensor)
	}

	fmt.Fprintf(stdout, "\n%d per-frame load failures\n", len(diags.Diagnostics()))

	if o.debugListen != "" {
		return serveDebug(ctx, o.debugListen, debugMux(store, report))
	}
	return nil
}

func buildIndex(ctx context.Context, s config.Settings, store *indexdb.Store) (*dataset.Index, error) {
	if store != nil {
		ix, err := store.LoadIndex(ctx, s.DataRoot, s.Split)
		if err == nil {
			log.Printf("index loaded from cache")
			return ix, nil
		}
		if !errors.Is(err, indexdb.ErrNotIndexed) {
			return nil, err
		}
	}
	ix, err := dataset.LoadIndex(fsutil.OSFileSystem{}, s)
	if err != nil {
		return nil, err
	}
	if store != nil {
		if err := store.SaveIndex(ctx, ix); err != nil {
			return nil, err
		}
	}
	return ix, nil
}

func statistics(ctx context.Context, w io.Writer, s config.Settings, model *dataset.Model, o options) (*stats.Report, error) {
	r, err := stats.Collect(ctx, model, stats.Options{
		SampleCap:       &s.SampleCap,
		Workers:         s.Workers,
		PointCloudStats: s.PointCloudStats,
	})
	if err != nil {
		return nil, err
	}

	fmt.Fprintln(w, "\n== statistics")
	fmt.Fprintf(w, "total samples:          %d\n", r.TotalSamples)
	fmt.Fprintf(w, "infrastructure samples: %d\n", r.InfrastructureSamples)
	fmt.Fprintf(w, "vehicle samples:        %d\n", r.VehicleSamples)
	fmt.Fprintf(w, "cooperative samples:    %d\n", r.CooperativeSamples)
	fmt.Fprintf(w, "class distribution (%d sampled):\n", r.Sampled)
	for _, c := range r.Histogram() {
		if c.Count > 0 {
			fmt.Fprintf(w, "  %-13s %d\n", c.Class, c.Count)
		}
	}
	if r.PointCloud != nil {
		fmt.Fprintf(w, "points per frame: mean %.1f median %.0f min %.0f max %.0f\n",
			r.PointCloud.Mean, r.PointCloud.Median, r.PointCloud.Min, r.PointCloud.Max)
	}

	outputs := []struct {
		path  string
		write func(io.Writer, *stats.Report) error
	}{
		{o.statsJSON, func(w io.Writer, r *stats.Report) error { return r.WriteJSON(w) }},
		{o.chartPNG, stats.WriteClassHistogramPNG},
		{o.chartHTML, stats.RenderClassHistogramHTML},
	}
	for _, out := range outputs {
		if out.path == "" {
			continue
		}
		if err := writeOutput(out.path, func(f io.Writer) error { return out.write(f, r) }); err != nil {
			return nil, err
		}
		fmt.Fprintf(w, "wrote %s\n", out.path)
	}
	return r, nil
}

func writeOutput(path string, write func(io.Writer) error) error {
	if err := security.ValidateOutputPath(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func describe(ctx context.Context, w io.Writer, label string, h *dataset.FrameHandle) {
	p, ok := h.Payload(ctx)
	switch {
	case !ok:
		fmt.Fprintf(w, "%s %s: payload unavailable\n", label, h.ID())
	case p.PointCloud != nil:
		fmt.Fprintf(w, "%s %s: %d points (%d columns)\n", label, h.ID(), p.PointCloud.Len(), p.PointCloud.Columns())
	case p.Image != nil:
		b := p.Image.Bounds()
		fmt.Fprintf(w, "%s %s: image %dx%d\n", label, h.ID(), b.Dx(), b.Dy())
	}
}

func firstFrames(ctx context.Context, w io.Writer, model *dataset.Model) {
	fmt.Fprintln(w, "\n== first frames")
	if h, err := model.Infrastructure(0); err == nil {
		describe(ctx, w, "infrastructure", h)
	} else {
		fmt.Fprintf(w, "infrastructure: %v\n", err)
	}
	if h, err := model.Vehicle(0); err == nil {
		describe(ctx, w, "vehicle", h)
	} else {
		fmt.Fprintf(w, "vehicle: %v\n", err)
	}
	c, err := model.Cooperative(0)
	if err != nil {
		fmt.Fprintf(w, "cooperative: %v\n", err)
		return
	}
	fmt.Fprintf(w, "cooperative %s pairs infrastructure %s with vehicle %s\n",
		c.ID(), c.Infrastructure().ID(), c.Vehicle().ID())
	describe(ctx, w, "  infrastructure", c.Infrastructure())
	describe(ctx, w, "  vehicle", c.Vehicle())
	if set, ok := c.Labels(ctx); ok {
		fmt.Fprintf(w, "  cooperative labels: %d\n", set.Len())
	}
}

func preprocessFirst(ctx context.Context, w io.Writer, model *dataset.Model, pipeline *prep.Pipeline) error {
	fmt.Fprintln(w, "\n== preprocessing")
	h, err := model.Infrastructure(0)
	if err != nil {
		fmt.Fprintf(w, "no infrastructure frame: %v\n", err)
		return nil
	}
	p, ok := h.Payload(ctx)
	if !ok || p.PointCloud == nil {
		fmt.Fprintf(w, "frame %s: point cloud unavailable\n", h.ID())
		return nil
	}
	out, st, err := pipeline.RunWithStats(ctx, p.PointCloud)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "frame %s: %d points -> %d in range -> %d after voxel %g\n",
		h.ID(), st.Input, st.InRange, out.Len(), pipeline.VoxelSize())

	sets, ok := h.Labels(ctx)
	if !ok || sets[labels.ViewLidar] == nil {
		fmt.Fprintf(w, "frame %s: no lidar labels\n", h.ID())
		return nil
	}
	before := sets[labels.ViewLidar]
	after, err := labels.FilterByRange(before, pipeline.Volume())
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "frame %s: %d lidar labels -> %d in range\n", h.ID(), before.Len(), after.Len())
	return nil
}

func batch(ctx context.Context, w io.Writer, model *dataset.Model, pipeline *prep.Pipeline, size int, exportDir string) error {
	n := min(size, model.Count(dataset.SideInfrastructure))
	fmt.Fprintf(w, "\n== batch preprocessing (%d frames)\n", n)
	if exportDir != "" {
		if err := security.ValidateOutputPath(exportDir); err != nil {
			return err
		}
		if err := os.MkdirAll(exportDir, 0o755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
	}

	start := time.Now()
	for i := 0; i < n; i++ {
		h, err := model.Infrastructure(i)
		if err != nil {
			return err
		}
		p, ok := h.Payload(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
		if !ok || p.PointCloud == nil {
			fmt.Fprintf(w, "frame %s: skipped, point cloud unavailable\n", h.ID())
			continue
		}
		out, err := pipeline.Run(p.PointCloud)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "frame %s: %d -> %d points\n", h.ID(), p.PointCloud.Len(), out.Len())

		if exportDir != "" {
			path := filepath.Join(exportDir, security.SanitizeFilename(h.ID())+".bin")
			data, err := sensorio.EncodeBin(out.Dense())
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("export frame %s: %w", h.ID(), err)
			}
		}
	}
	log.Printf("batch preprocessing took %s", time.Since(start).Round(time.Millisecond))
	return nil
}

// debugMux serves the statistics report under /debug/v2x/ and, with an
// index cache, the tailsql console.
func debugMux(store *indexdb.Store, report *stats.Report) *http.ServeMux {
	mux := http.NewServeMux()
	if store != nil {
		if err := store.AttachDebugRoutes(mux); err != nil {
			log.Printf("tailsql disabled: %v", err)
		}
	}
	debug := tsweb.Debugger(mux)
	debug.Handle("v2x/report", "Statistics report (JSON)", httputil.Methods(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteJSON(w, http.StatusOK, report)
		}), http.MethodGet))
	debug.Handle("v2x/classes", "Class distribution chart", httputil.Methods(
		httputil.HTML(func(w io.Writer) error {
			return stats.RenderClassHistogramHTML(w, report)
		}), http.MethodGet))
	return mux
}

func serveDebug(ctx context.Context, addr string, mux *http.ServeMux) error {
	srv := &http.Server{Addr: addr, Handler: mux}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Printf("debug server listening on %s", addr)

	select {
	case err := <-errc:
		return fmt.Errorf("debug server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
