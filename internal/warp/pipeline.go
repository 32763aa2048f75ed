package warp

import (
	"context"
	"fmt"
	"log"
	"math"
	"runtime"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"github.com/pspoerri/rasterwarp/internal/coord"
	"github.com/pspoerri/rasterwarp/internal/raster"
)

// Config holds the parameters of one Reproject call.
type Config struct {
	Resolution Resolution
	Kernel     Kernel

	// NoData overrides the output no-data sentinel when HasNoData is set.
	NoData    float64
	HasNoData bool

	Densify int // extra footprint samples per source edge

	Concurrency    int // bands resampled in parallel; <1 means GOMAXPROCS
	RowConcurrency int // row workers per band; <1 means GOMAXPROCS

	// MemoryLimit rejects plans whose estimated working set exceeds it.
	// Zero disables the check.
	MemoryLimit int64

	Verbose  bool
	Progress bool
}

// Result describes a finished reprojection.
type Result struct {
	Source    raster.Grid
	Grid      raster.Grid
	Profile   raster.Profile
	Bands     []*raster.Band
	Footprint orb.Polygon
	Counts    Counts
	Elapsed   time.Duration
}

// Reproject reads every band from dec, plans the destination grid, resamples
// all bands and hands them to enc. The output profile is the source profile
// with the no-data sentinel optionally replaced. Nothing is encoded when
// planning fails. A source without bands only yields the planned grid and
// footprint; the encoder is not called.
func Reproject(ctx context.Context, dec raster.Decoder, enc raster.Encoder,
	srcProj, dstProj coord.Projection, cfg Config) (Result, error) {
	start := time.Now()
	if dec == nil || enc == nil {
		return Result{}, fmt.Errorf("%w: nil decoder or encoder", ErrInvalidParameter)
	}
	if !cfg.Kernel.valid() {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidParameter, cfg.Kernel)
	}

	src := dec.Grid()
	var planOpts []PlanOption
	if cfg.Densify > 0 {
		planOpts = append(planOpts, WithDensify(cfg.Densify))
	}
	dst, err := Plan(src, srcProj, dstProj, cfg.Resolution, planOpts...)
	if err != nil {
		return Result{}, err
	}
	footprint, err := Footprint(src, srcProj, dstProj, planOpts...)
	if err != nil {
		return Result{}, err
	}

	profile := dec.Profile()
	if cfg.HasNoData {
		profile.NoData = cfg.NoData
		profile.HasNoData = !math.IsNaN(cfg.NoData)
	}
	if src.Bands == 0 {
		if cfg.Verbose {
			log.Printf("Planned %s -> %s: %dx%d pixels, no bands to resample", src.CRS, dst.CRS, dst.Width, dst.Height)
		}
		return Result{
			Source:    src,
			Grid:      dst,
			Profile:   profile,
			Footprint: footprint,
			Elapsed:   time.Since(start),
		}, nil
	}

	workers := cfg.Concurrency
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, src.Bands)

	if cfg.MemoryLimit > 0 {
		need := EstimateBytes(src, dst, workers)
		if need > cfg.MemoryLimit {
			return Result{}, fmt.Errorf("%w: output %dx%d with %d bands needs ~%.1f GB, limit is %.1f GB",
				ErrInvalidParameter, dst.Width, dst.Height, dst.Bands, gib(need), gib(cfg.MemoryLimit))
		}
	}
	if cfg.Verbose {
		log.Printf("Planned %s -> %s: %dx%d pixels, %d bands, %s", src.CRS, dst.CRS,
			dst.Width, dst.Height, dst.Bands, dst.Transform)
	}

	resampleOpts := []ResampleOption{WithConcurrency(cfg.RowConcurrency)}
	if cfg.HasNoData {
		resampleOpts = append(resampleOpts, WithNoData(cfg.NoData))
	}
	var stats ResampleStats
	resampleOpts = append(resampleOpts, WithStats(&stats))

	var bar *progressBar
	if cfg.Progress {
		bar = newProgressBar("Warping", int64(dst.Height)*int64(dst.Bands))
		resampleOpts = append(resampleOpts, WithRowObserver(bar))
	}

	bands := make([]*raster.Band, src.Bands)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range bands {
		g.Go(func() error {
			in, err := dec.ReadBand(gctx, i)
			if err != nil {
				return fmt.Errorf("reading band %d: %w", i+1, err)
			}
			out, err := Resample(gctx, src, in, dst, srcProj, dstProj, cfg.Kernel, resampleOpts...)
			if err != nil {
				return fmt.Errorf("resampling band %d: %w", i+1, err)
			}
			bands[i] = out
			if cfg.Verbose {
				log.Printf("Band %d: resampled %dx%d", i+1, dst.Width, dst.Height)
			}
			return nil
		})
	}
	err = g.Wait()
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return Result{}, err
	}

	if err := enc.Encode(ctx, dst, profile, bands); err != nil {
		return Result{}, fmt.Errorf("encoding: %w", err)
	}

	return Result{
		Source:    src,
		Grid:      dst,
		Profile:   profile,
		Bands:     bands,
		Footprint: footprint,
		Counts:    stats.Snapshot(),
		Elapsed:   time.Since(start),
	}, nil
}

func gib(n int64) float64 {
	return float64(n) / (1 << 30)
}
