package warp

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/pspoerri/rasterwarp/internal/affine"
	"github.com/pspoerri/rasterwarp/internal/coord"
	"github.com/pspoerri/rasterwarp/internal/raster"
)

// ResampleStats collects per-call counters. It is safe to share one value
// between concurrent Resample calls.
type ResampleStats struct {
	Pixels             atomic.Int64 // destination pixels written
	NoData             atomic.Int64 // pixels written as no-data
	ProjectionFailures atomic.Int64 // pixel centers with no image in the source CRS
}

// Counts is a point-in-time copy of ResampleStats.
type Counts struct {
	Pixels             int64
	NoData             int64
	ProjectionFailures int64
}

// Snapshot returns the current counter values.
func (s *ResampleStats) Snapshot() Counts {
	return Counts{
		Pixels:             s.Pixels.Load(),
		NoData:             s.NoData.Load(),
		ProjectionFailures: s.ProjectionFailures.Load(),
	}
}

// RowObserver is notified after each destination row is finished.
type RowObserver interface {
	Increment()
}

// ResampleOption configures Resample.
type ResampleOption func(*resampleConfig)

type resampleConfig struct {
	noData      float64
	hasNoData   bool
	concurrency int
	stats       *ResampleStats
	observer    RowObserver
}

// WithNoData sets the output no-data sentinel. NaN selects NaN.
func WithNoData(v float64) ResampleOption {
	return func(c *resampleConfig) {
		c.noData = v
		c.hasNoData = true
	}
}

// WithConcurrency sets the number of row workers. Values below one select
// runtime.GOMAXPROCS(0).
func WithConcurrency(n int) ResampleOption {
	return func(c *resampleConfig) { c.concurrency = n }
}

// WithStats accumulates counters into s.
func WithStats(s *ResampleStats) ResampleOption {
	return func(c *resampleConfig) { c.stats = s }
}

// WithRowObserver reports row completion, e.g. to a progress bar.
func WithRowObserver(o RowObserver) ResampleOption {
	return func(c *resampleConfig) { c.observer = o }
}

// Resample fills a new band on the destination grid from one source band.
//
// Every destination pixel center is mapped into the destination CRS, then
// through WGS84 into the source CRS and finally through the inverse source
// transform into fractional source pixel coordinates. Pixels that fall
// outside the source, whose center cannot be projected, or whose contributing
// neighbours include no-data are written as no-data. Projection failures
// are counted, never returned.
func Resample(ctx context.Context, src raster.Grid, band *raster.Band, dst raster.Grid,
	srcProj, dstProj coord.Projection, kernel Kernel, opts ...ResampleOption) (*raster.Band, error) {
	if err := checkInputs(src, srcProj, dstProj); err != nil {
		return nil, err
	}
	if err := dst.Validate(); err != nil {
		return nil, fmt.Errorf("%w: destination: %w", ErrInvalidParameter, err)
	}
	if band == nil || band.Width != src.Width || band.Height != src.Height || len(band.Data) != src.Width*src.Height {
		return nil, fmt.Errorf("%w: band does not match source grid %dx%d", ErrInvalidParameter, src.Width, src.Height)
	}
	if !kernel.valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, kernel)
	}
	inv, err := src.Transform.Inverse()
	if err != nil {
		return nil, fmt.Errorf("%w: source transform: %w", ErrInvalidParameter, err)
	}

	cfg := resampleConfig{concurrency: runtime.GOMAXPROCS(0)}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.concurrency < 1 {
		cfg.concurrency = runtime.GOMAXPROCS(0)
	}
	if cfg.concurrency > dst.Height {
		cfg.concurrency = dst.Height
	}

	out := raster.NewBand(dst.Width, dst.Height)
	switch {
	case cfg.hasNoData:
		out.SetNoData(cfg.noData)
	case band.HasNoData:
		out.SetNoData(band.NoData)
	default:
		out.SetNoData(math.NaN())
	}

	rs := &rowResampler{
		src:      band,
		dst:      dst,
		inv:      inv,
		srcProj:  srcProj,
		dstProj:  dstProj,
		identity: coord.Same(srcProj, dstProj),
		sample:   kernel.sampler(),
		out:      out,
		fill:     out.FillValue(),
	}

	// Rows are independent and each writes only its own slice of out.Data.
	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	var done atomic.Int64

	for w := 0; w < cfg.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for row := range jobs {
				if ctx.Err() != nil {
					continue
				}
				noData, projFail := rs.resampleRow(row)
				done.Add(1)
				if cfg.stats != nil {
					cfg.stats.Pixels.Add(int64(dst.Width))
					cfg.stats.NoData.Add(noData)
					cfg.stats.ProjectionFailures.Add(projFail)
				}
				if cfg.observer != nil {
					cfg.observer.Increment()
				}
			}
		}()
	}

feed:
	for row := 0; row < dst.Height; row++ {
		select {
		case jobs <- row:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if done.Load() < int64(dst.Height) {
		return nil, ctx.Err()
	}
	return out, nil
}

// rowResampler holds the read-only state shared by all row workers.
type rowResampler struct {
	src      *raster.Band
	dst      raster.Grid
	inv      affine.Transform
	srcProj  coord.Projection
	dstProj  coord.Projection
	identity bool
	sample   sampler
	out      *raster.Band
	fill     float64
}

func (rs *rowResampler) resampleRow(row int) (noData, projFail int64) {
	w, h := float64(rs.src.Width), float64(rs.src.Height)
	line := rs.out.Row(row)
	for col := range line {
		x, y := rs.dst.PixelCenter(col, row)
		if !rs.identity {
			var err error
			x, y, err = reproject(rs.dstProj, rs.srcProj, x, y)
			if err != nil {
				line[col] = rs.fill
				noData++
				projFail++
				continue
			}
		}
		sc, sr := rs.inv.Apply(x, y)
		// Written so that NaN coordinates also fail.
		if !(sc >= 0 && sc < w && sr >= 0 && sr < h) {
			line[col] = rs.fill
			noData++
			continue
		}
		v, ok := rs.sample(rs.src, sc, sr)
		if !ok {
			line[col] = rs.fill
			noData++
			continue
		}
		line[col] = v
	}
	return noData, projFail
}
