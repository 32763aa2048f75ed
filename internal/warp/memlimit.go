package warp

import (
	"log"
	"math"
	"runtime"

	"github.com/pspoerri/rasterwarp/internal/raster"
)

// DefaultMemoryFraction is the share of total RAM a reprojection may use
// for band buffers.
const DefaultMemoryFraction = 0.75

// EstimateBytes approximates the peak memory of a Reproject call: every
// output band is held until encoding and each of the concurrent workers
// holds one decoded source band. Samples are float64.
func EstimateBytes(src, dst raster.Grid, concurrent int) int64 {
	concurrent = max(1, min(concurrent, max(src.Bands, 1)))
	out := mulSat(mulSat(int64(dst.Width), int64(dst.Height)), int64(max(dst.Bands, 1)))
	in := mulSat(mulSat(int64(src.Width), int64(src.Height)), int64(concurrent))
	if out > math.MaxInt64-in {
		return math.MaxInt64
	}
	return mulSat(out+in, 8)
}

// mulSat multiplies non-negative a and b, saturating at math.MaxInt64.
func mulSat(a, b int64) int64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}

// ComputeMemoryLimit returns the bytes a reprojection may allocate: the given
// fraction of total system RAM minus the current Go runtime footprint and a
// fixed 1 GB of headroom for caches and encode buffers.
//
// Returns 0 (no limit) if RAM detection fails or the limit would be smaller
// than 256 MB.
func ComputeMemoryLimit(fraction float64, verbose bool) int64 {
	totalRAM, err := totalSystemRAM()
	if err != nil {
		if verbose {
			log.Printf("Cannot detect system RAM: %v; memory guard disabled", err)
		}
		return 0
	}

	if verbose {
		log.Printf("System RAM: %.1f GB", float64(totalRAM)/(1024*1024*1024))
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	overhead := m.Sys + 1024*1024*1024

	limit := int64(float64(totalRAM)*fraction) - int64(overhead)
	if limit < 256*1024*1024 {
		if verbose {
			log.Printf("Computed memory limit too small (%.0f MB); memory guard disabled",
				float64(limit)/(1024*1024))
		}
		return 0
	}

	if verbose {
		log.Printf("Raster memory limit: %.1f GB (%.0f%% of RAM minus %.1f GB overhead)",
			float64(limit)/(1024*1024*1024), fraction*100, float64(overhead)/(1024*1024*1024))
	}
	return limit
}
