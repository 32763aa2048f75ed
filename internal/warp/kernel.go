package warp

import (
	"fmt"
	"math"
	"strings"

	"github.com/pspoerri/rasterwarp/internal/raster"
)

// Kernel selects the interpolation used to compute a destination sample.
type Kernel int

const (
	// Bilinear interpolates the 2x2 neighbourhood. It is the default.
	Bilinear Kernel = iota
	// Nearest takes the source pixel containing the coordinate.
	Nearest
	// Bicubic uses the Catmull-Rom kernel over a 4x4 neighbourhood.
	Bicubic
	// Lanczos uses the Lanczos-3 windowed sinc over a 6x6 neighbourhood.
	Lanczos
)

// ParseKernel converts a kernel name to a Kernel. The empty string selects
// Bilinear.
func ParseKernel(s string) (Kernel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bilinear", "linear":
		return Bilinear, nil
	case "nearest", "near":
		return Nearest, nil
	case "bicubic", "cubic":
		return Bicubic, nil
	case "lanczos", "lanczos3":
		return Lanczos, nil
	default:
		return 0, fmt.Errorf("%w: unknown kernel %q (use nearest, bilinear, bicubic or lanczos)", ErrInvalidParameter, s)
	}
}

func (k Kernel) String() string {
	switch k {
	case Bilinear:
		return "bilinear"
	case Nearest:
		return "nearest"
	case Bicubic:
		return "bicubic"
	case Lanczos:
		return "lanczos"
	default:
		return fmt.Sprintf("Kernel(%d)", int(k))
	}
}

func (k Kernel) valid() bool {
	return k >= Bilinear && k <= Lanczos
}

// sampler evaluates a kernel at fractional source pixel coordinates
// (srcCol, srcRow), where pixel (i, j) covers [i, i+1) x [j, j+1).
// The coordinate is already known to lie inside the band.
type sampler func(b *raster.Band, srcCol, srcRow float64) (float64, bool)

func (k Kernel) sampler() sampler {
	switch k {
	case Nearest:
		return sampleNearest
	case Bicubic:
		return func(b *raster.Band, c, r float64) (float64, bool) {
			return sampleSeparable(b, c, r, 2, bicubicLUT)
		}
	case Lanczos:
		return func(b *raster.Band, c, r float64) (float64, bool) {
			return sampleSeparable(b, c, r, 3, lanczos3LUT)
		}
	default:
		return func(b *raster.Band, c, r float64) (float64, bool) {
			return sampleSeparable(b, c, r, 1, triangle)
		}
	}
}

func sampleNearest(b *raster.Band, srcCol, srcRow float64) (float64, bool) {
	col := clamp(int(math.Floor(srcCol)), 0, b.Width-1)
	row := clamp(int(math.Floor(srcRow)), 0, b.Height-1)
	v := b.At(col, row)
	if b.IsNoData(v) {
		return 0, false
	}
	return v, true
}

// sampleSeparable applies a separable kernel of the given radius. Neighbour
// indices are clamped to the band so the half-pixel border is sampled from
// the outermost pixels. A no-data neighbour with a non-zero weight makes the
// whole sample no-data.
func sampleSeparable(b *raster.Band, srcCol, srcRow float64, radius int, weight func(float64) float64) (float64, bool) {
	// Pixel centers sit at integer coordinates in this frame.
	fx := snap(srcCol - 0.5)
	fy := snap(srcRow - 0.5)
	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))

	n := 2 * radius
	var wx, wy [6]float64
	taps(fx-float64(x0), radius, weight, wx[:n])
	taps(fy-float64(y0), radius, weight, wy[:n])

	var sum, wTotal float64
	for j := 0; j < n; j++ {
		if wy[j] == 0 {
			continue
		}
		row := clamp(y0+j-radius+1, 0, b.Height-1)
		for i := 0; i < n; i++ {
			w := wx[i] * wy[j]
			if w == 0 {
				continue
			}
			v := b.At(clamp(x0+i-radius+1, 0, b.Width-1), row)
			if b.IsNoData(v) {
				return 0, false
			}
			sum += v * w
			wTotal += w
		}
	}
	if wTotal == 0 {
		return 0, false
	}
	return sum / wTotal, true
}

// taps fills the 2*radius weights for a fractional offset t in [0, 1).
// Tap i sits at distance t-(i-radius+1) from the sample. An offset of
// exactly zero collapses to a single tap so pixel centers reproduce the
// source value bit for bit.
func taps(t float64, radius int, weight func(float64) float64, out []float64) {
	if t == 0 {
		for i := range out {
			out[i] = 0
		}
		out[radius-1] = 1
		return
	}
	for i := range out {
		out[i] = weight(t - float64(i-radius+1))
	}
}

// snapTolerance is the distance in pixels below which a coordinate is
// treated as lying exactly on a pixel center. It absorbs the rounding of
// the affine round trip.
const snapTolerance = 1e-9

func snap(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < snapTolerance {
		return r
	}
	return v
}

func triangle(x float64) float64 {
	if x < 0 {
		x = -x
	}
	if x >= 1 {
		return 0
	}
	return 1 - x
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// lanczos3 computes the Lanczos-3 kernel value:
//
//	L₃(x) = 3·sin(πx)·sin(πx/3) / (π²x²)   for |x| < 3
//	       = 0                             for |x| ≥ 3
func lanczos3(x float64) float64 {
	if x == 0 {
		return 1
	}
	if x < -3 || x > 3 {
		return 0
	}
	xPi := x * math.Pi
	return 3 * math.Sin(xPi) * math.Sin(xPi/3) / (xPi * xPi)
}

// lanczos3LUTSize entries over [0, 3] give a step of ~0.00293.
const lanczos3LUTSize = 1024

// lanczos3Table stores the positive half of the symmetric kernel.
var lanczos3Table [lanczos3LUTSize]float64

func init() {
	for i := 0; i < lanczos3LUTSize; i++ {
		x := float64(i) * 3.0 / float64(lanczos3LUTSize)
		lanczos3Table[i] = lanczos3(x)
	}
}

// lanczos3LUT evaluates the Lanczos-3 kernel via table lookup with linear
// interpolation.
func lanczos3LUT(x float64) float64 {
	if x < 0 {
		x = -x
	}
	if x >= 3 {
		return 0
	}
	pos := x * (lanczos3LUTSize / 3.0)
	idx := int(pos)
	if idx >= lanczos3LUTSize-1 {
		return lanczos3Table[lanczos3LUTSize-1]
	}
	frac := pos - float64(idx)
	return lanczos3Table[idx]*(1-frac) + lanczos3Table[idx+1]*frac
}

// bicubic computes the Catmull-Rom (a = -0.5) kernel value:
//
//	W(x) = 1.5|x|³ - 2.5|x|² + 1         for |x| ≤ 1
//	W(x) = -0.5|x|³ + 2.5|x|² - 4|x| + 2 for 1 < |x| < 2
//	W(x) = 0                             for |x| ≥ 2
func bicubic(x float64) float64 {
	if x < 0 {
		x = -x
	}
	if x >= 2 {
		return 0
	}
	x2 := x * x
	x3 := x2 * x
	if x <= 1 {
		return 1.5*x3 - 2.5*x2 + 1
	}
	return -0.5*x3 + 2.5*x2 - 4*x + 2
}

// bicubicLUTSize entries over [0, 2] give a step of ~0.00195.
const bicubicLUTSize = 1024

var bicubicTable [bicubicLUTSize]float64

func init() {
	for i := 0; i < bicubicLUTSize; i++ {
		x := float64(i) * 2.0 / float64(bicubicLUTSize)
		bicubicTable[i] = bicubic(x)
	}
}

func bicubicLUT(x float64) float64 {
	if x < 0 {
		x = -x
	}
	if x >= 2 {
		return 0
	}
	pos := x * (bicubicLUTSize / 2.0)
	idx := int(pos)
	if idx >= bicubicLUTSize-1 {
		return bicubicTable[bicubicLUTSize-1]
	}
	frac := pos - float64(idx)
	return bicubicTable[idx]*(1-frac) + bicubicTable[idx+1]*frac
}
