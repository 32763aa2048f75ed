package warp

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/pspoerri/rasterwarp/internal/affine"
	"github.com/pspoerri/rasterwarp/internal/coord"
	"github.com/pspoerri/rasterwarp/internal/raster"
)

// maxDimension bounds the width and height of a planned grid, maxPixels
// their product. A float64 band of maxPixels samples takes 128 GiB.
const (
	maxDimension = 1 << 30
	maxPixels    = 1 << 34
)

// ceilTolerance keeps exact multiples of the resolution from growing by one
// pixel through floating-point noise.
const ceilTolerance = 1e-9

// Resolution is the destination pixel size in target CRS units.
type Resolution struct {
	DX, DY float64
}

// Square returns a Resolution with equal x and y pixel size.
func Square(size float64) Resolution {
	return Resolution{DX: size, DY: size}
}

func (r Resolution) validate() error {
	for _, v := range [2]float64{r.DX, r.DY} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("%w: resolution %vx%v must be positive and finite", ErrInvalidParameter, r.DX, r.DY)
		}
	}
	return nil
}

// PlanOption configures Plan and Footprint.
type PlanOption func(*planConfig)

type planConfig struct {
	densify int
}

// WithDensify adds n evenly spaced sample points along every source edge.
// Curved edges then contribute to the destination extent instead of only
// the four corners. Sample points that fail to project are skipped.
func WithDensify(n int) PlanOption {
	return func(c *planConfig) {
		if n > 0 {
			c.densify = n
		}
	}
}

// Plan computes the north-up destination grid that covers the source grid
// in the target CRS at the given resolution.
func Plan(src raster.Grid, srcProj, dstProj coord.Projection, res Resolution, opts ...PlanOption) (raster.Grid, error) {
	if err := checkInputs(src, srcProj, dstProj); err != nil {
		return raster.Grid{}, err
	}
	if err := res.validate(); err != nil {
		return raster.Grid{}, err
	}
	var cfg planConfig
	for _, o := range opts {
		o(&cfg)
	}

	pts, err := projectOutline(src, srcProj, dstProj, cfg.densify)
	if err != nil {
		return raster.Grid{}, err
	}
	bound := orb.MultiPoint(pts).Bound()
	minX, minY := bound.Min[0], bound.Min[1]
	maxX, maxY := bound.Max[0], bound.Max[1]

	width, err := cellCount(maxX-minX, res.DX)
	if err != nil {
		return raster.Grid{}, err
	}
	height, err := cellCount(maxY-minY, res.DY)
	if err != nil {
		return raster.Grid{}, err
	}
	if width < 1 || height < 1 {
		return raster.Grid{}, fmt.Errorf("%w: degenerate footprint %v at resolution %vx%v gives %dx%d pixels",
			ErrGeometry, bound, res.DX, res.DY, width, height)
	}

	dst := raster.Grid{
		Width:     width,
		Height:    height,
		Transform: affine.NorthUp(minX, maxY, res.DX, res.DY),
		CRS:       dstProj.Code(),
		Bands:     src.Bands,
	}
	if dst.Pixels() > maxPixels {
		return raster.Grid{}, fmt.Errorf("%w: resolution %vx%v gives %dx%d pixels, more than %d",
			ErrInvalidParameter, res.DX, res.DY, width, height, maxPixels)
	}
	return dst, nil
}

// Footprint returns the outline of the source grid in the target CRS as a
// closed polygon ring, walking the edges clockwise from the origin corner.
func Footprint(src raster.Grid, srcProj, dstProj coord.Projection, opts ...PlanOption) (orb.Polygon, error) {
	if err := checkInputs(src, srcProj, dstProj); err != nil {
		return nil, err
	}
	var cfg planConfig
	for _, o := range opts {
		o(&cfg)
	}
	pts, err := projectOutline(src, srcProj, dstProj, cfg.densify)
	if err != nil {
		return nil, err
	}
	ring := orb.Ring(append(pts, pts[0]))
	return orb.Polygon{ring}, nil
}

func checkInputs(src raster.Grid, srcProj, dstProj coord.Projection) error {
	if srcProj == nil || dstProj == nil {
		return fmt.Errorf("%w: nil projection", ErrInvalidParameter)
	}
	if err := src.Validate(); err != nil {
		return fmt.Errorf("%w: source: %w", ErrInvalidParameter, err)
	}
	return nil
}

// outlinePoint is a pixel-space position on the grid boundary. corner is the
// index in raster.Grid.Corners order, or -1 for densified edge samples.
type outlinePoint struct {
	col, row float64
	corner   int
}

// outline walks the grid boundary (0,0) → (w,0) → (w,h) → (0,h) with n
// extra samples per edge.
func outline(width, height, n int) []outlinePoint {
	w, h := float64(width), float64(height)
	corners := [4]outlinePoint{{0, 0, 0}, {w, 0, 1}, {w, h, 3}, {0, h, 2}}
	pts := make([]outlinePoint, 0, 4*(n+1))
	for e := range corners {
		a, b := corners[e], corners[(e+1)%4]
		pts = append(pts, a)
		for k := 1; k <= n; k++ {
			t := float64(k) / float64(n+1)
			pts = append(pts, outlinePoint{
				col:    a.col + (b.col-a.col)*t,
				row:    a.row + (b.row-a.row)*t,
				corner: -1,
			})
		}
	}
	return pts
}

func projectOutline(src raster.Grid, srcProj, dstProj coord.Projection, densify int) ([]orb.Point, error) {
	identity := coord.Same(srcProj, dstProj)
	outlinePts := outline(src.Width, src.Height, densify)
	pts := make([]orb.Point, 0, len(outlinePts))
	for _, p := range outlinePts {
		x, y := src.Transform.Apply(p.col, p.row)
		if identity {
			pts = append(pts, orb.Point{x, y})
			continue
		}
		tx, ty, err := reproject(srcProj, dstProj, x, y)
		if err != nil {
			if p.corner < 0 {
				continue
			}
			return nil, fmt.Errorf("%w: corner %d (%v, %v) from %s to %s: %w",
				ErrGeometry, p.corner, x, y, srcProj.Code(), dstProj.Code(), err)
		}
		pts = append(pts, orb.Point{tx, ty})
	}
	return pts, nil
}

// reproject maps a point between two CRSs through WGS84.
func reproject(from, to coord.Projection, x, y float64) (float64, float64, error) {
	lon, lat, err := from.ToWGS84(x, y)
	if err != nil {
		return 0, 0, err
	}
	return to.FromWGS84(lon, lat)
}

// cellCount returns ceil(extent/step), snapping quotients within
// ceilTolerance of an integer.
func cellCount(extent, step float64) (int, error) {
	n := extent / step
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("%w: non-finite extent %v", ErrGeometry, extent)
	}
	if r := math.Round(n); math.Abs(n-r) <= ceilTolerance*math.Max(1, r) {
		n = r
	}
	n = math.Ceil(n)
	if n > maxDimension {
		return 0, fmt.Errorf("%w: %v pixels along one axis exceeds %d", ErrInvalidParameter, n, maxDimension)
	}
	return int(n), nil
}
