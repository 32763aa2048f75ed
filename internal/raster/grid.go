// Package raster holds the in-memory representation of a georeferenced raster:
// its grid geometry and its per-band sample arrays.
package raster

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/pspoerri/rasterwarp/internal/affine"
)

// ErrInvalidGrid is wrapped by Grid.Validate failures.
var ErrInvalidGrid = errors.New("invalid raster grid")

// Grid describes the geometry of a raster: its pixel dimensions, the affine
// mapping from pixel to CRS coordinates and the CRS identifier.
type Grid struct {
	Width     int
	Height    int
	Transform affine.Transform
	CRS       string // "EPSG:nnnn"
	Bands     int
}

// Validate checks the dimensions and the transform.
func (g Grid) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidGrid, g.Width, g.Height)
	}
	if g.Bands < 0 {
		return fmt.Errorf("%w: negative band count %d", ErrInvalidGrid, g.Bands)
	}
	if err := g.Transform.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidGrid, err)
	}
	return nil
}

// Corners returns the CRS coordinates of the four outer pixel corners in the
// order (0,0), (w,0), (0,h), (w,h).
func (g Grid) Corners() [4]orb.Point {
	w, h := float64(g.Width), float64(g.Height)
	var out [4]orb.Point
	for i, p := range [4][2]float64{{0, 0}, {w, 0}, {0, h}, {w, h}} {
		x, y := g.Transform.Apply(p[0], p[1])
		out[i] = orb.Point{x, y}
	}
	return out
}

// Bounds returns the axis-aligned CRS extent of the grid.
func (g Grid) Bounds() orb.Bound {
	c := g.Corners()
	return orb.MultiPoint(c[:]).Bound()
}

// Resolution returns the pixel size along x and y in CRS units.
func (g Grid) Resolution() (dx, dy float64) {
	return g.Transform.Resolution()
}

// PixelCenter returns the CRS coordinates of the center of pixel (col, row).
func (g Grid) PixelCenter(col, row int) (x, y float64) {
	return g.Transform.Apply(float64(col)+0.5, float64(row)+0.5)
}

// Pixels returns Width*Height.
func (g Grid) Pixels() int {
	return g.Width * g.Height
}

func (g Grid) String() string {
	return fmt.Sprintf("%dx%d %s bands=%d %v", g.Width, g.Height, g.CRS, g.Bands, g.Transform)
}
