// Package affine implements the six-coefficient pixel-to-CRS transform used by
// GeoTIFF and GDAL.
//
// The coefficient order follows the rasterio Affine convention:
//
//	x = A·col + B·row + C
//	y = D·col + E·row + F
package affine

import (
	"errors"
	"fmt"
	"math"
)

// ErrDegenerate is returned for transforms that cannot be inverted.
var ErrDegenerate = errors.New("affine: degenerate transform")

// Transform maps pixel (col, row) to CRS (x, y). It is a value type: every
// method returns a new Transform and never modifies the receiver.
type Transform struct {
	A, B, C float64
	D, E, F float64
}

// Identity is the transform where pixel and CRS coordinates coincide.
var Identity = Transform{A: 1, E: 1}

// New builds a transform and rejects a zero determinant or non-finite
// coefficients.
func New(a, b, c, d, e, f float64) (Transform, error) {
	t := Transform{A: a, B: b, C: c, D: d, E: e, F: f}
	if err := t.Validate(); err != nil {
		return Transform{}, err
	}
	return t, nil
}

// NorthUp builds the common axis-aligned transform with the origin at the
// upper-left corner and rows growing southwards.
func NorthUp(originX, originY, pixelWidth, pixelHeight float64) Transform {
	return Transform{A: pixelWidth, C: originX, E: -pixelHeight, F: originY}
}

// FromGDAL converts a GDAL geotransform [c, a, b, f, d, e].
func FromGDAL(gt [6]float64) Transform {
	return Transform{A: gt[1], B: gt[2], C: gt[0], D: gt[4], E: gt[5], F: gt[3]}
}

// ToGDAL returns the GDAL geotransform ordering.
func (t Transform) ToGDAL() [6]float64 {
	return [6]float64{t.C, t.A, t.B, t.F, t.D, t.E}
}

// Determinant returns A·E − B·D.
func (t Transform) Determinant() float64 {
	return t.A*t.E - t.B*t.D
}

// Validate reports whether the transform is usable.
func (t Transform) Validate() error {
	for _, v := range [6]float64{t.A, t.B, t.C, t.D, t.E, t.F} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coefficient in %v", ErrDegenerate, t)
		}
	}
	if t.Determinant() == 0 {
		return fmt.Errorf("%w: zero determinant in %v", ErrDegenerate, t)
	}
	return nil
}

// Apply maps pixel coordinates to CRS coordinates.
func (t Transform) Apply(col, row float64) (x, y float64) {
	return t.A*col + t.B*row + t.C, t.D*col + t.E*row + t.F
}

// Inverse returns the transform mapping CRS coordinates back to pixel space.
func (t Transform) Inverse() (Transform, error) {
	det := t.Determinant()
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return Transform{}, fmt.Errorf("%w: cannot invert %v", ErrDegenerate, t)
	}
	inv := 1 / det
	a := t.E * inv
	b := -t.B * inv
	d := -t.D * inv
	e := t.A * inv
	return Transform{
		A: a,
		B: b,
		C: -t.C*a - t.F*b,
		D: d,
		E: e,
		F: -t.C*d - t.F*e,
	}, nil
}

// Translate shifts the transform by whole or fractional pixels.
func (t Transform) Translate(cols, rows float64) Transform {
	x, y := t.Apply(cols, rows)
	out := t
	out.C, out.F = x, y
	return out
}

// Resolution returns the pixel size along x and y in CRS units.
// For rotated transforms this is the length of the column and row vectors.
func (t Transform) Resolution() (dx, dy float64) {
	return math.Hypot(t.A, t.D), math.Hypot(t.B, t.E)
}

// IsRectilinear reports whether the transform has no rotation or shear.
func (t Transform) IsRectilinear() bool {
	return t.B == 0 && t.D == 0
}

func (t Transform) String() string {
	return fmt.Sprintf("Affine(%v, %v, %v, %v, %v, %v)", t.A, t.B, t.C, t.D, t.E, t.F)
}
