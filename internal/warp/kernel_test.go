package warp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pspoerri/rasterwarp/internal/raster"
)

func bandOf(t *testing.T, w, h int, vals ...float64) *raster.Band {
	t.Helper()
	b, err := raster.NewBandFromData(w, h, vals)
	require.NoError(t, err)
	return b
}

func TestParseKernel(t *testing.T) {
	tests := []struct {
		in   string
		want Kernel
	}{
		{"", Bilinear},
		{"bilinear", Bilinear},
		{"NEAREST", Nearest},
		{" cubic ", Bicubic},
		{"bicubic", Bicubic},
		{"lanczos", Lanczos},
		{"lanczos3", Lanczos},
	}
	for _, tt := range tests {
		got, err := ParseKernel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseKernel("mode")
	require.ErrorIs(t, err, ErrInvalidParameter)

	for _, k := range []Kernel{Nearest, Bilinear, Bicubic, Lanczos} {
		back, err := ParseKernel(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, back)
	}
	assert.Equal(t, "Kernel(9)", Kernel(9).String())
}

func TestBilinearWeights(t *testing.T) {
	b := bandOf(t, 2, 2,
		0, 10,
		20, 30)
	s := Bilinear.sampler()

	// Midway between all four centers.
	v, ok := s(b, 1, 1)
	require.True(t, ok)
	assert.InDelta(t, 15, v, 1e-12)

	// A quarter of the way from pixel (0,0) towards (1,0).
	v, ok = s(b, 0.75, 0.5)
	require.True(t, ok)
	assert.InDelta(t, 2.5, v, 1e-12)

	// Pixel centers are reproduced exactly.
	v, ok = s(b, 1.5, 1.5)
	require.True(t, ok)
	assert.Equal(t, 30.0, v)
}

func TestBilinearEdgeClamp(t *testing.T) {
	b := bandOf(t, 2, 1, 4, 8)
	s := Bilinear.sampler()

	// Inside the half-pixel border the outermost pixel is repeated.
	v, ok := s(b, 0.1, 0.5)
	require.True(t, ok)
	assert.InDelta(t, 4.0, v, 1e-12)

	v, ok = s(b, 1.99, 0.9)
	require.True(t, ok)
	assert.InDelta(t, 8.0, v, 1e-12)
}

func TestSampleNoDataRule(t *testing.T) {
	b := bandOf(t, 3, 1, 1, -1, 5)
	b.SetNoData(-1)

	for _, k := range []Kernel{Bilinear, Bicubic, Lanczos} {
		s := k.sampler()
		// Between pixel 0 and the no-data pixel 1: contributing, so no-data.
		_, ok := s(b, 1.2, 0.5)
		assert.False(t, ok, k.String())
		// Exactly at the center of pixel 0: the no-data neighbour has zero weight.
		v, ok := s(b, 0.5, 0.5)
		require.True(t, ok, k.String())
		assert.Equal(t, 1.0, v, k.String())
	}

	_, ok := Nearest.sampler()(b, 1.9, 0.2)
	assert.False(t, ok)
	v, ok := Nearest.sampler()(b, 2.1, 0.2)
	require.True(t, ok)
	assert.Equal(t, 5.0, v)
}

func TestSampleNaNIsNoData(t *testing.T) {
	b := bandOf(t, 2, 2,
		1, math.NaN(),
		3, 4)
	_, ok := Bilinear.sampler()(b, 1, 1)
	assert.False(t, ok)
	_, ok = Nearest.sampler()(b, 1.5, 0.5)
	assert.False(t, ok)
}

func TestKernelsPreserveConstantField(t *testing.T) {
	vals := make([]float64, 8*8)
	for i := range vals {
		vals[i] = 42
	}
	b := bandOf(t, 8, 8, vals...)
	points := [][2]float64{{0.1, 0.1}, {3.3, 4.7}, {7.9, 0.5}, {4, 4}, {5.55, 2.05}}
	for _, k := range []Kernel{Nearest, Bilinear, Bicubic, Lanczos} {
		s := k.sampler()
		for _, p := range points {
			v, ok := s(b, p[0], p[1])
			require.True(t, ok)
			assert.InDelta(t, 42, v, 1e-9, "%v at %v", k, p)
		}
	}
}

func TestKernelsExactAtCenters(t *testing.T) {
	vals := make([]float64, 6*5)
	for i := range vals {
		vals[i] = float64(i*i%17) - 3.25
	}
	b := bandOf(t, 6, 5, vals...)
	for _, k := range []Kernel{Nearest, Bilinear, Bicubic, Lanczos} {
		s := k.sampler()
		for row := 0; row < 5; row++ {
			for col := 0; col < 6; col++ {
				v, ok := s(b, float64(col)+0.5, float64(row)+0.5)
				require.True(t, ok)
				assert.Equal(t, b.At(col, row), v, "%v at (%d,%d)", k, col, row)
			}
		}
	}
}

func TestKernelFunctions(t *testing.T) {
	assert.Equal(t, 1.0, lanczos3(0))
	assert.Equal(t, 0.0, lanczos3(3.5))
	assert.InDelta(t, 0, lanczos3(1), 1e-15)
	assert.InDelta(t, lanczos3(0.37), lanczos3LUT(-0.37), 1e-5)

	assert.Equal(t, 1.0, bicubic(0))
	assert.Equal(t, 0.0, bicubic(1))
	assert.Equal(t, 0.0, bicubic(2))
	assert.InDelta(t, -0.0625, bicubic(1.5), 1e-12)
	assert.InDelta(t, bicubic(0.81), bicubicLUT(0.81), 1e-5)

	assert.Equal(t, 0.75, triangle(-0.25))
	assert.Equal(t, 0.0, triangle(1))
}

func TestSnapAbsorbsRoundTripError(t *testing.T) {
	b := bandOf(t, 3, 1, 1, -1, 5)
	b.SetNoData(-1)
	v, ok := Bilinear.sampler()(b, 0.5+1e-13, 0.5-1e-13)
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
	assert.Equal(t, 0.25, snap(0.25))
	assert.Equal(t, 3.0, snap(2.9999999999999))
}
