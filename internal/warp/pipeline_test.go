package warp

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pspoerri/rasterwarp/internal/affine"
	"github.com/pspoerri/rasterwarp/internal/cog"
	"github.com/pspoerri/rasterwarp/internal/raster"
)

// memDecoder serves bands from memory.
type memDecoder struct {
	grid    raster.Grid
	profile raster.Profile
	bands   []*raster.Band
	err     error
}

func (d *memDecoder) Grid() raster.Grid       { return d.grid }
func (d *memDecoder) Profile() raster.Profile { return d.profile }

func (d *memDecoder) ReadBand(ctx context.Context, i int) (*raster.Band, error) {
	if d.err != nil {
		return nil, d.err
	}
	b := *d.bands[i]
	b.Data = append([]float64(nil), b.Data...)
	return &b, nil
}

// memEncoder records what it was asked to encode.
type memEncoder struct {
	calls   int
	grid    raster.Grid
	profile raster.Profile
	bands   []*raster.Band
}

func (e *memEncoder) Encode(ctx context.Context, g raster.Grid, p raster.Profile, bands []*raster.Band) error {
	e.calls++
	e.grid, e.profile, e.bands = g, p, bands
	return nil
}

func sequentialBand(w, h int, offset float64) *raster.Band {
	b := raster.NewBand(w, h)
	for i := range b.Data {
		b.Data[i] = float64(i) + offset
	}
	return b
}

func TestReproject4x4NorthUpThroughGeoTIFF(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.tif")
	dstPath := filepath.Join(dir, "dst.tif")

	grid := raster.Grid{Width: 4, Height: 4, Transform: affine.NorthUp(500, 800, 1, 1), CRS: "EPSG:3857", Bands: 2}
	profile := raster.Profile{Format: raster.Int16, NoData: -9999, HasNoData: true}
	bands := []*raster.Band{sequentialBand(4, 4, 0), sequentialBand(4, 4, 100)}
	require.NoError(t, cog.NewWriter(srcPath, cog.WriterOptions{}).Encode(context.Background(), grid, profile, bands))

	src, err := cog.Open(srcPath)
	require.NoError(t, err)
	defer src.Close()

	res, err := Reproject(context.Background(), src, cog.NewWriter(dstPath, cog.WriterOptions{Compression: cog.CompressionDeflate}),
		mercator, mercator, Config{Resolution: Square(1)})
	require.NoError(t, err)
	assert.Equal(t, grid.Transform, res.Grid.Transform)
	assert.Equal(t, int64(32), res.Counts.Pixels)
	assert.Zero(t, res.Counts.NoData)

	out, err := cog.Open(dstPath)
	require.NoError(t, err)
	defer out.Close()
	assert.Equal(t, profile, out.Profile())
	assert.Equal(t, "EPSG:3857", out.Grid().CRS)
	assert.Equal(t, grid.Transform, out.Grid().Transform)

	for i, want := range bands {
		got, err := out.ReadBand(context.Background(), i)
		require.NoError(t, err)
		assert.Equal(t, want.Data, got.Data, "band %d", i+1)
	}
}

func TestReproject4x4SouthUpMatchesByLocation(t *testing.T) {
	band := sequentialBand(4, 4, 0)
	dec := &memDecoder{
		grid:    raster.Grid{Width: 4, Height: 4, Transform: affine.Transform{A: 1, E: 1}, CRS: "EPSG:3857", Bands: 1},
		profile: raster.Profile{Format: raster.Float32},
		bands:   []*raster.Band{band},
	}
	enc := &memEncoder{}
	res, err := Reproject(context.Background(), dec, enc, mercator, mercator, Config{Resolution: Square(1)})
	require.NoError(t, err)
	require.Equal(t, 1, enc.calls)
	assert.Equal(t, affine.NorthUp(0, 4, 1, 1), res.Grid.Transform)

	out := enc.bands[0]
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			assert.Equal(t, band.At(col, 3-row), out.At(col, row), "(%d,%d)", col, row)
		}
	}
}

func TestReprojectZeroResolutionWritesNothing(t *testing.T) {
	dir := t.TempDir()
	dstPath := filepath.Join(dir, "dst.tif")
	dec := &memDecoder{
		grid:  raster.Grid{Width: 4, Height: 4, Transform: affine.NorthUp(0, 4, 1, 1), CRS: "EPSG:3857", Bands: 1},
		bands: []*raster.Band{sequentialBand(4, 4, 0)},
	}
	_, err := Reproject(context.Background(), dec, cog.NewWriter(dstPath, cog.WriterOptions{}),
		mercator, mercator, Config{Resolution: Square(0)})
	require.ErrorIs(t, err, ErrInvalidParameter)
	_, statErr := os.Stat(dstPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestReprojectNoDataOverride(t *testing.T) {
	dec := &memDecoder{
		grid:    raster.Grid{Width: 4, Height: 4, Transform: affine.NorthUp(0, 4, 1, 1), CRS: "EPSG:3857", Bands: 1},
		profile: raster.Profile{Format: raster.Uint8},
		bands:   []*raster.Band{sequentialBand(4, 4, 1)},
	}
	enc := &memEncoder{}
	_, err := Reproject(context.Background(), dec, enc, mercator, mercator,
		Config{Resolution: Square(1), NoData: 255, HasNoData: true, Concurrency: 1, RowConcurrency: 2})
	require.NoError(t, err)
	assert.Equal(t, raster.Profile{Format: raster.Uint8, NoData: 255, HasNoData: true}, enc.profile)
	assert.Equal(t, 255.0, enc.bands[0].NoData)
}

func TestReprojectAcrossCRS(t *testing.T) {
	src := raster.Grid{Width: 20, Height: 20, Transform: affine.NorthUp(2_600_000, 1_200_000, 50, 50), CRS: "EPSG:2056", Bands: 1}
	dec := &memDecoder{
		grid:    src,
		profile: raster.Profile{Format: raster.Float32},
		bands:   []*raster.Band{sequentialBand(20, 20, 0)},
	}
	enc := &memEncoder{}
	res, err := Reproject(context.Background(), dec, enc, lv95, mercator, Config{Resolution: Square(40), Densify: 4})
	require.NoError(t, err)
	assert.Equal(t, "EPSG:3857", res.Grid.CRS)
	assert.Equal(t, res.Grid.Pixels(), int(res.Counts.Pixels))
	require.Len(t, res.Footprint, 1)
	assert.Len(t, res.Footprint[0], 21)
	assert.Greater(t, enc.bands[0].Valid(), res.Grid.Pixels()/2)
	assert.Less(t, res.Counts.NoData, res.Counts.Pixels)
}

func TestReprojectZeroBandsPlansOnly(t *testing.T) {
	dec := &memDecoder{
		grid:    raster.Grid{Width: 4, Height: 4, Transform: affine.NorthUp(0, 4, 1, 1), CRS: "EPSG:3857"},
		profile: raster.Profile{Format: raster.Float32},
	}
	enc := &memEncoder{}
	res, err := Reproject(context.Background(), dec, enc, mercator, mercator, Config{Resolution: Square(2), MemoryLimit: 1})
	require.NoError(t, err)
	assert.Zero(t, enc.calls)
	assert.Empty(t, res.Bands)
	assert.Equal(t, 2, res.Grid.Width)
	assert.Equal(t, 2, res.Grid.Height)
	assert.Equal(t, 0, res.Grid.Bands)
	assert.Equal(t, "EPSG:3857", res.Grid.CRS)
	require.Len(t, res.Footprint, 1)
	assert.Zero(t, res.Counts.Pixels)
}

func TestReprojectErrors(t *testing.T) {
	grid := raster.Grid{Width: 4, Height: 4, Transform: affine.NorthUp(0, 4, 1, 1), CRS: "EPSG:3857", Bands: 1}
	ctx := context.Background()

	t.Run("memory limit", func(t *testing.T) {
		enc := &memEncoder{}
		dec := &memDecoder{grid: grid, bands: []*raster.Band{sequentialBand(4, 4, 0)}}
		_, err := Reproject(ctx, dec, enc, mercator, mercator, Config{Resolution: Square(1), MemoryLimit: 16})
		require.ErrorIs(t, err, ErrInvalidParameter)
		assert.Zero(t, enc.calls)
	})

	t.Run("decoder failure", func(t *testing.T) {
		boom := errors.New("boom")
		enc := &memEncoder{}
		dec := &memDecoder{grid: grid, err: boom}
		_, err := Reproject(ctx, dec, enc, mercator, mercator, Config{Resolution: Square(1)})
		require.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "reading band 1")
		assert.Zero(t, enc.calls)
	})

	t.Run("bad kernel", func(t *testing.T) {
		dec := &memDecoder{grid: grid, bands: []*raster.Band{sequentialBand(4, 4, 0)}}
		_, err := Reproject(ctx, dec, &memEncoder{}, mercator, mercator, Config{Resolution: Square(1), Kernel: Kernel(-1)})
		require.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("geometry", func(t *testing.T) {
		g := raster.Grid{Width: 10, Height: 10, Transform: affine.NorthUp(-2.1e7, 1e6, 1e5, 1e5), Bands: 1}
		dec := &memDecoder{grid: g, bands: []*raster.Band{sequentialBand(10, 10, 0)}}
		_, err := Reproject(ctx, dec, &memEncoder{}, mercator, wgs84, Config{Resolution: Square(1)})
		require.ErrorIs(t, err, ErrGeometry)
	})
}

func TestEstimateBytes(t *testing.T) {
	src := raster.Grid{Width: 10, Height: 10, Bands: 2}
	dst := raster.Grid{Width: 20, Height: 20, Bands: 2}
	assert.Equal(t, int64((800+100)*8), EstimateBytes(src, dst, 1))
	assert.Equal(t, int64((800+200)*8), EstimateBytes(src, dst, 8))

	huge := raster.Grid{Width: 800_000_000, Height: 800_000_000, Bands: 2}
	assert.Equal(t, int64(math.MaxInt64), EstimateBytes(src, huge, 2))
	assert.Equal(t, int64(math.MaxInt64), EstimateBytes(huge, huge, 2))
	assert.Equal(t, int64(math.MaxInt64), mulSat(math.MaxInt64/2, 3))
	assert.Equal(t, int64(6), mulSat(2, 3))
}

func TestComputeMemoryLimitNonNegative(t *testing.T) {
	assert.GreaterOrEqual(t, ComputeMemoryLimit(DefaultMemoryFraction, false), int64(0))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{45*time.Second + 600*time.Millisecond, "45s"},
		{83 * time.Second, "1m23s"},
		{62 * time.Minute, "62m00s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.d))
	}
}

func TestProgressLine(t *testing.T) {
	pb := &progressBar{total: 4, label: "Warping", barWidth: 10}
	pb.Increment()
	pb.Increment()
	line := pb.line(2 * time.Second)
	assert.Contains(t, line, "Warping [█████░░░░░]  50%")
	assert.Contains(t, line, "2/4 rows")
	assert.Contains(t, line, "1/s")
}
