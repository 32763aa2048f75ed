package cog

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pspoerri/rasterwarp/internal/affine"
	"github.com/pspoerri/rasterwarp/internal/raster"
)

func testGrid(w, h, bands int) raster.Grid {
	return raster.Grid{
		Width:     w,
		Height:    h,
		Transform: affine.NorthUp(2_600_000, 1_200_000, 2, 2),
		CRS:       "EPSG:2056",
		Bands:     bands,
	}
}

func testBands(g raster.Grid, f raster.SampleFormat) []*raster.Band {
	bands := make([]*raster.Band, g.Bands)
	for b := range bands {
		band := raster.NewBand(g.Width, g.Height)
		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x++ {
				v := float64((x*7 + y*13 + b*31) % 200)
				switch f.Kind {
				case raster.Signed:
					v -= 100
				case raster.Float:
					v += 0.25
				}
				band.Set(x, y, v)
			}
		}
		bands[b] = band
	}
	return bands
}

func writeTestFile(t *testing.T, name string, g raster.Grid, p raster.Profile, bands []*raster.Band, opts WriterOptions) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, NewWriter(path, opts).Encode(context.Background(), g, p, bands))
	return path
}

func TestRoundTripLayouts(t *testing.T) {
	formats := []raster.SampleFormat{raster.Uint8, raster.Int16, raster.Uint16, raster.Int32, raster.Float32, raster.Float64}
	layouts := []struct {
		name string
		opts WriterOptions
	}{
		{"strips-band", WriterOptions{}},
		{"strips-pixel", WriterOptions{Interleave: InterleavePixel}},
		{"short-strips-deflate", WriterOptions{RowsPerStrip: 5, Compression: CompressionDeflate, Predictor: PredictorHorizontal}},
		{"tiles-band-deflate", WriterOptions{TileSize: 16, Compression: CompressionDeflate}},
		{"tiles-pixel-lzw", WriterOptions{TileSize: 16, Interleave: InterleavePixel, Compression: CompressionLZW}},
		{"strips-lzw-predictor", WriterOptions{Compression: CompressionLZW, Predictor: PredictorHorizontal}},
		{"tiles-deflate-floatpredictor", WriterOptions{TileSize: 32, Compression: CompressionDeflate, Predictor: PredictorFloatingPoint}},
		{"bigendian-tiles", WriterOptions{TileSize: 16, ByteOrder: binary.BigEndian, Compression: CompressionDeflate, Predictor: PredictorHorizontal}},
		{"bigtiff-pixel", WriterOptions{BigTIFF: true, Interleave: InterleavePixel, Compression: CompressionLZW}},
		{"bigtiff-bigendian-floatpredictor", WriterOptions{BigTIFF: true, ByteOrder: binary.BigEndian, Compression: CompressionLZW, Predictor: PredictorFloatingPoint}},
	}

	for _, f := range formats {
		for _, l := range layouts {
			t.Run(fmt.Sprintf("%s/%s", f, l.name), func(t *testing.T) {
				g := testGrid(37, 23, 3)
				want := testBands(g, f)
				path := writeTestFile(t, "out.tif", g, raster.Profile{Format: f, NoData: 255, HasNoData: true}, want, l.opts)

				r, err := Open(path)
				require.NoError(t, err)
				defer r.Close()

				got := r.Grid()
				assert.Equal(t, g.Width, got.Width)
				assert.Equal(t, g.Height, got.Height)
				assert.Equal(t, g.Bands, got.Bands)
				assert.Equal(t, g.Transform, got.Transform)
				assert.Equal(t, "EPSG:2056", got.CRS)
				assert.Equal(t, f, r.Profile().Format)
				assert.Equal(t, l.opts.BigTIFF, r.Layout().BigTIFF)

				for b := range want {
					band, err := r.ReadBand(context.Background(), b)
					require.NoError(t, err)
					require.Equal(t, want[b].Data, band.Data, "band %d", b)
				}
			})
		}
	}
}

func TestNoDataRoundTrip(t *testing.T) {
	g := testGrid(5, 4, 1)
	bands := testBands(g, raster.Int16)
	bands[0].Set(2, 1, math.NaN())

	path := writeTestFile(t, "nodata.tif", g, raster.Profile{Format: raster.Int16, NoData: -9999, HasNoData: true}, bands, WriterOptions{})
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	p := r.Profile()
	assert.True(t, p.HasNoData)
	assert.Equal(t, -9999.0, p.NoData)

	band, err := r.ReadBand(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, -9999.0, band.At(2, 1))
	assert.True(t, band.IsNoData(band.At(2, 1)))
	assert.Equal(t, bands[0].At(1, 1), band.At(1, 1))
}

func TestFloatNoDataDefaultsToNaN(t *testing.T) {
	g := testGrid(3, 3, 1)
	bands := testBands(g, raster.Float32)
	bands[0].Set(0, 0, math.NaN())

	path := writeTestFile(t, "nan.tif", g, raster.Profile{Format: raster.Float32}, bands, WriterOptions{Compression: CompressionDeflate})
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.True(t, r.Profile().HasNoData)
	assert.True(t, math.IsNaN(r.Profile().NoData))
	band, err := r.ReadBand(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(band.At(0, 0)))
	assert.Equal(t, 8, band.Valid())
}

func TestIntegerWithoutNoDataOmitsTag(t *testing.T) {
	g := testGrid(2, 2, 1)
	bands := testBands(g, raster.Uint8)
	bands[0].Set(0, 0, 0)
	bands[0].Set(1, 1, math.NaN())

	path := writeTestFile(t, "zero.tif", g, raster.Profile{Format: raster.Uint8}, bands, WriterOptions{})
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, raster.Profile{Format: raster.Uint8}, r.Profile())
	band, err := r.ReadBand(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, band.At(1, 1))
	assert.False(t, band.IsNoData(band.At(0, 0)), "real zero samples stay valid")
	assert.Equal(t, 4, band.Valid())
}

func TestZeroValueWriterOptions(t *testing.T) {
	g := testGrid(4, 4, 2)
	want := testBands(g, raster.Int16)
	path := writeTestFile(t, "plain.tif", g, raster.Profile{Format: raster.Int16, NoData: -9999, HasNoData: true}, want, WriterOptions{})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	l := r.Layout()
	assert.Equal(t, "none", l.Compression)
	assert.Equal(t, int(PredictorNone), l.Predictor)
	assert.False(t, l.Tiled)
	for b := range want {
		band, err := r.ReadBand(context.Background(), b)
		require.NoError(t, err)
		assert.Equal(t, want[b].Data, band.Data, "band %d", b)
	}
}

func TestRotatedTransformRoundTrip(t *testing.T) {
	g := testGrid(8, 6, 1)
	g.Transform = affine.Transform{A: 10, B: 2, C: 500_000, D: -1.5, E: -10, F: 4_000_000}
	g.CRS = "EPSG:3857"

	path := writeTestFile(t, "rotated.tif", g, raster.Profile{Format: raster.Float64}, testBands(g, raster.Float64), WriterOptions{})
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, g.Transform, r.Grid().Transform)
	assert.Equal(t, "transformation", r.GeoInfo().Source)
	assert.Equal(t, 3857, r.EPSG())
}

func TestGeographicGeoKeys(t *testing.T) {
	g := testGrid(4, 4, 1)
	g.Transform = affine.NorthUp(5, 48, 0.01, 0.01)
	g.CRS = "EPSG:4326"

	path := writeTestFile(t, "wgs84.tif", g, raster.Profile{Format: raster.Uint8}, testBands(g, raster.Uint8), WriterOptions{})
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, "EPSG:4326", r.Grid().CRS)
	assert.Equal(t, "tiepoint", r.GeoInfo().Source)
}

func TestChunkCacheSharesInterleavedChunks(t *testing.T) {
	g := testGrid(40, 40, 3)
	path := writeTestFile(t, "cache.tif", g, raster.Profile{Format: raster.Uint8}, testBands(g, raster.Uint8),
		WriterOptions{TileSize: 16, Interleave: InterleavePixel, Compression: CompressionDeflate})

	cache := NewChunkCache(1 << 20)
	defer cache.Close()
	r, err := Open(path, WithCache(cache))
	require.NoError(t, err)
	defer r.Close()

	_, err = r.ReadAll(context.Background())
	require.NoError(t, err)

	hits, misses := cache.Stats()
	assert.Equal(t, int64(9), misses) // 3x3 tiles decoded once
	assert.Equal(t, int64(18), hits)  // reused by bands 2 and 3
}

func TestReadBandErrors(t *testing.T) {
	g := testGrid(4, 4, 1)
	path := writeTestFile(t, "err.tif", g, raster.Profile{Format: raster.Uint8}, testBands(g, raster.Uint8), WriterOptions{})
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.ReadBand(context.Background(), 1)
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.ReadBand(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
}

func TestOpenRejectsNonTIFF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.tif")
	require.NoError(t, os.WriteFile(path, []byte("this is not a tiff file"), 0o644))
	_, err := Open(path)
	require.ErrorIs(t, err, ErrNotTIFF)
}

func TestWithCRSOverride(t *testing.T) {
	g := testGrid(4, 4, 1)
	path := writeTestFile(t, "crs.tif", g, raster.Profile{Format: raster.Uint8}, testBands(g, raster.Uint8), WriterOptions{})
	r, err := Open(path, WithCRS("EPSG:3857"))
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, "EPSG:3857", r.Grid().CRS)
}

func TestEncodeValidation(t *testing.T) {
	g := testGrid(4, 4, 1)
	path := filepath.Join(t.TempDir(), "bad.tif")

	err := NewWriter(path, WriterOptions{}).Encode(context.Background(), g, raster.Profile{}, nil)
	require.ErrorIs(t, err, raster.ErrInvalidGrid)

	err = NewWriter(path, WriterOptions{}).Encode(context.Background(), g, raster.Profile{}, []*raster.Band{raster.NewBand(3, 4)})
	require.ErrorIs(t, err, raster.ErrInvalidGrid)

	bad := g
	bad.Width = 0
	err = NewWriter(path, WriterOptions{}).Encode(context.Background(), bad, raster.Profile{}, []*raster.Band{raster.NewBand(4, 4)})
	require.ErrorIs(t, err, raster.ErrInvalidGrid)

	err = NewWriter(path, WriterOptions{Compression: Compression(compressionJPEG)}).Encode(context.Background(), g, raster.Profile{}, []*raster.Band{raster.NewBand(4, 4)})
	require.ErrorIs(t, err, ErrUnsupported)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "no file must be left behind")
}

func TestParseGeoInfoPixelIsPoint(t *testing.T) {
	ifd := &IFD{
		ModelTiepoint:   []float64{0, 0, 0, 100, 200, 0},
		ModelPixelScale: []float64{10, 10, 0},
		GeoKeys: []uint16{
			1, 1, 0, 2,
			gkRasterTypeGeoKey, 0, 1, rasterPixelIsPoint,
			gkProjectedCSTypeGeoKey, 0, 1, 3857,
		},
	}
	info, err := parseGeoInfo(ifd)
	require.NoError(t, err)
	assert.True(t, info.PixelIsPoint)
	assert.Equal(t, 3857, info.EPSG)
	assert.Equal(t, affine.Transform{A: 10, C: 95, E: -10, F: 205}, info.Transform)

	none, err := parseGeoInfo(&IFD{})
	require.NoError(t, err)
	assert.Equal(t, "", none.Source)
}

func TestParseEPSGUserDefined(t *testing.T) {
	keys := []uint16{1, 1, 0, 2,
		gkProjectedCSTypeGeoKey, 0, 1, userDefinedGeoKeyVal,
		gkGeographicTypeGeoKey, 0, 1, 4326,
	}
	assert.Equal(t, 4326, parseEPSG(keys))
	assert.Equal(t, 0, parseEPSG(nil))
}

func TestParseTFW(t *testing.T) {
	dir := t.TempDir()
	tif := filepath.Join(dir, "scan.tif")
	tfw := filepath.Join(dir, "scan.tfw")
	require.NoError(t, os.WriteFile(tfw, []byte("0.5\n0.0\n0.0\n-0.5\n2600000.25\n1199999.75\n"), 0o644))

	assert.Equal(t, tfw, findTFW(tif))
	tr, err := parseTFW(tfw)
	require.NoError(t, err)
	assert.Equal(t, affine.Transform{A: 0.5, C: 2_600_000, E: -0.5, F: 1_200_000}, tr)

	require.NoError(t, os.WriteFile(tfw, []byte("1\n0\n0\n"), 0o644))
	_, err = parseTFW(tfw)
	require.Error(t, err)
}

func TestInferEPSG(t *testing.T) {
	assert.Equal(t, 4326, inferEPSG(orb.Bound{Min: orb.Point{5, 45}, Max: orb.Point{11, 48}}))
	assert.Equal(t, 2056, inferEPSG(orb.Bound{Min: orb.Point{2_600_000, 1_100_000}, Max: orb.Point{2_700_000, 1_200_000}}))
	assert.Equal(t, 3857, inferEPSG(orb.Bound{Min: orb.Point{900_000, 5_900_000}, Max: orb.Point{1_000_000, 6_000_000}}))
	assert.Equal(t, 0, inferEPSG(orb.Bound{Min: orb.Point{-1e9, 0}, Max: orb.Point{0, 1}}))
}

func TestLZWRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	sizes := []int{0, 1, 2, 255, 4096, 70_000}
	for _, n := range sizes {
		random := make([]byte, n)
		rng.Read(random)
		repetitive := make([]byte, n)
		for i := range repetitive {
			repetitive[i] = byte(i % 7)
		}
		for name, data := range map[string][]byte{"random": random, "repetitive": repetitive} {
			t.Run(fmt.Sprintf("%s-%d", name, n), func(t *testing.T) {
				enc := compressTIFFLZW(data)
				got, err := decompress(&IFD{Compression: compressionLZW}, enc, len(data))
				require.NoError(t, err)
				assert.Equal(t, data, got)
			})
		}
	}
}

func TestUnpackBits(t *testing.T) {
	// Example from the TIFF 6.0 specification, section 9.
	in := []byte{0xFE, 0xAA, 0x02, 0x80, 0x00, 0x2A, 0xFD, 0xAA, 0x03, 0x80, 0x00, 0x2A, 0x22, 0xF7, 0xAA}
	want := []byte{
		0xAA, 0xAA, 0xAA, 0x80, 0x00, 0x2A, 0xAA, 0xAA, 0xAA, 0xAA, 0x80, 0x00, 0x2A, 0x22,
		0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA,
	}
	got, err := decompress(&IFD{Compression: compressionPackBits}, in, len(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPredictorRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for _, bo := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		for _, bps := range []int{1, 2, 4, 8} {
			for _, pred := range []uint16{predictorHorizontal, predictorFloatingPoint} {
				spp, width, rows := 3, 5, 4
				rowBytes := width * spp * bps
				orig := make([]byte, rowBytes*rows)
				rng.Read(orig)
				buf := append([]byte(nil), orig...)

				applyPredictor(pred, buf, rowBytes, spp, bps, bo)
				require.NoError(t, undoPredictor(pred, buf, rowBytes, spp, bps, bo))
				assert.Equal(t, orig, buf, "%v bps=%d predictor=%d", bo, bps, pred)
			}
		}
	}
	require.ErrorIs(t, undoPredictor(9, nil, 0, 1, 1, binary.LittleEndian), ErrUnsupported)
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("ZIP")
	require.NoError(t, err)
	assert.Equal(t, CompressionDeflate, c)
	assert.Equal(t, "deflate", c.String())

	_, err = ParseCompression("webp")
	require.ErrorIs(t, err, ErrUnsupported)
}
