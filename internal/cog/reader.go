// Package cog reads and writes GeoTIFF rasters, including Cloud Optimized
// GeoTIFFs, without cgo. Reading supports classic and BigTIFF files, strips
// and tiles, pixel- and band-interleaved layouts, the common compressions and
// predictors, and 8 to 64 bit integer and float samples.
package cog

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pspoerri/rasterwarp/internal/coord"
	"github.com/pspoerri/rasterwarp/internal/raster"
)

var (
	// ErrNotTIFF is returned for files without a TIFF header.
	ErrNotTIFF = errors.New("not a TIFF file")
	// ErrUnsupported is returned for valid TIFF features this package cannot decode.
	ErrUnsupported = errors.New("unsupported TIFF feature")
	// ErrNoGeoreference is returned when neither GeoTIFF tags nor a world file locate the raster.
	ErrNoGeoreference = errors.New("no georeferencing")
)

// Option configures Open.
type Option func(*openConfig)

type openConfig struct {
	cache *ChunkCache
	crs   string
}

// WithCache shares a chunk cache between readers.
func WithCache(c *ChunkCache) Option {
	return func(o *openConfig) { o.cache = c }
}

// WithCRS overrides the CRS found in the file, e.g. for world-file rasters
// whose coordinates cannot be recognised.
func WithCRS(code string) Option {
	return func(o *openConfig) { o.crs = code }
}

// Reader provides band-level access to a GeoTIFF file. The file is
// memory-mapped for lock-free concurrent access; decoded chunks are kept in
// a ChunkCache.
type Reader struct {
	data      []byte // memory-mapped file contents
	bo        binary.ByteOrder
	bigTIFF   bool
	ifds      []IFD
	main      int // index of the full-resolution IFD
	geo       GeoInfo
	crs       string
	format    raster.SampleFormat
	noData    float64
	hasNoData bool
	path      string
	cache     *ChunkCache
	ownCache  bool
}

// Open opens a GeoTIFF file by memory-mapping it and parsing its structure.
func Open(path string, opts ...Option) (*Reader, error) {
	var cfg openConfig
	for _, o := range opts {
		o(&cfg)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	size := fi.Size()
	if size == 0 {
		return nil, fmt.Errorf("%s: empty file", path)
	}

	data, err := mapFile(f, int(size))
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	r := &Reader{data: data, path: path, cache: cfg.cache}
	if err := r.init(cfg); err != nil {
		unmapFile(data)
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if r.cache == nil {
		r.cache = NewChunkCache(0)
		r.ownCache = true
	}
	return r, nil
}

func (r *Reader) init(cfg openConfig) error {
	ifds, bo, big, err := parseTIFF(bytes.NewReader(r.data))
	if err != nil {
		return err
	}
	if len(ifds) == 0 {
		return fmt.Errorf("%w: no IFDs found", ErrNotTIFF)
	}
	r.ifds, r.bo, r.bigTIFF = ifds, bo, big

	r.main = -1
	for i := range ifds {
		if !ifds[i].IsOverview() {
			r.main = i
			break
		}
	}
	if r.main < 0 {
		r.main = 0
	}
	ifd := &r.ifds[r.main]

	if ifd.Width == 0 || ifd.Height == 0 {
		return fmt.Errorf("%w: image is %dx%d", ErrUnsupported, ifd.Width, ifd.Height)
	}
	if (ifd.TileWidth > 0) != (ifd.TileHeight > 0) {
		return fmt.Errorf("%w: incomplete tile size", ErrUnsupported)
	}
	planes := 1
	if ifd.PlanarConfig == planarSeparate {
		planes = int(ifd.SamplesPerPixel)
	}
	if want := ifd.ChunksPerPlane() * planes; len(ifd.Offsets) < want || len(ifd.ByteCounts) < want {
		return fmt.Errorf("%w: %d chunk offsets, want %d", ErrUnsupported, len(ifd.Offsets), want)
	}
	if ifd.Compression == compressionJPEGOld {
		return fmt.Errorf("%w: old-style JPEG", ErrUnsupported)
	}

	if r.format, err = sampleFormatOf(ifd); err != nil {
		return err
	}
	if ifd.Compression == compressionJPEG && r.format != raster.Uint8 {
		return fmt.Errorf("%w: JPEG with %s samples", ErrUnsupported, r.format)
	}

	if ifd.NoData != "" {
		v, err := strconv.ParseFloat(strings.TrimSpace(ifd.NoData), 64)
		if err != nil {
			return fmt.Errorf("parsing GDAL_NODATA %q: %w", ifd.NoData, err)
		}
		r.noData, r.hasNoData = v, true
	}

	if r.geo, err = parseGeoInfo(ifd); err != nil {
		return err
	}
	if r.geo.Source == "" {
		tfwPath := findTFW(r.path)
		if tfwPath == "" {
			return ErrNoGeoreference
		}
		t, err := parseTFW(tfwPath)
		if err != nil {
			return err
		}
		r.geo.Transform = t
		r.geo.Source = "tfw"
	}

	switch {
	case cfg.crs != "":
		epsg, err := coord.ParseEPSG(cfg.crs)
		if err != nil {
			return err
		}
		r.geo.EPSG = epsg
	case r.geo.EPSG == 0:
		r.geo.EPSG = inferEPSG(r.gridNoCRS().Bounds())
	}
	if r.geo.EPSG > 0 {
		r.crs = coord.FormatEPSG(r.geo.EPSG)
	}
	return nil
}

// Close unmaps the file and stops a cache the reader created itself.
func (r *Reader) Close() error {
	if r.ownCache && r.cache != nil {
		r.cache.Close()
		r.cache = nil
	}
	if r.data != nil {
		err := unmapFile(r.data)
		r.data = nil
		return err
	}
	return nil
}

// Path returns the file path.
func (r *Reader) Path() string {
	return r.path
}

// GeoInfo returns the parsed georeferencing.
func (r *Reader) GeoInfo() GeoInfo {
	return r.geo
}

// Width returns the full-resolution image width.
func (r *Reader) Width() int {
	return int(r.ifds[r.main].Width)
}

// Height returns the full-resolution image height.
func (r *Reader) Height() int {
	return int(r.ifds[r.main].Height)
}

// EPSG returns the detected EPSG code.
func (r *Reader) EPSG() int {
	return r.geo.EPSG
}

// IFDCount returns the total number of IFDs.
func (r *Reader) IFDCount() int {
	return len(r.ifds)
}

// Cache returns the chunk cache in use.
func (r *Reader) Cache() *ChunkCache {
	return r.cache
}

func (r *Reader) gridNoCRS() raster.Grid {
	ifd := &r.ifds[r.main]
	return raster.Grid{
		Width:     int(ifd.Width),
		Height:    int(ifd.Height),
		Transform: r.geo.Transform,
		Bands:     int(ifd.SamplesPerPixel),
	}
}

// Grid returns the geometry of the full-resolution image.
func (r *Reader) Grid() raster.Grid {
	g := r.gridNoCRS()
	g.CRS = r.crs
	return g
}

// Profile returns the sample format and no-data value.
func (r *Reader) Profile() raster.Profile {
	return raster.Profile{Format: r.format, NoData: r.noData, HasNoData: r.hasNoData}
}

// Layout describes how the image data is stored.
type Layout struct {
	BigTIFF     bool
	ByteOrder   string
	Tiled       bool
	ChunkWidth  int
	ChunkHeight int
	Compression string
	Predictor   int
	Interleave  string
	Overviews   int
}

// Layout reports the storage layout of the full-resolution image.
func (r *Reader) Layout() Layout {
	ifd := &r.ifds[r.main]
	cw, ch := ifd.ChunkSize()
	l := Layout{
		BigTIFF:     r.bigTIFF,
		ByteOrder:   r.bo.String(),
		Tiled:       ifd.Tiled(),
		ChunkWidth:  cw,
		ChunkHeight: ch,
		Compression: Compression(ifd.Compression).String(),
		Predictor:   int(ifd.Predictor),
		Interleave:  "pixel",
		Overviews:   len(r.ifds) - 1,
	}
	if ifd.PlanarConfig == planarSeparate {
		l.Interleave = "band"
	}
	return l
}

// ReadBand decodes one band (0-based) of the full-resolution image. It is
// safe for concurrent use.
func (r *Reader) ReadBand(ctx context.Context, index int) (*raster.Band, error) {
	ifd := &r.ifds[r.main]
	spp := int(ifd.SamplesPerPixel)
	if index < 0 || index >= spp {
		return nil, fmt.Errorf("band %d out of range (have %d)", index, spp)
	}

	w, h := int(ifd.Width), int(ifd.Height)
	cw, ch := ifd.ChunkSize()
	across, down := ifd.ChunksAcross(), ifd.ChunksDown()

	planar := ifd.PlanarConfig == planarSeparate && spp > 1
	stride, sampleOff, base := spp, index, 0
	if planar {
		stride, sampleOff, base = 1, 0, index*across*down
	}

	band := raster.NewBand(w, h)
	if r.hasNoData {
		band.SetNoData(r.noData)
	}

	for cy := 0; cy < down; cy++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		y0 := cy * ch
		rows := ch
		if !ifd.Tiled() {
			rows = min(ch, h-y0)
		}
		for cx := 0; cx < across; cx++ {
			x0 := cx * cw
			idx := base + cy*across + cx
			chunk, err := r.cache.get(r.path, idx, func() (*decodedChunk, error) {
				return r.loadChunk(idx, rows, stride)
			})
			if err != nil {
				return nil, fmt.Errorf("%s: chunk %d: %w", r.path, idx, err)
			}
			ymax := min(y0+ch, h)
			xmax := min(x0+cw, w)
			for y := y0; y < ymax; y++ {
				src := (y - y0) * cw * stride
				dst := band.Row(y)
				for x := x0; x < xmax; x++ {
					dst[x] = chunk.samples[src+(x-x0)*stride+sampleOff]
				}
			}
		}
	}
	return band, nil
}

// loadChunk reads and decodes one tile or strip.
func (r *Reader) loadChunk(idx, rows, spp int) (*decodedChunk, error) {
	ifd := &r.ifds[r.main]
	cw, _ := ifd.ChunkSize()
	bps := r.format.BitsPerSample / 8
	n := rows * cw * spp
	chunk := &decodedChunk{samples: make([]float64, n)}

	offset, size := ifd.Offsets[idx], ifd.ByteCounts[idx]
	if size == 0 {
		// Sparse chunk.
		fill := 0.0
		if r.hasNoData {
			fill = r.noData
		}
		for i := range chunk.samples {
			chunk.samples[i] = fill
		}
		return chunk, nil
	}

	end := offset + size
	if end > uint64(len(r.data)) || end < offset {
		return nil, fmt.Errorf("chunk data [%d:%d] exceeds file size %d", offset, end, len(r.data))
	}

	raw, err := decompress(ifd, r.data[offset:end], n*bps)
	if err != nil {
		return nil, err
	}
	if ifd.Predictor > predictorNone {
		if ifd.Compression == compressionNone {
			// The mapping is read-only.
			raw = append([]byte(nil), raw...)
		}
		if err := undoPredictor(ifd.Predictor, raw, cw*spp*bps, spp, bps, r.bo); err != nil {
			return nil, err
		}
	}
	decodeSamples(r.format, r.bo, raw, chunk.samples)
	return chunk, nil
}

// ReadAll decodes every band.
func (r *Reader) ReadAll(ctx context.Context) ([]*raster.Band, error) {
	n := int(r.ifds[r.main].SamplesPerPixel)
	bands := make([]*raster.Band, n)
	for i := range bands {
		b, err := r.ReadBand(ctx, i)
		if err != nil {
			return nil, err
		}
		bands[i] = b
	}
	return bands, nil
}

// PixelSize returns the pixel size along x and y in CRS units.
func (r *Reader) PixelSize() (dx, dy float64) {
	return r.geo.Transform.Resolution()
}
