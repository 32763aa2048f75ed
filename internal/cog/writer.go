package cog

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pspoerri/rasterwarp/internal/coord"
	"github.com/pspoerri/rasterwarp/internal/raster"
)

// Compression selects the codec used for written chunks.
type Compression uint16

const (
	CompressionNone    Compression = compressionNone
	CompressionLZW     Compression = compressionLZW
	CompressionDeflate Compression = compressionDeflate
)

func (c Compression) String() string {
	switch c {
	case compressionNone:
		return "none"
	case compressionLZW:
		return "lzw"
	case compressionJPEG, compressionJPEGOld:
		return "jpeg"
	case compressionDeflate, compressionDeflateOld:
		return "deflate"
	case compressionPackBits:
		return "packbits"
	default:
		return "compression(" + strconv.Itoa(int(c)) + ")"
	}
}

// ParseCompression accepts "none", "lzw" and "deflate" (or "zip").
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "lzw":
		return CompressionLZW, nil
	case "deflate", "zip":
		return CompressionDeflate, nil
	default:
		return 0, fmt.Errorf("%w: compression %q", ErrUnsupported, s)
	}
}

// Predictor selects the TIFF predictor applied before compression.
type Predictor uint16

const (
	PredictorNone          Predictor = predictorNone
	PredictorHorizontal    Predictor = predictorHorizontal
	PredictorFloatingPoint Predictor = predictorFloatingPoint
)

// Interleave selects how multi-band samples are arranged.
type Interleave uint8

const (
	InterleaveBand  Interleave = iota // one plane per band (PlanarConfiguration 2)
	InterleavePixel                   // samples interleaved per pixel
)

// WriterOptions controls the layout of written files.
type WriterOptions struct {
	Compression  Compression // 0 means CompressionNone
	Predictor    Predictor  // ignored without compression
	TileSize     int        // 0 writes strips
	RowsPerStrip int        // 0 picks strips of about 256 KiB
	Interleave   Interleave // band interleaving by default
	BigTIFF      bool       // force BigTIFF; large outputs switch automatically
	ByteOrder    binary.ByteOrder
	DeflateLevel int
}

// classicLimit is the largest file a classic TIFF can address, with headroom
// for the directory and incompressible chunks.
const classicLimit = math.MaxUint32 - 64<<20

const stripTargetBytes = 256 << 10

// Writer encodes rasters as GeoTIFF. It implements raster.Encoder.
type Writer struct {
	Path    string
	Options WriterOptions
}

// NewWriter returns a Writer for path.
func NewWriter(path string, opts WriterOptions) *Writer {
	return &Writer{Path: path, Options: opts}
}

// OutputNoData resolves the no-data value written for a profile: the
// profile's own value, else NaN for float formats, else 0.
func OutputNoData(p raster.Profile) float64 {
	if p.HasNoData {
		return p.NoData
	}
	if p.Format.IsFloat() {
		return math.NaN()
	}
	return 0
}

// Encode writes grid and bands to w.Path. A partially written file is
// removed on error.
func (w *Writer) Encode(ctx context.Context, grid raster.Grid, profile raster.Profile, bands []*raster.Band) (err error) {
	if err := grid.Validate(); err != nil {
		return err
	}
	if len(bands) == 0 {
		return fmt.Errorf("%w: no bands to write", raster.ErrInvalidGrid)
	}
	for i, b := range bands {
		if b.Width != grid.Width || b.Height != grid.Height {
			return fmt.Errorf("%w: band %d is %dx%d, grid is %dx%d",
				raster.ErrInvalidGrid, i+1, b.Width, b.Height, grid.Width, grid.Height)
		}
	}
	if profile.Format.BitsPerSample == 0 {
		profile.Format = raster.Float32
	}
	if !supportedFormat(profile.Format) {
		return fmt.Errorf("%w: writing %s samples", ErrUnsupported, profile.Format)
	}
	opts := w.Options
	if opts.Compression == 0 {
		opts.Compression = CompressionNone
	}
	switch opts.Compression {
	case CompressionNone, CompressionLZW, CompressionDeflate:
	default:
		return fmt.Errorf("%w: writing %s", ErrUnsupported, opts.Compression)
	}

	f, err := os.Create(w.Path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", w.Path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("closing %s: %w", w.Path, cerr)
		}
		if err != nil {
			os.Remove(w.Path)
		}
	}()

	enc := newTIFFEncoder(opts, grid, profile, len(bands))
	if err := enc.write(ctx, f, bands); err != nil {
		return fmt.Errorf("writing %s: %w", w.Path, err)
	}
	return nil
}

// tiffEncoder carries the layout decisions for one output file.
type tiffEncoder struct {
	opts      WriterOptions
	grid      raster.Grid
	format    raster.SampleFormat
	noData    float64
	tagNoData bool // integer outputs without a sentinel carry no GDAL_NODATA
	bo        binary.ByteOrder
	big       bool
	spp       int
	planar    bool
	tiled     bool
	chunkW    int
	chunkH    int
	across    int
	down      int
	predictor Predictor
}

func newTIFFEncoder(opts WriterOptions, grid raster.Grid, profile raster.Profile, nbands int) *tiffEncoder {
	e := &tiffEncoder{
		opts:      opts,
		grid:      grid,
		format:    profile.Format,
		noData:    OutputNoData(profile),
		tagNoData: profile.HasNoData || profile.Format.IsFloat(),
		bo:        opts.ByteOrder,
		spp:       nbands,
		planar:    opts.Interleave == InterleaveBand && nbands > 1,
	}
	if e.bo == nil {
		e.bo = binary.LittleEndian
	}

	bps := e.format.BitsPerSample / 8
	if opts.TileSize > 0 {
		// Tile dimensions must be multiples of 16.
		ts := (opts.TileSize + 15) / 16 * 16
		e.tiled, e.chunkW, e.chunkH = true, ts, ts
	} else {
		rowBytes := grid.Width * bps
		if !e.planar {
			rowBytes *= nbands
		}
		e.chunkW = grid.Width
		e.chunkH = max(1, min(grid.Height, stripTargetBytes/max(1, rowBytes)))
		if opts.RowsPerStrip > 0 {
			e.chunkH = min(grid.Height, opts.RowsPerStrip)
		}
	}
	e.across = (grid.Width + e.chunkW - 1) / e.chunkW
	e.down = (grid.Height + e.chunkH - 1) / e.chunkH

	if opts.Compression != CompressionNone {
		e.predictor = opts.Predictor
		if e.predictor == PredictorFloatingPoint && !e.format.IsFloat() {
			e.predictor = PredictorHorizontal
		}
	}
	if e.predictor == 0 {
		e.predictor = PredictorNone
	}

	dataBytes := uint64(e.across*e.chunkW) * uint64(e.down*e.chunkH) * uint64(nbands*bps)
	e.big = opts.BigTIFF || dataBytes > classicLimit
	return e
}

func (e *tiffEncoder) chunkRows(cy int) int {
	if e.tiled {
		return e.chunkH
	}
	return min(e.chunkH, e.grid.Height-cy*e.chunkH)
}

// countingWriter tracks the file offset of buffered writes.
type countingWriter struct {
	w   *bufio.Writer
	off uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.off += uint64(n)
	return n, err
}

func (e *tiffEncoder) write(ctx context.Context, f *os.File, bands []*raster.Band) error {
	cw := &countingWriter{w: bufio.NewWriterSize(f, 1<<20)}

	// Header; the first IFD offset is patched once the directory is placed.
	header := make([]byte, 8)
	if e.big {
		header = make([]byte, 16)
	}
	if e.bo == binary.BigEndian {
		copy(header, "MM")
	} else {
		copy(header, "II")
	}
	if e.big {
		e.bo.PutUint16(header[2:], 43)
		e.bo.PutUint16(header[4:], 8)
	} else {
		e.bo.PutUint16(header[2:], 42)
	}
	if _, err := cw.Write(header); err != nil {
		return err
	}

	planes := 1
	if e.planar {
		planes = e.spp
	}
	n := planes * e.across * e.down
	offsets := make([]uint64, 0, n)
	counts := make([]uint64, 0, n)

	for p := 0; p < planes; p++ {
		planeBands := bands
		if e.planar {
			planeBands = bands[p : p+1]
		}
		for cy := 0; cy < e.down; cy++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			for cx := 0; cx < e.across; cx++ {
				data, err := e.encodeChunk(planeBands, cx, cy)
				if err != nil {
					return err
				}
				offsets = append(offsets, cw.off)
				counts = append(counts, uint64(len(data)))
				if _, err := cw.Write(data); err != nil {
					return err
				}
			}
		}
	}

	if cw.off%2 == 1 {
		if _, err := cw.Write([]byte{0}); err != nil {
			return err
		}
	}
	if !e.big && cw.off > math.MaxUint32-1<<20 {
		return errors.New("output exceeds classic TIFF size; use BigTIFF")
	}

	ifdOffset := cw.off
	if err := writeIFD(cw, e.bo, e.big, ifdOffset, e.entries(offsets, counts)); err != nil {
		return err
	}
	if err := cw.w.Flush(); err != nil {
		return err
	}

	var ptr []byte
	if e.big {
		ptr = make([]byte, 8)
		e.bo.PutUint64(ptr, ifdOffset)
		_, err := f.WriteAt(ptr, 8)
		return err
	}
	ptr = make([]byte, 4)
	e.bo.PutUint32(ptr, uint32(ifdOffset))
	_, err := f.WriteAt(ptr, 4)
	return err
}

// encodeChunk serialises one chunk of the given bands. Tiles past the image
// edge are padded with the no-data value.
func (e *tiffEncoder) encodeChunk(bands []*raster.Band, cx, cy int) ([]byte, error) {
	bps := e.format.BitsPerSample / 8
	spp := len(bands)
	rows := e.chunkRows(cy)
	rowBytes := e.chunkW * spp * bps
	buf := make([]byte, rows*rowBytes)

	fill := e.noData
	if math.IsNaN(fill) && !e.format.IsFloat() {
		fill = 0
	}

	x0, y0 := cx*e.chunkW, cy*e.chunkH
	for r := 0; r < rows; r++ {
		y := y0 + r
		for c := 0; c < e.chunkW; c++ {
			x := x0 + c
			for s, b := range bands {
				v := fill
				if x < e.grid.Width && y < e.grid.Height {
					v = b.At(x, y)
					if b.IsNoData(v) {
						v = fill
					}
				}
				off := r*rowBytes + (c*spp+s)*bps
				encodeSample(e.format, e.bo, buf[off:off+bps], v)
			}
		}
	}

	if e.predictor != PredictorNone {
		applyPredictor(uint16(e.predictor), buf, rowBytes, spp, bps, e.bo)
	}

	switch e.opts.Compression {
	case CompressionLZW:
		return compressTIFFLZW(buf), nil
	case CompressionDeflate:
		var out bytes.Buffer
		level := e.opts.DeflateLevel
		if level == 0 {
			level = zlib.DefaultCompression
		}
		zw, err := zlib.NewWriterLevel(&out, level)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(buf); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	default:
		return buf, nil
	}
}

// ifdEntry is a directory entry ready for serialisation.
type ifdEntry struct {
	tag   uint16
	dtype uint16
	count uint64
	data  []byte
}

func (e *tiffEncoder) shorts(tag uint16, vals ...uint16) ifdEntry {
	data := make([]byte, 2*len(vals))
	for i, v := range vals {
		e.bo.PutUint16(data[i*2:], v)
	}
	return ifdEntry{tag: tag, dtype: dtShort, count: uint64(len(vals)), data: data}
}

func (e *tiffEncoder) long(tag uint16, v uint32) ifdEntry {
	data := make([]byte, 4)
	e.bo.PutUint32(data, v)
	return ifdEntry{tag: tag, dtype: dtLong, count: 1, data: data}
}

// offsets uses LONG in classic files and LONG8 in BigTIFF.
func (e *tiffEncoder) offsets(tag uint16, vals []uint64) ifdEntry {
	if e.big {
		data := make([]byte, 8*len(vals))
		for i, v := range vals {
			e.bo.PutUint64(data[i*8:], v)
		}
		return ifdEntry{tag: tag, dtype: dtLong8, count: uint64(len(vals)), data: data}
	}
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		e.bo.PutUint32(data[i*4:], uint32(v))
	}
	return ifdEntry{tag: tag, dtype: dtLong, count: uint64(len(vals)), data: data}
}

func (e *tiffEncoder) doubles(tag uint16, vals ...float64) ifdEntry {
	data := make([]byte, 8*len(vals))
	for i, v := range vals {
		e.bo.PutUint64(data[i*8:], math.Float64bits(v))
	}
	return ifdEntry{tag: tag, dtype: dtDouble, count: uint64(len(vals)), data: data}
}

func ascii(tag uint16, s string) ifdEntry {
	data := append([]byte(s), 0)
	return ifdEntry{tag: tag, dtype: dtASCII, count: uint64(len(data)), data: data}
}

func (e *tiffEncoder) entries(offsets, counts []uint64) []ifdEntry {
	spp := e.spp
	bits := make([]uint16, spp)
	formats := make([]uint16, spp)
	sf := uint16(sampleFormatUint)
	switch e.format.Kind {
	case raster.Signed:
		sf = sampleFormatInt
	case raster.Float:
		sf = sampleFormatFloat
	}
	for i := range bits {
		bits[i] = uint16(e.format.BitsPerSample)
		formats[i] = sf
	}
	planar := uint16(planarChunky)
	if e.planar {
		planar = planarSeparate
	}

	out := []ifdEntry{
		e.long(tagImageWidth, uint32(e.grid.Width)),
		e.long(tagImageLength, uint32(e.grid.Height)),
		e.shorts(tagBitsPerSample, bits...),
		e.shorts(tagCompression, uint16(e.opts.Compression)),
		e.shorts(tagPhotometric, 1),
		e.shorts(tagSamplesPerPixel, uint16(spp)),
		e.shorts(tagPlanarConfig, planar),
		e.shorts(tagSampleFormat, formats...),
	}
	if spp > 1 {
		extra := make([]uint16, spp-1)
		out = append(out, e.shorts(tagExtraSamples, extra...))
	}
	if e.predictor != PredictorNone {
		out = append(out, e.shorts(tagPredictor, uint16(e.predictor)))
	}
	if e.tiled {
		out = append(out,
			e.long(tagTileWidth, uint32(e.chunkW)),
			e.long(tagTileLength, uint32(e.chunkH)),
			e.offsets(tagTileOffsets, offsets),
			e.offsets(tagTileByteCounts, counts),
		)
	} else {
		out = append(out,
			e.long(tagRowsPerStrip, uint32(e.chunkH)),
			e.offsets(tagStripOffsets, offsets),
			e.offsets(tagStripByteCounts, counts),
		)
	}

	t := e.grid.Transform
	if t.IsRectilinear() && t.A > 0 && t.E < 0 {
		out = append(out,
			e.doubles(tagModelPixelScaleTag, t.A, -t.E, 0),
			e.doubles(tagModelTiepointTag, 0, 0, 0, t.C, t.F, 0),
		)
	} else {
		out = append(out, e.doubles(tagModelTransformation,
			t.A, t.B, 0, t.C,
			t.D, t.E, 0, t.F,
			0, 0, 0, 0,
			0, 0, 0, 1,
		))
	}
	if epsg, err := coord.ParseEPSG(e.grid.CRS); err == nil {
		out = append(out, e.shorts(tagGeoKeyDirectoryTag, buildGeoKeys(epsg)...))
	}
	if e.tagNoData {
		out = append(out, ascii(tagGDAL_NODATA, formatNoData(e.noData, e.format)))
	}
	return out
}

func formatNoData(v float64, f raster.SampleFormat) string {
	if math.IsNaN(v) {
		if f.IsFloat() {
			return "nan"
		}
		return "0"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// writeIFD writes a single directory followed by its pointer area holding
// values too large to fit inline.
func writeIFD(w io.Writer, bo binary.ByteOrder, big bool, ifdOffset uint64, entries []ifdEntry) error {
	// The IFD has to be written with the tags in ascending order.
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	countSize, entrySize, inline, nextSize := 2, 12, 4, 4
	if big {
		countSize, entrySize, inline, nextSize = 8, 20, 8, 8
	}
	pstart := ifdOffset + uint64(countSize+entrySize*len(entries)+nextSize)

	dir := make([]byte, countSize+entrySize*len(entries)+nextSize)
	if big {
		bo.PutUint64(dir, uint64(len(entries)))
	} else {
		bo.PutUint16(dir, uint16(len(entries)))
	}

	var parea []byte
	for i, ent := range entries {
		b := dir[countSize+i*entrySize : countSize+(i+1)*entrySize]
		bo.PutUint16(b[0:], ent.tag)
		bo.PutUint16(b[2:], ent.dtype)
		val := b[8:]
		if big {
			bo.PutUint64(b[4:], ent.count)
			val = b[12:]
		} else {
			bo.PutUint32(b[4:], uint32(ent.count))
		}
		if len(ent.data) <= inline {
			copy(val, ent.data)
			continue
		}
		off := pstart + uint64(len(parea))
		if big {
			bo.PutUint64(val, off)
		} else {
			bo.PutUint32(val, uint32(off))
		}
		parea = append(parea, ent.data...)
		if len(parea)%2 == 1 {
			parea = append(parea, 0)
		}
	}
	// Next IFD offset stays zero.

	if _, err := w.Write(dir); err != nil {
		return err
	}
	_, err := w.Write(parea)
	return err
}
