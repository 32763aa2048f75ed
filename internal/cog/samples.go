package cog

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pspoerri/rasterwarp/internal/raster"
)

// sampleFormatOf derives the sample format of an IFD. All samples of an
// image must share one format.
func sampleFormatOf(ifd *IFD) (raster.SampleFormat, error) {
	bits := 8
	if len(ifd.BitsPerSample) > 0 {
		bits = int(ifd.BitsPerSample[0])
		for _, b := range ifd.BitsPerSample[1:] {
			if int(b) != bits {
				return raster.SampleFormat{}, fmt.Errorf("%w: mixed bits per sample %v", ErrUnsupported, ifd.BitsPerSample)
			}
		}
	}
	kind := raster.Unsigned
	if len(ifd.SampleFormat) > 0 {
		switch ifd.SampleFormat[0] {
		case sampleFormatUint:
		case sampleFormatInt:
			kind = raster.Signed
		case sampleFormatFloat:
			kind = raster.Float
		default:
			return raster.SampleFormat{}, fmt.Errorf("%w: sample format %d", ErrUnsupported, ifd.SampleFormat[0])
		}
	}
	f := raster.SampleFormat{BitsPerSample: bits, Kind: kind}
	if !supportedFormat(f) {
		return raster.SampleFormat{}, fmt.Errorf("%w: %s samples", ErrUnsupported, f)
	}
	return f, nil
}

func supportedFormat(f raster.SampleFormat) bool {
	switch f.Kind {
	case raster.Float:
		return f.BitsPerSample == 32 || f.BitsPerSample == 64
	default:
		return f.BitsPerSample == 8 || f.BitsPerSample == 16 || f.BitsPerSample == 32
	}
}

// decodeSamples converts raw chunk bytes into float64 samples.
func decodeSamples(f raster.SampleFormat, bo binary.ByteOrder, src []byte, dst []float64) {
	switch {
	case f.Kind == raster.Unsigned && f.BitsPerSample == 8:
		for i := range dst {
			dst[i] = float64(src[i])
		}
	case f.Kind == raster.Signed && f.BitsPerSample == 8:
		for i := range dst {
			dst[i] = float64(int8(src[i]))
		}
	case f.Kind == raster.Unsigned && f.BitsPerSample == 16:
		for i := range dst {
			dst[i] = float64(bo.Uint16(src[i*2:]))
		}
	case f.Kind == raster.Signed && f.BitsPerSample == 16:
		for i := range dst {
			dst[i] = float64(int16(bo.Uint16(src[i*2:])))
		}
	case f.Kind == raster.Unsigned && f.BitsPerSample == 32:
		for i := range dst {
			dst[i] = float64(bo.Uint32(src[i*4:]))
		}
	case f.Kind == raster.Signed && f.BitsPerSample == 32:
		for i := range dst {
			dst[i] = float64(int32(bo.Uint32(src[i*4:])))
		}
	case f.Kind == raster.Float && f.BitsPerSample == 32:
		for i := range dst {
			dst[i] = float64(math.Float32frombits(bo.Uint32(src[i*4:])))
		}
	case f.Kind == raster.Float && f.BitsPerSample == 64:
		for i := range dst {
			dst[i] = math.Float64frombits(bo.Uint64(src[i*8:]))
		}
	}
}

// encodeSample stores one value, rounding and saturating for integer formats.
// NaN must already be replaced by the caller.
func encodeSample(f raster.SampleFormat, bo binary.ByteOrder, dst []byte, v float64) {
	if f.Kind != raster.Float {
		lo, hi := f.Range()
		v = math.Round(v)
		if v < lo {
			v = lo
		} else if v > hi {
			v = hi
		}
	}
	switch {
	case f.Kind == raster.Unsigned && f.BitsPerSample == 8:
		dst[0] = uint8(v)
	case f.Kind == raster.Signed && f.BitsPerSample == 8:
		dst[0] = uint8(int8(v))
	case f.Kind == raster.Unsigned && f.BitsPerSample == 16:
		bo.PutUint16(dst, uint16(v))
	case f.Kind == raster.Signed && f.BitsPerSample == 16:
		bo.PutUint16(dst, uint16(int16(v)))
	case f.Kind == raster.Unsigned && f.BitsPerSample == 32:
		bo.PutUint32(dst, uint32(v))
	case f.Kind == raster.Signed && f.BitsPerSample == 32:
		bo.PutUint32(dst, uint32(int32(v)))
	case f.Kind == raster.Float && f.BitsPerSample == 32:
		bo.PutUint32(dst, math.Float32bits(float32(v)))
	case f.Kind == raster.Float && f.BitsPerSample == 64:
		bo.PutUint64(dst, math.Float64bits(v))
	}
}
