package raster

import (
	"context"
	"math"
	"strconv"
)

// SampleFormat describes how band samples are stored on disk.
type SampleFormat struct {
	BitsPerSample int
	Kind          SampleKind
}

// SampleKind distinguishes unsigned, signed and floating-point samples.
type SampleKind uint8

const (
	Unsigned SampleKind = iota
	Signed
	Float
)

var (
	Uint8   = SampleFormat{8, Unsigned}
	Uint16  = SampleFormat{16, Unsigned}
	Int16   = SampleFormat{16, Signed}
	Uint32  = SampleFormat{32, Unsigned}
	Int32   = SampleFormat{32, Signed}
	Float32 = SampleFormat{32, Float}
	Float64 = SampleFormat{64, Float}
)

func (f SampleFormat) String() string {
	switch f.Kind {
	case Signed:
		return "int" + strconv.Itoa(f.BitsPerSample)
	case Float:
		return "float" + strconv.Itoa(f.BitsPerSample)
	default:
		return "uint" + strconv.Itoa(f.BitsPerSample)
	}
}

// IsFloat reports whether samples are floating point.
func (f SampleFormat) IsFloat() bool { return f.Kind == Float }

// Range returns the representable value range of an integer format.
// Float formats return ±Inf.
func (f SampleFormat) Range() (lo, hi float64) {
	switch f.Kind {
	case Float:
		return math.Inf(-1), math.Inf(1)
	case Signed:
		half := float64(uint64(1) << (f.BitsPerSample - 1))
		return -half, half - 1
	default:
		return 0, float64(uint64(1)<<f.BitsPerSample) - 1
	}
}

// Profile is the descriptive metadata carried from a source raster into the
// reprojected output: everything except the geometry.
type Profile struct {
	Format    SampleFormat
	NoData    float64
	HasNoData bool
}

// Decoder reads a georeferenced raster.
type Decoder interface {
	Grid() Grid
	Profile() Profile
	ReadBand(ctx context.Context, index int) (*Band, error)
}

// Encoder writes a georeferenced raster.
type Encoder interface {
	Encode(ctx context.Context, grid Grid, profile Profile, bands []*Band) error
}
