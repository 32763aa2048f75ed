package raster

import (
	"fmt"
	"math"
)

// Band is a single raster band stored row-major as float64 samples.
// NaN is always treated as no-data; NoData is an additional sentinel that
// applies when HasNoData is set.
type Band struct {
	Width     int
	Height    int
	Data      []float64
	NoData    float64
	HasNoData bool
}

// NewBand allocates a zeroed band.
func NewBand(width, height int) *Band {
	return &Band{
		Width:  width,
		Height: height,
		Data:   make([]float64, width*height),
	}
}

// NewBandFromData wraps an existing sample slice, which must hold exactly
// width*height values.
func NewBandFromData(width, height int, data []float64) (*Band, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: band dimensions %dx%d", ErrInvalidGrid, width, height)
	}
	if len(data) != width*height {
		return nil, fmt.Errorf("%w: band has %d samples, want %d", ErrInvalidGrid, len(data), width*height)
	}
	return &Band{Width: width, Height: height, Data: data}, nil
}

// SetNoData sets the no-data sentinel. A NaN sentinel clears HasNoData since
// NaN is always no-data.
func (b *Band) SetNoData(v float64) {
	if math.IsNaN(v) {
		b.NoData = math.NaN()
		b.HasNoData = false
		return
	}
	b.NoData = v
	b.HasNoData = true
}

// At returns the sample at (col, row). Coordinates must be in range.
func (b *Band) At(col, row int) float64 {
	return b.Data[row*b.Width+col]
}

// Set stores a sample at (col, row).
func (b *Band) Set(col, row int, v float64) {
	b.Data[row*b.Width+col] = v
}

// Row returns the samples of one row, sharing storage with the band.
func (b *Band) Row(row int) []float64 {
	return b.Data[row*b.Width : (row+1)*b.Width]
}

// IsNoData reports whether v is a no-data sample for this band.
func (b *Band) IsNoData(v float64) bool {
	if math.IsNaN(v) {
		return true
	}
	return b.HasNoData && v == b.NoData
}

// FillValue returns the value written for no-data pixels.
func (b *Band) FillValue() float64 {
	if b.HasNoData {
		return b.NoData
	}
	return math.NaN()
}

// Valid returns the number of samples that are not no-data.
func (b *Band) Valid() int {
	n := 0
	for _, v := range b.Data {
		if !b.IsNoData(v) {
			n++
		}
	}
	return n
}
