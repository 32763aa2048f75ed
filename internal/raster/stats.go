package raster

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarises the valid samples of a band.
type Stats struct {
	Count  int
	NoData int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// ComputeStats scans the band once, skipping no-data samples.
func ComputeStats(b *Band) Stats {
	valid := make([]float64, 0, len(b.Data))
	for _, v := range b.Data {
		if !b.IsNoData(v) {
			valid = append(valid, v)
		}
	}
	s := Stats{Count: len(valid), NoData: len(b.Data) - len(valid)}
	if len(valid) == 0 {
		s.Min, s.Max, s.Mean, s.StdDev = math.NaN(), math.NaN(), math.NaN(), math.NaN()
		return s
	}
	s.Min = floats.Min(valid)
	s.Max = floats.Max(valid)
	s.Mean, s.StdDev = stat.MeanStdDev(valid, nil)
	if len(valid) == 1 {
		s.StdDev = 0
	}
	return s
}
