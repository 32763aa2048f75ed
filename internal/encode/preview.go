package encode

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"github.com/pspoerri/rasterwarp/internal/raster"
)

// PreviewMode selects how band values are mapped to colors.
type PreviewMode int

const (
	// PreviewStretch maps [Low, High] linearly onto gray levels 0..255.
	PreviewStretch PreviewMode = iota
	// PreviewTerrarium encodes values as Terrarium elevation RGB.
	PreviewTerrarium
)

// DefaultPreviewSize is the longest preview side when none is configured.
const DefaultPreviewSize = 1024

// PreviewOptions controls RenderPreview.
type PreviewOptions struct {
	MaxSize int // longest side in pixels; 0 uses DefaultPreviewSize
	Mode    PreviewMode
	// Low and High bound the stretch. When both are zero the band's own
	// minimum and maximum are used.
	Low, High float64
}

// RenderPreview renders a band as an RGBA image no larger than MaxSize on
// its longest side. No-data pixels are fully transparent.
func RenderPreview(band *raster.Band, opts PreviewOptions) (*image.RGBA, error) {
	if band == nil || band.Width <= 0 || band.Height <= 0 {
		return nil, fmt.Errorf("preview: empty band")
	}
	full := image.NewRGBA(image.Rect(0, 0, band.Width, band.Height))

	switch opts.Mode {
	case PreviewTerrarium:
		for y := 0; y < band.Height; y++ {
			for x, v := range band.Row(y) {
				if band.IsNoData(v) {
					continue
				}
				full.SetRGBA(x, y, ElevationToTerrarium(v))
			}
		}
	case PreviewStretch:
		lo, hi := opts.Low, opts.High
		if lo == 0 && hi == 0 {
			if st := raster.ComputeStats(band); st.Count > 0 {
				lo, hi = st.Min, st.Max
			}
		}
		scale := 0.0
		if hi > lo {
			scale = 255 / (hi - lo)
		}
		for y := 0; y < band.Height; y++ {
			for x, v := range band.Row(y) {
				if band.IsNoData(v) {
					continue
				}
				g := clampByte((v - lo) * scale)
				full.SetRGBA(x, y, color.RGBA{g, g, g, 255})
			}
		}
	default:
		return nil, fmt.Errorf("preview: unknown mode %d", opts.Mode)
	}

	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultPreviewSize
	}
	w, h := fitWithin(band.Width, band.Height, maxSize)
	if w == band.Width && h == band.Height {
		return full, nil
	}

	// Terrarium channels carry one number together, so they must not be
	// blended independently.
	var scaler draw.Scaler = draw.CatmullRom
	if opts.Mode == PreviewTerrarium {
		scaler = draw.NearestNeighbor
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	scaler.Scale(out, out.Bounds(), full, full.Bounds(), draw.Src, nil)
	return out, nil
}

// fitWithin scales (w, h) so the longest side is at most maxSize, keeping
// the aspect ratio and at least one pixel per side.
func fitWithin(w, h, maxSize int) (int, int) {
	if w <= maxSize && h <= maxSize {
		return w, h
	}
	f := float64(maxSize) / float64(max(w, h))
	return max(1, int(math.Round(float64(w)*f))), max(1, int(math.Round(float64(h)*f)))
}

// clampByte rounds a float64 to the nearest uint8, clamping to [0, 255].
func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
