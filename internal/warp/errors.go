// Package warp reprojects rasters between coordinate reference systems.
//
// Plan computes the destination grid that covers a source raster in the
// target CRS, Resample fills one destination band by inverse-mapping every
// destination pixel center into the source and Reproject drives both for a
// whole raster between an injected Decoder and Encoder.
package warp

import "errors"

var (
	// ErrInvalidParameter reports unusable caller input such as a
	// non-positive resolution or an invalid grid.
	ErrInvalidParameter = errors.New("warp: invalid parameter")

	// ErrGeometry reports that the destination extent cannot be established,
	// typically because a source corner has no image in the target CRS.
	ErrGeometry = errors.New("warp: geometry error")
)
