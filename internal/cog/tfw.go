package cog

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/pspoerri/rasterwarp/internal/affine"
)

// parseTFW reads a TIFF World File (.tfw).
//
// Line 1: x-component of the pixel width (A)
// Line 2: y-component of the pixel width (D)
// Line 3: x-component of the pixel height (B)
// Line 4: y-component of the pixel height (E, negative for north-up)
// Line 5: x-coordinate of the center of the upper-left pixel
// Line 6: y-coordinate of the center of the upper-left pixel
//
// The returned transform addresses pixel corners.
func parseTFW(path string) (affine.Transform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return affine.Transform{}, fmt.Errorf("reading TFW %s: %w", path, err)
	}

	lines := strings.Fields(string(data))
	if len(lines) < 6 {
		return affine.Transform{}, fmt.Errorf("TFW %s: expected 6 values, got %d", path, len(lines))
	}

	var vals [6]float64
	for i := 0; i < 6; i++ {
		v, err := strconv.ParseFloat(lines[i], 64)
		if err != nil {
			return affine.Transform{}, fmt.Errorf("TFW %s line %d: %w", path, i+1, err)
		}
		vals[i] = v
	}

	// A world file lists A, D, B, E, C, F; GDAL order is C, A, B, F, D, E.
	center := affine.FromGDAL([6]float64{vals[4], vals[0], vals[2], vals[5], vals[1], vals[3]})
	if err := center.Validate(); err != nil {
		return affine.Transform{}, fmt.Errorf("TFW %s: %w", path, err)
	}
	return center.Translate(-0.5, -0.5), nil
}

// findTFW looks for a world file alongside the given TIFF path.
// Checks extensions: .tfw, .TFW, .tifw, .TIFW, .wld
func findTFW(tiffPath string) string {
	ext := filepath.Ext(tiffPath)
	base := tiffPath[:len(tiffPath)-len(ext)]

	for _, c := range []string{".tfw", ".TFW", ".tifw", ".TIFW", ".wld"} {
		p := base + c
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// inferEPSG guesses the EPSG code from the coordinate ranges of an extent
// that carries no GeoKeys. Falls back to EPSG:4326 when the coordinates look
// like geographic lon/lat.
func inferEPSG(b orb.Bound) int {
	if b.Min[0] >= -180 && b.Max[0] <= 360 && b.Min[1] >= -90 && b.Max[1] <= 90 {
		return 4326
	}

	if b.Min[0] >= 2_400_000 && b.Max[0] <= 2_900_000 &&
		b.Min[1] >= 1_000_000 && b.Max[1] <= 1_400_000 {
		return 2056
	}
	if math.Abs(b.Min[0]) <= 20037508.35 && math.Abs(b.Max[0]) <= 20037508.35 &&
		math.Abs(b.Min[1]) <= 20048966.10 && math.Abs(b.Max[1]) <= 20048966.10 {
		return 3857
	}

	return 0
}
