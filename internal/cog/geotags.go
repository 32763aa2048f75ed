package cog

import (
	"fmt"

	"github.com/pspoerri/rasterwarp/internal/affine"
)

// GeoTIFF GeoKey IDs.
const (
	gkModelTypeGeoKey       = 1024
	gkRasterTypeGeoKey      = 1025
	gkGeographicTypeGeoKey  = 2048
	gkProjectedCSTypeGeoKey = 3072
)

const (
	modelTypeProjected   = 1
	modelTypeGeographic  = 2
	rasterPixelIsArea    = 1
	rasterPixelIsPoint   = 2
	userDefinedGeoKeyVal = 32767
)

// GeoInfo holds parsed GeoTIFF georeferencing.
type GeoInfo struct {
	EPSG         int              // EPSG code (0 if unknown)
	Transform    affine.Transform // pixel corner -> CRS
	PixelIsPoint bool             // raster type from GeoKeys
	Source       string           // "transformation", "tiepoint", "tfw" or ""
}

// parseGeoInfo extracts georeferencing from an IFD. The returned transform
// always addresses pixel corners: PixelIsPoint rasters are shifted by half
// a pixel so that their tiepoint lands on the pixel center.
func parseGeoInfo(ifd *IFD) (GeoInfo, error) {
	info := GeoInfo{EPSG: parseEPSG(ifd.GeoKeys)}
	if v, ok := geoKeyShort(ifd.GeoKeys, gkRasterTypeGeoKey); ok && v == rasterPixelIsPoint {
		info.PixelIsPoint = true
	}

	switch {
	case len(ifd.ModelTransformation) >= 16:
		// Row-major 4x4 matrix; only the 2D affine part is used.
		m := ifd.ModelTransformation
		info.Transform = affine.Transform{A: m[0], B: m[1], C: m[3], D: m[4], E: m[5], F: m[7]}
		info.Source = "transformation"
	case len(ifd.ModelTiepoint) >= 6 && len(ifd.ModelPixelScale) >= 2:
		// The tiepoint maps pixel (I,J) to world coordinate (X,Y).
		sx, sy := ifd.ModelPixelScale[0], ifd.ModelPixelScale[1]
		tp := ifd.ModelTiepoint
		info.Transform = affine.Transform{
			A: sx,
			C: tp[3] - tp[0]*sx,
			E: -sy,
			F: tp[4] + tp[1]*sy,
		}
		info.Source = "tiepoint"
	default:
		return info, nil
	}

	if info.PixelIsPoint {
		info.Transform = info.Transform.Translate(-0.5, -0.5)
	}
	if err := info.Transform.Validate(); err != nil {
		return info, fmt.Errorf("georeferencing from %s: %w", info.Source, err)
	}
	return info, nil
}

// geoKeyShort returns the value of a key stored directly in the directory.
func geoKeyShort(geoKeys []uint16, id uint16) (uint16, bool) {
	if len(geoKeys) < 4 {
		return 0, false
	}

	// GeoKey directory header: [KeyDirectoryVersion, KeyRevision, MinorRevision, NumberOfKeys]
	numKeys := int(geoKeys[3])

	for i := 0; i < numKeys; i++ {
		base := 4 + i*4
		if base+3 >= len(geoKeys) {
			break
		}
		if geoKeys[base] != id {
			continue
		}
		// Location 0 means the value sits in the valueOffset slot.
		if geoKeys[base+1] != 0 {
			return 0, false
		}
		return geoKeys[base+3], true
	}
	return 0, false
}

// parseEPSG extracts the EPSG code from GeoKey directory entries.
// Projected codes win over geographic ones.
func parseEPSG(geoKeys []uint16) int {
	for _, id := range []uint16{gkProjectedCSTypeGeoKey, gkGeographicTypeGeoKey} {
		if v, ok := geoKeyShort(geoKeys, id); ok && v > 0 && v != userDefinedGeoKeyVal {
			return int(v)
		}
	}
	return 0
}

// buildGeoKeys encodes the minimal key directory for an EPSG-coded CRS.
func buildGeoKeys(epsg int) []uint16 {
	modelType, csKey := uint16(modelTypeProjected), uint16(gkProjectedCSTypeGeoKey)
	if epsg == 4326 {
		modelType, csKey = modelTypeGeographic, gkGeographicTypeGeoKey
	}
	return []uint16{
		1, 1, 0, 3,
		gkModelTypeGeoKey, 0, 1, modelType,
		gkRasterTypeGeoKey, 0, 1, rasterPixelIsArea,
		csKey, 0, 1, uint16(epsg),
	}
}
