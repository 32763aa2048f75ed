package coord

import "math"

const (
	// EarthCircumference is the equatorial circumference in meters.
	EarthCircumference = 40075016.685578488
	// OriginShift is half the earth's circumference.
	OriginShift = EarthCircumference / 2.0
	// MaxMercatorLat is the latitude at which y reaches OriginShift.
	MaxMercatorLat = 85.05112877980659
)

// WebMercatorProj implements the Projection interface for EPSG:3857.
type WebMercatorProj struct{}

func (w *WebMercatorProj) EPSG() int     { return 3857 }
func (w *WebMercatorProj) Code() string { return "EPSG:3857" }

func (w *WebMercatorProj) ToWGS84(x, y float64) (lon, lat float64, err error) {
	limit := OriginShift * (1 + 1e-9)
	if !finite(x, y) || math.Abs(x) > limit || math.Abs(y) > limit {
		return 0, 0, projErr(w.Code(), "to WGS84", x, y)
	}
	lon = (x / OriginShift) * 180.0
	lat = (y / OriginShift) * 180.0
	lat = 180.0 / math.Pi * (2.0*math.Atan(math.Exp(lat*math.Pi/180.0)) - math.Pi/2.0)
	return lon, lat, nil
}

func (w *WebMercatorProj) FromWGS84(lon, lat float64) (x, y float64, err error) {
	if !finite(lon, lat) || math.Abs(lon) > 180 || math.Abs(lat) > MaxMercatorLat+1e-9 {
		return 0, 0, projErr(w.Code(), "from WGS84", lon, lat)
	}
	x = lon * OriginShift / 180.0
	y = math.Log(math.Tan((90.0+lat)*math.Pi/360.0)) / (math.Pi / 180.0)
	y = y * OriginShift / 180.0
	return x, y, nil
}
