// Package coord provides the coordinate reference systems the warp engine can
// map between. Every projection converts to and from WGS84 longitude/latitude,
// which serves as the shared intermediate for all reprojections.
package coord

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrProjection is wrapped by every coordinate conversion failure.
var ErrProjection = errors.New("projection failed")

// ErrUnsupportedCRS is returned when a CRS code has no built-in projection.
var ErrUnsupportedCRS = errors.New("unsupported CRS")

// Projection defines the interface for converting between a CRS and WGS84.
// Implementations must be safe for concurrent use.
type Projection interface {
	// ToWGS84 converts CRS coordinates to WGS84 longitude/latitude (degrees).
	ToWGS84(x, y float64) (lon, lat float64, err error)

	// FromWGS84 converts WGS84 longitude/latitude (degrees) to CRS coordinates.
	FromWGS84(lon, lat float64) (x, y float64, err error)

	// EPSG returns the EPSG code for this projection.
	EPSG() int

	// Code returns the canonical "EPSG:nnnn" identifier.
	Code() string
}

// ForEPSG returns a Projection for the given EPSG code.
// Returns nil if the EPSG code is not supported.
func ForEPSG(epsg int) Projection {
	switch epsg {
	case 2056:
		return &SwissLV95{}
	case 4326:
		return &WGS84Identity{}
	case 3857, 900913:
		return &WebMercatorProj{}
	default:
		return nil
	}
}

// Lookup resolves a CRS identifier such as "EPSG:3857", "epsg:2056" or "4326".
func Lookup(code string) (Projection, error) {
	epsg, err := ParseEPSG(code)
	if err != nil {
		return nil, err
	}
	p := ForEPSG(epsg)
	if p == nil {
		return nil, fmt.Errorf("%w: EPSG:%d", ErrUnsupportedCRS, epsg)
	}
	return p, nil
}

// ParseEPSG extracts the numeric EPSG code from an identifier.
func ParseEPSG(code string) (int, error) {
	s := strings.TrimSpace(code)
	if len(s) > 5 && strings.EqualFold(s[:5], "EPSG:") {
		s = s[5:]
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedCRS, code)
	}
	return n, nil
}

// FormatEPSG renders an EPSG code as "EPSG:nnnn".
func FormatEPSG(epsg int) string {
	return "EPSG:" + strconv.Itoa(epsg)
}

// Same reports whether two projections describe the same CRS. Projections
// without an EPSG code never compare equal.
func Same(a, b Projection) bool {
	if a == nil || b == nil {
		return false
	}
	code := a.EPSG()
	return code > 0 && code == b.EPSG()
}

func finite(v ...float64) bool {
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func projErr(code string, dir string, a, b float64) error {
	return fmt.Errorf("%w: %s %s (%v, %v) outside valid domain", ErrProjection, code, dir, a, b)
}

// WGS84Identity is a no-op projection for data already in EPSG:4326.
type WGS84Identity struct{}

func (w *WGS84Identity) EPSG() int     { return 4326 }
func (w *WGS84Identity) Code() string { return "EPSG:4326" }

func (w *WGS84Identity) ToWGS84(x, y float64) (lon, lat float64, err error) {
	if !validLonLat(x, y) {
		return 0, 0, projErr(w.Code(), "to WGS84", x, y)
	}
	return x, y, nil
}

func (w *WGS84Identity) FromWGS84(lon, lat float64) (x, y float64, err error) {
	if !validLonLat(lon, lat) {
		return 0, 0, projErr(w.Code(), "from WGS84", lon, lat)
	}
	return lon, lat, nil
}

func validLonLat(lon, lat float64) bool {
	return finite(lon, lat) && lon >= -180 && lon <= 180 && lat >= -90 && lat <= 90
}
