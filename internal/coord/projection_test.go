package coord

import (
	"errors"
	"math"
	"testing"
)

func TestForEPSG(t *testing.T) {
	tests := []struct {
		epsg     int
		wantNil  bool
		wantEPSG int
	}{
		{2056, false, 2056},
		{4326, false, 4326},
		{3857, false, 3857},
		{900913, false, 3857},
		{32632, true, 0}, // UTM 32N: unsupported
		{0, true, 0},
	}
	for _, tt := range tests {
		p := ForEPSG(tt.epsg)
		if tt.wantNil {
			if p != nil {
				t.Errorf("ForEPSG(%d) = %v, want nil", tt.epsg, p)
			}
			continue
		}
		if p == nil {
			t.Fatalf("ForEPSG(%d) = nil, want non-nil", tt.epsg)
		}
		if got := p.EPSG(); got != tt.wantEPSG {
			t.Errorf("ForEPSG(%d).EPSG() = %d, want %d", tt.epsg, got, tt.wantEPSG)
		}
		if got, want := p.Code(), FormatEPSG(tt.wantEPSG); got != want {
			t.Errorf("ForEPSG(%d).Code() = %q, want %q", tt.epsg, got, want)
		}
	}
}

func TestLookup(t *testing.T) {
	tests := []struct {
		code     string
		wantEPSG int
		wantErr  bool
	}{
		{"EPSG:3857", 3857, false},
		{"epsg:2056", 2056, false},
		{" 4326 ", 4326, false},
		{"EPSG:32632", 0, true},
		{"EPSG:", 0, true},
		{"mercator", 0, true},
		{"EPSG:-1", 0, true},
	}
	for _, tt := range tests {
		p, err := Lookup(tt.code)
		if tt.wantErr {
			if !errors.Is(err, ErrUnsupportedCRS) {
				t.Errorf("Lookup(%q) err = %v, want ErrUnsupportedCRS", tt.code, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Lookup(%q): %v", tt.code, err)
		}
		if p.EPSG() != tt.wantEPSG {
			t.Errorf("Lookup(%q).EPSG() = %d, want %d", tt.code, p.EPSG(), tt.wantEPSG)
		}
	}
}

func TestSame(t *testing.T) {
	if !Same(&WebMercatorProj{}, ForEPSG(900913)) {
		t.Error("Same(3857, 900913) = false, want true")
	}
	if Same(&WebMercatorProj{}, &WGS84Identity{}) {
		t.Error("Same(3857, 4326) = true, want false")
	}
	if Same(nil, &WGS84Identity{}) {
		t.Error("Same(nil, 4326) = true, want false")
	}
}

func TestWGS84Identity(t *testing.T) {
	w := &WGS84Identity{}

	lon, lat := 8.5417, 47.3769 // Zurich
	gotLon, gotLat, err := w.ToWGS84(lon, lat)
	if err != nil || gotLon != lon || gotLat != lat {
		t.Errorf("ToWGS84(%v, %v) = (%v, %v, %v), want (%v, %v, nil)", lon, lat, gotLon, gotLat, err, lon, lat)
	}

	gotLon, gotLat, err = w.FromWGS84(lon, lat)
	if err != nil || gotLon != lon || gotLat != lat {
		t.Errorf("FromWGS84(%v, %v) = (%v, %v, %v), want (%v, %v, nil)", lon, lat, gotLon, gotLat, err, lon, lat)
	}
}

func TestWGS84Identity_Domain(t *testing.T) {
	w := &WGS84Identity{}
	bad := [][2]float64{{181, 0}, {0, -90.5}, {math.NaN(), 0}, {0, math.Inf(1)}}
	for _, pt := range bad {
		if _, _, err := w.FromWGS84(pt[0], pt[1]); !errors.Is(err, ErrProjection) {
			t.Errorf("FromWGS84(%v, %v) err = %v, want ErrProjection", pt[0], pt[1], err)
		}
		if _, _, err := w.ToWGS84(pt[0], pt[1]); !errors.Is(err, ErrProjection) {
			t.Errorf("ToWGS84(%v, %v) err = %v, want ErrProjection", pt[0], pt[1], err)
		}
	}
}

// TestProjectionRoundTrip verifies that ToWGS84(FromWGS84(lon, lat)) ≈ (lon, lat) for all projections.
func TestProjectionRoundTrip(t *testing.T) {
	// Points inside Switzerland (valid for LV95) and also valid for other projections.
	points := [][2]float64{
		{8.5417, 47.3769}, // Zurich
		{6.6323, 46.5197}, // Lausanne
		{7.4474, 46.9480}, // Bern
		{9.3767, 47.4245}, // St. Gallen
		{8.9511, 46.0037}, // Lugano
	}

	projections := []Projection{
		&WGS84Identity{},
		&WebMercatorProj{},
		&SwissLV95{},
	}

	for _, proj := range projections {
		for _, pt := range points {
			lon, lat := pt[0], pt[1]

			x, y, err := proj.FromWGS84(lon, lat)
			if err != nil {
				t.Fatalf("%s FromWGS84(%v, %v): %v", proj.Code(), lon, lat, err)
			}
			gotLon, gotLat, err := proj.ToWGS84(x, y)
			if err != nil {
				t.Fatalf("%s ToWGS84(%v, %v): %v", proj.Code(), x, y, err)
			}

			// SwissLV95 uses polynomial approximation, so allow ~1m error (~0.00001°).
			tol := 1e-4
			if dLon := math.Abs(gotLon - lon); dLon > tol {
				t.Errorf("EPSG:%d roundtrip lon for (%.4f, %.4f): got %.6f, want %.6f (delta=%.2e)",
					proj.EPSG(), lon, lat, gotLon, lon, dLon)
			}
			if dLat := math.Abs(gotLat - lat); dLat > tol {
				t.Errorf("EPSG:%d roundtrip lat for (%.4f, %.4f): got %.6f, want %.6f (delta=%.2e)",
					proj.EPSG(), lon, lat, gotLat, lat, dLat)
			}
		}
	}
}
