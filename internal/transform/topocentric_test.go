package transform

import (
	"math"
	"testing"
)

func observerRadius(o ObserverPosition) float64 {
	return math.Sqrt(o.ECEFx*o.ECEFx + o.ECEFy*o.ECEFy + o.ECEFz*o.ECEFz)
}

func TestNewObserverPosition(t *testing.T) {
	tests := []struct {
		name          string
		lat, lon, alt float64
		wantRadius    float64
	}{
		{"equator sea level", 0, 0, 0, 6378137.0},
		{"equator 100 m", 0, 0, 100, 6378237.0},
		{"north pole", 90, 0, 0, 6356752.3},
		{"south pole 1 km", -90, 120, 1000, 6357752.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := observerRadius(NewObserverPosition(tt.lat, tt.lon, tt.alt))
			if math.Abs(got-tt.wantRadius) > 1.0 {
				t.Errorf("radius = %.1f m, want %.1f m", got, tt.wantRadius)
			}
		})
	}
}

// TestECEFToLookAngles places targets 400 km up over nearby ground points
// and checks the direction they are seen in from (0°, 0°).
func TestECEFToLookAngles(t *testing.T) {
	obs := NewObserverPosition(0, 0, 0)

	tests := []struct {
		name             string
		lat, lon         float64
		wantAz           float64 // degrees, -1 when undefined
		minEl, maxEl     float64
		minRange, maxRan float64
	}{
		{"zenith", 0, 0, -1, 89.9, 90, 399, 401},
		{"north", 10, 0, 0, 0, 60, 400, 2000},
		{"east", 0, 10, 90, 0, 60, 400, 2000},
		{"south", -10, 0, 180, 0, 60, 400, 2000},
		{"west", 0, -10, 270, 0, 60, 400, 2000},
		{"low in the east", 0, 20, 90, -5, 45, 1000, 3500},
		{"below horizon", 0, 90, 90, -90, 0, 5000, 12000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sat := NewObserverPosition(tt.lat, tt.lon, 400000)
			la := ECEFToLookAngles(obs, sat.ECEFx, sat.ECEFy, sat.ECEFz)

			if el := la.ElevationDeg(); el < tt.minEl || el > tt.maxEl {
				t.Errorf("elevation = %.2f°, want [%.0f, %.0f]", el, tt.minEl, tt.maxEl)
			}
			if la.RangeKm < tt.minRange || la.RangeKm > tt.maxRan {
				t.Errorf("range = %.1f km, want [%.0f, %.0f]", la.RangeKm, tt.minRange, tt.maxRan)
			}
			if la.Azimuth < 0 || la.Azimuth >= 2*math.Pi {
				t.Errorf("azimuth %.6f rad outside [0, 2π)", la.Azimuth)
			}
			if tt.wantAz >= 0 {
				d := math.Abs(la.AzimuthDeg() - tt.wantAz)
				if d > 180 {
					d = 360 - d
				}
				if d > 5 {
					t.Errorf("azimuth = %.2f°, want about %.0f°", la.AzimuthDeg(), tt.wantAz)
				}
			}
		})
	}
}

func TestLookAngleUnits(t *testing.T) {
	obs := NewObserverPosition(40.7128, -74.006, 10)
	la := ECEFToLookAngles(obs, 6778000, 0, 0)
	if math.Abs(la.ElevationDeg()-la.Elevation*180/math.Pi) > 1e-12 {
		t.Errorf("ElevationDeg %.6f disagrees with Elevation %.6f rad", la.ElevationDeg(), la.Elevation)
	}
	if math.Abs(la.AzimuthDeg()-la.Azimuth*180/math.Pi) > 1e-12 {
		t.Errorf("AzimuthDeg %.6f disagrees with Azimuth %.6f rad", la.AzimuthDeg(), la.Azimuth)
	}
}

func TestECEFToGeodetic_RoundTrip(t *testing.T) {
	tests := []struct {
		lat, lon, alt float64
	}{
		{0, 0, 0},
		{51.5, -0.12, 35},
		{-33.9, 151.2, 400000},
		{89.9, 45, 1000},
		{0, 180, 35786000},
	}
	for _, tt := range tests {
		obs := NewObserverPosition(tt.lat, tt.lon, tt.alt)
		got := ECEFToGeodetic(obs.ECEFx, obs.ECEFy, obs.ECEFz)
		lonErr := math.Abs(math.Remainder(got.LonDeg-tt.lon, 360))
		if math.Abs(got.LatDeg-tt.lat) > 1e-6 || lonErr > 1e-6 || math.Abs(got.AltM-tt.alt) > 1e-3 {
			t.Errorf("round trip (%.2f, %.2f, %.0f) = %+v", tt.lat, tt.lon, tt.alt, got)
		}
	}
}
