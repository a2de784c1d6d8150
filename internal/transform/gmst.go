package transform

import (
	"math"
	"time"
)

// j2000 is the Julian Date of the J2000.0 epoch (January 1, 2000, 12:00:00 TT).
const j2000 = 2451545.0

// OmegaEarth is Earth's rotation rate in rad/s (IAU value).
const OmegaEarth = 7.292115146706979e-5

const secondsPerDay = 86400.0

// JulianDate converts a time.Time (UTC) to Julian Date.
func JulianDate(t time.Time) float64 {
	t = t.UTC()
	y := float64(t.Year())
	m := float64(t.Month())
	d := float64(t.Day())
	h := float64(t.Hour())
	min := float64(t.Minute())
	s := float64(t.Second()) + float64(t.Nanosecond())/1e9

	// Jan/Feb count as months 13/14 of the previous year.
	if m <= 2 {
		y -= 1
		m += 12
	}

	A := math.Floor(y / 100)
	B := 2 - A + math.Floor(A/4)

	jd := math.Floor(365.25*(y+4716)) + math.Floor(30.6001*(m+1)) + d + B - 1524.5
	jd += (h + min/60.0 + s/3600.0) / 24.0

	return jd
}

// gmstSeconds evaluates the IAU-82 polynomial (Vallado Eq 3-47) in seconds of time.
func gmstSeconds(t time.Time) float64 {
	tUT1 := (JulianDate(t) - j2000) / 36525.0

	// 876600h = 3155760000 s.
	return 67310.54841 +
		(3155760000.0+8640184.812866)*tUT1 +
		0.093104*tUT1*tUT1 -
		6.2e-6*tUT1*tUT1*tUT1
}

// GMST returns Greenwich Mean Sidereal Time in radians for a UTC instant.
//
// The angle is continuous: it is not reduced to [0, 2π), so consecutive frames
// never jump by a full turn. Trigonometric consumers are unaffected.
func GMST(t time.Time) float64 {
	return gmstSeconds(t) / secondsPerDay * 2.0 * math.Pi
}

// GMSTReduced returns GMST normalized to [0, 2π).
func GMSTReduced(t time.Time) float64 {
	sec := math.Mod(gmstSeconds(t), secondsPerDay)
	if sec < 0 {
		sec += secondsPerDay
	}
	return sec / secondsPerDay * 2.0 * math.Pi
}

// LocalSiderealTime returns the local mean sidereal angle in radians for an
// observer at lonDeg east longitude. Continuous like GMST.
func LocalSiderealTime(t time.Time, lonDeg float64) float64 {
	return GMST(t) + lonDeg*math.Pi/180.0
}
