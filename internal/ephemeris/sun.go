// Package ephemeris supplies the geocentric Sun vector used for eclipse
// classification.
package ephemeris

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/soniakeys/meeus/v3/base"
	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/meeus/v3/solar"
	"github.com/soniakeys/unit"
)

// AstronomicalUnitKm is the IAU 2012 astronomical unit.
const AstronomicalUnitKm = 149597870.7

// SunProvider returns the geocentric equatorial Sun position in km.
type SunProvider interface {
	SunPosition(t time.Time) mgl64.Vec3
}

// Meeus computes the apparent Sun position with the low-precision solar
// theory of Meeus, "Astronomical Algorithms" ch. 25: about 0.01° in
// direction, which is far below the Sun's own angular radius.
type Meeus struct{}

// Equatorial returns the apparent right ascension and declination of the
// Sun and its distance in km.
func (Meeus) Equatorial(t time.Time) (unit.RA, unit.Angle, float64) {
	jde := julian.TimeToJD(t.UTC())
	ra, dec := solar.ApparentEquatorial(jde)
	return ra, dec, solar.Radius(base.J2000Century(jde)) * AstronomicalUnitKm
}

// SunPosition implements SunProvider.
func (m Meeus) SunPosition(t time.Time) mgl64.Vec3 {
	ra, dec, r := m.Equatorial(t)
	cosDec := math.Cos(dec.Rad())
	return mgl64.Vec3{
		r * cosDec * math.Cos(ra.Rad()),
		r * cosDec * math.Sin(ra.Rad()),
		r * math.Sin(dec.Rad()),
	}
}

// Fixed is a SunProvider that always returns the same vector.
type Fixed mgl64.Vec3

// SunPosition implements SunProvider.
func (f Fixed) SunPosition(time.Time) mgl64.Vec3 { return mgl64.Vec3(f) }
