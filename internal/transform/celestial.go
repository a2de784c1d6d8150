package transform

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

// LookAnglesToCartesian maps an elevation/azimuth pair (radians) onto the unit
// sphere of the renderer's sky frame.
//
// With x = cos(el)cos(az), y = -cos(el)sin(az), z = sin(el) the result is
// (y, z, x): the vertical axis is the middle component, so a point is above
// the horizon exactly when its Y() is positive. The permutation matches the
// renderer's axis convention and must not change.
func LookAnglesToCartesian(elevation, azimuth float64) mgl32.Vec3 {
	cosEl := math.Cos(elevation)
	x := cosEl * math.Cos(azimuth)
	y := -cosEl * math.Sin(azimuth)
	z := math.Sin(elevation)
	return mgl32.Vec3{float32(y), float32(z), float32(x)}
}

// RADecToCartesian maps equatorial coordinates (radians) onto the unit
// sphere in the equatorial frame: x toward the equinox, z toward the north
// celestial pole. The horizon permutation of LookAnglesToCartesian is not
// applied; the sky matrix handles the rotation into the renderer's frame.
func RADecToCartesian(ra, dec float64) mgl32.Vec3 {
	cosDec := math.Cos(dec)
	return mgl32.Vec3{
		float32(math.Cos(ra) * cosDec),
		float32(math.Sin(ra) * cosDec),
		float32(math.Sin(dec)),
	}
}

// DecimalYear returns the year of t plus the elapsed fraction of that year,
// measured in UTC between the two surrounding January 1st instants.
func DecimalYear(t time.Time) float64 {
	t = t.UTC()
	start := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	next := time.Date(t.Year()+1, time.January, 1, 0, 0, 0, 0, time.UTC)
	return float64(t.Year()) + float64(t.Sub(start))/float64(next.Sub(start))
}

const degToRad = math.Pi / 180.0

// Precess shifts J2000 equatorial coordinates (radians) to the mean equinox
// of decimalYear with the low-order polynomial used by the star shader. The
// two implementations must agree exactly, so the formula is kept as is.
func Precess(ra, dec, decimalYear float64) (float64, float64) {
	T := (decimalYear - 2000) / 100
	M := degToRad * (1.2812323*T + 0.0003879*T*T + 0.0000101*T*T*T)
	N := degToRad * (0.5567530*T - 0.0001185*T*T + 0.0000116*T*T*T)

	raOut := M + N*math.Sin(ra)*math.Tan(dec) + ra
	decOut := N*math.Cos(ra) + dec
	return raOut, decOut
}
