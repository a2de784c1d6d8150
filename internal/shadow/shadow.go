// Package shadow classifies satellites as sunlit, in penumbra or in umbra
// using a conical Earth shadow model.
package shadow

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/1valdis/heavensat-web/internal/ephemeris"
	"github.com/1valdis/heavensat-web/internal/transform"
)

const (
	// EarthRadiusKm is the radius the shadow cone is built on.
	EarthRadiusKm = transform.EarthMeanRadiusKm
	// SunRadiusKm is the nominal solar radius (IAU 2015).
	SunRadiusKm = 695700.0
)

// Shadow is an eclipse state.
type Shadow int

const (
	Out Shadow = iota
	Penumbra
	Umbra
)

func (s Shadow) String() string {
	switch s {
	case Out:
		return "out"
	case Penumbra:
		return "penumbra"
	case Umbra:
		return "umbra"
	}
	return "unknown"
}

// Classify returns the eclipse state of a satellite at geocentric position
// pos given the geocentric Sun vector sun (both km, same frame).
func Classify(pos, sun mgl64.Vec3) Shadow {
	antiSun := sun.Mul(-1)
	if pos.Dot(antiSun) <= 0 {
		// Day side of the terminator plane.
		return Out
	}

	r := pos.Len()
	rhoEarth := math.Asin(math.Min(1, EarthRadiusKm/r))
	rhoSun := math.Asin(SunRadiusKm / sun.Len())
	sep := angleBetween(pos, antiSun)

	switch {
	case sep < rhoEarth-rhoSun:
		return Umbra
	case sep < rhoEarth+rhoSun:
		return Penumbra
	}
	return Out
}

func angleBetween(a, b mgl64.Vec3) float64 {
	c := a.Dot(b) / (a.Len() * b.Len())
	return math.Acos(math.Max(-1, math.Min(1, c)))
}

// Round classifies many satellites against one Sun position.
type Round struct {
	sun mgl64.Vec3
}

// NewRound queries the provider once for instant t.
func NewRound(p ephemeris.SunProvider, t time.Time) Round {
	return Round{sun: p.SunPosition(t)}
}

// Classify classifies one satellite position.
func (r Round) Classify(pos mgl64.Vec3) Shadow {
	return Classify(pos, r.sun)
}
