package orbit

import (
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/1valdis/heavensat-web/internal/transform"
)

const (
	degToRad             = math.Pi / 180.0
	revPerDayToRadPerMin = 2 * math.Pi / 1440.0

	// WGS-84 SGP4 constants, matching satellite.GravityWGS84.
	xke = 0.07436685316871385 // sqrt(GM) in earth radii^1.5 per minute
	j2  = 0.00108262998905
)

// MeanElements are the secular elements of an orbit at one instant.
type MeanElements struct {
	Inclination   float64 // rad
	Eccentricity  float64
	MeanMotion    float64 // rad/min
	SemiMajorAxis float64 // earth radii
}

// PeriodMinutes returns the orbital period implied by MeanMotion.
func (me MeanElements) PeriodMinutes() float64 {
	return 2 * math.Pi / me.MeanMotion
}

// State is the outcome of propagating an element set to one instant. When OK
// is false the position is absent and the other fields are meaningless.
type State struct {
	Position transform.PositionTEME
	Mean     MeanElements
	OK       bool
}

// Propagate evaluates SGP4 for es at t. Pure and deterministic.
//
// go-satellite only takes whole seconds, so the sub-second remainder is
// applied along the velocity vector. The position is absent when SGP4 returns
// non-finite output, when the satellite is below the decay radius, or when the
// mean elements leave the bound-orbit domain.
func Propagate(es *ElementSet, t time.Time) State {
	t = t.UTC()
	frac := float64(t.Nanosecond()) / 1e9
	pos, vel := satellite.Propagate(es.sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())

	p := transform.PositionTEME{
		X:  pos.X + vel.X*frac,
		Y:  pos.Y + vel.Y*frac,
		Z:  pos.Z + vel.Z*frac,
		VX: vel.X,
		VY: vel.Y,
		VZ: vel.Z,
	}
	if !finite(p.X) || !finite(p.Y) || !finite(p.Z) || !finite(p.VX) || !finite(p.VY) || !finite(p.VZ) {
		return State{}
	}
	if p.Magnitude() < transform.MinOrbitRadiusKm {
		return State{}
	}

	me, ok := es.meanElementsAt(t)
	if !ok {
		return State{}
	}
	return State{Position: p, Mean: me, OK: true}
}

// meanElementsAt advances the epoch mean motion by the first-derivative drag
// term and derives the semi-major axis from Kepler's third law. Eccentricity
// and inclination keep their epoch values; the secular drift of both over a
// TLE's useful lifetime is far below what the filter ranges resolve.
func (es *ElementSet) meanElementsAt(t time.Time) (MeanElements, bool) {
	days := t.Sub(es.Epoch).Hours() / 24
	nm := es.meanMotion + es.meanMotionDt*days
	em := es.eccentricity
	if nm <= 0 || em < 0 || em >= 1 || !finite(nm) {
		return MeanElements{}, false
	}
	return MeanElements{
		Inclination:   es.inclination,
		Eccentricity:  em,
		MeanMotion:    nm,
		SemiMajorAxis: math.Pow(xke/nm, 2.0/3.0),
	}, true
}

// brouwerMeanMotion recovers the Brouwer mean motion from the Kozai mean
// motion published in a TLE, as SGP4 does during initialization.
func brouwerMeanMotion(kozai, incl, ecc float64) float64 {
	cosio := math.Cos(incl)
	omeosq := 1 - ecc*ecc
	rteosq := math.Sqrt(omeosq)

	ak := math.Pow(xke/kozai, 2.0/3.0)
	d1 := 0.75 * j2 * (3*cosio*cosio - 1) / (rteosq * omeosq)
	del := d1 / (ak * ak)
	adel := ak * (1 - del*del - del*(1.0/3.0+134.0*del*del/81.0))
	del = d1 / (adel * adel)
	return kozai / (1 + del)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
