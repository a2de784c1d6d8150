// Package filter decides which satellites are drawn, based on ranges over
// their mean orbital elements.
package filter

import (
	"fmt"
	"math"

	"github.com/1valdis/heavensat-web/internal/orbit"
	"github.com/1valdis/heavensat-web/internal/transform"
)

// EarthRadiusKm is the mean radius used for apogee and perigee altitudes.
const EarthRadiusKm = transform.EarthMeanRadiusKm

// MaxPeriodMinutes rejects orbits whose period exceeds 100 days. Such element
// sets are either bogus or describe objects that are not meaningfully in orbit
// around the Earth. The check runs regardless of the user's criteria.
const MaxPeriodMinutes = 100 * 24 * 60

// Range is one inclusive criterion. A disabled range always passes.
type Range struct {
	Enabled bool    `json:"enabled"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

func (r Range) contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Filter is the set of user criteria. It is a plain value; copies are
// independent.
type Filter struct {
	Inclination  Range `json:"inclination_deg"`
	Eccentricity Range `json:"eccentricity"`
	Apogee       Range `json:"apogee_km"`
	Perigee      Range `json:"perigee_km"`
	Period       Range `json:"period_minutes"`
}

// Default returns the initial filter: every criterion disabled, with bounds
// spanning the physically meaningful range of each quantity.
func Default() Filter {
	return Filter{
		Inclination:  Range{Min: 0, Max: 180},
		Eccentricity: Range{Min: 0, Max: 1},
		Apogee:       Range{Min: 0, Max: 50000},
		Perigee:      Range{Min: 0, Max: 50000},
		Period:       Range{Min: 0, Max: 10000},
	}
}

// Enabled reports whether any criterion is active.
func (f Filter) Enabled() bool {
	return f.Inclination.Enabled || f.Eccentricity.Enabled || f.Apogee.Enabled ||
		f.Perigee.Enabled || f.Period.Enabled
}

// Validate rejects inverted or non-finite bounds.
func (f Filter) Validate() error {
	for _, c := range []struct {
		name string
		r    Range
	}{
		{"inclination_deg", f.Inclination},
		{"eccentricity", f.Eccentricity},
		{"apogee_km", f.Apogee},
		{"perigee_km", f.Perigee},
		{"period_minutes", f.Period},
	} {
		if math.IsNaN(c.r.Min) || math.IsNaN(c.r.Max) {
			return fmt.Errorf("%s: bounds must be numbers", c.name)
		}
		if c.r.Min > c.r.Max {
			return fmt.Errorf("%s: min %g greater than max %g", c.name, c.r.Min, c.r.Max)
		}
	}
	return nil
}

// Derived holds the quantities the criteria are evaluated against.
type Derived struct {
	InclinationDeg float64
	Eccentricity   float64
	ApogeeKm       float64
	PerigeeKm      float64
	PeriodMinutes  float64
}

// Derive computes apogee/perigee altitude, period and inclination in degrees
// from mean elements.
func Derive(me orbit.MeanElements) Derived {
	return Derived{
		InclinationDeg: inclinationDeg(me),
		Eccentricity:   me.Eccentricity,
		ApogeeKm:       apogeeKm(me),
		PerigeeKm:      perigeeKm(me),
		PeriodMinutes:  me.PeriodMinutes(),
	}
}

func inclinationDeg(me orbit.MeanElements) float64 { return me.Inclination * 180 / math.Pi }

func apogeeKm(me orbit.MeanElements) float64 {
	return me.SemiMajorAxis*(1+me.Eccentricity)*EarthRadiusKm - EarthRadiusKm
}

func perigeeKm(me orbit.MeanElements) float64 {
	return me.SemiMajorAxis*(1-me.Eccentricity)*EarthRadiusKm - EarthRadiusKm
}

// Passes reports whether a satellite with the given mean elements satisfies f.
// The period sanity check runs first; then enabled criteria in order, stopping
// at the first failure. Quantities of disabled criteria are not computed.
func Passes(f Filter, me orbit.MeanElements) bool {
	period := me.PeriodMinutes()
	if !(period <= MaxPeriodMinutes) {
		return false
	}
	if f.Inclination.Enabled && !f.Inclination.contains(inclinationDeg(me)) {
		return false
	}
	if f.Eccentricity.Enabled && !f.Eccentricity.contains(me.Eccentricity) {
		return false
	}
	if f.Apogee.Enabled && !f.Apogee.contains(apogeeKm(me)) {
		return false
	}
	if f.Perigee.Enabled && !f.Perigee.contains(perigeeKm(me)) {
		return false
	}
	if f.Period.Enabled && !f.Period.contains(period) {
		return false
	}
	return true
}
