// Package passes answers per-satellite questions for one observer: where a
// satellite is right now and when it will next cross the sky.
package passes

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"

	"github.com/1valdis/heavensat-web/internal/catalog"
	"github.com/1valdis/heavensat-web/internal/ephemeris"
	"github.com/1valdis/heavensat-web/internal/filter"
	"github.com/1valdis/heavensat-web/internal/orbit"
	"github.com/1valdis/heavensat-web/internal/propagation"
	"github.com/1valdis/heavensat-web/internal/shadow"
	"github.com/1valdis/heavensat-web/internal/transform"
)

// Position is a satellite's direction and distance from the observer.
type Position struct {
	ElevationDeg float64 `json:"elevation_deg"`
	AzimuthDeg   float64 `json:"azimuth_deg"`
	RangeKm      float64 `json:"range_km"`
	Shadow       string  `json:"shadow"`
}

// Elements are the mean orbital elements in display units.
type Elements struct {
	InclinationDeg float64 `json:"inclination_deg"`
	Eccentricity   float64 `json:"eccentricity"`
	ApogeeKm       float64 `json:"apogee_km"`
	PerigeeKm      float64 `json:"perigee_km"`
	PeriodMinutes  float64 `json:"period_minutes"`
}

// Details is the information panel for one satellite at one instant.
// Position and Elements are nil when propagation fails at that instant.
type Details struct {
	Name     string    `json:"name"`
	NoradID  string    `json:"norad_id"`
	Epoch    time.Time `json:"epoch"`
	Line1    string    `json:"line1"`
	Line2    string    `json:"line2"`
	Date     time.Time `json:"date"`
	Position *Position `json:"position"`
	Elements *Elements `json:"elements"`
}

// Describe propagates sat to t and reports it as seen from loc.
func Describe(sat catalog.Satellite, loc propagation.Location, t time.Time, sun ephemeris.SunProvider) (Details, error) {
	es, err := orbit.Parse(sat.Line1, sat.Line2)
	if err != nil {
		return Details{}, errors.Wrapf(err, "parse elements for %s", sat.NoradID)
	}
	if sun == nil {
		sun = ephemeris.Meeus{}
	}

	d := Details{
		Name:    sat.Name,
		NoradID: sat.NoradID,
		Epoch:   es.Epoch,
		Line1:   sat.Line1,
		Line2:   sat.Line2,
		Date:    t.UTC(),
	}
	st := orbit.Propagate(es, t)
	if !st.OK {
		return d, nil
	}

	obs := transform.NewObserverPosition(loc.Latitude, loc.Longitude, loc.Altitude)
	ecef := transform.TEMEToECEF(st.Position, t)
	la := transform.ECEFToLookAngles(obs, ecef.X, ecef.Y, ecef.Z)
	d.Position = &Position{
		ElevationDeg: la.ElevationDeg(),
		AzimuthDeg:   la.AzimuthDeg(),
		RangeKm:      la.RangeKm,
		Shadow:       shadow.Classify(mgl64.Vec3{st.Position.X, st.Position.Y, st.Position.Z}, sun.SunPosition(t)).String(),
	}

	de := filter.Derive(st.Mean)
	d.Elements = &Elements{
		InclinationDeg: de.InclinationDeg,
		Eccentricity:   de.Eccentricity,
		ApogeeKm:       de.ApogeeKm,
		PerigeeKm:      de.PerigeeKm,
		PeriodMinutes:  de.PeriodMinutes,
	}
	return d, nil
}
