package passes

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"

	"github.com/1valdis/heavensat-web/internal/catalog"
	"github.com/1valdis/heavensat-web/internal/ephemeris"
	"github.com/1valdis/heavensat-web/internal/orbit"
	"github.com/1valdis/heavensat-web/internal/propagation"
	"github.com/1valdis/heavensat-web/internal/shadow"
	"github.com/1valdis/heavensat-web/internal/transform"
)

// GroundTrackPoint is a sub-satellite position at a specific time during a pass.
type GroundTrackPoint struct {
	Time      time.Time `json:"time"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float64   `json:"altitude"`  // meters
	Elevation float64   `json:"elevation"` // degrees above the observer's horizon
}

// Pass is one crossing of the observer's sky above the minimum elevation.
// A pass already in progress at the window start rises at the start; one
// still in progress at the window end sets at the end.
type Pass struct {
	Rise               time.Time          `json:"rise"`
	Culmination        time.Time          `json:"culmination"`
	Set                time.Time          `json:"set"`
	DurationSeconds    float64            `json:"duration_seconds"`
	MaxElevation       float64            `json:"max_elevation"`
	RiseAzimuth        float64            `json:"rise_azimuth"`
	CulminationAzimuth float64            `json:"culmination_azimuth"`
	SetAzimuth         float64            `json:"set_azimuth"`
	Sunlit             bool               `json:"sunlit"` // outside the umbra at culmination
	GroundTrack        []GroundTrackPoint `json:"ground_track"`
}

// SatellitePasses holds the predicted passes for one satellite.
type SatellitePasses struct {
	NoradID string `json:"norad_id"`
	Name    string `json:"name"`
	Passes  []Pass `json:"passes"`
	Error   string `json:"error,omitempty"`
}

// Request holds the parameters for a pass prediction request.
type Request struct {
	Location     propagation.Location
	Satellites   []catalog.Satellite
	Start        time.Time
	Window       time.Duration
	MinElevation float64 // degrees
	MaxPasses    int
	Sun          ephemeris.SunProvider
}

const (
	coarseStep      = 30 * time.Second
	crossingEpsilon = 500 * time.Millisecond
	groundTrackStep = 10 * time.Second
	minPassDuration = 10 * time.Second
)

// Predict computes passes for every satellite in the request, one goroutine
// per satellite bounded by a semaphore of NumCPU. Per-satellite failures are
// reported in the result, never as a whole-request error.
func Predict(ctx context.Context, req Request) []SatellitePasses {
	if req.Sun == nil {
		req.Sun = ephemeris.Meeus{}
	}
	obs := transform.NewObserverPosition(req.Location.Latitude, req.Location.Longitude, req.Location.Altitude)

	results := make([]SatellitePasses, len(req.Satellites))
	sem := make(chan struct{}, runtime.NumCPU())
	var wg sync.WaitGroup

	for i, sat := range req.Satellites {
		wg.Add(1)
		go func(idx int, s catalog.Satellite) {
			defer wg.Done()
			results[idx] = SatellitePasses{NoradID: s.NoradID, Name: s.Name}

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx].Error = "cancelled"
				return
			}

			passes, err := predictSatellite(ctx, req, obs, s)
			switch {
			case err != nil:
				results[idx].Error = err.Error()
			case ctx.Err() != nil:
				results[idx].Error = "cancelled"
			default:
				results[idx].Passes = passes
			}
		}(i, sat)
	}

	wg.Wait()
	return results
}

// sky samples one satellite's elevation over a fixed observer. Instants at
// which propagation fails read as far below the horizon.
type sky struct {
	es  *orbit.ElementSet
	obs transform.ObserverPosition
	min float64
}

type sample struct {
	t     time.Time
	ok    bool
	look  transform.LookAngles
	ecef  transform.PositionECEF
	state orbit.State
}

func (s sky) at(t time.Time) sample {
	st := orbit.Propagate(s.es, t)
	if !st.OK {
		return sample{t: t}
	}
	ecef := transform.TEMEToECEF(st.Position, t)
	return sample{
		t:     t,
		ok:    true,
		look:  transform.ECEFToLookAngles(s.obs, ecef.X, ecef.Y, ecef.Z),
		ecef:  ecef,
		state: st,
	}
}

func (s sky) above(sm sample) bool {
	return sm.ok && sm.look.ElevationDeg() >= s.min
}

// crossing bisects (lo, hi] for the first instant whose above-ness differs
// from lo's.
func (s sky) crossing(lo, hi sample) sample {
	want := !s.above(lo)
	for hi.t.Sub(lo.t) > crossingEpsilon {
		mid := s.at(lo.t.Add(hi.t.Sub(lo.t) / 2))
		if s.above(mid) == want {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi
}

// culmination refines the highest coarse sample by a one-second scan of the
// coarse steps on either side of it.
func (s sky) culmination(best sample, rise, set time.Time) sample {
	from, to := best.t.Add(-coarseStep), best.t.Add(coarseStep)
	if from.Before(rise) {
		from = rise
	}
	if to.After(set) {
		to = set
	}
	for t := from; !t.After(to); t = t.Add(time.Second) {
		if sm := s.at(t); sm.ok && sm.look.Elevation > best.look.Elevation {
			best = sm
		}
	}
	return best
}

// predictSatellite steps through the window at coarseStep, bisecting every
// horizon crossing it brackets.
func predictSatellite(ctx context.Context, req Request, obs transform.ObserverPosition, sat catalog.Satellite) ([]Pass, error) {
	es, err := orbit.Parse(sat.Line1, sat.Line2)
	if err != nil {
		return nil, errors.Wrap(err, "sgp4 init")
	}
	s := sky{es: es, obs: obs, min: req.MinElevation}
	end := req.Start.Add(req.Window)

	var passes []Pass
	prev := s.at(req.Start)
	var rise, best sample
	inPass := s.above(prev)
	if inPass {
		rise, best = prev, prev
	}

	for t := req.Start.Add(coarseStep); len(passes) < req.MaxPasses; t = t.Add(coarseStep) {
		if ctx.Err() != nil {
			return passes, nil
		}
		if t.After(end) {
			t = end
		}
		cur := s.at(t)

		switch {
		case !inPass && s.above(cur):
			rise = s.crossing(prev, cur)
			best = rise
			if cur.look.Elevation > best.look.Elevation {
				best = cur
			}
			inPass = true
		case inPass && s.above(cur):
			if cur.look.Elevation > best.look.Elevation {
				best = cur
			}
		case inPass:
			set := s.crossing(prev, cur)
			if p, ok := s.pass(req.Sun, rise, best, prev, set); ok {
				passes = append(passes, p)
			}
			inPass = false
		}

		if !t.Before(end) {
			if inPass && len(passes) < req.MaxPasses {
				if p, ok := s.pass(req.Sun, rise, best, cur, cur); ok {
					passes = append(passes, p)
				}
			}
			break
		}
		prev = cur
	}
	return passes, nil
}

// pass assembles a Pass from its rise and set. lastAbove is the final
// sample known to be above the minimum elevation; set may be the first one
// below it.
func (s sky) pass(sun ephemeris.SunProvider, rise, best, lastAbove, set sample) (Pass, bool) {
	if set.t.Sub(rise.t) < minPassDuration {
		return Pass{}, false
	}
	top := s.culmination(best, rise.t, lastAbove.t)
	setAz := lastAbove.look
	if set.ok {
		setAz = set.look
	}

	p := Pass{
		Rise:               rise.t,
		Culmination:        top.t,
		Set:                set.t,
		DurationSeconds:    set.t.Sub(rise.t).Seconds(),
		MaxElevation:       top.look.ElevationDeg(),
		RiseAzimuth:        rise.look.AzimuthDeg(),
		CulminationAzimuth: top.look.AzimuthDeg(),
		SetAzimuth:         setAz.AzimuthDeg(),
	}
	pos := top.state.Position
	p.Sunlit = shadow.NewRound(sun, top.t).Classify(mgl64.Vec3{pos.X, pos.Y, pos.Z}) != shadow.Umbra

	for t := rise.t; !t.After(set.t); t = t.Add(groundTrackStep) {
		sm := s.at(t)
		if !sm.ok || sm.look.ElevationDeg() < 0 {
			continue
		}
		geo := transform.ECEFToGeodetic(sm.ecef.X, sm.ecef.Y, sm.ecef.Z)
		p.GroundTrack = append(p.GroundTrack, GroundTrackPoint{
			Time:      t,
			Latitude:  geo.LatDeg,
			Longitude: geo.LonDeg,
			Altitude:  geo.AltM,
			Elevation: sm.look.ElevationDeg(),
		})
	}
	return p, true
}
