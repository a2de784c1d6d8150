package propagation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/1valdis/heavensat-web/internal/ephemeris"
	"github.com/1valdis/heavensat-web/internal/filter"
	"github.com/1valdis/heavensat-web/internal/glyph"
	"github.com/1valdis/heavensat-web/internal/metrics"
	"github.com/1valdis/heavensat-web/internal/orbit"
	"github.com/1valdis/heavensat-web/internal/shadow"
	"github.com/1valdis/heavensat-web/internal/transform"
)

// propagateFunc evaluates one element set at one instant.
type propagateFunc func(es *orbit.ElementSet, t time.Time) orbit.State

var defaultPropagate propagateFunc = orbit.Propagate

// engineSat is the engine-local state for one satellite, built at init.
type engineSat struct {
	id     int32
	norad  string
	es     *orbit.ElementSet
	quadXY []float32 // label vertex offsets, 2 floats per vertex
	quadUV []float32 // atlas coordinates, 2 floats per vertex
}

// engine is the body of a propagation worker. It runs on its own goroutine
// and owns everything it touches; the only way in is the mailbox.
type engine struct {
	mb        *mailbox
	out       chan<- response
	sun       ephemeris.SunProvider
	propagate propagateFunc
	logger    *slog.Logger

	sats []engineSat
}

func newEngine(out chan<- response, sun ephemeris.SunProvider, propagate propagateFunc, logger *slog.Logger) *engine {
	return &engine{
		mb:        newMailbox(),
		out:       out,
		sun:       sun,
		propagate: propagate,
		logger:    logger,
	}
}

// run handles messages in arrival order until ctx is cancelled or a handler
// panics. A panic is reported as an error response and ends the engine.
func (e *engine) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.mb.ready():
		}

		for {
			msg, ok := e.mb.pop()
			if !ok {
				break
			}
			resp := e.handle(msg)
			select {
			case e.out <- resp:
			case <-ctx.Done():
				return
			}
			if resp.err != nil {
				return
			}
		}
	}
}

func (e *engine) handle(msg any) (resp response) {
	defer func() {
		if r := recover(); r != nil {
			resp.err = fmt.Errorf("engine panic: %v", r)
		}
	}()

	switch req := msg.(type) {
	case *InitRequest:
		resp = response{kind: initResponse, id: req.ID}
		resp.dropped, resp.err = e.init(req)
	case *PropagateRequest:
		resp = response{kind: propagateResponse, id: req.ID}
		resp.result, resp.failed = e.process(req)
	default:
		resp.err = fmt.Errorf("unknown message %T", msg)
	}
	return resp
}

// init parses the element sets and lays out every label once. Satellites
// whose elements do not parse are left out; their NORAD ids are returned.
func (e *engine) init(req *InitRequest) ([]string, error) {
	builder, err := glyph.NewBuilder(req.Font)
	if err != nil {
		return nil, err
	}

	var dropped []string
	sats := make([]engineSat, 0, len(req.Satellites))
	for i, s := range req.Satellites {
		es, err := orbit.Parse(s.Line1, s.Line2)
		if err != nil {
			e.logger.Debug("dropping satellite with unparseable elements", "norad_id", s.NoradID, "name", s.Name, "error", err)
			dropped = append(dropped, s.NoradID)
			continue
		}
		xy, uv := builder.TextToGeometry(s.Name).Quads()
		sats = append(sats, engineSat{
			id:     int32(req.Offset + i),
			norad:  s.NoradID,
			es:     es,
			quadXY: xy,
			quadUV: uv,
		})
	}
	e.sats = sats
	return dropped, nil
}

// process runs one round: propagate, filter, convert to look angles, cull
// everything at or below the horizon and stamp labels at what remains.
func (e *engine) process(req *PropagateRequest) (Result, []string) {
	start := time.Now()
	date := req.Date
	gmst := transform.GMST(date)
	obs := transform.NewObserverPosition(req.Location.Latitude, req.Location.Longitude, req.Location.Altitude)
	round := shadow.NewRound(e.sun, date)

	res := Result{
		Positions:    make([]float32, 0, len(e.sats)*FloatsPerPosition),
		IDsAndShadow: make([]int32, 0, len(e.sats)*IntsPerID),
		Texts:        []float32{},
	}
	var failed []string
	var stats metrics.RoundStats

	for i := range e.sats {
		s := &e.sats[i]
		st := e.propagate(s.es, date)
		if !st.OK {
			failed = append(failed, s.norad)
			stats.Failed++
			continue
		}
		if !filter.Passes(req.Filter, st.Mean) {
			stats.Filtered++
			continue
		}

		ecef := transform.TEMEToECEFWithGMST(st.Position, gmst)
		la := transform.ECEFToLookAngles(obs, ecef.X, ecef.Y, ecef.Z)
		c := transform.LookAnglesToCartesian(la.Elevation, la.Azimuth)
		if !(c.Y() > 0) {
			stats.Culled++
			continue
		}

		var flag int32
		if round.Classify(mgl64.Vec3{st.Position.X, st.Position.Y, st.Position.Z}) == shadow.Umbra {
			flag = 1
		}

		res.Positions = append(res.Positions, c[0], c[1], c[2])
		res.IDsAndShadow = append(res.IDsAndShadow, s.id, flag)
		res.Texts = appendLabel(res.Texts, s, c[0], c[1], c[2])
		stats.Visible++
	}

	metrics.RecordPropagation(time.Since(start), stats)
	return res, failed
}

// appendLabel interleaves one satellite's label vertices with the label
// origin: x, y, originX, originY, originZ, u, v.
func appendLabel(dst []float32, s *engineSat, ox, oy, oz float32) []float32 {
	for v := 0; v+1 < len(s.quadXY); v += 2 {
		dst = append(dst,
			s.quadXY[v], s.quadXY[v+1],
			ox, oy, oz,
			s.quadUV[v], s.quadUV[v+1],
		)
	}
	return dst
}
