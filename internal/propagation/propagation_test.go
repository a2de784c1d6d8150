package propagation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/1valdis/heavensat-web/internal/catalog"
	"github.com/1valdis/heavensat-web/internal/ephemeris"
	"github.com/1valdis/heavensat-web/internal/filter"
	"github.com/1valdis/heavensat-web/internal/glyph"
	"github.com/1valdis/heavensat-web/internal/orbit"
	"github.com/1valdis/heavensat-web/internal/transform"
)

const (
	issLine1 = "1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9009"
	issLine2 = "2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    01"

	starlinkLine1 = "1 44713U 19074A   24100.50000000  .00001000  00000-0  10000-4 0  9998"
	starlinkLine2 = "2 44713  53.0000 200.0000 0001500  90.0000 270.0000 15.06000000    07"

	geoLine1 = "1 28884U 05041A   24100.50000000 -.00000100  00000-0  00000-0 0  9994"
	geoLine2 = "2 28884   0.0500  80.0000 0002000  10.0000 200.0000  1.00270000    00"
)

var (
	iss      = catalog.Satellite{Name: "ISS (ZARYA)", NoradID: "25544", Line1: issLine1, Line2: issLine2}
	starlink = catalog.Satellite{Name: "STARLINK-1007", NoradID: "44713", Line1: starlinkLine1, Line2: starlinkLine2}
	geo      = catalog.Satellite{Name: "INTELSAT", NoradID: "28884", Line1: geoLine1, Line2: geoLine2}

	epoch    = time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC)
	equator  = Location{}
	antipode = Location{Longitude: 180}
	testFont = glyph.GridMetrics(10, 16, 16)
	leoMean  = orbit.MeanElements{Inclination: 0.9, Eccentricity: 0.0005, MeanMotion: 0.0675, SemiMajorAxis: 1.06}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// overhead returns a TEME position directly above (lat 0, lonDeg) at t.
func overhead(t time.Time, lonDeg, radiusKm float64) transform.PositionTEME {
	g := transform.GMST(t) + lonDeg*math.Pi/180
	return transform.PositionTEME{X: radiusKm * math.Cos(g), Y: radiusKm * math.Sin(g)}
}

// fixtureSats clones the ISS element set under n distinct catalog numbers.
func fixtureSats(n int) []catalog.Satellite {
	sats := make([]catalog.Satellite, n)
	for i := range sats {
		id := fmt.Sprintf("%05d", 10000+i)
		sats[i] = catalog.Satellite{
			Name:    "SAT " + id,
			NoradID: id,
			Line1:   issLine1[:2] + id + issLine1[7:],
			Line2:   issLine2[:2] + id + issLine2[7:],
		}
	}
	return sats
}

// allOverhead puts every satellite above the equator at longitude 0.
func allOverhead(es *orbit.ElementSet, t time.Time) orbit.State {
	return orbit.State{Position: overhead(t, 0, 6778), Mean: leoMean, OK: true}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestChunkify(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	chunks := Chunkify(items, 3)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	want := [][]int{{1, 2, 3, 4}, {5, 6, 7}, {8, 9, 10}}
	for i := range want {
		if fmt.Sprint(chunks[i]) != fmt.Sprint(want[i]) {
			t.Errorf("chunk %d = %v, want %v", i, chunks[i], want[i])
		}
	}

	// Appending to a chunk must not overwrite the next one.
	_ = append(chunks[0], 99)
	if chunks[1][0] != 5 {
		t.Error("chunks alias each other")
	}
}

func TestChunkifyBalance(t *testing.T) {
	for size := 0; size <= 25; size++ {
		items := make([]int, size)
		for i := range items {
			items[i] = i
		}
		for n := 0; n <= 7; n++ {
			chunks := Chunkify(items, n)
			wantChunks := max(n, 1)
			if len(chunks) != wantChunks {
				t.Fatalf("Chunkify(%d items, %d) gave %d chunks", size, n, len(chunks))
			}
			minLen, maxLen, sum, next := size, 0, 0, 0
			for _, c := range chunks {
				minLen = min(minLen, len(c))
				maxLen = max(maxLen, len(c))
				sum += len(c)
				for _, v := range c {
					if v != next {
						t.Fatalf("Chunkify(%d items, %d): order broken at %d", size, n, v)
					}
					next++
				}
			}
			if sum != size || maxLen-minLen > 1 {
				t.Errorf("Chunkify(%d items, %d): sum=%d spread=%d", size, n, sum, maxLen-minLen)
			}
		}
	}
}

func TestEngineHorizonCull(t *testing.T) {
	e := newEngine(nil, ephemeris.Fixed{}, func(es *orbit.ElementSet, t time.Time) orbit.State {
		lon := 0.0
		if es.NoradID == "44713" {
			lon = 180
		}
		return orbit.State{Position: overhead(t, lon, 6778), Mean: leoMean, OK: true}
	}, testLogger())

	if _, err := e.init(&InitRequest{Offset: 5, Satellites: []catalog.Satellite{iss, starlink}, Font: testFont}); err != nil {
		t.Fatal(err)
	}
	res, failed := e.process(&PropagateRequest{Date: epoch, Location: equator, Filter: filter.Default()})

	if len(failed) != 0 {
		t.Errorf("failed = %v", failed)
	}
	if len(res.Positions) != 3 || len(res.IDsAndShadow) != 2 {
		t.Fatalf("got %d positions, %d ids; want 3, 2", len(res.Positions), len(res.IDsAndShadow))
	}
	if res.IDsAndShadow[0] != 5 {
		t.Errorf("id = %d, want 5", res.IDsAndShadow[0])
	}
	if y := res.Positions[1]; y < 0.999 {
		t.Errorf("zenith satellite vertical component = %f", y)
	}

	wantTexts := len(iss.Name) * glyph.VerticesPerQuad * TextFloatsPerVertex
	if len(res.Texts) != wantTexts {
		t.Fatalf("texts length = %d, want %d", len(res.Texts), wantTexts)
	}
	for v := 0; v < len(res.Texts); v += TextFloatsPerVertex {
		origin := res.Texts[v+TextFloatsPerPosition : v+TextFloatsPerPosition+TextFloatsPerOrigin]
		for k := range origin {
			if origin[k] != res.Positions[k] {
				t.Fatalf("vertex %d origin = %v, want %v", v/TextFloatsPerVertex, origin, res.Positions)
			}
		}
	}
}

func TestEngineFailedAndFiltered(t *testing.T) {
	e := newEngine(nil, ephemeris.Fixed{}, func(es *orbit.ElementSet, t time.Time) orbit.State {
		switch es.NoradID {
		case "25544":
			return orbit.State{}
		case "44713":
			me := leoMean
			me.Eccentricity = 0.02
			return orbit.State{Position: overhead(t, 0, 6778), Mean: me, OK: true}
		}
		return allOverhead(es, t)
	}, testLogger())

	bad := catalog.Satellite{Name: "BROKEN", NoradID: "99999", Line1: "1 99999U", Line2: "2 99999"}
	dropped, err := e.init(&InitRequest{Satellites: []catalog.Satellite{iss, bad, starlink, geo}, Font: testFont})
	if err != nil {
		t.Fatal(err)
	}
	if len(dropped) != 1 || dropped[0] != "99999" {
		t.Errorf("dropped = %v", dropped)
	}

	f := filter.Default()
	f.Eccentricity = filter.Range{Enabled: true, Min: 0, Max: 0.01}
	res, failed := e.process(&PropagateRequest{Date: epoch, Location: equator, Filter: f})

	if len(failed) != 1 || failed[0] != "25544" {
		t.Errorf("failed = %v, want [25544]", failed)
	}
	// GEO is index 3 in the init request; the dropped satellite keeps its slot.
	if len(res.IDsAndShadow) != 2 || res.IDsAndShadow[0] != 3 {
		t.Errorf("ids = %v, want [3 0]", res.IDsAndShadow)
	}
}

func TestEngineShadowFlag(t *testing.T) {
	tests := []struct {
		name string
		sun  func(t time.Time) mgl64.Vec3
		want int32
	}{
		{"behind earth", func(t time.Time) mgl64.Vec3 {
			p := overhead(t, 0, ephemeris.AstronomicalUnitKm)
			return mgl64.Vec3{-p.X, -p.Y, -p.Z}
		}, 1},
		{"sunlit", func(t time.Time) mgl64.Vec3 {
			p := overhead(t, 0, ephemeris.AstronomicalUnitKm)
			return mgl64.Vec3{p.X, p.Y, p.Z}
		}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(nil, ephemeris.Fixed(tt.sun(epoch)), allOverhead, testLogger())
			if _, err := e.init(&InitRequest{Satellites: []catalog.Satellite{iss}, Font: testFont}); err != nil {
				t.Fatal(err)
			}
			res, _ := e.process(&PropagateRequest{Date: epoch, Location: equator, Filter: filter.Default()})
			if len(res.IDsAndShadow) != 2 {
				t.Fatalf("ids = %v", res.IDsAndShadow)
			}
			if got := res.IDsAndShadow[1]; got != tt.want {
				t.Errorf("shadow flag = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEngineInitMissingFallback(t *testing.T) {
	e := newEngine(nil, ephemeris.Fixed{}, allOverhead, testLogger())
	font := &glyph.Metrics{Chars: []glyph.CharMetrics{{ID: 73, Char: "I"}}}
	if _, err := e.init(&InitRequest{Satellites: []catalog.Satellite{iss}, Font: font}); err == nil {
		t.Fatal("expected error for font without fallback glyph")
	}
}

// gate blocks the propagate hook until the test releases each call.
type gate struct {
	mu      sync.Mutex
	calls   []time.Time
	started chan time.Time
	release chan struct{}
}

func newGate() *gate {
	return &gate{started: make(chan time.Time, 16), release: make(chan struct{}, 16)}
}

func (g *gate) propagate(es *orbit.ElementSet, t time.Time) orbit.State {
	g.mu.Lock()
	g.calls = append(g.calls, t)
	g.mu.Unlock()
	g.started <- t
	<-g.release
	return allOverhead(es, t)
}

func (g *gate) recorded() []time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]time.Time(nil), g.calls...)
}

func expectStart(t *testing.T, g *gate, want time.Time) {
	t.Helper()
	select {
	case got := <-g.started:
		if !got.Equal(want) {
			t.Fatalf("computation started for %v, want %v", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("computation for %v never started", want)
	}
}

func TestUnitSupersedesPendingRequests(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := newGate()
	var mu sync.Mutex
	changes := 0
	u := NewUnit(ctx, UnitOptions{
		Sun:       ephemeris.Fixed{},
		OnChange:  func() { mu.Lock(); changes++; mu.Unlock() },
		propagate: g.propagate,
	}, testLogger())
	u.Init(0, []catalog.Satellite{iss}, testFont)

	dateA := epoch
	dateB := epoch.Add(time.Second)
	dateC := epoch.Add(2 * time.Second)

	u.Process(dateA, antipode, filter.Default())
	expectStart(t, g, dateA)
	waitFor(t, "unit busy", func() bool { return u.State() == Busy })

	u.Process(dateB, antipode, filter.Default())
	u.Process(dateC, equator, filter.Default())
	g.release <- struct{}{}

	expectStart(t, g, dateC)
	g.release <- struct{}{}

	waitFor(t, "unit ready", func() bool { return u.State() == Ready })

	calls := g.recorded()
	if len(calls) != 2 || !calls[0].Equal(dateA) || !calls[1].Equal(dateC) {
		t.Errorf("computed %v, want [A C]", calls)
	}
	mu.Lock()
	if changes != 1 {
		t.Errorf("published %d results, want 1 (the stale one is discarded)", changes)
	}
	mu.Unlock()

	// Only the equator request sees the satellite overhead.
	if n := u.Result().Len(); n != 1 {
		t.Errorf("result holds %d satellites, want 1 from the last request", n)
	}
}

func TestUnitTwoRequests(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := newGate()
	u := NewUnit(ctx, UnitOptions{Sun: ephemeris.Fixed{}, propagate: g.propagate}, testLogger())
	u.Init(0, []catalog.Satellite{iss}, testFont)

	dateA := epoch
	dateB := epoch.Add(time.Minute)

	u.Process(dateA, antipode, filter.Default())
	expectStart(t, g, dateA)
	u.Process(dateB, equator, filter.Default())
	g.release <- struct{}{}
	expectStart(t, g, dateB)
	g.release <- struct{}{}

	waitFor(t, "unit ready", func() bool { return u.State() == Ready })
	if calls := g.recorded(); len(calls) != 2 {
		t.Errorf("computed %d rounds, want 2", len(calls))
	}
	if n := u.Result().Len(); n != 1 {
		t.Errorf("result holds %d satellites, want 1 from dateB", n)
	}
}

func TestUnitStaleInit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	u := NewUnit(ctx, UnitOptions{Sun: ephemeris.Fixed{}, propagate: allOverhead}, testLogger())
	if s := u.State(); s != Uninitialized {
		t.Errorf("initial state = %v", s)
	}

	bad := catalog.Satellite{Name: "BROKEN", NoradID: "99999", Line1: "garbage", Line2: "garbage"}
	u.Init(0, []catalog.Satellite{bad}, testFont)
	u.Init(0, []catalog.Satellite{iss}, testFont)

	waitFor(t, "unit ready", func() bool { return u.State() == Ready })
	if d := u.DroppedNorads(); len(d) != 0 {
		t.Errorf("dropped = %v, want none from the latest init", d)
	}

	u.Process(epoch, equator, filter.Default())
	waitFor(t, "result", func() bool { return u.Result().Len() == 1 })
}

func TestUnitEngineCrash(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	panicking := true
	var crashes []int

	u := NewUnit(ctx, UnitOptions{
		Index: 2,
		Sun:   ephemeris.Fixed{},
		OnError: func(index int, err error) {
			mu.Lock()
			crashes = append(crashes, index)
			mu.Unlock()
		},
		propagate: func(es *orbit.ElementSet, t time.Time) orbit.State {
			mu.Lock()
			p := panicking
			mu.Unlock()
			if p {
				panic("boom")
			}
			return allOverhead(es, t)
		},
	}, testLogger())
	u.Init(0, []catalog.Satellite{iss}, testFont)
	u.Process(epoch, equator, filter.Default())

	waitFor(t, "error callback", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(crashes) == 1
	})
	if s := u.State(); s != Failed {
		t.Fatalf("state after crash = %v", s)
	}
	mu.Lock()
	if crashes[0] != 2 {
		t.Errorf("error callback got unit %d, want 2", crashes[0])
	}
	panicking = false
	mu.Unlock()

	// Requests are held while failed.
	u.Process(epoch, equator, filter.Default())
	if s := u.State(); s != Failed {
		t.Errorf("state after process on failed unit = %v", s)
	}

	// The request held while failed runs once the engine is restarted.
	u.Init(0, []catalog.Satellite{iss}, testFont)
	waitFor(t, "restarted unit result", func() bool { return u.Result().Len() == 1 })
	if s := u.State(); s != Ready {
		t.Errorf("state after restart = %v, want Ready", s)
	}
}

func TestUnitProcessBeforeInit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	u := NewUnit(ctx, UnitOptions{Sun: ephemeris.Fixed{}, propagate: allOverhead}, testLogger())
	u.Process(epoch, equator, filter.Default())
	if s := u.State(); s != Uninitialized {
		t.Errorf("state after process without init = %v", s)
	}
	u.Init(0, []catalog.Satellite{iss}, testFont)
	waitFor(t, "result", func() bool { return u.Result().Len() == 1 })
}

func TestConcurrentPropagatorIDs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sats := fixtureSats(10)
	cp, err := NewConcurrentPropagator(ctx, sats, testFont, Config{Units: 3, Sun: ephemeris.Fixed{}, propagate: allOverhead}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer cp.Close()

	cp.Process(epoch, equator, filter.Default())
	waitFor(t, "one result per unit", func() bool { return cp.ResultVersion() == 3 })

	p := cp.Propagated()
	if !p.ChangedSinceLastRequest {
		t.Error("first read not marked changed")
	}
	if len(p.Positions) != 3*(len(p.IDsAndShadow)/2) {
		t.Errorf("buffer lengths disagree: %d positions, %d ids", len(p.Positions), len(p.IDsAndShadow))
	}

	var ids []int
	for i := 0; i < len(p.IDsAndShadow); i += IntsPerID {
		ids = append(ids, int(p.IDsAndShadow[i]))
	}
	sort.Ints(ids)
	for i, id := range ids {
		if id != i {
			t.Fatalf("ids = %v, want 0..%d each once", ids, len(sats)-1)
		}
	}

	if again := cp.Propagated(); again.ChangedSinceLastRequest {
		t.Error("second read without new results marked changed")
	}
	if p.Len() != len(sats) {
		t.Errorf("aggregated %d satellites, want %d", p.Len(), len(sats))
	}

	states := cp.UnitStates()
	if len(states) != 3 || states[0].Satellites != 4 || states[2].Satellites != 3 {
		t.Errorf("unit states = %+v", states)
	}
}

func TestConcurrentPropagatorChangeFlag(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cp, err := NewConcurrentPropagator(ctx, []catalog.Satellite{iss, starlink}, testFont, Config{Units: 2, Sun: ephemeris.Fixed{}, propagate: allOverhead}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer cp.Close()

	cp.Process(epoch, equator, filter.Default())
	waitFor(t, "first round", func() bool { return cp.ResultVersion() == 2 })
	if !cp.Propagated().ChangedSinceLastRequest {
		t.Fatal("expected changed after first round")
	}

	// Snapshot does not consume the change.
	cp.Process(epoch.Add(time.Second), antipode, filter.Default())
	waitFor(t, "second round", func() bool { return cp.ResultVersion() == 4 })
	r, v := cp.Snapshot()
	if v != 4 || r.Len() != 0 {
		t.Errorf("Snapshot = %d satellites at version %d, want 0 at 4", r.Len(), v)
	}
	p := cp.Propagated()
	if !p.ChangedSinceLastRequest || p.Len() != 0 {
		t.Errorf("Propagated after second round = %+v", p)
	}

	select {
	case <-cp.Changes():
	default:
		t.Error("no change notification pending")
	}
}

func TestConcurrentPropagatorFilter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	propagate := func(es *orbit.ElementSet, t time.Time) orbit.State {
		me := leoMean
		if es.NoradID == "44713" {
			me.Eccentricity = 0.02
		}
		return orbit.State{Position: overhead(t, 0, 6778), Mean: me, OK: true}
	}
	cp, err := NewConcurrentPropagator(ctx, []catalog.Satellite{iss, starlink}, testFont, Config{Units: 1, Sun: ephemeris.Fixed{}, propagate: propagate}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer cp.Close()

	f := filter.Default()
	f.Eccentricity = filter.Range{Enabled: true, Min: 0, Max: 0.01}
	cp.Process(epoch, equator, f)
	waitFor(t, "round", func() bool { return cp.ResultVersion() == 1 })

	p := cp.Propagated()
	if len(p.IDsAndShadow) != 2 || p.IDsAndShadow[0] != 0 {
		t.Errorf("ids = %v, want only satellite 0", p.IDsAndShadow)
	}
	if len(cp.FailedNorads()) != 0 {
		t.Errorf("filtered satellites reported failed: %v", cp.FailedNorads())
	}
}

func TestConcurrentPropagatorSGP4(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cp, err := NewConcurrentPropagator(ctx, []catalog.Satellite{iss, starlink, geo}, testFont, Config{Units: 3, Sun: ephemeris.Meeus{}}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer cp.Close()

	for _, loc := range []Location{{Latitude: 51.5, Longitude: -0.1}, {Latitude: -33.9, Longitude: 151.2, Altitude: 50}, equator} {
		want := cp.ResultVersion() + 3
		cp.Process(epoch.Add(90*time.Minute), loc, filter.Default())
		waitFor(t, "round", func() bool { return cp.ResultVersion() >= want })

		p := cp.Propagated()
		if len(p.Positions) != 3*(len(p.IDsAndShadow)/2) {
			t.Fatalf("buffer lengths disagree at %+v", loc)
		}
		for i := 1; i < len(p.Positions); i += FloatsPerPosition {
			if p.Positions[i] <= 0 {
				t.Errorf("below-horizon satellite in output at %+v: %v", loc, p.Positions[i-1:i+2])
			}
		}
		if len(p.Texts)%(glyph.VerticesPerQuad*TextFloatsPerVertex) != 0 {
			t.Errorf("texts length %d is not whole quads", len(p.Texts))
		}
	}
	if f := cp.FailedNorads(); len(f) != 0 {
		t.Errorf("failed = %v", f)
	}
}

func TestNewConcurrentPropagatorBadFont(t *testing.T) {
	_, err := NewConcurrentPropagator(context.Background(), nil, &glyph.Metrics{}, Config{}, testLogger())
	if err == nil {
		t.Fatal("expected error for font without fallback glyph")
	}
}

func BenchmarkEngineProcess(b *testing.B) {
	e := newEngine(nil, ephemeris.Meeus{}, orbit.Propagate, testLogger())
	if _, err := e.init(&InitRequest{Satellites: fixtureSats(500), Font: testFont}); err != nil {
		b.Fatal(err)
	}
	req := &PropagateRequest{Date: epoch, Location: Location{Latitude: 51.5}, Filter: filter.Default()}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.process(req)
	}
}
