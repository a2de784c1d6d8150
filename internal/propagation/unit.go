package propagation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/1valdis/heavensat-web/internal/catalog"
	"github.com/1valdis/heavensat-web/internal/ephemeris"
	"github.com/1valdis/heavensat-web/internal/filter"
	"github.com/1valdis/heavensat-web/internal/glyph"
	"github.com/1valdis/heavensat-web/internal/metrics"
)

// State is the lifecycle state of a Unit.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
	Busy
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Busy:
		return "busy"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// MarshalText renders the state name in JSON diagnostics.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnitOptions configures a Unit.
type UnitOptions struct {
	Index    int
	Sun      ephemeris.SunProvider
	OnChange func()
	OnError  func(index int, err error)

	propagate propagateFunc
}

// Unit fronts one engine. Init and Process never block: they record the
// request as the latest of its kind and post it unless a propagation is
// already in flight. Responses that do not answer the latest request are
// stale and trigger a re-issue of the latest one.
type Unit struct {
	opts   UnitOptions
	ctx    context.Context
	logger *slog.Logger

	responses chan response
	wg        sync.WaitGroup

	mu          sync.Mutex
	engine      *engine
	latestInit  *InitRequest
	latestProp  *PropagateRequest
	initialized bool
	busy        bool
	busySince   time.Time
	failed      bool
	assigned    int

	result        Result
	failedNorads  []string
	droppedNorads []string
}

// NewUnit creates an uninitialized unit. Its goroutines stop when ctx is
// cancelled.
func NewUnit(ctx context.Context, opts UnitOptions, logger *slog.Logger) *Unit {
	if opts.Sun == nil {
		opts.Sun = ephemeris.Meeus{}
	}
	u := &Unit{
		opts:      opts,
		ctx:       ctx,
		logger:    logger.With("unit", opts.Index),
		responses: make(chan response),
		result:    emptyResult(),
	}
	u.wg.Add(1)
	go u.listen()
	return u
}

// Init assigns satellites to the unit. Global ids are offset plus the
// position in sats. Restarts the engine if it crashed; a request held while
// the unit was failed or uninitialized is issued after the init.
func (u *Unit) Init(offset int, sats []catalog.Satellite, font *glyph.Metrics) {
	u.mu.Lock()
	defer u.mu.Unlock()

	restarted := u.engine == nil || u.failed
	if restarted {
		u.startEngine()
	}
	u.latestInit = &InitRequest{
		ID:         uuid.New(),
		Offset:     offset,
		Satellites: sats,
		Font:       font,
	}
	u.initialized = false
	u.assigned = len(sats)
	u.engine.mb.post(u.latestInit)
	if restarted && u.latestProp != nil {
		u.issueLocked()
	}
}

// Process requests a propagation round. While one is in flight the request
// only replaces any earlier pending one.
func (u *Unit) Process(date time.Time, loc Location, f filter.Filter) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.latestProp = &PropagateRequest{
		ID:       uuid.New(),
		Date:     date,
		Location: loc,
		Filter:   f,
	}
	if u.busy || u.failed || u.engine == nil {
		return
	}
	u.issueLocked()
}

// State reports the unit's lifecycle state.
func (u *Unit) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stateLocked()
}

func (u *Unit) stateLocked() State {
	switch {
	case u.failed:
		return Failed
	case u.latestInit == nil:
		return Uninitialized
	case !u.initialized:
		return Initializing
	case u.busy:
		return Busy
	}
	return Ready
}

// Result returns the last published result.
func (u *Unit) Result() Result {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.result
}

// FailedNorads returns the ids that failed to propagate in the last round.
func (u *Unit) FailedNorads() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.failedNorads
}

// DroppedNorads returns the ids whose elements did not parse at init.
func (u *Unit) DroppedNorads() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.droppedNorads
}

// UnitStatus is a point-in-time view of a unit for diagnostics.
type UnitStatus struct {
	Index      int        `json:"index"`
	State      State      `json:"state"`
	BusySince  *time.Time `json:"busy_since,omitempty"`
	Satellites int        `json:"satellites"`
	Visible    int        `json:"visible"`
	Failed     int        `json:"failed"`
	Dropped    int        `json:"dropped"`
}

// Status returns the unit's diagnostics.
func (u *Unit) Status() UnitStatus {
	u.mu.Lock()
	defer u.mu.Unlock()
	st := UnitStatus{
		Index:      u.opts.Index,
		State:      u.stateLocked(),
		Satellites: u.assigned,
		Visible:    u.result.Len(),
		Failed:     len(u.failedNorads),
		Dropped:    len(u.droppedNorads),
	}
	if u.busy {
		since := u.busySince
		st.BusySince = &since
	}
	return st
}

// Wait blocks until the unit's goroutines have exited after ctx is cancelled.
func (u *Unit) Wait() {
	u.wg.Wait()
}

func (u *Unit) startEngine() {
	propagate := u.opts.propagate
	if propagate == nil {
		propagate = defaultPropagate
	}
	u.engine = newEngine(u.responses, u.opts.Sun, propagate, u.logger)
	u.failed = false
	u.busy = false

	e := u.engine
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		e.run(u.ctx)
	}()
}

func (u *Unit) issueLocked() {
	u.busy = true
	u.busySince = time.Now()
	u.engine.mb.post(u.latestProp)
}

func (u *Unit) listen() {
	defer u.wg.Done()
	for {
		select {
		case <-u.ctx.Done():
			return
		case resp := <-u.responses:
			u.receive(resp)
		}
	}
}

func (u *Unit) receive(resp response) {
	var changed bool
	var crashErr error

	u.mu.Lock()
	switch {
	case resp.err != nil:
		u.failed = true
		u.busy = false
		crashErr = resp.err
		metrics.IncUnitFailures()
		u.logger.Error("propagation engine crashed", "request", resp.kind.String(), "request_id", resp.id, "error", resp.err)

	case resp.kind == initResponse:
		if u.latestInit == nil || resp.id != u.latestInit.ID {
			metrics.IncStaleResponses("init")
			u.logger.Debug("stale init response, re-issuing", "request_id", resp.id)
			u.engine.mb.post(u.latestInit)
			break
		}
		u.initialized = true
		u.droppedNorads = resp.dropped
		if len(resp.dropped) > 0 {
			u.logger.Debug("satellites dropped at init", "dropped_count", len(resp.dropped))
		}

	case resp.kind == propagateResponse:
		if u.latestProp == nil || resp.id != u.latestProp.ID {
			metrics.IncStaleResponses("propagate")
			u.logger.Debug("stale propagate response, re-issuing", "request_id", resp.id)
			u.issueLocked()
			break
		}
		u.busy = false
		u.result = resp.result
		u.failedNorads = resp.failed
		changed = true
	}
	u.mu.Unlock()

	if changed && u.opts.OnChange != nil {
		u.opts.OnChange()
	}
	if crashErr != nil && u.opts.OnError != nil {
		u.opts.OnError(u.opts.Index, crashErr)
	}
}

func emptyResult() Result {
	return Result{Positions: []float32{}, IDsAndShadow: []int32{}, Texts: []float32{}}
}
