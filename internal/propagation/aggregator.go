package propagation

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1valdis/heavensat-web/internal/catalog"
	"github.com/1valdis/heavensat-web/internal/ephemeris"
	"github.com/1valdis/heavensat-web/internal/filter"
	"github.com/1valdis/heavensat-web/internal/glyph"
	"github.com/1valdis/heavensat-web/internal/metrics"
)

// DefaultUnits is the number of propagation units when Config.Units is unset.
const DefaultUnits = 3

// Config configures a ConcurrentPropagator.
type Config struct {
	Units   int
	Sun     ephemeris.SunProvider
	OnError func(unit int, err error)

	propagate propagateFunc
}

// Propagated is the aggregated result of every unit, in unit order.
type Propagated struct {
	Result
	ChangedSinceLastRequest bool
}

// ConcurrentPropagator splits a catalog across units and concatenates their
// latest results on demand.
type ConcurrentPropagator struct {
	units   []*Unit
	cancel  context.CancelFunc
	logger  *slog.Logger
	version atomic.Uint64
	changes chan struct{}

	mu           sync.Mutex
	read         bool // Propagated has returned the current cache
	cached       Result
	cacheVersion uint64
}

// NewConcurrentPropagator builds one unit per chunk of sats and initializes
// each with its global id offset. font must contain the fallback glyph.
func NewConcurrentPropagator(ctx context.Context, sats []catalog.Satellite, font *glyph.Metrics, cfg Config, logger *slog.Logger) (*ConcurrentPropagator, error) {
	if _, err := glyph.NewBuilder(font); err != nil {
		return nil, err
	}
	if cfg.Units <= 0 {
		cfg.Units = DefaultUnits
	}
	if cfg.Sun == nil {
		cfg.Sun = ephemeris.Meeus{}
	}

	ctx, cancel := context.WithCancel(ctx)
	cp := &ConcurrentPropagator{
		cancel:  cancel,
		logger:  logger,
		changes: make(chan struct{}, 1),
		cached:  emptyResult(),
	}

	offset := 0
	for i, chunk := range Chunkify(sats, cfg.Units) {
		u := NewUnit(ctx, UnitOptions{
			Index:     i,
			Sun:       cfg.Sun,
			OnChange:  cp.unitChanged,
			OnError:   cfg.OnError,
			propagate: cfg.propagate,
		}, logger)
		u.Init(offset, chunk, font)
		cp.units = append(cp.units, u)
		offset += len(chunk)
	}

	metrics.SetPropagationUnits(len(cp.units))
	logger.Info("propagator started",
		"satellite_count", len(sats),
		"units", len(cp.units),
	)
	return cp, nil
}

// Process fans the request out to every unit. Never blocks.
func (cp *ConcurrentPropagator) Process(date time.Time, loc Location, f filter.Filter) {
	for _, u := range cp.units {
		u.Process(date, loc, f)
	}
}

// ResultVersion counts unit result changes since construction.
func (cp *ConcurrentPropagator) ResultVersion() uint64 {
	return cp.version.Load()
}

// Changes is signalled after a unit publishes a result. Bursts coalesce into
// one notification.
func (cp *ConcurrentPropagator) Changes() <-chan struct{} {
	return cp.changes
}

// Propagated returns the concatenated unit results. The buffers are rebuilt
// only if some unit changed since the previous call; otherwise the previous
// buffers come back with ChangedSinceLastRequest false.
func (cp *ConcurrentPropagator) Propagated() Propagated {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.read {
		return Propagated{Result: cp.cached}
	}
	cp.rebuildLocked()
	cp.read = true
	return Propagated{Result: cp.cached, ChangedSinceLastRequest: true}
}

// Snapshot returns the concatenated results and the version they reflect
// without affecting what Propagated reports.
func (cp *ConcurrentPropagator) Snapshot() (Result, uint64) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.cacheVersion != cp.version.Load() {
		cp.rebuildLocked()
	}
	return cp.cached, cp.cacheVersion
}

// rebuildLocked concatenates every unit's result into fresh buffers.
func (cp *ConcurrentPropagator) rebuildLocked() {
	version := cp.version.Load()
	results := make([]Result, len(cp.units))
	var nPos, nIDs, nTexts int
	for i, u := range cp.units {
		results[i] = u.Result()
		nPos += len(results[i].Positions)
		nIDs += len(results[i].IDsAndShadow)
		nTexts += len(results[i].Texts)
	}

	out := Result{
		Positions:    make([]float32, 0, nPos),
		IDsAndShadow: make([]int32, 0, nIDs),
		Texts:        make([]float32, 0, nTexts),
	}
	for _, r := range results {
		out.Positions = append(out.Positions, r.Positions...)
		out.IDsAndShadow = append(out.IDsAndShadow, r.IDsAndShadow...)
		out.Texts = append(out.Texts, r.Texts...)
	}
	cp.cached = out
	cp.cacheVersion = version
}

func (cp *ConcurrentPropagator) unitChanged() {
	cp.mu.Lock()
	cp.read = false
	cp.mu.Unlock()

	metrics.SetResultVersion(cp.version.Add(1))
	select {
	case cp.changes <- struct{}{}:
	default:
	}
}

// FailedNorads returns the ids that failed to propagate in each unit's last
// round.
func (cp *ConcurrentPropagator) FailedNorads() []string {
	var out []string
	for _, u := range cp.units {
		out = append(out, u.FailedNorads()...)
	}
	return out
}

// DroppedNorads returns the ids whose elements did not parse at init.
func (cp *ConcurrentPropagator) DroppedNorads() []string {
	var out []string
	for _, u := range cp.units {
		out = append(out, u.DroppedNorads()...)
	}
	return out
}

// UnitStates reports every unit's status.
func (cp *ConcurrentPropagator) UnitStates() []UnitStatus {
	out := make([]UnitStatus, len(cp.units))
	for i, u := range cp.units {
		out[i] = u.Status()
	}
	return out
}

// Close stops every unit and waits for their goroutines.
func (cp *ConcurrentPropagator) Close() {
	cp.cancel()
	for _, u := range cp.units {
		u.Wait()
	}
}
