// Package driver runs the frame loop: on every tick it asks the current
// propagator for a new round at the simulation time, and when the catalog
// store publishes a new dataset it swaps in a propagator built for it.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1valdis/heavensat-web/internal/catalog"
	"github.com/1valdis/heavensat-web/internal/ephemeris"
	"github.com/1valdis/heavensat-web/internal/filter"
	"github.com/1valdis/heavensat-web/internal/glyph"
	"github.com/1valdis/heavensat-web/internal/metrics"
	"github.com/1valdis/heavensat-web/internal/propagation"
)

// Config holds driver configuration.
type Config struct {
	FrameInterval time.Duration // default: 100ms
	Units         int           // propagation units per catalog
	Font          *glyph.Metrics
	Sun           ephemeris.SunProvider
	Location      propagation.Location
}

// ViewState is what the frame loop propagates for.
type ViewState struct {
	Location propagation.Location `json:"location"`
	Filter   filter.Filter        `json:"filter"`
	Date     time.Time            `json:"date"`
	OffsetMs int64                `json:"offset_ms"`
	Playing  bool                 `json:"playing"`
}

// ViewUpdate changes parts of the view. Nil fields are left alone.
type ViewUpdate struct {
	Location     *propagation.Location `json:"location,omitempty"`
	Filter       *filter.Filter        `json:"filter,omitempty"`
	Date         *time.Time            `json:"date,omitempty"`
	ShiftSeconds *float64              `json:"shift_seconds,omitempty"`
	Playing      *bool                 `json:"playing,omitempty"`
}

// Driver owns the propagator for the current catalog.
type Driver struct {
	store  *catalog.Store
	config Config
	clock  *Clock
	logger *slog.Logger

	mu       sync.RWMutex
	location propagation.Location
	filter   filter.Filter
	dirty    atomic.Bool // view changed since the last frame

	prop    atomic.Pointer[propagation.ConcurrentPropagator]
	dataset *catalog.Dataset // owned by Run

	subMu sync.Mutex
	subs  map[chan struct{}]struct{}
}

// New creates a driver. clock may be nil for a real-time clock.
func New(store *catalog.Store, config Config, clock *Clock, logger *slog.Logger) *Driver {
	if config.FrameInterval <= 0 {
		config.FrameInterval = 100 * time.Millisecond
	}
	if config.Font == nil {
		config.Font = glyph.GridMetrics(32, 32, 16)
	}
	if clock == nil {
		clock = NewClock(nil)
	}
	d := &Driver{
		store:    store,
		config:   config,
		clock:    clock,
		logger:   logger,
		location: config.Location,
		filter:   filter.Default(),
		subs:     make(map[chan struct{}]struct{}),
	}
	d.dirty.Store(true)
	return d
}

// Run drives frames until ctx is cancelled. It waits for the first catalog,
// then rebuilds the propagator whenever the store publishes a new dataset.
func (d *Driver) Run(ctx context.Context) {
	updates := d.store.Subscribe()
	if !d.waitForCatalog(ctx) {
		return
	}
	d.cutover(ctx)

	ticker := time.NewTicker(d.config.FrameInterval)
	defer ticker.Stop()
	defer func() {
		if p := d.prop.Swap(nil); p != nil {
			p.Close()
		}
	}()

	for {
		var changes <-chan struct{}
		if p := d.prop.Load(); p != nil {
			changes = p.Changes()
		}

		select {
		case <-ctx.Done():
			d.logger.Info("frame driver stopped")
			return
		case <-updates:
			d.cutover(ctx)
		case <-ticker.C:
			d.frame()
		case <-changes:
			d.broadcast()
		}
	}
}

// waitForCatalog blocks until the store holds a dataset, checking every
// second. Returns false if ctx is cancelled.
func (d *Driver) waitForCatalog(ctx context.Context) bool {
	if d.store.Get() != nil {
		return true
	}

	d.logger.Info("driver waiting for catalog...")
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if d.store.Get() != nil {
				d.logger.Info("catalog available, starting propagation")
				return true
			}
		}
	}
}

// cutover replaces the propagator with one built for the store's current
// dataset. Readers keep seeing the old propagator until the swap.
func (d *Driver) cutover(ctx context.Context) {
	ds := d.store.Get()
	if ds == nil || ds == d.dataset {
		return
	}

	start := time.Now()
	cp, err := propagation.NewConcurrentPropagator(ctx, ds.Satellites, d.config.Font, propagation.Config{
		Units: d.config.Units,
		Sun:   d.config.Sun,
		OnError: func(unit int, err error) {
			d.logger.Error("propagation unit failed", "unit", unit, "error", err)
		},
	}, d.logger)
	if err != nil {
		d.logger.Error("catalog cutover failed", "source", ds.Source, "error", err)
		return
	}

	old := d.prop.Swap(cp)
	d.dataset = ds
	if old != nil {
		old.Close()
	}
	d.dirty.Store(true)
	d.frame()

	d.logger.Info("catalog cutover complete",
		"source", ds.Source,
		"satellite_count", len(ds.Satellites),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// frame issues one propagation request. A paused clock with an unchanged
// view has nothing new to compute.
func (d *Driver) frame() {
	p := d.prop.Load()
	if p == nil {
		return
	}
	if !d.dirty.Swap(false) && !d.clock.Playing() {
		return
	}

	d.mu.RLock()
	loc, f := d.location, d.filter
	d.mu.RUnlock()

	p.Process(d.clock.Now(), loc, f)
	metrics.IncFrames()
}

// Propagator returns the current propagator, or nil before the first
// catalog is loaded.
func (d *Driver) Propagator() *propagation.ConcurrentPropagator {
	return d.prop.Load()
}

// Sun returns the Sun provider shared by every propagator the driver builds.
func (d *Driver) Sun() ephemeris.SunProvider {
	return d.config.Sun
}

// View returns the current view state.
func (d *Driver) View() ViewState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return ViewState{
		Location: d.location,
		Filter:   d.filter,
		Date:     d.clock.Now(),
		OffsetMs: d.clock.Offset().Milliseconds(),
		Playing:  d.clock.Playing(),
	}
}

// UpdateView validates and applies u. Nothing is applied if any part is
// invalid.
func (d *Driver) UpdateView(u ViewUpdate) error {
	if u.Location != nil {
		if err := validateLocation(*u.Location); err != nil {
			return err
		}
	}
	if u.Filter != nil {
		if err := u.Filter.Validate(); err != nil {
			return err
		}
	}
	if u.Date != nil && u.ShiftSeconds != nil {
		return fmt.Errorf("date and shift_seconds are mutually exclusive")
	}

	d.mu.Lock()
	if u.Location != nil {
		d.location = *u.Location
	}
	if u.Filter != nil {
		d.filter = *u.Filter
	}
	d.mu.Unlock()

	if u.Date != nil {
		d.clock.Set(*u.Date)
	}
	if u.ShiftSeconds != nil {
		d.clock.Shift(time.Duration(*u.ShiftSeconds * float64(time.Second)))
	}
	if u.Playing != nil {
		if *u.Playing {
			d.clock.Play()
		} else {
			d.clock.Pause()
		}
	}
	d.dirty.Store(true)
	return nil
}

func validateLocation(l propagation.Location) error {
	if l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("latitude %.4f out of [-90, 90]", l.Latitude)
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("longitude %.4f out of [-180, 180]", l.Longitude)
	}
	if l.Altitude < -500 || l.Altitude > 100000 {
		return fmt.Errorf("altitude %.1f m out of range", l.Altitude)
	}
	return nil
}

// Subscribe returns a channel signalled whenever the aggregated result
// changes, coalescing bursts, and a function that cancels the subscription.
func (d *Driver) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	d.subMu.Lock()
	d.subs[ch] = struct{}{}
	d.subMu.Unlock()
	return ch, func() {
		d.subMu.Lock()
		delete(d.subs, ch)
		d.subMu.Unlock()
	}
}

func (d *Driver) broadcast() {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for ch := range d.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
