package api

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/1valdis/heavensat-web/internal/catalog"
	"github.com/1valdis/heavensat-web/internal/driver"
	"github.com/1valdis/heavensat-web/internal/propagation"
	"github.com/1valdis/heavensat-web/internal/scene"
	"github.com/1valdis/heavensat-web/internal/stream"
)

const maxViewBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type catalogMetadata struct {
	Source         string    `json:"source"`
	FetchedAt      time.Time `json:"fetched_at"`
	AgeSeconds     int       `json:"age_seconds"`
	SatelliteCount int       `json:"satellite_count"`
	EpochMin       time.Time `json:"epoch_min"`
	EpochMax       time.Time `json:"epoch_max"`
}

func newCatalogMetadata(ds *catalog.Dataset) catalogMetadata {
	return catalogMetadata{
		Source:         ds.Source,
		FetchedAt:      ds.FetchedAt.UTC(),
		AgeSeconds:     int(time.Since(ds.FetchedAt).Seconds()),
		SatelliteCount: len(ds.Satellites),
		EpochMin:       ds.EpochRange.Min.UTC(),
		EpochMax:       ds.EpochRange.Max.UTC(),
	}
}

// GET /api/v1/catalog/metadata
func catalogMetadataHandler(store *catalog.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds := store.Get()
		if ds == nil {
			writeError(w, http.StatusServiceUnavailable, "catalog not loaded")
			return
		}
		writeJSON(w, http.StatusOK, newCatalogMetadata(ds))
	}
}

// POST /api/v1/catalog/refresh
func catalogRefreshHandler(logger *slog.Logger, loader *catalog.Loader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if loader == nil {
			writeError(w, http.StatusServiceUnavailable, "catalog fetching disabled")
			return
		}
		ds, err := loader.Refresh(r.Context())
		if err != nil {
			logger.Warn("manual catalog refresh failed", "error", err)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, newCatalogMetadata(ds))
	}
}

// GET /api/v1/view
func viewGetHandler(d *driver.Driver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.View())
	}
}

// PUT /api/v1/view
func viewPutHandler(logger *slog.Logger, d *driver.Driver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxViewBodyBytes))
		dec.DisallowUnknownFields()
		var u driver.ViewUpdate
		if err := dec.Decode(&u); err != nil {
			writeError(w, http.StatusBadRequest, "invalid view update: "+err.Error())
			return
		}
		if err := d.UpdateView(u); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		view := d.View()
		logger.Debug("view updated",
			"latitude", view.Location.Latitude,
			"longitude", view.Location.Longitude,
			"playing", view.Playing,
			"offset_ms", view.OffsetMs,
		)
		writeJSON(w, http.StatusOK, view)
	}
}

type diagnostics struct {
	ResultVersion uint64                   `json:"result_version"`
	Satellites    int                      `json:"satellites"`
	FailedNorads  []string                 `json:"failed_norads"`
	DroppedNorads []string                 `json:"dropped_norads"`
	Units         []propagation.UnitStatus `json:"units"`
	StreamClients int                      `json:"stream_clients"`
}

// GET /api/v1/diagnostics
func diagnosticsHandler(d *driver.Driver, streams *stream.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := d.Propagator()
		if p == nil {
			writeError(w, http.StatusServiceUnavailable, "propagator not started")
			return
		}
		res, version := p.Snapshot()
		diag := diagnostics{
			ResultVersion: version,
			Satellites:    res.Len(),
			FailedNorads:  p.FailedNorads(),
			DroppedNorads: p.DroppedNorads(),
			Units:         p.UnitStates(),
		}
		if streams != nil {
			diag.StreamClients = streams.Active()
		}
		if diag.FailedNorads == nil {
			diag.FailedNorads = []string{}
		}
		if diag.DroppedNorads == nil {
			diag.DroppedNorads = []string{}
		}
		writeJSON(w, http.StatusOK, diag)
	}
}

// queryFloat parses an optional float query parameter within [lo, hi].
func queryFloat(r *http.Request, name string, def, lo, hi float64) (float64, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || f < lo || f > hi {
		return 0, false
	}
	return f, true
}

func queryInt(r *http.Request, name string, def, lo, hi int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return 0, false
	}
	return n, true
}

// GET /api/v1/scene?w=1920&h=1080&fov=60&px=0&py=0
func sceneHandler(d *driver.Driver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		width, ok1 := queryFloat(r, "w", 1, 1, 16384)
		height, ok2 := queryFloat(r, "h", 1, 1, 16384)
		if !ok1 || !ok2 {
			writeError(w, http.StatusBadRequest, "invalid viewport, w and h must be 1-16384")
			return
		}
		fov, ok := queryFloat(r, "fov", 60, 1, 179)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid fov parameter, must be 1-179 degrees")
			return
		}
		px, ok1 := queryFloat(r, "px", 0, -math.Pi, math.Pi)
		py, ok2 := queryFloat(r, "py", 0, -2*math.Pi, 2*math.Pi)
		if !ok1 || !ok2 {
			writeError(w, http.StatusBadRequest, "invalid panning, px must be within ±π and py within ±2π radians")
			return
		}

		view := d.View()
		writeJSON(w, http.StatusOK, scene.Matrices(
			scene.Viewport{Width: width, Height: height},
			fov, view.Location, view.Date,
			scene.Panning{X: px, Y: py},
		))
	}
}
