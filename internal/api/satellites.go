package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/1valdis/heavensat-web/internal/catalog"
	"github.com/1valdis/heavensat-web/internal/driver"
	"github.com/1valdis/heavensat-web/internal/passes"
)

const (
	defaultPassHours = 24
	maxPassHours     = 168
	defaultMaxPasses = 10
	passLimit        = 50
)

// lookupSatellite resolves the {norad} path value against the current
// catalog, writing the error response itself when it fails.
func lookupSatellite(w http.ResponseWriter, r *http.Request, store *catalog.Store) (catalog.Satellite, bool) {
	ds := store.Get()
	if ds == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog not loaded")
		return catalog.Satellite{}, false
	}
	norad := r.PathValue("norad")
	if _, err := strconv.Atoi(norad); err != nil {
		writeError(w, http.StatusBadRequest, "invalid NORAD id")
		return catalog.Satellite{}, false
	}
	for _, sat := range ds.Satellites {
		if sat.NoradID == norad {
			return sat, true
		}
	}
	writeError(w, http.StatusNotFound, "satellite not in catalog")
	return catalog.Satellite{}, false
}

// GET /api/v1/satellites/{norad}
func satelliteHandler(store *catalog.Store, d *driver.Driver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sat, ok := lookupSatellite(w, r, store)
		if !ok {
			return
		}
		view := d.View()
		details, err := passes.Describe(sat, view.Location, view.Date, d.Sun())
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, details)
	}
}

type passesResponse struct {
	NoradID      string        `json:"norad_id"`
	Name         string        `json:"name"`
	Start        time.Time     `json:"start"`
	Hours        float64       `json:"hours"`
	MinElevation float64       `json:"min_elevation"`
	Passes       []passes.Pass `json:"passes"`
}

// GET /api/v1/satellites/{norad}/passes?hours=24&min_el=10&max=10
func satellitePassesHandler(store *catalog.Store, d *driver.Driver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hours, ok := queryFloat(r, "hours", defaultPassHours, 1, maxPassHours)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid hours parameter, must be 1-168")
			return
		}
		minEl, ok := queryFloat(r, "min_el", 0, 0, 89)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid min_el parameter, must be 0-89 degrees")
			return
		}
		maxPasses, ok := queryInt(r, "max", defaultMaxPasses, 1, passLimit)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid max parameter, must be 1-50")
			return
		}
		sat, ok := lookupSatellite(w, r, store)
		if !ok {
			return
		}

		view := d.View()
		results := passes.Predict(r.Context(), passes.Request{
			Location:     view.Location,
			Satellites:   []catalog.Satellite{sat},
			Start:        view.Date,
			Window:       time.Duration(hours * float64(time.Hour)),
			MinElevation: minEl,
			MaxPasses:    maxPasses,
			Sun:          d.Sun(),
		})
		res := results[0]
		if res.Error != "" {
			writeError(w, http.StatusUnprocessableEntity, res.Error)
			return
		}
		if res.Passes == nil {
			res.Passes = []passes.Pass{}
		}
		writeJSON(w, http.StatusOK, passesResponse{
			NoradID:      res.NoradID,
			Name:         res.Name,
			Start:        view.Date.UTC(),
			Hours:        hours,
			MinElevation: minEl,
			Passes:       res.Passes,
		})
	}
}
