// Package propagation runs the satellite catalog through SGP4 on a set of
// isolated worker engines and aggregates their output into render buffers.
//
// Each Unit owns one engine goroutine. The two exchange copies only: requests
// go in through an unbounded mailbox, responses come back on a channel, and
// every request carries a UUID so the unit can recognise answers to requests
// it has since superseded.
package propagation

import (
	"time"

	"github.com/google/uuid"

	"github.com/1valdis/heavensat-web/internal/catalog"
	"github.com/1valdis/heavensat-web/internal/filter"
	"github.com/1valdis/heavensat-web/internal/glyph"
)

// Buffer layout constants shared with the renderer.
const (
	FloatsPerPosition = 3
	IntsPerID         = 2 // global id, shadow flag

	TextFloatsPerPosition = 2
	TextFloatsPerOrigin   = 3
	TextFloatsPerUV       = 2
	TextFloatsPerVertex   = TextFloatsPerPosition + TextFloatsPerOrigin + TextFloatsPerUV
)

// Location is the observer on the ground.
type Location struct {
	Latitude  float64 `json:"latitude"`  // degrees
	Longitude float64 `json:"longitude"` // degrees
	Altitude  float64 `json:"altitude"`  // meters
}

// Result is one propagation round's render buffers. Every satellite in the
// round contributes three floats to Positions, an (id, shadow) pair to
// IDsAndShadow and TextFloatsPerVertex floats per label vertex to Texts.
// Never mutated after it is published.
type Result struct {
	Positions    []float32
	IDsAndShadow []int32
	Texts        []float32
}

// Len returns the number of satellites in r.
func (r Result) Len() int {
	return len(r.Positions) / FloatsPerPosition
}

// InitRequest hands an engine its share of the catalog.
type InitRequest struct {
	ID         uuid.UUID
	Offset     int
	Satellites []catalog.Satellite
	Font       *glyph.Metrics
}

// PropagateRequest asks an engine for one propagation round.
type PropagateRequest struct {
	ID       uuid.UUID
	Date     time.Time
	Location Location
	Filter   filter.Filter
}

type responseKind int

const (
	initResponse responseKind = iota
	propagateResponse
)

func (k responseKind) String() string {
	if k == initResponse {
		return "init"
	}
	return "propagate"
}

type response struct {
	kind responseKind
	id   uuid.UUID
	err  error

	// init
	dropped []string

	// propagate
	result Result
	failed []string
}
