// Package scene builds the camera matrices the renderer draws with: a
// perspective projection, a sky view that turns the celestial sphere for the
// observer's latitude and local sidereal time, and a ground view that only
// applies the user's panning.
package scene

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/1valdis/heavensat-web/internal/propagation"
	"github.com/1valdis/heavensat-web/internal/transform"
)

const (
	NearPlane = 0.1
	FarPlane  = 2
)

// Viewport is the drawing surface size in pixels.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Panning is the camera rotation applied by dragging, in radians: X tilts
// around the horizontal axis, Y turns around the vertical one.
type Panning struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// View holds the matrices for one frame. Sky transforms equatorial unit
// vectors (z toward the celestial pole, x toward the equinox); Ground
// transforms horizon-frame vectors as produced by
// transform.LookAnglesToCartesian.
type View struct {
	Projection mgl32.Mat4 `json:"projection"`
	Sky        mgl32.Mat4 `json:"sky"`
	Ground     mgl32.Mat4 `json:"ground"`
}

// Matrices computes the view for an observer at loc looking through a
// vertical field of view of fovDeg degrees.
func Matrices(vp Viewport, fovDeg float64, loc propagation.Location, date time.Time, pan Panning) View {
	aspect := 1.0
	if vp.Height > 0 {
		aspect = vp.Width / vp.Height
	}
	projection := mgl32.Perspective(mgl32.DegToRad(float32(fovDeg)), float32(aspect), NearPlane, FarPlane)

	// Reduced before narrowing to float32; the continuous angle is in the
	// tens of thousands of radians.
	lst := transform.GMSTReduced(date) + loc.Longitude*math.Pi/180
	tilt := mgl32.HomogRotate3DX(float32(-loc.Latitude * math.Pi / 180)).
		Mul4(mgl32.HomogRotate3DZ(float32(math.Pi/2 - lst)))

	panning := mgl32.HomogRotate3DY(float32(pan.Y)).
		Mul4(mgl32.HomogRotate3DX(float32(pan.X))).
		Inv()

	return View{
		Projection: projection,
		Sky:        panning.Mul4(tilt),
		Ground:     panning,
	}
}
