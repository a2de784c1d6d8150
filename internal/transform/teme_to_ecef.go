// Package transform provides the coordinate frame math used by the propagation
// pipeline: sidereal time, TEME to Earth-fixed rotation, observer-relative look
// angles and the Cartesian conventions shared with the renderer.
//
// TEME to ECEF uses a GMST-only rotation (TEME → PEF ≈ ECEF). Polar motion and
// the equation of the equinoxes are ignored; the error stays well under a
// kilometre, which is invisible at sky-view scale.
//
// Reference: Vallado, "Fundamentals of Astrodynamics and Applications", Ch. 3.
package transform

import (
	"math"
	"time"
)

// PositionTEME represents a satellite position and velocity in the TEME frame.
type PositionTEME struct {
	X, Y, Z    float64 // km
	VX, VY, VZ float64 // km/s
}

// Magnitude returns the geocentric distance in km.
func (p PositionTEME) Magnitude() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}

// PositionECEF represents a satellite position and velocity in the ECEF frame.
type PositionECEF struct {
	X, Y, Z    float64 // meters
	VX, VY, VZ float64 // m/s
}

// TEMEToECEF transforms a TEME position/velocity to ECEF at the given UTC time.
// Input: TEME in km and km/s.
// Output: ECEF in meters and m/s.
func TEMEToECEF(teme PositionTEME, t time.Time) PositionECEF {
	return TEMEToECEFWithGMST(teme, GMST(t))
}

// TEMEToECEFWithGMST transforms TEME to ECEF using a precomputed GMST angle
// (radians). Callers propagating many satellites to one instant compute GMST
// once per round.
//
//	r_ECEF = R3(θ) * r_TEME
//	v_ECEF = R3(θ) * v_TEME - ω × r_ECEF
func TEMEToECEFWithGMST(teme PositionTEME, gmst float64) PositionECEF {
	cosG := math.Cos(gmst)
	sinG := math.Sin(gmst)

	xECEF := teme.X*cosG + teme.Y*sinG
	yECEF := -teme.X*sinG + teme.Y*cosG
	zECEF := teme.Z

	vxRot := teme.VX*cosG + teme.VY*sinG
	vyRot := -teme.VX*sinG + teme.VY*cosG

	// ω × r_ECEF = [-ω*y, ω*x, 0]
	vxECEF := vxRot + OmegaEarth*yECEF
	vyECEF := vyRot - OmegaEarth*xECEF

	return PositionECEF{
		X:  xECEF * 1000.0,
		Y:  yECEF * 1000.0,
		Z:  zECEF * 1000.0,
		VX: vxECEF * 1000.0,
		VY: vyECEF * 1000.0,
		VZ: teme.VZ * 1000.0,
	}
}

// MinOrbitRadiusKm is the geocentric distance below which a propagated
// satellite is treated as decayed.
const MinOrbitRadiusKm = 6200.0
