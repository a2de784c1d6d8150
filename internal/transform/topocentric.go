package transform

import "math"

// WGS-84 ellipsoid parameters.
const (
	wgs84A  = 6378137.0             // semi-major axis (meters)
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

// EarthMeanRadiusKm is the spherical Earth used for orbit altitudes and the
// shadow cone.
const EarthMeanRadiusKm = 6371.135

// ObserverPosition holds a ground observer's location in both geodetic and
// ECEF frames. The ECEF coordinates are computed once per propagation round
// and reused for every satellite.
type ObserverPosition struct {
	LatRad, LonRad, AltM float64
	ECEFx, ECEFy, ECEFz  float64 // meters
}

// LookAngles is the direction and distance from an observer to a satellite.
// Azimuth is measured clockwise from North in [0, 2π); elevation is in
// [-π/2, π/2] with 0 on the geometric horizon.
type LookAngles struct {
	Azimuth   float64 // rad
	Elevation float64 // rad
	RangeKm   float64
}

// AzimuthDeg returns the azimuth in degrees.
func (la LookAngles) AzimuthDeg() float64 { return la.Azimuth * 180.0 / math.Pi }

// ElevationDeg returns the elevation in degrees.
func (la LookAngles) ElevationDeg() float64 { return la.Elevation * 180.0 / math.Pi }

// NewObserverPosition creates an ObserverPosition from geodetic coordinates.
// Latitude and longitude are in degrees, altitude in meters above the WGS-84 ellipsoid.
func NewObserverPosition(latDeg, lonDeg, altM float64) ObserverPosition {
	lat := latDeg * math.Pi / 180.0
	lon := lonDeg * math.Pi / 180.0

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)

	// Radius of curvature in the prime vertical.
	N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return ObserverPosition{
		LatRad: lat,
		LonRad: lon,
		AltM:   altM,
		ECEFx:  (N + altM) * cosLat * math.Cos(lon),
		ECEFy:  (N + altM) * cosLat * math.Sin(lon),
		ECEFz:  (N*(1-wgs84E2) + altM) * sinLat,
	}
}

// GeodeticPoint holds a geodetic position (latitude/longitude in degrees, altitude in meters).
type GeodeticPoint struct {
	LatDeg, LonDeg, AltM float64
}

// ECEFToGeodetic converts ECEF coordinates (meters) to geodetic coordinates
// using Bowring's iteration.
func ECEFToGeodetic(x, y, z float64) GeodeticPoint {
	lon := math.Atan2(y, x)
	p := math.Sqrt(x*x + y*y)
	lat := math.Atan2(z, p*(1-wgs84E2))

	for i := 0; i < 5; i++ {
		sinLat := math.Sin(lat)
		N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		lat = math.Atan2(z+wgs84E2*N*sinLat, p)
	}

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)
	N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = p/cosLat - N
	} else {
		alt = math.Abs(z)/math.Abs(sinLat) - N*(1-wgs84E2)
	}

	return GeodeticPoint{
		LatDeg: lat * 180.0 / math.Pi,
		LonDeg: lon * 180.0 / math.Pi,
		AltM:   alt,
	}
}

// ECEFToLookAngles computes look angles from an observer to a satellite given
// in ECEF meters, via the SEZ (South-East-Zenith) rotation of Vallado §4.4.
// The result is undefined when the satellite coincides with the observer.
func ECEFToLookAngles(obs ObserverPosition, satX, satY, satZ float64) LookAngles {
	rx := satX - obs.ECEFx
	ry := satY - obs.ECEFy
	rz := satZ - obs.ECEFz

	sinLat := math.Sin(obs.LatRad)
	cosLat := math.Cos(obs.LatRad)
	sinLon := math.Sin(obs.LonRad)
	cosLon := math.Cos(obs.LonRad)

	south := sinLat*cosLon*rx + sinLat*sinLon*ry - cosLat*rz
	east := -sinLon*rx + cosLon*ry
	zenith := cosLat*cosLon*rx + cosLat*sinLon*ry + sinLat*rz

	rangeMag := math.Sqrt(south*south + east*east + zenith*zenith)

	el := math.Asin(zenith / rangeMag)

	// North is -South in SEZ.
	az := math.Atan2(east, -south)
	if az < 0 {
		az += 2 * math.Pi
	}

	return LookAngles{
		Azimuth:   az,
		Elevation: el,
		RangeKm:   rangeMag / 1000.0,
	}
}
