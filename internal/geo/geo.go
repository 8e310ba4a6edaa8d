// Package geo implements the great-circle distance used by the radius query.
package geo

import "math"

// EarthRadiusMeters is the WGS84 equatorial radius.
const EarthRadiusMeters = 6378137

// Distance returns the great-circle distance in meters between two
// (longitude, latitude) points given in degrees, using the haversine formula.
func Distance(lng1, lat1, lng2, lat2 float64) float64 {
	const rad = math.Pi / 180
	phi1 := lat1 * rad
	phi2 := lat2 * rad
	dPhi := (lat2 - lat1) * rad
	dLambda := (lng2 - lng1) * rad

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
