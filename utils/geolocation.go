package utils

import (
	"math"
)

const (
	EarthRadiusM = 6371000.0
	DegToRad     = math.Pi / 180.0
	RadToDeg     = 180.0 / math.Pi

	// MinDistanceM is the floor applied before any inverse-distance
	// weighting so a sample at the query point cannot divide by zero.
	MinDistanceM = 1.0
)

// CalculateDistance returns the great-circle distance in meters between
// two coordinates using the Haversine formula.
func CalculateDistance(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * DegToRad
	lat2Rad := lat2 * DegToRad

	dlat := (lat2 - lat1) * DegToRad
	dlon := (lon2 - lon1) * DegToRad

	a := math.Sin(dlat/2)*math.Sin(dlat/2) + math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusM * c
}

// CalculateBearing returns the initial bearing in degrees (0-360) from the
// first coordinate to the second.
func CalculateBearing(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * DegToRad
	lat2Rad := lat2 * DegToRad
	dlon := (lon2 - lon1) * DegToRad

	y := math.Sin(dlon) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) - math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(dlon)

	bearing := math.Atan2(y, x) * RadToDeg
	return math.Mod(bearing+360, 360)
}

// DestinationPoint projects a point from (lat, lon) along the given bearing
// for the given distance in meters.
func DestinationPoint(lat, lon, bearingDeg, distanceM float64) (float64, float64) {
	latRad := lat * DegToRad
	lonRad := lon * DegToRad
	brgRad := bearingDeg * DegToRad
	angular := distanceM / EarthRadiusM

	destLat := math.Asin(math.Sin(latRad)*math.Cos(angular) + math.Cos(latRad)*math.Sin(angular)*math.Cos(brgRad))
	destLon := lonRad + math.Atan2(
		math.Sin(brgRad)*math.Sin(angular)*math.Cos(latRad),
		math.Cos(angular)-math.Sin(latRad)*math.Sin(destLat),
	)

	destLonDeg := math.Mod(destLon*RadToDeg+540, 360) - 180
	return destLat * RadToDeg, destLonDeg
}

// IntermediatePoint returns the point at the given fraction (0-1) along the
// great-circle track from the first coordinate to the second.
func IntermediatePoint(lat1, lon1, lat2, lon2, fraction float64) (float64, float64) {
	if fraction <= 0 {
		return lat1, lon1
	}
	if fraction >= 1 {
		return lat2, lon2
	}

	distance := CalculateDistance(lat1, lon1, lat2, lon2)
	if distance < MinDistanceM {
		return lat1, lon1
	}
	bearing := CalculateBearing(lat1, lon1, lat2, lon2)
	return DestinationPoint(lat1, lon1, bearing, distance*fraction)
}

// CrossTrackDistance returns the perpendicular distance in meters from a
// point to the great-circle track between start and end. The sign is
// dropped; only the magnitude matters for deviation checks.
func CrossTrackDistance(lat, lon, startLat, startLon, endLat, endLon float64) float64 {
	d13 := CalculateDistance(startLat, startLon, lat, lon) / EarthRadiusM
	theta13 := CalculateBearing(startLat, startLon, lat, lon) * DegToRad
	theta12 := CalculateBearing(startLat, startLon, endLat, endLon) * DegToRad

	xt := math.Asin(math.Sin(d13) * math.Sin(theta13-theta12))
	return math.Abs(xt * EarthRadiusM)
}

// KnotsToMps converts knots to meters per second.
func KnotsToMps(knots float64) float64 {
	return knots * 0.514444
}

// MpsToKnots converts meters per second to knots.
func MpsToKnots(mps float64) float64 {
	return mps / 0.514444
}

// IsValidCoordinate checks if latitude and longitude values are valid.
func IsValidCoordinate(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// GetQuadrant returns the quadrant (NE, NW, SE, SW) of the second point
// relative to the first. Used to measure spatial coverage of a sample set.
func GetQuadrant(centerLat, centerLon, lat, lon float64) string {
	if lat >= centerLat && lon >= centerLon {
		return "NE"
	} else if lat >= centerLat && lon < centerLon {
		return "NW"
	} else if lat < centerLat && lon >= centerLon {
		return "SE"
	}
	return "SW"
}
