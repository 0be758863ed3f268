package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateDistance(t *testing.T) {
	// Golden Gate Bridge to Alcatraz, roughly 4.3km
	d := CalculateDistance(37.8199, -122.4783, 37.8267, -122.4233)
	assert.InDelta(t, 4900, d, 200)

	// Same point is distance zero
	assert.Equal(t, 0.0, CalculateDistance(37.8199, -122.4783, 37.8199, -122.4783))
}

func TestCalculateDistanceShortRange(t *testing.T) {
	// ~111m per 0.001 degree of latitude
	d := CalculateDistance(37.0, -122.0, 37.001, -122.0)
	assert.InDelta(t, 111, d, 2)
}

func TestCalculateBearing(t *testing.T) {
	// Due north
	b := CalculateBearing(37.0, -122.0, 38.0, -122.0)
	assert.InDelta(t, 0, b, 0.5)

	// Due east
	b = CalculateBearing(0, 0, 0, 1)
	assert.InDelta(t, 90, b, 0.5)

	// Due south
	b = CalculateBearing(38.0, -122.0, 37.0, -122.0)
	assert.InDelta(t, 180, b, 0.5)
}

func TestDestinationPoint(t *testing.T) {
	lat, lon := DestinationPoint(37.0, -122.0, 0, 1000)
	assert.Greater(t, lat, 37.0)
	assert.InDelta(t, -122.0, lon, 0.0001)

	// Round trip: destination point should be the given distance away
	d := CalculateDistance(37.0, -122.0, lat, lon)
	assert.InDelta(t, 1000, d, 1)
}

func TestIntermediatePoint(t *testing.T) {
	// Midpoint of a meridian segment
	lat, lon := IntermediatePoint(36.0, -122.0, 38.0, -122.0, 0.5)
	assert.InDelta(t, 37.0, lat, 0.01)
	assert.InDelta(t, -122.0, lon, 0.01)

	// Fraction 0 and 1 return the endpoints
	lat, lon = IntermediatePoint(36.0, -122.0, 38.0, -121.0, 0)
	assert.InDelta(t, 36.0, lat, 1e-9)
	assert.InDelta(t, -122.0, lon, 1e-9)
	lat, lon = IntermediatePoint(36.0, -122.0, 38.0, -121.0, 1)
	assert.InDelta(t, 38.0, lat, 1e-9)
	assert.InDelta(t, -121.0, lon, 1e-9)
}

func TestCrossTrackDistance(t *testing.T) {
	// Point on the track has zero cross-track distance
	d := CrossTrackDistance(37.0, -122.0, 36.0, -122.0, 38.0, -122.0)
	assert.InDelta(t, 0, d, 1)

	// Point east of a northbound track
	d = CrossTrackDistance(37.0, -121.99, 36.0, -122.0, 38.0, -122.0)
	assert.InDelta(t, 890, d, 30)
}

func TestSpeedConversions(t *testing.T) {
	assert.InDelta(t, 5.144, KnotsToMps(10), 0.01)
	assert.InDelta(t, 10, MpsToKnots(KnotsToMps(10)), 1e-9)
}

func TestIsValidCoordinate(t *testing.T) {
	assert.True(t, IsValidCoordinate(0, 0))
	assert.True(t, IsValidCoordinate(-90, 180))
	assert.False(t, IsValidCoordinate(90.1, 0))
	assert.False(t, IsValidCoordinate(0, -180.1))
}

func TestGetQuadrant(t *testing.T) {
	assert.Equal(t, "NE", GetQuadrant(37.0, -122.0, 37.5, -121.5))
	assert.Equal(t, "NW", GetQuadrant(37.0, -122.0, 37.5, -122.5))
	assert.Equal(t, "SE", GetQuadrant(37.0, -122.0, 36.5, -121.5))
	assert.Equal(t, "SW", GetQuadrant(37.0, -122.0, 36.5, -122.5))
}
