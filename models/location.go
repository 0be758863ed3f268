package models

import (
	"errors"
	"time"
)

var (
	ErrInvalidCoordinate = errors.New("coordinate out of range")
	ErrInvalidDraft      = errors.New("vessel draft must be positive")
)

// Location is a geographic fix. Accuracy, Heading, and SpeedKnots are
// optional because most depth readings carry only a position.
type Location struct {
	Latitude   float64   `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude  float64   `json:"longitude" validate:"coordinate"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
	SpeedKnots *float64  `json:"speedKnots,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// Validate enforces the basic coordinate invariants. Callers must reject
// out-of-range positions before handing them to any engine.
func (l Location) Validate() error {
	if l.Latitude < -90 || l.Latitude > 90 || l.Longitude < -180 || l.Longitude > 180 {
		return ErrInvalidCoordinate
	}
	return nil
}

// HeadingOrZero returns the heading if present, otherwise 0.
func (l Location) HeadingOrZero() float64 {
	if l.Heading != nil {
		return *l.Heading
	}
	return 0
}

// SpeedOrZero returns the speed in knots if present, otherwise 0.
func (l Location) SpeedOrZero() float64 {
	if l.SpeedKnots != nil {
		return *l.SpeedKnots
	}
	return 0
}
