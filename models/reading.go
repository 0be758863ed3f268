package models

import "time"

// Depth reading source constants
const (
	SourceOfficial    = "official"
	SourceCrowdsource = "crowdsource"
	SourcePredicted   = "predicted"
	SourceSensor      = "sensor"
)

// DepthReading is a single sounding. Readings are immutable once created;
// the engine only reads them, it never persists or mutates them.
type DepthReading struct {
	ID          string    `json:"id"`
	Location    Location  `json:"location"`
	Depth       float64   `json:"depth" validate:"gte=0"` // meters below surface
	Confidence  float64   `json:"confidence" validate:"gte=0,lte=1"`
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source" validate:"oneof=official crowdsource predicted sensor"`
	VesselDraft *float64  `json:"vesselDraft,omitempty"`
	UserID      string    `json:"userId,omitempty"`
}

// Vessel type constants
const (
	VesselTypeSailboat  = "sailboat"
	VesselTypePowerboat = "powerboat"
	VesselTypeFishing   = "fishing"
	VesselTypeCargo     = "cargo"
	VesselTypeAll       = "all"
)

// VesselProfile describes the vessel every safety computation is keyed off.
// Draft is the single most safety-critical scalar.
type VesselProfile struct {
	Draft        float64 `json:"draft" validate:"gt=0"`  // meters
	Length       float64 `json:"length" validate:"gt=0"` // meters
	Beam         float64 `json:"beam,omitempty"`         // meters
	Displacement float64 `json:"displacement,omitempty"` // kilograms
	Type         string  `json:"type,omitempty"`
}
