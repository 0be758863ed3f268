package models

import "time"

// Validation method constants
const (
	MethodOfficialChart    = "official_chart"
	MethodInterpolation    = "interpolation"
	MethodMLPrediction     = "ml_prediction"
	MethodInsufficientData = "insufficient_data"
)

// Quality pattern types flagged by the statistical analysis
const (
	PatternOutlier               = "outlier"
	PatternExtremeOutlier        = "extreme_outlier"
	PatternTemporalInconsistency = "temporal_inconsistency"
	PatternUserReliabilitySkew   = "user_reliability_skew"
)

// QualityPattern describes one statistical anomaly found in a reading set.
// ReadingIDs is empty for set-wide patterns that cannot be pinned to
// specific readings (those downweight confidence instead of excluding data).
type QualityPattern struct {
	Type        string   `json:"type"`
	Severity    string   `json:"severity"` // low, medium, high
	Description string   `json:"description"`
	ReadingIDs  []string `json:"readingIds,omitempty"`
}

// QualityMetrics summarizes the statistical health of the reading set a
// validation was computed from.
type QualityMetrics struct {
	ReadingCount    int              `json:"readingCount"`
	OutlierCount    int              `json:"outlierCount"`
	OutlierFraction float64          `json:"outlierFraction"`
	SpatialCoverage float64          `json:"spatialCoverage"` // 0-1, quadrant coverage around the query point
	MeanConfidence  float64          `json:"meanConfidence"`
	MeanAge         time.Duration    `json:"meanAge"`
	Patterns        []QualityPattern `json:"patterns,omitempty"`
}

// ValidationResult is the outcome of validating a position against a
// vessel draft. EstimatedDepth and SafetyMargin are nil when no estimate
// could be produced; they are never sentinel numbers.
type ValidationResult struct {
	IsValid         bool           `json:"isValid"`
	Confidence      float64        `json:"confidence"`
	EstimatedDepth  *float64       `json:"estimatedDepth"`
	SafetyMargin    *float64       `json:"safetyMargin"`
	Quality         QualityMetrics `json:"qualityMetrics"`
	Method          string         `json:"validationMethod"`
	Warnings        []string       `json:"warnings,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	ComputedAt      time.Time      `json:"computedAt"`
}

// ValidateRequest is the boundary input for a depth validation query.
type ValidateRequest struct {
	Position    Location       `json:"position" validate:"required"`
	VesselDraft float64        `json:"vesselDraft" validate:"gt=0"`
	Readings    []DepthReading `json:"readings"`
	Chart       []DepthReading `json:"chart,omitempty"` // official chart soundings, may be nil
	SkipCache   bool           `json:"skipCache,omitempty"`
}
