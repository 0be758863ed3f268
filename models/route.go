package models

import "time"

// Risk level constants, ordered
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// RiskLevelRank returns the ordering rank of a risk level (low=0).
func RiskLevelRank(level string) int {
	switch level {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return 0
	}
}

// RiskFactor is one contributor to the aggregate route risk.
type RiskFactor struct {
	Name        string  `json:"name"` // depth, weather, navigation
	Level       string  `json:"level"`
	Score       float64 `json:"score"` // 0-1
	Description string  `json:"description"`
}

// RiskAssessment aggregates per-factor risks. Overall is the maximum
// severity across factors.
type RiskAssessment struct {
	Overall          string       `json:"overall"`
	Factors          []RiskFactor `json:"factors"`
	ContingencyPlans []string     `json:"contingencyPlans,omitempty"`
}

// AlternativeWaypoint is a nearby candidate substituted for a waypoint
// that failed validation.
type AlternativeWaypoint struct {
	Location          Location `json:"location"`
	EstimatedDepth    *float64 `json:"estimatedDepth"`
	Confidence        float64  `json:"confidence"`
	SafetyImprovement float64  `json:"safetyImprovement"`
}

// RouteWaypoint is one validated point on a planned route. Waypoints are
// owned exclusively by the SafeRoute that contains them.
type RouteWaypoint struct {
	Location         Location              `json:"location"`
	EstimatedDepth   *float64              `json:"estimatedDepth"`
	SafetyMargin     *float64              `json:"safetyMargin"`
	Confidence       float64               `json:"confidence"`
	ETA              time.Time             `json:"eta"`
	RecommendedSpeed float64               `json:"recommendedSpeed"` // knots
	Heading          float64               `json:"heading"`          // degrees to next waypoint
	Hazards          []string              `json:"hazards,omitempty"`
	Alternatives     []AlternativeWaypoint `json:"alternatives,omitempty"`
}

// SafeRoute is a validated waypoint sequence. AlternativeRoutes is a flat
// list capped at one level: members never carry alternatives of their own.
type SafeRoute struct {
	ID                string          `json:"id"`
	Waypoints         []RouteWaypoint `json:"waypoints"`
	TotalDistance     float64         `json:"totalDistance"` // meters
	EstimatedDuration time.Duration   `json:"estimatedDuration"`
	SafetyScore       float64         `json:"safetyScore"` // 0-1
	Confidence        float64         `json:"confidence"`
	RiskAssessment    RiskAssessment  `json:"riskAssessment"`
	AlternativeRoutes []*SafeRoute    `json:"alternativeRoutes,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// RouteOptions tunes route planning.
type RouteOptions struct {
	CruiseSpeedKnots    int  // defaults to 8 when zero
	IncludeAlternatives bool // generate up to 3 alternative routes
	SkipCache           bool
}

// Recommendation acceptance modes
const (
	AcceptanceAutomatic    = "automatic"
	AcceptanceUserApproval = "user_approval"
)

// RouteRecommendation is a corrective suggestion raised during monitoring.
// Expired recommendations must be discarded, never acted on.
type RouteRecommendation struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"` // course_correction, speed_adjustment
	Message    string    `json:"message"`
	Acceptance string    `json:"acceptance"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Route event types raised during monitoring
const (
	RouteEventDeviation = "route_deviation"
	RouteEventSpeed     = "speed_variance"
	RouteEventArrival   = "waypoint_arrival"
)

// RouteEvent is a monitoring finding the caller may raise into the alert
// hierarchy.
type RouteEvent struct {
	Type     string `json:"type"`
	Severity string `json:"severity"` // alert severity string
	Message  string `json:"message"`
}

// NavigationStatus is the immutable snapshot published on every
// monitoring tick.
type NavigationStatus struct {
	Timestamp            time.Time             `json:"timestamp"`
	Position             Location              `json:"position"`
	CurrentWaypointIndex int                   `json:"currentWaypointIndex"`
	NextWaypointIndex    int                   `json:"nextWaypointIndex"`
	DistanceToWaypoint   float64               `json:"distanceToWaypoint"` // meters
	TimeToWaypoint       time.Duration         `json:"timeToWaypoint"`
	RouteDeviation       float64               `json:"routeDeviation"` // meters off planned track
	SpeedVariance        float64               `json:"speedVariance"`  // knots vs recommended
	OnTrack              bool                  `json:"onTrack"`
	Recommendations      []RouteRecommendation `json:"recommendations,omitempty"`
	Events               []RouteEvent          `json:"events,omitempty"`
}
