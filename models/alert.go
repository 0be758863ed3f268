package models

import "time"

// Alert severity constants, totally ordered info < caution < warning <
// critical < emergency.
const (
	SeverityInfo      = "info"
	SeverityCaution   = "caution"
	SeverityWarning   = "warning"
	SeverityCritical  = "critical"
	SeverityEmergency = "emergency"
)

// SeverityLevel maps a severity to its escalation level (1-5).
// Unknown severities map to 0 so they sort below info.
func SeverityLevel(severity string) int {
	switch severity {
	case SeverityInfo:
		return 1
	case SeverityCaution:
		return 2
	case SeverityWarning:
		return 3
	case SeverityCritical:
		return 4
	case SeverityEmergency:
		return 5
	default:
		return 0
	}
}

// Alert category constants
const (
	CategoryDepth      = "depth"
	CategoryGrounding  = "grounding"
	CategoryNavigation = "navigation"
	CategoryWeather    = "weather"
	CategorySystem     = "system"
)

// Visual presentation styles, by increasing intrusiveness
const (
	VisualBanner     = "static_banner"
	VisualHighlight  = "highlighted_banner"
	VisualModal      = "modal"
	VisualFullScreen = "full_screen_flashing"
)

// AlertConfig is the per-severity intrusiveness configuration. It is
// regenerated whenever an alert escalates.
type AlertConfig struct {
	AudioPattern  string `json:"audioPattern"` // single_beep, double_beep, repeated_tone, alarm, continuous_horn
	AudioRepeat   int    `json:"audioRepeat"`  // 0 = until acknowledged
	Visual        string `json:"visual"`
	HapticPulses  int    `json:"hapticPulses"`
	HapticHeavy   bool   `json:"hapticHeavy"`
	AudioEnabled  bool   `json:"audioEnabled"`
	HapticEnabled bool   `json:"hapticEnabled"`
}

// SafetyAlert is a lifecycle-managed alert. Severity is monotonically
// non-decreasing after creation except through an explicit supersede.
type SafetyAlert struct {
	ID                string      `json:"id"`
	Severity          string      `json:"severity"`
	Category          string      `json:"category"`
	Title             string      `json:"title"`
	Message           string      `json:"message"`
	Position          *Location   `json:"position,omitempty"`
	EscalationLevel   int         `json:"escalationLevel"` // 1-5, derived from severity
	Config            AlertConfig `json:"config"`
	AckRequired       bool        `json:"acknowledgmentRequired"`
	Dismissible       bool        `json:"dismissible"`
	BroadcastRequired bool        `json:"broadcastRequired"`
	CreatedAt         time.Time   `json:"createdAt"`
	AcknowledgedAt    *time.Time  `json:"acknowledgedAt,omitempty"`
	DismissedAt       *time.Time  `json:"dismissedAt,omitempty"`
	AutoExpiry        *time.Time  `json:"autoExpiry,omitempty"`
}

// Active reports whether the alert can still escalate.
func (a SafetyAlert) Active() bool {
	return a.AcknowledgedAt == nil && a.DismissedAt == nil
}

// Escalation condition constants
const (
	ConditionNotAcknowledged = "not_acknowledged"
	ConditionStillActive     = "still_active"
)

// EscalationRule declares when an alert at (Category, Severity) escalates.
// An empty Category matches every category.
type EscalationRule struct {
	Category   string        `json:"category"`
	Severity   string        `json:"severity" validate:"required,severity"`
	After      time.Duration `json:"after"`
	EscalateTo string        `json:"escalateTo" validate:"required,severity"`
	Conditions []string      `json:"conditions"`
}

// Alert event types published to subscribers
const (
	AlertEventCreated      = "created"
	AlertEventEscalated    = "escalated"
	AlertEventAcknowledged = "acknowledged"
	AlertEventDismissed    = "dismissed"
	AlertEventExpired      = "expired"
	AlertEventSuperseded   = "superseded"
)

// AlertEvent is the immutable snapshot delivered to subscribers.
type AlertEvent struct {
	Type         string      `json:"type"`
	Alert        SafetyAlert `json:"alert"`
	FromSeverity string      `json:"fromSeverity,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Avoidance action types
const (
	ActionCourseChange   = "course_change"
	ActionSpeedReduction = "speed_reduction"
	ActionEmergencyStop  = "emergency_stop"
)

// AvoidanceAction is one candidate maneuver for avoiding a grounding.
type AvoidanceAction struct {
	Type               string  `json:"type"`
	Priority           int     `json:"priority"` // higher = more drastic
	HeadingChange      float64 `json:"headingChange,omitempty"` // degrees, signed
	SpeedFactor        float64 `json:"speedFactor,omitempty"`   // fraction of current speed
	MinProjectedDepth  float64 `json:"minProjectedDepth,omitempty"`
	StoppingDistance   float64 `json:"stoppingDistance,omitempty"` // meters
	SuccessProbability float64 `json:"successProbability"`
	Description        string  `json:"description"`
}

// GroundingAlert is one projected grounding hazard along the track.
type GroundingAlert struct {
	ID                string            `json:"id"`
	Severity          string            `json:"severity"`
	Position          Location          `json:"position"`
	EstimatedDepth    float64           `json:"estimatedDepth"`
	DepthRatio        float64           `json:"depthRatio"` // depth / draft
	TimeToImpact      time.Duration     `json:"timeToImpact"`
	DistanceToHazard  float64           `json:"distanceToHazard"` // meters
	Confidence        float64           `json:"confidence"`
	Actions           []AvoidanceAction `json:"actions"`
	RecommendedAction *AvoidanceAction  `json:"recommendedAction,omitempty"`
}

// ProtocolStep is one step of an emergency protocol. Automated steps run
// without operator action; TimeLimit bounds how long a step may wait for
// resolution before FallbackStep is attempted.
type ProtocolStep struct {
	ID           string        `json:"id"`
	Order        int           `json:"order"`
	Title        string        `json:"title"`
	Action       string        `json:"action"` // emergency_stop, contact_coast_guard, broadcast_mayday, ...
	Automated    bool          `json:"automated"`
	TimeLimit    time.Duration `json:"timeLimit,omitempty"`
	FallbackStep *ProtocolStep `json:"fallbackStep,omitempty"`
}

// EmergencyProtocol is a declarative step sequence activated when an alert
// reaches emergency severity.
type EmergencyProtocol struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Steps []ProtocolStep `json:"steps"`
}
