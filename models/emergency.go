package models

import "time"

// Incident type constants
const (
	IncidentGrounding   = "grounding"
	IncidentCollision   = "collision"
	IncidentMedical     = "medical"
	IncidentFire        = "fire"
	IncidentTakingWater = "taking_water"
	IncidentMayday      = "mayday"
)

// Incident severity constants
const (
	IncidentSeverityMayday   = "mayday"
	IncidentSeverityCritical = "critical"
	IncidentSeverityHigh     = "high"
	IncidentSeverityMedium   = "medium"
	IncidentSeverityLow      = "low"
)

// Incident status constants. The state machine is forward-only:
// reported -> acknowledged -> responding -> on_scene -> resolved, with
// cancellation as the only escape hatch.
const (
	IncidentReported     = "reported"
	IncidentAcknowledged = "acknowledged"
	IncidentResponding   = "responding"
	IncidentOnScene      = "on_scene"
	IncidentResolved     = "resolved"
	IncidentCancelled    = "cancelled"
)

// IncidentStatusRank returns the forward ordering of a status, or -1 for
// cancelled/unknown which sit outside the forward chain.
func IncidentStatusRank(status string) int {
	switch status {
	case IncidentReported:
		return 0
	case IncidentAcknowledged:
		return 1
	case IncidentResponding:
		return 2
	case IncidentOnScene:
		return 3
	case IncidentResolved:
		return 4
	default:
		return -1
	}
}

// Notification method constants, in dispatch preference order.
const (
	MethodPhone = "phone"
	MethodVHF   = "vhf"
	MethodEmail = "email"
	MethodSMS   = "sms"
)

// NotificationAttempt records one delivery attempt to a contact. Failed
// attempts are never silently dropped.
type NotificationAttempt struct {
	ContactID    string        `json:"contactId"`
	Method       string        `json:"method"`
	Success      bool          `json:"success"`
	ResponseTime time.Duration `json:"responseTime"`
	Error        string        `json:"error,omitempty"`
	AttemptedAt  time.Time     `json:"attemptedAt"`
	Retry        bool          `json:"retry"`
}

// IncidentUpdate is one entry in the incident's append-only log.
type IncidentUpdate struct {
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message"`
}

// IncidentResolution records the outcome when an incident is resolved.
type IncidentResolution struct {
	Outcome    string    `json:"outcome"`
	Summary    string    `json:"summary"`
	ResolvedAt time.Time `json:"resolvedAt"`
}

// EmergencyIncident is a lifecycle-managed emergency. It is owned by the
// coordinator; other components see snapshots only.
type EmergencyIncident struct {
	ID               string                `json:"id"`
	Type             string                `json:"type"`
	Severity         string                `json:"severity"`
	Status           string                `json:"status"`
	Location         Location              `json:"location"`
	Vessel           VesselProfile         `json:"vessel"`
	Description      string                `json:"description"`
	ContactsNotified []string              `json:"contactsNotified"`
	Attempts         []NotificationAttempt `json:"attempts"`
	Updates          []IncidentUpdate      `json:"updates"`
	Resolution       *IncidentResolution   `json:"resolution,omitempty"`
	SharingSessionID string                `json:"sharingSessionId,omitempty"`
	ReportedAt       time.Time             `json:"reportedAt"`
}

// ServiceArea is the circular coverage area of an emergency contact.
type ServiceArea struct {
	Center        Location `json:"center"`
	RadiusMeters  float64  `json:"radiusMeters"`
	Jurisdictions []string `json:"jurisdictions,omitempty"`
}

// Availability describes when a contact can be reached. A contact is
// reachable around the clock, within scheduled hours, or whenever the
// emergency override applies.
type Availability struct {
	TwentyFourSeven   bool `json:"twentyFourSeven"`
	StartHour         int  `json:"startHour"` // 0-23, local to the engine clock
	EndHour           int  `json:"endHour"`
	EmergencyOverride bool `json:"emergencyOverride"`
}

// ContactCapabilities lists what a contact can handle.
type ContactCapabilities struct {
	VesselTypes   []string `json:"vesselTypes"` // or "all"
	IncidentTypes []string `json:"incidentTypes,omitempty"`
}

// EmergencyContact is read-mostly reference data describing one party the
// coordinator can notify.
type EmergencyContact struct {
	ID           string              `json:"id"`
	Name         string              `json:"name" validate:"required"`
	Priority     int                 `json:"priority" validate:"gte=1,lte=10"`
	ServiceArea  ServiceArea         `json:"serviceArea"`
	Availability Availability        `json:"availability"`
	Capabilities ContactCapabilities `json:"capabilities"`
	Phone        string              `json:"phone,omitempty"`
	VHFChannel   int                 `json:"vhfChannel,omitempty"`
	Email        string              `json:"email,omitempty" validate:"omitempty,email"`
}

// Methods returns the contact's reachable methods in dispatch preference
// order: phone, VHF, email.
func (c EmergencyContact) Methods() []string {
	var methods []string
	if c.Phone != "" {
		methods = append(methods, MethodPhone)
	}
	if c.VHFChannel > 0 {
		methods = append(methods, MethodVHF)
	}
	if c.Email != "" {
		methods = append(methods, MethodEmail)
	}
	return methods
}

// Location share access levels
const (
	AccessFull        = "full"
	AccessApproximate = "approximate"
)

// LocationSharingSession streams a vessel's position to a set of contacts.
// It ends at an explicit stop or at expiry.
type LocationSharingSession struct {
	ID             string            `json:"id"`
	VesselID       string            `json:"vesselId"`
	IncidentID     string            `json:"incidentId,omitempty"`
	ShareWith      []string          `json:"shareWith"` // contact IDs
	UpdateInterval time.Duration     `json:"updateInterval"`
	Permissions    map[string]string `json:"permissions"` // contactID -> access level
	Emergency      bool              `json:"emergency"`
	StartedAt      time.Time         `json:"startedAt"`
	ExpiresAt      *time.Time        `json:"expiresAt,omitempty"`
	Active         bool              `json:"active"`
	LastPosition   *Location         `json:"lastPosition,omitempty"`
}

// ReportIncidentRequest is the boundary input for reporting an incident.
type ReportIncidentRequest struct {
	Type        string        `json:"type" validate:"required,oneof=grounding collision medical fire taking_water mayday"`
	Severity    string        `json:"severity" validate:"required,oneof=mayday critical high medium low"`
	Location    Location      `json:"location" validate:"required"`
	Vessel      VesselProfile `json:"vessel" validate:"required"`
	VesselID    string        `json:"vesselId,omitempty"`
	Description string        `json:"description,omitempty"`
}
