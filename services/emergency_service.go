package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"depthguard/config"
	"depthguard/interfaces"
	"depthguard/models"
	"depthguard/observability"
	"depthguard/utils"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

var (
	ErrIncidentNotFound   = errors.New("incident not found")
	ErrIncidentClosed     = errors.New("incident is already closed")
	ErrBackwardTransition = errors.New("incident status cannot move backward")
	ErrSessionNotFound    = errors.New("location sharing session not found")
)

// EmergencyService coordinates incident reporting, contact selection,
// notification dispatch with fallback, and location sharing sessions.
type EmergencyService struct {
	cfg       *config.Config
	clock     clockwork.Clock
	scheduler *utils.Scheduler
	validator *utils.ValidationService
	channels  map[string]interfaces.NotificationChannel // method -> transport
	metrics   *observability.Metrics

	mu        sync.RWMutex
	contacts  map[string]models.EmergencyContact
	incidents map[string]*models.EmergencyIncident
	sessions  map[string]*models.LocationSharingSession
}

func NewEmergencyService(cfg *config.Config, clock clockwork.Clock, channels map[string]interfaces.NotificationChannel, metrics *observability.Metrics) *EmergencyService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &EmergencyService{
		cfg:       cfg,
		clock:     clock,
		scheduler: utils.NewScheduler(clock),
		validator: utils.NewValidationService(),
		channels:  channels,
		metrics:   metrics,
		contacts:  make(map[string]models.EmergencyContact),
		incidents: make(map[string]*models.EmergencyIncident),
		sessions:  make(map[string]*models.LocationSharingSession),
	}
}

// =================== CONTACT REGISTRY ===================

// RegisterContact adds or replaces an emergency contact.
func (es *EmergencyService) RegisterContact(contact models.EmergencyContact) (models.EmergencyContact, error) {
	if errs := es.validator.ValidateStruct(contact); len(errs) > 0 {
		return models.EmergencyContact{}, fmt.Errorf("invalid contact: %s", errs[0].Message)
	}
	if contact.ID == "" {
		contact.ID = uuid.New().String()
	}
	es.mu.Lock()
	es.contacts[contact.ID] = contact
	es.mu.Unlock()
	return contact, nil
}

// RemoveContact deletes a contact from the registry.
func (es *EmergencyService) RemoveContact(id string) {
	es.mu.Lock()
	delete(es.contacts, id)
	es.mu.Unlock()
}

// SelectContacts returns the contacts eligible for an incident at the
// given location, ordered by priority descending and then by distance
// from the incident ascending.
func (es *EmergencyService) SelectContacts(location models.Location, vesselType, incidentType string, emergency bool) []models.EmergencyContact {
	es.mu.RLock()
	defer es.mu.RUnlock()

	type ranked struct {
		contact  models.EmergencyContact
		distance float64
	}
	var eligible []ranked
	for _, c := range es.contacts {
		d := utils.CalculateDistance(location.Latitude, location.Longitude,
			c.ServiceArea.Center.Latitude, c.ServiceArea.Center.Longitude)
		if d > c.ServiceArea.RadiusMeters {
			continue
		}
		if !capabilityMatches(c.Capabilities, vesselType, incidentType) {
			continue
		}
		if !es.availableNow(c.Availability, emergency) {
			continue
		}
		eligible = append(eligible, ranked{contact: c, distance: d})
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].contact.Priority != eligible[j].contact.Priority {
			return eligible[i].contact.Priority > eligible[j].contact.Priority
		}
		return eligible[i].distance < eligible[j].distance
	})

	contacts := make([]models.EmergencyContact, len(eligible))
	for i, r := range eligible {
		contacts[i] = r.contact
	}
	return contacts
}

func capabilityMatches(caps models.ContactCapabilities, vesselType, incidentType string) bool {
	vesselOK := len(caps.VesselTypes) == 0
	for _, vt := range caps.VesselTypes {
		if vt == "all" || vt == vesselType {
			vesselOK = true
			break
		}
	}
	if !vesselOK {
		return false
	}
	if len(caps.IncidentTypes) == 0 {
		return true
	}
	for _, it := range caps.IncidentTypes {
		if it == "all" || it == incidentType {
			return true
		}
	}
	return false
}

// availableNow evaluates a contact's availability against the engine
// clock. The emergency override admits off-hours contacts for mayday and
// critical incidents.
func (es *EmergencyService) availableNow(a models.Availability, emergency bool) bool {
	if a.TwentyFourSeven {
		return true
	}
	hour := es.clock.Now().Hour()
	inHours := false
	if a.StartHour <= a.EndHour {
		inHours = hour >= a.StartHour && hour < a.EndHour
	} else {
		// window wraps midnight
		inHours = hour >= a.StartHour || hour < a.EndHour
	}
	if inHours {
		return true
	}
	return emergency && a.EmergencyOverride
}

// =================== INCIDENT LIFECYCLE ===================

// ReportIncident opens an incident, notifies the selected contacts, and
// starts an emergency location sharing session. Notification dispatch
// runs asynchronously; the incident is returned immediately.
func (es *EmergencyService) ReportIncident(ctx context.Context, req models.ReportIncidentRequest) (*models.EmergencyIncident, error) {
	if errs := es.validator.ValidateStruct(req); len(errs) > 0 {
		return nil, fmt.Errorf("invalid incident report: %s", errs[0].Message)
	}
	if err := req.Location.Validate(); err != nil {
		return nil, err
	}

	now := es.clock.Now()
	incident := &models.EmergencyIncident{
		ID:          uuid.New().String(),
		Type:        req.Type,
		Severity:    req.Severity,
		Status:      models.IncidentReported,
		Location:    req.Location,
		Vessel:      req.Vessel,
		Description: req.Description,
		ReportedAt:  now,
		Updates: []models.IncidentUpdate{
			{Timestamp: now, Status: models.IncidentReported, Message: "incident reported"},
		},
	}

	emergency := incident.Severity == models.IncidentSeverityMayday || incident.Severity == models.IncidentSeverityCritical
	eligible := es.SelectContacts(req.Location, req.Vessel.Type, req.Type, emergency)
	targets := eligible[:contactCount(incident.Severity, len(eligible))]

	// Mayday and critical incidents stream the vessel's position to every
	// notified contact at full precision for the life of the incident.
	if emergency {
		interval := es.cfg.DefaultShareInterval
		if incident.Severity == models.IncidentSeverityMayday {
			interval = es.cfg.MaydayShareInterval
		}
		session := es.startSession(req.VesselID, incident.ID, contactIDs(targets), true, interval)
		incident.SharingSessionID = session.ID
	}

	es.mu.Lock()
	es.incidents[incident.ID] = incident
	es.mu.Unlock()

	if es.metrics != nil {
		es.metrics.ActiveIncidents.Inc()
	}
	logrus.WithFields(logrus.Fields{
		"incidentId": incident.ID,
		"type":       incident.Type,
		"severity":   incident.Severity,
	}).Warn("emergency incident reported")

	go es.notifyContacts(ctx, incident.ID, targets)

	return es.snapshotIncident(incident.ID)
}

func contactIDs(contacts []models.EmergencyContact) []string {
	ids := make([]string, len(contacts))
	for i, c := range contacts {
		ids[i] = c.ID
	}
	return ids
}

// contactCount returns how many contacts an incident notifies: every
// eligible contact for mayday and critical, three for high, one below.
func contactCount(severity string, eligible int) int {
	switch severity {
	case models.IncidentSeverityMayday, models.IncidentSeverityCritical:
		return eligible
	case models.IncidentSeverityHigh:
		if eligible < 3 {
			return eligible
		}
		return 3
	default:
		if eligible < 1 {
			return 0
		}
		return 1
	}
}

// notifyContacts walks the selected contacts and tries each contact's
// methods in preference order until one succeeds. Every attempt is
// recorded. Mayday and critical incidents get one retry round for
// contacts that could not be reached at all.
func (es *EmergencyService) notifyContacts(ctx context.Context, incidentID string, targets []models.EmergencyContact) {
	incident, err := es.snapshotIncident(incidentID)
	if err != nil {
		return
	}
	emergency := incident.Severity == models.IncidentSeverityMayday || incident.Severity == models.IncidentSeverityCritical

	if len(targets) == 0 {
		logrus.WithField("incidentId", incidentID).Error("no eligible emergency contacts")
		es.appendUpdate(incidentID, "", "no eligible contacts in service area")
		return
	}

	var unreached []models.EmergencyContact
	anySuccess := false
	for _, contact := range targets {
		if es.notifyContact(ctx, incidentID, contact, false) {
			anySuccess = true
		} else {
			unreached = append(unreached, contact)
		}
	}

	if anySuccess {
		// First confirmed delivery moves the incident forward.
		_ = es.UpdateIncidentStatus(incidentID, models.IncidentAcknowledged, "contact notified")
	}

	if emergency && len(unreached) > 0 {
		retry := append([]models.EmergencyContact(nil), unreached...)
		es.scheduler.Schedule(es.cfg.NotificationRetryDelay, func() {
			for _, contact := range retry {
				es.notifyContact(ctx, incidentID, contact, true)
			}
		})
	}
}

// notifyContact tries one contact's methods in preference order. Returns
// true when any method delivered.
func (es *EmergencyService) notifyContact(ctx context.Context, incidentID string, contact models.EmergencyContact, isRetry bool) bool {
	incident, err := es.snapshotIncident(incidentID)
	if err != nil || !incidentOpen(incident.Status) {
		return false
	}
	message := fmt.Sprintf("%s incident (%s) at %.4f, %.4f: %s",
		incident.Severity, incident.Type,
		incident.Location.Latitude, incident.Location.Longitude, incident.Description)

	for _, method := range contact.Methods() {
		channel, ok := es.channels[method]
		if !ok {
			continue
		}
		start := es.clock.Now()
		sendErr := channel.Send(ctx, contact, method, message)
		attempt := models.NotificationAttempt{
			ContactID:    contact.ID,
			Method:       method,
			Success:      sendErr == nil,
			ResponseTime: es.clock.Since(start),
			AttemptedAt:  start,
			Retry:        isRetry,
		}
		if sendErr != nil {
			attempt.Error = sendErr.Error()
		}
		es.recordAttempt(incidentID, contact.ID, attempt)

		if sendErr == nil {
			logrus.WithFields(logrus.Fields{
				"incidentId": incidentID,
				"contact":    contact.Name,
				"method":     method,
			}).Info("emergency contact notified")
			return true
		}
		logrus.WithFields(logrus.Fields{
			"incidentId": incidentID,
			"contact":    contact.Name,
			"method":     method,
			"error":      sendErr,
		}).Warn("notification attempt failed")
	}
	return false
}

func (es *EmergencyService) recordAttempt(incidentID, contactID string, attempt models.NotificationAttempt) {
	es.mu.Lock()
	incident, ok := es.incidents[incidentID]
	if ok {
		incident.Attempts = append(incident.Attempts, attempt)
		if attempt.Success && !contains(incident.ContactsNotified, contactID) {
			incident.ContactsNotified = append(incident.ContactsNotified, contactID)
		}
	}
	es.mu.Unlock()

	if es.metrics != nil {
		outcome := "failure"
		if attempt.Success {
			outcome = "success"
		}
		es.metrics.NotificationsTotal.WithLabelValues(attempt.Method, outcome).Inc()
	}
}

// UpdateIncidentStatus advances an incident along the forward-only status
// chain. Same-status updates append to the log without a transition.
func (es *EmergencyService) UpdateIncidentStatus(id, status, message string) error {
	rank := models.IncidentStatusRank(status)
	if rank < 0 {
		return fmt.Errorf("unknown incident status %q", status)
	}

	es.mu.Lock()
	defer es.mu.Unlock()
	incident, ok := es.incidents[id]
	if !ok {
		return ErrIncidentNotFound
	}
	if !incidentOpen(incident.Status) {
		return ErrIncidentClosed
	}
	current := models.IncidentStatusRank(incident.Status)
	if rank < current {
		return ErrBackwardTransition
	}
	if rank > current {
		incident.Status = status
	}
	incident.Updates = append(incident.Updates, models.IncidentUpdate{
		Timestamp: es.clock.Now(),
		Status:    incident.Status,
		Message:   message,
	})
	return nil
}

// ResolveIncident closes an incident with a resolution record and ends
// its emergency sharing session.
func (es *EmergencyService) ResolveIncident(id, outcome, summary string) error {
	es.mu.Lock()
	incident, ok := es.incidents[id]
	if !ok {
		es.mu.Unlock()
		return ErrIncidentNotFound
	}
	if !incidentOpen(incident.Status) {
		es.mu.Unlock()
		return ErrIncidentClosed
	}
	now := es.clock.Now()
	incident.Status = models.IncidentResolved
	incident.Resolution = &models.IncidentResolution{Outcome: outcome, Summary: summary, ResolvedAt: now}
	incident.Updates = append(incident.Updates, models.IncidentUpdate{
		Timestamp: now, Status: models.IncidentResolved, Message: summary,
	})
	sessionID := incident.SharingSessionID
	es.mu.Unlock()

	if sessionID != "" {
		_ = es.StopLocationSharing(sessionID)
	}
	if es.metrics != nil {
		es.metrics.ActiveIncidents.Dec()
	}
	logrus.WithFields(logrus.Fields{"incidentId": id, "outcome": outcome}).Info("incident resolved")
	return nil
}

// CancelIncident closes an incident as a false alarm or otherwise
// withdrawn report.
func (es *EmergencyService) CancelIncident(id, reason string) error {
	es.mu.Lock()
	incident, ok := es.incidents[id]
	if !ok {
		es.mu.Unlock()
		return ErrIncidentNotFound
	}
	if !incidentOpen(incident.Status) {
		es.mu.Unlock()
		return ErrIncidentClosed
	}
	incident.Status = models.IncidentCancelled
	incident.Updates = append(incident.Updates, models.IncidentUpdate{
		Timestamp: es.clock.Now(), Status: models.IncidentCancelled, Message: reason,
	})
	sessionID := incident.SharingSessionID
	es.mu.Unlock()

	if sessionID != "" {
		_ = es.StopLocationSharing(sessionID)
	}
	if es.metrics != nil {
		es.metrics.ActiveIncidents.Dec()
	}
	return nil
}

// GetIncident returns a snapshot of an incident.
func (es *EmergencyService) GetIncident(id string) (*models.EmergencyIncident, error) {
	return es.snapshotIncident(id)
}

// ActiveIncidents returns snapshots of all open incidents.
func (es *EmergencyService) ActiveIncidents() []models.EmergencyIncident {
	es.mu.RLock()
	defer es.mu.RUnlock()
	var out []models.EmergencyIncident
	for _, incident := range es.incidents {
		if incidentOpen(incident.Status) {
			out = append(out, snapshotOf(incident))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReportedAt.Before(out[j].ReportedAt) })
	return out
}

func (es *EmergencyService) snapshotIncident(id string) (*models.EmergencyIncident, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()
	incident, ok := es.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	copied := snapshotOf(incident)
	return &copied, nil
}

func snapshotOf(incident *models.EmergencyIncident) models.EmergencyIncident {
	copied := *incident
	copied.ContactsNotified = append([]string(nil), incident.ContactsNotified...)
	copied.Attempts = append([]models.NotificationAttempt(nil), incident.Attempts...)
	copied.Updates = append([]models.IncidentUpdate(nil), incident.Updates...)
	return copied
}

func (es *EmergencyService) appendUpdate(id, status, message string) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if incident, ok := es.incidents[id]; ok {
		incident.Updates = append(incident.Updates, models.IncidentUpdate{
			Timestamp: es.clock.Now(), Status: status, Message: message,
		})
	}
}

func incidentOpen(status string) bool {
	return status != models.IncidentResolved && status != models.IncidentCancelled
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// =================== LOCATION SHARING ===================

// StartLocationSharing opens a session streaming the vessel's position to
// the given contacts.
func (es *EmergencyService) StartLocationSharing(vesselID string, shareWith []string, emergency bool, expiresAt *time.Time) *models.LocationSharingSession {
	interval := es.cfg.DefaultShareInterval
	if emergency {
		interval = es.cfg.MaydayShareInterval
	}
	session := es.startSession(vesselID, "", shareWith, emergency, interval)
	if expiresAt != nil {
		es.mu.Lock()
		if stored, ok := es.sessions[session.ID]; ok {
			t := *expiresAt
			stored.ExpiresAt = &t
			session.ExpiresAt = &t
		}
		es.mu.Unlock()
		es.scheduler.Schedule(expiresAt.Sub(es.clock.Now()), func() {
			_ = es.StopLocationSharing(session.ID)
		})
	}
	return session
}

func (es *EmergencyService) startSession(vesselID, incidentID string, shareWith []string, emergency bool, interval time.Duration) *models.LocationSharingSession {
	permissions := make(map[string]string, len(shareWith))
	for _, contactID := range shareWith {
		// Emergency sessions always grant precise positions.
		if emergency {
			permissions[contactID] = models.AccessFull
		} else {
			permissions[contactID] = models.AccessApproximate
		}
	}
	session := &models.LocationSharingSession{
		ID:             uuid.New().String(),
		VesselID:       vesselID,
		IncidentID:     incidentID,
		ShareWith:      append([]string(nil), shareWith...),
		UpdateInterval: interval,
		Permissions:    permissions,
		Emergency:      emergency,
		StartedAt:      es.clock.Now(),
		Active:         true,
	}

	es.mu.Lock()
	es.sessions[session.ID] = session
	es.mu.Unlock()

	if es.metrics != nil {
		es.metrics.ActiveSessions.Inc()
	}
	return sessionSnapshot(session)
}

// PublishPosition records the vessel's latest position on its active
// sessions.
func (es *EmergencyService) PublishPosition(vesselID string, position models.Location) {
	es.mu.Lock()
	defer es.mu.Unlock()
	for _, session := range es.sessions {
		if session.Active && session.VesselID == vesselID {
			pos := position
			session.LastPosition = &pos
		}
	}
}

// StopLocationSharing ends a session. Stopping an already-ended session
// is an error.
func (es *EmergencyService) StopLocationSharing(id string) error {
	es.mu.Lock()
	session, ok := es.sessions[id]
	if !ok || !session.Active {
		es.mu.Unlock()
		return ErrSessionNotFound
	}
	session.Active = false
	now := es.clock.Now()
	session.ExpiresAt = &now
	es.mu.Unlock()

	if es.metrics != nil {
		es.metrics.ActiveSessions.Dec()
	}
	return nil
}

// GetSession returns a snapshot of a sharing session.
func (es *EmergencyService) GetSession(id string) (*models.LocationSharingSession, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()
	session, ok := es.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sessionSnapshot(session), nil
}

func sessionSnapshot(session *models.LocationSharingSession) *models.LocationSharingSession {
	copied := *session
	copied.ShareWith = append([]string(nil), session.ShareWith...)
	perms := make(map[string]string, len(session.Permissions))
	for k, v := range session.Permissions {
		perms[k] = v
	}
	copied.Permissions = perms
	return &copied
}

// =================== ALERT ESCALATION HOOK ===================

// HandleEmergencyAlert converts an emergency-severity alert into a mayday
// incident. It implements the escalator hook the alert hierarchy calls.
func (es *EmergencyService) HandleEmergencyAlert(ctx context.Context, alert models.SafetyAlert) {
	location := models.Location{}
	if alert.Position != nil {
		location = *alert.Position
	}
	incidentType := models.IncidentGrounding
	if alert.Category != models.CategoryGrounding && alert.Category != models.CategoryDepth {
		incidentType = models.IncidentMayday
	}

	_, err := es.ReportIncident(ctx, models.ReportIncidentRequest{
		Type:        incidentType,
		Severity:    models.IncidentSeverityMayday,
		Location:    location,
		Vessel:      models.VesselProfile{Draft: 1, Length: 1, Type: models.VesselTypeAll},
		Description: fmt.Sprintf("auto-escalated from alert: %s", alert.Title),
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"alertId": alert.ID,
			"error":   err,
		}).Error("failed to open incident from escalated alert")
	}
}
