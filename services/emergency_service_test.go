package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"depthguard/interfaces"
	"depthguard/models"
	"depthguard/observability"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChannel records delivery attempts and fails for contacts listed in
// failFor.
type fakeChannel struct {
	mu      sync.Mutex
	sent    []string // "contactID/method"
	failFor map[string]bool
}

func (f *fakeChannel) Send(ctx context.Context, contact models.EmergencyContact, method, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, contact.ID+"/"+method)
	if f.failFor[contact.ID] {
		return errors.New("unreachable")
	}
	return nil
}

func (f *fakeChannel) deliveries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func coastGuardContact(id string, priority int, center models.Location, radius float64) models.EmergencyContact {
	return models.EmergencyContact{
		ID:       id,
		Name:     "Coast Guard " + id,
		Priority: priority,
		ServiceArea: models.ServiceArea{
			Center:       center,
			RadiusMeters: radius,
		},
		Availability: models.Availability{TwentyFourSeven: true},
		Capabilities: models.ContactCapabilities{VesselTypes: []string{"all"}},
		Phone:        "+15550100",
		VHFChannel:   16,
		Email:        id + "@example.org",
	}
}

func newEmergencyService(t *testing.T, channel *fakeChannel) (*EmergencyService, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	channels := map[string]interfaces.NotificationChannel{
		models.MethodPhone: channel,
		models.MethodVHF:   channel,
		models.MethodEmail: channel,
	}
	svc := NewEmergencyService(testConfig(), clock, channels, observability.NewMetricsForTesting())
	return svc, clock
}

func reportRequest(severity string) models.ReportIncidentRequest {
	return models.ReportIncidentRequest{
		Type:        models.IncidentGrounding,
		Severity:    severity,
		Location:    testPosition(),
		Vessel:      testVessel(),
		VesselID:    "vessel-1",
		Description: "hard aground on a sandbar",
	}
}

func TestSelectContactsOrdering(t *testing.T) {
	svc, _ := newEmergencyService(t, &fakeChannel{})
	pos := testPosition()

	near := pos
	far := models.Location{Latitude: pos.Latitude + 0.05, Longitude: pos.Longitude}

	_, err := svc.RegisterContact(coastGuardContact("low-near", 5, near, 50000))
	require.NoError(t, err)
	_, err = svc.RegisterContact(coastGuardContact("high-far", 9, far, 50000))
	require.NoError(t, err)
	_, err = svc.RegisterContact(coastGuardContact("high-near", 9, near, 50000))
	require.NoError(t, err)

	contacts := svc.SelectContacts(pos, models.VesselTypeSailboat, models.IncidentGrounding, false)
	require.Len(t, contacts, 3)
	assert.Equal(t, "high-near", contacts[0].ID, "priority first, distance breaks ties")
	assert.Equal(t, "high-far", contacts[1].ID)
	assert.Equal(t, "low-near", contacts[2].ID)
}

func TestSelectContactsFiltersServiceArea(t *testing.T) {
	svc, _ := newEmergencyService(t, &fakeChannel{})
	pos := testPosition()

	outside := models.Location{Latitude: pos.Latitude + 1.0, Longitude: pos.Longitude}
	_, err := svc.RegisterContact(coastGuardContact("remote", 9, outside, 1000))
	require.NoError(t, err)

	contacts := svc.SelectContacts(pos, models.VesselTypeSailboat, models.IncidentGrounding, false)
	assert.Empty(t, contacts)
}

func TestSelectContactsHonorsAvailability(t *testing.T) {
	svc, clock := newEmergencyService(t, &fakeChannel{})
	pos := testPosition()

	hour := clock.Now().Hour()
	offDuty := coastGuardContact("off-duty", 8, pos, 50000)
	offDuty.Availability = models.Availability{
		StartHour:         (hour + 2) % 24,
		EndHour:           (hour + 4) % 24,
		EmergencyOverride: true,
	}
	_, err := svc.RegisterContact(offDuty)
	require.NoError(t, err)

	assert.Empty(t, svc.SelectContacts(pos, models.VesselTypeSailboat, models.IncidentGrounding, false),
		"outside scheduled hours without an emergency")
	assert.Len(t, svc.SelectContacts(pos, models.VesselTypeSailboat, models.IncidentGrounding, true), 1,
		"emergency override admits off-hours contacts")
}

func TestReportIncidentNotifiesAndAcknowledges(t *testing.T) {
	channel := &fakeChannel{}
	svc, _ := newEmergencyService(t, channel)
	_, err := svc.RegisterContact(coastGuardContact("cg", 9, testPosition(), 50000))
	require.NoError(t, err)

	incident, err := svc.ReportIncident(context.Background(), reportRequest(models.IncidentSeverityHigh))
	require.NoError(t, err)
	assert.Equal(t, models.IncidentReported, incident.Status)
	assert.Empty(t, incident.SharingSessionID, "only mayday and critical incidents auto-share")

	require.Eventually(t, func() bool {
		current, err := svc.GetIncident(incident.ID)
		return err == nil && current.Status == models.IncidentAcknowledged
	}, time.Second, 10*time.Millisecond)

	current, err := svc.GetIncident(incident.ID)
	require.NoError(t, err)
	assert.Contains(t, current.ContactsNotified, "cg")
	require.NotEmpty(t, current.Attempts)
	assert.True(t, current.Attempts[0].Success)
	assert.Equal(t, models.MethodPhone, current.Attempts[0].Method, "phone is tried first")
}

func TestNotificationFallsBackThroughMethods(t *testing.T) {
	// Phone fails, VHF succeeds.
	phone := &fakeChannel{failFor: map[string]bool{"cg": true}}
	vhf := &fakeChannel{}
	clock := clockwork.NewFakeClock()
	svc := NewEmergencyService(testConfig(), clock, map[string]interfaces.NotificationChannel{
		models.MethodPhone: phone,
		models.MethodVHF:   vhf,
	}, observability.NewMetricsForTesting())
	_, err := svc.RegisterContact(coastGuardContact("cg", 9, testPosition(), 50000))
	require.NoError(t, err)

	incident, err := svc.ReportIncident(context.Background(), reportRequest(models.IncidentSeverityHigh))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, err := svc.GetIncident(incident.ID)
		return err == nil && len(current.Attempts) >= 2
	}, time.Second, 10*time.Millisecond)

	current, err := svc.GetIncident(incident.ID)
	require.NoError(t, err)
	assert.False(t, current.Attempts[0].Success)
	assert.Equal(t, models.MethodPhone, current.Attempts[0].Method)
	assert.True(t, current.Attempts[1].Success)
	assert.Equal(t, models.MethodVHF, current.Attempts[1].Method)
}

func TestIncidentStatusForwardOnly(t *testing.T) {
	svc, _ := newEmergencyService(t, &fakeChannel{})
	incident, err := svc.ReportIncident(context.Background(), reportRequest(models.IncidentSeverityLow))
	require.NoError(t, err)

	require.NoError(t, svc.UpdateIncidentStatus(incident.ID, models.IncidentResponding, "unit dispatched"))
	require.NoError(t, svc.UpdateIncidentStatus(incident.ID, models.IncidentOnScene, "on scene"))

	err = svc.UpdateIncidentStatus(incident.ID, models.IncidentResponding, "trying to go back")
	assert.ErrorIs(t, err, ErrBackwardTransition)

	err = svc.UpdateIncidentStatus(incident.ID, "teleported", "nope")
	assert.Error(t, err)

	current, err := svc.GetIncident(incident.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentOnScene, current.Status)
	assert.GreaterOrEqual(t, len(current.Updates), 3, "every update lands in the log")
}

func TestResolveIncidentEndsSharingSession(t *testing.T) {
	svc, _ := newEmergencyService(t, &fakeChannel{})
	incident, err := svc.ReportIncident(context.Background(), reportRequest(models.IncidentSeverityCritical))
	require.NoError(t, err)

	session, err := svc.GetSession(incident.SharingSessionID)
	require.NoError(t, err)
	assert.True(t, session.Active)

	require.NoError(t, svc.ResolveIncident(incident.ID, "refloated", "vessel refloated at high tide"))

	current, err := svc.GetIncident(incident.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentResolved, current.Status)
	require.NotNil(t, current.Resolution)
	assert.Equal(t, "refloated", current.Resolution.Outcome)

	session, err = svc.GetSession(incident.SharingSessionID)
	require.NoError(t, err)
	assert.False(t, session.Active)

	// Closed incidents reject further transitions.
	assert.ErrorIs(t, svc.UpdateIncidentStatus(incident.ID, models.IncidentOnScene, "x"), ErrIncidentClosed)
	assert.ErrorIs(t, svc.ResolveIncident(incident.ID, "again", "x"), ErrIncidentClosed)
}

func TestCancelIncident(t *testing.T) {
	svc, _ := newEmergencyService(t, &fakeChannel{})
	incident, err := svc.ReportIncident(context.Background(), reportRequest(models.IncidentSeverityLow))
	require.NoError(t, err)

	require.NoError(t, svc.CancelIncident(incident.ID, "false alarm"))
	current, err := svc.GetIncident(incident.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentCancelled, current.Status)
	assert.Empty(t, svc.ActiveIncidents())
}

func TestAutoSharingFollowsIncidentSeverity(t *testing.T) {
	svc, _ := newEmergencyService(t, &fakeChannel{})
	_, err := svc.RegisterContact(coastGuardContact("cg", 9, testPosition(), 50000))
	require.NoError(t, err)

	// Mayday: 60s interval, shared with every notified contact at full
	// precision.
	mayday, err := svc.ReportIncident(context.Background(), reportRequest(models.IncidentSeverityMayday))
	require.NoError(t, err)
	maydaySession, err := svc.GetSession(mayday.SharingSessionID)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, maydaySession.UpdateInterval)
	assert.True(t, maydaySession.Emergency)
	assert.Contains(t, maydaySession.ShareWith, "cg")
	assert.Equal(t, models.AccessFull, maydaySession.Permissions["cg"])

	// Critical still auto-shares, at the default interval.
	critical, err := svc.ReportIncident(context.Background(), reportRequest(models.IncidentSeverityCritical))
	require.NoError(t, err)
	criticalSession, err := svc.GetSession(critical.SharingSessionID)
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, criticalSession.UpdateInterval)
	assert.Equal(t, models.AccessFull, criticalSession.Permissions["cg"])

	// Lower severities get no automatic session at all.
	low, err := svc.ReportIncident(context.Background(), reportRequest(models.IncidentSeverityLow))
	require.NoError(t, err)
	assert.Empty(t, low.SharingSessionID)
}

func TestPublishPositionUpdatesSessions(t *testing.T) {
	svc, _ := newEmergencyService(t, &fakeChannel{})
	incident, err := svc.ReportIncident(context.Background(), reportRequest(models.IncidentSeverityMayday))
	require.NoError(t, err)

	pos := models.Location{Latitude: 37.81, Longitude: -122.41}
	svc.PublishPosition("vessel-1", pos)

	session, err := svc.GetSession(incident.SharingSessionID)
	require.NoError(t, err)
	require.NotNil(t, session.LastPosition)
	assert.Equal(t, pos.Latitude, session.LastPosition.Latitude)
}

func TestContactCountBySeverity(t *testing.T) {
	assert.Equal(t, 7, contactCount(models.IncidentSeverityMayday, 7))
	assert.Equal(t, 7, contactCount(models.IncidentSeverityCritical, 7))
	assert.Equal(t, 3, contactCount(models.IncidentSeverityHigh, 7))
	assert.Equal(t, 2, contactCount(models.IncidentSeverityHigh, 2))
	assert.Equal(t, 1, contactCount(models.IncidentSeverityMedium, 7))
	assert.Equal(t, 1, contactCount(models.IncidentSeverityLow, 7))
	assert.Equal(t, 0, contactCount(models.IncidentSeverityLow, 0))
}

func TestHandleEmergencyAlertOpensMaydayIncident(t *testing.T) {
	svc, _ := newEmergencyService(t, &fakeChannel{})
	pos := testPosition()

	svc.HandleEmergencyAlert(context.Background(), models.SafetyAlert{
		ID:       "alert-1",
		Severity: models.SeverityEmergency,
		Category: models.CategoryGrounding,
		Title:    "grounding imminent",
		Position: &pos,
	})

	incidents := svc.ActiveIncidents()
	require.Len(t, incidents, 1)
	assert.Equal(t, models.IncidentSeverityMayday, incidents[0].Severity)
	assert.Equal(t, models.IncidentGrounding, incidents[0].Type)
}

func TestMaydayRetriesUnreachedContacts(t *testing.T) {
	channel := &fakeChannel{failFor: map[string]bool{"cg": true}}
	svc, clock := newEmergencyService(t, channel)
	_, err := svc.RegisterContact(coastGuardContact("cg", 9, testPosition(), 50000))
	require.NoError(t, err)

	_, err = svc.ReportIncident(context.Background(), reportRequest(models.IncidentSeverityMayday))
	require.NoError(t, err)

	// First round: phone, VHF, email all fail.
	require.Eventually(t, func() bool {
		return len(channel.deliveries()) >= 3
	}, time.Second, 10*time.Millisecond)
	firstRound := len(channel.deliveries())

	clock.BlockUntil(1)
	clock.Advance(61 * time.Second)

	require.Eventually(t, func() bool {
		return len(channel.deliveries()) > firstRound
	}, time.Second, 10*time.Millisecond)
}

func TestReportIncidentValidatesInput(t *testing.T) {
	svc, _ := newEmergencyService(t, &fakeChannel{})

	req := reportRequest(models.IncidentSeverityLow)
	req.Severity = "shrug"
	_, err := svc.ReportIncident(context.Background(), req)
	assert.Error(t, err)

	req = reportRequest(models.IncidentSeverityLow)
	req.Location = models.Location{Latitude: 95}
	_, err = svc.ReportIncident(context.Background(), req)
	assert.Error(t, err)

	req = reportRequest(models.IncidentSeverityLow)
	req.Location = models.Location{Latitude: 37.8, Longitude: 200}
	_, err = svc.ReportIncident(context.Background(), req)
	assert.Error(t, err, "longitude outside the coordinate range")
}

func TestStartStopLocationSharing(t *testing.T) {
	svc, clock := newEmergencyService(t, &fakeChannel{})

	expiry := clock.Now().Add(time.Hour)
	session := svc.StartLocationSharing("vessel-1", []string{"c1", "c2"}, false, &expiry)
	assert.True(t, session.Active)
	assert.Equal(t, models.AccessApproximate, session.Permissions["c1"])

	require.NoError(t, svc.StopLocationSharing(session.ID))
	assert.ErrorIs(t, svc.StopLocationSharing(session.ID), ErrSessionNotFound)

	emergency := svc.StartLocationSharing("vessel-1", []string{"c1"}, true, nil)
	assert.Equal(t, models.AccessFull, emergency.Permissions["c1"])
	assert.Equal(t, 60*time.Second, emergency.UpdateInterval)

	_, err := svc.GetSession("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
