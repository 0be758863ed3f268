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
	ErrAlertNotFound   = errors.New("alert not found")
	ErrNotDismissible  = errors.New("alert cannot be dismissed")
	ErrInvalidSeverity = errors.New("unknown alert severity")
)

// SubscriptionHandle unsubscribes an alert subscriber.
type SubscriptionHandle struct {
	once sync.Once
	stop func()
}

func (h *SubscriptionHandle) Unsubscribe() {
	h.once.Do(h.stop)
}

// AlertService is the severity-tiered alert state machine with escalation
// timers and emergency-protocol activation. It owns every SafetyAlert it
// creates; subscribers receive immutable snapshots.
type AlertService struct {
	cfg       *config.Config
	clock     clockwork.Clock
	scheduler *utils.Scheduler
	escalator interfaces.EmergencyEscalator
	validator *utils.ValidationService
	metrics   *observability.Metrics

	mu      sync.RWMutex
	active  map[string]*models.SafetyAlert
	timers  map[string]*utils.TimerHandle
	rules   []models.EscalationRule
	subs    map[int]interfaces.AlertSubscriber
	nextSub int
}

func NewAlertService(cfg *config.Config, clock clockwork.Clock, escalator interfaces.EmergencyEscalator, metrics *observability.Metrics) *AlertService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &AlertService{
		cfg:       cfg,
		clock:     clock,
		scheduler: utils.NewScheduler(clock),
		escalator: escalator,
		validator: utils.NewValidationService(),
		metrics:   metrics,
		active:    make(map[string]*models.SafetyAlert),
		timers:    make(map[string]*utils.TimerHandle),
		subs:      make(map[int]interfaces.AlertSubscriber),
	}
}

// SetEscalationRules replaces the declarative escalation rule set. Rules
// must name known severities and escalate strictly upward.
func (s *AlertService) SetEscalationRules(rules []models.EscalationRule) error {
	for _, rule := range rules {
		if errs := s.validator.ValidateStruct(rule); len(errs) > 0 {
			return fmt.Errorf("invalid escalation rule: %s", errs[0].Message)
		}
		if models.SeverityLevel(rule.EscalateTo) <= models.SeverityLevel(rule.Severity) {
			return fmt.Errorf("escalation rule %s -> %s does not raise severity", rule.Severity, rule.EscalateTo)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = rules
	return nil
}

// DefaultEscalationRules escalate unacknowledged alerts one tier at a time.
func DefaultEscalationRules() []models.EscalationRule {
	return []models.EscalationRule{
		{Severity: models.SeverityCaution, After: 120 * time.Second, EscalateTo: models.SeverityWarning, Conditions: []string{models.ConditionNotAcknowledged}},
		{Severity: models.SeverityWarning, After: 60 * time.Second, EscalateTo: models.SeverityCritical, Conditions: []string{models.ConditionNotAcknowledged}},
		{Severity: models.SeverityCritical, After: 30 * time.Second, EscalateTo: models.SeverityEmergency, Conditions: []string{models.ConditionNotAcknowledged}},
	}
}

// CreateAlert creates an alert at the given severity and schedules its
// escalation check when a rule matches.
func (s *AlertService) CreateAlert(severity, category, title, message string, position *models.Location, autoExpiry *time.Time) (*models.SafetyAlert, error) {
	if models.SeverityLevel(severity) == 0 {
		return nil, ErrInvalidSeverity
	}

	now := s.clock.Now()
	alert := &models.SafetyAlert{
		ID:                uuid.New().String(),
		Severity:          severity,
		Category:          category,
		Title:             title,
		Message:           message,
		Position:          position,
		EscalationLevel:   models.SeverityLevel(severity),
		Config:            defaultAlertConfig(severity),
		AckRequired:       requiresAcknowledgment(severity),
		Dismissible:       !requiresAcknowledgment(severity),
		BroadcastRequired: requiresAcknowledgment(severity),
		CreatedAt:         now,
		AutoExpiry:        autoExpiry,
	}

	s.mu.Lock()
	if len(s.active) >= s.cfg.MaxActiveAlerts {
		s.evictOldestHalfLocked()
	}
	s.active[alert.ID] = alert
	rule := s.matchRuleLocked(alert)
	s.mu.Unlock()

	if rule != nil {
		s.scheduleEscalation(alert.ID, *rule)
	}
	if autoExpiry != nil {
		s.scheduleExpiry(alert.ID, *autoExpiry)
	}

	if s.metrics != nil {
		s.metrics.AlertsCreated.WithLabelValues(severity).Inc()
		s.metrics.ActiveAlerts.Set(float64(s.Count()))
	}
	logrus.WithFields(logrus.Fields{
		"alertId":  alert.ID,
		"severity": severity,
		"category": category,
	}).Info("safety alert created")

	s.publish(models.AlertEvent{Type: models.AlertEventCreated, Alert: *alert, Timestamp: now})
	return snapshot(alert), nil
}

// AcknowledgeAlert marks an alert acknowledged, silences audio/haptic
// output (emergency alerts stay loud), and cancels its escalation timer.
func (s *AlertService) AcknowledgeAlert(id string) error {
	s.mu.Lock()
	alert, ok := s.active[id]
	if !ok {
		s.mu.Unlock()
		return ErrAlertNotFound
	}
	now := s.clock.Now()
	alert.AcknowledgedAt = &now
	if alert.Severity != models.SeverityEmergency {
		alert.Config.AudioEnabled = false
		alert.Config.HapticEnabled = false
	}
	s.cancelTimerLocked(id)
	event := models.AlertEvent{Type: models.AlertEventAcknowledged, Alert: *alert, Timestamp: now}
	s.mu.Unlock()

	s.publish(event)
	return nil
}

// DismissAlert removes a dismissible alert and cancels its timer.
func (s *AlertService) DismissAlert(id string) error {
	s.mu.Lock()
	alert, ok := s.active[id]
	if !ok {
		s.mu.Unlock()
		return ErrAlertNotFound
	}
	if !alert.Dismissible {
		s.mu.Unlock()
		return ErrNotDismissible
	}
	now := s.clock.Now()
	alert.DismissedAt = &now
	s.cancelTimerLocked(id)
	delete(s.active, id)
	event := models.AlertEvent{Type: models.AlertEventDismissed, Alert: *alert, Timestamp: now}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ActiveAlerts.Set(float64(s.Count()))
	}
	s.publish(event)
	return nil
}

// ReplaceAlert supersedes an alert with a new severity. This is the only
// path that may lower severity.
func (s *AlertService) ReplaceAlert(id, newSeverity, reason string) (*models.SafetyAlert, error) {
	if models.SeverityLevel(newSeverity) == 0 {
		return nil, ErrInvalidSeverity
	}

	s.mu.Lock()
	alert, ok := s.active[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrAlertNotFound
	}
	now := s.clock.Now()
	from := alert.Severity
	alert.Severity = newSeverity
	alert.EscalationLevel = models.SeverityLevel(newSeverity)
	alert.Config = defaultAlertConfig(newSeverity)
	alert.AckRequired = requiresAcknowledgment(newSeverity)
	alert.Dismissible = !requiresAcknowledgment(newSeverity)
	alert.BroadcastRequired = requiresAcknowledgment(newSeverity)
	alert.Message = reason
	s.cancelTimerLocked(id)
	rule := s.matchRuleLocked(alert)
	event := models.AlertEvent{Type: models.AlertEventSuperseded, Alert: *alert, FromSeverity: from, Timestamp: now}
	s.mu.Unlock()

	if rule != nil {
		s.scheduleEscalation(id, *rule)
	}
	s.publish(event)
	return snapshot(alert), nil
}

// GetAlert returns a snapshot of an active alert.
func (s *AlertService) GetAlert(id string) (*models.SafetyAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.active[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	return snapshot(alert), nil
}

// ActiveAlerts returns snapshots of all active alerts, most severe first.
func (s *AlertService) ActiveAlerts() []models.SafetyAlert {
	s.mu.RLock()
	alerts := make([]models.SafetyAlert, 0, len(s.active))
	for _, a := range s.active {
		alerts = append(alerts, *a)
	}
	s.mu.RUnlock()

	sort.SliceStable(alerts, func(i, j int) bool {
		li, lj := models.SeverityLevel(alerts[i].Severity), models.SeverityLevel(alerts[j].Severity)
		if li != lj {
			return li > lj
		}
		return alerts[i].CreatedAt.Before(alerts[j].CreatedAt)
	})
	return alerts
}

// Count returns the number of active alerts.
func (s *AlertService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// Subscribe registers a subscriber for alert lifecycle events. Delivery
// order across subscribers is not guaranteed.
func (s *AlertService) Subscribe(fn interfaces.AlertSubscriber) *SubscriptionHandle {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return &SubscriptionHandle{stop: func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}}
}

// =================== ESCALATION ===================

func (s *AlertService) scheduleEscalation(alertID string, rule models.EscalationRule) {
	handle := s.scheduler.Schedule(rule.After, func() {
		s.escalate(alertID, rule)
	})
	s.mu.Lock()
	s.timers[alertID] = handle
	s.mu.Unlock()
}

// escalate runs when an escalation timer fires. A stale fire (the alert
// acknowledged, dismissed, or gone) is a no-op, never a double escalation.
func (s *AlertService) escalate(alertID string, rule models.EscalationRule) {
	s.mu.Lock()
	alert, ok := s.active[alertID]
	if !ok || !alert.Active() || !conditionsHold(alert, rule.Conditions) {
		s.mu.Unlock()
		return
	}
	if models.SeverityLevel(rule.EscalateTo) <= models.SeverityLevel(alert.Severity) {
		s.mu.Unlock()
		return
	}

	now := s.clock.Now()
	from := alert.Severity
	alert.Severity = rule.EscalateTo
	alert.EscalationLevel = models.SeverityLevel(rule.EscalateTo)
	alert.Config = defaultAlertConfig(rule.EscalateTo)
	alert.AckRequired = requiresAcknowledgment(rule.EscalateTo)
	alert.Dismissible = !requiresAcknowledgment(rule.EscalateTo)
	alert.BroadcastRequired = requiresAcknowledgment(rule.EscalateTo)
	delete(s.timers, alertID)

	next := s.matchRuleLocked(alert)
	event := models.AlertEvent{Type: models.AlertEventEscalated, Alert: *alert, FromSeverity: from, Timestamp: now}
	emergency := alert.Severity == models.SeverityEmergency
	alertCopy := *alert
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.AlertsEscalated.Inc()
	}
	logrus.WithFields(logrus.Fields{
		"alertId": alertID,
		"from":    from,
		"to":      alertCopy.Severity,
	}).Warn("alert escalated")

	s.publish(event)

	if next != nil {
		s.scheduleEscalation(alertID, *next)
	}
	if emergency && s.escalator != nil {
		go s.escalator.HandleEmergencyAlert(context.Background(), alertCopy)
	}
}

func (s *AlertService) scheduleExpiry(alertID string, expiry time.Time) {
	delay := expiry.Sub(s.clock.Now())
	if delay <= 0 {
		return
	}
	s.scheduler.Schedule(delay, func() {
		s.mu.Lock()
		alert, ok := s.active[alertID]
		if !ok || !alert.Active() {
			s.mu.Unlock()
			return
		}
		now := s.clock.Now()
		s.cancelTimerLocked(alertID)
		delete(s.active, alertID)
		event := models.AlertEvent{Type: models.AlertEventExpired, Alert: *alert, Timestamp: now}
		s.mu.Unlock()
		s.publish(event)
	})
}

// matchRuleLocked finds the first rule applying to the alert's category and
// severity. Caller must hold the lock.
func (s *AlertService) matchRuleLocked(alert *models.SafetyAlert) *models.EscalationRule {
	for i := range s.rules {
		rule := s.rules[i]
		if rule.Category != "" && rule.Category != alert.Category {
			continue
		}
		if rule.Severity != alert.Severity {
			continue
		}
		if models.SeverityLevel(rule.EscalateTo) <= models.SeverityLevel(alert.Severity) {
			continue
		}
		return &rule
	}
	return nil
}

func (s *AlertService) cancelTimerLocked(alertID string) {
	if handle, ok := s.timers[alertID]; ok {
		handle.Cancel()
		delete(s.timers, alertID)
	}
}

// evictOldestHalfLocked drops the oldest half of active alerts when the
// bounded store is full. Caller must hold the lock.
func (s *AlertService) evictOldestHalfLocked() {
	ordered := make([]*models.SafetyAlert, 0, len(s.active))
	for _, a := range s.active {
		ordered = append(ordered, a)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].CreatedAt.Before(ordered[j].CreatedAt) })
	for _, a := range ordered[:len(ordered)/2] {
		s.cancelTimerLocked(a.ID)
		delete(s.active, a.ID)
	}
}

func (s *AlertService) publish(event models.AlertEvent) {
	s.mu.RLock()
	subs := make([]interfaces.AlertSubscriber, 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()

	for _, fn := range subs {
		fn(event)
	}
}

func conditionsHold(alert *models.SafetyAlert, conditions []string) bool {
	if len(conditions) == 0 {
		conditions = []string{models.ConditionNotAcknowledged}
	}
	for _, c := range conditions {
		switch c {
		case models.ConditionNotAcknowledged:
			if alert.AcknowledgedAt == nil {
				return true
			}
		case models.ConditionStillActive:
			if alert.Active() {
				return true
			}
		}
	}
	return false
}

func snapshot(alert *models.SafetyAlert) *models.SafetyAlert {
	copied := *alert
	return &copied
}

func requiresAcknowledgment(severity string) bool {
	return severity == models.SeverityCritical || severity == models.SeverityEmergency
}

// defaultAlertConfig maps severity to intrusiveness. Intrusiveness rises
// monotonically from a single beep and static banner to a continuous horn
// with a full-screen flashing overlay and heavy haptics.
func defaultAlertConfig(severity string) models.AlertConfig {
	switch severity {
	case models.SeverityEmergency:
		return models.AlertConfig{
			AudioPattern:  "continuous_horn",
			AudioRepeat:   0,
			Visual:        models.VisualFullScreen,
			HapticPulses:  5,
			HapticHeavy:   true,
			AudioEnabled:  true,
			HapticEnabled: true,
		}
	case models.SeverityCritical:
		return models.AlertConfig{
			AudioPattern:  "alarm",
			AudioRepeat:   0,
			Visual:        models.VisualModal,
			HapticPulses:  3,
			HapticHeavy:   true,
			AudioEnabled:  true,
			HapticEnabled: true,
		}
	case models.SeverityWarning:
		return models.AlertConfig{
			AudioPattern:  "repeated_tone",
			AudioRepeat:   3,
			Visual:        models.VisualHighlight,
			HapticPulses:  2,
			AudioEnabled:  true,
			HapticEnabled: true,
		}
	case models.SeverityCaution:
		return models.AlertConfig{
			AudioPattern:  "double_beep",
			AudioRepeat:   1,
			Visual:        models.VisualHighlight,
			HapticPulses:  1,
			AudioEnabled:  true,
			HapticEnabled: true,
		}
	default:
		return models.AlertConfig{
			AudioPattern: "single_beep",
			AudioRepeat:  1,
			Visual:       models.VisualBanner,
			AudioEnabled: true,
		}
	}
}

// =================== EMERGENCY PROTOCOL ===================

// ActivateEmergencyProtocol runs a declarative step sequence. Automated
// steps execute through the supplied executor; a step that has not
// resolved within its time limit falls back to its fallback step. The
// sequence runs asynchronously; progress is published as alert events.
func (s *AlertService) ActivateEmergencyProtocol(protocol models.EmergencyProtocol, executor interfaces.ProtocolStepExecutor) {
	go func() {
		steps := append([]models.ProtocolStep(nil), protocol.Steps...)
		sort.Slice(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

		logrus.WithField("protocol", protocol.Name).Warn("emergency protocol activated")
		for _, step := range steps {
			s.runProtocolStep(step, executor)
		}
	}()
}

func (s *AlertService) runProtocolStep(step models.ProtocolStep, executor interfaces.ProtocolStepExecutor) {
	if !step.Automated || executor == nil {
		logrus.WithFields(logrus.Fields{
			"step":   step.Title,
			"action": step.Action,
		}).Warn("emergency protocol step requires operator action")
		return
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if step.TimeLimit > 0 {
		ctx, cancel = context.WithTimeout(ctx, step.TimeLimit)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- executor.Execute(ctx, step) }()

	var err error
	if step.TimeLimit > 0 {
		select {
		case err = <-done:
		case <-s.clock.After(step.TimeLimit):
			err = context.DeadlineExceeded
		}
	} else {
		err = <-done
	}

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"step":  step.Title,
			"error": err,
		}).Error("emergency protocol step unresolved")
		if step.FallbackStep != nil {
			s.runProtocolStep(*step.FallbackStep, executor)
		}
		return
	}
	logrus.WithField("step", step.Title).Info("emergency protocol step completed")
}
