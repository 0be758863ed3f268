package interfaces

import (
	"context"

	"depthguard/models"
)

// NotificationChannel is the external transport capability for reaching an
// emergency contact. A nil error means the message was delivered.
type NotificationChannel interface {
	Send(ctx context.Context, contact models.EmergencyContact, method, message string) error
}

// EmergencyEscalator is what the alert hierarchy invokes when an alert
// reaches emergency severity.
type EmergencyEscalator interface {
	HandleEmergencyAlert(ctx context.Context, alert models.SafetyAlert)
}

// ReliabilityScorer supplies per-user reliability weights for crowdsourced
// readings. Ingestion layers with real reputation data implement this.
type ReliabilityScorer interface {
	Score(reading models.DepthReading) float64
}

// ProtocolStepExecutor carries out one emergency-protocol step. Returning
// an error marks the step unresolved so its fallback is attempted.
type ProtocolStepExecutor interface {
	Execute(ctx context.Context, step models.ProtocolStep) error
}

// AlertSubscriber receives alert lifecycle events as immutable snapshots.
// Delivery order across subscribers is not guaranteed.
type AlertSubscriber func(event models.AlertEvent)

// StatusSubscriber receives navigation status snapshots per monitoring tick.
type StatusSubscriber func(status models.NavigationStatus)
