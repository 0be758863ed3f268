package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the safety engine.
type Metrics struct {
	ValidationsTotal *prometheus.CounterVec // labels: method
	ValidationCache  *prometheus.CounterVec // labels: result={hit,miss}

	GroundingAlertsTotal *prometheus.CounterVec // labels: severity

	AlertsCreated   *prometheus.CounterVec // labels: severity
	AlertsEscalated prometheus.Counter
	ActiveAlerts    prometheus.Gauge

	NotificationsTotal *prometheus.CounterVec // labels: method, outcome={success,failure}
	ActiveIncidents    prometheus.Gauge
	ActiveSessions     prometheus.Gauge

	MonitoringTicks prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		ValidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "depthguard",
			Name:      "validations_total",
			Help:      "Depth validations performed, by resolution method.",
		}, []string{"method"}),
		ValidationCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "depthguard",
			Name:      "validation_cache_total",
			Help:      "Validation cache lookups by result.",
		}, []string{"result"}),
		GroundingAlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "depthguard",
			Name:      "grounding_alerts_total",
			Help:      "Grounding alerts emitted by severity.",
		}, []string{"severity"}),
		AlertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "depthguard",
			Name:      "alerts_created_total",
			Help:      "Safety alerts created by severity.",
		}, []string{"severity"}),
		AlertsEscalated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "depthguard",
			Name:      "alerts_escalated_total",
			Help:      "Alert escalations performed.",
		}),
		ActiveAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "depthguard",
			Name:      "active_alerts",
			Help:      "Alerts currently active.",
		}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "depthguard",
			Name:      "notifications_total",
			Help:      "Emergency notification attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		ActiveIncidents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "depthguard",
			Name:      "active_incidents",
			Help:      "Emergency incidents not yet resolved or cancelled.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "depthguard",
			Name:      "active_sharing_sessions",
			Help:      "Location sharing sessions currently active.",
		}),
		MonitoringTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "depthguard",
			Name:      "monitoring_ticks_total",
			Help:      "Monitoring tick evaluations run.",
		}),
	}
}

// NewMetrics creates and registers all engine metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ValidationsTotal,
		m.ValidationCache,
		m.GroundingAlertsTotal,
		m.AlertsCreated,
		m.AlertsEscalated,
		m.ActiveAlerts,
		m.NotificationsTotal,
		m.ActiveIncidents,
		m.ActiveSessions,
		m.MonitoringTicks,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics across tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
