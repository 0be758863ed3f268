package workers

import (
	"fmt"
	"testing"
	"time"

	"depthguard/config"
	"depthguard/models"
	"depthguard/observability"
	"depthguard/services"
	"depthguard/utils"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVessel() models.VesselProfile {
	return models.VesselProfile{Draft: 2, Length: 12, Displacement: 8000, Type: models.VesselTypeSailboat}
}

func newWorker(t *testing.T) (*MonitorWorker, *services.AlertService, *clockwork.FakeClock) {
	t.Helper()
	cfg := config.Load()
	clock := clockwork.NewFakeClock()
	metrics := observability.NewMetricsForTesting()

	validation := services.NewDepthValidationService(cfg, clock, metrics)
	route := services.NewRouteService(cfg, validation, clock)
	risk := services.NewGroundingRiskService(cfg, clock, metrics)
	alerts := services.NewAlertService(cfg, clock, nil, metrics)

	worker := NewMonitorWorker(cfg, route, risk, alerts, testVessel(), clock, metrics)
	return worker, alerts, clock
}

func shallowReadingsAhead(pos models.Location, heading float64, now time.Time) []models.DepthReading {
	var readings []models.DepthReading
	for dist := 50.0; dist <= 2000; dist += 100 {
		lat, lon := utils.DestinationPoint(pos.Latitude, pos.Longitude, heading, dist)
		readings = append(readings, models.DepthReading{
			ID:         fmt.Sprintf("ahead-%.0f", dist),
			Location:   models.Location{Latitude: lat, Longitude: lon},
			Depth:      1.5,
			Confidence: 0.9,
			Timestamp:  now,
			Source:     models.SourceCrowdsource,
		})
	}
	return readings
}

func TestWorkerStartStop(t *testing.T) {
	worker, _, _ := newWorker(t)

	assert.False(t, worker.IsRunning())
	worker.Start()
	assert.True(t, worker.IsRunning())
	worker.Start() // second start is a no-op
	assert.True(t, worker.IsRunning())

	worker.Stop()
	assert.False(t, worker.IsRunning())
	worker.Stop() // second stop is a no-op
}

func TestWorkerRaisesGroundingAlerts(t *testing.T) {
	worker, alerts, clock := newWorker(t)

	heading, speed := 0.0, 6.0
	pos := models.Location{
		Latitude:   37.8,
		Longitude:  -122.4,
		Heading:    &heading,
		SpeedKnots: &speed,
		Timestamp:  clock.Now(),
	}

	worker.Start()
	defer worker.Stop()

	worker.UpdateReadings(shallowReadingsAhead(pos, heading, clock.Now()))
	worker.UpdateLocation(pos)

	// Let the run loop drain the ingestion channels before ticking.
	require.Eventually(t, func() bool {
		s := worker.Stats()
		return s.LocationsIngested == 1 && s.ReadingsIngested == 1
	}, time.Second, 10*time.Millisecond)

	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)

	require.Eventually(t, func() bool {
		return alerts.Count() > 0
	}, time.Second, 10*time.Millisecond)

	active := alerts.ActiveAlerts()
	assert.Equal(t, models.CategoryGrounding, active[0].Category)
	assert.Equal(t, models.SeverityEmergency, active[0].Severity)
}

func TestWorkerSkipsStalePosition(t *testing.T) {
	worker, alerts, clock := newWorker(t)

	heading, speed := 0.0, 6.0
	pos := models.Location{
		Latitude:   37.8,
		Longitude:  -122.4,
		Heading:    &heading,
		SpeedKnots: &speed,
		Timestamp:  clock.Now().Add(-10 * time.Minute),
	}

	worker.Start()
	defer worker.Stop()

	worker.UpdateReadings(shallowReadingsAhead(pos, heading, clock.Now()))
	worker.UpdateLocation(pos)
	require.Eventually(t, func() bool {
		return worker.Stats().LocationsIngested == 1
	}, time.Second, 10*time.Millisecond)

	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)

	require.Eventually(t, func() bool {
		return worker.Stats().TicksProcessed >= 1
	}, time.Second, 10*time.Millisecond)
	assert.Zero(t, alerts.Count(), "stale fixes must not drive alerts")
}
