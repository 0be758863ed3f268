package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"depthguard/config"
	"depthguard/interfaces"
	"depthguard/models"
	"depthguard/observability"
	"depthguard/services"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// MonitorWorker is the engine's ingestion and evaluation loop. Position
// fixes and depth readings arrive on channels; on every tick the worker
// re-evaluates route progress and grounding risk against the latest state
// and raises findings into the alert hierarchy.
type MonitorWorker struct {
	// Services
	routeService *services.RouteService
	riskService  *services.GroundingRiskService
	alertService *services.AlertService

	// Worker configuration
	config MonitorWorkerConfig

	// Ingestion channels
	locationUpdates chan models.Location
	readingUpdates  chan []models.DepthReading

	// Latest observed state, owned by the run loop
	vessel       models.VesselProfile
	lastLocation *models.Location
	readings     []models.DepthReading

	clock   clockwork.Clock
	metrics *observability.Metrics

	// Worker state
	isRunning bool
	mutex     sync.RWMutex

	// Subscribers
	statusSubs []interfaces.StatusSubscriber

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	stats      MonitorWorkerStats
	statsMutex sync.RWMutex
}

type MonitorWorkerConfig struct {
	Tick             time.Duration `json:"tick"`
	LocationBuffer   int           `json:"locationBuffer"`
	ReadingBuffer    int           `json:"readingBuffer"`
	MaxStalePosition time.Duration `json:"maxStalePosition"`
}

type MonitorWorkerStats struct {
	TicksProcessed    int64     `json:"ticksProcessed"`
	LocationsIngested int64     `json:"locationsIngested"`
	ReadingsIngested  int64     `json:"readingsIngested"`
	AlertsRaised      int64     `json:"alertsRaised"`
	LastTickAt        time.Time `json:"lastTickAt"`
	StartTime         time.Time `json:"startTime"`
}

func NewMonitorWorker(
	cfg *config.Config,
	routeService *services.RouteService,
	riskService *services.GroundingRiskService,
	alertService *services.AlertService,
	vessel models.VesselProfile,
	clock clockwork.Clock,
	metrics *observability.Metrics,
) *MonitorWorker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())

	workerCfg := MonitorWorkerConfig{
		Tick:             cfg.MonitoringTick,
		LocationBuffer:   100,
		ReadingBuffer:    100,
		MaxStalePosition: 2 * time.Minute,
	}
	return &MonitorWorker{
		routeService:    routeService,
		riskService:     riskService,
		alertService:    alertService,
		config:          workerCfg,
		locationUpdates: make(chan models.Location, workerCfg.LocationBuffer),
		readingUpdates:  make(chan []models.DepthReading, workerCfg.ReadingBuffer),
		vessel:          vessel,
		clock:           clock,
		metrics:         metrics,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start launches the run loop. Starting a running worker is a no-op.
func (mw *MonitorWorker) Start() {
	mw.mutex.Lock()
	if mw.isRunning {
		mw.mutex.Unlock()
		return
	}
	mw.isRunning = true
	mw.mutex.Unlock()

	mw.statsMutex.Lock()
	mw.stats.StartTime = mw.clock.Now()
	mw.statsMutex.Unlock()

	mw.wg.Add(1)
	go mw.run()
	logrus.Info("monitor worker started")
}

// Stop shuts the run loop down and waits for it to exit.
func (mw *MonitorWorker) Stop() {
	mw.mutex.Lock()
	if !mw.isRunning {
		mw.mutex.Unlock()
		return
	}
	mw.isRunning = false
	mw.mutex.Unlock()

	mw.cancel()
	mw.wg.Wait()
	logrus.Info("monitor worker stopped")
}

// IsRunning reports whether the run loop is active.
func (mw *MonitorWorker) IsRunning() bool {
	mw.mutex.RLock()
	defer mw.mutex.RUnlock()
	return mw.isRunning
}

// UpdateLocation queues a position fix. Drops the fix when the buffer is
// full rather than blocking the caller.
func (mw *MonitorWorker) UpdateLocation(location models.Location) {
	select {
	case mw.locationUpdates <- location:
	default:
		logrus.Warn("location buffer full, dropping fix")
	}
}

// UpdateReadings queues a fresh depth reading set.
func (mw *MonitorWorker) UpdateReadings(readings []models.DepthReading) {
	select {
	case mw.readingUpdates <- readings:
	default:
		logrus.Warn("reading buffer full, dropping reading set")
	}
}

// SubscribeStatus registers a subscriber for per-tick navigation status
// snapshots. Must be called before Start.
func (mw *MonitorWorker) SubscribeStatus(fn interfaces.StatusSubscriber) {
	mw.mutex.Lock()
	defer mw.mutex.Unlock()
	mw.statusSubs = append(mw.statusSubs, fn)
}

// Stats returns a snapshot of worker counters.
func (mw *MonitorWorker) Stats() MonitorWorkerStats {
	mw.statsMutex.RLock()
	defer mw.statsMutex.RUnlock()
	return mw.stats
}

// run is the single evaluation goroutine. All mutable worker state is
// confined here.
func (mw *MonitorWorker) run() {
	defer mw.wg.Done()

	ticker := mw.clock.NewTicker(mw.config.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-mw.ctx.Done():
			return
		case location := <-mw.locationUpdates:
			mw.lastLocation = &location
			mw.bumpStat(func(s *MonitorWorkerStats) { s.LocationsIngested++ })
		case readings := <-mw.readingUpdates:
			mw.readings = readings
			mw.bumpStat(func(s *MonitorWorkerStats) { s.ReadingsIngested++ })
		case <-ticker.Chan():
			mw.evaluate()
		}
	}
}

// evaluate runs one monitoring tick against the latest state.
func (mw *MonitorWorker) evaluate() {
	mw.bumpStat(func(s *MonitorWorkerStats) {
		s.TicksProcessed++
		s.LastTickAt = mw.clock.Now()
	})
	if mw.metrics != nil {
		mw.metrics.MonitoringTicks.Inc()
	}

	if mw.lastLocation == nil {
		return
	}
	location := *mw.lastLocation
	if mw.clock.Since(location.Timestamp) > mw.config.MaxStalePosition {
		logrus.Debug("skipping tick on stale position")
		return
	}

	mw.evaluateRoute(location)
	mw.evaluateGroundingRisk(location)
}

func (mw *MonitorWorker) evaluateRoute(location models.Location) {
	if !mw.routeService.Monitoring() {
		return
	}
	status, err := mw.routeService.UpdateLocation(location)
	if err != nil {
		logrus.WithField("error", err).Warn("route evaluation failed")
		return
	}

	for _, event := range status.Events {
		_, err := mw.alertService.CreateAlert(
			event.Severity, models.CategoryNavigation, routeEventTitle(event.Type), event.Message, &location, nil)
		if err != nil {
			logrus.WithField("error", err).Warn("failed to raise route alert")
			continue
		}
		mw.bumpStat(func(s *MonitorWorkerStats) { s.AlertsRaised++ })
	}

	mw.mutex.RLock()
	subs := mw.statusSubs
	mw.mutex.RUnlock()
	for _, fn := range subs {
		fn(*status)
	}
}

func (mw *MonitorWorker) evaluateGroundingRisk(location models.Location) {
	speed := location.SpeedOrZero()
	if speed <= 0 {
		return
	}
	alerts, err := mw.riskService.Project(location, location.HeadingOrZero(), speed, mw.vessel, mw.readings)
	if err != nil {
		logrus.WithField("error", err).Warn("grounding projection failed")
		return
	}

	for _, ga := range alerts {
		pos := ga.Position
		message := groundingMessage(ga)
		_, err := mw.alertService.CreateAlert(
			ga.Severity, models.CategoryGrounding, "Grounding risk ahead", message, &pos, nil)
		if err != nil {
			logrus.WithField("error", err).Warn("failed to raise grounding alert")
			continue
		}
		mw.bumpStat(func(s *MonitorWorkerStats) { s.AlertsRaised++ })
	}
}

func (mw *MonitorWorker) bumpStat(fn func(*MonitorWorkerStats)) {
	mw.statsMutex.Lock()
	fn(&mw.stats)
	mw.statsMutex.Unlock()
}

func routeEventTitle(eventType string) string {
	switch eventType {
	case models.RouteEventDeviation:
		return "Off planned route"
	case models.RouteEventSpeed:
		return "Speed variance"
	case models.RouteEventArrival:
		return "Waypoint reached"
	default:
		return "Navigation notice"
	}
}

func groundingMessage(ga models.GroundingAlert) string {
	msg := fmt.Sprintf("Projected depth %.1fm (ratio %.2f) in %s, %.0fm ahead",
		ga.EstimatedDepth, ga.DepthRatio, ga.TimeToImpact.Round(time.Second), ga.DistanceToHazard)
	if ga.RecommendedAction != nil {
		msg += ". Recommended: " + ga.RecommendedAction.Description
	}
	return msg
}
