package services

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"depthguard/config"
	"depthguard/models"
	"depthguard/utils"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

var (
	ErrNoActiveRoute = errors.New("no route is being monitored")
	ErrEmptyRoute    = errors.New("route has no waypoints")
	ErrSameEndpoints = errors.New("start and end are the same position")
)

const defaultCruiseSpeedKnots = 8.0

// Perpendicular offsets tried when a waypoint fails validation.
var alternativeOffsetsM = []float64{200, -200, 500, -500}

// RouteService plans depth-validated routes and monitors an active route
// against live position updates. A service instance owns at most one
// active route at a time.
type RouteService struct {
	cfg       *config.Config
	validator *DepthValidationService
	clock     clockwork.Clock

	mu     sync.Mutex
	active *activeRoute
}

type activeRoute struct {
	route           *models.SafeRoute
	currentIdx      int
	recommendations []models.RouteRecommendation
	startedAt       time.Time
}

func NewRouteService(cfg *config.Config, validator *DepthValidationService, clock clockwork.Clock) *RouteService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RouteService{cfg: cfg, validator: validator, clock: clock}
}

// PlanRoute builds a validated waypoint sequence between two points.
func (s *RouteService) PlanRoute(start, end models.Location, vessel models.VesselProfile, readings []models.DepthReading, opts models.RouteOptions) (*models.SafeRoute, error) {
	if err := start.Validate(); err != nil {
		return nil, err
	}
	if err := end.Validate(); err != nil {
		return nil, err
	}
	if vessel.Draft <= 0 {
		return nil, models.ErrInvalidDraft
	}

	totalDistance := utils.CalculateDistance(start.Latitude, start.Longitude, end.Latitude, end.Longitude)
	if totalDistance < utils.MinDistanceM {
		return nil, ErrSameEndpoints
	}

	route, err := s.planSingle(start, end, vessel, readings, opts, true)
	if err != nil {
		return nil, err
	}

	if opts.IncludeAlternatives {
		route.AlternativeRoutes = s.planAlternatives(start, end, vessel, readings, opts)
	}

	logrus.WithFields(logrus.Fields{
		"routeId":     route.ID,
		"waypoints":   len(route.Waypoints),
		"distance":    route.TotalDistance,
		"safetyScore": route.SafetyScore,
	}).Info("route planned")

	return route, nil
}

// planSingle builds one route. substitute controls whether failed waypoints
// are replaced with safer nearby alternatives (the shortest-path
// alternative keeps the direct track).
func (s *RouteService) planSingle(start, end models.Location, vessel models.VesselProfile, readings []models.DepthReading, opts models.RouteOptions, substitute bool) (*models.SafeRoute, error) {
	totalDistance := utils.CalculateDistance(start.Latitude, start.Longitude, end.Latitude, end.Longitude)

	// One waypoint per kilometer, never fewer than two; endpoints are
	// always waypoints.
	count := int(math.Ceil(totalDistance/s.cfg.WaypointSpacingM)) + 1
	if count < 2 {
		count = 2
	}

	cruiseSpeed := float64(opts.CruiseSpeedKnots)
	if cruiseSpeed <= 0 {
		cruiseSpeed = defaultCruiseSpeedKnots
	}

	waypoints := make([]models.RouteWaypoint, 0, count)
	for i := 0; i < count; i++ {
		fraction := float64(i) / float64(count-1)
		lat, lon := utils.IntermediatePoint(start.Latitude, start.Longitude, end.Latitude, end.Longitude, fraction)
		point := models.Location{Latitude: lat, Longitude: lon}

		wp, err := s.buildWaypoint(point, vessel, readings, cruiseSpeed, opts.SkipCache, substitute)
		if err != nil {
			return nil, err
		}
		waypoints = append(waypoints, wp)
	}

	// Headings and ETAs depend on the final waypoint positions.
	now := s.clock.Now()
	elapsed := time.Duration(0)
	for i := range waypoints {
		if i < len(waypoints)-1 {
			next := waypoints[i+1]
			waypoints[i].Heading = utils.CalculateBearing(
				waypoints[i].Location.Latitude, waypoints[i].Location.Longitude,
				next.Location.Latitude, next.Location.Longitude)
			leg := utils.CalculateDistance(
				waypoints[i].Location.Latitude, waypoints[i].Location.Longitude,
				next.Location.Latitude, next.Location.Longitude)
			speed := utils.KnotsToMps(waypoints[i].RecommendedSpeed)
			if speed > 0 {
				elapsed += time.Duration(leg / speed * float64(time.Second))
			}
		} else if i > 0 {
			waypoints[i].Heading = waypoints[i-1].Heading
		}
		waypoints[i].ETA = now.Add(elapsed)
	}

	risk := s.assessRisk(waypoints, vessel, totalDistance)

	route := &models.SafeRoute{
		ID:                uuid.New().String(),
		Waypoints:         waypoints,
		TotalDistance:     totalDistance,
		EstimatedDuration: elapsed,
		Confidence:        meanWaypointConfidence(waypoints),
		RiskAssessment:    risk,
		CreatedAt:         now,
	}
	route.SafetyScore = clamp(route.Confidence-riskPenalty(risk.Overall), 0, 1)
	return route, nil
}

func (s *RouteService) buildWaypoint(point models.Location, vessel models.VesselProfile, readings []models.DepthReading, cruiseSpeed float64, skipCache, substitute bool) (models.RouteWaypoint, error) {
	result, err := s.validator.Validate(models.ValidateRequest{
		Position:    point,
		VesselDraft: vessel.Draft,
		Readings:    readings,
		SkipCache:   skipCache,
	})
	if err != nil {
		return models.RouteWaypoint{}, fmt.Errorf("validate waypoint: %w", err)
	}

	wp := models.RouteWaypoint{
		Location:         point,
		EstimatedDepth:   result.EstimatedDepth,
		SafetyMargin:     result.SafetyMargin,
		Confidence:       result.Confidence,
		RecommendedSpeed: recommendedSpeed(result.SafetyMargin, vessel.Draft, cruiseSpeed),
		Hazards:          append([]string(nil), result.Warnings...),
	}

	if substitute && (!result.IsValid || result.Confidence < s.cfg.ConfidenceThreshold) {
		if alt := s.bestAlternative(point, vessel, readings, result); alt != nil {
			wp.Alternatives = append(wp.Alternatives, *alt)
			wp.Location = alt.Location
			wp.EstimatedDepth = alt.EstimatedDepth
			wp.Confidence = alt.Confidence
			if alt.EstimatedDepth != nil {
				margin := *alt.EstimatedDepth - vessel.Draft
				wp.SafetyMargin = &margin
				wp.RecommendedSpeed = recommendedSpeed(&margin, vessel.Draft, cruiseSpeed)
			}
		}
	}

	return wp, nil
}

// bestAlternative probes perpendicular offsets around a failed waypoint and
// returns the candidate with the largest safety improvement, or nil when no
// candidate improves on the original.
func (s *RouteService) bestAlternative(point models.Location, vessel models.VesselProfile, readings []models.DepthReading, original *models.ValidationResult) *models.AlternativeWaypoint {
	originalScore := validationScore(original)

	var best *models.AlternativeWaypoint
	for _, offset := range alternativeOffsetsM {
		// Offset perpendicular to north keeps probing simple; the
		// validation pass decides whether the water is actually better.
		bearing := 90.0
		if offset < 0 {
			bearing = 270.0
		}
		lat, lon := utils.DestinationPoint(point.Latitude, point.Longitude, bearing, math.Abs(offset))
		candidate := models.Location{Latitude: lat, Longitude: lon}

		result, err := s.validator.Validate(models.ValidateRequest{
			Position:    candidate,
			VesselDraft: vessel.Draft,
			Readings:    readings,
		})
		if err != nil {
			continue
		}
		improvement := validationScore(result) - originalScore
		if improvement <= 0 {
			continue
		}
		if best == nil || improvement > best.SafetyImprovement {
			best = &models.AlternativeWaypoint{
				Location:          candidate,
				EstimatedDepth:    result.EstimatedDepth,
				Confidence:        result.Confidence,
				SafetyImprovement: improvement,
			}
		}
	}
	return best
}

// planAlternatives builds up to 3 comparison routes. Alternatives never
// carry alternatives of their own.
func (s *RouteService) planAlternatives(start, end models.Location, vessel models.VesselProfile, readings []models.DepthReading, opts models.RouteOptions) []*models.SafeRoute {
	var alternatives []*models.SafeRoute

	// Shortest: the direct track without waypoint substitution.
	if shortest, err := s.planSingle(start, end, vessel, readings, opts, false); err == nil {
		shortest.AlternativeRoutes = nil
		alternatives = append(alternatives, shortest)
	}

	// Safety-maximizing: a dog-leg through the midpoint offset to each side;
	// keep the higher-scoring of the two.
	var bestDetour *models.SafeRoute
	midLat, midLon := utils.IntermediatePoint(start.Latitude, start.Longitude, end.Latitude, end.Longitude, 0.5)
	track := utils.CalculateBearing(start.Latitude, start.Longitude, end.Latitude, end.Longitude)
	for _, side := range []float64{90, -90} {
		viaLat, viaLon := utils.DestinationPoint(midLat, midLon, math.Mod(track+side+360, 360), s.cfg.WaypointSpacingM)
		via := models.Location{Latitude: viaLat, Longitude: viaLon}

		first, err := s.planSingle(start, via, vessel, readings, opts, true)
		if err != nil {
			continue
		}
		second, err := s.planSingle(via, end, vessel, readings, opts, true)
		if err != nil {
			continue
		}
		combined := joinRoutes(first, second)
		if bestDetour == nil || combined.SafetyScore > bestDetour.SafetyScore {
			bestDetour = combined
		}
	}
	if bestDetour != nil {
		bestDetour.AlternativeRoutes = nil
		alternatives = append(alternatives, bestDetour)
	}

	if len(alternatives) > 3 {
		alternatives = alternatives[:3]
	}
	return alternatives
}

// joinRoutes concatenates two legs, dropping the duplicated via waypoint.
func joinRoutes(a, b *models.SafeRoute) *models.SafeRoute {
	waypoints := make([]models.RouteWaypoint, 0, len(a.Waypoints)+len(b.Waypoints)-1)
	waypoints = append(waypoints, a.Waypoints...)
	waypoints = append(waypoints, b.Waypoints[1:]...)

	overall := a.RiskAssessment.Overall
	if models.RiskLevelRank(b.RiskAssessment.Overall) > models.RiskLevelRank(overall) {
		overall = b.RiskAssessment.Overall
	}
	risk := models.RiskAssessment{
		Overall:          overall,
		Factors:          append(append([]models.RiskFactor(nil), a.RiskAssessment.Factors...), b.RiskAssessment.Factors...),
		ContingencyPlans: append(append([]string(nil), a.RiskAssessment.ContingencyPlans...), b.RiskAssessment.ContingencyPlans...),
	}

	route := &models.SafeRoute{
		ID:                uuid.New().String(),
		Waypoints:         waypoints,
		TotalDistance:     a.TotalDistance + b.TotalDistance,
		EstimatedDuration: a.EstimatedDuration + b.EstimatedDuration,
		Confidence:        meanWaypointConfidence(waypoints),
		RiskAssessment:    risk,
		CreatedAt:         a.CreatedAt,
	}
	route.SafetyScore = clamp(route.Confidence-riskPenalty(overall), 0, 1)
	return route
}

// assessRisk combines depth, weather, and navigation factors; overall risk
// is the maximum severity across factors.
func (s *RouteService) assessRisk(waypoints []models.RouteWaypoint, vessel models.VesselProfile, totalDistance float64) models.RiskAssessment {
	depthFactor := depthRisk(waypoints, vessel)
	weatherFactor := weatherRisk(totalDistance)
	navFactor := navigationRisk(waypoints)

	factors := []models.RiskFactor{depthFactor, weatherFactor, navFactor}
	overall := models.RiskLow
	for _, f := range factors {
		if models.RiskLevelRank(f.Level) > models.RiskLevelRank(overall) {
			overall = f.Level
		}
	}

	var plans []string
	for _, f := range factors {
		if models.RiskLevelRank(f.Level) >= models.RiskLevelRank(models.RiskMedium) {
			plans = append(plans, contingencyPlan(f.Name))
		}
	}

	return models.RiskAssessment{Overall: overall, Factors: factors, ContingencyPlans: plans}
}

func depthRisk(waypoints []models.RouteWaypoint, vessel models.VesselProfile) models.RiskFactor {
	minMargin := math.MaxFloat64
	unknown := 0
	for _, wp := range waypoints {
		if wp.SafetyMargin == nil {
			unknown++
			continue
		}
		if *wp.SafetyMargin < minMargin {
			minMargin = *wp.SafetyMargin
		}
	}

	level := models.RiskLow
	desc := "adequate depth along the planned track"
	switch {
	case minMargin < 0:
		level = models.RiskCritical
		desc = "planned track crosses water shallower than the vessel draft"
	case minMargin < vessel.Draft:
		level = models.RiskHigh
		desc = fmt.Sprintf("minimum under-keel clearance %.1fm", minMargin)
	case minMargin < 1.5*vessel.Draft || unknown > len(waypoints)/2:
		level = models.RiskMedium
		desc = "limited clearance or depth unknown along part of the track"
	}
	return models.RiskFactor{Name: "depth", Level: level, Score: riskScore(level), Description: desc}
}

// weatherRisk is a conservative default derived from exposure: this core
// has no live weather feed, so longer open-water legs score higher.
func weatherRisk(totalDistance float64) models.RiskFactor {
	level := models.RiskLow
	desc := "short transit, limited weather exposure"
	switch {
	case totalDistance > 100000:
		level = models.RiskHigh
		desc = "long open-water transit, obtain a weather forecast"
	case totalDistance > 50000:
		level = models.RiskMedium
		desc = "extended transit, check the forecast before departure"
	}
	return models.RiskFactor{Name: "weather", Level: level, Score: riskScore(level), Description: desc}
}

func navigationRisk(waypoints []models.RouteWaypoint) models.RiskFactor {
	lowConfidence := 0
	for _, wp := range waypoints {
		if wp.Confidence < 0.4 {
			lowConfidence++
		}
	}
	frac := float64(lowConfidence) / float64(len(waypoints))

	level := models.RiskLow
	desc := "waypoint data quality is consistent"
	switch {
	case frac > 0.5:
		level = models.RiskHigh
		desc = "most waypoints have poorly supported depth estimates"
	case frac > 0.2:
		level = models.RiskMedium
		desc = "several waypoints have poorly supported depth estimates"
	}
	return models.RiskFactor{Name: "navigation", Level: level, Score: riskScore(level), Description: desc}
}

func contingencyPlan(factor string) string {
	switch factor {
	case "depth":
		return "Identify bail-out anchorages with confirmed depth along the route"
	case "weather":
		return "Plan sheltered waiting points and set a go/no-go weather window"
	case "navigation":
		return "Slow down and verify depth by sounder where estimates are weak"
	default:
		return "Review the route before departure"
	}
}

func riskScore(level string) float64 {
	switch level {
	case models.RiskCritical:
		return 1.0
	case models.RiskHigh:
		return 0.75
	case models.RiskMedium:
		return 0.5
	default:
		return 0.25
	}
}

func riskPenalty(level string) float64 {
	switch level {
	case models.RiskCritical:
		return 0.6
	case models.RiskHigh:
		return 0.3
	case models.RiskMedium:
		return 0.1
	default:
		return 0
	}
}

// recommendedSpeed scales cruise speed down as clearance shrinks.
func recommendedSpeed(margin *float64, draft, cruiseSpeed float64) float64 {
	if margin == nil {
		return cruiseSpeed * 0.5
	}
	switch {
	case *margin < 0:
		return math.Min(cruiseSpeed, 3)
	case *margin < draft:
		return cruiseSpeed * 0.5
	case *margin < 1.5*draft:
		return cruiseSpeed * 0.75
	default:
		return cruiseSpeed
	}
}

func meanWaypointConfidence(waypoints []models.RouteWaypoint) float64 {
	if len(waypoints) == 0 {
		return 0
	}
	var sum float64
	for _, wp := range waypoints {
		sum += wp.Confidence
	}
	return sum / float64(len(waypoints))
}

func validationScore(result *models.ValidationResult) float64 {
	if result.EstimatedDepth == nil {
		return 0
	}
	return result.Confidence * *result.EstimatedDepth
}

// =================== ACTIVE ROUTE MONITORING ===================

// StartMonitoring makes route the active route. Any previously monitored
// route is discarded.
func (s *RouteService) StartMonitoring(route *models.SafeRoute, current models.Location) error {
	if route == nil || len(route.Waypoints) == 0 {
		return ErrEmptyRoute
	}
	if err := current.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = &activeRoute{route: route, startedAt: s.clock.Now()}

	logrus.WithField("routeId", route.ID).Info("route monitoring started")
	return nil
}

// StopMonitoring clears the active route and discards outstanding
// recommendations. Safe to call when nothing is monitored.
func (s *RouteService) StopMonitoring() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		logrus.WithField("routeId", s.active.route.ID).Info("route monitoring stopped")
	}
	s.active = nil
}

// Monitoring reports whether a route is currently active.
func (s *RouteService) Monitoring() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// UpdateLocation compares a live position against the active route and
// returns a status snapshot with any deviation or speed findings.
func (s *RouteService) UpdateLocation(current models.Location) (*models.NavigationStatus, error) {
	if err := current.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil, ErrNoActiveRoute
	}

	now := s.clock.Now()
	route := s.active.route
	waypoints := route.Waypoints

	// Advance past waypoints the vessel has reached.
	var events []models.RouteEvent
	for s.active.currentIdx < len(waypoints)-1 {
		d := utils.CalculateDistance(current.Latitude, current.Longitude,
			waypoints[s.active.currentIdx].Location.Latitude, waypoints[s.active.currentIdx].Location.Longitude)
		if d > s.cfg.WaypointArrivalRadiusM {
			break
		}
		events = append(events, models.RouteEvent{
			Type:     models.RouteEventArrival,
			Severity: models.SeverityInfo,
			Message:  fmt.Sprintf("reached waypoint %d", s.active.currentIdx),
		})
		s.active.currentIdx++
	}

	idx := s.active.currentIdx
	target := waypoints[idx]
	distToWaypoint := utils.CalculateDistance(current.Latitude, current.Longitude,
		target.Location.Latitude, target.Location.Longitude)

	speed := current.SpeedOrZero()
	var timeToWaypoint time.Duration
	if speed > 0 {
		timeToWaypoint = time.Duration(distToWaypoint / utils.KnotsToMps(speed) * float64(time.Second))
	}

	// Deviation is measured against the leg leading into the current
	// target waypoint.
	deviation := 0.0
	if idx > 0 {
		prev := waypoints[idx-1]
		deviation = utils.CrossTrackDistance(current.Latitude, current.Longitude,
			prev.Location.Latitude, prev.Location.Longitude,
			target.Location.Latitude, target.Location.Longitude)
	}

	speedVariance := math.Abs(speed - target.RecommendedSpeed)

	// Purge expired recommendations before adding new findings.
	s.active.recommendations = pruneExpired(s.active.recommendations, now)

	if deviation > s.cfg.RouteDeviationThresholdM {
		severity := models.SeverityWarning
		acceptance := models.AcceptanceUserApproval
		if s.cfg.AutoCorrectMinorDeviations && deviation < s.cfg.MajorDeviationThresholdM {
			acceptance = models.AcceptanceAutomatic
			severity = models.SeverityCaution
		}
		events = append(events, models.RouteEvent{
			Type:     models.RouteEventDeviation,
			Severity: severity,
			Message:  fmt.Sprintf("%.0fm off the planned track", deviation),
		})
		heading := utils.CalculateBearing(current.Latitude, current.Longitude,
			target.Location.Latitude, target.Location.Longitude)
		s.active.recommendations = append(s.active.recommendations, models.RouteRecommendation{
			ID:         uuid.New().String(),
			Type:       "course_correction",
			Message:    fmt.Sprintf("steer %03.0f° to rejoin the planned track", heading),
			Acceptance: acceptance,
			CreatedAt:  now,
			ExpiresAt:  now.Add(s.cfg.RecommendationTTL),
		})
	}

	if speedVariance > s.cfg.SpeedVarianceThresholdKn {
		events = append(events, models.RouteEvent{
			Type:     models.RouteEventSpeed,
			Severity: models.SeverityCaution,
			Message:  fmt.Sprintf("speed off recommendation by %.1fkn", speedVariance),
		})
		s.active.recommendations = append(s.active.recommendations, models.RouteRecommendation{
			ID:         uuid.New().String(),
			Type:       "speed_adjustment",
			Message:    fmt.Sprintf("adjust speed to %.1fkn", target.RecommendedSpeed),
			Acceptance: models.AcceptanceUserApproval,
			CreatedAt:  now,
			ExpiresAt:  now.Add(s.cfg.RecommendationTTL),
		})
	}

	next := idx
	if idx < len(waypoints)-1 {
		next = idx + 1
	}

	status := &models.NavigationStatus{
		Timestamp:            now,
		Position:             current,
		CurrentWaypointIndex: idx,
		NextWaypointIndex:    next,
		DistanceToWaypoint:   distToWaypoint,
		TimeToWaypoint:       timeToWaypoint,
		RouteDeviation:       deviation,
		SpeedVariance:        speedVariance,
		OnTrack:              deviation <= s.cfg.RouteDeviationThresholdM,
		Recommendations:      append([]models.RouteRecommendation(nil), s.active.recommendations...),
		Events:               events,
	}
	return status, nil
}

func pruneExpired(recs []models.RouteRecommendation, now time.Time) []models.RouteRecommendation {
	kept := recs[:0]
	for _, r := range recs {
		if now.Before(r.ExpiresAt) {
			kept = append(kept, r)
		}
	}
	return kept
}
