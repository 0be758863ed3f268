package services

import (
	"fmt"
	"math"
	"sort"
	"time"

	"depthguard/config"
	"depthguard/models"
	"depthguard/observability"
	"depthguard/utils"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// severityThreshold is one row of the fixed grounding classification table,
// checked in order of decreasing urgency.
type severityThreshold struct {
	severity     string
	maxRatio     float64
	maxTimeToHit time.Duration
}

var groundingThresholds = []severityThreshold{
	{models.SeverityEmergency, 0.8, 15 * time.Second},
	{models.SeverityCritical, 0.9, 30 * time.Second},
	{models.SeverityWarning, 1.2, 120 * time.Second},
	{models.SeverityCaution, 1.5, 300 * time.Second},
	{models.SeverityInfo, 2.0, 600 * time.Second},
}

var courseChangeDeltas = []float64{-90, -60, -45, -30, 30, 45, 60, 90}

var speedReductionFactors = []float64{0.5, 0.3, 0.1}

// GroundingRiskService projects a vessel's track and evaluates grounding
// severity at each projected point.
type GroundingRiskService struct {
	cfg     *config.Config
	clock   clockwork.Clock
	metrics *observability.Metrics
}

func NewGroundingRiskService(cfg *config.Config, clock clockwork.Clock, metrics *observability.Metrics) *GroundingRiskService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &GroundingRiskService{cfg: cfg, clock: clock, metrics: metrics}
}

// Project samples the great-circle track ahead of the vessel and returns
// grounding alerts sorted by severity, then ascending time-to-impact.
func (s *GroundingRiskService) Project(position models.Location, heading, speedKnots float64, vessel models.VesselProfile, readings []models.DepthReading) ([]models.GroundingAlert, error) {
	if err := position.Validate(); err != nil {
		return nil, err
	}
	if vessel.Draft <= 0 {
		return nil, models.ErrInvalidDraft
	}
	if speedKnots <= 0 {
		return nil, nil
	}

	speedMps := utils.KnotsToMps(speedKnots)
	step := s.cfg.ProjectionStep
	horizon := s.cfg.ProjectionHorizon

	var alerts []models.GroundingAlert
	for t := step; t <= horizon; t += step {
		dist := speedMps * t.Seconds()
		lat, lon := utils.DestinationPoint(position.Latitude, position.Longitude, heading, dist)
		point := models.Location{Latitude: lat, Longitude: lon}

		depth, ok := s.resolveDepth(point, readings)
		if !ok {
			continue
		}

		ratio := depth / vessel.Draft
		severity, qualifies := classifySeverity(ratio, t)
		if !qualifies {
			continue
		}
		// Noise suppression: informational findings with comfortable
		// clearance are not worth emitting.
		if severity == models.SeverityInfo && depth-vessel.Draft > 0.5*vessel.Draft {
			continue
		}

		alert := models.GroundingAlert{
			ID:               uuid.New().String(),
			Severity:         severity,
			Position:         point,
			EstimatedDepth:   depth,
			DepthRatio:       ratio,
			TimeToImpact:     t,
			DistanceToHazard: dist,
			Confidence:       s.alertConfidence(point, readings),
		}
		alert.Actions = s.generateAvoidanceActions(position, heading, speedMps, vessel, readings, dist)
		alert.RecommendedAction = bestAction(alert.Actions)

		if s.metrics != nil {
			s.metrics.GroundingAlertsTotal.WithLabelValues(severity).Inc()
		}
		alerts = append(alerts, alert)
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		li, lj := models.SeverityLevel(alerts[i].Severity), models.SeverityLevel(alerts[j].Severity)
		if li != lj {
			return li > lj
		}
		return alerts[i].TimeToImpact < alerts[j].TimeToImpact
	})

	if len(alerts) > 0 {
		logrus.WithFields(logrus.Fields{
			"count":    len(alerts),
			"severity": alerts[0].Severity,
		}).Debug("grounding risk projected")
	}
	return alerts, nil
}

// classifySeverity walks the threshold table from most to least urgent.
func classifySeverity(depthRatio float64, timeToImpact time.Duration) (string, bool) {
	for _, th := range groundingThresholds {
		if depthRatio <= th.maxRatio && timeToImpact <= th.maxTimeToHit {
			return th.severity, true
		}
	}
	return "", false
}

// resolveDepth interpolates depth at a point via inverse-distance-squared
// weighting, preferring close readings and widening once before giving up.
func (s *GroundingRiskService) resolveDepth(point models.Location, readings []models.DepthReading) (float64, bool) {
	for _, radius := range []float64{s.cfg.OfficialChartRadius, s.cfg.SearchRadiusM} {
		var weightSum, depthSum float64
		for _, r := range readings {
			d := utils.CalculateDistance(point.Latitude, point.Longitude, r.Location.Latitude, r.Location.Longitude)
			if d > radius {
				continue
			}
			if d < utils.MinDistanceM {
				d = utils.MinDistanceM
			}
			w := r.Confidence * (1 / (d * d)) * sourceWeight(r.Source)
			weightSum += w
			depthSum += w * r.Depth
		}
		if weightSum > 0 {
			return depthSum / weightSum, true
		}
	}
	return 0, false
}

// alertConfidence scores an alert by reading density and quality near the
// hazard point, capped at 1.0.
func (s *GroundingRiskService) alertConfidence(point models.Location, readings []models.DepthReading) float64 {
	var nearby []models.DepthReading
	for _, r := range readings {
		d := utils.CalculateDistance(point.Latitude, point.Longitude, r.Location.Latitude, r.Location.Longitude)
		if d <= s.cfg.OfficialChartRadius {
			nearby = append(nearby, r)
		}
	}
	if len(nearby) == 0 {
		return 0.2
	}
	countBonus := math.Min(0.4, 0.05*float64(len(nearby)))
	return math.Min(1.0, 0.3+0.3*meanConfidence(nearby)+countBonus)
}

// generateAvoidanceActions builds the candidate maneuvers for a hazard:
// course changes, speed reductions, and an emergency-stop fallback.
func (s *GroundingRiskService) generateAvoidanceActions(position models.Location, heading, speedMps float64, vessel models.VesselProfile, readings []models.DepthReading, distToHazard float64) []models.AvoidanceAction {
	var actions []models.AvoidanceAction

	for _, delta := range courseChangeDeltas {
		newHeading := math.Mod(heading+delta+360, 360)
		minDepth, success := s.evaluateCourse(position, newHeading, speedMps, vessel, readings)
		actions = append(actions, models.AvoidanceAction{
			Type:               models.ActionCourseChange,
			Priority:           3,
			HeadingChange:      delta,
			MinProjectedDepth:  minDepth,
			SuccessProbability: success,
			Description:        fmt.Sprintf("alter course %+.0f° to heading %03.0f°", delta, newHeading),
		})
	}

	decel := stoppingDeceleration(vessel.Displacement)
	for _, factor := range speedReductionFactors {
		reduced := speedMps * factor
		stopping := (reduced * reduced) / (2 * decel)
		success := 0.3
		if stopping < distToHazard {
			success = 0.9
		}
		actions = append(actions, models.AvoidanceAction{
			Type:               models.ActionSpeedReduction,
			Priority:           6,
			SpeedFactor:        factor,
			StoppingDistance:   stopping,
			SuccessProbability: success,
			Description:        fmt.Sprintf("reduce speed to %.0f%% of current", factor*100),
		})
	}

	stopping := (speedMps * speedMps) / (2 * decel)
	stopSuccess := 0.2
	if stopping < 0.8*distToHazard {
		stopSuccess = 0.8
	}
	actions = append(actions, models.AvoidanceAction{
		Type:               models.ActionEmergencyStop,
		Priority:           10,
		StoppingDistance:   stopping,
		SuccessProbability: stopSuccess,
		Description:        "emergency stop: full astern",
	})

	return actions
}

// evaluateCourse projects the avoidance window on a new heading and scores
// it: +0.1 success per sampled point clearing 1.5×draft, capped at 1.0.
func (s *GroundingRiskService) evaluateCourse(position models.Location, heading, speedMps float64, vessel models.VesselProfile, readings []models.DepthReading) (minDepth, success float64) {
	minDepth = math.MaxFloat64
	sampled := false

	step := s.cfg.ProjectionStep
	for t := step; t <= s.cfg.AvoidanceHorizon; t += step {
		dist := speedMps * t.Seconds()
		lat, lon := utils.DestinationPoint(position.Latitude, position.Longitude, heading, dist)
		depth, ok := s.resolveDepth(models.Location{Latitude: lat, Longitude: lon}, readings)
		if !ok {
			continue
		}
		sampled = true
		if depth < minDepth {
			minDepth = depth
		}
		if depth >= 1.5*vessel.Draft {
			success += 0.1
		}
	}

	if !sampled {
		return 0, 0
	}
	return minDepth, math.Min(1.0, success)
}

// stoppingDeceleration derives a crude deceleration from displacement,
// floored at 0.5 m/s².
func stoppingDeceleration(displacementKg float64) float64 {
	if displacementKg <= 0 {
		return 0.5
	}
	return math.Max(0.5, 5/math.Sqrt(displacementKg))
}

func bestAction(actions []models.AvoidanceAction) *models.AvoidanceAction {
	if len(actions) == 0 {
		return nil
	}
	best := actions[0]
	for _, a := range actions[1:] {
		if a.SuccessProbability > best.SuccessProbability {
			best = a
		}
	}
	return &best
}
