package services

import (
	"fmt"
	"math"
	"sort"
	"time"

	"depthguard/config"
	"depthguard/interfaces"
	"depthguard/models"
	"depthguard/observability"
	"depthguard/utils"

	"github.com/jonboulle/clockwork"
	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"
)

// Source weights applied during inverse-distance fusion.
const (
	sourceWeightOfficial  = 2.0
	sourceWeightPredicted = 0.8
	sourceWeightDefault   = 1.0

	// Decay constants for reading age.
	weightDecayDays     = 7.0
	confidenceDecayDays = 14.0

	// Crowdsourced confidence never reaches official-chart confidence.
	crowdsourceConfidenceCap = 0.9
	officialConfidenceCap    = 0.95

	lowReliabilityThreshold = 0.5
)

// defaultReliabilityScorer weights official and sensor sources at full
// reliability and crowdsourced contributions slightly below.
type defaultReliabilityScorer struct{}

func (defaultReliabilityScorer) Score(r models.DepthReading) float64 {
	if r.Source == models.SourceCrowdsource {
		return 0.8
	}
	return 1.0
}

// DepthValidationService scores and fuses depth readings near a point into
// a single estimated depth with confidence and safety margin.
type DepthValidationService struct {
	cfg       *config.Config
	cache     *utils.BoundedCache
	scorer    interfaces.ReliabilityScorer
	validator *utils.ValidationService
	clock     clockwork.Clock
	metrics   *observability.Metrics
}

func NewDepthValidationService(cfg *config.Config, clock clockwork.Clock, metrics *observability.Metrics) *DepthValidationService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &DepthValidationService{
		cfg:       cfg,
		cache:     utils.NewBoundedCache(cfg.CacheCapacity, cfg.CacheTTL, clock),
		scorer:    defaultReliabilityScorer{},
		validator: utils.NewValidationService(),
		clock:     clock,
		metrics:   metrics,
	}
}

// SetReliabilityScorer replaces the default per-user reliability source.
func (s *DepthValidationService) SetReliabilityScorer(scorer interfaces.ReliabilityScorer) {
	if scorer != nil {
		s.scorer = scorer
	}
}

// Validate resolves the depth at a position for a vessel draft. Readings
// may be empty; chart carries official soundings and may be nil.
// Insufficient data is a result, not an error.
func (s *DepthValidationService) Validate(req models.ValidateRequest) (*models.ValidationResult, error) {
	if err := req.Position.Validate(); err != nil {
		return nil, err
	}
	if req.VesselDraft <= 0 {
		return nil, models.ErrInvalidDraft
	}

	cacheKey := fmt.Sprintf("%.4f:%.4f:%.2f", req.Position.Latitude, req.Position.Longitude, req.VesselDraft)
	if !req.SkipCache {
		if cached, ok := s.cache.Get(cacheKey); ok {
			s.countCache("hit")
			result := cached.(models.ValidationResult)
			return &result, nil
		}
		s.countCache("miss")
	}

	result := s.validate(req)
	result.ComputedAt = s.clock.Now()

	if !req.SkipCache {
		s.cache.Put(cacheKey, *result)
	}
	if s.metrics != nil {
		s.metrics.ValidationsTotal.WithLabelValues(result.Method).Inc()
	}
	return result, nil
}

func (s *DepthValidationService) validate(req models.ValidateRequest) *models.ValidationResult {
	now := s.clock.Now()
	relevant := s.filterReadings(req.Position, req.Readings, now)

	// Official chart data within close range wins over crowdsourced fusion.
	officialNearby := s.nearbyChartPoints(req.Position, req.Chart)
	if len(officialNearby) > 0 {
		return s.validateFromChart(req, officialNearby, relevant)
	}

	if len(relevant) < s.cfg.MinDataPoints {
		return s.insufficientData(len(relevant))
	}

	analysis := s.analyzeQuality(req.Position, relevant, now)
	kept := excludeReadings(relevant, analysis.excluded)
	if len(kept) == 0 {
		return s.insufficientData(0)
	}

	estimate := s.weightedDepth(req.Position, kept, now)
	confidence := s.computeConfidence(req.Position, kept, analysis, now)

	margin := estimate - req.VesselDraft
	method := models.MethodInterpolation
	if predictedMajority(kept) {
		method = models.MethodMLPrediction
	}

	result := &models.ValidationResult{
		IsValid:        confidence >= s.cfg.ConfidenceThreshold,
		Confidence:     confidence,
		EstimatedDepth: &estimate,
		SafetyMargin:   &margin,
		Method:         method,
		Quality:        analysis.metrics,
	}
	s.appendMarginAdvice(result, margin, req.VesselDraft)

	logrus.WithFields(logrus.Fields{
		"lat":        req.Position.Latitude,
		"lon":        req.Position.Longitude,
		"depth":      estimate,
		"confidence": confidence,
		"method":     method,
	}).Debug("depth validation computed")

	return result
}

// filterReadings keeps readings within the search radius and age limit.
func (s *DepthValidationService) filterReadings(pos models.Location, readings []models.DepthReading, now time.Time) []models.DepthReading {
	var relevant []models.DepthReading
	for _, r := range readings {
		if r.Depth < 0 || r.Location.Validate() != nil {
			continue
		}
		if now.Sub(r.Timestamp) > s.cfg.MaxDataAge {
			continue
		}
		d := utils.CalculateDistance(pos.Latitude, pos.Longitude, r.Location.Latitude, r.Location.Longitude)
		if d <= s.cfg.SearchRadiusM {
			relevant = append(relevant, r)
		}
	}
	return relevant
}

func (s *DepthValidationService) nearbyChartPoints(pos models.Location, chart []models.DepthReading) []models.DepthReading {
	var nearby []models.DepthReading
	for _, p := range chart {
		d := utils.CalculateDistance(pos.Latitude, pos.Longitude, p.Location.Latitude, p.Location.Longitude)
		if d <= s.cfg.OfficialChartRadius {
			nearby = append(nearby, p)
		}
	}
	return nearby
}

// validateFromChart interpolates official soundings with inverse-distance-
// squared weighting and cross-validates against the crowdsourced estimate.
func (s *DepthValidationService) validateFromChart(req models.ValidateRequest, chart, crowd []models.DepthReading) *models.ValidationResult {
	var weightSum, depthSum float64
	nearest := math.MaxFloat64
	for _, p := range chart {
		d := utils.CalculateDistance(req.Position.Latitude, req.Position.Longitude, p.Location.Latitude, p.Location.Longitude)
		if d < utils.MinDistanceM {
			d = utils.MinDistanceM
		}
		if d < nearest {
			nearest = d
		}
		w := 1.0 / (d * d)
		weightSum += w
		depthSum += w * p.Depth
	}
	estimate := depthSum / weightSum

	densityBonus := math.Min(0.1, float64(len(chart))*0.02)
	proximityBonus := 0.1 * (1.0 - nearest/s.cfg.OfficialChartRadius)
	if proximityBonus < 0 {
		proximityBonus = 0
	}
	confidence := math.Min(officialConfidenceCap, 0.8+densityBonus+proximityBonus)

	margin := estimate - req.VesselDraft
	result := &models.ValidationResult{
		IsValid:        confidence >= s.cfg.ConfidenceThreshold,
		Confidence:     confidence,
		EstimatedDepth: &estimate,
		SafetyMargin:   &margin,
		Method:         models.MethodOfficialChart,
		Quality: models.QualityMetrics{
			ReadingCount:   len(chart),
			MeanConfidence: confidence,
		},
	}

	// Cross-validate chart against the crowdsourced picture when enough
	// independent readings exist.
	if len(crowd) >= s.cfg.MinDataPoints {
		crowdEstimate := s.weightedDepth(req.Position, crowd, s.clock.Now())
		tolerance := math.Max(2.0, 0.2*estimate)
		if math.Abs(crowdEstimate-estimate) > tolerance {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("crowdsourced depth estimate (%.1fm) disagrees with official chart (%.1fm)", crowdEstimate, estimate))
			result.Recommendations = append(result.Recommendations,
				"Verify depth manually before transiting this area")
		}
	}

	s.appendMarginAdvice(result, margin, req.VesselDraft)
	return result
}

func (s *DepthValidationService) insufficientData(count int) *models.ValidationResult {
	return &models.ValidationResult{
		IsValid:    false,
		Confidence: 0,
		Method:     models.MethodInsufficientData,
		Quality:    models.QualityMetrics{ReadingCount: count},
		Warnings: []string{
			"Not enough depth data near this position for a reliable estimate",
		},
		Recommendations: []string{
			"Consult official nautical charts for this area",
			"Use a depth sounder while transiting",
			"Reduce speed until depth is confirmed",
		},
	}
}

type qualityAnalysis struct {
	metrics  models.QualityMetrics
	excluded map[string]bool
}

// tukeyQuartiles computes Q1 and Q3 as the medians of the lower and upper
// halves with the overall median included in both halves (Tukey's hinges).
// The inclusive split keeps small agreeing sets honest: one wild depth in
// an otherwise consistent set collapses the IQR to zero and puts the wild
// reading outside the fences.
func tukeyQuartiles(depths []float64) (q1, q3 float64, err error) {
	n := len(depths)
	if n < 2 {
		return 0, 0, fmt.Errorf("need at least 2 depths, got %d", n)
	}
	sorted := make([]float64, n)
	copy(sorted, depths)
	sort.Float64s(sorted)

	half := n / 2
	lower, upper := sorted[:half], sorted[n-half:]
	if n%2 == 1 {
		lower, upper = sorted[:half+1], sorted[half:]
	}
	if q1, err = stats.Median(lower); err != nil {
		return 0, 0, err
	}
	if q3, err = stats.Median(upper); err != nil {
		return 0, 0, err
	}
	return q1, q3, nil
}

// analyzeQuality runs the statistical screens over a reading set: IQR
// outlier fences, temporal inconsistency, and single-user reliability skew.
// Extreme outliers and skewed-user readings are excluded; the set-wide
// temporal pattern only raises the outlier fraction (downweighting).
func (s *DepthValidationService) analyzeQuality(pos models.Location, readings []models.DepthReading, now time.Time) qualityAnalysis {
	analysis := qualityAnalysis{excluded: make(map[string]bool)}

	depths := make([]float64, len(readings))
	for i, r := range readings {
		depths[i] = r.Depth
	}

	flagged := make(map[string]bool)

	q1, q3, err := tukeyQuartiles(depths)
	if err == nil {
		iqr := q3 - q1
		lower, upper := q1-1.5*iqr, q3+1.5*iqr
		extremeLower, extremeUpper := q1-3*iqr, q3+3*iqr

		var outlierIDs, extremeIDs []string
		for _, r := range readings {
			if r.Depth < extremeLower || r.Depth > extremeUpper {
				extremeIDs = append(extremeIDs, r.ID)
				flagged[r.ID] = true
				analysis.excluded[r.ID] = true
			} else if r.Depth < lower || r.Depth > upper {
				outlierIDs = append(outlierIDs, r.ID)
				flagged[r.ID] = true
			}
		}
		if len(outlierIDs) > 0 {
			analysis.metrics.Patterns = append(analysis.metrics.Patterns, models.QualityPattern{
				Type:        models.PatternOutlier,
				Severity:    "medium",
				Description: fmt.Sprintf("%d reading(s) outside 1.5×IQR fences", len(outlierIDs)),
				ReadingIDs:  outlierIDs,
			})
		}
		if len(extremeIDs) > 0 {
			analysis.metrics.Patterns = append(analysis.metrics.Patterns, models.QualityPattern{
				Type:        models.PatternExtremeOutlier,
				Severity:    "high",
				Description: fmt.Sprintf("%d reading(s) outside 3×IQR fences", len(extremeIDs)),
				ReadingIDs:  extremeIDs,
			})
		}
	}

	// Temporal inconsistency: large depth swings between close-in-time
	// readings across a meaningful share of the set. Set-wide, so it
	// downweights instead of excluding.
	ordered := make([]models.DepthReading, len(readings))
	copy(ordered, readings)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Timestamp.Before(ordered[j].Timestamp) })
	inconsistent := 0
	for i := 1; i < len(ordered); i++ {
		dt := ordered[i].Timestamp.Sub(ordered[i-1].Timestamp)
		if dt < time.Hour && math.Abs(ordered[i].Depth-ordered[i-1].Depth) > 5 {
			inconsistent++
		}
	}
	if len(readings) > 0 && float64(inconsistent) > 0.2*float64(len(readings)) {
		analysis.metrics.Patterns = append(analysis.metrics.Patterns, models.QualityPattern{
			Type:        models.PatternTemporalInconsistency,
			Severity:    "medium",
			Description: fmt.Sprintf("%d rapid depth change(s) of more than 5m within an hour", inconsistent),
		})
		// Represent the pattern in the outlier fraction without naming IDs.
		for i := 0; i < inconsistent; i++ {
			flagged[fmt.Sprintf("temporal-%d", i)] = true
		}
	}

	// Reliability skew: a single low-reliability user dominating the set.
	perUser := make(map[string][]models.DepthReading)
	for _, r := range readings {
		if r.UserID != "" {
			perUser[r.UserID] = append(perUser[r.UserID], r)
		}
	}
	for user, userReadings := range perUser {
		share := float64(len(userReadings)) / float64(len(readings))
		if share > 0.3 && s.scorer.Score(userReadings[0]) < lowReliabilityThreshold {
			ids := make([]string, len(userReadings))
			for i, r := range userReadings {
				ids[i] = r.ID
				flagged[r.ID] = true
				analysis.excluded[r.ID] = true
			}
			analysis.metrics.Patterns = append(analysis.metrics.Patterns, models.QualityPattern{
				Type:        models.PatternUserReliabilitySkew,
				Severity:    "high",
				Description: fmt.Sprintf("low-reliability user %s contributed %.0f%% of readings", user, share*100),
				ReadingIDs:  ids,
			})
		}
	}

	analysis.metrics.ReadingCount = len(readings)
	analysis.metrics.OutlierCount = len(flagged)
	if len(readings) > 0 {
		analysis.metrics.OutlierFraction = math.Min(1, float64(len(flagged))/float64(len(readings)))
	}
	analysis.metrics.SpatialCoverage = spatialCoverage(pos, readings)
	analysis.metrics.MeanConfidence = meanConfidence(readings)
	analysis.metrics.MeanAge = meanAge(readings, now)

	return analysis
}

// weightedDepth fuses readings into one estimate. Weights combine reading
// confidence, inverse distance squared, user reliability, source weight,
// and exponential age decay. Distances are floored at 1m.
func (s *DepthValidationService) weightedDepth(pos models.Location, readings []models.DepthReading, now time.Time) float64 {
	var weightSum, depthSum float64
	for _, r := range readings {
		d := utils.CalculateDistance(pos.Latitude, pos.Longitude, r.Location.Latitude, r.Location.Longitude)
		if d < utils.MinDistanceM {
			d = utils.MinDistanceM
		}
		ageDays := now.Sub(r.Timestamp).Hours() / 24
		w := r.Confidence * (1 / (d * d)) * s.scorer.Score(r) * sourceWeight(r.Source) * math.Exp(-ageDays/weightDecayDays)
		weightSum += w
		depthSum += w * r.Depth
	}
	if weightSum == 0 {
		// Degenerate weights (all zero-confidence); fall back to the
		// plain mean rather than dividing by zero.
		mean, err := stats.Mean(depthsOf(readings))
		if err != nil {
			return 0
		}
		return mean
	}
	return depthSum / weightSum
}

// computeConfidence applies the crowdsource confidence model and its
// hard cap below official-chart confidence.
func (s *DepthValidationService) computeConfidence(pos models.Location, kept []models.DepthReading, analysis qualityAnalysis, now time.Time) float64 {
	countBonus := math.Min(0.3, 0.05*float64(len(kept)))
	confidence := 0.5 + countBonus +
		0.3*meanConfidence(kept) -
		0.4*analysis.metrics.OutlierFraction +
		0.2*analysis.metrics.SpatialCoverage

	meanAgeDays := meanAge(kept, now).Hours() / 24
	confidence *= math.Exp(-meanAgeDays / confidenceDecayDays)

	return clamp(confidence, 0, crowdsourceConfidenceCap)
}

func (s *DepthValidationService) appendMarginAdvice(result *models.ValidationResult, margin, draft float64) {
	switch {
	case margin < draft:
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("shallow water: only %.1fm clearance under keel", math.Max(0, margin)))
		result.Recommendations = append(result.Recommendations,
			"Proceed with extreme caution and post a lookout")
	case margin < 1.5*draft:
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("limited clearance: %.1fm under keel", margin))
		result.Recommendations = append(result.Recommendations,
			"Reduce speed and monitor depth sounder")
	}
}

func (s *DepthValidationService) countCache(result string) {
	if s.metrics != nil {
		s.metrics.ValidationCache.WithLabelValues(result).Inc()
	}
}

func excludeReadings(readings []models.DepthReading, excluded map[string]bool) []models.DepthReading {
	if len(excluded) == 0 {
		return readings
	}
	kept := make([]models.DepthReading, 0, len(readings))
	for _, r := range readings {
		if !excluded[r.ID] {
			kept = append(kept, r)
		}
	}
	return kept
}

func sourceWeight(source string) float64 {
	switch source {
	case models.SourceOfficial:
		return sourceWeightOfficial
	case models.SourcePredicted:
		return sourceWeightPredicted
	default:
		return sourceWeightDefault
	}
}

func predictedMajority(readings []models.DepthReading) bool {
	predicted := 0
	for _, r := range readings {
		if r.Source == models.SourcePredicted {
			predicted++
		}
	}
	return predicted*2 > len(readings)
}

// spatialCoverage measures how many quadrants around the query point hold
// at least one reading (0-1).
func spatialCoverage(pos models.Location, readings []models.DepthReading) float64 {
	quadrants := make(map[string]bool)
	for _, r := range readings {
		quadrants[utils.GetQuadrant(pos.Latitude, pos.Longitude, r.Location.Latitude, r.Location.Longitude)] = true
	}
	return float64(len(quadrants)) / 4.0
}

func meanConfidence(readings []models.DepthReading) float64 {
	if len(readings) == 0 {
		return 0
	}
	var sum float64
	for _, r := range readings {
		sum += r.Confidence
	}
	return sum / float64(len(readings))
}

func meanAge(readings []models.DepthReading, now time.Time) time.Duration {
	if len(readings) == 0 {
		return 0
	}
	var sum time.Duration
	for _, r := range readings {
		sum += now.Sub(r.Timestamp)
	}
	return sum / time.Duration(len(readings))
}

func depthsOf(readings []models.DepthReading) []float64 {
	depths := make([]float64, len(readings))
	for i, r := range readings {
		depths[i] = r.Depth
	}
	return depths
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
