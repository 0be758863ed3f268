package services

import (
	"fmt"
	"testing"
	"time"

	"depthguard/config"
	"depthguard/models"
	"depthguard/observability"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return config.Load()
}

func testPosition() models.Location {
	return models.Location{Latitude: 37.8, Longitude: -122.4}
}

func reading(id string, lat, lon, depth, confidence float64, ts time.Time) models.DepthReading {
	return models.DepthReading{
		ID:         id,
		Location:   models.Location{Latitude: lat, Longitude: lon, Timestamp: ts},
		Depth:      depth,
		Confidence: confidence,
		Timestamp:  ts,
		Source:     models.SourceCrowdsource,
	}
}

// readingsAround builds n recent crowdsourced readings of the same depth
// spread tightly around the position.
func readingsAround(pos models.Location, n int, depth float64, now time.Time) []models.DepthReading {
	readings := make([]models.DepthReading, n)
	for i := 0; i < n; i++ {
		offset := float64(i%4+1) * 0.0002 // a few tens of meters
		lat, lon := pos.Latitude, pos.Longitude
		switch i % 4 {
		case 0:
			lat += offset
		case 1:
			lat -= offset
		case 2:
			lon += offset
		case 3:
			lon -= offset
		}
		readings[i] = reading(fmt.Sprintf("r%d", i), lat, lon, depth, 0.8, now.Add(-time.Duration(i)*time.Hour))
	}
	return readings
}

func newValidationService(t *testing.T) (*DepthValidationService, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	svc := NewDepthValidationService(testConfig(), clock, observability.NewMetricsForTesting())
	return svc, clock
}

func TestValidateRejectsBadInput(t *testing.T) {
	svc, _ := newValidationService(t)

	_, err := svc.Validate(models.ValidateRequest{
		Position:    models.Location{Latitude: 91, Longitude: 0},
		VesselDraft: 2,
	})
	assert.ErrorIs(t, err, models.ErrInvalidCoordinate)

	_, err = svc.Validate(models.ValidateRequest{
		Position:    testPosition(),
		VesselDraft: 0,
	})
	assert.ErrorIs(t, err, models.ErrInvalidDraft)
}

func TestValidateInsufficientData(t *testing.T) {
	svc, clock := newValidationService(t)
	pos := testPosition()

	result, err := svc.Validate(models.ValidateRequest{
		Position:    pos,
		VesselDraft: 2,
		Readings:    readingsAround(pos, 2, 10, clock.Now()),
		SkipCache:   true,
	})
	require.NoError(t, err)

	assert.False(t, result.IsValid)
	assert.Equal(t, models.MethodInsufficientData, result.Method)
	assert.Equal(t, 0.0, result.Confidence)
	assert.Nil(t, result.EstimatedDepth)
	assert.NotEmpty(t, result.Recommendations)
}

func TestValidateConsistentReadings(t *testing.T) {
	svc, clock := newValidationService(t)
	pos := testPosition()

	result, err := svc.Validate(models.ValidateRequest{
		Position:    pos,
		VesselDraft: 2,
		Readings:    readingsAround(pos, 8, 10, clock.Now()),
		SkipCache:   true,
	})
	require.NoError(t, err)

	require.NotNil(t, result.EstimatedDepth)
	assert.InDelta(t, 10, *result.EstimatedDepth, 0.01)
	require.NotNil(t, result.SafetyMargin)
	assert.InDelta(t, 8, *result.SafetyMargin, 0.01)
	assert.Equal(t, models.MethodInterpolation, result.Method)
	assert.True(t, result.IsValid)
}

func TestValidateConfidenceNeverExceedsCrowdsourceCap(t *testing.T) {
	svc, clock := newValidationService(t)
	pos := testPosition()

	// A dense, fresh, perfectly consistent set still stays below the
	// official-chart confidence band.
	readings := readingsAround(pos, 20, 10, clock.Now())
	for i := range readings {
		readings[i].Confidence = 1.0
		readings[i].Timestamp = clock.Now()
	}

	result, err := svc.Validate(models.ValidateRequest{
		Position:    pos,
		VesselDraft: 2,
		Readings:    readings,
		SkipCache:   true,
	})
	require.NoError(t, err)

	assert.LessOrEqual(t, result.Confidence, 0.9)
	assert.GreaterOrEqual(t, result.Confidence, 0.0)
}

func TestValidateExcludesExtremeOutlier(t *testing.T) {
	svc, clock := newValidationService(t)
	pos := testPosition()

	readings := readingsAround(pos, 8, 10, clock.Now())
	// One wildly wrong reading very close to the query point. Inverse
	// distance weighting alone would let it dominate; the IQR screen must
	// throw it out instead.
	readings = append(readings, reading("wild", pos.Latitude, pos.Longitude, 100, 0.9, clock.Now()))

	result, err := svc.Validate(models.ValidateRequest{
		Position:    pos,
		VesselDraft: 2,
		Readings:    readings,
		SkipCache:   true,
	})
	require.NoError(t, err)

	require.NotNil(t, result.EstimatedDepth)
	assert.InDelta(t, 10, *result.EstimatedDepth, 0.5)

	var sawExtreme bool
	for _, p := range result.Quality.Patterns {
		if p.Type == models.PatternExtremeOutlier {
			sawExtreme = true
			assert.Contains(t, p.ReadingIDs, "wild")
		}
	}
	assert.True(t, sawExtreme, "extreme outlier pattern should be reported")
}

func TestValidateExcludesOutlierInSmallSet(t *testing.T) {
	svc, clock := newValidationService(t)
	pos := testPosition()

	// Four agreeing shallow depths and one wild one. Tukey hinges give a
	// zero IQR here, so the 100m reading must land outside the fences and
	// stay out of the estimate.
	readings := []models.DepthReading{
		reading("a", pos.Latitude+0.0002, pos.Longitude, 1, 0.9, clock.Now()),
		reading("b", pos.Latitude-0.0002, pos.Longitude, 1, 0.9, clock.Now()),
		reading("c", pos.Latitude, pos.Longitude+0.0002, 1, 0.9, clock.Now()),
		reading("d", pos.Latitude, pos.Longitude-0.0002, 1, 0.9, clock.Now()),
		reading("wild", pos.Latitude, pos.Longitude, 100, 0.9, clock.Now()),
	}

	result, err := svc.Validate(models.ValidateRequest{
		Position:    pos,
		VesselDraft: 2,
		Readings:    readings,
		SkipCache:   true,
	})
	require.NoError(t, err)

	require.NotNil(t, result.EstimatedDepth)
	assert.InDelta(t, 1, *result.EstimatedDepth, 0.01)

	var sawExtreme bool
	for _, p := range result.Quality.Patterns {
		if p.Type == models.PatternExtremeOutlier {
			sawExtreme = true
			assert.Contains(t, p.ReadingIDs, "wild")
		}
	}
	assert.True(t, sawExtreme, "the lone wild reading should be flagged extreme")
}

func TestValidateOutliersLowerConfidence(t *testing.T) {
	svc, clock := newValidationService(t)
	pos := testPosition()

	// Ten-day-old readings so the age decay keeps both results below the
	// confidence cap and the outlier penalty stays observable.
	base := clock.Now().Add(-10 * 24 * time.Hour)

	clean := readingsAround(pos, 8, 10, base)
	cleanResult, err := svc.Validate(models.ValidateRequest{
		Position: pos, VesselDraft: 2, Readings: clean, SkipCache: true,
	})
	require.NoError(t, err)
	require.Less(t, cleanResult.Confidence, 0.9)

	noisy := append(readingsAround(pos, 8, 10, base),
		reading("wild", pos.Latitude+0.0003, pos.Longitude, 100, 0.9, base))
	noisyResult, err := svc.Validate(models.ValidateRequest{
		Position: pos, VesselDraft: 2, Readings: noisy, SkipCache: true,
	})
	require.NoError(t, err)

	assert.Less(t, noisyResult.Confidence, cleanResult.Confidence)
}

func TestValidateOfficialChartWins(t *testing.T) {
	svc, clock := newValidationService(t)
	pos := testPosition()

	chart := []models.DepthReading{
		{
			ID:       "chart-1",
			Location: models.Location{Latitude: pos.Latitude + 0.0005, Longitude: pos.Longitude},
			Depth:    12,
			Source:   models.SourceOfficial,
		},
	}

	result, err := svc.Validate(models.ValidateRequest{
		Position:    pos,
		VesselDraft: 2,
		Readings:    readingsAround(pos, 8, 10, clock.Now()),
		Chart:       chart,
		SkipCache:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, models.MethodOfficialChart, result.Method)
	require.NotNil(t, result.EstimatedDepth)
	assert.InDelta(t, 12, *result.EstimatedDepth, 0.01)
	assert.GreaterOrEqual(t, result.Confidence, 0.8)
}

func TestValidateChartCrossValidationWarning(t *testing.T) {
	svc, clock := newValidationService(t)
	pos := testPosition()

	chart := []models.DepthReading{
		{
			ID:       "chart-1",
			Location: models.Location{Latitude: pos.Latitude + 0.0005, Longitude: pos.Longitude},
			Depth:    20,
			Source:   models.SourceOfficial,
		},
	}

	// Crowdsourced picture disagrees with the chart by far more than the
	// tolerance band.
	result, err := svc.Validate(models.ValidateRequest{
		Position:    pos,
		VesselDraft: 2,
		Readings:    readingsAround(pos, 8, 3, clock.Now()),
		Chart:       chart,
		SkipCache:   true,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.Warnings)
}

func TestValidateShallowWaterWarning(t *testing.T) {
	svc, clock := newValidationService(t)
	pos := testPosition()

	result, err := svc.Validate(models.ValidateRequest{
		Position:    pos,
		VesselDraft: 2,
		Readings:    readingsAround(pos, 8, 3, clock.Now()),
		SkipCache:   true,
	})
	require.NoError(t, err)

	require.NotNil(t, result.SafetyMargin)
	assert.InDelta(t, 1, *result.SafetyMargin, 0.1)
	assert.NotEmpty(t, result.Warnings, "sub-draft clearance must warn")
}

func TestValidateCacheHit(t *testing.T) {
	svc, clock := newValidationService(t)
	pos := testPosition()
	req := models.ValidateRequest{
		Position:    pos,
		VesselDraft: 2,
		Readings:    readingsAround(pos, 8, 10, clock.Now()),
	}

	first, err := svc.Validate(req)
	require.NoError(t, err)

	// Second call with different readings returns the cached result.
	req.Readings = readingsAround(pos, 8, 3, clock.Now())
	second, err := svc.Validate(req)
	require.NoError(t, err)
	assert.Equal(t, *first.EstimatedDepth, *second.EstimatedDepth)

	// SkipCache forces recomputation.
	req.SkipCache = true
	third, err := svc.Validate(req)
	require.NoError(t, err)
	assert.NotEqual(t, *first.EstimatedDepth, *third.EstimatedDepth)
}

func TestValidateCacheExpiresWithTTL(t *testing.T) {
	svc, clock := newValidationService(t)
	pos := testPosition()
	req := models.ValidateRequest{
		Position:    pos,
		VesselDraft: 2,
		Readings:    readingsAround(pos, 8, 10, clock.Now()),
	}

	_, err := svc.Validate(req)
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	req.Readings = readingsAround(pos, 8, 3, clock.Now())
	result, err := svc.Validate(req)
	require.NoError(t, err)
	assert.InDelta(t, 3, *result.EstimatedDepth, 0.5)
}

func TestValidateIgnoresStaleReadings(t *testing.T) {
	svc, clock := newValidationService(t)
	pos := testPosition()

	stale := readingsAround(pos, 8, 10, clock.Now().Add(-40*24*time.Hour))
	for i := range stale {
		stale[i].Timestamp = clock.Now().Add(-40 * 24 * time.Hour)
	}

	result, err := svc.Validate(models.ValidateRequest{
		Position:    pos,
		VesselDraft: 2,
		Readings:    stale,
		SkipCache:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.MethodInsufficientData, result.Method)
}

func TestWeightedDepthSingleCoincidentReading(t *testing.T) {
	svc, clock := newValidationService(t)
	pos := testPosition()

	r := reading("solo", pos.Latitude, pos.Longitude, 7.3, 0.6, clock.Now())
	depth := svc.weightedDepth(pos, []models.DepthReading{r}, clock.Now())
	assert.InDelta(t, 7.3, depth, 1e-9, "a lone reading at the query point is returned verbatim")
}

func TestTukeyQuartilesInclusiveHinges(t *testing.T) {
	q1, q3, err := tukeyQuartiles([]float64{1, 1, 1, 1, 100})
	require.NoError(t, err)
	assert.Equal(t, 1.0, q1, "odd-length lower hinge includes the median")
	assert.Equal(t, 1.0, q3, "odd-length upper hinge includes the median")

	q1, q3, err = tukeyQuartiles([]float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 1.5, q1)
	assert.Equal(t, 3.5, q3)

	_, _, err = tukeyQuartiles([]float64{5})
	assert.Error(t, err)
}
