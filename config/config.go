package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable threshold of the safety engine. Defaults
// match the documented engine contracts; any value can be overridden
// through the environment.
type Config struct {
	// Depth validation
	SearchRadiusM       float64       // radius for relevant crowdsource readings
	OfficialChartRadius float64       // radius within which official chart data is preferred
	MaxDataAge          time.Duration // readings older than this are ignored
	MinDataPoints       int           // below this the result is insufficient_data
	ConfidenceThreshold float64       // minimum confidence for a valid result
	CacheTTL            time.Duration
	CacheCapacity       int

	// Grounding risk projection
	ProjectionStep    time.Duration // simulated sampling interval
	ProjectionHorizon time.Duration // how far ahead the track is projected
	AvoidanceHorizon  time.Duration // re-projection window for course-change evaluation

	// Route planning and monitoring
	WaypointSpacingM           float64
	RouteDeviationThresholdM   float64
	MajorDeviationThresholdM   float64
	SpeedVarianceThresholdKn   float64
	AutoCorrectMinorDeviations bool
	RecommendationTTL          time.Duration
	MonitoringTick             time.Duration
	WaypointArrivalRadiusM     float64

	// Alert hierarchy
	MaxActiveAlerts int

	// Emergency coordination
	NotificationRetryDelay time.Duration
	MaydayShareInterval    time.Duration
	DefaultShareInterval   time.Duration
}

// Load reads configuration from the environment, falling back to engine
// defaults. A .env file is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		SearchRadiusM:       getEnvAsFloat("DEPTH_SEARCH_RADIUS_M", 2000),
		OfficialChartRadius: getEnvAsFloat("OFFICIAL_CHART_RADIUS_M", 500),
		MaxDataAge:          getEnvAsDuration("MAX_DATA_AGE", 30*24*time.Hour),
		MinDataPoints:       getEnvAsInt("MIN_DATA_POINTS", 3),
		ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.6),
		CacheTTL:            getEnvAsDuration("VALIDATION_CACHE_TTL", 5*time.Minute),
		CacheCapacity:       getEnvAsInt("VALIDATION_CACHE_CAPACITY", 1000),

		ProjectionStep:    getEnvAsDuration("PROJECTION_STEP", 10*time.Second),
		ProjectionHorizon: getEnvAsDuration("PROJECTION_HORIZON", 600*time.Second),
		AvoidanceHorizon:  getEnvAsDuration("AVOIDANCE_HORIZON", 5*time.Minute),

		WaypointSpacingM:           getEnvAsFloat("WAYPOINT_SPACING_M", 1000),
		RouteDeviationThresholdM:   getEnvAsFloat("ROUTE_DEVIATION_THRESHOLD_M", 50),
		MajorDeviationThresholdM:   getEnvAsFloat("MAJOR_DEVIATION_THRESHOLD_M", 200),
		SpeedVarianceThresholdKn:   getEnvAsFloat("SPEED_VARIANCE_THRESHOLD_KN", 2),
		AutoCorrectMinorDeviations: getEnvAsBool("AUTO_CORRECT_MINOR_DEVIATIONS", true),
		RecommendationTTL:          getEnvAsDuration("RECOMMENDATION_TTL", 30*time.Minute),
		MonitoringTick:             getEnvAsDuration("MONITORING_TICK", 10*time.Second),
		WaypointArrivalRadiusM:     getEnvAsFloat("WAYPOINT_ARRIVAL_RADIUS_M", 100),

		MaxActiveAlerts: getEnvAsInt("MAX_ACTIVE_ALERTS", 1000),

		NotificationRetryDelay: getEnvAsDuration("NOTIFICATION_RETRY_DELAY", 60*time.Second),
		MaydayShareInterval:    getEnvAsDuration("MAYDAY_SHARE_INTERVAL", 60*time.Second),
		DefaultShareInterval:   getEnvAsDuration("DEFAULT_SHARE_INTERVAL", 300*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := getEnv(key, ""); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := getEnv(key, ""); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := getEnv(key, ""); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := getEnv(key, ""); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
