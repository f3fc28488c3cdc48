package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"airquality-platform/internal/aqi"
	"airquality-platform/internal/models"
	"airquality-platform/internal/repository"
	"airquality-platform/internal/simulation"
	"airquality-platform/pkg/cache"
	"airquality-platform/pkg/logging"
	"airquality-platform/pkg/metrics"
)

// ErrNoHistoricalData indicates the location has no usable readings for
// the baseline window. It is the engine's synthetic-fallback sentinel, so
// runs over unmonitored locations still simulate.
var ErrNoHistoricalData = simulation.ErrNoBaselineData

// BaselineService derives baseline pollutant profiles from historical
// readings taken one year before the simulated window. Profiles are
// cached in Redis because the same location and window is looked up on
// every re-run of a scenario.
type BaselineService struct {
	refRepo  repository.ReferenceRepository
	cache    *cache.Client
	cacheTTL time.Duration
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewBaselineService creates a baseline service. The cache client may be
// nil, in which case every lookup goes to the database.
func NewBaselineService(
	refRepo repository.ReferenceRepository,
	cacheClient *cache.Client,
	cacheTTL time.Duration,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *BaselineService {
	return &BaselineService{
		refRepo:  refRepo,
		cache:    cacheClient,
		cacheTTL: cacheTTL,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// Baseline implements simulation.BaselineSource. The lookup window is the
// simulated period shifted back exactly one year, so seasonal character
// is preserved. Pollutants without readings get library defaults.
func (s *BaselineService) Baseline(ctx context.Context, location string, start, end time.Time) (simulation.BaselineProfile, error) {
	timer := s.metrics.NewTimer(s.metrics.BaselineLookupDuration)
	defer timer.ObserveDuration()

	key := baselineCacheKey(location, start, end)

	if s.cache != nil {
		var cached simulation.BaselineProfile
		found, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			s.logger.Warn(ctx, "[BASELINE_CACHE_ERROR] Cache lookup failed", logging.Fields{
				"location": location,
			})
		}
		s.metrics.RecordBaselineCache(found)
		if found {
			return cached, nil
		}
	}

	windowStart := start.AddDate(-1, 0, 0)
	windowEnd := end.AddDate(-1, 0, 0)

	averages, err := s.refRepo.PollutantAverages(ctx, location, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline averages: %w", err)
	}

	if len(averages) == 0 {
		return nil, ErrNoHistoricalData
	}

	profile := make(simulation.BaselineProfile, len(averages))
	for _, avg := range averages {
		if !avg.PollutantType.IsValid() {
			continue
		}
		baselineAQI := avg.AvgAQI
		if baselineAQI <= 0 {
			baselineAQI = aqi.FromConcentration(avg.AvgConcentration, avg.PollutantType)
		}
		profile[avg.PollutantType] = simulation.PollutantBaseline{
			Concentration: avg.AvgConcentration,
			AQI:           baselineAQI,
		}
	}

	if len(profile) == 0 {
		return nil, ErrNoHistoricalData
	}

	// Fill gaps so every modeled pollutant has a starting point.
	for _, p := range models.Pollutants() {
		if _, ok := profile[p]; !ok {
			profile[p] = simulation.DefaultBaseline(p)
		}
	}

	s.logger.Debug(ctx, "[BASELINE_LOADED] Historical baseline loaded", logging.Fields{
		"location":     location,
		"window_start": windowStart.Format(time.RFC3339),
		"window_end":   windowEnd.Format(time.RFC3339),
		"pollutants":   len(averages),
	})

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, profile, s.cacheTTL); err != nil {
			s.logger.Warn(ctx, "[BASELINE_CACHE_ERROR] Cache write failed", logging.Fields{
				"location": location,
			})
		}
	}

	return profile, nil
}

func baselineCacheKey(location string, start, end time.Time) string {
	loc := strings.ToLower(strings.TrimSpace(location))
	loc = strings.ReplaceAll(loc, " ", "_")
	return fmt.Sprintf("baseline:%s:%s:%s", loc, start.Format("2006-01-02"), end.Format("2006-01-02"))
}
