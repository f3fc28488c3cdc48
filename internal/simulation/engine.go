package simulation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"airquality-platform/internal/aqi"
	"airquality-platform/internal/models"
	"airquality-platform/pkg/logging"
	"airquality-platform/pkg/metrics"
)

// ScenarioStore persists run state and results. Status and progress must
// be written atomically so polling collaborators never observe torn state.
type ScenarioStore interface {
	UpdateRunState(ctx context.Context, id uuid.UUID, status models.ScenarioStatus, progressPct int) error
	ClearResults(ctx context.Context, id uuid.UUID) error
	ReplaceResults(ctx context.Context, id uuid.UUID, results []models.SimulationResult) error
	CompleteRun(ctx context.Context, id uuid.UUID, summary models.RunSummary, completedAt time.Time) error
	FailRun(ctx context.Context, id uuid.UUID, errorMessage string) error
	CancelRun(ctx context.Context, id uuid.UUID) error
}

// FactorSource supplies the read-only impact factor catalog.
type FactorSource interface {
	ActiveFactors(ctx context.Context) ([]models.ImpactFactor, error)
}

// ErrCancelled is returned when a run is stopped by context cancellation.
// The scenario ends in the cancelled state, not failed.
var ErrCancelled = fmt.Errorf("simulation cancelled")

// ValidationFailedError carries every violated rule from the pre-run gate.
type ValidationFailedError struct {
	Violations []string
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("scenario validation failed: %d violation(s)", len(e.Violations))
}

// IsTransient returns false; the scenario must be edited before re-running.
func (e *ValidationFailedError) IsTransient() bool {
	return false
}

// Engine executes simulation scenarios. It is a plain dependency-injected
// service: construct one per worker, share nothing mutable.
type Engine struct {
	scenarios ScenarioStore
	factors   FactorSource
	baseline  BaselineSource
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
	now       func() time.Time
}

// NewEngine creates a simulation engine.
func NewEngine(
	scenarios ScenarioStore,
	factors FactorSource,
	baseline BaselineSource,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *Engine {
	return &Engine{
		scenarios: scenarios,
		factors:   factors,
		baseline:  baseline,
		logger:    logger,
		metrics:   metricsCollector,
		now:       time.Now,
	}
}

// TimeSteps builds the simulation grid: fixed deltas from start,
// inclusive of end. A 24h hourly scenario yields 25 steps.
func TimeSteps(start, end time.Time, resolution models.TimeResolution) []time.Time {
	delta := resolution.StepDuration()

	var steps []time.Time
	for t := start; !t.After(end); t = t.Add(delta) {
		steps = append(steps, t)
	}
	return steps
}

// Run executes a scenario end to end: validates, transitions
// draft -> running, walks the time-step grid, bulk-persists results, and
// lands the scenario in a terminal state. Results are all-or-nothing: a
// failed run leaves zero rows and an error message.
//
// Step-level computation errors do not fail the run; they are logged,
// counted, and surfaced as SkippedSteps in the summary. The run fails only
// when infrastructure errors occur or every step fails.
func (e *Engine) Run(ctx context.Context, scenario *models.SimulationScenario, template *models.ScenarioTemplate) error {
	startTime := e.now()

	if ok, violations := ValidateScenario(scenario); !ok {
		e.logger.Warn(ctx, "[SIM_VALIDATION] Scenario rejected", logging.Fields{
			"scenario_id": scenario.ID.String(),
			"violations":  violations,
		})
		// The caller may already have parked the scenario in running
		// state before handing it off; never strand it there.
		if err := e.scenarios.FailRun(ctx, scenario.ID, "validation failed: "+strings.Join(violations, "; ")); err != nil {
			e.logger.Error(ctx, "[SIM_FAIL_RECORD_ERROR] Failed to record validation failure", logging.Fields{
				"scenario_id": scenario.ID.String(),
			}, err)
		}
		return &ValidationFailedError{Violations: violations}
	}

	e.logger.Info(ctx, "[SIM_START] Starting simulation", logging.Fields{
		"scenario_id": scenario.ID.String(),
		"name":        scenario.Name,
		"location":    scenario.Location,
		"resolution":  string(scenario.TimeResolution),
	})

	if err := e.scenarios.UpdateRunState(ctx, scenario.ID, models.StatusRunning, 0); err != nil {
		return fmt.Errorf("failed to mark scenario running: %w", err)
	}

	// A re-run must not leave the previous run's rows visible next to a
	// failed or cancelled status.
	if err := e.scenarios.ClearResults(ctx, scenario.ID); err != nil {
		failErr := fmt.Errorf("failed to clear prior results: %w", err)
		if recordErr := e.scenarios.FailRun(ctx, scenario.ID, failErr.Error()); recordErr != nil {
			e.logger.Error(ctx, "[SIM_FAIL_RECORD_ERROR] Failed to record failure", logging.Fields{
				"scenario_id": scenario.ID.String(),
			}, recordErr)
		}
		return failErr
	}

	summary, runErr := e.execute(ctx, scenario, template)

	if runErr != nil {
		if runErr == ErrCancelled {
			e.metrics.RecordRunOutcome("cancelled")
			e.logger.Info(ctx, "[SIM_CANCELLED] Simulation cancelled", logging.Fields{
				"scenario_id": scenario.ID.String(),
			})
			// Best effort; the run context is already cancelled.
			if err := e.scenarios.CancelRun(context.WithoutCancel(ctx), scenario.ID); err != nil {
				e.logger.Error(ctx, "[SIM_CANCEL_ERROR] Failed to record cancellation", logging.Fields{
					"scenario_id": scenario.ID.String(),
				}, err)
			}
			return runErr
		}

		e.metrics.RecordRunOutcome("failed")
		e.logger.Error(ctx, "[SIM_FAILED] Simulation failed", logging.Fields{
			"scenario_id": scenario.ID.String(),
		}, runErr)

		if err := e.scenarios.FailRun(ctx, scenario.ID, runErr.Error()); err != nil {
			e.logger.Error(ctx, "[SIM_FAIL_RECORD_ERROR] Failed to record failure", logging.Fields{
				"scenario_id": scenario.ID.String(),
			}, err)
		}
		return runErr
	}

	if err := e.scenarios.CompleteRun(ctx, scenario.ID, *summary, e.now()); err != nil {
		return fmt.Errorf("failed to mark scenario completed: %w", err)
	}

	duration := e.now().Sub(startTime)
	e.metrics.RecordRunOutcome("completed")
	e.metrics.SimulationRunDuration.Observe(duration.Seconds())

	e.logger.Info(ctx, "[SIM_COMPLETE] Simulation completed", logging.Fields{
		"scenario_id":      scenario.ID.String(),
		"data_points":      summary.DataPoints,
		"skipped_steps":    summary.SkippedSteps,
		"duration_seconds": duration.Seconds(),
	})

	return nil
}

// execute runs the step loop and persists results. It returns the run
// summary on success; any returned error fails the whole run.
func (e *Engine) execute(ctx context.Context, scenario *models.SimulationScenario, template *models.ScenarioTemplate) (*models.RunSummary, error) {
	profile, err := e.baseline.Baseline(ctx, scenario.Location, scenario.StartDate, scenario.EndDate)
	if err != nil && !errors.Is(err, ErrNoBaselineData) {
		return nil, fmt.Errorf("baseline provider unavailable: %w", err)
	}

	// Missing history is not a failure: simulate against the synthetic
	// baseline for the location.
	if len(profile) == 0 {
		e.metrics.SyntheticBaselinesTotal.Inc()
		e.logger.Warn(ctx, "[SIM_BASELINE_SYNTHETIC] No historical baseline, using synthetic profile", logging.Fields{
			"scenario_id": scenario.ID.String(),
			"location":    scenario.Location,
		})
		profile = SyntheticBaseline(scenario.Location)
	}

	catalog, err := e.factors.ActiveFactors(ctx)
	if err != nil {
		return nil, fmt.Errorf("impact factor catalog unavailable: %w", err)
	}

	applicable := ApplicableFactors(catalog, scenario.Parameters, scenario.ScenarioType(template))

	steps := TimeSteps(scenario.StartDate, scenario.EndDate, scenario.TimeResolution)
	totalSteps := len(steps)

	e.logger.Info(ctx, "[SIM_GRID] Time-step grid built", logging.Fields{
		"scenario_id":        scenario.ID.String(),
		"total_steps":        totalSteps,
		"applicable_factors": len(applicable),
	})

	results := make([]models.SimulationResult, 0, totalSteps)
	skipped := 0

	for i, ts := range steps {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}

		// Progress is floor(100*i/total): observable by pollers after
		// every step, monotonic, and strictly below 100 while running.
		progress := i * 100 / totalSteps
		if err := e.scenarios.UpdateRunState(ctx, scenario.ID, models.StatusRunning, progress); err != nil {
			return nil, fmt.Errorf("failed to update progress: %w", err)
		}

		stepStart := e.now()
		result, err := e.computeStep(scenario, applicable, profile, ts)
		e.metrics.SimulationStepDuration.Observe(e.now().Sub(stepStart).Seconds())

		if err != nil {
			skipped++
			e.metrics.SimulationStepsSkipped.Inc()
			e.logger.Warn(ctx, "[SIM_STEP_SKIPPED] Step computation failed, skipping", logging.Fields{
				"scenario_id": scenario.ID.String(),
				"timestamp":   ts.Format(time.RFC3339),
			})
			continue
		}

		results = append(results, *result)
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("all %d simulation steps failed", totalSteps)
	}

	if err := e.scenarios.ReplaceResults(ctx, scenario.ID, results); err != nil {
		return nil, fmt.Errorf("failed to persist results: %w", err)
	}
	e.metrics.ResultBatchSize.Observe(float64(len(results)))

	summary := summarize(results, skipped)
	return &summary, nil
}

// computeStep projects pollutant concentrations, AQI, and derived metrics
// for a single timestamp. Order matters: factor effects scaled by
// intensity, then temporal variation, then weather, then AQI conversion.
func (e *Engine) computeStep(scenario *models.SimulationScenario, factors []models.ImpactFactor, profile BaselineProfile, ts time.Time) (*models.SimulationResult, error) {
	concentrations := make(map[models.Pollutant]float64, 6)
	baselineAQI := make(map[models.Pollutant]float64, 6)

	for _, p := range models.Pollutants() {
		if b, ok := profile[p]; ok {
			concentrations[p] = b.Concentration
			baselineAQI[p] = b.AQI
		} else {
			concentrations[p] = DefaultBaseline(p).Concentration
			baselineAQI[p] = 75
		}
	}

	// A factor's effect is scaled by its momentary intensity and never
	// exceeds its full nominal coefficient.
	for i := range factors {
		factor := &factors[i]
		intensity := FactorIntensity(scenario.Parameters, factor, ts)

		for _, p := range models.Pollutants() {
			coefficient := factor.Coefficient(p)
			concentrations[p] *= 1 + (coefficient-1)*intensity
		}
	}

	ApplyTemporalVariations(concentrations, ts)
	ApplyWeatherEffects(concentrations, scenario.Parameters.Weather)

	subIndices := make(map[models.Pollutant]float64, 6)
	for p, c := range concentrations {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("non-finite %s concentration at %s", p, ts.Format(time.RFC3339))
		}
		subIndices[p] = aqi.FromConcentration(c, p)
	}

	overallAQI := aqi.Overall(subIndices)
	baselineOverallAQI := aqi.Overall(baselineAQI)

	// Positive means air quality improved relative to baseline. A zero
	// baseline cannot produce a meaningful ratio.
	improvement := 0.0
	if baselineOverallAQI > 0 {
		improvement = (baselineOverallAQI - overallAQI) / baselineOverallAQI * 100
	}

	result := &models.SimulationResult{
		ScenarioID:         scenario.ID,
		Timestamp:          ts,
		AQIValue:           int(overallAQI),
		BaselineAQI:        int(baselineOverallAQI),
		ImprovementPercent: improvement,
		VisibilityKm:       visibility(concentrations),
		HealthRiskIndex:    healthRisk(overallAQI),
	}
	for _, p := range models.Pollutants() {
		result.SetConcentration(p, concentrations[p])
	}

	return result, nil
}

// visibility derives sight distance in km from particulate load,
// clamped to the 1-40 km range.
func visibility(concentrations map[models.Pollutant]float64) float64 {
	pm := concentrations[models.PollutantPM25] + concentrations[models.PollutantPM10]

	v := 40.0 / (1.0 + pm/50.0)
	if v < 1 {
		return 1
	}
	if v > 40 {
		return 40
	}
	return v
}

// healthRisk maps overall AQI onto a 0-1 risk index by EPA category band.
func healthRisk(aqiValue float64) float64 {
	switch {
	case aqiValue <= 50:
		return 0.1
	case aqiValue <= 100:
		return 0.3
	case aqiValue <= 150:
		return 0.6
	case aqiValue <= 200:
		return 0.8
	default:
		return 1.0
	}
}

func summarize(results []models.SimulationResult, skipped int) models.RunSummary {
	summary := models.RunSummary{
		MaxAQI:       results[0].AQIValue,
		MinAQI:       results[0].AQIValue,
		DataPoints:   len(results),
		SkippedSteps: skipped,
	}

	aqiSum := 0
	improvementSum := 0.0
	for _, r := range results {
		aqiSum += r.AQIValue
		improvementSum += r.ImprovementPercent
		if r.AQIValue > summary.MaxAQI {
			summary.MaxAQI = r.AQIValue
		}
		if r.AQIValue < summary.MinAQI {
			summary.MinAQI = r.AQIValue
		}
	}

	summary.AverageAQI = float64(aqiSum) / float64(len(results))
	summary.AverageImprovement = improvementSum / float64(len(results))
	return summary
}
