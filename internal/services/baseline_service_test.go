package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"airquality-platform/internal/aqi"
	"airquality-platform/internal/models"
	"airquality-platform/internal/repository"
	"airquality-platform/internal/simulation"
)

func newBaselineService(refRepo repository.ReferenceRepository) *BaselineService {
	return NewBaselineService(refRepo, nil, time.Hour, discardLogger(), testMetrics)
}

func TestBaselineService_Baseline(t *testing.T) {
	refRepo := newFakeReferenceRepo()
	refRepo.averages = []repository.PollutantAverage{
		{PollutantType: models.PollutantPM25, AvgConcentration: 32.5, AvgAQI: 94.2, ReadingCount: 8760},
		{PollutantType: models.PollutantNO2, AvgConcentration: 41.0, AvgAQI: 78.0, ReadingCount: 8760},
	}

	svc := newBaselineService(refRepo)

	start := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)

	profile, err := svc.Baseline(context.Background(), "Springfield", start, end)
	if err != nil {
		t.Fatalf("Baseline() error = %v", err)
	}

	pm25 := profile[models.PollutantPM25]
	if pm25.Concentration != 32.5 || pm25.AQI != 94.2 {
		t.Errorf("pm25 baseline = %+v, want {32.5 94.2}", pm25)
	}

	// Pollutants without readings fall back to library defaults.
	for _, p := range models.Pollutants() {
		if _, ok := profile[p]; !ok {
			t.Errorf("profile missing %s", p)
		}
	}
	if got, want := profile[models.PollutantO3], simulation.DefaultBaseline(models.PollutantO3); got != want {
		t.Errorf("o3 gap fill = %+v, want default %+v", got, want)
	}
}

func TestBaselineService_WindowShiftedOneYear(t *testing.T) {
	refRepo := newFakeReferenceRepo()
	refRepo.averages = []repository.PollutantAverage{
		{PollutantType: models.PollutantPM25, AvgConcentration: 20, AvgAQI: 68},
	}

	svc := newBaselineService(refRepo)

	start := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 17, 0, 0, 0, 0, time.UTC)

	if _, err := svc.Baseline(context.Background(), "Springfield", start, end); err != nil {
		t.Fatalf("Baseline() error = %v", err)
	}

	wantStart := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2024, 6, 17, 0, 0, 0, 0, time.UTC)
	if !refRepo.lastWindowStart.Equal(wantStart) || !refRepo.lastWindowEnd.Equal(wantEnd) {
		t.Errorf("lookup window = [%v, %v], want [%v, %v]",
			refRepo.lastWindowStart, refRepo.lastWindowEnd, wantStart, wantEnd)
	}
}

func TestBaselineService_DerivesAQIWhenMissing(t *testing.T) {
	refRepo := newFakeReferenceRepo()
	refRepo.averages = []repository.PollutantAverage{
		{PollutantType: models.PollutantPM25, AvgConcentration: 35.4, AvgAQI: 0},
	}

	svc := newBaselineService(refRepo)

	profile, err := svc.Baseline(context.Background(), "Springfield",
		time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Baseline() error = %v", err)
	}

	want := aqi.FromConcentration(35.4, models.PollutantPM25)
	if profile[models.PollutantPM25].AQI != want {
		t.Errorf("derived AQI = %v, want %v", profile[models.PollutantPM25].AQI, want)
	}
}

func TestBaselineService_NoHistoricalData(t *testing.T) {
	svc := newBaselineService(newFakeReferenceRepo())

	_, err := svc.Baseline(context.Background(), "Nowhere",
		time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC))

	if !errors.Is(err, ErrNoHistoricalData) {
		t.Errorf("Baseline() error = %v, want ErrNoHistoricalData", err)
	}
}

func TestBaselineService_IgnoresUnknownPollutants(t *testing.T) {
	refRepo := newFakeReferenceRepo()
	refRepo.averages = []repository.PollutantAverage{
		{PollutantType: models.Pollutant("radon"), AvgConcentration: 12, AvgAQI: 50},
	}

	svc := newBaselineService(refRepo)

	_, err := svc.Baseline(context.Background(), "Springfield",
		time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC))

	if !errors.Is(err, ErrNoHistoricalData) {
		t.Errorf("Baseline() error = %v, want ErrNoHistoricalData when only unknown pollutants present", err)
	}
}

func TestBaselineService_RepositoryError(t *testing.T) {
	refRepo := newFakeReferenceRepo()
	refRepo.averagesErr = fmt.Errorf("connection refused")

	svc := newBaselineService(refRepo)

	_, err := svc.Baseline(context.Background(), "Springfield",
		time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC))

	if err == nil || errors.Is(err, ErrNoHistoricalData) {
		t.Errorf("Baseline() error = %v, want wrapped repository error", err)
	}
}

// The worker wires BaselineService straight into the engine; a location
// with no monitoring history must still simulate, against the synthetic
// baseline.
func TestBaselineService_EngineRunsWithoutHistory(t *testing.T) {
	refRepo := newFakeReferenceRepo()
	scenarioRepo := newFakeScenarioRepo()
	baselineService := newBaselineService(refRepo)

	engine := simulation.NewEngine(scenarioRepo, refRepo, baselineService, discardLogger(), testMetrics)

	scenario := &models.SimulationScenario{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		Name:      "Unmonitored Town Study",
		Location:  "Unmonitored Town",
		Latitude:  41.2,
		Longitude: -87.4,
		StartDate: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC),
		Parameters: models.ScenarioParameters{
			Factors: map[string]float64{"traffic_volume": 40},
		},
		TimeResolution: models.ResolutionHourly,
		Status:         models.StatusDraft,
	}
	if err := scenarioRepo.CreateScenario(context.Background(), scenario); err != nil {
		t.Fatalf("CreateScenario() error = %v", err)
	}

	if err := engine.Run(context.Background(), scenario, nil); err != nil {
		t.Fatalf("Run() error = %v, want synthetic-baseline fallback", err)
	}

	stored := scenarioRepo.scenarios[scenario.ID]
	if stored.Status != models.StatusCompleted {
		t.Errorf("status = %v, want completed", stored.Status)
	}
	if stored.ProgressPct != 100 {
		t.Errorf("progress = %d, want 100", stored.ProgressPct)
	}
	if stored.Results.DataPoints != 25 {
		t.Errorf("data points = %d, want 25", stored.Results.DataPoints)
	}

	results, err := scenarioRepo.GetResults(context.Background(), scenario.ID)
	if err != nil {
		t.Fatalf("GetResults() error = %v", err)
	}
	if len(results) != 25 {
		t.Errorf("stored %d results, want 25", len(results))
	}
}

func TestBaselineCacheKey(t *testing.T) {
	key := baselineCacheKey(" Downtown Chicago ",
		time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC))

	if key != "baseline:downtown_chicago:2025-06-10:2025-06-11" {
		t.Errorf("baselineCacheKey() = %q", key)
	}
}
