package simulation

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"airquality-platform/internal/models"
	"airquality-platform/pkg/logging"
	"airquality-platform/pkg/metrics"
)

// One collector for the whole package; prometheus registration is global.
var testMetrics = metrics.NewCollector("simulation_test")

func testLogger() *logging.StructuredLogger {
	logger := logging.NewStructuredLogger("test", "0.0.0", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	return logger
}

type fakeStore struct {
	mu           sync.Mutex
	progress     []int
	results      []models.SimulationResult
	clearCalls   int
	replaceCalls int
	completed    *models.RunSummary
	failedMsg    string
	failCalls    int
	cancelCalls  int
}

func (s *fakeStore) UpdateRunState(ctx context.Context, id uuid.UUID, status models.ScenarioStatus, progressPct int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, progressPct)
	return nil
}

func (s *fakeStore) ClearResults(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearCalls++
	s.results = nil
	return nil
}

func (s *fakeStore) ReplaceResults(ctx context.Context, id uuid.UUID, results []models.SimulationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceCalls++
	s.results = append([]models.SimulationResult(nil), results...)
	return nil
}

func (s *fakeStore) CompleteRun(ctx context.Context, id uuid.UUID, summary models.RunSummary, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = &summary
	return nil
}

func (s *fakeStore) FailRun(ctx context.Context, id uuid.UUID, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCalls++
	s.failedMsg = errorMessage
	return nil
}

func (s *fakeStore) CancelRun(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelCalls++
	return nil
}

type fakeFactors struct {
	factors []models.ImpactFactor
	err     error
}

func (f *fakeFactors) ActiveFactors(ctx context.Context) ([]models.ImpactFactor, error) {
	return f.factors, f.err
}

type fakeBaseline struct {
	profile BaselineProfile
	err     error
}

func (b *fakeBaseline) Baseline(ctx context.Context, location string, start, end time.Time) (BaselineProfile, error) {
	return b.profile, b.err
}

// runnableScenario covers one full weekday so no weekend dips apply.
func runnableScenario() *models.SimulationScenario {
	return &models.SimulationScenario{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		Name:      "Traffic Study",
		Location:  "Springfield",
		Latitude:  39.78,
		Longitude: -89.65,
		StartDate: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC),
		Parameters: models.ScenarioParameters{
			Factors: map[string]float64{"traffic_volume": 100},
		},
		TimeResolution: models.ResolutionHourly,
		Status:         models.StatusDraft,
	}
}

func newTestEngine(store *fakeStore, factors []models.ImpactFactor, baseline BaselineSource) *Engine {
	if baseline == nil {
		baseline = &fakeBaseline{profile: SyntheticBaseline("Springfield")}
	}
	return NewEngine(store, &fakeFactors{factors: factors}, baseline, testLogger(), testMetrics)
}

func TestTimeSteps(t *testing.T) {
	start := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		end        time.Time
		resolution models.TimeResolution
		wantSteps  int
	}{
		{"24 hours hourly", start.Add(24 * time.Hour), models.ResolutionHourly, 25},
		{"7 days daily", start.Add(7 * 24 * time.Hour), models.ResolutionDaily, 8},
		{"4 weeks weekly", start.Add(4 * 7 * 24 * time.Hour), models.ResolutionWeekly, 5},
		{"start equals end", start, models.ResolutionHourly, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := TimeSteps(start, tt.end, tt.resolution)

			if len(steps) != tt.wantSteps {
				t.Fatalf("got %d steps, want %d", len(steps), tt.wantSteps)
			}
			if !steps[0].Equal(start) {
				t.Errorf("first step = %v, want %v", steps[0], start)
			}
			if !steps[len(steps)-1].Equal(tt.end) {
				t.Errorf("last step = %v, want inclusive end %v", steps[len(steps)-1], tt.end)
			}
		})
	}
}

func TestEngine_Run_Completes(t *testing.T) {
	store := &fakeStore{}
	factor := models.ImpactFactor{
		ID:              uuid.New(),
		Name:            "Traffic Volume",
		FactorType:      models.FactorTransportation,
		PM25Coefficient: 1.2,
		PM10Coefficient: 1.0,
		NO2Coefficient:  1.5,
		SO2Coefficient:  1.0,
		COCoefficient:   1.0,
		O3Coefficient:   1.0,
		SeasonalFactor:  1.0,
		IsActive:        true,
	}
	engine := newTestEngine(store, []models.ImpactFactor{factor}, nil)

	scenario := runnableScenario()
	if err := engine.Run(context.Background(), scenario, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if store.completed == nil {
		t.Fatal("run did not complete")
	}
	if store.completed.DataPoints != 25 {
		t.Errorf("DataPoints = %d, want 25", store.completed.DataPoints)
	}
	if store.completed.SkippedSteps != 0 {
		t.Errorf("SkippedSteps = %d, want 0", store.completed.SkippedSteps)
	}
	if len(store.results) != 25 {
		t.Fatalf("persisted %d results, want 25", len(store.results))
	}
	if store.replaceCalls != 1 {
		t.Errorf("ReplaceResults called %d times, want 1", store.replaceCalls)
	}

	if store.completed.MinAQI > store.completed.MaxAQI {
		t.Errorf("MinAQI %d > MaxAQI %d", store.completed.MinAQI, store.completed.MaxAQI)
	}
	if store.completed.AverageAQI < float64(store.completed.MinAQI) ||
		store.completed.AverageAQI > float64(store.completed.MaxAQI) {
		t.Errorf("AverageAQI %v outside [%d, %d]", store.completed.AverageAQI,
			store.completed.MinAQI, store.completed.MaxAQI)
	}

	for i, r := range store.results {
		if r.AQIValue < 0 || r.AQIValue > 500 {
			t.Errorf("result[%d] AQI %d out of range", i, r.AQIValue)
		}
		if r.VisibilityKm < 1 || r.VisibilityKm > 40 {
			t.Errorf("result[%d] visibility %v out of range", i, r.VisibilityKm)
		}
		if r.HealthRiskIndex < 0.1 || r.HealthRiskIndex > 1.0 {
			t.Errorf("result[%d] health risk %v out of range", i, r.HealthRiskIndex)
		}
		if i > 0 && !store.results[i].Timestamp.After(store.results[i-1].Timestamp) {
			t.Errorf("result timestamps not strictly increasing at %d", i)
		}
	}
}

func TestEngine_Run_ProgressMonotonicAndBelow100(t *testing.T) {
	store := &fakeStore{}
	engine := newTestEngine(store, nil, nil)

	if err := engine.Run(context.Background(), runnableScenario(), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(store.progress) == 0 {
		t.Fatal("no progress updates recorded")
	}
	for i, p := range store.progress {
		if p < 0 || p >= 100 {
			t.Errorf("progress[%d] = %d, want in [0, 100)", i, p)
		}
		if i > 0 && p < store.progress[i-1] {
			t.Errorf("progress went backwards: %d -> %d", store.progress[i-1], p)
		}
	}
}

func TestEngine_Run_ValidationFailure(t *testing.T) {
	store := &fakeStore{}
	engine := newTestEngine(store, nil, nil)

	scenario := runnableScenario()
	scenario.Parameters = models.ScenarioParameters{}
	scenario.Latitude = 95

	err := engine.Run(context.Background(), scenario, nil)

	var validationErr *ValidationFailedError
	if !errors.As(err, &validationErr) {
		t.Fatalf("Run() error = %v, want ValidationFailedError", err)
	}
	if len(validationErr.Violations) != 2 {
		t.Errorf("got %d violations, want 2: %v", len(validationErr.Violations), validationErr.Violations)
	}

	if len(store.progress) != 0 {
		t.Error("rejected scenario must not transition to running")
	}
	if store.failCalls != 1 {
		t.Fatalf("failCalls = %d, want 1; a rejected scenario must never sit in running", store.failCalls)
	}
	if !strings.Contains(store.failedMsg, "validation failed") {
		t.Errorf("failedMsg = %q, want violation summary", store.failedMsg)
	}
}

func TestEngine_Run_ReductionImprovesAQI(t *testing.T) {
	reduction := models.ImpactFactor{
		ID:              uuid.New(),
		Name:            "Traffic Volume",
		FactorType:      models.FactorTransportation,
		PM25Coefficient: 0.5,
		PM10Coefficient: 0.5,
		NO2Coefficient:  0.5,
		SO2Coefficient:  0.5,
		COCoefficient:   0.5,
		O3Coefficient:   0.5,
		SeasonalFactor:  1.0,
		IsActive:        true,
	}

	store := &fakeStore{}
	engine := newTestEngine(store, []models.ImpactFactor{reduction}, nil)

	if err := engine.Run(context.Background(), runnableScenario(), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for i, r := range store.results {
		if r.ImprovementPercent <= 0 {
			t.Errorf("result[%d] improvement = %v, want positive for a reduction", i, r.ImprovementPercent)
		}
		if r.AQIValue >= r.BaselineAQI {
			t.Errorf("result[%d] AQI %d not below baseline %d", i, r.AQIValue, r.BaselineAQI)
		}
	}
	if store.completed.AverageImprovement <= 0 {
		t.Errorf("AverageImprovement = %v, want positive", store.completed.AverageImprovement)
	}
}

func TestEngine_Run_AmplificationWorsensAQI(t *testing.T) {
	run := func(coefficient float64) *models.RunSummary {
		factor := models.ImpactFactor{
			ID:              uuid.New(),
			Name:            "Traffic Volume",
			FactorType:      models.FactorTransportation,
			PM25Coefficient: coefficient,
			PM10Coefficient: coefficient,
			NO2Coefficient:  coefficient,
			SO2Coefficient:  coefficient,
			COCoefficient:   coefficient,
			O3Coefficient:   coefficient,
			SeasonalFactor:  1.0,
			IsActive:        true,
		}
		store := &fakeStore{}
		engine := newTestEngine(store, []models.ImpactFactor{factor}, nil)
		if err := engine.Run(context.Background(), runnableScenario(), nil); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		return store.completed
	}

	worse := run(2.0)
	better := run(0.5)

	if worse.AverageAQI <= better.AverageAQI {
		t.Errorf("amplified AverageAQI %v not above reduced %v", worse.AverageAQI, better.AverageAQI)
	}
	if worse.AverageImprovement >= better.AverageImprovement {
		t.Errorf("amplified improvement %v not below reduced %v", worse.AverageImprovement, better.AverageImprovement)
	}
}

func TestEngine_Run_NeutralFactorLeavesBaselineAQIRecorded(t *testing.T) {
	store := &fakeStore{}
	engine := newTestEngine(store, nil, nil)

	if err := engine.Run(context.Background(), runnableScenario(), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	profile := SyntheticBaseline("Springfield")
	wantBaseline := 0.0
	for _, b := range profile {
		wantBaseline = math.Max(wantBaseline, b.AQI)
	}

	for i, r := range store.results {
		if r.BaselineAQI != int(wantBaseline) {
			t.Errorf("result[%d] baseline AQI = %d, want %d", i, r.BaselineAQI, int(wantBaseline))
		}
	}
}

func TestEngine_Run_Cancelled(t *testing.T) {
	store := &fakeStore{}
	engine := newTestEngine(store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := engine.Run(ctx, runnableScenario(), nil)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Run() error = %v, want ErrCancelled", err)
	}

	if store.cancelCalls != 1 {
		t.Errorf("CancelRun called %d times, want 1", store.cancelCalls)
	}
	if store.failCalls != 0 {
		t.Error("cancelled run must not be marked failed")
	}
	if store.replaceCalls != 0 {
		t.Error("cancelled run must not persist results")
	}
}

func TestEngine_Run_BaselineProviderError(t *testing.T) {
	store := &fakeStore{}
	baseline := &fakeBaseline{err: errors.New("connection refused")}
	engine := newTestEngine(store, nil, baseline)

	err := engine.Run(context.Background(), runnableScenario(), nil)
	if err == nil {
		t.Fatal("Run() succeeded despite baseline provider error")
	}

	if store.failCalls != 1 {
		t.Errorf("FailRun called %d times, want 1", store.failCalls)
	}
	if store.failedMsg == "" {
		t.Error("failure message not recorded")
	}
	if store.completed != nil {
		t.Error("failed run must not complete")
	}
}

func TestEngine_Run_EmptyBaselineFallsBackToSynthetic(t *testing.T) {
	store := &fakeStore{}
	baseline := &fakeBaseline{profile: BaselineProfile{}}
	engine := newTestEngine(store, nil, baseline)

	if err := engine.Run(context.Background(), runnableScenario(), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if store.completed == nil || store.completed.DataPoints != 25 {
		t.Fatalf("expected completed run on synthetic baseline, got %+v", store.completed)
	}
}

func TestEngine_Run_MissingHistoryFallsBackToSynthetic(t *testing.T) {
	store := &fakeStore{}
	baseline := &fakeBaseline{err: ErrNoBaselineData}
	engine := newTestEngine(store, nil, baseline)

	if err := engine.Run(context.Background(), runnableScenario(), nil); err != nil {
		t.Fatalf("Run() error = %v, missing history must not fail a run", err)
	}

	if store.failCalls != 0 {
		t.Errorf("FailRun called %d times, want 0", store.failCalls)
	}
	if store.completed == nil || store.completed.DataPoints != 25 {
		t.Fatalf("expected completed run on synthetic baseline, got %+v", store.completed)
	}
}

func TestEngine_Run_FailedRerunClearsPriorResults(t *testing.T) {
	store := &fakeStore{
		results: []models.SimulationResult{
			{Timestamp: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), AQIValue: 60},
		},
	}
	baseline := &fakeBaseline{err: errors.New("connection refused")}
	engine := newTestEngine(store, nil, baseline)

	err := engine.Run(context.Background(), runnableScenario(), nil)
	if err == nil {
		t.Fatal("Run() succeeded despite baseline provider error")
	}

	if store.clearCalls != 1 {
		t.Errorf("ClearResults called %d times, want 1", store.clearCalls)
	}
	if len(store.results) != 0 {
		t.Errorf("failed re-run left %d stale results visible", len(store.results))
	}
	if store.failCalls != 1 {
		t.Errorf("FailRun called %d times, want 1", store.failCalls)
	}
}

func TestEngine_Run_AllStepsFailingFailsRun(t *testing.T) {
	store := &fakeStore{}
	engine := newTestEngine(store, nil, nil)

	scenario := runnableScenario()
	nan := math.NaN()
	scenario.Parameters.Weather.Temperature = &nan

	err := engine.Run(context.Background(), scenario, nil)
	if err == nil {
		t.Fatal("Run() succeeded despite every step failing")
	}

	if store.failCalls != 1 {
		t.Errorf("FailRun called %d times, want 1", store.failCalls)
	}
	if store.replaceCalls != 0 {
		t.Error("failed run must not persist results")
	}
}

func TestEngine_Run_TemplateSuppliesScenarioType(t *testing.T) {
	industrial := models.ImpactFactor{
		ID:              uuid.New(),
		Name:            "Industrial Emissions",
		FactorType:      models.FactorIndustrial,
		PM25Coefficient: 1.0,
		PM10Coefficient: 1.8,
		NO2Coefficient:  1.0,
		SO2Coefficient:  2.0,
		COCoefficient:   1.0,
		O3Coefficient:   1.0,
		SeasonalFactor:  1.0,
		IsActive:        true,
	}

	template := &models.ScenarioTemplate{
		ID:           uuid.New(),
		Name:         "Industrial Emission Controls",
		ScenarioType: models.ScenarioIndustrial,
	}

	scenario := runnableScenario()
	scenario.TemplateID = &template.ID
	// Parameter names nothing in the catalog; only the template type
	// can activate the factor.
	scenario.Parameters = models.ScenarioParameters{
		Factors: map[string]float64{"compliance_rate": 85},
	}

	withTemplate := &fakeStore{}
	engine := newTestEngine(withTemplate, []models.ImpactFactor{industrial}, nil)
	if err := engine.Run(context.Background(), scenario, template); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	withoutTemplate := &fakeStore{}
	engine = newTestEngine(withoutTemplate, []models.ImpactFactor{industrial}, nil)
	scenario2 := runnableScenario()
	scenario2.Parameters = models.ScenarioParameters{
		Factors: map[string]float64{"compliance_rate": 85},
	}
	if err := engine.Run(context.Background(), scenario2, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// The industrial factor amplifies SO2 and PM10, so the templated run
	// must land above the factorless one.
	if withTemplate.completed.AverageAQI <= withoutTemplate.completed.AverageAQI {
		t.Errorf("templated run AverageAQI %v not above factorless %v",
			withTemplate.completed.AverageAQI, withoutTemplate.completed.AverageAQI)
	}
}
