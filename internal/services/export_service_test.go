package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"airquality-platform/internal/models"
	"airquality-platform/internal/repository"
	"airquality-platform/pkg/logging"
)

// fakeScenarioRepo is an in-memory ScenarioRepository for service tests.
type fakeScenarioRepo struct {
	scenarios map[uuid.UUID]*models.SimulationScenario
	results   map[uuid.UUID][]*models.SimulationResult
	runStates []models.ScenarioStatus
}

func newFakeScenarioRepo() *fakeScenarioRepo {
	return &fakeScenarioRepo{
		scenarios: make(map[uuid.UUID]*models.SimulationScenario),
		results:   make(map[uuid.UUID][]*models.SimulationResult),
	}
}

func (r *fakeScenarioRepo) CreateScenario(ctx context.Context, scenario *models.SimulationScenario) error {
	copied := *scenario
	r.scenarios[scenario.ID] = &copied
	return nil
}

func (r *fakeScenarioRepo) GetScenario(ctx context.Context, id uuid.UUID) (*models.SimulationScenario, error) {
	s, ok := r.scenarios[id]
	if !ok {
		return nil, &repository.NotFoundError{Resource: "simulation_scenario", ID: id.String()}
	}
	copied := *s
	return &copied, nil
}

func (r *fakeScenarioRepo) ListScenarios(ctx context.Context, filter repository.ScenarioFilter) ([]*models.SimulationScenario, int, error) {
	var out []*models.SimulationScenario
	for _, s := range r.scenarios {
		out = append(out, s)
	}
	return out, len(out), nil
}

func (r *fakeScenarioRepo) DeleteScenario(ctx context.Context, id uuid.UUID) error {
	if _, ok := r.scenarios[id]; !ok {
		return &repository.NotFoundError{Resource: "simulation_scenario", ID: id.String()}
	}
	delete(r.scenarios, id)
	delete(r.results, id)
	return nil
}

func (r *fakeScenarioRepo) UpdateRunState(ctx context.Context, id uuid.UUID, status models.ScenarioStatus, progressPct int) error {
	if s, ok := r.scenarios[id]; ok {
		s.Status = status
		s.ProgressPct = progressPct
	}
	r.runStates = append(r.runStates, status)
	return nil
}

func (r *fakeScenarioRepo) CompleteRun(ctx context.Context, id uuid.UUID, summary models.RunSummary, completedAt time.Time) error {
	if s, ok := r.scenarios[id]; ok {
		s.Status = models.StatusCompleted
		s.ProgressPct = 100
		s.Results = summary
		s.CompletedAt = &completedAt
	}
	return nil
}

func (r *fakeScenarioRepo) FailRun(ctx context.Context, id uuid.UUID, errorMessage string) error {
	if s, ok := r.scenarios[id]; ok {
		s.Status = models.StatusFailed
		s.ErrorMessage = errorMessage
	}
	return nil
}

func (r *fakeScenarioRepo) CancelRun(ctx context.Context, id uuid.UUID) error {
	if s, ok := r.scenarios[id]; ok {
		s.Status = models.StatusCancelled
	}
	return nil
}

func (r *fakeScenarioRepo) ClearResults(ctx context.Context, id uuid.UUID) error {
	delete(r.results, id)
	return nil
}

func (r *fakeScenarioRepo) ReplaceResults(ctx context.Context, id uuid.UUID, results []models.SimulationResult) error {
	stored := make([]*models.SimulationResult, len(results))
	for i := range results {
		copied := results[i]
		stored[i] = &copied
	}
	r.results[id] = stored
	return nil
}

func (r *fakeScenarioRepo) GetResults(ctx context.Context, scenarioID uuid.UUID) ([]*models.SimulationResult, error) {
	return r.results[scenarioID], nil
}

func (r *fakeScenarioRepo) HealthCheck(ctx context.Context) error {
	return nil
}

func discardLogger() *logging.StructuredLogger {
	logger := logging.NewStructuredLogger("test", "0.0.0", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	return logger
}

func fptr(v float64) *float64 { return &v }

func TestExportService_WriteCSV(t *testing.T) {
	repo := newFakeScenarioRepo()
	scenarioID := uuid.New()

	repo.scenarios[scenarioID] = &models.SimulationScenario{
		ID:     scenarioID,
		Name:   "Traffic Study",
		Status: models.StatusCompleted,
	}
	repo.results[scenarioID] = []*models.SimulationResult{
		{
			Timestamp:          time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
			PM25Concentration:  fptr(12.345),
			PM10Concentration:  fptr(30),
			NO2Concentration:   fptr(18.5),
			SO2Concentration:   fptr(6),
			COConcentration:    fptr(1.2),
			O3Concentration:    fptr(55),
			AQIValue:           62,
			BaselineAQI:        85,
			ImprovementPercent: 27.0588,
			VisibilityKm:       21.4,
			HealthRiskIndex:    0.3,
		},
		{
			Timestamp:   time.Date(2025, 6, 10, 1, 0, 0, 0, time.UTC),
			AQIValue:    70,
			BaselineAQI: 85,
		},
	}

	svc := NewExportService(repo, discardLogger())

	var buf bytes.Buffer
	if err := svc.WriteCSV(context.Background(), scenarioID, &buf); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2 rows:\n%s", len(lines), buf.String())
	}

	wantHeader := "Timestamp,AQI,PM2.5,PM10,NO2,SO2,CO,O3,Baseline AQI,Improvement %"
	if lines[0] != wantHeader {
		t.Errorf("header = %q, want %q", lines[0], wantHeader)
	}

	wantRow := "2025-06-10T00:00:00Z,62,12.35,30.00,18.50,6.00,1.20,55.00,85,27.06"
	if lines[1] != wantRow {
		t.Errorf("row = %q, want %q", lines[1], wantRow)
	}

	// Nil concentrations export as empty cells.
	wantSparse := "2025-06-10T01:00:00Z,70,,,,,,,85,0.00"
	if lines[2] != wantSparse {
		t.Errorf("sparse row = %q, want %q", lines[2], wantSparse)
	}
}

func TestExportService_WriteCSV_RowsInTimestampOrder(t *testing.T) {
	repo := newFakeScenarioRepo()
	scenarioID := uuid.New()
	repo.scenarios[scenarioID] = &models.SimulationScenario{
		ID:     scenarioID,
		Status: models.StatusCompleted,
	}

	base := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		repo.results[scenarioID] = append(repo.results[scenarioID], &models.SimulationResult{
			Timestamp:   base.Add(time.Duration(i) * time.Hour),
			AQIValue:    50 + i,
			BaselineAQI: 85,
		})
	}

	svc := NewExportService(repo, discardLogger())

	var buf bytes.Buffer
	if err := svc.WriteCSV(context.Background(), scenarioID, &buf); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	var prev time.Time
	for _, line := range lines[1:] {
		ts, err := time.Parse(time.RFC3339, strings.SplitN(line, ",", 2)[0])
		if err != nil {
			t.Fatalf("unparseable timestamp in %q: %v", line, err)
		}
		if !prev.IsZero() && !ts.After(prev) {
			t.Errorf("timestamps out of order: %v after %v", ts, prev)
		}
		prev = ts
	}
}

func TestExportService_WriteCSV_RejectsIncompleteScenario(t *testing.T) {
	repo := newFakeScenarioRepo()
	scenarioID := uuid.New()
	repo.scenarios[scenarioID] = &models.SimulationScenario{
		ID:     scenarioID,
		Status: models.StatusRunning,
	}

	svc := NewExportService(repo, discardLogger())

	err := svc.WriteCSV(context.Background(), scenarioID, &bytes.Buffer{})

	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("WriteCSV() error = %v, want ConflictError", err)
	}
}

func TestExportService_WriteCSV_UnknownScenario(t *testing.T) {
	svc := NewExportService(newFakeScenarioRepo(), discardLogger())

	err := svc.WriteCSV(context.Background(), uuid.New(), &bytes.Buffer{})

	var notFound *repository.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("WriteCSV() error = %v, want NotFoundError", err)
	}
}

func TestExportFilename(t *testing.T) {
	tests := []struct {
		name     string
		scenario string
		want     string
	}{
		{"spaces folded", "Traffic Study Downtown", "traffic_study_downtown_results.csv"},
		{"already simple", "baseline", "baseline_results.csv"},
		{"empty name", "  ", "scenario_results.csv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExportFilename(&models.SimulationScenario{Name: tt.scenario})
			if got != tt.want {
				t.Errorf("ExportFilename() = %q, want %q", got, tt.want)
			}
		})
	}
}
