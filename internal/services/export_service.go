package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"airquality-platform/internal/models"
	"airquality-platform/internal/repository"
	"airquality-platform/pkg/logging"
)

// ExportService streams scenario results as CSV downloads.
type ExportService struct {
	scenarioRepo repository.ScenarioRepository
	logger       *logging.StructuredLogger
}

// NewExportService creates a new export service.
func NewExportService(scenarioRepo repository.ScenarioRepository, logger *logging.StructuredLogger) *ExportService {
	return &ExportService{
		scenarioRepo: scenarioRepo,
		logger:       logger,
	}
}

var exportHeader = []string{
	"Timestamp", "AQI", "PM2.5", "PM10", "NO2", "SO2", "CO", "O3",
	"Baseline AQI", "Improvement %",
}

// WriteCSV writes a completed scenario's results to w in timestamp order.
// Only completed scenarios can be exported.
func (s *ExportService) WriteCSV(ctx context.Context, id uuid.UUID, w io.Writer) error {
	scenario, err := s.scenarioRepo.GetScenario(ctx, id)
	if err != nil {
		return err
	}

	if scenario.Status != models.StatusCompleted {
		return &ConflictError{Message: "only completed scenarios can be exported"}
	}

	results, err := s.scenarioRepo.GetResults(ctx, id)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)

	if err := writer.Write(exportHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, res := range results {
		record := []string{
			res.Timestamp.UTC().Format(time.RFC3339),
			strconv.Itoa(res.AQIValue),
			formatConcentration(res.PM25Concentration),
			formatConcentration(res.PM10Concentration),
			formatConcentration(res.NO2Concentration),
			formatConcentration(res.SO2Concentration),
			formatConcentration(res.COConcentration),
			formatConcentration(res.O3Concentration),
			strconv.Itoa(res.BaselineAQI),
			strconv.FormatFloat(res.ImprovementPercent, 'f', 2, 64),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}

	s.logger.Info(ctx, "[EXPORT_CSV] Scenario results exported", logging.Fields{
		"scenario_id": id.String(),
		"rows":        len(results),
	})

	return nil
}

// ExportFilename suggests a download filename for a scenario export.
func ExportFilename(scenario *models.SimulationScenario) string {
	name := strings.ToLower(strings.TrimSpace(scenario.Name))
	name = strings.ReplaceAll(name, " ", "_")
	if name == "" {
		name = "scenario"
	}
	return fmt.Sprintf("%s_results.csv", name)
}

func formatConcentration(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}
