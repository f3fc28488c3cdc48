package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"airquality-platform/internal/models"
	"airquality-platform/pkg/database"
	"airquality-platform/pkg/logging"
	"airquality-platform/pkg/metrics"
)

// ScenarioRepository provides data access for scenarios and their results
type ScenarioRepository interface {
	// Scenario operations
	CreateScenario(ctx context.Context, scenario *models.SimulationScenario) error
	GetScenario(ctx context.Context, id uuid.UUID) (*models.SimulationScenario, error)
	ListScenarios(ctx context.Context, filter ScenarioFilter) ([]*models.SimulationScenario, int, error)
	DeleteScenario(ctx context.Context, id uuid.UUID) error

	// Run state operations (engine-facing)
	UpdateRunState(ctx context.Context, id uuid.UUID, status models.ScenarioStatus, progressPct int) error
	CompleteRun(ctx context.Context, id uuid.UUID, summary models.RunSummary, completedAt time.Time) error
	FailRun(ctx context.Context, id uuid.UUID, errorMessage string) error
	CancelRun(ctx context.Context, id uuid.UUID) error

	// Result operations
	ClearResults(ctx context.Context, id uuid.UUID) error
	ReplaceResults(ctx context.Context, id uuid.UUID, results []models.SimulationResult) error
	GetResults(ctx context.Context, scenarioID uuid.UUID) ([]*models.SimulationResult, error)

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// ScenarioFilter defines filters for querying scenarios
type ScenarioFilter struct {
	OwnerID *uuid.UUID
	Status  *models.ScenarioStatus
	Search  *string
	Limit   int
	Offset  int
}

// scenarioRepository implements ScenarioRepository
type scenarioRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewScenarioRepository creates a new scenario repository
func NewScenarioRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) ScenarioRepository {
	return &scenarioRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

const scenarioColumns = `
	id, owner_id, template_id, name, description, location, latitude, longitude,
	parameters, start_date, end_date, time_resolution, status, progress_percent,
	results, error_message, is_public, created_at, updated_at, completed_at
`

// CreateScenario inserts a new scenario in draft state
func (r *scenarioRepository) CreateScenario(ctx context.Context, scenario *models.SimulationScenario) error {
	query := `
		INSERT INTO simulation_scenarios (
			id, owner_id, template_id, name, description, location, latitude, longitude,
			parameters, start_date, end_date, time_resolution, status, progress_percent,
			results, error_message, is_public, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err := r.db.ExecContext(ctx, "insert_scenario", query,
		scenario.ID,
		scenario.OwnerID,
		scenario.TemplateID,
		scenario.Name,
		scenario.Description,
		scenario.Location,
		scenario.Latitude,
		scenario.Longitude,
		scenario.Parameters,
		scenario.StartDate,
		scenario.EndDate,
		scenario.TimeResolution,
		scenario.Status,
		scenario.ProgressPct,
		scenario.Results,
		scenario.ErrorMessage,
		scenario.IsPublic,
		scenario.CreatedAt,
		scenario.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create scenario: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_CREATE_SCENARIO] Scenario created", logging.Fields{
		"scenario_id": scenario.ID.String(),
		"name":        scenario.Name,
	})

	return nil
}

// GetScenario retrieves a scenario by ID
func (r *scenarioRepository) GetScenario(ctx context.Context, id uuid.UUID) (*models.SimulationScenario, error) {
	query := `SELECT ` + scenarioColumns + ` FROM simulation_scenarios WHERE id = $1`

	var scenario models.SimulationScenario
	err := r.db.GetContext(ctx, "get_scenario", &scenario, query, id)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{
			Resource: "simulation_scenario",
			ID:       id.String(),
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get scenario: %w", err)
	}

	return &scenario, nil
}

// ListScenarios retrieves scenarios with filtering and pagination
func (r *scenarioRepository) ListScenarios(ctx context.Context, filter ScenarioFilter) ([]*models.SimulationScenario, int, error) {
	query := `SELECT ` + scenarioColumns + ` FROM simulation_scenarios WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if filter.OwnerID != nil {
		query += fmt.Sprintf(" AND owner_id = $%d", argNum)
		args = append(args, *filter.OwnerID)
		argNum++
	}

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *filter.Status)
		argNum++
	}

	if filter.Search != nil {
		query += fmt.Sprintf(" AND (name ILIKE $%d OR description ILIKE $%d OR location ILIKE $%d)", argNum, argNum, argNum)
		args = append(args, "%"+*filter.Search+"%")
		argNum++
	}

	// Get total count
	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	err := r.db.GetContext(ctx, "count_scenarios", &totalCount, countQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count scenarios: %w", err)
	}

	// Add ordering and pagination
	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	var scenarios []*models.SimulationScenario
	err = r.db.SelectContext(ctx, "list_scenarios", &scenarios, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list scenarios: %w", err)
	}

	return scenarios, totalCount, nil
}

// DeleteScenario removes a scenario; its results cascade at the schema level
func (r *scenarioRepository) DeleteScenario(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, "delete_scenario",
		`DELETE FROM simulation_scenarios WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete scenario: %w", err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return &NotFoundError{
			Resource: "simulation_scenario",
			ID:       id.String(),
		}
	}

	r.logger.Info(ctx, "[REPO_DELETE_SCENARIO] Scenario deleted", logging.Fields{
		"scenario_id": id.String(),
	})

	return nil
}

// UpdateRunState writes status and progress in one statement so pollers
// never observe them out of sync. Progress never moves backwards while a
// run is in flight.
func (r *scenarioRepository) UpdateRunState(ctx context.Context, id uuid.UUID, status models.ScenarioStatus, progressPct int) error {
	query := `
		UPDATE simulation_scenarios
		SET status = $2,
		    progress_percent = CASE WHEN status = $2 THEN GREATEST(progress_percent, $3) ELSE $3 END,
		    updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, "update_run_state", query, id, status, progressPct)
	if err != nil {
		return fmt.Errorf("failed to update run state: %w", err)
	}

	return nil
}

// CompleteRun atomically lands the scenario in the completed state
func (r *scenarioRepository) CompleteRun(ctx context.Context, id uuid.UUID, summary models.RunSummary, completedAt time.Time) error {
	query := `
		UPDATE simulation_scenarios
		SET status = $2, progress_percent = 100, results = $3,
		    error_message = '', completed_at = $4, updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, "complete_run", query, id, models.StatusCompleted, summary, completedAt)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	return nil
}

// FailRun records a human-readable failure cause
func (r *scenarioRepository) FailRun(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE simulation_scenarios
		SET status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, "fail_run", query, id, models.StatusFailed, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to record run failure: %w", err)
	}

	return nil
}

// CancelRun lands the scenario in the cancelled state
func (r *scenarioRepository) CancelRun(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE simulation_scenarios
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, "cancel_run", query, id, models.StatusCancelled)
	if err != nil {
		return fmt.Errorf("failed to record run cancellation: %w", err)
	}

	return nil
}

// ClearResults removes all result rows for a scenario. Called at run
// start so a failed or cancelled re-run never exposes stale results.
func (r *scenarioRepository) ClearResults(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, "clear_results",
		`DELETE FROM simulation_results WHERE scenario_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to clear results: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_CLEAR_RESULTS] Prior results cleared", logging.Fields{
		"scenario_id": id.String(),
	})

	return nil
}

// ReplaceResults swaps all result rows for a scenario inside one
// transaction: delete then bulk insert. A re-run is all-or-nothing.
func (r *scenarioRepository) ReplaceResults(ctx context.Context, id uuid.UUID, results []models.SimulationResult) error {
	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		r.logger.Debug(ctx, "[REPO_REPLACE_RESULTS] Result replacement completed", logging.Fields{
			"scenario_id": id.String(),
			"count":       len(results),
			"duration_ms": duration.Milliseconds(),
		})
	}()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM simulation_results WHERE scenario_id = $1`, id); err != nil {
		return fmt.Errorf("failed to clear prior results: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO simulation_results (
			scenario_id, timestamp,
			pm25_concentration, pm10_concentration, no2_concentration,
			so2_concentration, co_concentration, o3_concentration,
			aqi_value, baseline_aqi, improvement_percent,
			visibility_km, health_risk_index
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := range results {
		res := &results[i]
		_, err := stmt.ExecContext(ctx,
			id,
			res.Timestamp,
			res.PM25Concentration,
			res.PM10Concentration,
			res.NO2Concentration,
			res.SO2Concentration,
			res.COConcentration,
			res.O3Concentration,
			res.AQIValue,
			res.BaselineAQI,
			res.ImprovementPercent,
			res.VisibilityKm,
			res.HealthRiskIndex,
		)
		if err != nil {
			return fmt.Errorf("failed to insert result row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit result replacement: %w", err)
	}

	return nil
}

// GetResults retrieves a scenario's results in timestamp order
func (r *scenarioRepository) GetResults(ctx context.Context, scenarioID uuid.UUID) ([]*models.SimulationResult, error) {
	query := `
		SELECT id, scenario_id, timestamp,
		       pm25_concentration, pm10_concentration, no2_concentration,
		       so2_concentration, co_concentration, o3_concentration,
		       aqi_value, baseline_aqi, improvement_percent,
		       visibility_km, health_risk_index
		FROM simulation_results
		WHERE scenario_id = $1
		ORDER BY timestamp
	`

	var results []*models.SimulationResult
	err := r.db.SelectContext(ctx, "get_results", &results, query, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("failed to get results: %w", err)
	}

	return results, nil
}

// HealthCheck performs a repository health check
func (r *scenarioRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}
