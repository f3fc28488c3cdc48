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

// ReferenceRepository provides data access for the impact factor catalog,
// scenario templates, and historical air quality readings
type ReferenceRepository interface {
	// Impact factor catalog
	ActiveFactors(ctx context.Context) ([]models.ImpactFactor, error)
	CreateFactor(ctx context.Context, factor *models.ImpactFactor) error

	// Scenario templates
	GetTemplate(ctx context.Context, id uuid.UUID) (*models.ScenarioTemplate, error)
	ListTemplates(ctx context.Context, filter TemplateFilter) ([]*models.ScenarioTemplate, error)

	// Historical readings
	CreateReadingsBatch(ctx context.Context, readings []models.AirQualityReading) error
	PollutantAverages(ctx context.Context, location string, start, end time.Time) ([]PollutantAverage, error)
}

// TemplateFilter defines filters for querying scenario templates
type TemplateFilter struct {
	ScenarioType *string
	PublicOnly   bool
}

// PollutantAverage is an aggregate over historical readings for one
// pollutant within a time window
type PollutantAverage struct {
	PollutantType    models.Pollutant `db:"pollutant_type"`
	AvgConcentration float64          `db:"avg_concentration"`
	AvgAQI           float64          `db:"avg_aqi"`
	ReadingCount     int              `db:"reading_count"`
}

// referenceRepository implements ReferenceRepository
type referenceRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewReferenceRepository creates a new reference repository
func NewReferenceRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) ReferenceRepository {
	return &referenceRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ActiveFactors retrieves every active impact factor. The catalog is
// small; callers fetch it once per run, not once per step.
func (r *referenceRepository) ActiveFactors(ctx context.Context) ([]models.ImpactFactor, error) {
	query := `
		SELECT id, name, factor_type, description,
		       pm25_coefficient, pm10_coefficient, no2_coefficient,
		       so2_coefficient, co_coefficient, o3_coefficient,
		       seasonal_factor, applicable_regions, is_active, created_at
		FROM impact_factors
		WHERE is_active = true
		ORDER BY name
	`

	var factors []models.ImpactFactor
	err := r.db.SelectContext(ctx, "active_factors", &factors, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get active factors: %w", err)
	}

	return factors, nil
}

// CreateFactor inserts a new impact factor into the catalog
func (r *referenceRepository) CreateFactor(ctx context.Context, factor *models.ImpactFactor) error {
	if err := factor.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO impact_factors (
			id, name, factor_type, description,
			pm25_coefficient, pm10_coefficient, no2_coefficient,
			so2_coefficient, co_coefficient, o3_coefficient,
			seasonal_factor, applicable_regions, is_active, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.db.ExecContext(ctx, "insert_factor", query,
		factor.ID,
		factor.Name,
		factor.FactorType,
		factor.Description,
		factor.PM25Coefficient,
		factor.PM10Coefficient,
		factor.NO2Coefficient,
		factor.SO2Coefficient,
		factor.COCoefficient,
		factor.O3Coefficient,
		factor.SeasonalFactor,
		factor.ApplicableRegions,
		factor.IsActive,
		factor.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create impact factor: %w", err)
	}

	r.logger.Info(ctx, "[REPO_CREATE_FACTOR] Impact factor created", logging.Fields{
		"factor_id":   factor.ID.String(),
		"name":        factor.Name,
		"factor_type": factor.FactorType,
	})

	return nil
}

// GetTemplate retrieves a scenario template by ID
func (r *referenceRepository) GetTemplate(ctx context.Context, id uuid.UUID) (*models.ScenarioTemplate, error) {
	query := `
		SELECT id, name, description, scenario_type, default_parameters,
		       complexity_level, is_public, created_at, updated_at
		FROM scenario_templates
		WHERE id = $1
	`

	var template models.ScenarioTemplate
	err := r.db.GetContext(ctx, "get_template", &template, query, id)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{
			Resource: "scenario_template",
			ID:       id.String(),
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	return &template, nil
}

// ListTemplates retrieves scenario templates with optional filtering
func (r *referenceRepository) ListTemplates(ctx context.Context, filter TemplateFilter) ([]*models.ScenarioTemplate, error) {
	query := `
		SELECT id, name, description, scenario_type, default_parameters,
		       complexity_level, is_public, created_at, updated_at
		FROM scenario_templates
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.PublicOnly {
		query += " AND is_public = true"
	}

	if filter.ScenarioType != nil {
		query += fmt.Sprintf(" AND scenario_type = $%d", argNum)
		args = append(args, *filter.ScenarioType)
		argNum++
	}

	query += " ORDER BY name"

	var templates []*models.ScenarioTemplate
	err := r.db.SelectContext(ctx, "list_templates", &templates, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	return templates, nil
}

// CreateReadingsBatch inserts historical readings in a single transaction
func (r *referenceRepository) CreateReadingsBatch(ctx context.Context, readings []models.AirQualityReading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO air_quality_readings (location, pollutant_type, concentration, aqi_value, timestamp)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := range readings {
		reading := &readings[i]
		_, err := stmt.ExecContext(ctx,
			reading.Location,
			reading.PollutantType,
			reading.Concentration,
			reading.AQIValue,
			reading.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert reading: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit readings batch: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_READINGS_BATCH] Readings batch inserted", logging.Fields{
		"count": len(readings),
	})

	return nil
}

// PollutantAverages aggregates historical readings per pollutant for a
// location substring match within [start, end]. An empty result set means
// the location has no usable history.
func (r *referenceRepository) PollutantAverages(ctx context.Context, location string, start, end time.Time) ([]PollutantAverage, error) {
	query := `
		SELECT pollutant_type,
		       AVG(concentration) AS avg_concentration,
		       AVG(aqi_value) AS avg_aqi,
		       COUNT(*) AS reading_count
		FROM air_quality_readings
		WHERE location ILIKE $1
		  AND timestamp >= $2
		  AND timestamp <= $3
		GROUP BY pollutant_type
	`

	var averages []PollutantAverage
	err := r.db.SelectContext(ctx, "pollutant_averages", &averages, query, "%"+location+"%", start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate pollutant averages: %w", err)
	}

	return averages, nil
}
