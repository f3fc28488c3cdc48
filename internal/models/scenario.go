package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ScenarioStatus is the lifecycle state of a simulation scenario.
// State machine: draft -> running -> {completed | failed | cancelled}.
type ScenarioStatus string

const (
	StatusDraft     ScenarioStatus = "draft"
	StatusRunning   ScenarioStatus = "running"
	StatusCompleted ScenarioStatus = "completed"
	StatusFailed    ScenarioStatus = "failed"
	StatusCancelled ScenarioStatus = "cancelled"
)

// IsTerminal reports whether the status is a terminal run state.
func (s ScenarioStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// TimeResolution is the step size of the simulation grid.
type TimeResolution string

const (
	ResolutionHourly TimeResolution = "hourly"
	ResolutionDaily  TimeResolution = "daily"
	ResolutionWeekly TimeResolution = "weekly"
)

// StepDuration returns the grid delta for the resolution.
// Unknown resolutions fall back to hourly.
func (r TimeResolution) StepDuration() time.Duration {
	switch r {
	case ResolutionDaily:
		return 24 * time.Hour
	case ResolutionWeekly:
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// ScenarioType keys a template to the kind of intervention it models.
// Types that coincide with a FactorType pull in all active factors of
// that type during execution.
type ScenarioType string

const (
	ScenarioWildfire   ScenarioType = "wildfire"
	ScenarioTraffic    ScenarioType = "traffic"
	ScenarioIndustrial ScenarioType = "industrial"
	ScenarioWeather    ScenarioType = "weather"
	ScenarioPolicy     ScenarioType = "policy"
	ScenarioSeasonal   ScenarioType = "seasonal"
	ScenarioCustom     ScenarioType = "custom"
)

// WeatherParameters are the optional meteorological settings of a scenario.
// Nil fields mean "use model defaults" (wind 5 m/s, 20 C, 50% humidity).
type WeatherParameters struct {
	WindSpeed   *float64 `json:"wind_speed,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
}

// ScenarioParameters is the typed parameter set of a scenario.
// Factors maps a parameter key (e.g. "traffic_volume") to an intensity
// percentage; Custom carries experimental string-valued settings.
type ScenarioParameters struct {
	Weather WeatherParameters  `json:"weather"`
	Factors map[string]float64 `json:"factors"`
	Custom  map[string]string  `json:"custom,omitempty"`
}

// IsEmpty reports whether no impact parameters are set at all.
func (p ScenarioParameters) IsEmpty() bool {
	return len(p.Factors) == 0 && len(p.Custom) == 0
}

// Value implements driver.Valuer for JSONB storage.
func (p ScenarioParameters) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner for JSONB storage.
func (p *ScenarioParameters) Scan(src interface{}) error {
	return scanJSON(src, p)
}

// RunSummary is the aggregate outcome of a completed run, stored on the
// scenario itself so list views avoid touching the result rows.
type RunSummary struct {
	AverageAQI         float64 `json:"average_aqi"`
	MaxAQI             int     `json:"max_aqi"`
	MinAQI             int     `json:"min_aqi"`
	AverageImprovement float64 `json:"average_improvement_percent"`
	DataPoints         int     `json:"data_points"`
	SkippedSteps       int     `json:"skipped_steps"`
}

// Value implements driver.Valuer for JSONB storage.
func (s RunSummary) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for JSONB storage.
func (s *RunSummary) Scan(src interface{}) error {
	return scanJSON(src, s)
}

// SimulationScenario is a user-defined what-if simulation over a date range.
type SimulationScenario struct {
	ID             uuid.UUID          `json:"id" db:"id"`
	OwnerID        uuid.UUID          `json:"owner_id" db:"owner_id"`
	TemplateID     *uuid.UUID         `json:"template_id,omitempty" db:"template_id"`
	Name           string             `json:"name" db:"name"`
	Description    string             `json:"description" db:"description"`
	Location       string             `json:"location" db:"location"`
	Latitude       float64            `json:"latitude" db:"latitude"`
	Longitude      float64            `json:"longitude" db:"longitude"`
	Parameters     ScenarioParameters `json:"parameters" db:"parameters"`
	StartDate      time.Time          `json:"start_date" db:"start_date"`
	EndDate        time.Time          `json:"end_date" db:"end_date"`
	TimeResolution TimeResolution     `json:"time_resolution" db:"time_resolution"`
	Status         ScenarioStatus     `json:"status" db:"status"`
	ProgressPct    int                `json:"progress_percent" db:"progress_percent"`
	Results        RunSummary         `json:"results" db:"results"`
	ErrorMessage   string             `json:"error_message" db:"error_message"`
	IsPublic       bool               `json:"is_public" db:"is_public"`
	CreatedAt      time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at" db:"updated_at"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty" db:"completed_at"`
}

// DurationHours returns the simulated span in whole hours.
func (s *SimulationScenario) DurationHours() int {
	return int(s.EndDate.Sub(s.StartDate).Hours())
}

// ScenarioType resolves the scenario's type from its template, if any.
// Template-less scenarios are custom.
func (s *SimulationScenario) ScenarioType(template *ScenarioTemplate) ScenarioType {
	if template == nil {
		return ScenarioCustom
	}
	return template.ScenarioType
}

// SimulationResult is one projected data point of a scenario run.
// Append-only during a run; fully replaced on re-run.
type SimulationResult struct {
	ID                 int64     `json:"id" db:"id"`
	ScenarioID         uuid.UUID `json:"scenario_id" db:"scenario_id"`
	Timestamp          time.Time `json:"timestamp" db:"timestamp"`
	PM25Concentration  *float64  `json:"pm25_concentration,omitempty" db:"pm25_concentration"`
	PM10Concentration  *float64  `json:"pm10_concentration,omitempty" db:"pm10_concentration"`
	NO2Concentration   *float64  `json:"no2_concentration,omitempty" db:"no2_concentration"`
	SO2Concentration   *float64  `json:"so2_concentration,omitempty" db:"so2_concentration"`
	COConcentration    *float64  `json:"co_concentration,omitempty" db:"co_concentration"`
	O3Concentration    *float64  `json:"o3_concentration,omitempty" db:"o3_concentration"`
	AQIValue           int       `json:"aqi_value" db:"aqi_value"`
	BaselineAQI        int       `json:"baseline_aqi" db:"baseline_aqi"`
	ImprovementPercent float64   `json:"improvement_percent" db:"improvement_percent"`
	VisibilityKm       float64   `json:"visibility_km" db:"visibility_km"`
	HealthRiskIndex    float64   `json:"health_risk_index" db:"health_risk_index"`
}

// Concentration returns the stored concentration for a pollutant.
func (r *SimulationResult) Concentration(p Pollutant) *float64 {
	switch p {
	case PollutantPM25:
		return r.PM25Concentration
	case PollutantPM10:
		return r.PM10Concentration
	case PollutantNO2:
		return r.NO2Concentration
	case PollutantSO2:
		return r.SO2Concentration
	case PollutantCO:
		return r.COConcentration
	case PollutantO3:
		return r.O3Concentration
	default:
		return nil
	}
}

// SetConcentration stores a concentration for a pollutant.
func (r *SimulationResult) SetConcentration(p Pollutant, value float64) {
	v := value
	switch p {
	case PollutantPM25:
		r.PM25Concentration = &v
	case PollutantPM10:
		r.PM10Concentration = &v
	case PollutantNO2:
		r.NO2Concentration = &v
	case PollutantSO2:
		r.SO2Concentration = &v
	case PollutantCO:
		r.COConcentration = &v
	case PollutantO3:
		r.O3Concentration = &v
	}
}

// ScenarioTemplate is a reusable parameter preset for building scenarios.
type ScenarioTemplate struct {
	ID                uuid.UUID          `json:"id" db:"id"`
	Name              string             `json:"name" db:"name"`
	Description       string             `json:"description" db:"description"`
	ScenarioType      ScenarioType       `json:"scenario_type" db:"scenario_type"`
	DefaultParameters ScenarioParameters `json:"default_parameters" db:"default_parameters"`
	ComplexityLevel   string             `json:"complexity_level" db:"complexity_level"`
	IsPublic          bool               `json:"is_public" db:"is_public"`
	CreatedAt         time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at" db:"updated_at"`
}

// InstantiateParameters merges user overrides onto the template defaults.
// Override maps win key-by-key; weather settings win field-by-field.
func (t *ScenarioTemplate) InstantiateParameters(overrides ScenarioParameters) ScenarioParameters {
	merged := ScenarioParameters{
		Weather: t.DefaultParameters.Weather,
		Factors: make(map[string]float64, len(t.DefaultParameters.Factors)+len(overrides.Factors)),
		Custom:  make(map[string]string, len(t.DefaultParameters.Custom)+len(overrides.Custom)),
	}

	for k, v := range t.DefaultParameters.Factors {
		merged.Factors[k] = v
	}
	for k, v := range overrides.Factors {
		merged.Factors[k] = v
	}

	for k, v := range t.DefaultParameters.Custom {
		merged.Custom[k] = v
	}
	for k, v := range overrides.Custom {
		merged.Custom[k] = v
	}

	if overrides.Weather.WindSpeed != nil {
		merged.Weather.WindSpeed = overrides.Weather.WindSpeed
	}
	if overrides.Weather.Temperature != nil {
		merged.Weather.Temperature = overrides.Weather.Temperature
	}
	if overrides.Weather.Humidity != nil {
		merged.Weather.Humidity = overrides.Weather.Humidity
	}

	return merged
}

// scanJSON decodes a JSONB column into dest, tolerating NULL.
func scanJSON(src interface{}, dest interface{}) error {
	if src == nil {
		return nil
	}

	switch v := src.(type) {
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("cannot scan %T into JSON value", src)
	}
}
