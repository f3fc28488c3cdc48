package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// FactorType classifies an environmental impact factor
type FactorType string

const (
	FactorEmissionSource FactorType = "emission_source"
	FactorWeatherPattern FactorType = "weather_pattern"
	FactorTransportation FactorType = "transportation"
	FactorIndustrial     FactorType = "industrial"
	FactorNatural        FactorType = "natural"
	FactorPolicy         FactorType = "policy"
)

// IsValid reports whether t is a known factor type.
func (t FactorType) IsValid() bool {
	switch t {
	case FactorEmissionSource, FactorWeatherPattern, FactorTransportation,
		FactorIndustrial, FactorNatural, FactorPolicy:
		return true
	}
	return false
}

// ImpactFactor is shared, read-only reference data describing how a named
// environmental phenomenon or intervention scales pollutant concentrations.
// A coefficient of 1.0 is neutral; <1.0 reduces, >1.0 increases.
type ImpactFactor struct {
	ID                uuid.UUID      `json:"id" db:"id"`
	Name              string         `json:"name" db:"name"`
	Description       string         `json:"description" db:"description"`
	FactorType        FactorType     `json:"factor_type" db:"factor_type"`
	PM25Coefficient   float64        `json:"pm25_coefficient" db:"pm25_coefficient"`
	PM10Coefficient   float64        `json:"pm10_coefficient" db:"pm10_coefficient"`
	NO2Coefficient    float64        `json:"no2_coefficient" db:"no2_coefficient"`
	SO2Coefficient    float64        `json:"so2_coefficient" db:"so2_coefficient"`
	COCoefficient     float64        `json:"co_coefficient" db:"co_coefficient"`
	O3Coefficient     float64        `json:"o3_coefficient" db:"o3_coefficient"`
	SeasonalFactor    float64        `json:"seasonal_factor" db:"seasonal_factor"`
	ApplicableRegions pq.StringArray `json:"applicable_regions" db:"applicable_regions"`
	IsActive          bool           `json:"is_active" db:"is_active"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
}

// Coefficient returns the multiplicative coefficient for the given pollutant.
// Fixed mapping by pollutant enum; every modeled pollutant has a coefficient
// (1.0 means no effect). Unknown pollutants are neutral.
func (f *ImpactFactor) Coefficient(p Pollutant) float64 {
	switch p {
	case PollutantPM25:
		return f.PM25Coefficient
	case PollutantPM10:
		return f.PM10Coefficient
	case PollutantNO2:
		return f.NO2Coefficient
	case PollutantSO2:
		return f.SO2Coefficient
	case PollutantCO:
		return f.COCoefficient
	case PollutantO3:
		return f.O3Coefficient
	default:
		return 1.0
	}
}

// Validate checks the factor invariants before it enters the catalog.
func (f *ImpactFactor) Validate() error {
	if f.Name == "" {
		return &ValidationError{Field: "name", Message: "factor name must not be empty"}
	}

	if !f.FactorType.IsValid() {
		return &ValidationError{
			Field:   "factor_type",
			Value:   string(f.FactorType),
			Message: fmt.Sprintf("unknown factor type %q", f.FactorType),
		}
	}

	for _, p := range Pollutants() {
		if f.Coefficient(p) <= 0 {
			return &ValidationError{
				Field:   string(p) + "_coefficient",
				Value:   fmt.Sprintf("%g", f.Coefficient(p)),
				Message: "pollutant coefficients must be strictly positive",
			}
		}
	}

	if f.SeasonalFactor <= 0 {
		return &ValidationError{
			Field:   "seasonal_factor",
			Value:   fmt.Sprintf("%g", f.SeasonalFactor),
			Message: "seasonal factor must be strictly positive",
		}
	}

	return nil
}

// IsNeutral reports whether the factor leaves every pollutant unchanged.
func (f *ImpactFactor) IsNeutral() bool {
	for _, p := range Pollutants() {
		if f.Coefficient(p) != 1.0 {
			return false
		}
	}
	return true
}

// ValidationError represents a data validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}
