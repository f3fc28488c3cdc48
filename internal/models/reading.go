package models

import (
	"time"
)

// AirQualityReading is a historical measurement supplied by the monitoring
// collaborators. The baseline provider averages these over the calendar
// window one year before a scenario's date range.
type AirQualityReading struct {
	ID            int64     `json:"id" db:"id"`
	Location      string    `json:"location" db:"location"`
	PollutantType Pollutant `json:"pollutant_type" db:"pollutant_type"`
	Concentration float64   `json:"concentration" db:"concentration"`
	AQIValue      float64   `json:"aqi_value" db:"aqi_value"`
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
