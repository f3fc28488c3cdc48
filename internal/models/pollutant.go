package models

// Pollutant identifies one of the six modeled pollutant species.
type Pollutant string

const (
	PollutantPM25 Pollutant = "pm25"
	PollutantPM10 Pollutant = "pm10"
	PollutantNO2  Pollutant = "no2"
	PollutantSO2  Pollutant = "so2"
	PollutantCO   Pollutant = "co"
	PollutantO3   Pollutant = "o3"
)

// Pollutants returns all modeled pollutants in canonical order.
// The order is load-bearing for result columns and CSV export.
func Pollutants() []Pollutant {
	return []Pollutant{
		PollutantPM25,
		PollutantPM10,
		PollutantNO2,
		PollutantSO2,
		PollutantCO,
		PollutantO3,
	}
}

// Label returns the human-readable pollutant name used in exports.
func (p Pollutant) Label() string {
	switch p {
	case PollutantPM25:
		return "PM2.5"
	case PollutantPM10:
		return "PM10"
	case PollutantNO2:
		return "NO2"
	case PollutantSO2:
		return "SO2"
	case PollutantCO:
		return "CO"
	case PollutantO3:
		return "O3"
	default:
		return string(p)
	}
}

// IsParticulate reports whether the pollutant is particulate matter.
// Humidity corrections apply only to particulates.
func (p Pollutant) IsParticulate() bool {
	return p == PollutantPM25 || p == PollutantPM10
}

// IsValid reports whether p is one of the modeled pollutants.
func (p Pollutant) IsValid() bool {
	switch p {
	case PollutantPM25, PollutantPM10, PollutantNO2, PollutantSO2, PollutantCO, PollutantO3:
		return true
	}
	return false
}
