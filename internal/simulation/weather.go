package simulation

import (
	"airquality-platform/internal/models"
)

// Defaults yield near-neutral weather factors.
const (
	defaultWindSpeed   = 5.0  // m/s
	defaultTemperature = 20.0 // Celsius
	defaultHumidity    = 50.0 // percent
)

// ApplyWeatherEffects corrects concentrations for the scenario's weather
// settings. Wind disperses all pollutants, temperature scales them
// linearly, and humidity affects only particulates.
func ApplyWeatherEffects(concentrations map[models.Pollutant]float64, weather models.WeatherParameters) {
	wind := valueOr(weather.WindSpeed, defaultWindSpeed)
	temperature := valueOr(weather.Temperature, defaultTemperature)
	humidity := valueOr(weather.Humidity, defaultHumidity)

	windFactor := 1.0 / (1.0 + wind/10.0)
	tempFactor := 1.0 + (temperature-20.0)/100.0
	humidityFactor := 1.0 + (humidity-50.0)/200.0

	for p := range concentrations {
		concentrations[p] *= windFactor * tempFactor

		if p.IsParticulate() {
			concentrations[p] *= humidityFactor
		}
	}
}

func valueOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}
