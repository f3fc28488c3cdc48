// Package aqi converts pollutant concentrations to EPA Air Quality Index
// values using piecewise-linear breakpoint interpolation.
package aqi

import (
	"airquality-platform/internal/models"
)

// breakpoint maps a concentration segment [CLow, CHigh] onto an AQI
// segment [ILow, IHigh]. Tables are contiguous so adjacent segments agree
// at their shared boundary.
type breakpoint struct {
	CLow, CHigh float64
	ILow, IHigh float64
}

// EPA breakpoint ladders. PM2.5 in ug/m3 (24h), PM10 in ug/m3 (24h).
var pm25Breakpoints = []breakpoint{
	{0.0, 12.0, 0, 50},
	{12.0, 35.4, 50, 100},
	{35.4, 55.4, 100, 150},
	{55.4, 150.4, 150, 200},
	{150.4, 250.4, 200, 300},
	{250.4, 350.4, 300, 400},
	{350.4, 500.4, 400, 500},
}

var pm10Breakpoints = []breakpoint{
	{0, 54, 0, 50},
	{54, 154, 50, 100},
	{154, 254, 100, 150},
	{254, 354, 150, 200},
	{354, 424, 200, 300},
	{424, 504, 300, 400},
	{504, 604, 400, 500},
}

// FromConcentration converts a pollutant concentration to its AQI
// sub-index. PM2.5 and PM10 use the EPA breakpoint ladders; other
// pollutants use the generic linear fallback. The result is always a
// finite value in [0, 500].
func FromConcentration(concentration float64, pollutant models.Pollutant) float64 {
	switch pollutant {
	case models.PollutantPM25:
		return interpolate(concentration, pm25Breakpoints)
	case models.PollutantPM10:
		return interpolate(concentration, pm10Breakpoints)
	default:
		// Generic fallback for pollutants without a modeled ladder.
		v := concentration * 2
		if v < 0 {
			return 0
		}
		if v > 500 {
			return 500
		}
		return v
	}
}

// Overall combines per-pollutant sub-indices into the overall AQI using
// the EPA max rule: the worst pollutant dominates.
func Overall(subIndices map[models.Pollutant]float64) float64 {
	max := 0.0
	for _, v := range subIndices {
		if v > max {
			max = v
		}
	}
	return max
}

func interpolate(c float64, table []breakpoint) float64 {
	if c <= 0 {
		return 0
	}

	for _, bp := range table {
		if c <= bp.CHigh {
			return bp.ILow + (bp.IHigh-bp.ILow)/(bp.CHigh-bp.CLow)*(c-bp.CLow)
		}
	}

	// Above the top of the ladder.
	return 500
}
