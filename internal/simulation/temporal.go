package simulation

import (
	"math"
	"sort"
	"strings"
	"time"

	"airquality-platform/internal/models"
)

// defaultIntensity is assumed when no scenario parameter names the factor.
const defaultIntensity = 0.5

// FactorIntensity computes how strongly a factor is active at a moment,
// in [0, 1]. The base intensity comes from the matching scenario parameter
// (a percentage), then factor-type-specific temporal modulation applies:
// transportation peaks at rush hours and dips on weekends, industrial
// activity drops at night and on weekends, and wildfire factors follow
// fire season.
func FactorIntensity(params models.ScenarioParameters, factor *models.ImpactFactor, ts time.Time) float64 {
	base := defaultIntensity

	factorKey := normalizeName(factor.Name)
	for _, name := range sortedKeys(params.Factors) {
		if strings.Contains(normalizeName(name), factorKey) {
			base = clamp01(params.Factors[name] / 100.0)
			break
		}
	}

	hour := ts.Hour()
	weekend := isWeekend(ts)
	month := int(ts.Month())

	switch factor.FactorType {
	case models.FactorTransportation:
		if isRushHour(hour) {
			base *= 1.3
		} else if weekend {
			base *= 0.7
		}

	case models.FactorIndustrial:
		if hour < 6 || hour > 22 {
			base *= 0.6
		} else if weekend {
			base *= 0.5
		}

	case models.FactorNatural:
		if strings.Contains(strings.ToLower(factor.Name), "fire") {
			if month >= 6 && month <= 9 {
				base *= factor.SeasonalFactor
			} else {
				base *= 0.3
			}
		}
	}

	if base > 1.0 {
		return 1.0
	}
	return base
}

// ApplyTemporalVariations multiplies every concentration by the diurnal
// and seasonal cycles: a daily sinusoid peaking near midday and a seasonal
// sinusoid peaking in summer. This stacks on top of, and independently of,
// factor-specific intensity modulation.
func ApplyTemporalVariations(concentrations map[models.Pollutant]float64, ts time.Time) {
	hour := float64(ts.Hour())
	month := float64(ts.Month())

	dailyFactor := 1.0 + 0.3*math.Sin((hour-6)*math.Pi/12)
	seasonalFactor := 1.0 + 0.2*math.Sin((month-3)*math.Pi/6)

	for p := range concentrations {
		concentrations[p] *= dailyFactor * seasonalFactor
	}
}

func isRushHour(hour int) bool {
	switch hour {
	case 7, 8, 9, 17, 18, 19:
		return true
	}
	return false
}

func isWeekend(ts time.Time) bool {
	d := ts.Weekday()
	return d == time.Saturday || d == time.Sunday
}

// normalizeName lower-cases a factor or parameter name and folds spaces to
// underscores so "Traffic Volume" matches the "traffic_volume" parameter.
func normalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

// sortedKeys keeps parameter matching deterministic across runs.
func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
