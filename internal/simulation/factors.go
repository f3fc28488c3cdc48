package simulation

import (
	"strings"

	"github.com/google/uuid"

	"airquality-platform/internal/models"
)

// ApplicableFactors selects the catalog factors a scenario activates:
// active factors whose name matches one of the scenario's factor
// parameters (case-insensitive substring, with a positive value), plus all
// active factors whose type equals the scenario's type. Inactive factors
// never apply; an empty result is not an error.
func ApplicableFactors(catalog []models.ImpactFactor, params models.ScenarioParameters, scenarioType models.ScenarioType) []models.ImpactFactor {
	var applicable []models.ImpactFactor
	seen := make(map[uuid.UUID]bool)

	add := func(f models.ImpactFactor) {
		if !seen[f.ID] {
			seen[f.ID] = true
			applicable = append(applicable, f)
		}
	}

	for _, f := range catalog {
		if !f.IsActive {
			continue
		}

		if string(f.FactorType) == string(scenarioType) {
			add(f)
			continue
		}

		name := normalizeName(f.Name)
		for _, param := range sortedKeys(params.Factors) {
			if params.Factors[param] <= 0 {
				continue
			}
			if nameMatches(name, normalizeName(param)) {
				add(f)
				break
			}
		}
	}

	return applicable
}

// nameMatches reports whether a factor name and a parameter key refer to
// the same thing. Either may be the more specific term ("traffic" vs
// "traffic_volume"), so containment is checked both ways.
func nameMatches(factorName, paramKey string) bool {
	return strings.Contains(factorName, paramKey) || strings.Contains(paramKey, factorName)
}
