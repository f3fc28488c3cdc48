package simulation

import (
	"airquality-platform/internal/models"
)

// maxScenarioDays bounds execution cost. A year of hourly steps is already
// ~8800 result rows per scenario.
const maxScenarioDays = 365

// ValidateScenario checks scenario parameters before execution. It returns
// every violated rule, not just the first, and never mutates the scenario.
// A scenario that fails validation stays in draft.
func ValidateScenario(s *models.SimulationScenario) (bool, []string) {
	var errs []string

	if !s.StartDate.Before(s.EndDate) {
		errs = append(errs, "End date must be after start date")
	}

	if s.EndDate.Sub(s.StartDate).Hours() > maxScenarioDays*24 {
		errs = append(errs, "Simulation duration cannot exceed 365 days")
	}

	if s.Latitude < -90 || s.Latitude > 90 {
		errs = append(errs, "Latitude must be between -90 and 90 degrees")
	}

	if s.Longitude < -180 || s.Longitude > 180 {
		errs = append(errs, "Longitude must be between -180 and 180 degrees")
	}

	if s.Parameters.IsEmpty() {
		errs = append(errs, "At least one impact parameter must be specified")
	}

	return len(errs) == 0, errs
}
