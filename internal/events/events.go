package events

import (
	"time"

	"github.com/google/uuid"

	"airquality-platform/internal/models"
)

// Topic names. Run requests are consumed by the simulation worker;
// lifecycle events are for downstream consumers (notifications, audit).
const (
	TopicScenarioRuns      = "scenario.runs"
	TopicScenarioLifecycle = "scenario.lifecycle"
)

// RunRequested asks the worker pool to execute a scenario.
type RunRequested struct {
	ScenarioID  uuid.UUID `json:"scenario_id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Location    string    `json:"location"`
	RequestedAt time.Time `json:"requested_at"`
}

// LifecycleChanged records a scenario status transition.
type LifecycleChanged struct {
	ScenarioID   uuid.UUID             `json:"scenario_id"`
	Status       models.ScenarioStatus `json:"status"`
	ProgressPct  int                   `json:"progress_percent"`
	ErrorMessage string                `json:"error_message,omitempty"`
	OccurredAt   time.Time             `json:"occurred_at"`
}
