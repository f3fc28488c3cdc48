package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"airquality-platform/internal/events"
	"airquality-platform/internal/models"
	"airquality-platform/internal/repository"
	"airquality-platform/internal/simulation"
	"airquality-platform/pkg/logging"
	"airquality-platform/pkg/metrics"
)

// CreateScenarioRequest carries everything needed to create a scenario.
type CreateScenarioRequest struct {
	OwnerID        uuid.UUID                 `json:"owner_id"`
	TemplateID     *uuid.UUID                `json:"template_id,omitempty"`
	Name           string                    `json:"name"`
	Description    string                    `json:"description"`
	Location       string                    `json:"location"`
	Latitude       float64                   `json:"latitude"`
	Longitude      float64                   `json:"longitude"`
	Parameters     models.ScenarioParameters `json:"parameters"`
	StartDate      time.Time                 `json:"start_date"`
	EndDate        time.Time                 `json:"end_date"`
	TimeResolution models.TimeResolution     `json:"time_resolution"`
	IsPublic       bool                      `json:"is_public"`
}

// RunState is the polling view of an in-flight or finished run.
type RunState struct {
	ScenarioID   uuid.UUID             `json:"scenario_id"`
	Status       models.ScenarioStatus `json:"status"`
	ProgressPct  int                   `json:"progress_percent"`
	ErrorMessage string                `json:"error_message,omitempty"`
	Results      *models.RunSummary    `json:"results,omitempty"`
	CompletedAt  *time.Time            `json:"completed_at,omitempty"`
}

// ConflictError indicates an operation is not valid in the scenario's
// current state, such as re-running a scenario that is already running.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

func (e *ConflictError) IsTransient() bool {
	return false
}

// ScenarioService orchestrates scenario lifecycle: creation, cloning,
// run dispatch, and status reporting.
type ScenarioService struct {
	scenarioRepo repository.ScenarioRepository
	refRepo      repository.ReferenceRepository
	publisher    *events.Publisher
	logger       *logging.StructuredLogger
	metrics      *metrics.Collector
}

// NewScenarioService creates a new scenario service.
func NewScenarioService(
	scenarioRepo repository.ScenarioRepository,
	refRepo repository.ReferenceRepository,
	publisher *events.Publisher,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *ScenarioService {
	return &ScenarioService{
		scenarioRepo: scenarioRepo,
		refRepo:      refRepo,
		publisher:    publisher,
		logger:       logger,
		metrics:      metricsCollector,
	}
}

// Create builds a scenario in draft state. When a template is referenced,
// the request parameters are treated as overrides on the template
// defaults. Validation problems do not block creation; drafts may be
// edited, only runs are gated.
func (s *ScenarioService) Create(ctx context.Context, req CreateScenarioRequest) (*models.SimulationScenario, error) {
	params := req.Parameters

	if req.TemplateID != nil {
		template, err := s.refRepo.GetTemplate(ctx, *req.TemplateID)
		if err != nil {
			return nil, err
		}
		params = template.InstantiateParameters(req.Parameters)
	}

	now := time.Now().UTC()
	scenario := &models.SimulationScenario{
		ID:             uuid.New(),
		OwnerID:        req.OwnerID,
		TemplateID:     req.TemplateID,
		Name:           req.Name,
		Description:    req.Description,
		Location:       req.Location,
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		Parameters:     params,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		TimeResolution: req.TimeResolution,
		Status:         models.StatusDraft,
		IsPublic:       req.IsPublic,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if scenario.TimeResolution == "" {
		scenario.TimeResolution = models.ResolutionHourly
	}

	if err := s.scenarioRepo.CreateScenario(ctx, scenario); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "[SCENARIO_CREATED] Scenario created", logging.Fields{
		"scenario_id": scenario.ID.String(),
		"name":        scenario.Name,
		"location":    scenario.Location,
	})

	return scenario, nil
}

// Get retrieves a scenario by ID.
func (s *ScenarioService) Get(ctx context.Context, id uuid.UUID) (*models.SimulationScenario, error) {
	return s.scenarioRepo.GetScenario(ctx, id)
}

// List retrieves scenarios with filtering and pagination.
func (s *ScenarioService) List(ctx context.Context, filter repository.ScenarioFilter) ([]*models.SimulationScenario, int, error) {
	return s.scenarioRepo.ListScenarios(ctx, filter)
}

// Delete removes a scenario and its results. Running scenarios cannot be
// deleted; cancel first.
func (s *ScenarioService) Delete(ctx context.Context, id uuid.UUID) error {
	scenario, err := s.scenarioRepo.GetScenario(ctx, id)
	if err != nil {
		return err
	}

	if scenario.Status == models.StatusRunning {
		return &ConflictError{Message: "cannot delete a running scenario"}
	}

	return s.scenarioRepo.DeleteScenario(ctx, id)
}

// Clone copies an existing scenario into a fresh draft owned by the
// caller. Run state and results are not carried over.
func (s *ScenarioService) Clone(ctx context.Context, id, ownerID uuid.UUID) (*models.SimulationScenario, error) {
	source, err := s.scenarioRepo.GetScenario(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	clone := &models.SimulationScenario{
		ID:             uuid.New(),
		OwnerID:        ownerID,
		TemplateID:     source.TemplateID,
		Name:           source.Name + " (Copy)",
		Description:    source.Description,
		Location:       source.Location,
		Latitude:       source.Latitude,
		Longitude:      source.Longitude,
		Parameters:     source.Parameters,
		StartDate:      source.StartDate,
		EndDate:        source.EndDate,
		TimeResolution: source.TimeResolution,
		Status:         models.StatusDraft,
		IsPublic:       false,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.scenarioRepo.CreateScenario(ctx, clone); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "[SCENARIO_CLONED] Scenario cloned", logging.Fields{
		"source_id":   id.String(),
		"scenario_id": clone.ID.String(),
	})

	return clone, nil
}

// RequestRun validates a scenario and dispatches it for asynchronous
// execution. The scenario is parked in running state at zero progress
// before the event goes out so pollers immediately see the transition.
func (s *ScenarioService) RequestRun(ctx context.Context, id uuid.UUID) error {
	scenario, err := s.scenarioRepo.GetScenario(ctx, id)
	if err != nil {
		return err
	}

	if scenario.Status == models.StatusRunning {
		return &ConflictError{Message: "scenario is already running"}
	}

	if valid, violations := simulation.ValidateScenario(scenario); !valid {
		return &simulation.ValidationFailedError{Violations: violations}
	}

	if err := s.scenarioRepo.UpdateRunState(ctx, id, models.StatusRunning, 0); err != nil {
		return err
	}

	event := events.RunRequested{
		ScenarioID:  scenario.ID,
		OwnerID:     scenario.OwnerID,
		Location:    scenario.Location,
		RequestedAt: time.Now().UTC(),
	}

	if err := s.publisher.PublishRunRequested(ctx, event); err != nil {
		// The run will never be picked up; do not leave the scenario
		// stuck in running state.
		if failErr := s.scenarioRepo.FailRun(ctx, id, "failed to dispatch run request"); failErr != nil {
			s.logger.Error(ctx, "[RUN_DISPATCH_ERROR] Failed to mark scenario failed after dispatch error", logging.Fields{
				"scenario_id": id.String(),
			}, failErr)
		}
		return fmt.Errorf("failed to dispatch run request: %w", err)
	}

	s.publisher.PublishLifecycleChanged(ctx, events.LifecycleChanged{
		ScenarioID:  scenario.ID,
		Status:      models.StatusRunning,
		ProgressPct: 0,
		OccurredAt:  time.Now().UTC(),
	})

	s.logger.Info(ctx, "[RUN_REQUESTED] Simulation run dispatched", logging.Fields{
		"scenario_id": id.String(),
		"location":    scenario.Location,
	})

	return nil
}

// Status returns the lightweight polling view of a scenario run.
func (s *ScenarioService) Status(ctx context.Context, id uuid.UUID) (*RunState, error) {
	scenario, err := s.scenarioRepo.GetScenario(ctx, id)
	if err != nil {
		return nil, err
	}

	state := &RunState{
		ScenarioID:   scenario.ID,
		Status:       scenario.Status,
		ProgressPct:  scenario.ProgressPct,
		ErrorMessage: scenario.ErrorMessage,
		CompletedAt:  scenario.CompletedAt,
	}

	if scenario.Status == models.StatusCompleted {
		results := scenario.Results
		state.Results = &results
	}

	return state, nil
}

// Results returns a completed scenario's time series in timestamp order.
func (s *ScenarioService) Results(ctx context.Context, id uuid.UUID) ([]*models.SimulationResult, error) {
	if _, err := s.scenarioRepo.GetScenario(ctx, id); err != nil {
		return nil, err
	}
	return s.scenarioRepo.GetResults(ctx, id)
}
