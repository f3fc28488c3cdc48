package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"airquality-platform/internal/models"
	"airquality-platform/internal/repository"
	"airquality-platform/internal/services"
	"airquality-platform/internal/simulation"
	"airquality-platform/pkg/logging"
	"airquality-platform/pkg/metrics"
)

// ScenarioHandler handles scenario API endpoints
type ScenarioHandler struct {
	scenarioService *services.ScenarioService
	exportService   *services.ExportService
	refRepo         repository.ReferenceRepository
	scenarioRepo    repository.ScenarioRepository
	logger          *logging.StructuredLogger
	metrics         *metrics.Collector
}

// NewScenarioHandler creates a new scenario handler
func NewScenarioHandler(
	scenarioService *services.ScenarioService,
	exportService *services.ExportService,
	refRepo repository.ReferenceRepository,
	scenarioRepo repository.ScenarioRepository,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *ScenarioHandler {
	return &ScenarioHandler{
		scenarioService: scenarioService,
		exportService:   exportService,
		refRepo:         refRepo,
		scenarioRepo:    scenarioRepo,
		logger:          logger,
		metrics:         metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error      string   `json:"error"`
	Message    string   `json:"message"`
	Code       int      `json:"code"`
	Violations []string `json:"violations,omitempty"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// ListTemplates handles GET /api/templates
func (h *ScenarioHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := repository.TemplateFilter{PublicOnly: true}

	if scenarioType := r.URL.Query().Get("scenario_type"); scenarioType != "" {
		filter.ScenarioType = &scenarioType
	}

	templates, err := h.refRepo.ListTemplates(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_LIST_TEMPLATES_ERROR] Failed to list templates", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/templates")
		h.sendError(w, r, "failed to retrieve templates", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/templates", "GET", "200")
	h.sendJSON(w, map[string]interface{}{"data": templates, "total": len(templates)}, http.StatusOK)
}

// GetTemplate handles GET /api/templates/{id}
func (h *ScenarioHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	template, err := h.refRepo.GetTemplate(ctx, id)
	if err != nil {
		h.handleServiceError(w, r, "/api/templates/{id}", "failed to retrieve template", err)
		return
	}

	h.metrics.RecordAPIRequest("/api/templates/{id}", "GET", "200")
	h.sendJSON(w, template, http.StatusOK)
}

// CreateScenario handles POST /api/scenarios
func (h *ScenarioHandler) CreateScenario(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req services.CreateScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, r, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Location == "" {
		h.sendError(w, r, "name and location are required", http.StatusBadRequest)
		return
	}

	scenario, err := h.scenarioService.Create(ctx, req)
	if err != nil {
		h.handleServiceError(w, r, "/api/scenarios", "failed to create scenario", err)
		return
	}

	h.metrics.RecordAPIRequest("/api/scenarios", "POST", "201")
	h.sendJSON(w, scenario, http.StatusCreated)
}

// ListScenarios handles GET /api/scenarios
func (h *ScenarioHandler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/scenarios").Observe(duration.Seconds())
	}()

	// Default pagination
	page := 1
	limit := 50

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}

	filter := repository.ScenarioFilter{
		Limit:  limit,
		Offset: (page - 1) * limit,
	}

	if ownerStr := r.URL.Query().Get("owner_id"); ownerStr != "" {
		ownerID, err := uuid.Parse(ownerStr)
		if err != nil {
			h.sendError(w, r, "invalid owner_id, expected UUID", http.StatusBadRequest)
			return
		}
		filter.OwnerID = &ownerID
	}

	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status := models.ScenarioStatus(statusStr)
		filter.Status = &status
	}

	if search := r.URL.Query().Get("search"); search != "" {
		filter.Search = &search
	}

	scenarios, total, err := h.scenarioService.List(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_LIST_SCENARIOS_ERROR] Failed to list scenarios", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/scenarios")
		h.sendError(w, r, "failed to retrieve scenarios", http.StatusInternalServerError)
		return
	}

	totalPages := (total + limit - 1) / limit

	response := PaginatedResponse{
		Data:       scenarios,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}

	h.metrics.RecordAPIRequest("/api/scenarios", "GET", "200")
	h.sendJSON(w, response, http.StatusOK)
}

// GetScenario handles GET /api/scenarios/{id}
func (h *ScenarioHandler) GetScenario(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	scenario, err := h.scenarioService.Get(ctx, id)
	if err != nil {
		h.handleServiceError(w, r, "/api/scenarios/{id}", "failed to retrieve scenario", err)
		return
	}

	h.metrics.RecordAPIRequest("/api/scenarios/{id}", "GET", "200")
	h.sendJSON(w, scenario, http.StatusOK)
}

// DeleteScenario handles DELETE /api/scenarios/{id}
func (h *ScenarioHandler) DeleteScenario(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.scenarioService.Delete(ctx, id); err != nil {
		h.handleServiceError(w, r, "/api/scenarios/{id}", "failed to delete scenario", err)
		return
	}

	h.metrics.RecordAPIRequest("/api/scenarios/{id}", "DELETE", "204")
	w.WriteHeader(http.StatusNoContent)
}

// CloneScenario handles POST /api/scenarios/{id}/clone
func (h *ScenarioHandler) CloneScenario(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var body struct {
		OwnerID uuid.UUID `json:"owner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.sendError(w, r, "invalid request body", http.StatusBadRequest)
		return
	}

	clone, err := h.scenarioService.Clone(ctx, id, body.OwnerID)
	if err != nil {
		h.handleServiceError(w, r, "/api/scenarios/{id}/clone", "failed to clone scenario", err)
		return
	}

	h.metrics.RecordAPIRequest("/api/scenarios/{id}/clone", "POST", "201")
	h.sendJSON(w, clone, http.StatusCreated)
}

// RunScenario handles POST /api/scenarios/{id}/run
func (h *ScenarioHandler) RunScenario(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.scenarioService.RequestRun(ctx, id); err != nil {
		h.handleServiceError(w, r, "/api/scenarios/{id}/run", "failed to start simulation", err)
		return
	}

	h.metrics.RecordAPIRequest("/api/scenarios/{id}/run", "POST", "202")
	h.sendJSON(w, map[string]string{"status": "accepted"}, http.StatusAccepted)
}

// GetStatus handles GET /api/scenarios/{id}/status
func (h *ScenarioHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	state, err := h.scenarioService.Status(ctx, id)
	if err != nil {
		h.handleServiceError(w, r, "/api/scenarios/{id}/status", "failed to retrieve status", err)
		return
	}

	h.metrics.RecordAPIRequest("/api/scenarios/{id}/status", "GET", "200")
	h.sendJSON(w, state, http.StatusOK)
}

// GetResults handles GET /api/scenarios/{id}/results
func (h *ScenarioHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	results, err := h.scenarioService.Results(ctx, id)
	if err != nil {
		h.handleServiceError(w, r, "/api/scenarios/{id}/results", "failed to retrieve results", err)
		return
	}

	h.metrics.RecordAPIRequest("/api/scenarios/{id}/results", "GET", "200")
	h.sendJSON(w, map[string]interface{}{"data": results, "total": len(results)}, http.StatusOK)
}

// ExportResults handles GET /api/scenarios/{id}/export
func (h *ScenarioHandler) ExportResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	scenario, err := h.scenarioService.Get(ctx, id)
	if err != nil {
		h.handleServiceError(w, r, "/api/scenarios/{id}/export", "failed to retrieve scenario", err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+services.ExportFilename(scenario)+`"`)

	if err := h.exportService.WriteCSV(ctx, id, w); err != nil {
		// Headers may already be out; log and stop.
		h.logger.Error(ctx, "[API_EXPORT_ERROR] Failed to export results", logging.Fields{
			"scenario_id": id.String(),
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/scenarios/{id}/export")
		return
	}

	h.metrics.RecordAPIRequest("/api/scenarios/{id}/export", "GET", "200")
}

// HealthCheck handles GET /health
func (h *ScenarioHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.scenarioRepo.HealthCheck(ctx); err != nil {
		h.sendJSON(w, map[string]string{
			"status":    "unhealthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}, http.StatusServiceUnavailable)
		return
	}

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, http.StatusOK)
}

// parseID extracts and validates the {id} path variable
func (h *ScenarioHandler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := mux.Vars(r)["id"]
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.sendError(w, r, "invalid scenario id, expected UUID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// handleServiceError maps service errors onto HTTP status codes
func (h *ScenarioHandler) handleServiceError(w http.ResponseWriter, r *http.Request, endpoint, fallback string, err error) {
	ctx := r.Context()

	var notFound *repository.NotFoundError
	if errors.As(err, &notFound) {
		h.sendError(w, r, notFound.Error(), http.StatusNotFound)
		return
	}

	var conflict *services.ConflictError
	if errors.As(err, &conflict) {
		h.sendError(w, r, conflict.Error(), http.StatusConflict)
		return
	}

	var validation *simulation.ValidationFailedError
	if errors.As(err, &validation) {
		h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(http.StatusBadRequest))
		h.sendJSON(w, ErrorResponse{
			Error:      http.StatusText(http.StatusBadRequest),
			Message:    "scenario validation failed",
			Code:       http.StatusBadRequest,
			Violations: validation.Violations,
		}, http.StatusBadRequest)
		return
	}

	h.logger.Error(ctx, "[API_ERROR] Request failed", logging.Fields{
		"endpoint": endpoint,
	}, err)
	h.metrics.RecordAPIError("internal_error", endpoint)
	h.sendError(w, r, fallback, http.StatusInternalServerError)
}

// sendJSON sends a JSON response
func (h *ScenarioHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *ScenarioHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all scenario API routes
func (h *ScenarioHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/templates", h.ListTemplates).Methods("GET")
	router.HandleFunc("/api/templates/{id}", h.GetTemplate).Methods("GET")
	router.HandleFunc("/api/scenarios", h.CreateScenario).Methods("POST")
	router.HandleFunc("/api/scenarios", h.ListScenarios).Methods("GET")
	router.HandleFunc("/api/scenarios/{id}", h.GetScenario).Methods("GET")
	router.HandleFunc("/api/scenarios/{id}", h.DeleteScenario).Methods("DELETE")
	router.HandleFunc("/api/scenarios/{id}/clone", h.CloneScenario).Methods("POST")
	router.HandleFunc("/api/scenarios/{id}/run", h.RunScenario).Methods("POST")
	router.HandleFunc("/api/scenarios/{id}/status", h.GetStatus).Methods("GET")
	router.HandleFunc("/api/scenarios/{id}/results", h.GetResults).Methods("GET")
	router.HandleFunc("/api/scenarios/{id}/export", h.ExportResults).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}
