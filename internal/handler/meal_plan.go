package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/weekplate/internal/auth"
	"github.com/dukerupert/weekplate/internal/mealplan"
	"github.com/dukerupert/weekplate/internal/model"
	"github.com/dukerupert/weekplate/internal/store"
)

type MealPlanHandler struct {
	service *mealplan.Service
	logger  *slog.Logger
}

func NewMealPlanHandler(svc *mealplan.Service, logger *slog.Logger) *MealPlanHandler {
	return &MealPlanHandler{service: svc, logger: logger}
}

type dataResponse struct {
	Message string `json:"message,omitempty"`
	Data    any    `json:"data"`
}

type planWithLogs struct {
	*model.MealPlan
	Logs []model.GenerationLog `json:"logs"`
}

// List handles GET /api/meal-plans
func (h *MealPlanHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListOptions{
		Status:    model.MealPlanStatus(q.Get("status")),
		Sort:      q.Get("sort"),
		Direction: q.Get("direction"),
	}
	opts.Page, _ = strconv.Atoi(q.Get("page"))
	opts.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	page, err := h.service.List(r.Context(), auth.UserID(r.Context()), opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if page.Plans == nil {
		page.Plans = []model.MealPlan{}
	}
	writeJSON(w, http.StatusOK, page)
}

// Get handles GET /api/meal-plans/{id}
func (h *MealPlanHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeMessage(w, http.StatusNotFound, "Not found.")
		return
	}

	plan, logs, err := h.service.Get(r.Context(), auth.UserID(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if logs == nil {
		logs = []model.GenerationLog{}
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: planWithLogs{MealPlan: plan, Logs: logs}})
}

// Logs handles GET /api/meal-plans/{id}/logs
func (h *MealPlanHandler) Logs(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeMessage(w, http.StatusNotFound, "Not found.")
		return
	}

	logs, err := h.service.Logs(r.Context(), auth.UserID(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if logs == nil {
		logs = []model.GenerationLog{}
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: logs})
}

// Create handles POST /api/meal-plans
func (h *MealPlanHandler) Create(w http.ResponseWriter, r *http.Request) {
	fields, err := decodeFields(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Malformed request body.")
		return
	}

	plan, err := h.service.Generate(r.Context(), auth.UserID(r.Context()), stringField(fields, "start_date"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dataResponse{Message: "Meal plan generation started.", Data: plan})
}

// Regenerate handles PUT /api/meal-plans/{id}
func (h *MealPlanHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeMessage(w, http.StatusNotFound, "Not found.")
		return
	}
	fields, err := decodeFields(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Malformed request body.")
		return
	}

	req := mealplan.RegenerateRequest{
		Regenerate: mealplan.Accepted(fields["regenerate"]),
		Force:      mealplan.Truthy(fields["force"]),
	}
	plan, err := h.service.Regenerate(r.Context(), auth.UserID(r.Context()), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, dataResponse{Message: "Meal plan regeneration started.", Data: plan})
}

// Delete handles DELETE /api/meal-plans/{id}
func (h *MealPlanHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeMessage(w, http.StatusNotFound, "Not found.")
		return
	}

	if err := h.service.Delete(r.Context(), auth.UserID(r.Context()), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Download handles GET /api/meal-plans/{id}/pdf
func (h *MealPlanHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeMessage(w, http.StatusNotFound, "Not found.")
		return
	}

	doc, err := h.service.Download(r.Context(), auth.UserID(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+doc.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(doc.Data)
}

func (h *MealPlanHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *mealplan.ValidationError
	switch {
	case errors.As(err, &ve):
		if ve.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(ve.RetryAfter))
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": ve.Message,
			"errors":  map[string][]string{ve.Field: {ve.Message}},
		})
	case errors.Is(err, mealplan.ErrAlreadyProcessing):
		writeJSON(w, http.StatusConflict, map[string]any{
			"message": mealplan.MsgProcessing,
			"error":   "meal_plan_processing",
			"errors":  map[string][]string{mealplan.FieldStatus: {mealplan.MsgProcessing}},
		})
	case errors.Is(err, mealplan.ErrForbidden):
		writeMessage(w, http.StatusForbidden, "This action is unauthorized.")
	case errors.Is(err, mealplan.ErrArtifactUnavailable):
		writeMessage(w, http.StatusNotFound, "PDF is not available for this meal plan.")
	case errors.Is(err, mealplan.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Not found.")
	default:
		h.logger.Error("meal plan request", "method", r.Method, "path", r.URL.Path, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Server error.")
	}
}
