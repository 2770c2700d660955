package alerts

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/yasasalwis/Naga-7/internal/domain"
)

// Dispatcher publishes operator-initiated actions the same way the decision
// engine does.
type Dispatcher interface {
	Dispatch(action *domain.Action, initiatedBy, strikerID string) (*domain.Action, error)
}

// Handler provides HTTP handlers for alert endpoints
type Handler struct {
	repo       *Repository
	dispatcher Dispatcher
	log        zerolog.Logger
}

// NewHandler creates a new alerts handler
func NewHandler(repo *Repository, dispatcher Dispatcher, log zerolog.Logger) *Handler {
	return &Handler{
		repo:       repo,
		dispatcher: dispatcher,
		log:        log.With().Str("handler", "alerts").Logger(),
	}
}

// HandleList handles GET /alerts/ (paginated, newest first)
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.repo.List(offset, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list alerts")
		http.Error(w, "Failed to list alerts", http.StatusInternalServerError)
		return
	}
	writeJSON(w, list)
}

// HandleGet handles GET /alerts/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	alert, err := h.repo.GetByAlertID(chi.URLParam(r, "id"))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get alert")
		http.Error(w, "Failed to get alert", http.StatusInternalServerError)
		return
	}
	if alert == nil {
		http.Error(w, "Alert not found", http.StatusNotFound)
		return
	}
	writeJSON(w, alert)
}

// dispatchRequest is an operator-initiated action list against one alert
type dispatchRequest struct {
	InitiatedBy string `json:"initiated_by,omitempty"`
	Actions     []struct {
		ActionType string                 `json:"action_type"`
		Parameters map[string]interface{} `json:"parameters,omitempty"`
		StrikerID  string                 `json:"striker_id,omitempty"`
	} `json:"actions"`
}

// HandleDispatch handles POST /alerts/{id}/dispatch
func (h *Handler) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "id")

	alert, err := h.repo.GetByAlertID(alertID)
	if err != nil {
		http.Error(w, "Failed to get alert", http.StatusInternalServerError)
		return
	}
	if alert == nil {
		http.Error(w, "Alert not found", http.StatusNotFound)
		return
	}

	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Actions) == 0 {
		http.Error(w, "No actions to dispatch", http.StatusUnprocessableEntity)
		return
	}
	initiatedBy := req.InitiatedBy
	if initiatedBy == "" {
		initiatedBy = "operator"
	}

	var dispatched []*domain.Action
	for _, a := range req.Actions {
		params := a.Parameters
		if params == nil {
			params = map[string]interface{}{}
		}
		params["alert_id"] = alertID

		action, err := h.dispatcher.Dispatch(&domain.Action{
			ActionType: a.ActionType,
			Parameters: params,
		}, initiatedBy, a.StrikerID)
		if err != nil {
			h.log.Error().Err(err).Str("action_type", a.ActionType).Msg("Operator dispatch failed")
			http.Error(w, "Dispatch failed", http.StatusInternalServerError)
			return
		}
		dispatched = append(dispatched, action)
	}

	writeJSON(w, map[string]interface{}{
		"alert_id": alertID,
		"actions":  dispatched,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
