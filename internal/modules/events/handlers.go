package events

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/yasasalwis/Naga-7/internal/domain"
)

// Dispatcher publishes operator-initiated actions
type Dispatcher interface {
	Dispatch(action *domain.Action, initiatedBy, strikerID string) (*domain.Action, error)
}

// Handler provides HTTP handlers for event endpoints
type Handler struct {
	repo       *Repository
	dispatcher Dispatcher
	log        zerolog.Logger
}

// NewHandler creates a new events handler
func NewHandler(repo *Repository, dispatcher Dispatcher, log zerolog.Logger) *Handler {
	return &Handler{
		repo:       repo,
		dispatcher: dispatcher,
		log:        log.With().Str("handler", "events").Logger(),
	}
}

// HandleList handles GET /events/
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.repo.List(offset, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list events")
		http.Error(w, "Failed to list events", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

// strikeRequest is a single operator-initiated action against one event
type strikeRequest struct {
	ActionType  string                 `json:"action_type"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	StrikerID   string                 `json:"striker_id,omitempty"`
	InitiatedBy string                 `json:"initiated_by,omitempty"`
}

// HandleStrike handles POST /events/{id}/strike: a single-action dispatch
// carrying the event's source context.
func (h *Handler) HandleStrike(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")

	ev, err := h.repo.Get(eventID)
	if err != nil {
		http.Error(w, "Failed to get event", http.StatusInternalServerError)
		return
	}
	if ev == nil {
		http.Error(w, "Event not found", http.StatusNotFound)
		return
	}

	var req strikeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ActionType == "" {
		http.Error(w, "action_type is required", http.StatusUnprocessableEntity)
		return
	}

	params := req.Parameters
	if params == nil {
		params = map[string]interface{}{}
	}
	params["event_id"] = eventID
	if target, ok := ev.RawData["source_ip"].(string); ok && params["target"] == nil {
		params["target"] = target
	}

	initiatedBy := req.InitiatedBy
	if initiatedBy == "" {
		initiatedBy = "operator"
	}

	action, err := h.dispatcher.Dispatch(&domain.Action{
		ActionType: req.ActionType,
		Parameters: params,
	}, initiatedBy, req.StrikerID)
	if err != nil {
		h.log.Error().Err(err).Str("event_id", eventID).Msg("Strike dispatch failed")
		http.Error(w, "Dispatch failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(action)
}
