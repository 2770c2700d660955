package agents

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/yasasalwis/Naga-7/internal/domain"
)

// Handler provides HTTP handlers for the agent registry endpoints
type Handler struct {
	service *Service
	cascade func(agentID, agentType string, zone *string, capabilities []string, actor string)
	log     zerolog.Logger
}

// NewHandler creates a new agents handler. cascade propagates operator edits
// into the agent's config row (may be nil in tests).
func NewHandler(service *Service, cascade func(agentID, agentType string, zone *string, capabilities []string, actor string), log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		cascade: cascade,
		log:     log.With().Str("handler", "agents").Logger(),
	}
}

// HandleRegister handles POST /agents/register.
// No auth: this is the cert-issuance point; the API key in the body is the
// credential being established.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.service.Register(&req)
	if err != nil {
		if err == ErrBadKey {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error().Err(err).Msg("Registration failed")
		http.Error(w, "Registration failed", http.StatusBadRequest)
		return
	}

	writeJSON(w, resp)
}

// heartbeatRequest is the HTTP fallback heartbeat payload
type heartbeatRequest struct {
	AgentID       string                 `json:"agent_id"`
	Status        string                 `json:"status"`
	ResourceUsage map[string]interface{} `json:"resource_usage,omitempty"`
}

// HandleHeartbeatHTTP handles POST /agents/heartbeat, the fallback path when
// an agent cannot reach the bus. The authenticated agent is the
// authoritative identity; a payload naming another agent is rejected.
func (h *Handler) HandleHeartbeatHTTP(w http.ResponseWriter, r *http.Request) {
	agent := AgentFromContext(r.Context())
	if agent == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.AgentID != "" && req.AgentID != agent.ID {
		http.Error(w, "Agent ID mismatch - cannot update another agent's heartbeat", http.StatusForbidden)
		return
	}

	status := req.Status
	if status == "" {
		status = domain.AgentStatusActive
	}
	if err := h.service.Repo().TouchHeartbeat(agent.ID, status, req.ResourceUsage); err != nil {
		h.log.Error().Err(err).Str("agent_id", agent.ID).Msg("HTTP heartbeat update failed")
		http.Error(w, "Heartbeat failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]string{"status": "ok"})
}

// HandleList handles GET /agents/. Rows with stale heartbeats present as
// inactive.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	h.listByType(w, "")
}

// HandleListStrikers handles GET /agents/strikers
func (h *Handler) HandleListStrikers(w http.ResponseWriter, r *http.Request) {
	h.listByType(w, domain.AgentTypeStriker)
}

func (h *Handler) listByType(w http.ResponseWriter, agentType string) {
	agents, err := h.service.Repo().List(agentType)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list agents")
		http.Error(w, "Failed to list agents", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	for _, a := range agents {
		a.Status = PresentedStatus(a, now)
	}
	writeJSON(w, agents)
}

// updateRequest is an operator edit of an agent row
type updateRequest struct {
	AgentSubtype *string  `json:"agent_subtype,omitempty"`
	Zone         *string  `json:"zone,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// HandleUpdate handles PUT /agents/{id}: updates the row and cascades
// behavioural fields into the agent's config so it reloads.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	agent, err := h.service.Repo().GetByID(id)
	if err != nil {
		h.log.Error().Err(err).Msg("Agent lookup failed")
		http.Error(w, "Lookup failed", http.StatusInternalServerError)
		return
	}
	if agent == nil {
		http.Error(w, "Agent not found", http.StatusNotFound)
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.Repo().UpdateFields(id, req.AgentSubtype, req.Zone, req.Capabilities); err != nil {
		h.log.Error().Err(err).Str("agent_id", id).Msg("Agent update failed")
		http.Error(w, "Update failed", http.StatusInternalServerError)
		return
	}

	if h.cascade != nil && (req.Zone != nil || req.Capabilities != nil) {
		h.cascade(id, agent.AgentType, req.Zone, req.Capabilities, operatorName(r))
	}

	updated, err := h.service.Repo().GetByID(id)
	if err != nil || updated == nil {
		http.Error(w, "Lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, updated)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
