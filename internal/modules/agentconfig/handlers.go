package agentconfig

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/yasasalwis/Naga-7/internal/modules/agents"
	"github.com/yasasalwis/Naga-7/internal/modules/users"
)

// Handler provides HTTP handlers for config endpoints
type Handler struct {
	service  *Service
	registry *agents.Repository
	log      zerolog.Logger
}

// NewHandler creates a new agent-config handler
func NewHandler(service *Service, registry *agents.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		service:  service,
		registry: registry,
		log:      log.With().Str("handler", "agent_config").Logger(),
	}
}

// HandleGetView handles GET /agents/{id}/config: the non-sensitive dashboard
// view. Encrypted connection URLs are never returned here.
func (h *Handler) HandleGetView(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	view, err := h.service.View(id)
	if err != nil {
		h.log.Error().Err(err).Msg("Config view failed")
		http.Error(w, "Config lookup failed", http.StatusInternalServerError)
		return
	}
	if view == nil {
		http.Error(w, "No config found for this agent", http.StatusNotFound)
		return
	}
	writeJSON(w, view)
}

// HandleUpdate handles PUT /agents/{id}/config: applies the provided fields,
// bumps config_version, and pushes the snapshot on the bus.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	agent, err := h.registry.GetByID(id)
	if err != nil {
		http.Error(w, "Agent lookup failed", http.StatusInternalServerError)
		return
	}
	if agent == nil {
		http.Error(w, "Agent not found", http.StatusNotFound)
		return
	}

	var update Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if update.Empty() {
		http.Error(w, "No fields to update", http.StatusUnprocessableEntity)
		return
	}

	actor := "operator"
	if u := users.FromContext(r.Context()); u != nil {
		actor = u.Username
	}

	cfg, err := h.service.Upsert(id, agent.AgentType, &update, actor)
	if err != nil {
		h.log.Error().Err(err).Str("agent_id", id).Msg("Config update failed")
		http.Error(w, "Config update failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"agent_id":       id,
		"config_version": cfg.ConfigVersion,
		"message":        "Config updated and pushed to agent.",
	})
}

// HandleGetForAgent handles GET /agent-config/{id}/config: the agent-facing
// endpoint. The connection secrets come back encrypted under the requesting
// agent's transport key; agents may only fetch their own config.
func (h *Handler) HandleGetForAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	agent := agents.AgentFromContext(r.Context())
	if agent == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if agent.ID != id {
		http.Error(w, "Agents may only retrieve their own configuration", http.StatusForbidden)
		return
	}

	cfg, err := h.service.GetForAgent(agent.ID, agents.RawAPIKeyFromContext(r.Context()))
	if err != nil {
		h.log.Error().Err(err).Str("agent_id", id).Msg("Config serve failed")
		http.Error(w, "Config lookup failed", http.StatusInternalServerError)
		return
	}
	if cfg == nil {
		http.Error(w, "No configuration found for this agent; it may not have been provisioned yet", http.StatusNotFound)
		return
	}
	writeJSON(w, cfg)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
