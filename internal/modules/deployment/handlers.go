package deployment

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/yasasalwis/Naga-7/internal/domain"
)

// Handler provides the infra discovery/deploy API surface. Deployment
// execution (SSH/WinRM provisioning) happens outside the core; these
// endpoints manage the registry and record intent.
type Handler struct {
	repo *Repository
	log  zerolog.Logger
}

// NewHandler creates a new deployment handler
func NewHandler(repo *Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "deployment").Logger(),
	}
}

// scanRequest asks for a discovery sweep of a network range
type scanRequest struct {
	Network string `json:"network"`
}

// HandleScan handles POST /deployment/scan. The sweep itself runs in the
// external orchestrator; the request is acknowledged and recorded.
func (h *Handler) HandleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Network == "" {
		http.Error(w, "network is required", http.StatusUnprocessableEntity)
		return
	}

	h.log.Info().Str("network", req.Network).Msg("Discovery scan requested")
	writeJSON(w, map[string]string{
		"status":  "accepted",
		"network": req.Network,
	})
}

// HandleListNodes handles GET /deployment/nodes
func (h *Handler) HandleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.repo.List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list infra nodes")
		http.Error(w, "Failed to list nodes", http.StatusInternalServerError)
		return
	}
	writeJSON(w, nodes)
}

// createNodeRequest manually registers a host
type createNodeRequest struct {
	Hostname    string `json:"hostname,omitempty"`
	IPAddress   string `json:"ip_address"`
	OSType      string `json:"os_type,omitempty"`
	SSHPort     int    `json:"ssh_port,omitempty"`
	WinRMPort   int    `json:"winrm_port,omitempty"`
	MACAddress  string `json:"mac_address,omitempty"`
	SSHUsername string `json:"ssh_username,omitempty"`
	SSHKeyPath  string `json:"ssh_key_path,omitempty"`
}

// HandleCreateNode handles POST /deployment/nodes
func (h *Handler) HandleCreateNode(w http.ResponseWriter, r *http.Request) {
	var req createNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.IPAddress == "" {
		http.Error(w, "ip_address is required", http.StatusUnprocessableEntity)
		return
	}

	sshPort := req.SSHPort
	if sshPort == 0 {
		sshPort = 22
	}
	winrmPort := req.WinRMPort
	if winrmPort == 0 {
		winrmPort = 5985
	}

	node := &domain.InfraNode{
		Hostname:        req.Hostname,
		IPAddress:       req.IPAddress,
		OSType:          req.OSType,
		SSHPort:         sshPort,
		WinRMPort:       winrmPort,
		MACAddress:      req.MACAddress,
		SSHUsername:     req.SSHUsername,
		SSHKeyPath:      req.SSHKeyPath,
		DiscoveryMethod: "manual",
		LastSeen:        time.Now().UTC(),
	}
	if err := h.repo.Upsert(node); err != nil {
		h.log.Error().Err(err).Msg("Failed to register infra node")
		http.Error(w, "Failed to register node", http.StatusInternalServerError)
		return
	}
	writeJSON(w, node)
}

// deployRequest selects which agent type to provision on a node
type deployRequest struct {
	AgentType string `json:"agent_type"`
}

// HandleDeploy handles POST /deployment/nodes/{id}/deploy: marks the node
// pending for the external orchestrator.
func (h *Handler) HandleDeploy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.AgentType != domain.AgentTypeSentinel && req.AgentType != domain.AgentTypeStriker {
		http.Error(w, "agent_type must be sentinel or striker", http.StatusUnprocessableEntity)
		return
	}

	if err := h.repo.MarkDeploymentPending(id, req.AgentType); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]string{
		"node_id":           id,
		"agent_type":        req.AgentType,
		"deployment_status": "pending",
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
