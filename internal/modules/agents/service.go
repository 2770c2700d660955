package agents

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yasasalwis/Naga-7/internal/crypto"
	"github.com/yasasalwis/Naga-7/internal/domain"
)

const (
	// StaleThreshold is how long an agent may go silent before it is
	// presented as inactive and swept to unhealthy.
	StaleThreshold = 90 * time.Second
)

// CertIssuer mints mTLS client certificates for registered agents
type CertIssuer interface {
	IssueAgentCert(agentID string) (*crypto.AgentCredentials, error)
}

// Auditor appends to the tamper-evident audit log
type Auditor interface {
	Log(actor, action, resource string, details map[string]interface{})
}

// RegisterRequest is the registration payload sent by a new agent
type RegisterRequest struct {
	AgentType    string                 `json:"agent_type"`
	AgentSubtype string                 `json:"agent_subtype"`
	Zone         string                 `json:"zone"`
	Capabilities []string               `json:"capabilities"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	APIKey       string                 `json:"api_key"`
}

// RegisterResponse carries the assigned id and the issued cert triple
type RegisterResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	ConfigVersion int    `json:"config_version"`
	ClientCert    string `json:"client_cert"`
	ClientKey     string `json:"client_key"`
	CACert        string `json:"ca_cert"`
}

// Service implements the agent lifecycle protocol
type Service struct {
	repo   *Repository
	issuer CertIssuer
	audit  Auditor
	log    zerolog.Logger
}

// NewService creates the agent registry service
func NewService(repo *Repository, issuer CertIssuer, audit Auditor, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		issuer: issuer,
		audit:  audit,
		log:    log.With().Str("service", "agent_registry").Logger(),
	}
}

// Repo exposes the underlying repository for handlers
func (s *Service) Repo() *Repository { return s.repo }

// ErrBadKey is returned when a registration hits an existing prefix but the
// full key fails verification.
var ErrBadKey = fmt.Errorf("api key collision or invalid key for existing agent")

// Register handles first registration and re-registration. The agent
// supplies its self-generated API key; Core stores the indexed prefix plus a
// bcrypt hash and issues a fresh client certificate either way.
func (s *Service) Register(req *RegisterRequest) (*RegisterResponse, error) {
	if len(req.APIKey) < crypto.APIKeyPrefixLen {
		return nil, fmt.Errorf("api key too short")
	}

	prefix := crypto.APIKeyPrefix(req.APIKey)
	existing, err := s.repo.GetByKeyPrefix(prefix)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		if !crypto.VerifyAPIKey(req.APIKey, existing.APIKeyHash) {
			return nil, ErrBadKey
		}
		if err := s.repo.Reactivate(existing.ID, req.Capabilities); err != nil {
			return nil, err
		}
		creds, err := s.issuer.IssueAgentCert(existing.ID)
		if err != nil {
			return nil, fmt.Errorf("issue cert: %w", err)
		}
		s.audit.Log(existing.ID, "agent_reregistered", existing.ID, map[string]interface{}{"agent_type": existing.AgentType})
		s.log.Info().Str("agent_id", existing.ID).Msg("Agent re-registered, fresh cert issued")
		return &RegisterResponse{
			ID:            existing.ID,
			Status:        domain.AgentStatusActive,
			ConfigVersion: existing.ConfigVersion,
			ClientCert:    creds.ClientCert,
			ClientKey:     creds.ClientKey,
			CACert:        creds.CACert,
		}, nil
	}

	hash, err := crypto.HashAPIKey(req.APIKey)
	if err != nil {
		return nil, err
	}

	agent := &domain.Agent{
		ID:            uuid.NewString(),
		AgentType:     req.AgentType,
		AgentSubtype:  req.AgentSubtype,
		Zone:          req.Zone,
		Capabilities:  req.Capabilities,
		Status:        domain.AgentStatusActive,
		LastHeartbeat: time.Now().UTC(),
		APIKeyPrefix:  prefix,
		APIKeyHash:    hash,
	}
	if err := s.repo.Insert(agent); err != nil {
		return nil, err
	}

	creds, err := s.issuer.IssueAgentCert(agent.ID)
	if err != nil {
		return nil, fmt.Errorf("issue cert: %w", err)
	}

	s.audit.Log(agent.ID, "agent_registered", agent.ID, map[string]interface{}{
		"agent_type":    agent.AgentType,
		"agent_subtype": agent.AgentSubtype,
		"zone":          agent.Zone,
	})
	s.log.Info().
		Str("agent_id", agent.ID).
		Str("agent_type", agent.AgentType).
		Msg("Agent registered")

	return &RegisterResponse{
		ID:         agent.ID,
		Status:     domain.AgentStatusActive,
		ClientCert: creds.ClientCert,
		ClientKey:  creds.ClientKey,
		CACert:     creds.CACert,
	}, nil
}

// Authenticate resolves an agent from its API key: indexed prefix lookup,
// then full-hash verification. A prefix hit with a hash mismatch is
// rejected.
func (s *Service) Authenticate(apiKey string) (*domain.Agent, error) {
	agent, err := s.repo.GetByKeyPrefix(crypto.APIKeyPrefix(apiKey))
	if err != nil {
		return nil, err
	}
	if agent == nil || !crypto.VerifyAPIKey(apiKey, agent.APIKeyHash) {
		return nil, nil
	}
	return agent, nil
}

// HandleHeartbeat processes one NATS push heartbeat from heartbeat.>.
// Unknown agents are lazily created from the payload.
func (s *Service) HandleHeartbeat(subject string, data []byte) {
	var hb domain.Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		s.log.Warn().Err(err).Str("subject", subject).Msg("Dropping undecodable heartbeat")
		return
	}
	if hb.AgentID == "" {
		s.log.Warn().Str("subject", subject).Msg("Heartbeat missing agent_id")
		return
	}
	if hb.Status == "" {
		hb.Status = domain.AgentStatusActive
	}

	agent, err := s.repo.GetByID(hb.AgentID)
	if err != nil {
		s.log.Error().Err(err).Msg("Heartbeat lookup failed")
		return
	}

	if agent == nil {
		lazy := &domain.Agent{
			ID:            hb.AgentID,
			AgentType:     orDefault(hb.AgentType, "unknown"),
			AgentSubtype:  orDefault(hb.AgentSubtype, "unknown"),
			Zone:          orDefault(hb.Zone, "default"),
			Status:        hb.Status,
			LastHeartbeat: time.Now().UTC(),
			APIKeyPrefix:  "heartbeat:" + hb.AgentID,
			APIKeyHash:    "heartbeat:" + hb.AgentID,
		}
		if err := s.repo.Insert(lazy); err != nil {
			s.log.Error().Err(err).Str("agent_id", hb.AgentID).Msg("Lazy agent creation failed")
		}
		return
	}

	if err := s.repo.TouchHeartbeat(hb.AgentID, hb.Status, hb.ResourceUsage); err != nil {
		s.log.Error().Err(err).Str("agent_id", hb.AgentID).Msg("Heartbeat update failed")
	}
}

// HandleNodeMetadata stores hardware/OS identity published on
// node.metadata.<agent_id> at agent startup.
func (s *Service) HandleNodeMetadata(subject string, data []byte) {
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		s.log.Warn().Err(err).Str("subject", subject).Msg("Dropping undecodable node metadata")
		return
	}

	agentID, _ := payload["agent_id"].(string)
	if agentID == "" {
		// Fall back to the subject token
		parts := strings.Split(subject, ".")
		if len(parts) == 3 {
			agentID = parts[2]
		}
	}
	if agentID == "" {
		s.log.Warn().Msg("Node metadata missing agent_id")
		return
	}

	metadata := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if k != "agent_id" {
			metadata[k] = v
		}
	}

	if err := s.repo.SetNodeMetadata(agentID, metadata); err != nil {
		s.log.Warn().Err(err).Str("agent_id", agentID).Msg("Node metadata discarded (agent may not be registered yet)")
		return
	}
	s.log.Info().
		Str("agent_id", agentID).
		Interface("hostname", metadata["hostname"]).
		Interface("os_name", metadata["os_name"]).
		Msg("Node metadata stored")
}

// PresentedStatus maps a stored agent row to the status shown by listings:
// rows with a stale heartbeat present as inactive regardless of the stored
// value.
func PresentedStatus(a *domain.Agent, now time.Time) string {
	if !a.LastHeartbeat.IsZero() && now.Sub(a.LastHeartbeat) > StaleThreshold {
		return domain.AgentStatusInactive
	}
	return a.Status
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// LivenessSweep is the scheduled job transitioning silent agents to
// unhealthy.
type LivenessSweep struct {
	repo *Repository
	log  zerolog.Logger
}

// NewLivenessSweep creates the sweep job
func NewLivenessSweep(repo *Repository, log zerolog.Logger) *LivenessSweep {
	return &LivenessSweep{
		repo: repo,
		log:  log.With().Str("job", "liveness_sweep").Logger(),
	}
}

// Name is the label the scheduler logs this job under
func (j *LivenessSweep) Name() string { return "agent_liveness_sweep" }

// Run performs one sweep over the agent table
func (j *LivenessSweep) Run() error {
	changed, err := j.repo.MarkStaleUnhealthy(time.Now().Add(-StaleThreshold))
	if err != nil {
		return err
	}
	if changed > 0 {
		j.log.Warn().Int64("agents", changed).Msg("Stale agents marked unhealthy")
	}
	return nil
}
