package agentconfig

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/yasasalwis/Naga-7/internal/bus"
	"github.com/yasasalwis/Naga-7/internal/crypto"
	"github.com/yasasalwis/Naga-7/internal/domain"
)

// Publisher pushes config snapshots to agents
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Auditor appends to the tamper-evident audit log
type Auditor interface {
	Log(actor, action, resource string, details map[string]interface{})
}

// Update is a partial config edit. Nil fields are left untouched.
type Update struct {
	NATSURL              *string                           `json:"nats_url,omitempty"`
	CoreAPIURL           *string                           `json:"core_api_url,omitempty"`
	LogLevel             *string                           `json:"log_level,omitempty"`
	Environment          *string                           `json:"environment,omitempty"`
	Zone                 *string                           `json:"zone,omitempty"`
	DetectionThresholds  map[string]interface{}            `json:"detection_thresholds,omitempty"`
	ProbeIntervalSeconds *int                              `json:"probe_interval_seconds,omitempty"`
	EnabledProbes        []string                          `json:"enabled_probes,omitempty"`
	Capabilities         []string                          `json:"capabilities,omitempty"`
	AllowedActions       []string                          `json:"allowed_actions,omitempty"`
	ActionDefaults       map[string]map[string]interface{} `json:"action_defaults,omitempty"`
	MaxConcurrentActions *int                              `json:"max_concurrent_actions,omitempty"`
}

// Empty reports whether the update carries no fields
func (u *Update) Empty() bool {
	return u.NATSURL == nil && u.CoreAPIURL == nil && u.LogLevel == nil && u.Environment == nil &&
		u.Zone == nil && u.DetectionThresholds == nil && u.ProbeIntervalSeconds == nil &&
		u.EnabledProbes == nil && u.Capabilities == nil && u.AllowedActions == nil &&
		u.ActionDefaults == nil && u.MaxConcurrentActions == nil
}

// Service manages per-agent config. Connection secrets are stored encrypted
// under the Core storage key and re-encrypted per agent at serve time; the
// agent derives the same transport key from its own API key.
type Service struct {
	repo       *Repository
	storageKey []byte
	pub        Publisher
	audit      Auditor
	log        zerolog.Logger
}

// NewService creates the config sync service. masterSecret is the Core
// master secret the storage key derives from.
func NewService(repo *Repository, masterSecret string, pub Publisher, audit Auditor, log zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		storageKey: crypto.DeriveKey(masterSecret),
		pub:        pub,
		audit:      audit,
		log:        log.With().Str("service", "config_sync").Logger(),
	}
}

// Provision creates or replaces the config row for a newly deployed agent
// with type-appropriate defaults, bumping config_version.
func (s *Service) Provision(agentID, agentType, natsURL, coreAPIURL, zone string) (*domain.AgentConfig, error) {
	natsEnc, err := crypto.Seal(s.storageKey, natsURL)
	if err != nil {
		return nil, fmt.Errorf("encrypt nats url: %w", err)
	}
	coreEnc, err := crypto.Seal(s.storageKey, coreAPIURL)
	if err != nil {
		return nil, fmt.Errorf("encrypt core api url: %w", err)
	}

	cfg, err := s.repo.Get(agentID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = s.defaults(agentID, agentType)
		cfg.ConfigVersion = 0
	}
	if zone != "" {
		cfg.Zone = zone
	}
	cfg.NATSURLEnc = natsEnc
	cfg.CoreAPIURLEnc = coreEnc
	cfg.ConfigVersion++

	if err := s.repo.Save(cfg); err != nil {
		return nil, err
	}
	s.log.Info().Str("agent_id", agentID).Int("version", cfg.ConfigVersion).Msg("Agent config provisioned")
	s.audit.Log("system", "config_provisioned", agentID, map[string]interface{}{"config_version": cfg.ConfigVersion})
	s.push(cfg)
	return cfg, nil
}

// Upsert applies a partial update, auto-provisioning a default row when
// absent. config_version strictly increases on every call. The new snapshot
// is pushed on config.<agent_id> so the agent applies it immediately.
func (s *Service) Upsert(agentID, agentType string, update *Update, actor string) (*domain.AgentConfig, error) {
	cfg, err := s.repo.Get(agentID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = s.defaults(agentID, agentType)
		cfg.ConfigVersion = 0
	}

	if update.NATSURL != nil {
		enc, err := crypto.Seal(s.storageKey, *update.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("encrypt nats url: %w", err)
		}
		cfg.NATSURLEnc = enc
	}
	if update.CoreAPIURL != nil {
		enc, err := crypto.Seal(s.storageKey, *update.CoreAPIURL)
		if err != nil {
			return nil, fmt.Errorf("encrypt core api url: %w", err)
		}
		cfg.CoreAPIURLEnc = enc
	}
	if update.LogLevel != nil {
		cfg.LogLevel = *update.LogLevel
	}
	if update.Environment != nil {
		cfg.Environment = *update.Environment
	}
	if update.Zone != nil {
		cfg.Zone = *update.Zone
	}
	if update.DetectionThresholds != nil {
		cfg.DetectionThresholds = update.DetectionThresholds
	}
	if update.ProbeIntervalSeconds != nil {
		cfg.ProbeIntervalSeconds = *update.ProbeIntervalSeconds
	}
	if update.EnabledProbes != nil {
		cfg.EnabledProbes = update.EnabledProbes
	}
	if update.Capabilities != nil {
		cfg.Capabilities = update.Capabilities
	}
	if update.AllowedActions != nil {
		cfg.AllowedActions = update.AllowedActions
	}
	if update.ActionDefaults != nil {
		cfg.ActionDefaults = update.ActionDefaults
	}
	if update.MaxConcurrentActions != nil {
		cfg.MaxConcurrentActions = *update.MaxConcurrentActions
	}

	cfg.ConfigVersion++
	if err := s.repo.Save(cfg); err != nil {
		return nil, err
	}

	s.log.Info().Str("agent_id", agentID).Int("version", cfg.ConfigVersion).Msg("Agent config updated")
	s.audit.Log(actor, "config_updated", agentID, map[string]interface{}{"config_version": cfg.ConfigVersion})
	s.push(cfg)
	return cfg, nil
}

// GetForAgent serves the config to the agent itself: the two connection
// secrets are storage-decrypted and re-encrypted under the agent's transport
// key, so only the requesting agent can read them.
func (s *Service) GetForAgent(agentID, apiKey string) (map[string]interface{}, error) {
	cfg, err := s.repo.Get(agentID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, nil
	}

	agentKey := crypto.DeriveKey(apiKey)

	transportSeal := func(enc string) (string, error) {
		if enc == "" {
			return "", nil
		}
		plain, err := crypto.Open(s.storageKey, enc)
		if err != nil {
			return "", err
		}
		return crypto.Seal(agentKey, plain)
	}

	natsEnc, err := transportSeal(cfg.NATSURLEnc)
	if err != nil {
		return nil, fmt.Errorf("re-encrypt nats url: %w", err)
	}
	coreEnc, err := transportSeal(cfg.CoreAPIURLEnc)
	if err != nil {
		return nil, fmt.Errorf("re-encrypt core api url: %w", err)
	}

	return map[string]interface{}{
		"agent_id":               cfg.AgentID,
		"nats_url_enc":           natsEnc,
		"core_api_url_enc":       coreEnc,
		"log_level":              cfg.LogLevel,
		"environment":            cfg.Environment,
		"zone":                   cfg.Zone,
		"detection_thresholds":   cfg.DetectionThresholds,
		"probe_interval_seconds": cfg.ProbeIntervalSeconds,
		"enabled_probes":         cfg.EnabledProbes,
		"capabilities":           cfg.Capabilities,
		"allowed_actions":        cfg.AllowedActions,
		"action_defaults":        cfg.ActionDefaults,
		"max_concurrent_actions": cfg.MaxConcurrentActions,
		"config_version":         cfg.ConfigVersion,
	}, nil
}

// View returns the non-sensitive fields for dashboard display
func (s *Service) View(agentID string) (map[string]interface{}, error) {
	cfg, err := s.repo.Get(agentID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, nil
	}
	return map[string]interface{}{
		"agent_id":               cfg.AgentID,
		"config_version":         cfg.ConfigVersion,
		"zone":                   cfg.Zone,
		"log_level":              cfg.LogLevel,
		"environment":            cfg.Environment,
		"detection_thresholds":   cfg.DetectionThresholds,
		"probe_interval_seconds": cfg.ProbeIntervalSeconds,
		"enabled_probes":         cfg.EnabledProbes,
		"capabilities":           cfg.Capabilities,
		"allowed_actions":        cfg.AllowedActions,
		"action_defaults":        cfg.ActionDefaults,
		"max_concurrent_actions": cfg.MaxConcurrentActions,
	}, nil
}

// push publishes the full plaintext snapshot on config.<agent_id>. The bus
// transport is mTLS; only the target agent subscribes to its own subject.
func (s *Service) push(cfg *domain.AgentConfig) {
	snapshot := map[string]interface{}{
		"agent_id":               cfg.AgentID,
		"log_level":              cfg.LogLevel,
		"environment":            cfg.Environment,
		"zone":                   cfg.Zone,
		"detection_thresholds":   cfg.DetectionThresholds,
		"probe_interval_seconds": cfg.ProbeIntervalSeconds,
		"enabled_probes":         cfg.EnabledProbes,
		"capabilities":           cfg.Capabilities,
		"allowed_actions":        cfg.AllowedActions,
		"action_defaults":        cfg.ActionDefaults,
		"max_concurrent_actions": cfg.MaxConcurrentActions,
		"config_version":         cfg.ConfigVersion,
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode config snapshot")
		return
	}
	if err := s.pub.Publish(bus.SubjectConfig(cfg.AgentID), payload); err != nil {
		s.log.Warn().Err(err).Str("agent_id", cfg.AgentID).Msg("Config push failed; agent will pick it up on next poll")
	}
}

// defaults returns a fresh config row with type-appropriate defaults
func (s *Service) defaults(agentID, agentType string) *domain.AgentConfig {
	cfg := &domain.AgentConfig{
		AgentID:     agentID,
		LogLevel:    "info",
		Environment: "production",
		Zone:        "default",
	}
	switch agentType {
	case domain.AgentTypeSentinel:
		cfg.ProbeIntervalSeconds = 5
		cfg.EnabledProbes = []string{"system", "network", "file", "process"}
		cfg.DetectionThresholds = map[string]interface{}{
			"cpu_threshold":  80,
			"mem_threshold":  85,
			"disk_threshold": 90,
		}
	case domain.AgentTypeStriker:
		cfg.Capabilities = []string{"network_block", "network_unblock", "isolate_host", "unisolate_host", "kill_process"}
		cfg.ActionDefaults = map[string]map[string]interface{}{
			"network_block": {"duration": 3600},
		}
	}
	return cfg
}
