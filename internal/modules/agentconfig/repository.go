// Package agentconfig implements centralized, versioned per-agent
// configuration: encrypted storage of connection secrets, transport
// re-encryption per agent, and push-based sync over the bus.
package agentconfig

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/yasasalwis/Naga-7/internal/domain"
)

// Repository handles agent_config rows
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new agent-config repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "agent_configs").Logger(),
	}
}

// Get returns the config row for an agent, or nil
func (r *Repository) Get(agentID string) (*domain.AgentConfig, error) {
	row := r.db.QueryRow(`
		SELECT agent_id, COALESCE(nats_url_enc, ''), COALESCE(core_api_url_enc, ''), COALESCE(log_level, ''),
		       COALESCE(environment, ''), COALESCE(zone, ''), COALESCE(detection_thresholds, '{}'),
		       COALESCE(probe_interval_seconds, 0), COALESCE(enabled_probes, '[]'), COALESCE(capabilities, '[]'),
		       COALESCE(allowed_actions, 'null'), COALESCE(action_defaults, '{}'), COALESCE(max_concurrent_actions, 0),
		       config_version, updated_at
		FROM agent_configs WHERE agent_id = ?
	`, agentID)

	var (
		cfg        domain.AgentConfig
		thresholds string
		probes     string
		caps       string
		allowed    string
		defaults   string
		updated    int64
	)
	err := row.Scan(&cfg.AgentID, &cfg.NATSURLEnc, &cfg.CoreAPIURLEnc, &cfg.LogLevel, &cfg.Environment, &cfg.Zone,
		&thresholds, &cfg.ProbeIntervalSeconds, &probes, &caps, &allowed, &defaults, &cfg.MaxConcurrentActions,
		&cfg.ConfigVersion, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent config %s: %w", agentID, err)
	}

	cfg.UpdatedAt = time.Unix(updated, 0).UTC()
	_ = json.Unmarshal([]byte(thresholds), &cfg.DetectionThresholds)
	_ = json.Unmarshal([]byte(probes), &cfg.EnabledProbes)
	_ = json.Unmarshal([]byte(caps), &cfg.Capabilities)
	_ = json.Unmarshal([]byte(allowed), &cfg.AllowedActions)
	_ = json.Unmarshal([]byte(defaults), &cfg.ActionDefaults)
	return &cfg, nil
}

// Save replaces the row for cfg.AgentID. The caller is responsible for
// bumping ConfigVersion before saving; the invariant config_version >= 1 is
// enforced here.
func (r *Repository) Save(cfg *domain.AgentConfig) error {
	if cfg.ConfigVersion < 1 {
		cfg.ConfigVersion = 1
	}
	thresholds, _ := json.Marshal(cfg.DetectionThresholds)
	probes, _ := json.Marshal(cfg.EnabledProbes)
	caps, _ := json.Marshal(cfg.Capabilities)
	allowed, _ := json.Marshal(cfg.AllowedActions)
	defaults, _ := json.Marshal(cfg.ActionDefaults)
	cfg.UpdatedAt = time.Now().UTC()

	_, err := r.db.Exec(`
		INSERT INTO agent_configs (agent_id, nats_url_enc, core_api_url_enc, log_level, environment, zone,
			detection_thresholds, probe_interval_seconds, enabled_probes, capabilities, allowed_actions,
			action_defaults, max_concurrent_actions, config_version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			nats_url_enc = excluded.nats_url_enc,
			core_api_url_enc = excluded.core_api_url_enc,
			log_level = excluded.log_level,
			environment = excluded.environment,
			zone = excluded.zone,
			detection_thresholds = excluded.detection_thresholds,
			probe_interval_seconds = excluded.probe_interval_seconds,
			enabled_probes = excluded.enabled_probes,
			capabilities = excluded.capabilities,
			allowed_actions = excluded.allowed_actions,
			action_defaults = excluded.action_defaults,
			max_concurrent_actions = excluded.max_concurrent_actions,
			config_version = excluded.config_version,
			updated_at = excluded.updated_at
	`, cfg.AgentID, cfg.NATSURLEnc, cfg.CoreAPIURLEnc, cfg.LogLevel, cfg.Environment, cfg.Zone,
		string(thresholds), cfg.ProbeIntervalSeconds, string(probes), string(caps), string(allowed),
		string(defaults), cfg.MaxConcurrentActions, cfg.ConfigVersion, cfg.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("save agent config %s: %w", cfg.AgentID, err)
	}
	return nil
}
