// Package agents implements the registry: registration with certificate
// issuance, heartbeat tracking, node metadata, and the liveness sweep.
package agents

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/yasasalwis/Naga-7/internal/domain"
)

// Repository handles agent rows
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new agent repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "agents").Logger(),
	}
}

const agentColumns = `
	SELECT id, agent_type, COALESCE(agent_subtype, ''), COALESCE(zone, ''), COALESCE(capabilities, '[]'),
	       status, COALESCE(last_heartbeat, 0), config_version, COALESCE(resource_usage, '{}'),
	       COALESCE(node_metadata, '{}'), api_key_prefix, api_key_hash, created_at, updated_at`

// Insert writes a new agent row
func (r *Repository) Insert(a *domain.Agent) error {
	capabilities, _ := json.Marshal(a.Capabilities)
	now := time.Now().UTC().Unix()

	_, err := r.db.Exec(`
		INSERT INTO agents (id, agent_type, agent_subtype, zone, capabilities, status, last_heartbeat, config_version, api_key_prefix, api_key_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.AgentType, a.AgentSubtype, a.Zone, string(capabilities), a.Status, a.LastHeartbeat.UTC().Unix(), a.ConfigVersion, a.APIKeyPrefix, a.APIKeyHash, now, now)
	if err != nil {
		return fmt.Errorf("insert agent %s: %w", a.ID, err)
	}
	return nil
}

// GetByID returns an agent by id, or nil
func (r *Repository) GetByID(id string) (*domain.Agent, error) {
	row := r.db.QueryRow(agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return a, nil
}

// GetByKeyPrefix returns the agent holding an API-key prefix, or nil.
// The prefix column is indexed, so this is the O(1) half of key lookup; the
// caller must still verify the full hash.
func (r *Repository) GetByKeyPrefix(prefix string) (*domain.Agent, error) {
	row := r.db.QueryRow(agentColumns+` FROM agents WHERE api_key_prefix = ?`, prefix)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent by prefix: %w", err)
	}
	return a, nil
}

// List returns all agents, optionally filtered by type
func (r *Repository) List(agentType string) ([]*domain.Agent, error) {
	query := agentColumns + ` FROM agents`
	var args []interface{}
	if agentType != "" {
		query += ` WHERE agent_type = ?`
		args = append(args, agentType)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan agent row")
			continue
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// TouchHeartbeat updates liveness state from a heartbeat
func (r *Repository) TouchHeartbeat(id, status string, resourceUsage map[string]interface{}) error {
	usage, _ := json.Marshal(resourceUsage)
	now := time.Now().UTC().Unix()
	_, err := r.db.Exec(`
		UPDATE agents SET last_heartbeat = ?, status = ?, resource_usage = ?, updated_at = ? WHERE id = ?
	`, now, status, string(usage), now, id)
	if err != nil {
		return fmt.Errorf("touch heartbeat %s: %w", id, err)
	}
	return nil
}

// Reactivate marks an agent active after a successful re-registration
func (r *Repository) Reactivate(id string, capabilities []string) error {
	caps, _ := json.Marshal(capabilities)
	now := time.Now().UTC().Unix()
	_, err := r.db.Exec(`
		UPDATE agents SET status = ?, last_heartbeat = ?, capabilities = ?, updated_at = ? WHERE id = ?
	`, domain.AgentStatusActive, now, string(caps), now, id)
	if err != nil {
		return fmt.Errorf("reactivate agent %s: %w", id, err)
	}
	return nil
}

// UpdateFields applies an operator edit (subtype, zone, capabilities)
func (r *Repository) UpdateFields(id string, subtype, zone *string, capabilities []string) error {
	a, err := r.GetByID(id)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("agent %s not found", id)
	}
	if subtype != nil {
		a.AgentSubtype = *subtype
	}
	if zone != nil {
		a.Zone = *zone
	}
	if capabilities != nil {
		a.Capabilities = capabilities
	}

	caps, _ := json.Marshal(a.Capabilities)
	now := time.Now().UTC().Unix()
	_, err = r.db.Exec(`
		UPDATE agents SET agent_subtype = ?, zone = ?, capabilities = ?, updated_at = ? WHERE id = ?
	`, a.AgentSubtype, a.Zone, string(caps), now, id)
	if err != nil {
		return fmt.Errorf("update agent %s: %w", id, err)
	}
	return nil
}

// SetNodeMetadata stores the hardware/OS identity blob for an agent
func (r *Repository) SetNodeMetadata(id string, metadata map[string]interface{}) error {
	blob, _ := json.Marshal(metadata)
	now := time.Now().UTC().Unix()
	res, err := r.db.Exec(`UPDATE agents SET node_metadata = ?, updated_at = ? WHERE id = ?`, string(blob), now, id)
	if err != nil {
		return fmt.Errorf("set node metadata %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %s not found", id)
	}
	return nil
}

// MarkStaleUnhealthy transitions active agents whose last heartbeat is older
// than cutoff to unhealthy, returning how many changed.
func (r *Repository) MarkStaleUnhealthy(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`
		UPDATE agents SET status = ? WHERE status = ? AND last_heartbeat < ?
	`, domain.AgentStatusUnhealthy, domain.AgentStatusActive, cutoff.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("mark stale agents: %w", err)
	}
	return res.RowsAffected()
}

func scanAgent(row interface{ Scan(...interface{}) error }) (*domain.Agent, error) {
	var (
		a         domain.Agent
		caps      string
		usage     string
		metadata  string
		heartbeat int64
		created   int64
		updated   int64
	)
	err := row.Scan(&a.ID, &a.AgentType, &a.AgentSubtype, &a.Zone, &caps, &a.Status, &heartbeat,
		&a.ConfigVersion, &usage, &metadata, &a.APIKeyPrefix, &a.APIKeyHash, &created, &updated)
	if err != nil {
		return nil, err
	}
	if heartbeat > 0 {
		a.LastHeartbeat = time.Unix(heartbeat, 0).UTC()
	}
	a.CreatedAt = time.Unix(created, 0).UTC()
	a.UpdatedAt = time.Unix(updated, 0).UTC()
	_ = json.Unmarshal([]byte(caps), &a.Capabilities)
	_ = json.Unmarshal([]byte(usage), &a.ResourceUsage)
	_ = json.Unmarshal([]byte(metadata), &a.NodeMetadata)
	return &a, nil
}
