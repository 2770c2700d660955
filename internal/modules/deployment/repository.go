// Package deployment keeps the infra-node registry behind the discovery and
// deployment API surface. The SSH/WinRM orchestrator itself lives outside
// the core; the deploy endpoint records intent only.
package deployment

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yasasalwis/Naga-7/internal/domain"
)

// Repository handles infra_node rows
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new infra-node repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "infra_nodes").Logger(),
	}
}

const nodeColumns = `
	SELECT id, COALESCE(hostname, ''), ip_address, COALESCE(os_type, ''), ssh_port, winrm_port,
	       COALESCE(mac_address, ''), COALESCE(ssh_username, ''), COALESCE(ssh_key_path, ''),
	       status, deployment_status, COALESCE(deployed_agent_type, ''), COALESCE(deployed_agent_id, ''),
	       COALESCE(last_seen, 0), discovery_method, COALESCE(error_message, '')`

// Upsert inserts a node or refreshes an existing one by IP address
func (r *Repository) Upsert(node *domain.InfraNode) error {
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	if node.Status == "" {
		node.Status = "discovered"
	}
	if node.DeploymentStatus == "" {
		node.DeploymentStatus = "none"
	}
	if node.DiscoveryMethod == "" {
		node.DiscoveryMethod = "manual"
	}
	now := time.Now().UTC().Unix()
	var lastSeen int64
	if !node.LastSeen.IsZero() {
		lastSeen = node.LastSeen.UTC().Unix()
	}

	_, err := r.db.Exec(`
		INSERT INTO infra_nodes (id, hostname, ip_address, os_type, ssh_port, winrm_port, mac_address,
			ssh_username, ssh_key_path, status, deployment_status, deployed_agent_type, deployed_agent_id,
			last_seen, discovery_method, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ip_address) DO UPDATE SET
			hostname = excluded.hostname,
			os_type = excluded.os_type,
			mac_address = excluded.mac_address,
			status = excluded.status,
			last_seen = excluded.last_seen,
			discovery_method = excluded.discovery_method,
			updated_at = excluded.updated_at
	`, node.ID, node.Hostname, node.IPAddress, node.OSType, node.SSHPort, node.WinRMPort, node.MACAddress,
		node.SSHUsername, node.SSHKeyPath, node.Status, node.DeploymentStatus, node.DeployedAgentType,
		node.DeployedAgentID, lastSeen, node.DiscoveryMethod, now, now)
	if err != nil {
		return fmt.Errorf("upsert infra node %s: %w", node.IPAddress, err)
	}
	return nil
}

// Get returns a node by id, or nil
func (r *Repository) Get(id string) (*domain.InfraNode, error) {
	row := r.db.QueryRow(nodeColumns+` FROM infra_nodes WHERE id = ?`, id)
	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get infra node %s: %w", id, err)
	}
	return node, nil
}

// List returns all registered nodes
func (r *Repository) List() ([]*domain.InfraNode, error) {
	rows, err := r.db.Query(nodeColumns + ` FROM infra_nodes ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list infra nodes: %w", err)
	}
	defer rows.Close()

	var out []*domain.InfraNode
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan infra node row")
			continue
		}
		out = append(out, node)
	}
	return out, rows.Err()
}

// MarkDeploymentPending records that a deploy was requested for a node
func (r *Repository) MarkDeploymentPending(id, agentType string) error {
	now := time.Now().UTC().Unix()
	res, err := r.db.Exec(`
		UPDATE infra_nodes SET deployment_status = 'pending', deployed_agent_type = ?, updated_at = ? WHERE id = ?
	`, agentType, now, id)
	if err != nil {
		return fmt.Errorf("mark deployment pending %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("infra node %s not found", id)
	}
	return nil
}

func scanNode(row interface{ Scan(...interface{}) error }) (*domain.InfraNode, error) {
	var (
		node     domain.InfraNode
		lastSeen int64
	)
	err := row.Scan(&node.ID, &node.Hostname, &node.IPAddress, &node.OSType, &node.SSHPort, &node.WinRMPort,
		&node.MACAddress, &node.SSHUsername, &node.SSHKeyPath, &node.Status, &node.DeploymentStatus,
		&node.DeployedAgentType, &node.DeployedAgentID, &lastSeen, &node.DiscoveryMethod, &node.ErrorMessage)
	if err != nil {
		return nil, err
	}
	if lastSeen > 0 {
		node.LastSeen = time.Unix(lastSeen, 0).UTC()
	}
	return &node, nil
}
