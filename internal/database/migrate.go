package database

import "fmt"

// Schema statements, executed in order. Idempotent (IF NOT EXISTS) so Migrate
// can run at every startup.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		agent_type TEXT NOT NULL,
		agent_subtype TEXT,
		zone TEXT,
		capabilities TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		last_heartbeat INTEGER,
		config_version INTEGER NOT NULL DEFAULT 0,
		resource_usage TEXT,
		node_metadata TEXT,
		api_key_prefix TEXT NOT NULL,
		api_key_hash TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_api_key_prefix ON agents(api_key_prefix)`,
	`CREATE TABLE IF NOT EXISTS agent_configs (
		agent_id TEXT PRIMARY KEY,
		nats_url_enc TEXT,
		core_api_url_enc TEXT,
		log_level TEXT,
		environment TEXT,
		zone TEXT,
		detection_thresholds TEXT,
		probe_interval_seconds INTEGER,
		enabled_probes TEXT,
		capabilities TEXT,
		allowed_actions TEXT,
		action_defaults TEXT,
		max_concurrent_actions INTEGER,
		config_version INTEGER NOT NULL DEFAULT 1,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		event_id TEXT PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		sentinel_id TEXT NOT NULL,
		event_class TEXT NOT NULL,
		severity TEXT NOT NULL,
		raw_data TEXT,
		enrichments TEXT,
		mitre_techniques TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_events_sentinel ON events(sentinel_id)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		alert_id TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL,
		event_ids TEXT,
		threat_score INTEGER NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'new',
		verdict TEXT NOT NULL DEFAULT 'pending',
		affected_assets TEXT,
		reasoning TEXT,
		llm_narrative TEXT,
		llm_mitre_tactic TEXT,
		llm_mitre_technique TEXT,
		llm_remediation TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at)`,
	`CREATE TABLE IF NOT EXISTS actions (
		action_id TEXT PRIMARY KEY,
		incident_id TEXT,
		striker_id TEXT,
		action_type TEXT NOT NULL,
		parameters TEXT,
		status TEXT NOT NULL DEFAULT 'queued',
		initiated_by TEXT NOT NULL,
		evidence TEXT,
		rollback_entry TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_striker ON actions(striker_id)`,
	`CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		title TEXT,
		status TEXT NOT NULL DEFAULT 'open',
		alert_ids TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS infra_nodes (
		id TEXT PRIMARY KEY,
		hostname TEXT,
		ip_address TEXT NOT NULL UNIQUE,
		os_type TEXT,
		ssh_port INTEGER NOT NULL DEFAULT 22,
		winrm_port INTEGER NOT NULL DEFAULT 5985,
		mac_address TEXT,
		ssh_username TEXT,
		ssh_password_enc TEXT,
		ssh_key_path TEXT,
		status TEXT NOT NULL DEFAULT 'discovered',
		deployment_status TEXT NOT NULL DEFAULT 'none',
		deployed_agent_type TEXT,
		deployed_agent_id TEXT,
		last_seen INTEGER,
		discovery_method TEXT NOT NULL DEFAULT 'manual',
		error_message TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		log_id TEXT PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		resource TEXT,
		details TEXT,
		previous_hash TEXT,
		current_hash TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp)`,
}

// Migrate creates the schema if it does not exist yet
func (db *DB) Migrate() error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
