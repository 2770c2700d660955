// Package domain holds the shared data model for Core and its agents.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Agent types
const (
	AgentTypeSentinel = "sentinel"
	AgentTypeStriker  = "striker"
)

// Agent statuses
const (
	AgentStatusActive    = "active"
	AgentStatusUnhealthy = "unhealthy"
	AgentStatusInactive  = "inactive"
)

// Alert statuses and verdicts
const (
	AlertStatusNew          = "new"
	AlertStatusAcknowledged = "acknowledged"
	AlertStatusResolved     = "resolved"

	VerdictPending     = "pending"
	VerdictAutoRespond = "auto_respond"
	VerdictEscalate    = "escalate"
	VerdictDismiss     = "dismiss"
)

// Action statuses
const (
	ActionStatusQueued     = "queued"
	ActionStatusExecuting  = "executing"
	ActionStatusSucceeded  = "succeeded"
	ActionStatusFailed     = "failed"
	ActionStatusRejected   = "rejected"
	ActionStatusRolledBack = "rolled_back"
	ActionStatusError      = "error"
)

// severityRank orders event severities from least to most urgent
var severityRank = map[string]int{
	"informational": 0,
	"low":           1,
	"medium":        2,
	"high":          3,
	"critical":      4,
}

// SeverityRank returns the ordering rank for a severity string.
// Unknown severities rank as informational.
func SeverityRank(severity string) int {
	return severityRank[severity]
}

// ValidSeverity reports whether s is one of the known severity levels
func ValidSeverity(s string) bool {
	_, ok := severityRank[s]
	return ok
}

// Event is an immutable telemetry record emitted by a Sentinel.
// Enrichments are added once during ingest; nothing else mutates it.
type Event struct {
	EventID         string                 `json:"event_id"`
	Timestamp       time.Time              `json:"timestamp"`
	SentinelID      string                 `json:"sentinel_id"`
	EventClass      string                 `json:"event_class"`
	Severity        string                 `json:"severity"`
	RawData         map[string]interface{} `json:"raw_data"`
	Enrichments     map[string]interface{} `json:"enrichments,omitempty"`
	MitreTechniques []string               `json:"mitre_techniques,omitempty"`
}

// Reasoning explains why the correlator minted an alert
type Reasoning struct {
	Rule            string   `json:"rule"`
	Description     string   `json:"description"`
	Count           int      `json:"count"`
	Source          string   `json:"source"`
	MitreTactics    []string `json:"mitre_tactics"`
	MitreTechniques []string `json:"mitre_techniques"`
	IsMultiStage    bool     `json:"is_multi_stage"`

	// Filled by the LLM analyzer before the alert reaches the decision engine
	LLMNarrative      string `json:"llm_narrative,omitempty"`
	LLMMitreTactic    string `json:"llm_mitre_tactic,omitempty"`
	LLMMitreTechnique string `json:"llm_mitre_technique,omitempty"`
	LLMRemediation    string `json:"llm_remediation,omitempty"`
}

// Alert is minted by the correlation engine and enriched downstream
type Alert struct {
	ID                int64     `json:"id"`
	AlertID           string    `json:"alert_id"`
	CreatedAt         time.Time `json:"created_at"`
	EventIDs          []string  `json:"event_ids"`
	ThreatScore       int       `json:"threat_score"`
	Severity          string    `json:"severity"`
	Status            string    `json:"status"`
	Verdict           string    `json:"verdict"`
	AffectedAssets    []string  `json:"affected_assets"`
	Reasoning         Reasoning `json:"reasoning"`
	LLMNarrative      string    `json:"llm_narrative,omitempty"`
	LLMMitreTactic    string    `json:"llm_mitre_tactic,omitempty"`
	LLMMitreTechnique string    `json:"llm_mitre_technique,omitempty"`
	LLMRemediation    string    `json:"llm_remediation,omitempty"`
}

// AlertBundle is what the correlator hands to the LLM analyzer
type AlertBundle struct {
	AlertID        string                   `json:"alert_id"`
	Reasoning      Reasoning                `json:"reasoning"`
	ThreatScore    int                      `json:"threat_score"`
	Severity       string                   `json:"severity"`
	EventIDs       []string                 `json:"event_ids"`
	AffectedAssets []string                 `json:"affected_assets"`
	EventSummaries []map[string]interface{} `json:"event_summaries"`
}

// Action is a response task dispatched to a Striker
type Action struct {
	ActionID    string                 `json:"action_id"`
	IncidentID  string                 `json:"incident_id,omitempty"`
	StrikerID   string                 `json:"striker_id,omitempty"`
	ActionType  string                 `json:"action_type"`
	Parameters  map[string]interface{} `json:"parameters"`
	Status      string                 `json:"status"`
	InitiatedBy string                 `json:"initiated_by"`
	Evidence    map[string]interface{} `json:"evidence,omitempty"`
	Rollback    map[string]interface{} `json:"rollback_entry,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// ActionStatus is a Striker's at-least-once report of a final action outcome
type ActionStatus struct {
	ActionID   string                 `json:"action_id"`
	StrikerID  string                 `json:"striker_id"`
	ActionType string                 `json:"action_type"`
	Status     string                 `json:"status"`
	ResultData map[string]interface{} `json:"result_data,omitempty"`
	Evidence   map[string]interface{} `json:"evidence,omitempty"`
}

// Agent is a registered Sentinel or Striker
type Agent struct {
	ID            string                 `json:"id"`
	AgentType     string                 `json:"agent_type"`
	AgentSubtype  string                 `json:"agent_subtype"`
	Zone          string                 `json:"zone"`
	Capabilities  []string               `json:"capabilities"`
	Status        string                 `json:"status"`
	LastHeartbeat time.Time              `json:"last_heartbeat"`
	ConfigVersion int                    `json:"config_version"`
	ResourceUsage map[string]interface{} `json:"resource_usage,omitempty"`
	NodeMetadata  map[string]interface{} `json:"node_metadata,omitempty"`
	APIKeyPrefix  string                 `json:"-"`
	APIKeyHash    string                 `json:"-"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Heartbeat is the liveness payload agents publish on heartbeat.<type>.<id>
type Heartbeat struct {
	AgentID       string                 `json:"agent_id"`
	Status        string                 `json:"status"`
	ResourceUsage map[string]interface{} `json:"resource_usage,omitempty"`
	AgentType     string                 `json:"agent_type,omitempty"`
	AgentSubtype  string                 `json:"agent_subtype,omitempty"`
	Zone          string                 `json:"zone,omitempty"`
}

// AgentConfig is the centrally managed, versioned per-agent configuration.
// NATSURLEnc and CoreAPIURLEnc hold ciphertext: the Core storage key at rest,
// the agent transport key when served.
type AgentConfig struct {
	AgentID              string                            `json:"agent_id"`
	NATSURLEnc           string                            `json:"nats_url_enc,omitempty"`
	CoreAPIURLEnc        string                            `json:"core_api_url_enc,omitempty"`
	LogLevel             string                            `json:"log_level,omitempty"`
	Environment          string                            `json:"environment,omitempty"`
	Zone                 string                            `json:"zone,omitempty"`
	DetectionThresholds  map[string]interface{}            `json:"detection_thresholds,omitempty"`
	ProbeIntervalSeconds int                               `json:"probe_interval_seconds,omitempty"`
	EnabledProbes        []string                          `json:"enabled_probes,omitempty"`
	Capabilities         []string                          `json:"capabilities,omitempty"`
	AllowedActions       []string                          `json:"allowed_actions,omitempty"`
	ActionDefaults       map[string]map[string]interface{} `json:"action_defaults,omitempty"`
	MaxConcurrentActions int                               `json:"max_concurrent_actions,omitempty"`
	ConfigVersion        int                               `json:"config_version"`
	UpdatedAt            time.Time                         `json:"updated_at"`
}

// InfraNode is a discovered or manually added host eligible for agent deployment
type InfraNode struct {
	ID                string    `json:"id"`
	Hostname          string    `json:"hostname,omitempty"`
	IPAddress         string    `json:"ip_address"`
	OSType            string    `json:"os_type,omitempty"`
	SSHPort           int       `json:"ssh_port"`
	WinRMPort         int       `json:"winrm_port"`
	MACAddress        string    `json:"mac_address,omitempty"`
	SSHUsername       string    `json:"ssh_username,omitempty"`
	SSHPasswordEnc    string    `json:"-"`
	SSHKeyPath        string    `json:"ssh_key_path,omitempty"`
	Status            string    `json:"status"`
	DeploymentStatus  string    `json:"deployment_status"`
	DeployedAgentType string    `json:"deployed_agent_type,omitempty"`
	DeployedAgentID   string    `json:"deployed_agent_id,omitempty"`
	LastSeen          time.Time `json:"last_seen,omitempty"`
	DiscoveryMethod   string    `json:"discovery_method"`
	ErrorMessage      string    `json:"error_message,omitempty"`
}

// NormalizeEventIdentity repairs malformed identifiers so the event can still
// be persisted: a bad event_id gets a fresh UUID, a bad sentinel_id falls
// back to the nil UUID.
func NormalizeEventIdentity(ev *Event) {
	if _, err := uuid.Parse(ev.EventID); err != nil {
		ev.EventID = uuid.NewString()
	}
	if _, err := uuid.Parse(ev.SentinelID); err != nil {
		ev.SentinelID = uuid.Nil.String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if !ValidSeverity(ev.Severity) {
		ev.Severity = "informational"
	}
	if ev.RawData == nil {
		ev.RawData = map[string]interface{}{}
	}
}
