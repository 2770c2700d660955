package agentruntime

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/yasasalwis/Naga-7/internal/bus"
	"github.com/yasasalwis/Naga-7/internal/crypto"
	"github.com/yasasalwis/Naga-7/internal/domain"
)

const heartbeatInterval = 30 * time.Second

// AgentVersion is stamped into node metadata
const AgentVersion = "1.0.0"

// LiveConfig is the agent's mutable view of its centrally managed config.
// Updated by pushes on config.<agent_id> and by HTTP polls.
type LiveConfig struct {
	mu sync.RWMutex

	Zone                 string
	LogLevel             string
	Environment          string
	ProbeIntervalSeconds int
	EnabledProbes        []string
	DetectionThresholds  map[string]interface{}
	Capabilities         []string
	AllowedActions       []string
	ActionDefaults       map[string]map[string]interface{}
	MaxConcurrentActions int
	Version              int

	// appliedCount increments on every accepted snapshot
	appliedCount int
}

// Apply folds a config snapshot in if its version is newer. Returns whether
// the snapshot was accepted.
func (lc *LiveConfig) Apply(snapshot map[string]interface{}) bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	version := intField(snapshot, "config_version")
	if version != 0 && version <= lc.Version {
		return false
	}

	if v, ok := snapshot["zone"].(string); ok && v != "" {
		lc.Zone = v
	}
	if v, ok := snapshot["log_level"].(string); ok && v != "" {
		lc.LogLevel = v
	}
	if v, ok := snapshot["environment"].(string); ok && v != "" {
		lc.Environment = v
	}
	if v := intField(snapshot, "probe_interval_seconds"); v > 0 {
		lc.ProbeIntervalSeconds = v
	}
	if v, ok := snapshot["detection_thresholds"].(map[string]interface{}); ok {
		lc.DetectionThresholds = v
	}
	lc.EnabledProbes = stringsField(snapshot, "enabled_probes")
	if caps := stringsField(snapshot, "capabilities"); caps != nil {
		lc.Capabilities = caps
	}
	lc.AllowedActions = stringsField(snapshot, "allowed_actions")
	if defaults, ok := snapshot["action_defaults"].(map[string]interface{}); ok {
		out := make(map[string]map[string]interface{}, len(defaults))
		for k, v := range defaults {
			if m, ok := v.(map[string]interface{}); ok {
				out[k] = m
			}
		}
		lc.ActionDefaults = out
	}
	if v := intField(snapshot, "max_concurrent_actions"); v > 0 {
		lc.MaxConcurrentActions = v
	}
	if version != 0 {
		lc.Version = version
	}
	lc.appliedCount++
	return true
}

// Snapshot returns a read-locked copy of the fields action runtimes need
func (lc *LiveConfig) Snapshot() (allowed []string, defaults map[string]map[string]interface{}, maxConcurrent int) {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.AllowedActions, lc.ActionDefaults, lc.MaxConcurrentActions
}

// CurrentVersion returns the applied config version
func (lc *LiveConfig) CurrentVersion() int {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.Version
}

// AppliedCount returns how many snapshots have been accepted
func (lc *LiveConfig) AppliedCount() int {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.appliedCount
}

// CurrentZone returns the live zone
func (lc *LiveConfig) CurrentZone() string {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.Zone
}

// Thresholds returns the live detection thresholds
func (lc *LiveConfig) Thresholds() map[string]interface{} {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.DetectionThresholds
}

// ProbeInterval returns the live probe interval in seconds
func (lc *LiveConfig) ProbeInterval() int {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.ProbeIntervalSeconds
}

func intField(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func stringsField(m map[string]interface{}, key string) []string {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Runtime drives the shared agent loops: heartbeats (bus push with HTTP
// fallback), node metadata at startup, and config sync.
type Runtime struct {
	identity  *Identity
	bus       *bus.Client
	core      *CoreClient
	cfg       *LiveConfig
	agentType string
	subtype   string
	log       zerolog.Logger
}

// NewRuntime creates the shared agent runtime
func NewRuntime(identity *Identity, busClient *bus.Client, core *CoreClient, cfg *LiveConfig, agentType, subtype string, log zerolog.Logger) *Runtime {
	return &Runtime{
		identity:  identity,
		bus:       busClient,
		core:      core,
		cfg:       cfg,
		agentType: agentType,
		subtype:   subtype,
		log:       log.With().Str("component", "agent_runtime").Logger(),
	}
}

// Start launches the heartbeat loop, publishes node metadata, subscribes to
// config pushes, and applies the current config snapshot.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.bus.Subscribe(bus.SubjectConfig(r.identity.AgentID), r.handleConfigPush); err != nil {
		return err
	}

	r.publishNodeMetadata()
	r.syncConfigOnce(ctx)

	go r.heartbeatLoop(ctx)
	return nil
}

func (r *Runtime) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	r.sendHeartbeat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sendHeartbeat(ctx)
		}
	}
}

// sendHeartbeat prefers the bus push; when the bus is down it falls back to
// the HTTP endpoint.
func (r *Runtime) sendHeartbeat(ctx context.Context) {
	usage := r.resourceUsage()
	hb := domain.Heartbeat{
		AgentID:       r.identity.AgentID,
		Status:        domain.AgentStatusActive,
		ResourceUsage: usage,
		AgentType:     r.agentType,
		AgentSubtype:  r.subtype,
		Zone:          r.cfg.CurrentZone(),
	}
	payload, err := json.Marshal(hb)
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to encode heartbeat")
		return
	}

	if r.bus.IsConnected() {
		subject := bus.SubjectHeartbeat(r.agentType, r.identity.AgentID)
		if err := r.bus.Publish(subject, payload); err == nil {
			return
		}
	}

	if err := r.core.Heartbeat(ctx, domain.AgentStatusActive, usage); err != nil {
		r.log.Warn().Err(err).Msg("Heartbeat failed on both bus and HTTP")
	}
}

// resourceUsage samples the host. Shape is intentionally open.
func (r *Runtime) resourceUsage() map[string]interface{} {
	usage := map[string]interface{}{}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		usage["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		usage["mem_percent"] = vm.UsedPercent
	}
	if du, err := disk.Usage("/"); err == nil {
		usage["disk_percent"] = du.UsedPercent
	}
	return usage
}

// publishNodeMetadata announces hardware/OS identity at startup
func (r *Runtime) publishNodeMetadata() {
	metadata := map[string]interface{}{
		"agent_id":      r.identity.AgentID,
		"agent_version": AgentVersion,
		"go_version":    runtime.Version(),
	}

	if hostname, err := os.Hostname(); err == nil {
		metadata["hostname"] = hostname
	}
	if info, err := host.Info(); err == nil {
		metadata["os_name"] = info.Platform
		metadata["os_version"] = info.PlatformVersion
		metadata["kernel_version"] = info.KernelVersion
	}
	if cpus, err := cpu.Info(); err == nil && len(cpus) > 0 {
		metadata["cpu_model"] = cpus[0].ModelName
	}
	if count, err := cpu.Counts(true); err == nil {
		metadata["cpu_cores"] = count
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		metadata["ram_total_mb"] = vm.Total / (1024 * 1024)
	}
	if mac := primaryMAC(); mac != "" {
		metadata["mac_address"] = mac
	}

	payload, err := json.Marshal(metadata)
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to encode node metadata")
		return
	}
	if err := r.bus.Publish(bus.SubjectNodeMetadata(r.identity.AgentID), payload); err != nil {
		r.log.Warn().Err(err).Msg("Node metadata publish failed")
	}
}

func primaryMAC() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.HardwareAddr.String() == "" {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return ""
}

// handleConfigPush applies a snapshot pushed on config.<agent_id>
func (r *Runtime) handleConfigPush(subject string, data []byte) {
	var snapshot map[string]interface{}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		r.log.Warn().Err(err).Msg("Dropping undecodable config push")
		return
	}
	if r.cfg.Apply(snapshot) {
		r.log.Info().Int("version", r.cfg.CurrentVersion()).Msg("Config push applied")
	}
}

// syncConfigOnce pulls the current config over HTTP, decrypting transported
// secrets with the key derived from this agent's API key.
func (r *Runtime) syncConfigOnce(ctx context.Context) {
	snapshot, err := r.core.FetchConfig(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("Config fetch failed")
		return
	}
	if snapshot == nil {
		r.log.Info().Msg("No config provisioned yet")
		return
	}

	key := r.identity.TransportKey()
	for _, field := range []string{"nats_url_enc", "core_api_url_enc"} {
		enc, _ := snapshot[field].(string)
		if enc == "" {
			continue
		}
		plain, err := crypto.Open(key, enc)
		if err != nil {
			r.log.Warn().Err(err).Str("field", field).Msg("Failed to decrypt transported secret")
			continue
		}
		snapshot[field[:len(field)-4]] = plain
		delete(snapshot, field)
	}

	if r.cfg.Apply(snapshot) {
		r.log.Info().Int("version", r.cfg.CurrentVersion()).Msg("Config applied from poll")
	}
}
