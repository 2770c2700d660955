package striker

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gopsnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// Directories scanned for recent file activity
var watchDirs = []string{"/tmp", "/var/tmp", "/home", "/opt/naga7"}

const (
	// recentFileWindow bounds which file modifications count as recent
	recentFileWindow = 5 * time.Minute

	// maxRecentFiles caps the evidence row count
	maxRecentFiles = 200

	// maxCmdline truncates runaway command lines
	maxCmdline = 512
)

// EvidenceCollector captures host state immediately before and after each
// action, giving investigators pre/post snapshots.
type EvidenceCollector struct {
	log zerolog.Logger
}

// NewEvidenceCollector creates a collector
func NewEvidenceCollector(log zerolog.Logger) *EvidenceCollector {
	return &EvidenceCollector{
		log: log.With().Str("service", "evidence_collector").Logger(),
	}
}

// CollectPre captures the snapshot taken before an action executes
func (c *EvidenceCollector) CollectPre(actionID, actionType string, params map[string]interface{}) map[string]interface{} {
	snapshot := c.capture(actionID, "pre")
	snapshot["action_type"] = actionType
	snapshot["action_params"] = params
	return snapshot
}

// CollectPost captures the snapshot taken after an action completes
func (c *EvidenceCollector) CollectPost(actionID, actionType string, result map[string]interface{}) map[string]interface{} {
	snapshot := c.capture(actionID, "post")
	snapshot["action_type"] = actionType
	snapshot["action_result"] = result
	return snapshot
}

func (c *EvidenceCollector) capture(actionID, phase string) map[string]interface{} {
	snapshot := map[string]interface{}{
		"captured_at":         time.Now().UTC().Format(time.RFC3339),
		"action_id":           actionID,
		"phase":               phase,
		"processes":           c.captureProcesses(),
		"network_connections": c.captureConnections(),
		"recent_files":        c.captureRecentFiles(),
		"system_metrics":      c.captureSystemMetrics(),
	}
	c.log.Info().
		Str("action_id", actionID).
		Str("phase", phase).
		Msg("Evidence snapshot captured")
	return snapshot
}

func (c *EvidenceCollector) captureProcesses() []map[string]interface{} {
	procs, err := process.Processes()
	if err != nil {
		c.log.Warn().Err(err).Msg("Process capture failed")
		return nil
	}

	out := make([]map[string]interface{}, 0, len(procs))
	for _, p := range procs {
		name, _ := p.Name()
		cmdline, _ := p.Cmdline()
		if len(cmdline) > maxCmdline {
			cmdline = cmdline[:maxCmdline]
		}
		username, _ := p.Username()
		cpuPercent, _ := p.CPUPercent()
		memPercent, _ := p.MemoryPercent()

		out = append(out, map[string]interface{}{
			"pid":            p.Pid,
			"name":           name,
			"cmdline":        cmdline,
			"username":       username,
			"cpu_percent":    cpuPercent,
			"memory_percent": memPercent,
		})
	}
	return out
}

func (c *EvidenceCollector) captureConnections() []map[string]interface{} {
	conns, err := gopsnet.Connections("inet")
	if err != nil {
		c.log.Warn().Err(err).Msg("Connection capture failed")
		return nil
	}

	out := make([]map[string]interface{}, 0, len(conns))
	for _, conn := range conns {
		out = append(out, map[string]interface{}{
			"local_addr":  conn.Laddr.IP,
			"local_port":  conn.Laddr.Port,
			"remote_addr": conn.Raddr.IP,
			"remote_port": conn.Raddr.Port,
			"status":      conn.Status,
			"pid":         conn.Pid,
		})
	}
	return out
}

func (c *EvidenceCollector) captureRecentFiles() []map[string]interface{} {
	cutoff := time.Now().Add(-recentFileWindow)
	var out []map[string]interface{}

	for _, dir := range watchDirs {
		if len(out) >= maxRecentFiles {
			break
		}
		_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable entries are skipped, not fatal
			}
			if len(out) >= maxRecentFiles {
				return filepath.SkipAll
			}
			if d.IsDir() {
				// Don't descend into hidden trees under any watched root
				if strings.HasPrefix(d.Name(), ".") && path != dir {
					return filepath.SkipDir
				}
				return nil
			}
			info, err := d.Info()
			if err != nil || info.ModTime().Before(cutoff) {
				return nil
			}
			out = append(out, map[string]interface{}{
				"path":        path,
				"size_bytes":  info.Size(),
				"modified_at": info.ModTime().UTC().Format(time.RFC3339),
			})
			return nil
		})
	}
	return out
}

func (c *EvidenceCollector) captureSystemMetrics() map[string]interface{} {
	metrics := map[string]interface{}{}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		metrics["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		metrics["mem_percent"] = vm.UsedPercent
		metrics["mem_total_mb"] = vm.Total / (1024 * 1024)
	}
	if du, err := disk.Usage("/"); err == nil {
		metrics["disk_percent"] = du.UsedPercent
	}
	return metrics
}
