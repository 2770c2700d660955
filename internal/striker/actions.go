// Package striker implements the action-execution runtime that runs on each
// Striker host: allowlist enforcement, forensic capture, reversible actions
// with scheduled rollback, and status reporting. Each status report is
// published once on core NATS; a failed publish is logged and not retried.
package striker

import (
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	// busPort stays reachable during host isolation so the Striker keeps
	// its control channel.
	busPort = 4222

	// quarantineChain is the iptables chain holding isolation rules
	quarantineChain = "N7_QUARANTINE"

	// networkBlockAutoRollback is when a network_block reverses by itself
	networkBlockAutoRollback = 3600 * time.Second
)

// Descriptor is a strongly-typed action definition: its handler, whether
// the Striker joins the load-balanced actions.<type> pool for it, and how to
// reverse it. The shared broadcast subject accepts every registered type
// regardless of AllowBroadcast. RollbackType empty means the action is not
// reversible.
type Descriptor struct {
	Type           string
	AllowBroadcast bool
	RollbackType   string
	AutoRollback   time.Duration
	BuildRollback  func(params map[string]interface{}) map[string]interface{}
	Execute        func(params map[string]interface{}, log zerolog.Logger) map[string]interface{}
}

// Reversible reports whether the action registers a rollback entry
func (d *Descriptor) Reversible() bool {
	return d.RollbackType != ""
}

// Registry returns the built-in action set.
// Policy: isolate_host reverses only on operator demand; network_block
// auto-reverses after an hour.
func Registry() map[string]*Descriptor {
	return map[string]*Descriptor{
		"network_block": {
			Type:           "network_block",
			AllowBroadcast: true,
			RollbackType:   "network_unblock",
			AutoRollback:   networkBlockAutoRollback,
			BuildRollback: func(params map[string]interface{}) map[string]interface{} {
				return map[string]interface{}{"target": params["target"]}
			},
			Execute: executeNetworkBlock,
		},
		"network_unblock": {
			Type:           "network_unblock",
			AllowBroadcast: true,
			Execute:        executeNetworkUnblock,
		},
		"isolate_host": {
			Type:           "isolate_host",
			AllowBroadcast: true,
			RollbackType:   "unisolate_host",
			BuildRollback: func(params map[string]interface{}) map[string]interface{} {
				return map[string]interface{}{"reason": "operator_rollback"}
			},
			Execute: executeIsolateHost,
		},
		"unisolate_host": {
			Type:           "unisolate_host",
			AllowBroadcast: false,
			Execute:        executeUnisolateHost,
		},
		"kill_process": {
			Type:           "kill_process",
			AllowBroadcast: true,
			Execute:        executeKillProcess,
		},
	}
}

func run(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

func runOK(name string, args ...string) bool {
	return exec.Command(name, args...).Run() == nil
}

func iptablesPath() string {
	path, err := exec.LookPath("iptables")
	if err != nil {
		return ""
	}
	return path
}

// executeNetworkBlock drops all traffic from the target IP.
// params: {"target": string, "duration": seconds}
func executeNetworkBlock(params map[string]interface{}, log zerolog.Logger) map[string]interface{} {
	target, _ := params["target"].(string)
	if target == "" {
		return map[string]interface{}{"success": false, "reason": "no target specified"}
	}

	log.Info().Str("target", target).Msg("Executing network_block")

	ipt := iptablesPath()
	if ipt == "" {
		log.Warn().Msg("iptables not found, simulating network_block")
		return map[string]interface{}{"success": true, "simulated": true, "target": target}
	}

	// Idempotent: already-blocked targets succeed
	if runOK(ipt, "-C", "INPUT", "-s", target, "-j", "DROP") {
		return map[string]interface{}{"success": true, "target": target, "reason": "already blocked"}
	}
	if err := run(ipt, "-A", "INPUT", "-s", target, "-j", "DROP"); err != nil {
		return map[string]interface{}{"success": false, "reason": err.Error()}
	}

	log.Warn().Str("target", target).Msg("Target blocked via iptables")
	return map[string]interface{}{
		"success":    true,
		"target":     target,
		"blocked_at": time.Now().UTC().Format(time.RFC3339),
	}
}

// executeNetworkUnblock removes the drop rule for a target.
// params: {"target": string}
func executeNetworkUnblock(params map[string]interface{}, log zerolog.Logger) map[string]interface{} {
	target, _ := params["target"].(string)
	if target == "" {
		return map[string]interface{}{"success": false, "reason": "no target specified"}
	}

	ipt := iptablesPath()
	if ipt == "" {
		return map[string]interface{}{"success": true, "simulated": true, "target": target}
	}

	if err := run(ipt, "-D", "INPUT", "-s", target, "-j", "DROP"); err != nil {
		// Rule absent counts as unblocked
		log.Warn().Err(err).Str("target", target).Msg("Unblock rule delete failed (may already be removed)")
	}
	log.Warn().Str("target", target).Msg("Target unblocked")
	return map[string]interface{}{
		"success":      true,
		"target":       target,
		"unblocked_at": time.Now().UTC().Format(time.RFC3339),
	}
}

// executeIsolateHost applies a quarantine ruleset that drops everything
// except established/related traffic, loopback, and the control-bus port.
// params: {"reason": string, "alert_id": string}
func executeIsolateHost(params map[string]interface{}, log zerolog.Logger) map[string]interface{} {
	reason, _ := params["reason"].(string)
	log.Warn().Str("reason", reason).Msg("Executing host isolation")

	if runtime.GOOS != "linux" {
		log.Warn().Str("platform", runtime.GOOS).Msg("Unsupported platform for isolation, simulating")
		return map[string]interface{}{"success": true, "simulated": true, "platform": runtime.GOOS}
	}

	ipt := iptablesPath()
	if ipt == "" {
		log.Warn().Msg("iptables not found, simulating isolation")
		return map[string]interface{}{"success": true, "simulated": true}
	}

	// Rebuild the quarantine chain from scratch
	_ = run(ipt, "-F", quarantineChain)
	_ = run(ipt, "-X", quarantineChain)

	port := fmt.Sprintf("%d", busPort)
	steps := [][]string{
		{"-N", quarantineChain},
		// Established/related first keeps the current bus session alive
		{"-A", quarantineChain, "-m", "state", "--state", "ESTABLISHED,RELATED", "-j", "ACCEPT"},
		{"-A", quarantineChain, "-i", "lo", "-j", "ACCEPT"},
		{"-A", quarantineChain, "-o", "lo", "-j", "ACCEPT"},
		{"-A", quarantineChain, "-p", "tcp", "--dport", port, "-j", "ACCEPT"},
		{"-A", quarantineChain, "-p", "tcp", "--sport", port, "-j", "ACCEPT"},
		{"-A", quarantineChain, "-j", "DROP"},
	}
	for _, args := range steps {
		if err := run(ipt, args...); err != nil {
			return map[string]interface{}{"success": false, "reason": fmt.Sprintf("iptables %v: %v", args, err)}
		}
	}

	// Hook the chain at position 1 in INPUT and OUTPUT (idempotent)
	if !runOK(ipt, "-C", "INPUT", "-j", quarantineChain) {
		if err := run(ipt, "-I", "INPUT", "1", "-j", quarantineChain); err != nil {
			return map[string]interface{}{"success": false, "reason": err.Error()}
		}
	}
	if !runOK(ipt, "-C", "OUTPUT", "-j", quarantineChain) {
		if err := run(ipt, "-I", "OUTPUT", "1", "-j", quarantineChain); err != nil {
			return map[string]interface{}{"success": false, "reason": err.Error()}
		}
	}

	log.Warn().Int("bus_port_preserved", busPort).Msg("Host isolated")
	return map[string]interface{}{
		"success":            true,
		"isolated_at":        time.Now().UTC().Format(time.RFC3339),
		"bus_port_preserved": busPort,
		"reason":             reason,
	}
}

// executeUnisolateHost removes the quarantine chain.
// params: {"original_action_id": string}
func executeUnisolateHost(params map[string]interface{}, log zerolog.Logger) map[string]interface{} {
	if runtime.GOOS != "linux" {
		return map[string]interface{}{"success": true, "simulated": true, "platform": runtime.GOOS}
	}

	ipt := iptablesPath()
	if ipt == "" {
		return map[string]interface{}{"success": true, "simulated": true}
	}

	_ = run(ipt, "-D", "INPUT", "-j", quarantineChain)
	_ = run(ipt, "-D", "OUTPUT", "-j", quarantineChain)
	_ = run(ipt, "-F", quarantineChain)
	_ = run(ipt, "-X", quarantineChain)

	log.Warn().Msg("Host un-isolated: quarantine chain removed")
	return map[string]interface{}{
		"success":       true,
		"unisolated_at": time.Now().UTC().Format(time.RFC3339),
	}
}

// executeKillProcess kills a process by pid or name.
// params: {"pid": number} or {"process_name": string}
func executeKillProcess(params map[string]interface{}, log zerolog.Logger) map[string]interface{} {
	if pid, ok := params["pid"].(float64); ok && pid > 0 {
		p, err := process.NewProcess(int32(pid))
		if err != nil {
			return map[string]interface{}{"success": false, "reason": "process not found"}
		}
		if err := p.Kill(); err != nil {
			return map[string]interface{}{"success": false, "reason": err.Error()}
		}
		log.Info().Int32("pid", int32(pid)).Msg("Process killed")
		return map[string]interface{}{"success": true, "killed_count": 1}
	}

	name, _ := params["process_name"].(string)
	if name == "" {
		return map[string]interface{}{"success": false, "reason": "pid or process_name required"}
	}

	procs, err := process.Processes()
	if err != nil {
		return map[string]interface{}{"success": false, "reason": err.Error()}
	}

	killed := 0
	for _, p := range procs {
		pname, err := p.Name()
		if err != nil || pname != name {
			continue
		}
		if err := p.Kill(); err != nil {
			log.Warn().Err(err).Int32("pid", p.Pid).Msg("Failed to kill process")
			continue
		}
		killed++
		log.Info().Int32("pid", p.Pid).Str("name", name).Msg("Process killed")
	}

	if killed == 0 {
		return map[string]interface{}{"success": false, "reason": "no matching process found"}
	}
	return map[string]interface{}{"success": true, "killed_count": killed}
}
