package sentinel

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/yasasalwis/Naga-7/internal/agentruntime"
	"github.com/yasasalwis/Naga-7/internal/domain"
)

// Probe observes one aspect of host state. Contract: each run returns zero
// or more events to emit.
type Probe interface {
	Name() string
	Collect() ([]*domain.Event, error)
}

// SystemProbe watches cpu/memory/disk against the configured detection
// thresholds and emits a system event when a threshold is crossed.
type SystemProbe struct {
	sentinelID string
	cfg        *agentruntime.LiveConfig
}

// NewSystemProbe creates the system metrics probe
func NewSystemProbe(sentinelID string, cfg *agentruntime.LiveConfig) *SystemProbe {
	return &SystemProbe{sentinelID: sentinelID, cfg: cfg}
}

// Name implements Probe
func (p *SystemProbe) Name() string { return "system" }

// Collect implements Probe
func (p *SystemProbe) Collect() ([]*domain.Event, error) {
	thresholds := p.thresholds()
	var events []*domain.Event

	check := func(metric string, value, threshold float64) {
		if threshold <= 0 || value < threshold {
			return
		}
		events = append(events, &domain.Event{
			EventID:    uuid.NewString(),
			Timestamp:  time.Now().UTC(),
			SentinelID: p.sentinelID,
			EventClass: "system",
			Severity:   "medium",
			RawData: map[string]interface{}{
				"metric":    metric,
				"value":     value,
				"threshold": threshold,
			},
		})
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		check("cpu_percent", percents[0], thresholds["cpu_threshold"])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		check("mem_percent", vm.UsedPercent, thresholds["mem_threshold"])
	}
	if du, err := disk.Usage("/"); err == nil {
		check("disk_percent", du.UsedPercent, thresholds["disk_threshold"])
	}

	return events, nil
}

func (p *SystemProbe) thresholds() map[string]float64 {
	out := map[string]float64{"cpu_threshold": 80, "mem_threshold": 85, "disk_threshold": 90}
	for k, v := range p.cfg.Thresholds() {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	return out
}

// Runner drives the enabled probes on the configured interval and hands
// their events to the emitter.
type Runner struct {
	probes  []Probe
	emitter *Emitter
	cfg     *agentruntime.LiveConfig
	log     zerolog.Logger
}

// NewRunner creates the probe runner
func NewRunner(probes []Probe, emitter *Emitter, cfg *agentruntime.LiveConfig, log zerolog.Logger) *Runner {
	return &Runner{
		probes:  probes,
		emitter: emitter,
		cfg:     cfg,
		log:     log.With().Str("service", "probe_runner").Logger(),
	}
}

// Run loops until ctx is cancelled
func (r *Runner) Run(ctx context.Context) {
	for {
		interval := 5 * time.Second
		if seconds := r.cfg.ProbeInterval(); seconds > 0 {
			interval = time.Duration(seconds) * time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		for _, probe := range r.probes {
			events, err := probe.Collect()
			if err != nil {
				r.log.Warn().Err(err).Str("probe", probe.Name()).Msg("Probe failed")
				continue
			}
			for _, ev := range events {
				if err := r.emitter.Emit(ev); err != nil {
					r.log.Warn().Err(err).Str("probe", probe.Name()).Msg("Emit failed")
				}
			}
		}
	}
}
