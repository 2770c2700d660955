package correlation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yasasalwis/Naga-7/internal/bus"
	"github.com/yasasalwis/Naga-7/internal/cache"
	"github.com/yasasalwis/Naga-7/internal/domain"
	"github.com/yasasalwis/Naga-7/internal/metrics"
	"github.com/yasasalwis/Naga-7/internal/wire"
)

const (
	// CooldownWindow suppresses repeat LLM dispatch per (rule, source)
	CooldownWindow = 5 * time.Minute

	// maxEventSummaries caps the snapshots carried in an alert bundle
	maxEventSummaries = 5
)

// AlertStore persists minted alerts
type AlertStore interface {
	Insert(alert *domain.Alert) error
}

// Publisher carries alert bundles to the LLM analyzer
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Engine consumes internal.events, applies every rule per message, and mints
// alerts. Counters and cooldowns live in the cache so queue-group peers
// share them; the event window is process-local.
type Engine struct {
	rules  []*Rule
	buffer *SourceBuffer
	cache  cache.Cache
	store  AlertStore
	pub    Publisher
	log    zerolog.Logger
	now    func() time.Time
}

// NewEngine creates the correlation engine with the given rule set
func NewEngine(rules []*Rule, c cache.Cache, store AlertStore, pub Publisher, log zerolog.Logger) *Engine {
	e := &Engine{
		rules:  rules,
		buffer: NewSourceBuffer(),
		cache:  c,
		store:  store,
		pub:    pub,
		log:    log.With().Str("service", "threat_correlator").Logger(),
		now:    time.Now,
	}
	e.log.Info().Int("rules", len(rules)).Msg("Correlation rules loaded")
	return e
}

// Buffer exposes the engine's event window. Tests only.
func (e *Engine) Buffer() *SourceBuffer { return e.buffer }

// SetClock overrides the engine's time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.buffer.SetClock(now)
}

// sourceOf extracts the correlation key for an event. Rules are per-source,
// which is what lets queue-group parallelism reorder events across sources
// without breaking correlation.
func sourceOf(rawData map[string]interface{}) string {
	if v, ok := rawData["source_ip"].(string); ok && v != "" {
		return v
	}
	return "unknown"
}

// HandleInternalEvent processes one message from internal.events
func (e *Engine) HandleInternalEvent(subject string, data []byte) {
	ev, err := wire.DecodeEvent(data)
	if err != nil {
		e.log.Warn().Err(err).Str("subject", subject).Msg("Dropping undecodable internal event")
		return
	}

	source := sourceOf(ev.RawData)
	e.buffer.Add(source, ev)

	ctx := context.Background()
	for _, rule := range e.rules {
		if rule.MultiStage() {
			e.checkMultiStage(ctx, rule, source)
		} else {
			e.checkSimple(ctx, rule, source, ev)
		}
	}
}

// checkSimple counts pattern matches in the cache and mints an alert when
// the counter reaches the rule threshold within its window.
func (e *Engine) checkSimple(ctx context.Context, rule *Rule, source string, ev *domain.Event) {
	if !MatchPattern(rule.Pattern, ev.EventClass, ev.RawData) {
		return
	}

	key := fmt.Sprintf("corr:%s:%s", rule.ID, source)
	count, err := e.cache.Incr(ctx, key, rule.TimeWindow)
	if err != nil {
		e.log.Warn().Err(err).Str("rule", rule.ID).Msg("Correlation counter unreachable, treating as first hit")
		count = 1
	}

	if count < int64(rule.Threshold) {
		return
	}

	e.log.Warn().
		Str("rule", rule.Name).
		Str("source", source).
		Int64("count", count).
		Msg("Rule triggered")

	e.mintAlert(ctx, rule, source, []string{ev.EventID}, int(count), false)

	if err := e.cache.Delete(ctx, key); err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("Failed to reset correlation counter")
	}
}

// checkMultiStage scans the source's window for every stage. All stages
// satisfied mints one alert and clears the window for that source.
func (e *Engine) checkMultiStage(ctx context.Context, rule *Rule, source string) {
	buffered := e.buffer.Events(source)
	if len(buffered) == 0 {
		return
	}

	var eventIDs []string
	for _, stage := range rule.Stages {
		var matching []BufferedEvent
		for _, ev := range buffered {
			if MatchStage(stage, ev.EventClass, ev.RawData) {
				matching = append(matching, ev)
			}
		}

		if stage.WithinSeconds > 0 {
			cutoff := e.now().Add(-time.Duration(stage.WithinSeconds) * time.Second)
			recent := matching[:0]
			for _, ev := range matching {
				if ev.Timestamp.After(cutoff) {
					recent = append(recent, ev)
				}
			}
			matching = recent
		}

		min := stage.MinOccurrences
		if min <= 0 {
			min = 1
		}
		if len(matching) < min {
			return
		}
		for _, ev := range matching[:min] {
			eventIDs = append(eventIDs, ev.EventID)
		}
	}

	e.log.Warn().
		Str("rule", rule.Name).
		Str("source", source).
		Msg("Multi-stage rule triggered")

	e.mintAlert(ctx, rule, source, eventIDs, len(eventIDs), true)
	e.buffer.Clear(source)
}

// ThreatScore maps severity to the base score, adds the multi-stage bonus,
// and caps at 100. honeytoken_access is always a certain compromise.
func ThreatScore(ruleID, severity string, multiStage bool) int {
	if ruleID == "honeytoken_access" {
		return 100
	}
	base := map[string]int{
		"critical": 90,
		"high":     75,
		"medium":   50,
		"low":      25,
		"info":     10,
	}
	score, ok := base[severity]
	if !ok {
		score = 50
	}
	if multiStage {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return score
}

// mintAlert persists the alert and, cooldown permitting, publishes the
// bundle to the LLM analyzer. During an active cooldown the row is still
// written so the database shows the recurrence.
func (e *Engine) mintAlert(ctx context.Context, rule *Rule, source string, eventIDs []string, count int, multiStage bool) {
	alert := &domain.Alert{
		AlertID:        uuid.NewString(),
		CreatedAt:      e.now().UTC(),
		EventIDs:       eventIDs,
		ThreatScore:    ThreatScore(rule.ID, rule.Severity, multiStage),
		Severity:       rule.Severity,
		Status:         domain.AlertStatusNew,
		Verdict:        domain.VerdictPending,
		AffectedAssets: []string{source},
		Reasoning: domain.Reasoning{
			Rule:            rule.Name,
			Description:     rule.Description,
			Count:           count,
			Source:          source,
			MitreTactics:    rule.MitreTactics,
			MitreTechniques: rule.MitreTechniques,
			IsMultiStage:    multiStage,
		},
	}

	if err := e.store.Insert(alert); err != nil {
		e.log.Error().Err(err).Str("alert_id", alert.AlertID).Msg("Failed to persist alert")
	}
	metrics.AlertsMinted.WithLabelValues(rule.ID).Inc()

	cooldownKey := fmt.Sprintf("alert_cooldown:%s:%s", rule.ID, source)
	_, active, err := e.cache.Get(ctx, cooldownKey)
	if err != nil {
		e.log.Warn().Err(err).Msg("Cooldown cache unreachable, dispatching anyway")
	}
	if active {
		metrics.AlertsCooledDown.Inc()
		e.log.Info().
			Str("rule", rule.ID).
			Str("source", source).
			Str("alert_id", alert.AlertID).
			Msg("Cooldown active, alert persisted without LLM dispatch")
		return
	}
	if err := e.cache.Set(ctx, cooldownKey, "1", CooldownWindow); err != nil {
		e.log.Warn().Err(err).Msg("Failed to set alert cooldown")
	}

	bundle := domain.AlertBundle{
		AlertID:        alert.AlertID,
		Reasoning:      alert.Reasoning,
		ThreatScore:    alert.ThreatScore,
		Severity:       alert.Severity,
		EventIDs:       alert.EventIDs,
		AffectedAssets: alert.AffectedAssets,
		EventSummaries: e.buffer.Summaries(source, maxEventSummaries),
	}
	payload, err := json.Marshal(bundle)
	if err != nil {
		e.log.Error().Err(err).Msg("Failed to encode alert bundle")
		return
	}
	if err := e.pub.Publish(bus.SubjectLLMAnalyze, payload); err != nil {
		e.log.Warn().Err(err).Str("alert_id", alert.AlertID).Msg("LLM dispatch publish failed")
		return
	}
	e.log.Info().Str("alert_id", alert.AlertID).Str("rule", rule.Name).Msg("Alert bundle dispatched for analysis")
}
