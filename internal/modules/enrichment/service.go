package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/yasasalwis/Naga-7/internal/bus"
	"github.com/yasasalwis/Naga-7/internal/cache"
	"github.com/yasasalwis/Naga-7/internal/domain"
	"github.com/yasasalwis/Naga-7/internal/metrics"
	"github.com/yasasalwis/Naga-7/internal/wire"
)

// narrativeCacheTTL memoizes analyzer output per alert so at-least-once
// bundle delivery never burns a second inference call within the hour.
const narrativeCacheTTL = time.Hour

const systemPrompt = `You are a senior cybersecurity analyst AI assistant. ` +
	`Analyze the security alert bundle provided and return ONLY a JSON object ` +
	`(no markdown, no explanation outside the JSON) with exactly four keys:
  "narrative": a concise 2-4 sentence plain-English description of the attack,
  "mitre_tactic": the most relevant MITRE ATT&CK tactic name (e.g. 'Lateral Movement'),
  "mitre_technique": the most relevant technique ID and name (e.g. 'T1021 - Remote Services'),
  "remediation": the most important containment step to take right now.
Focus on what the attacker likely did, why it is dangerous, and what MITRE stage it represents.`

// fallbackRemediation is the canned containment checklist used when the
// inference endpoint cannot answer.
var fallbackRemediation = []string{
	"1. Isolate the affected host from the network.",
	"2. Preserve volatile evidence (processes, connections, recent files).",
	"3. Rotate credentials that may have been exposed from the source asset.",
	"4. Review related events for lateral movement from the same source.",
	"5. Open an incident and hand findings to an analyst for review.",
}

// Narrative is the analyzer output stored on the alert row
type Narrative struct {
	Narrative      string `json:"narrative"`
	MitreTactic    string `json:"mitre_tactic"`
	MitreTechnique string `json:"mitre_technique"`
	Remediation    string `json:"remediation"`
}

// AlertStore persists analyzer output
type AlertStore interface {
	UpdateLLMFields(alertID, narrative, mitreTactic, mitreTechnique, remediation string) error
}

// Publisher forwards enriched alerts to the decision engine
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Service consumes llm.analyze and republishes enriched alerts on alerts
type Service struct {
	ollama *OllamaClient
	cache  cache.Cache
	store  AlertStore
	pub    Publisher
	log    zerolog.Logger
}

// NewService creates the LLM analyzer service
func NewService(ollama *OllamaClient, c cache.Cache, store AlertStore, pub Publisher, log zerolog.Logger) *Service {
	return &Service{
		ollama: ollama,
		cache:  c,
		store:  store,
		pub:    pub,
		log:    log.With().Str("service", "llm_analyzer").Logger(),
	}
}

// Probe checks the inference endpoint once at startup and logs whether the
// configured model is present. Never fatal.
func (s *Service) Probe(ctx context.Context) {
	models, err := s.ollama.ListModels(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Inference endpoint unreachable, analyzer will use fallback narratives")
		return
	}
	for _, m := range models {
		if m == s.ollama.Model() || strings.HasPrefix(m, s.ollama.Model()+":") {
			s.log.Info().Str("model", s.ollama.Model()).Msg("Inference model available")
			return
		}
	}
	s.log.Warn().Str("model", s.ollama.Model()).Strs("available", models).Msg("Configured model not pulled on inference endpoint")
}

// Health reports the analyzer state for the health endpoint. Never errors.
func (s *Service) Health(ctx context.Context) map[string]interface{} {
	models, err := s.ollama.ListModels(ctx)
	if err != nil {
		return map[string]interface{}{"status": "degraded", "error": err.Error()}
	}
	return map[string]interface{}{"status": "active", "model": s.ollama.Model(), "models_available": len(models)}
}

// HandleAnalyzeRequest processes one alert bundle from llm.analyze
func (s *Service) HandleAnalyzeRequest(subject string, data []byte) {
	var bundle domain.AlertBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		s.log.Warn().Err(err).Str("subject", subject).Msg("Dropping undecodable alert bundle")
		return
	}
	if bundle.AlertID == "" {
		s.log.Warn().Msg("Alert bundle missing alert_id, dropped")
		return
	}

	ctx := context.Background()
	s.log.Info().Str("alert_id", bundle.AlertID).Str("severity", bundle.Severity).Msg("Analyzing alert")

	narrative := s.narrativeFor(ctx, &bundle)

	if err := s.store.UpdateLLMFields(bundle.AlertID, narrative.Narrative, narrative.MitreTactic, narrative.MitreTechnique, narrative.Remediation); err != nil {
		s.log.Error().Err(err).Str("alert_id", bundle.AlertID).Msg("Failed to persist narrative")
	}

	reasoning := bundle.Reasoning
	reasoning.LLMNarrative = narrative.Narrative
	reasoning.LLMMitreTactic = narrative.MitreTactic
	reasoning.LLMMitreTechnique = narrative.MitreTechnique
	reasoning.LLMRemediation = narrative.Remediation

	alert := &domain.Alert{
		AlertID:           bundle.AlertID,
		CreatedAt:         time.Now().UTC(),
		EventIDs:          bundle.EventIDs,
		ThreatScore:       bundle.ThreatScore,
		Severity:          bundle.Severity,
		Status:            domain.AlertStatusNew,
		Verdict:           domain.VerdictPending,
		AffectedAssets:    bundle.AffectedAssets,
		Reasoning:         reasoning,
		LLMNarrative:      narrative.Narrative,
		LLMMitreTactic:    narrative.MitreTactic,
		LLMMitreTechnique: narrative.MitreTechnique,
		LLMRemediation:    narrative.Remediation,
	}
	payload, err := wire.EncodeAlertBinary(alert)
	if err != nil {
		s.log.Error().Err(err).Str("alert_id", alert.AlertID).Msg("Failed to encode enriched alert")
		return
	}
	if err := s.pub.Publish(bus.SubjectAlerts, payload); err != nil {
		s.log.Warn().Err(err).Str("alert_id", alert.AlertID).Msg("Enriched alert publish failed")
		return
	}
	s.log.Info().Str("alert_id", alert.AlertID).Msg("Enriched alert published")
}

// narrativeFor returns the memoized narrative for an alert, generating one
// on a cache miss.
func (s *Service) narrativeFor(ctx context.Context, bundle *domain.AlertBundle) Narrative {
	cacheKey := "llm:narrative:" + bundle.AlertID

	if cached, ok, err := s.cache.Get(ctx, cacheKey); err == nil && ok {
		var n Narrative
		if err := json.Unmarshal([]byte(cached), &n); err == nil {
			s.log.Debug().Str("alert_id", bundle.AlertID).Msg("Narrative cache hit")
			return n
		}
	}

	n := s.generateNarrative(ctx, bundle)

	if data, err := json.Marshal(n); err == nil {
		if err := s.cache.Set(ctx, cacheKey, string(data), narrativeCacheTTL); err != nil {
			s.log.Warn().Err(err).Msg("Failed to memoize narrative")
		}
	}
	return n
}

// generateNarrative calls the inference endpoint, falling back to a
// deterministic summary on timeout, connection failure or malformed JSON.
func (s *Service) generateNarrative(ctx context.Context, bundle *domain.AlertBundle) Narrative {
	summaries := bundle.EventSummaries
	if len(summaries) > 5 {
		summaries = summaries[:5]
	}
	contextBlob, _ := json.MarshalIndent(map[string]interface{}{
		"rule":             bundle.Reasoning.Rule,
		"description":      bundle.Reasoning.Description,
		"source":           bundle.Reasoning.Source,
		"mitre_tactics":    bundle.Reasoning.MitreTactics,
		"mitre_techniques": bundle.Reasoning.MitreTechniques,
		"event_count":      bundle.Reasoning.Count,
		"is_multi_stage":   bundle.Reasoning.IsMultiStage,
		"event_summaries":  summaries,
	}, "", "  ")

	prompt := fmt.Sprintf("%s\n\nAlert bundle:\n%s\n\nJSON response:", systemPrompt, contextBlob)

	callCtx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	raw, err := s.ollama.Generate(callCtx, prompt)
	if err != nil {
		s.log.Warn().Err(err).Str("alert_id", bundle.AlertID).Msg("Inference unavailable, using fallback narrative")
		metrics.LLMFallbacks.Inc()
		return s.fallback(bundle.Reasoning)
	}

	var n Narrative
	if err := json.Unmarshal([]byte(raw), &n); err != nil || n.Narrative == "" {
		s.log.Warn().Err(err).Str("alert_id", bundle.AlertID).Msg("Malformed inference response, using fallback narrative")
		metrics.LLMFallbacks.Inc()
		return s.fallback(bundle.Reasoning)
	}
	if n.Remediation == "" {
		n.Remediation = strings.Join(fallbackRemediation, "\n")
	}
	return n
}

// fallback builds the deterministic narrative from the rule reasoning
func (s *Service) fallback(reasoning domain.Reasoning) Narrative {
	rule := reasoning.Rule
	if rule == "" {
		rule = "Unknown rule"
	}
	source := reasoning.Source
	if source == "" {
		source = "unknown source"
	}
	tactics := strings.Join(reasoning.MitreTactics, ", ")
	if tactics == "" {
		tactics = "unknown"
	}
	multi := ""
	if reasoning.IsMultiStage {
		multi = " This is a multi-stage attack pattern."
	}

	return Narrative{
		Narrative: fmt.Sprintf(
			"Alert '%s' triggered for source %s. %d matching event(s) observed.%s Associated MITRE tactics: %s. Manual analyst review recommended.",
			rule, source, reasoning.Count, multi, tactics),
		MitreTactic:    tactics,
		MitreTechnique: strings.Join(reasoning.MitreTechniques, ", "),
		Remediation:    strings.Join(fallbackRemediation, "\n"),
	}
}
