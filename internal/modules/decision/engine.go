package decision

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yasasalwis/Naga-7/internal/bus"
	"github.com/yasasalwis/Naga-7/internal/domain"
	"github.com/yasasalwis/Naga-7/internal/metrics"
	"github.com/yasasalwis/Naga-7/internal/wire"
)

// AlertStore records verdicts on alert rows
type AlertStore interface {
	UpdateVerdict(alertID, verdict string) error
}

// Publisher dispatches actions to Strikers
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Auditor appends to the tamper-evident audit log
type Auditor interface {
	Log(actor, action, resource string, details map[string]interface{})
}

// Engine consumes alerts and actions.status
type Engine struct {
	alerts  AlertStore
	actions *ActionRepository
	pub     Publisher
	audit   Auditor
	log     zerolog.Logger
}

// NewEngine creates the decision engine
func NewEngine(alerts AlertStore, actions *ActionRepository, pub Publisher, audit Auditor, log zerolog.Logger) *Engine {
	return &Engine{
		alerts:  alerts,
		actions: actions,
		pub:     pub,
		audit:   audit,
		log:     log.With().Str("service", "decision_engine").Logger(),
	}
}

// Verdict computes the policy outcome for an alert. The optional action is
// non-nil only for auto_respond.
func Verdict(alert *domain.Alert) (string, *domain.Action) {
	reasoning := alert.Reasoning

	switch alert.Severity {
	case "critical":
		// Multi-stage critical attacks with a known source are contained
		// immediately by isolating the host.
		if reasoning.IsMultiStage && reasoning.Source != "" {
			return domain.VerdictAutoRespond, &domain.Action{
				ActionType: "isolate_host",
				Parameters: map[string]interface{}{
					"reason":   reasoning.Rule,
					"alert_id": alert.AlertID,
					"source":   reasoning.Source,
				},
			}
		}
		return domain.VerdictEscalate, nil

	case "high":
		if alert.ThreatScore > 70 && strings.HasPrefix(reasoning.Rule, "Brute Force") && reasoning.Source != "" {
			return domain.VerdictAutoRespond, &domain.Action{
				ActionType: "network_block",
				Parameters: map[string]interface{}{
					"target":   reasoning.Source,
					"duration": 3600,
				},
			}
		}
		return domain.VerdictDismiss, nil

	case "medium":
		return domain.VerdictEscalate, nil
	}

	return domain.VerdictDismiss, nil
}

// HandleAlert processes one enriched alert from the alerts subject
func (e *Engine) HandleAlert(subject string, data []byte) {
	alert, err := wire.DecodeAlert(data)
	if err != nil {
		e.log.Warn().Err(err).Str("subject", subject).Msg("Dropping undecodable alert")
		return
	}

	verdict, action := Verdict(alert)
	e.log.Info().
		Str("alert_id", alert.AlertID).
		Str("severity", alert.Severity).
		Str("verdict", verdict).
		Msg("Alert evaluated")

	if err := e.alerts.UpdateVerdict(alert.AlertID, verdict); err != nil {
		e.log.Warn().Err(err).Str("alert_id", alert.AlertID).Msg("Failed to persist verdict")
	}

	if verdict == domain.VerdictAutoRespond && action != nil {
		action.IncidentID = ""
		if _, err := e.Dispatch(action, "auto", ""); err != nil {
			e.log.Error().Err(err).Str("alert_id", alert.AlertID).Msg("Auto-response dispatch failed")
		}
	}
}

// Dispatch assigns an id, persists the action as queued, and publishes it.
// An empty strikerID broadcasts to any capable Striker; otherwise the action
// goes to that Striker's direct subject.
func (e *Engine) Dispatch(action *domain.Action, initiatedBy, strikerID string) (*domain.Action, error) {
	if action.ActionID == "" {
		action.ActionID = uuid.NewString()
	}
	action.Status = domain.ActionStatusQueued
	action.InitiatedBy = initiatedBy
	action.StrikerID = strikerID
	action.CreatedAt = time.Now().UTC()

	if err := e.actions.Insert(action); err != nil {
		return nil, err
	}

	subject := bus.SubjectActionsBroadcast
	if strikerID != "" {
		subject = bus.SubjectActionsDirect(strikerID)
	}

	payload, err := wire.EncodeActionBinary(action)
	if err != nil {
		return nil, err
	}
	if err := e.pub.Publish(subject, payload); err != nil {
		return nil, err
	}

	metrics.ActionsDispatched.WithLabelValues(action.ActionType).Inc()
	e.audit.Log(initiatedBy, "action_dispatched", action.ActionID, map[string]interface{}{
		"action_type": action.ActionType,
		"subject":     subject,
	})
	e.log.Info().
		Str("action_id", action.ActionID).
		Str("action_type", action.ActionType).
		Str("subject", subject).
		Msg("Action dispatched")
	return action, nil
}

// HandleActionStatus processes one Striker report from actions.status.
// A report delivered more than once is harmless; ApplyStatus is idempotent.
func (e *Engine) HandleActionStatus(subject string, data []byte) {
	status, err := wire.DecodeActionStatus(data)
	if err != nil {
		e.log.Warn().Err(err).Str("subject", subject).Msg("Dropping undecodable action status")
		return
	}

	if err := e.actions.ApplyStatus(status); err != nil {
		e.log.Error().Err(err).Str("action_id", status.ActionID).Msg("Failed to apply action status")
		return
	}

	e.audit.Log(status.StrikerID, "action_status", status.ActionID, map[string]interface{}{
		"action_type": status.ActionType,
		"status":      status.Status,
	})
	e.log.Info().
		Str("action_id", status.ActionID).
		Str("status", status.Status).
		Str("striker_id", status.StrikerID).
		Msg("Action status recorded")
}
