// Package wire implements the dual bus payload encoding: a compact
// MessagePack binary form and a UTF-8 JSON form. Consumers accept both;
// binary takes precedence when it decodes to a plausible message.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/yasasalwis/Naga-7/internal/domain"
)

// binaryEvent is the MessagePack shape of an Event. Open maps travel as JSON
// strings in the binary form to keep the frame flat.
type binaryEvent struct {
	EventID         string   `msgpack:"event_id"`
	Timestamp       string   `msgpack:"timestamp"`
	SentinelID      string   `msgpack:"sentinel_id"`
	EventClass      string   `msgpack:"event_class"`
	Severity        string   `msgpack:"severity"`
	RawData         string   `msgpack:"raw_data"`
	Enrichments     string   `msgpack:"enrichments"`
	MitreTechniques []string `msgpack:"mitre_techniques"`
}

type binaryAlert struct {
	AlertID        string   `msgpack:"alert_id"`
	CreatedAt      string   `msgpack:"created_at"`
	EventIDs       []string `msgpack:"event_ids"`
	ThreatScore    int      `msgpack:"threat_score"`
	Severity       string   `msgpack:"severity"`
	Status         string   `msgpack:"status"`
	Verdict        string   `msgpack:"verdict"`
	Reasoning      string   `msgpack:"reasoning"`
	AffectedAssets []string `msgpack:"affected_assets"`
}

type binaryAction struct {
	ActionID   string `msgpack:"action_id"`
	IncidentID string `msgpack:"incident_id"`
	StrikerID  string `msgpack:"striker_id"`
	ActionType string `msgpack:"action_type"`
	Parameters string `msgpack:"parameters"`
	Status     string `msgpack:"status"`
	ResultData string `msgpack:"result_data"`
}

type binaryActionStatus struct {
	ActionID   string `msgpack:"action_id"`
	StrikerID  string `msgpack:"striker_id"`
	ActionType string `msgpack:"action_type"`
	Status     string `msgpack:"status"`
	ResultData string `msgpack:"result_data"`
	Evidence   string `msgpack:"evidence"`
}

func marshalMap(m map[string]interface{}) string {
	if m == nil {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func unmarshalMap(s string) map[string]interface{} {
	if s == "" {
		return map[string]interface{}{}
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return map[string]interface{}{"raw": s}
	}
	return m
}

// ---------------------------------------------------------------------------
// Event
// ---------------------------------------------------------------------------

// EncodeEventBinary serializes an event in the MessagePack wire form
func EncodeEventBinary(ev *domain.Event) ([]byte, error) {
	return msgpack.Marshal(&binaryEvent{
		EventID:         ev.EventID,
		Timestamp:       ev.Timestamp.UTC().Format(time.RFC3339Nano),
		SentinelID:      ev.SentinelID,
		EventClass:      ev.EventClass,
		Severity:        ev.Severity,
		RawData:         marshalMap(ev.RawData),
		Enrichments:     marshalMap(ev.Enrichments),
		MitreTechniques: ev.MitreTechniques,
	})
}

// EncodeEventJSON serializes an event in the JSON wire form
func EncodeEventJSON(ev *domain.Event) ([]byte, error) {
	return json.Marshal(ev)
}

// DecodeEvent parses either wire form of an Event. Binary is tried first; a
// MessagePack decode that yields no event_class is treated as a JSON frame
// (msgpack can silently "succeed" on JSON bytes).
func DecodeEvent(data []byte) (*domain.Event, error) {
	var bin binaryEvent
	if err := msgpack.Unmarshal(data, &bin); err == nil && bin.EventClass != "" {
		ts, err := time.Parse(time.RFC3339Nano, bin.Timestamp)
		if err != nil {
			ts = time.Now().UTC()
		}
		return &domain.Event{
			EventID:         bin.EventID,
			Timestamp:       ts,
			SentinelID:      bin.SentinelID,
			EventClass:      bin.EventClass,
			Severity:        bin.Severity,
			RawData:         unmarshalMap(bin.RawData),
			Enrichments:     unmarshalMap(bin.Enrichments),
			MitreTechniques: bin.MitreTechniques,
		}, nil
	}

	var ev domain.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if ev.RawData == nil {
		ev.RawData = map[string]interface{}{}
	}
	return &ev, nil
}

// ---------------------------------------------------------------------------
// Alert
// ---------------------------------------------------------------------------

// EncodeAlertBinary serializes an alert in the MessagePack wire form.
// Reasoning is JSON-stringified inside the binary frame.
func EncodeAlertBinary(a *domain.Alert) ([]byte, error) {
	reasoning, err := json.Marshal(a.Reasoning)
	if err != nil {
		return nil, fmt.Errorf("encode alert reasoning: %w", err)
	}
	return msgpack.Marshal(&binaryAlert{
		AlertID:        a.AlertID,
		CreatedAt:      a.CreatedAt.UTC().Format(time.RFC3339Nano),
		EventIDs:       a.EventIDs,
		ThreatScore:    a.ThreatScore,
		Severity:       a.Severity,
		Status:         a.Status,
		Verdict:        a.Verdict,
		Reasoning:      string(reasoning),
		AffectedAssets: a.AffectedAssets,
	})
}

// EncodeAlertJSON serializes an alert in the JSON wire form
func EncodeAlertJSON(a *domain.Alert) ([]byte, error) {
	return json.Marshal(a)
}

// DecodeAlert parses either wire form of an Alert
func DecodeAlert(data []byte) (*domain.Alert, error) {
	var bin binaryAlert
	if err := msgpack.Unmarshal(data, &bin); err == nil && bin.AlertID != "" {
		ts, err := time.Parse(time.RFC3339Nano, bin.CreatedAt)
		if err != nil {
			ts = time.Now().UTC()
		}
		var reasoning domain.Reasoning
		_ = json.Unmarshal([]byte(bin.Reasoning), &reasoning)
		return &domain.Alert{
			AlertID:        bin.AlertID,
			CreatedAt:      ts,
			EventIDs:       bin.EventIDs,
			ThreatScore:    bin.ThreatScore,
			Severity:       bin.Severity,
			Status:         bin.Status,
			Verdict:        bin.Verdict,
			Reasoning:      reasoning,
			AffectedAssets: bin.AffectedAssets,
		}, nil
	}

	var a domain.Alert
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode alert: %w", err)
	}
	return &a, nil
}

// ---------------------------------------------------------------------------
// Action
// ---------------------------------------------------------------------------

// EncodeActionBinary serializes an action in the MessagePack wire form.
// Parameters travel as a JSON string.
func EncodeActionBinary(a *domain.Action) ([]byte, error) {
	return msgpack.Marshal(&binaryAction{
		ActionID:   a.ActionID,
		IncidentID: a.IncidentID,
		StrikerID:  a.StrikerID,
		ActionType: a.ActionType,
		Parameters: marshalMap(a.Parameters),
		Status:     a.Status,
	})
}

// EncodeActionJSON serializes an action in the JSON wire form
func EncodeActionJSON(a *domain.Action) ([]byte, error) {
	return json.Marshal(a)
}

// DecodeAction parses either wire form of an Action. Binary takes precedence
// when it decodes to a non-empty action_type.
func DecodeAction(data []byte) (*domain.Action, error) {
	var bin binaryAction
	if err := msgpack.Unmarshal(data, &bin); err == nil && bin.ActionType != "" {
		return &domain.Action{
			ActionID:   bin.ActionID,
			IncidentID: bin.IncidentID,
			StrikerID:  bin.StrikerID,
			ActionType: bin.ActionType,
			Parameters: unmarshalMap(bin.Parameters),
			Status:     bin.Status,
		}, nil
	}

	// JSON frames come in two dialects: the canonical Action shape and the
	// compact dispatch shape {action_id, alert_id, type, params, timestamp}.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}

	a := &domain.Action{Parameters: map[string]interface{}{}}
	str := func(key string) string {
		var s string
		if v, ok := raw[key]; ok {
			_ = json.Unmarshal(v, &s)
		}
		return s
	}
	a.ActionID = str("action_id")
	a.IncidentID = str("incident_id")
	a.StrikerID = str("striker_id")
	a.Status = str("status")
	a.ActionType = str("action_type")
	if a.ActionType == "" {
		a.ActionType = str("type")
	}

	for _, key := range []string{"parameters", "params"} {
		v, ok := raw[key]
		if !ok {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal(v, &m); err == nil {
			a.Parameters = m
			break
		}
		// parameters may itself be a JSON string
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			a.Parameters = unmarshalMap(s)
			break
		}
	}

	if a.ActionType == "" {
		return nil, fmt.Errorf("decode action: missing action_type")
	}
	return a, nil
}

// ---------------------------------------------------------------------------
// Action status
// ---------------------------------------------------------------------------

// EncodeActionStatusBinary serializes a status report in the MessagePack form
func EncodeActionStatusBinary(s *domain.ActionStatus) ([]byte, error) {
	return msgpack.Marshal(&binaryActionStatus{
		ActionID:   s.ActionID,
		StrikerID:  s.StrikerID,
		ActionType: s.ActionType,
		Status:     s.Status,
		ResultData: marshalMap(s.ResultData),
		Evidence:   marshalMap(s.Evidence),
	})
}

// EncodeActionStatusJSON serializes a status report in the JSON form
func EncodeActionStatusJSON(s *domain.ActionStatus) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeActionStatus parses either wire form of a status report
func DecodeActionStatus(data []byte) (*domain.ActionStatus, error) {
	var bin binaryActionStatus
	if err := msgpack.Unmarshal(data, &bin); err == nil && bin.ActionID != "" {
		return &domain.ActionStatus{
			ActionID:   bin.ActionID,
			StrikerID:  bin.StrikerID,
			ActionType: bin.ActionType,
			Status:     bin.Status,
			ResultData: unmarshalMap(bin.ResultData),
			Evidence:   unmarshalMap(bin.Evidence),
		}, nil
	}

	var s domain.ActionStatus
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode action status: %w", err)
	}
	if s.ActionID == "" {
		return nil, fmt.Errorf("decode action status: missing action_id")
	}
	return &s, nil
}
