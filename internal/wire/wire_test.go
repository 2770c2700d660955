package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yasasalwis/Naga-7/internal/domain"
)

func sampleEvent() *domain.Event {
	return &domain.Event{
		EventID:    "8f14e45f-ea9a-4a3f-9f5b-3b1c77a1a111",
		Timestamp:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		SentinelID: "d490a7a0-1111-4222-8333-944444444444",
		EventClass: "authentication",
		Severity:   "low",
		RawData: map[string]interface{}{
			"outcome":   "failure",
			"source_ip": "203.0.113.7",
		},
	}
}

func TestEvent_BinaryRoundtrip(t *testing.T) {
	ev := sampleEvent()

	data, err := EncodeEventBinary(ev)
	require.NoError(t, err)

	decoded, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, ev.EventID, decoded.EventID)
	assert.Equal(t, ev.EventClass, decoded.EventClass)
	assert.Equal(t, "failure", decoded.RawData["outcome"])
	assert.True(t, ev.Timestamp.Equal(decoded.Timestamp))
}

func TestEvent_JSONAccepted(t *testing.T) {
	ev := sampleEvent()

	data, err := EncodeEventJSON(ev)
	require.NoError(t, err)

	decoded, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, ev.EventID, decoded.EventID)
	assert.Equal(t, "203.0.113.7", decoded.RawData["source_ip"])
}

func TestAction_BinaryTakesPrecedence(t *testing.T) {
	action := &domain.Action{
		ActionID:   "a1",
		ActionType: "network_block",
		Parameters: map[string]interface{}{"target": "203.0.113.7", "duration": float64(3600)},
	}

	data, err := EncodeActionBinary(action)
	require.NoError(t, err)

	decoded, err := DecodeAction(data)
	require.NoError(t, err)
	assert.Equal(t, "network_block", decoded.ActionType)
	assert.Equal(t, "203.0.113.7", decoded.Parameters["target"])
}

func TestAction_CompactJSONDialect(t *testing.T) {
	// The dispatch shape uses "type" and "params"
	payload := []byte(`{"action_id":"a2","alert_id":"x","type":"isolate_host","params":{"reason":"multi_stage"},"timestamp":"2025-06-01T12:00:00Z"}`)

	decoded, err := DecodeAction(payload)
	require.NoError(t, err)
	assert.Equal(t, "a2", decoded.ActionID)
	assert.Equal(t, "isolate_host", decoded.ActionType)
	assert.Equal(t, "multi_stage", decoded.Parameters["reason"])
}

func TestAction_MissingTypeRejected(t *testing.T) {
	_, err := DecodeAction([]byte(`{"action_id":"a3"}`))
	assert.Error(t, err)
}

func TestAlert_BinaryRoundtripCarriesReasoning(t *testing.T) {
	alert := &domain.Alert{
		AlertID:     "b71c9fd2-0f6e-4b8a-bb2e-55a111111111",
		CreatedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		EventIDs:    []string{"e1", "e2"},
		ThreatScore: 75,
		Severity:    "high",
		Status:      domain.AlertStatusNew,
		Verdict:     domain.VerdictPending,
		Reasoning: domain.Reasoning{
			Rule:   "Brute Force Attack Detection",
			Source: "203.0.113.7",
			Count:  5,
		},
		AffectedAssets: []string{"203.0.113.7"},
	}

	data, err := EncodeAlertBinary(alert)
	require.NoError(t, err)

	decoded, err := DecodeAlert(data)
	require.NoError(t, err)
	assert.Equal(t, alert.AlertID, decoded.AlertID)
	assert.Equal(t, 75, decoded.ThreatScore)
	assert.Equal(t, "Brute Force Attack Detection", decoded.Reasoning.Rule)
	assert.Equal(t, []string{"203.0.113.7"}, decoded.AffectedAssets)
}

func TestActionStatus_Roundtrip(t *testing.T) {
	status := &domain.ActionStatus{
		ActionID:   "a9",
		StrikerID:  "s1",
		ActionType: "network_block",
		Status:     domain.ActionStatusSucceeded,
		ResultData: map[string]interface{}{"success": true},
		Evidence:   map[string]interface{}{"pre": map[string]interface{}{"phase": "pre"}},
	}

	data, err := EncodeActionStatusBinary(status)
	require.NoError(t, err)

	decoded, err := DecodeActionStatus(data)
	require.NoError(t, err)
	assert.Equal(t, "a9", decoded.ActionID)
	assert.Equal(t, domain.ActionStatusSucceeded, decoded.Status)
	assert.Contains(t, decoded.Evidence, "pre")
}
