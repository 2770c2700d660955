package decision

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yasasalwis/Naga-7/internal/database"
	"github.com/yasasalwis/Naga-7/internal/domain"
	"github.com/yasasalwis/Naga-7/internal/wire"
)

type fakeAlertStore struct {
	mu       sync.Mutex
	verdicts map[string]string
}

func (s *fakeAlertStore) UpdateVerdict(alertID, verdict string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.verdicts == nil {
		s.verdicts = map[string]string{}
	}
	s.verdicts[alertID] = verdict
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

type nopAuditor struct{}

func (nopAuditor) Log(actor, action, resource string, details map[string]interface{}) {}

func newTestEngine(t *testing.T) (*Engine, *fakeAlertStore, *fakePublisher, *ActionRepository) {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	alerts := &fakeAlertStore{}
	pub := &fakePublisher{}
	actions := NewActionRepository(db.Conn(), zerolog.Nop())
	engine := NewEngine(alerts, actions, pub, nopAuditor{}, zerolog.Nop())
	return engine, alerts, pub, actions
}

func TestVerdict_Policy(t *testing.T) {
	cases := []struct {
		name    string
		alert   domain.Alert
		verdict string
		action  string
	}{
		{
			name: "critical multi-stage with source auto-isolates",
			alert: domain.Alert{
				Severity:  "critical",
				Reasoning: domain.Reasoning{IsMultiStage: true, Source: "10.0.0.5", Rule: "Lateral Movement Detection"},
			},
			verdict: domain.VerdictAutoRespond,
			action:  "isolate_host",
		},
		{
			name: "critical single-stage escalates",
			alert: domain.Alert{
				Severity:  "critical",
				Reasoning: domain.Reasoning{Source: "10.0.0.5"},
			},
			verdict: domain.VerdictEscalate,
		},
		{
			name: "high brute force above 70 auto-blocks",
			alert: domain.Alert{
				Severity:    "high",
				ThreatScore: 75,
				Reasoning:   domain.Reasoning{Rule: "Brute Force Attack Detection", Source: "203.0.113.7"},
			},
			verdict: domain.VerdictAutoRespond,
			action:  "network_block",
		},
		{
			name: "high score at 70 dismisses",
			alert: domain.Alert{
				Severity:    "high",
				ThreatScore: 70,
				Reasoning:   domain.Reasoning{Rule: "Brute Force Attack Detection", Source: "203.0.113.7"},
			},
			verdict: domain.VerdictDismiss,
		},
		{
			name:    "medium escalates",
			alert:   domain.Alert{Severity: "medium"},
			verdict: domain.VerdictEscalate,
		},
		{
			name:    "low dismisses",
			alert:   domain.Alert{Severity: "low"},
			verdict: domain.VerdictDismiss,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verdict, action := Verdict(&tc.alert)
			assert.Equal(t, tc.verdict, verdict)
			if tc.action == "" {
				assert.Nil(t, action)
			} else {
				require.NotNil(t, action)
				assert.Equal(t, tc.action, action.ActionType)
			}
		})
	}
}

func TestVerdict_NetworkBlockParameters(t *testing.T) {
	_, action := Verdict(&domain.Alert{
		Severity:    "high",
		ThreatScore: 75,
		Reasoning:   domain.Reasoning{Rule: "Brute Force Attack Detection", Source: "203.0.113.7"},
	})
	require.NotNil(t, action)
	assert.Equal(t, "203.0.113.7", action.Parameters["target"])
	assert.Equal(t, 3600, action.Parameters["duration"])
}

func TestHandleAlert_AutoRespondDispatchesBroadcast(t *testing.T) {
	engine, alerts, pub, actions := newTestEngine(t)

	alert := &domain.Alert{
		AlertID:     "alert-1",
		Severity:    "high",
		ThreatScore: 75,
		Reasoning:   domain.Reasoning{Rule: "Brute Force Attack Detection", Source: "203.0.113.7"},
	}
	payload, err := wire.EncodeAlertBinary(alert)
	require.NoError(t, err)

	engine.HandleAlert("alerts", payload)

	assert.Equal(t, domain.VerdictAutoRespond, alerts.verdicts["alert-1"])

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "actions.broadcast", pub.subjects[0])

	dispatched, err := wire.DecodeAction(pub.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, "network_block", dispatched.ActionType)
	assert.Equal(t, "203.0.113.7", dispatched.Parameters["target"])

	// The action row exists as queued
	row, err := actions.Get(dispatched.ActionID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, domain.ActionStatusQueued, row.Status)
	assert.Equal(t, "auto", row.InitiatedBy)
}

func TestHandleActionStatus_IdempotentUpdates(t *testing.T) {
	engine, _, _, actions := newTestEngine(t)

	status := &domain.ActionStatus{
		ActionID:   "act-42",
		StrikerID:  "striker-1",
		ActionType: "network_block",
		Status:     domain.ActionStatusSucceeded,
		ResultData: map[string]interface{}{"success": true},
		Evidence:   map[string]interface{}{"pre": map[string]interface{}{"phase": "pre"}},
	}
	payload, err := wire.EncodeActionStatusBinary(status)
	require.NoError(t, err)

	// No prior row: the report creates one
	engine.HandleActionStatus("actions.status", payload)
	row, err := actions.Get("act-42")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, domain.ActionStatusSucceeded, row.Status)
	assert.Equal(t, "striker-1", row.StrikerID)

	// At-least-once delivery: the same report applied twice yields the
	// same final row.
	engine.HandleActionStatus("actions.status", payload)
	again, err := actions.Get("act-42")
	require.NoError(t, err)
	assert.Equal(t, row.Status, again.Status)
	assert.Equal(t, row.Evidence, again.Evidence)

	result, ok := again.Rollback["execution_result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, result["success"])
}

func TestApplyStatus_MergesEvidenceIntoExistingRow(t *testing.T) {
	engine, _, _, actions := newTestEngine(t)

	dispatched, err := engine.Dispatch(&domain.Action{
		ActionType: "isolate_host",
		Parameters: map[string]interface{}{"reason": "test"},
	}, "alice", "")
	require.NoError(t, err)

	err = actions.ApplyStatus(&domain.ActionStatus{
		ActionID:   dispatched.ActionID,
		StrikerID:  "striker-9",
		ActionType: "isolate_host",
		Status:     domain.ActionStatusSucceeded,
		Evidence: map[string]interface{}{
			"pre":  map[string]interface{}{"phase": "pre"},
			"post": map[string]interface{}{"phase": "post"},
		},
	})
	require.NoError(t, err)

	row, err := actions.Get(dispatched.ActionID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionStatusSucceeded, row.Status)
	assert.Equal(t, "alice", row.InitiatedBy, "initiator survives the status merge")
	assert.Contains(t, row.Evidence, "pre")
	assert.Contains(t, row.Evidence, "post")
}
