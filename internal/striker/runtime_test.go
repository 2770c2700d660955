package striker

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yasasalwis/Naga-7/internal/agentruntime"
	"github.com/yasasalwis/Naga-7/internal/bus"
	"github.com/yasasalwis/Naga-7/internal/domain"
	"github.com/yasasalwis/Naga-7/internal/wire"
)

type fakeBus struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (b *fakeBus) Publish(subject string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subjects = append(b.subjects, subject)
	b.payloads = append(b.payloads, data)
	return nil
}

func (b *fakeBus) Subscribe(subject string, handler bus.Handler) error             { return nil }
func (b *fakeBus) QueueSubscribe(subject, queue string, handler bus.Handler) error { return nil }

func (b *fakeBus) statuses(t *testing.T) []*domain.ActionStatus {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*domain.ActionStatus
	for i, subject := range b.subjects {
		if subject != "actions.status" {
			continue
		}
		status, err := wire.DecodeActionStatus(b.payloads[i])
		require.NoError(t, err)
		out = append(out, status)
	}
	return out
}

func liveConfig(allowed []string, defaults map[string]map[string]interface{}) *agentruntime.LiveConfig {
	cfg := &agentruntime.LiveConfig{}
	cfg.AllowedActions = allowed
	cfg.ActionDefaults = defaults
	return cfg
}

func newTestRuntime(cfg *agentruntime.LiveConfig) (*Runtime, *fakeBus) {
	fb := &fakeBus{}
	r := NewRuntime("striker-1", fb, cfg, zerolog.Nop())
	return r, fb
}

func actionFrame(t *testing.T, actionType string, params map[string]interface{}) []byte {
	t.Helper()
	payload, err := wire.EncodeActionBinary(&domain.Action{
		ActionID:   "act-1",
		ActionType: actionType,
		Parameters: params,
	})
	require.NoError(t, err)
	return payload
}

func TestHandleAction_AllowlistRejectsWithoutExecuting(t *testing.T) {
	// executed flips if the handler runs; the allowlist must stop it first
	executed := false
	r, fb := newTestRuntime(liveConfig([]string{"network_block"}, nil))
	r.registry["kill_process"] = &Descriptor{
		Type: "kill_process",
		Execute: func(params map[string]interface{}, log zerolog.Logger) map[string]interface{} {
			executed = true
			return map[string]interface{}{"success": true}
		},
	}

	r.HandleAction("actions.striker-1", actionFrame(t, "kill_process", map[string]interface{}{"pid": 1234}))

	assert.False(t, executed, "handler must never run for a disallowed type")
	statuses := fb.statuses(t)
	require.Len(t, statuses, 1)
	assert.Equal(t, domain.ActionStatusRejected, statuses[0].Status)
	assert.Equal(t, "striker-1", statuses[0].StrikerID)
}

func TestHandleAction_NilAllowlistPermitsAll(t *testing.T) {
	r, fb := newTestRuntime(liveConfig(nil, nil))
	r.registry["test_action"] = &Descriptor{
		Type: "test_action",
		Execute: func(params map[string]interface{}, log zerolog.Logger) map[string]interface{} {
			return map[string]interface{}{"success": true}
		},
	}
	// Evidence capture hits gopsutil; keep it but don't assert its contents
	r.HandleAction("actions.striker-1", actionFrame(t, "test_action", nil))

	statuses := fb.statuses(t)
	require.Len(t, statuses, 1)
	assert.Equal(t, domain.ActionStatusSucceeded, statuses[0].Status)
	assert.Contains(t, statuses[0].Evidence, "pre")
	assert.Contains(t, statuses[0].Evidence, "post")
}

func TestHandleAction_UnknownTypeDropped(t *testing.T) {
	r, fb := newTestRuntime(liveConfig(nil, nil))
	r.HandleAction("actions.striker-1", actionFrame(t, "detonate", nil))
	assert.Empty(t, fb.statuses(t), "unknown types are logged and dropped, not reported")
}

func TestHandleAction_DefaultsMergeIncomingWins(t *testing.T) {
	var seen map[string]interface{}
	r, _ := newTestRuntime(liveConfig(nil, map[string]map[string]interface{}{
		"test_action": {"duration": float64(3600), "mode": "strict"},
	}))
	r.registry["test_action"] = &Descriptor{
		Type: "test_action",
		Execute: func(params map[string]interface{}, log zerolog.Logger) map[string]interface{} {
			seen = params
			return map[string]interface{}{"success": true}
		},
	}

	r.HandleAction("actions.striker-1", actionFrame(t, "test_action", map[string]interface{}{
		"duration": float64(60),
	}))

	require.NotNil(t, seen)
	assert.Equal(t, float64(60), seen["duration"], "incoming params win")
	assert.Equal(t, "strict", seen["mode"], "defaults fill the gaps")
}

func TestHandleAction_SuccessfulReversibleActionRegistersRollback(t *testing.T) {
	r, _ := newTestRuntime(liveConfig(nil, nil))
	r.registry["test_block"] = &Descriptor{
		Type:         "test_block",
		RollbackType: "test_unblock",
		AutoRollback: time.Hour,
		BuildRollback: func(params map[string]interface{}) map[string]interface{} {
			return map[string]interface{}{"target": params["target"]}
		},
		Execute: func(params map[string]interface{}, log zerolog.Logger) map[string]interface{} {
			return map[string]interface{}{"success": true}
		},
	}

	r.HandleAction("actions.striker-1", actionFrame(t, "test_block", map[string]interface{}{
		"target": "203.0.113.7",
	}))

	entry := r.ledger.Get("act-1")
	require.NotNil(t, entry)
	assert.Equal(t, "test_unblock", entry.RollbackActionType)
	assert.Equal(t, "203.0.113.7", entry.RollbackParams["target"])
	assert.Equal(t, "act-1", entry.RollbackParams["original_action_id"])
	require.NotNil(t, entry.AutoRollbackAt)
}

func TestPublishRollback_EmitsOnOwnSubject(t *testing.T) {
	r, fb := newTestRuntime(liveConfig(nil, nil))

	r.publishRollback(&RollbackEntry{
		ActionID:           "act-9",
		ActionType:         "network_block",
		RollbackActionType: "network_unblock",
		RollbackParams:     map[string]interface{}{"target": "203.0.113.7"},
	})

	require.Len(t, fb.subjects, 1)
	assert.Equal(t, "actions.striker-1", fb.subjects[0])

	action, err := wire.DecodeAction(fb.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, "network_unblock", action.ActionType)
	assert.Equal(t, "act-9", action.Parameters["original_action_id"])
	assert.Equal(t, true, action.Parameters["is_rollback"])
}
