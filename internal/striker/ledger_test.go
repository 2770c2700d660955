package striker

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_AutoRollbackFiresExactlyOnce(t *testing.T) {
	var (
		mu    sync.Mutex
		fired []*RollbackEntry
	)
	ledger := NewLedger(func(entry *RollbackEntry) {
		mu.Lock()
		defer mu.Unlock()
		fired = append(fired, entry)
	}, zerolog.Nop())

	now := time.Now()
	ledger.SetClock(func() time.Time { return now })

	ledger.Register("act-1", "network_block", "network_unblock",
		map[string]interface{}{"target": "203.0.113.7"}, 3600*time.Second)

	// Before the deadline nothing fires
	ledger.Sweep()
	assert.Empty(t, fired)

	// Past the deadline the rollback fires once
	now = now.Add(3601 * time.Second)
	ledger.SetClock(func() time.Time { return now })
	ledger.Sweep()
	require.Len(t, fired, 1)
	assert.Equal(t, "network_unblock", fired[0].RollbackActionType)
	assert.Equal(t, "203.0.113.7", fired[0].RollbackParams["target"])

	// Subsequent sweeps never re-fire
	ledger.Sweep()
	ledger.Sweep()
	assert.Len(t, fired, 1)
}

func TestLedger_NoAutoRollbackWithoutDeadline(t *testing.T) {
	var fired int
	ledger := NewLedger(func(*RollbackEntry) { fired++ }, zerolog.Nop())

	now := time.Now()
	ledger.SetClock(func() time.Time { return now })

	// isolate_host registers with no deadline: operator-driven only
	ledger.Register("act-2", "isolate_host", "unisolate_host", map[string]interface{}{}, 0)

	now = now.Add(24 * time.Hour)
	ledger.SetClock(func() time.Time { return now })
	ledger.Sweep()
	assert.Zero(t, fired)

	entry := ledger.Get("act-2")
	require.NotNil(t, entry)
	assert.Nil(t, entry.AutoRollbackAt)
	assert.False(t, entry.RolledBack)
}

func TestLedger_Pending(t *testing.T) {
	ledger := NewLedger(func(*RollbackEntry) {}, zerolog.Nop())

	ledger.Register("a", "network_block", "network_unblock", map[string]interface{}{}, time.Hour)
	ledger.Register("b", "isolate_host", "unisolate_host", map[string]interface{}{}, 0)
	ledger.MarkRolledBack("a")

	pending := ledger.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].ActionID)
}

func TestRegistry_RollbackPolicy(t *testing.T) {
	registry := Registry()

	block := registry["network_block"]
	require.NotNil(t, block)
	assert.True(t, block.Reversible())
	assert.Equal(t, "network_unblock", block.RollbackType)
	assert.Equal(t, 3600*time.Second, block.AutoRollback)

	isolate := registry["isolate_host"]
	require.NotNil(t, isolate)
	assert.True(t, isolate.Reversible())
	assert.Equal(t, "unisolate_host", isolate.RollbackType)
	assert.Zero(t, isolate.AutoRollback, "isolation waits for an operator")

	kill := registry["kill_process"]
	require.NotNil(t, kill)
	assert.False(t, kill.Reversible())
}
