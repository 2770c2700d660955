package audit

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yasasalwis/Naga-7/internal/database"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return NewRepository(db.Conn(), zerolog.Nop())
}

func TestAudit_ChainVerifies(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Append("system", "agent_registered", "agent-1", map[string]interface{}{"zone": "dmz"}))
	require.NoError(t, repo.Append("alice", "config_updated", "agent-1", map[string]interface{}{"config_version": 2}))
	require.NoError(t, repo.Append("auto", "action_dispatched", "action-1", nil))

	ok, err := repo.VerifyChain()
	require.NoError(t, err)
	assert.True(t, ok)

	entries, err := repo.List(10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Newest first; each record chains from its predecessor
	assert.Equal(t, entries[1].CurrentHash, entries[0].PreviousHash)
	assert.Equal(t, entries[2].CurrentHash, entries[1].PreviousHash)
	assert.Empty(t, entries[2].PreviousHash, "genesis record has no predecessor")
}

func TestAudit_TamperBreaksChain(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Append("system", "agent_registered", "agent-1", nil))
	require.NoError(t, repo.Append("system", "config_updated", "agent-1", nil))

	_, err := repo.db.Exec(`UPDATE audit_log SET actor = 'mallory' WHERE action = 'agent_registered'`)
	require.NoError(t, err)

	ok, err := repo.VerifyChain()
	require.NoError(t, err)
	assert.False(t, ok, "edited record must break verification")
}

func TestComputeHash_FieldSeparation(t *testing.T) {
	// Field boundaries must be unambiguous: shifting a character across a
	// boundary changes the hash.
	h1 := ComputeHash("id", "ts", "ab", "c", "", "{}", "")
	h2 := ComputeHash("id", "ts", "a", "bc", "", "{}", "")
	assert.NotEqual(t, h1, h2)
}
