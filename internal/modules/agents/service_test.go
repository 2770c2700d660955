package agents

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yasasalwis/Naga-7/internal/crypto"
	"github.com/yasasalwis/Naga-7/internal/database"
	"github.com/yasasalwis/Naga-7/internal/domain"
)

type fakeIssuer struct{ issued int }

func (f *fakeIssuer) IssueAgentCert(agentID string) (*crypto.AgentCredentials, error) {
	f.issued++
	return &crypto.AgentCredentials{
		ClientCert: "CERT:" + agentID,
		ClientKey:  "KEY:" + agentID,
		CACert:     "CA",
	}, nil
}

type nopAuditor struct{}

func (nopAuditor) Log(actor, action, resource string, details map[string]interface{}) {}

func newTestService(t *testing.T) (*Service, *fakeIssuer) {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	issuer := &fakeIssuer{}
	svc := NewService(NewRepository(db.Conn(), zerolog.Nop()), issuer, nopAuditor{}, zerolog.Nop())
	return svc, issuer
}

const testKey = "kZP3xq9t-Vf27aGblN08cRwYuJmE5sHd"

func TestRegister_FirstAndReRegistration(t *testing.T) {
	svc, issuer := newTestService(t)

	resp, err := svc.Register(&RegisterRequest{
		AgentType:    domain.AgentTypeStriker,
		AgentSubtype: "endpoint",
		Zone:         "dmz",
		Capabilities: []string{"network_block"},
		APIKey:       testKey,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "CERT:"+resp.ID, resp.ClientCert)
	assert.Equal(t, "CA", resp.CACert)
	assert.Equal(t, 1, issuer.issued)

	// Second call with the same key: same id, active status, fresh cert
	again, err := svc.Register(&RegisterRequest{
		AgentType: domain.AgentTypeStriker,
		APIKey:    testKey,
	})
	require.NoError(t, err)
	assert.Equal(t, resp.ID, again.ID)
	assert.Equal(t, domain.AgentStatusActive, again.Status)
	assert.Equal(t, 2, issuer.issued)
}

func TestRegister_PrefixHitWithWrongKeyRejected(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Register(&RegisterRequest{AgentType: domain.AgentTypeSentinel, APIKey: testKey})
	require.NoError(t, err)

	// Same 16-char prefix, different tail
	_, err = svc.Register(&RegisterRequest{
		AgentType: domain.AgentTypeSentinel,
		APIKey:    testKey[:16] + "Zdifferenttail00",
	})
	assert.ErrorIs(t, err, ErrBadKey)
}

func TestRegister_ShortKeyRejected(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Register(&RegisterRequest{AgentType: domain.AgentTypeSentinel, APIKey: "short"})
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.Register(&RegisterRequest{AgentType: domain.AgentTypeSentinel, APIKey: testKey})
	require.NoError(t, err)

	agent, err := svc.Authenticate(testKey)
	require.NoError(t, err)
	require.NotNil(t, agent)
	assert.Equal(t, resp.ID, agent.ID)

	agent, err = svc.Authenticate(testKey[:16] + "Zdifferenttail00")
	require.NoError(t, err)
	assert.Nil(t, agent, "prefix hit with hash mismatch is rejected")
}

func TestHandleHeartbeat_UpdatesAndLazilyCreates(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.Register(&RegisterRequest{AgentType: domain.AgentTypeSentinel, APIKey: testKey})
	require.NoError(t, err)

	hb, _ := json.Marshal(domain.Heartbeat{
		AgentID:       resp.ID,
		Status:        domain.AgentStatusActive,
		ResourceUsage: map[string]interface{}{"cpu_percent": 12.5},
	})
	svc.HandleHeartbeat("heartbeat.sentinel."+resp.ID, hb)

	agent, err := svc.Repo().GetByID(resp.ID)
	require.NoError(t, err)
	assert.Equal(t, 12.5, agent.ResourceUsage["cpu_percent"])

	// Unknown agent id: lazily created from the heartbeat payload
	lazy, _ := json.Marshal(domain.Heartbeat{
		AgentID:   "ghost-agent",
		AgentType: domain.AgentTypeStriker,
		Zone:      "dmz",
	})
	svc.HandleHeartbeat("heartbeat.striker.ghost-agent", lazy)

	agent, err = svc.Repo().GetByID("ghost-agent")
	require.NoError(t, err)
	require.NotNil(t, agent)
	assert.Equal(t, domain.AgentTypeStriker, agent.AgentType)
}

func TestHandleNodeMetadata(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.Register(&RegisterRequest{AgentType: domain.AgentTypeSentinel, APIKey: testKey})
	require.NoError(t, err)

	payload, _ := json.Marshal(map[string]interface{}{
		"agent_id":      resp.ID,
		"hostname":      "edge-01",
		"os_name":       "debian",
		"cpu_cores":     8,
		"ram_total_mb":  16384,
		"agent_version": "1.0.0",
	})
	svc.HandleNodeMetadata("node.metadata."+resp.ID, payload)

	agent, err := svc.Repo().GetByID(resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "edge-01", agent.NodeMetadata["hostname"])
	assert.NotContains(t, agent.NodeMetadata, "agent_id", "agent_id is the key, not metadata")
}

func TestPresentedStatus_StaleRowsShowInactive(t *testing.T) {
	now := time.Now()

	fresh := &domain.Agent{Status: domain.AgentStatusActive, LastHeartbeat: now.Add(-10 * time.Second)}
	assert.Equal(t, domain.AgentStatusActive, PresentedStatus(fresh, now))

	stale := &domain.Agent{Status: domain.AgentStatusActive, LastHeartbeat: now.Add(-2 * time.Minute)}
	assert.Equal(t, domain.AgentStatusInactive, PresentedStatus(stale, now))
}

func TestLivenessSweep_MarksStaleUnhealthy(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.Register(&RegisterRequest{AgentType: domain.AgentTypeSentinel, APIKey: testKey})
	require.NoError(t, err)

	// Backdate the heartbeat past the threshold
	_, err = svc.Repo().db.Exec(`UPDATE agents SET last_heartbeat = ? WHERE id = ?`,
		time.Now().Add(-3*time.Minute).Unix(), resp.ID)
	require.NoError(t, err)

	sweep := NewLivenessSweep(svc.Repo(), zerolog.Nop())
	require.NoError(t, sweep.Run())

	agent, err := svc.Repo().GetByID(resp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusUnhealthy, agent.Status)
}
