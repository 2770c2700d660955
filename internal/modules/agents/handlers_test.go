package agents

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yasasalwis/Naga-7/internal/domain"
)

func authedRequest(t *testing.T, agent *domain.Agent, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/agents/heartbeat", strings.NewReader(body))
	ctx := context.WithValue(req.Context(), agentContextKey, agent)
	return req.WithContext(ctx)
}

func TestHandleHeartbeatHTTP_IdentityMismatchRejected(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHandler(svc, nil, zerolog.Nop())

	resp, err := svc.Register(&RegisterRequest{AgentType: domain.AgentTypeSentinel, APIKey: testKey})
	require.NoError(t, err)
	agent, err := svc.Repo().GetByID(resp.ID)
	require.NoError(t, err)

	// Payload naming another agent: the authenticated identity wins
	rec := httptest.NewRecorder()
	handler.HandleHeartbeatHTTP(rec, authedRequest(t, agent, `{"agent_id":"someone-else","status":"active"}`))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Matching payload succeeds
	rec = httptest.NewRecorder()
	handler.HandleHeartbeatHTTP(rec, authedRequest(t, agent, `{"agent_id":"`+agent.ID+`","status":"active"}`))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Omitting the id defers to the authenticated identity
	rec = httptest.NewRecorder()
	handler.HandleHeartbeatHTTP(rec, authedRequest(t, agent, `{"status":"active"}`))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAPIKey_MissingOrInvalid(t *testing.T) {
	svc, _ := newTestService(t)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	protected := svc.RequireAPIKey(next)

	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(APIKeyHeader, "nonexistent-key-0123456789abcdef")
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// A registered key passes through
	_, err := svc.Register(&RegisterRequest{AgentType: domain.AgentTypeSentinel, APIKey: testKey})
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(APIKeyHeader, testKey)
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
