package enrichment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yasasalwis/Naga-7/internal/cache"
	"github.com/yasasalwis/Naga-7/internal/domain"
	"github.com/yasasalwis/Naga-7/internal/wire"
)

type fakeAlertStore struct {
	mu      sync.Mutex
	updates []string
}

func (s *fakeAlertStore) UpdateLLMFields(alertID, narrative, mitreTactic, mitreTechnique, remediation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, alertID)
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

func bundlePayload(t *testing.T, alertID string) []byte {
	t.Helper()
	payload, err := json.Marshal(domain.AlertBundle{
		AlertID:     alertID,
		Severity:    "high",
		ThreatScore: 75,
		EventIDs:    []string{"e1"},
		Reasoning: domain.Reasoning{
			Rule:         "Brute Force Attack Detection",
			Source:       "203.0.113.7",
			Count:        5,
			MitreTactics: []string{"TA0001"},
		},
		AffectedAssets: []string{"203.0.113.7"},
	})
	require.NoError(t, err)
	return payload
}

func TestService_FallbackWhenEndpointUnreachable(t *testing.T) {
	store := &fakeAlertStore{}
	pub := &fakePublisher{}
	// Point at a closed port
	ollama := NewOllamaClient("http://127.0.0.1:1", "llama3", zerolog.Nop())
	svc := NewService(ollama, cache.NewMemory(), store, pub, zerolog.Nop())

	svc.HandleAnalyzeRequest("llm.analyze", bundlePayload(t, "alert-1"))

	require.Len(t, store.updates, 1)
	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "alerts", pub.subjects[0])

	alert, err := wire.DecodeAlert(pub.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, "alert-1", alert.AlertID)
	assert.Contains(t, alert.Reasoning.LLMNarrative, "Brute Force Attack Detection")
	assert.Contains(t, alert.Reasoning.LLMNarrative, "203.0.113.7")
	assert.Contains(t, alert.Reasoning.LLMRemediation, "Isolate the affected host")
}

func TestService_UsesInferenceResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		inner, _ := json.Marshal(map[string]string{
			"narrative":       "Repeated failed logins from a single source indicate a brute-force attempt.",
			"mitre_tactic":    "Credential Access",
			"mitre_technique": "T1110 - Brute Force",
			"remediation":     "Block the source address at the perimeter.",
		})
		_ = json.NewEncoder(w).Encode(map[string]string{"response": string(inner)})
	}))
	defer srv.Close()

	store := &fakeAlertStore{}
	pub := &fakePublisher{}
	svc := NewService(NewOllamaClient(srv.URL, "llama3", zerolog.Nop()), cache.NewMemory(), store, pub, zerolog.Nop())

	svc.HandleAnalyzeRequest("llm.analyze", bundlePayload(t, "alert-2"))

	require.Len(t, pub.payloads, 1)
	alert, err := wire.DecodeAlert(pub.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, "Credential Access", alert.Reasoning.LLMMitreTactic)
	assert.Equal(t, "T1110 - Brute Force", alert.Reasoning.LLMMitreTechnique)
}

func TestService_MemoizesNarrativePerAlert(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		inner, _ := json.Marshal(map[string]string{"narrative": "n", "mitre_tactic": "t", "mitre_technique": "x", "remediation": "r"})
		_ = json.NewEncoder(w).Encode(map[string]string{"response": string(inner)})
	}))
	defer srv.Close()

	store := &fakeAlertStore{}
	pub := &fakePublisher{}
	svc := NewService(NewOllamaClient(srv.URL, "llama3", zerolog.Nop()), cache.NewMemory(), store, pub, zerolog.Nop())

	// At-least-once delivery of the same bundle
	svc.HandleAnalyzeRequest("llm.analyze", bundlePayload(t, "alert-3"))
	svc.HandleAnalyzeRequest("llm.analyze", bundlePayload(t, "alert-3"))

	assert.Equal(t, 1, calls, "inference runs at most once per alert within the cache window")
	assert.Len(t, store.updates, 2, "the idempotent row update repeats harmlessly")
	assert.Len(t, pub.payloads, 2)
}

func TestService_MalformedBundleDropped(t *testing.T) {
	store := &fakeAlertStore{}
	pub := &fakePublisher{}
	svc := NewService(NewOllamaClient("http://127.0.0.1:1", "llama3", zerolog.Nop()), cache.NewMemory(), store, pub, zerolog.Nop())

	svc.HandleAnalyzeRequest("llm.analyze", []byte("not json"))
	svc.HandleAnalyzeRequest("llm.analyze", []byte(`{"severity":"high"}`))

	assert.Empty(t, store.updates)
	assert.Empty(t, pub.subjects)
}

func TestService_HealthNeverPanics(t *testing.T) {
	svc := NewService(NewOllamaClient("http://127.0.0.1:1", "llama3", zerolog.Nop()), cache.NewMemory(), &fakeAlertStore{}, &fakePublisher{}, zerolog.Nop())

	health := svc.Health(context.Background())
	assert.Equal(t, "degraded", health["status"])
}
