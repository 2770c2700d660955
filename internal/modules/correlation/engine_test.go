package correlation

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yasasalwis/Naga-7/internal/cache"
	"github.com/yasasalwis/Naga-7/internal/domain"
	"github.com/yasasalwis/Naga-7/internal/wire"
)

type fakeAlertStore struct {
	mu     sync.Mutex
	alerts []*domain.Alert
}

func (s *fakeAlertStore) Insert(alert *domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *fakeAlertStore) all() []*domain.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Alert(nil), s.alerts...)
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

func (p *fakePublisher) published(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

func newTestEngine(t *testing.T) (*Engine, *fakeAlertStore, *fakePublisher) {
	t.Helper()
	store := &fakeAlertStore{}
	pub := &fakePublisher{}
	engine := NewEngine(DefaultRules(), cache.NewMemory(), store, pub, zerolog.Nop())
	return engine, store, pub
}

func feed(t *testing.T, engine *Engine, eventClass, severity string, rawData map[string]interface{}) {
	t.Helper()
	ev := &domain.Event{
		EventID:    uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		SentinelID: uuid.NewString(),
		EventClass: eventClass,
		Severity:   severity,
		RawData:    rawData,
	}
	payload, err := wire.EncodeEventBinary(ev)
	require.NoError(t, err)
	engine.HandleInternalEvent("internal.events", payload)
}

func TestEngine_BruteForceThreshold(t *testing.T) {
	engine, store, pub := newTestEngine(t)

	for i := 0; i < 4; i++ {
		feed(t, engine, "authentication", "low", map[string]interface{}{
			"outcome":   "failure",
			"source_ip": "203.0.113.7",
		})
	}
	assert.Empty(t, store.all(), "below threshold mints nothing")

	feed(t, engine, "authentication", "low", map[string]interface{}{
		"outcome":   "failure",
		"source_ip": "203.0.113.7",
	})

	alerts := store.all()
	require.Len(t, alerts, 1)
	alert := alerts[0]
	assert.Equal(t, "Brute Force Attack Detection", alert.Reasoning.Rule)
	assert.Equal(t, "high", alert.Severity)
	assert.Equal(t, 75, alert.ThreatScore)
	assert.Equal(t, []string{"203.0.113.7"}, alert.AffectedAssets)
	assert.Equal(t, domain.AlertStatusNew, alert.Status)
	assert.Equal(t, domain.VerdictPending, alert.Verdict)
	assert.False(t, alert.Reasoning.IsMultiStage)

	assert.Equal(t, 1, pub.published("llm.analyze"))
}

func TestEngine_CooldownSuppressesLLMDispatchButPersists(t *testing.T) {
	engine, store, pub := newTestEngine(t)

	trigger := func() {
		for i := 0; i < 5; i++ {
			feed(t, engine, "authentication", "low", map[string]interface{}{
				"outcome":   "failure",
				"source_ip": "203.0.113.7",
			})
		}
	}

	trigger()
	trigger() // second firing within the cooldown window

	assert.Len(t, store.all(), 2, "recurrence is still persisted")
	assert.Equal(t, 1, pub.published("llm.analyze"), "LLM dispatch capped at one per window")
}

func TestEngine_HoneytokenScoresMaximal(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	feed(t, engine, "honeytoken_access", "critical", map[string]interface{}{
		"filename":  "id_rsa_backup",
		"source_ip": "10.0.0.9",
	})

	alerts := store.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, 100, alerts[0].ThreatScore)
	assert.Equal(t, "critical", alerts[0].Severity)
}

func TestEngine_IOCMatchRuleFires(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	feed(t, engine, "network", "critical", map[string]interface{}{
		"source_ip":   "198.51.100.4",
		"ioc_matched": true,
	})

	alerts := store.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, "Threat Intelligence IOC Match", alerts[0].Reasoning.Rule)
}

func TestEngine_LateralMovementMultiStage(t *testing.T) {
	engine, store, pub := newTestEngine(t)

	feed(t, engine, "authentication", "low", map[string]interface{}{
		"outcome":   "success",
		"source_ip": "10.0.0.5",
	})
	assert.Empty(t, store.all())

	feed(t, engine, "process", "medium", map[string]interface{}{
		"process_name": "PsExec64.exe",
		"source_ip":    "10.0.0.5",
	})

	alerts := store.all()
	require.Len(t, alerts, 1)
	alert := alerts[0]
	assert.Equal(t, "Lateral Movement Detection", alert.Reasoning.Rule)
	assert.True(t, alert.Reasoning.IsMultiStage)
	assert.Equal(t, 100, alert.ThreatScore, "critical 90 + multi-stage 10")
	assert.Len(t, alert.EventIDs, 2)

	// Buffer cleared: repeating only the second stage must not re-fire
	feed(t, engine, "process", "medium", map[string]interface{}{
		"process_name": "psexec",
		"source_ip":    "10.0.0.5",
	})
	assert.Len(t, store.all(), 1)

	require.GreaterOrEqual(t, pub.published("llm.analyze"), 1)
	var bundle domain.AlertBundle
	require.NoError(t, json.Unmarshal(pub.payloads[0], &bundle))
	assert.Equal(t, alert.AlertID, bundle.AlertID)
	assert.LessOrEqual(t, len(bundle.EventSummaries), 5)
}

func TestEngine_PerSourceIsolation(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	// Five failures spread over five sources never cross any threshold
	for i := 0; i < 5; i++ {
		feed(t, engine, "authentication", "low", map[string]interface{}{
			"outcome":   "failure",
			"source_ip": fmt.Sprintf("203.0.113.%d", i),
		})
	}
	assert.Empty(t, store.all())
}

func TestThreatScore(t *testing.T) {
	assert.Equal(t, 90, ThreatScore("data_exfiltration", "critical", false))
	assert.Equal(t, 100, ThreatScore("ransomware_behavior", "critical", true))
	assert.Equal(t, 85, ThreatScore("x", "high", true))
	assert.Equal(t, 50, ThreatScore("x", "unknown", false))
	assert.Equal(t, 100, ThreatScore("honeytoken_access", "low", false))
}
