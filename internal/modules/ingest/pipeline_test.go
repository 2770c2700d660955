package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yasasalwis/Naga-7/internal/cache"
	"github.com/yasasalwis/Naga-7/internal/domain"
	"github.com/yasasalwis/Naga-7/internal/modules/intel"
	"github.com/yasasalwis/Naga-7/internal/wire"
)

type fakeStore struct {
	mu      sync.Mutex
	batches [][]*domain.Event
	fail    bool
}

func (s *fakeStore) InsertBatch(batch []*domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return assert.AnError
	}
	s.batches = append(s.batches, batch)
	return nil
}

func (s *fakeStore) events() []*domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Event
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []struct {
		subject string
		data    []byte
	}
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, struct {
		subject string
		data    []byte
	}{subject, data})
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func newTestPipeline(t *testing.T) (*Pipeline, *cache.MemoryCache, *intel.Store, *fakeStore, *fakePublisher) {
	t.Helper()
	c := cache.NewMemory()
	store := &fakeStore{}
	pub := &fakePublisher{}
	intelStore := intel.NewStore(c, time.Hour, zerolog.Nop())
	p := New(c, intelStore, store, pub, zerolog.Nop())
	return p, c, intelStore, store, pub
}

func eventPayload(t *testing.T, ev *domain.Event) []byte {
	t.Helper()
	data, err := wire.EncodeEventJSON(ev)
	require.NoError(t, err)
	return data
}

func TestPipeline_DeduplicatesIdenticalEvents(t *testing.T) {
	p, _, _, store, pub := newTestPipeline(t)

	ev := &domain.Event{
		EventID:    "11111111-1111-4111-8111-111111111111",
		Timestamp:  time.Now().UTC(),
		SentinelID: "22222222-2222-4222-8222-222222222222",
		EventClass: "authentication",
		Severity:   "low",
		RawData:    map[string]interface{}{"outcome": "failure"},
	}

	p.HandleMessage("events.sentinel.endpoint", eventPayload(t, ev))

	// Same sentinel, class and raw_data; a different event_id must not
	// defeat the fingerprint.
	dup := *ev
	dup.EventID = "33333333-3333-4333-8333-333333333333"
	p.HandleMessage("events.sentinel.endpoint", eventPayload(t, &dup))

	p.Flush()
	assert.Len(t, store.events(), 1, "duplicate must be dropped before persistence")
	assert.Equal(t, 1, pub.count(), "duplicate must not fan out")
}

func TestPipeline_RepairsMalformedIdentity(t *testing.T) {
	p, _, _, store, _ := newTestPipeline(t)

	p.HandleMessage("events.sentinel.endpoint", []byte(`{
		"event_id": "not-a-uuid",
		"sentinel_id": "also-bad",
		"event_class": "process",
		"severity": "nonsense",
		"raw_data": {"process_name": "bash"}
	}`))
	p.Flush()

	events := store.events()
	require.Len(t, events, 1)
	assert.NotEqual(t, "not-a-uuid", events[0].EventID, "malformed event_id gets a fresh UUID")
	assert.Equal(t, "00000000-0000-0000-0000-000000000000", events[0].SentinelID)
	assert.Equal(t, "informational", events[0].Severity)
}

func TestPipeline_IOCMatchPromotesToCritical(t *testing.T) {
	p, _, intelStore, store, pub := newTestPipeline(t)

	require.NoError(t, intelStore.AddIOC(context.Background(), intel.TypeIP, "198.51.100.4", 0.95, "feed:test", nil, time.Hour))

	p.HandleMessage("events.sentinel.endpoint", []byte(`{
		"event_id": "44444444-4444-4444-8444-444444444444",
		"sentinel_id": "22222222-2222-4222-8222-222222222222",
		"event_class": "network",
		"severity": "low",
		"raw_data": {"source_ip": "198.51.100.4"}
	}`))
	p.Flush()

	events := store.events()
	require.Len(t, events, 1)
	assert.Equal(t, "critical", events[0].Severity)
	assert.Equal(t, true, events[0].RawData["ioc_matched"])
	assert.Contains(t, events[0].Enrichments, "threat_intel_matches")

	// Fan-out carries the promoted event
	require.Equal(t, 1, pub.count())
	forwarded, err := wire.DecodeEvent(pub.messages[0].data)
	require.NoError(t, err)
	assert.Equal(t, "critical", forwarded.Severity)
	assert.Equal(t, "internal.events", pub.messages[0].subject)
}

func TestPipeline_FanOutNotBlockedByPersistenceFailure(t *testing.T) {
	p, _, _, store, pub := newTestPipeline(t)
	store.fail = true

	p.HandleMessage("events.sentinel.endpoint", []byte(`{
		"event_id": "55555555-5555-4555-8555-555555555555",
		"sentinel_id": "22222222-2222-4222-8222-222222222222",
		"event_class": "network",
		"severity": "low",
		"raw_data": {"direction": "outbound"}
	}`))

	p.Flush()
	assert.Equal(t, 1, pub.count(), "fan-out is decoupled from persistence")

	// Failed batch stays buffered and flushes once the store recovers
	store.fail = false
	p.Flush()
	assert.Len(t, store.events(), 1)
}

func TestFingerprint_StableAcrossMapOrder(t *testing.T) {
	a := &domain.Event{
		SentinelID: "s",
		EventClass: "network",
		RawData:    map[string]interface{}{"b": 2, "a": 1},
	}
	b := &domain.Event{
		SentinelID: "s",
		EventClass: "network",
		RawData:    map[string]interface{}{"a": 1, "b": 2},
	}
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}
