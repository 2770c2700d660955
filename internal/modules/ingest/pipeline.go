// Package ingest implements the event pipeline: decode, repair, deduplicate,
// IOC-enrich, batch-persist, and fan out to the correlator.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yasasalwis/Naga-7/internal/bus"
	"github.com/yasasalwis/Naga-7/internal/cache"
	"github.com/yasasalwis/Naga-7/internal/domain"
	"github.com/yasasalwis/Naga-7/internal/metrics"
	"github.com/yasasalwis/Naga-7/internal/modules/intel"
	"github.com/yasasalwis/Naga-7/internal/wire"
)

const (
	// DedupWindow is how long an event fingerprint suppresses duplicates
	DedupWindow = 60 * time.Second

	// FlushInterval and FlushBatchSize bound the persistence buffer
	FlushInterval  = time.Second
	FlushBatchSize = 500
)

// EventStore persists event batches
type EventStore interface {
	InsertBatch(batch []*domain.Event) error
}

// Publisher forwards normalized events to the correlator
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Pipeline consumes events.> and drives each message through dedup,
// enrichment, buffered persistence, and fan-out. Fan-out does not wait for
// the interval flush; when the buffer reaches FlushBatchSize the batch is
// written inline before the triggering event fans out.
type Pipeline struct {
	cache cache.Cache
	intel *intel.Store
	store EventStore
	pub   Publisher
	log   zerolog.Logger

	mu     sync.Mutex
	buffer []*domain.Event

	stop chan struct{}
	done chan struct{}
}

// New creates the ingest pipeline
func New(c cache.Cache, intelStore *intel.Store, store EventStore, pub Publisher, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		cache: c,
		intel: intelStore,
		store: store,
		pub:   pub,
		log:   log.With().Str("service", "event_pipeline").Logger(),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start launches the flush loop
func (p *Pipeline) Start() {
	go p.flushLoop()
	p.log.Info().Msg("Event pipeline started")
}

// Stop drains the flush loop and flushes the remaining buffer
func (p *Pipeline) Stop() {
	close(p.stop)
	<-p.done
	p.Flush()
	p.log.Info().Msg("Event pipeline stopped")
}

func (p *Pipeline) flushLoop() {
	defer close(p.done)
	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Flush()
		case <-p.stop:
			return
		}
	}
}

// HandleMessage processes one bus message from events.>
func (p *Pipeline) HandleMessage(subject string, data []byte) {
	ev, err := wire.DecodeEvent(data)
	if err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("Dropping undecodable event")
		return
	}

	domain.NormalizeEventIdentity(ev)

	ctx := context.Background()

	// 1. Deduplication. A cache failure fails open: a potential duplicate is
	// better than a dropped event.
	if p.isDuplicate(ctx, ev) {
		metrics.EventsDeduplicated.Inc()
		p.log.Debug().Str("event_id", ev.EventID).Msg("Duplicate event dropped")
		return
	}

	// 2. Enrichment: IOC cross-reference. A match promotes the event.
	matches := p.intel.Enrich(ctx, ev.RawData)
	if ev.Enrichments == nil {
		ev.Enrichments = map[string]interface{}{}
	}
	if len(matches) > 0 {
		ev.Enrichments["threat_intel_matches"] = matches
		ev.Severity = "critical"
		ev.RawData["ioc_matched"] = true
		metrics.EventsIOCPromoted.Inc()
		p.log.Warn().
			Str("event_id", ev.EventID).
			Int("matches", len(matches)).
			Msg("IOC match, event promoted to critical")
	}

	// 3. Persistence: buffered, flushed on size or interval
	p.enqueue(ev)
	metrics.EventsIngested.Inc()

	// 4. Fan-out to the correlator; the event already carries its id
	payload, err := wire.EncodeEventBinary(ev)
	if err != nil {
		p.log.Error().Err(err).Str("event_id", ev.EventID).Msg("Failed to encode event for fan-out")
		return
	}
	if err := p.pub.Publish(bus.SubjectInternalEvents, payload); err != nil {
		p.log.Warn().Err(err).Str("event_id", ev.EventID).Msg("Fan-out publish failed")
	}
}

// Fingerprint computes the dedup key material for an event:
// SHA-256(sentinel_id || event_class || canonical_json(raw_data)).
// encoding/json writes map keys in sorted order, which makes the raw_data
// serialization canonical.
func Fingerprint(ev *domain.Event) string {
	rawData, _ := json.Marshal(ev.RawData)
	h := sha256.New()
	h.Write([]byte(ev.SentinelID))
	h.Write([]byte(":"))
	h.Write([]byte(ev.EventClass))
	h.Write([]byte(":"))
	h.Write(rawData)
	return hex.EncodeToString(h.Sum(nil))
}

func (p *Pipeline) isDuplicate(ctx context.Context, ev *domain.Event) bool {
	key := "dedup:" + Fingerprint(ev)

	_, exists, err := p.cache.Get(ctx, key)
	if err != nil {
		p.log.Warn().Err(err).Msg("Dedup cache unreachable, failing open")
		return false
	}
	if exists {
		return true
	}
	if err := p.cache.Set(ctx, key, "1", DedupWindow); err != nil {
		p.log.Warn().Err(err).Msg("Failed to record dedup fingerprint")
	}
	return false
}

func (p *Pipeline) enqueue(ev *domain.Event) {
	var flush []*domain.Event

	p.mu.Lock()
	p.buffer = append(p.buffer, ev)
	if len(p.buffer) >= FlushBatchSize {
		flush = p.buffer
		p.buffer = nil
	}
	p.mu.Unlock()

	if flush != nil {
		p.persist(flush)
	}
}

// Flush drains the buffer into one transactional insert. On failure the
// events are retained for the next tick.
func (p *Pipeline) Flush() {
	p.mu.Lock()
	batch := p.buffer
	p.buffer = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	p.persist(batch)
}

func (p *Pipeline) persist(batch []*domain.Event) {
	if err := p.store.InsertBatch(batch); err != nil {
		p.log.Error().Err(err).Int("batch", len(batch)).Msg("Event batch insert failed, retaining for next tick")
		p.mu.Lock()
		p.buffer = append(batch, p.buffer...)
		p.mu.Unlock()
		return
	}
	p.log.Debug().Int("batch", len(batch)).Msg("Event batch persisted")
}
