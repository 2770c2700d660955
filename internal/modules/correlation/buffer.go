package correlation

import (
	"sync"
	"time"

	"github.com/yasasalwis/Naga-7/internal/domain"
)

// bufferRetention bounds how much history each source keeps
const bufferRetention = time.Hour

// BufferedEvent is one entry in the per-source sliding window
type BufferedEvent struct {
	EventID    string
	Timestamp  time.Time
	EventClass string
	Severity   string
	RawData    map[string]interface{}
}

// SourceBuffer holds the in-memory per-source event window used by
// multi-stage matching. State is intentionally not persisted across
// restarts.
type SourceBuffer struct {
	mu      sync.Mutex
	sources map[string][]BufferedEvent
	now     func() time.Time
}

// NewSourceBuffer creates an empty buffer
func NewSourceBuffer() *SourceBuffer {
	return &SourceBuffer{
		sources: make(map[string][]BufferedEvent),
		now:     time.Now,
	}
}

// SetClock overrides the buffer's time source. Tests only.
func (b *SourceBuffer) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Add records an event under its source, trimming entries older than the
// retention window.
func (b *SourceBuffer) Add(source string, ev *domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := BufferedEvent{
		EventID:    ev.EventID,
		Timestamp:  ev.Timestamp,
		EventClass: ev.EventClass,
		Severity:   ev.Severity,
		RawData:    ev.RawData,
	}

	cutoff := b.now().Add(-bufferRetention)
	kept := b.sources[source][:0]
	for _, e := range b.sources[source] {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	b.sources[source] = append(kept, entry)
}

// Events returns a copy of the buffered events for a source
func (b *SourceBuffer) Events(source string) []BufferedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.sources[source]
	out := make([]BufferedEvent, len(events))
	copy(out, events)
	return out
}

// Clear drops all buffered events for a source. Called after a multi-stage
// alert fires to suppress duplicate mints.
func (b *SourceBuffer) Clear(source string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sources, source)
}

// Summaries returns up to max abbreviated snapshots for an alert bundle
func (b *SourceBuffer) Summaries(source string, max int) []map[string]interface{} {
	events := b.Events(source)
	if len(events) > max {
		events = events[len(events)-max:]
	}
	out := make([]map[string]interface{}, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]interface{}{
			"event_id":    e.EventID,
			"timestamp":   e.Timestamp.UTC().Format(time.RFC3339),
			"event_class": e.EventClass,
			"severity":    e.Severity,
			"raw_data":    e.RawData,
		})
	}
	return out
}
