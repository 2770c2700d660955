// Package sentinel implements the host-observation agent runtime: the event
// emitter with its disk-backed replay buffer and the probe contract.
package sentinel

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/yasasalwis/Naga-7/internal/bus"
	"github.com/yasasalwis/Naga-7/internal/domain"
	"github.com/yasasalwis/Naga-7/internal/wire"
)

// spoolFile is the on-disk append log holding events while the bus is down
const spoolFile = "event_spool.jsonl"

// maxSpoolBytes bounds the spool so a long outage cannot fill the disk
const maxSpoolBytes = 32 << 20

// BusConn is the slice of the bus client the emitter uses
type BusConn interface {
	IsConnected() bool
	PublishDurable(subject string, data []byte) error
}

// Emitter publishes events on events.sentinel.<subtype>, spooling to an
// on-disk append log while the bus is down and replaying in order on
// reconnect.
type Emitter struct {
	busClient BusConn
	subtype   string
	spoolPath string
	log       zerolog.Logger

	mu sync.Mutex
}

// NewEmitter creates the event emitter. stateDir holds the spool file.
func NewEmitter(busClient BusConn, subtype, stateDir string, log zerolog.Logger) *Emitter {
	return &Emitter{
		busClient: busClient,
		subtype:   subtype,
		spoolPath: filepath.Join(stateDir, spoolFile),
		log:       log.With().Str("service", "event_emitter").Logger(),
	}
}

// Emit publishes one event. Durable publish: the call returns after the
// server acks, or after the event lands in the spool.
func (e *Emitter) Emit(ev *domain.Event) error {
	domain.NormalizeEventIdentity(ev)

	payload, err := wire.EncodeEventJSON(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	if e.busClient.IsConnected() {
		// Replay first so ordering survives an outage
		e.Replay()
		if err := e.busClient.PublishDurable(bus.SubjectEvents(e.subtype), payload); err == nil {
			e.log.Debug().Str("event_id", ev.EventID).Msg("Event emitted")
			return nil
		}
	}

	return e.spool(payload)
}

// spool appends the frame to the on-disk log
func (e *Emitter) spool(payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if info, err := os.Stat(e.spoolPath); err == nil && info.Size() > maxSpoolBytes {
		return fmt.Errorf("event spool full (%d bytes)", info.Size())
	}

	f, err := os.OpenFile(e.spoolPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("append spool: %w", err)
	}
	e.log.Warn().Msg("Bus down, event spooled to disk")
	return nil
}

// Replay drains the spool in order. Safe to call at any time; a publish
// failure mid-replay leaves the remaining lines spooled.
func (e *Emitter) Replay() {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := os.Open(e.spoolPath)
	if err != nil {
		return // nothing spooled
	}

	var remaining [][]byte
	replayed := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	failed := false
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}
		if failed {
			remaining = append(remaining, line)
			continue
		}
		if err := e.busClient.PublishDurable(bus.SubjectEvents(e.subtype), line); err != nil {
			failed = true
			remaining = append(remaining, line)
			continue
		}
		replayed++
	}
	f.Close()

	if replayed > 0 {
		e.log.Info().Int("events", replayed).Msg("Spooled events replayed")
	}

	if len(remaining) == 0 {
		_ = os.Remove(e.spoolPath)
		return
	}

	tmp := e.spoolPath + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		e.log.Error().Err(err).Msg("Failed to rewrite spool")
		return
	}
	w := bufio.NewWriter(out)
	for _, line := range remaining {
		_, _ = w.Write(append(line, '\n'))
	}
	_ = w.Flush()
	_ = out.Close()
	_ = os.Rename(tmp, e.spoolPath)
}
