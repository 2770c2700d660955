// Package events provides storage and HTTP access for ingested telemetry.
package events

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/yasasalwis/Naga-7/internal/domain"
)

// Repository handles event rows. Writes arrive in batches from the ingest
// pipeline; a duplicate event_id is ignored so at-least-once delivery never
// produces a second row.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new event repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "events").Logger(),
	}
}

// InsertBatch writes a batch of events in one transaction
func (r *Repository) InsertBatch(batch []*domain.Event) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin event batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO events (event_id, timestamp, sentinel_id, event_class, severity, raw_data, enrichments, mitre_techniques)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range batch {
		rawData, _ := json.Marshal(ev.RawData)
		enrichments, _ := json.Marshal(ev.Enrichments)
		techniques, _ := json.Marshal(ev.MitreTechniques)

		if _, err := stmt.Exec(
			ev.EventID,
			ev.Timestamp.UTC().Unix(),
			ev.SentinelID,
			ev.EventClass,
			ev.Severity,
			string(rawData),
			string(enrichments),
			string(techniques),
		); err != nil {
			return fmt.Errorf("insert event %s: %w", ev.EventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event batch: %w", err)
	}
	return nil
}

// Get returns a single event by id, or nil if not found
func (r *Repository) Get(eventID string) (*domain.Event, error) {
	row := r.db.QueryRow(`
		SELECT event_id, timestamp, sentinel_id, event_class, severity, raw_data, enrichments, mitre_techniques
		FROM events WHERE event_id = ?
	`, eventID)

	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", eventID, err)
	}
	return ev, nil
}

// List returns events newest first
func (r *Repository) List(offset, limit int) ([]*domain.Event, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(`
		SELECT event_id, timestamp, sentinel_id, event_class, severity, raw_data, enrichments, mitre_techniques
		FROM events ORDER BY timestamp DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan event row")
			continue
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Count returns the total number of stored events
func (r *Repository) Count() (int, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*domain.Event, error) {
	var (
		ev         domain.Event
		ts         int64
		rawData    string
		enrich     string
		techniques string
	)
	if err := row.Scan(&ev.EventID, &ts, &ev.SentinelID, &ev.EventClass, &ev.Severity, &rawData, &enrich, &techniques); err != nil {
		return nil, err
	}
	ev.Timestamp = time.Unix(ts, 0).UTC()
	_ = json.Unmarshal([]byte(rawData), &ev.RawData)
	_ = json.Unmarshal([]byte(enrich), &ev.Enrichments)
	_ = json.Unmarshal([]byte(techniques), &ev.MitreTechniques)
	return &ev, nil
}
