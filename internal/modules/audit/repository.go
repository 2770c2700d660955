// Package audit keeps the append-only, hash-chained audit log. Each record's
// hash covers its fields plus the previous record's hash, so any tampering
// breaks the chain.
package audit

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Entry is one audit record
type Entry struct {
	LogID        string                 `json:"log_id"`
	Timestamp    time.Time              `json:"timestamp"`
	Actor        string                 `json:"actor"`
	Action       string                 `json:"action"`
	Resource     string                 `json:"resource,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	PreviousHash string                 `json:"previous_hash,omitempty"`
	CurrentHash  string                 `json:"current_hash"`
}

// Repository appends and verifies audit records. Appends serialize on a
// process-local lock so the chain never forks under concurrent writers.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
	mu  sync.Mutex
}

// NewRepository creates a new audit repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "audit_log").Logger(),
	}
}

// ComputeHash derives a record's chain hash:
// SHA-256(log_id || ts || actor || action || resource || details || previous_hash)
func ComputeHash(logID, timestamp, actor, action, resource, details, previousHash string) string {
	h := sha256.New()
	for _, field := range []string{logID, timestamp, actor, action, resource, details, previousHash} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Log appends a record, chaining from the latest hash. Errors are logged and
// swallowed; audit failures must not take callers down.
func (r *Repository) Log(actor, action, resource string, details map[string]interface{}) {
	if err := r.Append(actor, action, resource, details); err != nil {
		r.log.Error().Err(err).Str("action", action).Msg("Failed to append audit record")
	}
}

// Append writes a record and returns any error
func (r *Repository) Append(actor, action, resource string, details map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin audit append: %w", err)
	}
	defer tx.Rollback()

	var previousHash string
	err = tx.QueryRow(`SELECT current_hash FROM audit_log ORDER BY timestamp DESC, rowid DESC LIMIT 1`).Scan(&previousHash)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read audit tail: %w", err)
	}

	logID := uuid.NewString()
	ts := time.Now().UTC()
	detailsJSON, _ := json.Marshal(details)

	currentHash := ComputeHash(logID, ts.Format(time.RFC3339Nano), actor, action, resource, string(detailsJSON), previousHash)

	_, err = tx.Exec(`
		INSERT INTO audit_log (log_id, timestamp, actor, action, resource, details, previous_hash, current_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, logID, ts.UnixNano(), actor, action, resource, string(detailsJSON), previousHash, currentHash)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return tx.Commit()
}

// VerifyChain walks the full log and reports whether every record's hash
// matches its fields and predecessor.
func (r *Repository) VerifyChain() (bool, error) {
	rows, err := r.db.Query(`
		SELECT log_id, timestamp, actor, action, COALESCE(resource, ''), details, COALESCE(previous_hash, ''), current_hash
		FROM audit_log ORDER BY timestamp ASC, rowid ASC
	`)
	if err != nil {
		return false, fmt.Errorf("read audit log: %w", err)
	}
	defer rows.Close()

	previousHash := ""
	for rows.Next() {
		var (
			logID, actor, action, resource, details, prev, current string
			tsNano                                                 int64
		)
		if err := rows.Scan(&logID, &tsNano, &actor, &action, &resource, &details, &prev, &current); err != nil {
			return false, fmt.Errorf("scan audit record: %w", err)
		}

		ts := time.Unix(0, tsNano).UTC().Format(time.RFC3339Nano)
		expected := ComputeHash(logID, ts, actor, action, resource, details, prev)
		if expected != current {
			r.log.Error().Str("log_id", logID).Msg("Audit hash mismatch")
			return false, nil
		}
		if prev != previousHash {
			r.log.Error().Str("log_id", logID).Msg("Audit chain broken")
			return false, nil
		}
		previousHash = current
	}
	return true, rows.Err()
}

// List returns the newest records first
func (r *Repository) List(limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.Query(`
		SELECT log_id, timestamp, actor, action, COALESCE(resource, ''), details, COALESCE(previous_hash, ''), current_hash
		FROM audit_log ORDER BY timestamp DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			tsNano  int64
			details string
		)
		if err := rows.Scan(&e.LogID, &tsNano, &e.Actor, &e.Action, &e.Resource, &details, &e.PreviousHash, &e.CurrentHash); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		e.Timestamp = time.Unix(0, tsNano).UTC()
		_ = json.Unmarshal([]byte(details), &e.Details)
		out = append(out, e)
	}
	return out, rows.Err()
}
