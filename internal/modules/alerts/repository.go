// Package alerts provides storage and HTTP access for correlated alerts.
package alerts

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/yasasalwis/Naga-7/internal/domain"
)

// Repository handles alert rows
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new alert repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "alerts").Logger(),
	}
}

// Insert writes a freshly minted alert
func (r *Repository) Insert(a *domain.Alert) error {
	eventIDs, _ := json.Marshal(a.EventIDs)
	assets, _ := json.Marshal(a.AffectedAssets)
	reasoning, _ := json.Marshal(a.Reasoning)

	_, err := r.db.Exec(`
		INSERT INTO alerts (alert_id, created_at, event_ids, threat_score, severity, status, verdict, affected_assets, reasoning)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.AlertID, a.CreatedAt.UTC().Unix(), string(eventIDs), a.ThreatScore, a.Severity, a.Status, a.Verdict, string(assets), string(reasoning))
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", a.AlertID, err)
	}
	return nil
}

// UpdateLLMFields writes the analyzer output onto the alert row. Repeated
// deliveries overwrite with the same values, so the update is idempotent.
func (r *Repository) UpdateLLMFields(alertID, narrative, mitreTactic, mitreTechnique, remediation string) error {
	_, err := r.db.Exec(`
		UPDATE alerts
		SET llm_narrative = ?, llm_mitre_tactic = ?, llm_mitre_technique = ?, llm_remediation = ?
		WHERE alert_id = ?
	`, narrative, mitreTactic, mitreTechnique, remediation, alertID)
	if err != nil {
		return fmt.Errorf("update alert %s llm fields: %w", alertID, err)
	}
	return nil
}

// UpdateVerdict records the decision engine's verdict. The row is read and
// written inside one transaction so concurrent writers to the same alert
// serialize.
func (r *Repository) UpdateVerdict(alertID, verdict string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin verdict update: %w", err)
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRow(`SELECT verdict FROM alerts WHERE alert_id = ?`, alertID).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("alert %s not found", alertID)
		}
		return fmt.Errorf("read alert %s: %w", alertID, err)
	}

	if _, err := tx.Exec(`UPDATE alerts SET verdict = ? WHERE alert_id = ?`, verdict, alertID); err != nil {
		return fmt.Errorf("update alert %s verdict: %w", alertID, err)
	}
	return tx.Commit()
}

// GetByAlertID returns a single alert by its public UUID, or nil
func (r *Repository) GetByAlertID(alertID string) (*domain.Alert, error) {
	row := r.db.QueryRow(selectColumns+` FROM alerts WHERE alert_id = ?`, alertID)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alert %s: %w", alertID, err)
	}
	return a, nil
}

// List returns alerts newest first
func (r *Repository) List(offset, limit int) ([]*domain.Alert, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(selectColumns+` FROM alerts ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []*domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan alert row")
			continue
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const selectColumns = `
	SELECT id, alert_id, created_at, event_ids, threat_score, severity, status, verdict, affected_assets, reasoning,
	       COALESCE(llm_narrative, ''), COALESCE(llm_mitre_tactic, ''), COALESCE(llm_mitre_technique, ''), COALESCE(llm_remediation, '')`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*domain.Alert, error) {
	var (
		a         domain.Alert
		ts        int64
		eventIDs  string
		assets    string
		reasoning string
	)
	err := row.Scan(&a.ID, &a.AlertID, &ts, &eventIDs, &a.ThreatScore, &a.Severity, &a.Status, &a.Verdict,
		&assets, &reasoning, &a.LLMNarrative, &a.LLMMitreTactic, &a.LLMMitreTechnique, &a.LLMRemediation)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = time.Unix(ts, 0).UTC()
	_ = json.Unmarshal([]byte(eventIDs), &a.EventIDs)
	_ = json.Unmarshal([]byte(assets), &a.AffectedAssets)
	_ = json.Unmarshal([]byte(reasoning), &a.Reasoning)
	return &a, nil
}
