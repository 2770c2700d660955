// Package decision turns enriched alerts into verdicts, dispatches response
// actions to Strikers, and records their status reports.
package decision

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/yasasalwis/Naga-7/internal/domain"
)

// ActionRepository handles action rows
type ActionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewActionRepository creates a new action repository
func NewActionRepository(db *sql.DB, log zerolog.Logger) *ActionRepository {
	return &ActionRepository{
		db:  db,
		log: log.With().Str("repository", "actions").Logger(),
	}
}

// Insert writes a new action row
func (r *ActionRepository) Insert(a *domain.Action) error {
	params, _ := json.Marshal(a.Parameters)
	evidence, _ := json.Marshal(a.Evidence)
	rollback, _ := json.Marshal(a.Rollback)
	now := time.Now().UTC().Unix()

	_, err := r.db.Exec(`
		INSERT INTO actions (action_id, incident_id, striker_id, action_type, parameters, status, initiated_by, evidence, rollback_entry, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ActionID, a.IncidentID, a.StrikerID, a.ActionType, string(params), a.Status, a.InitiatedBy, string(evidence), string(rollback), now, now)
	if err != nil {
		return fmt.Errorf("insert action %s: %w", a.ActionID, err)
	}
	return nil
}

// Get returns an action by id, or nil
func (r *ActionRepository) Get(actionID string) (*domain.Action, error) {
	row := r.db.QueryRow(`
		SELECT action_id, COALESCE(incident_id, ''), COALESCE(striker_id, ''), action_type, parameters, status, initiated_by, evidence, rollback_entry, created_at, updated_at
		FROM actions WHERE action_id = ?
	`, actionID)
	a, err := scanAction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get action %s: %w", actionID, err)
	}
	return a, nil
}

// List returns actions newest first
func (r *ActionRepository) List(offset, limit int) ([]*domain.Action, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(`
		SELECT action_id, COALESCE(incident_id, ''), COALESCE(striker_id, ''), action_type, parameters, status, initiated_by, evidence, rollback_entry, created_at, updated_at
		FROM actions ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan action row")
			continue
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ApplyStatus folds a Striker status report into the action row. The row is
// created when absent (auto-dispatched actions may report before any
// operator record exists). Writing the same report twice produces the same
// final row.
func (r *ActionRepository) ApplyStatus(status *domain.ActionStatus) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Unix()

	row := tx.QueryRow(`SELECT evidence, rollback_entry FROM actions WHERE action_id = ?`, status.ActionID)
	var evidenceRaw, rollbackRaw string
	err = row.Scan(&evidenceRaw, &rollbackRaw)
	switch {
	case err == sql.ErrNoRows:
		evidence, _ := json.Marshal(status.Evidence)
		rollback, _ := json.Marshal(map[string]interface{}{"execution_result": status.ResultData})
		_, err = tx.Exec(`
			INSERT INTO actions (action_id, striker_id, action_type, parameters, status, initiated_by, evidence, rollback_entry, created_at, updated_at)
			VALUES (?, ?, ?, '{}', ?, 'auto', ?, ?, ?, ?)
		`, status.ActionID, status.StrikerID, status.ActionType, status.Status, string(evidence), string(rollback), now, now)
		if err != nil {
			return fmt.Errorf("insert action %s from status: %w", status.ActionID, err)
		}
		return tx.Commit()

	case err != nil:
		return fmt.Errorf("read action %s: %w", status.ActionID, err)
	}

	evidence := map[string]interface{}{}
	_ = json.Unmarshal([]byte(evidenceRaw), &evidence)
	if evidence == nil {
		evidence = map[string]interface{}{}
	}
	for k, v := range status.Evidence {
		evidence[k] = v
	}

	rollback := map[string]interface{}{}
	_ = json.Unmarshal([]byte(rollbackRaw), &rollback)
	if rollback == nil {
		rollback = map[string]interface{}{}
	}
	if status.ResultData != nil {
		rollback["execution_result"] = status.ResultData
	}

	evidenceOut, _ := json.Marshal(evidence)
	rollbackOut, _ := json.Marshal(rollback)

	_, err = tx.Exec(`
		UPDATE actions SET status = ?, striker_id = ?, evidence = ?, rollback_entry = ?, updated_at = ?
		WHERE action_id = ?
	`, status.Status, status.StrikerID, string(evidenceOut), string(rollbackOut), now, status.ActionID)
	if err != nil {
		return fmt.Errorf("update action %s from status: %w", status.ActionID, err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAction(row rowScanner) (*domain.Action, error) {
	var (
		a        domain.Action
		params   string
		evidence string
		rollback string
		created  int64
		updated  int64
	)
	err := row.Scan(&a.ActionID, &a.IncidentID, &a.StrikerID, &a.ActionType, &params, &a.Status, &a.InitiatedBy, &evidence, &rollback, &created, &updated)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = time.Unix(created, 0).UTC()
	a.UpdatedAt = time.Unix(updated, 0).UTC()
	_ = json.Unmarshal([]byte(params), &a.Parameters)
	_ = json.Unmarshal([]byte(evidence), &a.Evidence)
	_ = json.Unmarshal([]byte(rollback), &a.Rollback)
	return &a, nil
}
