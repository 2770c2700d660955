package alerts

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yasasalwis/Naga-7/internal/database"
	"github.com/yasasalwis/Naga-7/internal/domain"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return NewRepository(db.Conn(), zerolog.Nop())
}

func sampleAlert(alertID string) *domain.Alert {
	return &domain.Alert{
		AlertID:     alertID,
		CreatedAt:   time.Now().UTC(),
		EventIDs:    []string{"e1", "e2"},
		ThreatScore: 75,
		Severity:    "high",
		Status:      domain.AlertStatusNew,
		Verdict:     domain.VerdictPending,
		AffectedAssets: []string{
			"203.0.113.7",
		},
		Reasoning: domain.Reasoning{
			Rule:   "Brute Force Attack Detection",
			Source: "203.0.113.7",
			Count:  5,
		},
	}
}

func TestRepository_InsertAndGet(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Insert(sampleAlert("alert-1")))

	got, err := repo.GetByAlertID("alert-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 75, got.ThreatScore)
	assert.Equal(t, []string{"e1", "e2"}, got.EventIDs)
	assert.Equal(t, "Brute Force Attack Detection", got.Reasoning.Rule)
	assert.Equal(t, domain.VerdictPending, got.Verdict)

	missing, err := repo.GetByAlertID("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_UpdateLLMFieldsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.Insert(sampleAlert("alert-1")))

	for i := 0; i < 2; i++ {
		require.NoError(t, repo.UpdateLLMFields("alert-1", "narrative", "Credential Access", "T1110", "block the source"))
	}

	got, err := repo.GetByAlertID("alert-1")
	require.NoError(t, err)
	assert.Equal(t, "narrative", got.LLMNarrative)
	assert.Equal(t, "Credential Access", got.LLMMitreTactic)
	assert.Equal(t, "T1110", got.LLMMitreTechnique)
	assert.Equal(t, "block the source", got.LLMRemediation)
}

func TestRepository_UpdateVerdict(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.Insert(sampleAlert("alert-1")))

	require.NoError(t, repo.UpdateVerdict("alert-1", domain.VerdictAutoRespond))

	got, err := repo.GetByAlertID("alert-1")
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictAutoRespond, got.Verdict)

	assert.Error(t, repo.UpdateVerdict("missing", domain.VerdictDismiss))
}

func TestRepository_ListNewestFirst(t *testing.T) {
	repo := newTestRepo(t)

	older := sampleAlert("alert-old")
	older.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, repo.Insert(older))
	require.NoError(t, repo.Insert(sampleAlert("alert-new")))

	list, err := repo.List(0, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alert-new", list[0].AlertID)
	assert.Equal(t, "alert-old", list[1].AlertID)
}

func TestRepository_DuplicateAlertIDRejected(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.Insert(sampleAlert("alert-1")))
	assert.Error(t, repo.Insert(sampleAlert("alert-1")), "alert_id is unique")
}
