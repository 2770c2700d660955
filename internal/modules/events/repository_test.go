package events

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

func sampleEvent(id string) *domain.Event {
	return &domain.Event{
		EventID:    id,
		Timestamp:  time.Now().UTC(),
		SentinelID: "11111111-1111-4111-8111-111111111111",
		EventClass: "authentication",
		Severity:   "low",
		RawData:    map[string]interface{}{"outcome": "failure", "source_ip": "203.0.113.7"},
	}
}

func TestRepository_InsertBatchAndGet(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.InsertBatch([]*domain.Event{
		sampleEvent("e1"),
		sampleEvent("e2"),
	}))

	got, err := repo.Get("e1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "authentication", got.EventClass)
	assert.Equal(t, "failure", got.RawData["outcome"])

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRepository_RedeliveryKeepsOneRow(t *testing.T) {
	repo := newTestRepo(t)

	ev := sampleEvent("e1")
	require.NoError(t, repo.InsertBatch([]*domain.Event{ev}))
	// At-least-once delivery may hand the same event to a second worker
	require.NoError(t, repo.InsertBatch([]*domain.Event{ev}))

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRepository_ListNewestFirst(t *testing.T) {
	repo := newTestRepo(t)

	older := sampleEvent("e-old")
	older.Timestamp = time.Now().Add(-time.Hour)
	require.NoError(t, repo.InsertBatch([]*domain.Event{older, sampleEvent("e-new")}))

	list, err := repo.List(0, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "e-new", list[0].EventID)
}

func TestRepository_EmptyBatchIsNoop(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.InsertBatch(nil))
}
