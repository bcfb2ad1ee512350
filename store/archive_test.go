package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/7788ken/multi-agent-discussion/discussion"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func endedStatus(id, topic string, participants []string, consensus bool, endedAt time.Time) discussion.Status {
	return discussion.Status{
		ID:           id,
		Topic:        topic,
		Participants: participants,
		Active:       false,
		Decision:     "decided",
		Consensus:    consensus,
		Round:        2,
		StartedAt:    endedAt.Add(-10 * time.Minute),
		EndedAt:      endedAt,
		MessageCount: 7,
	}
}

func TestArchiveAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	st := endedStatus("d1", "Use REST or GraphQL?", []string{"claude", "codex"}, true, time.Now())
	require.NoError(t, db.Archive(ctx, st))

	got, err := db.GetArchived(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Use REST or GraphQL?", got.Topic)
	assert.Equal(t, []string{"claude", "codex"}, got.Participants)
	assert.Equal(t, "decided", got.Decision)
	assert.True(t, got.Consensus)
	assert.Equal(t, 2, got.Rounds)
	assert.Equal(t, 7, got.MessageCount)
	assert.NotZero(t, got.ArchivedTs)

	missing, err := db.GetArchived(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestArchiveUpsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	st := endedStatus("d1", "First topic", []string{"claude", "codex"}, false, time.Now())
	require.NoError(t, db.Archive(ctx, st))

	st.Decision = "revised"
	st.MessageCount = 9
	require.NoError(t, db.Archive(ctx, st))

	rows, err := db.ListArchived(ctx, &FindArchived{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "revised", rows[0].Decision)
	assert.Equal(t, 9, rows[0].MessageCount)
}

func TestListArchivedFilters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, db.Archive(ctx, endedStatus("d1", "REST API design", []string{"claude", "codex"}, true, now.Add(-2*time.Hour))))
	require.NoError(t, db.Archive(ctx, endedStatus("d2", "Cache invalidation", []string{"claude", "gemini"}, false, now.Add(-1*time.Hour))))
	require.NoError(t, db.Archive(ctx, endedStatus("d3", "REST pagination", []string{"codex", "gemini"}, true, now)))

	t.Run("orders by ended_ts desc", func(t *testing.T) {
		rows, err := db.ListArchived(ctx, &FindArchived{})
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "d3", rows[0].ID)
		assert.Equal(t, "d1", rows[2].ID)
	})

	t.Run("topic substring", func(t *testing.T) {
		needle := "REST"
		rows, err := db.ListArchived(ctx, &FindArchived{TopicContains: &needle})
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("participant exact name", func(t *testing.T) {
		name := "gemini"
		rows, err := db.ListArchived(ctx, &FindArchived{Participant: &name})
		require.NoError(t, err)
		assert.Len(t, rows, 2)

		// "gem" is a substring of a name, not a participant.
		partial := "gem"
		rows, err = db.ListArchived(ctx, &FindArchived{Participant: &partial})
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("consensus only", func(t *testing.T) {
		rows, err := db.ListArchived(ctx, &FindArchived{ConsensusOnly: true})
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("limit and offset", func(t *testing.T) {
		limit, offset := 1, 1
		rows, err := db.ListArchived(ctx, &FindArchived{Limit: &limit, Offset: &offset})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "d2", rows[0].ID)
	})
}

func TestDeleteArchived(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Archive(ctx, endedStatus("d1", "Topic", []string{"claude", "codex"}, true, time.Now())))
	require.NoError(t, db.DeleteArchived(ctx, "d1"))

	got, err := db.GetArchived(ctx, "d1")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting again is a no-op.
	require.NoError(t, db.DeleteArchived(ctx, "d1"))
}
