package history

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/parley/internal/transcript"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(" ")
	require.Error(t, err)
}

func TestOpenAppliesPragmas(t *testing.T) {
	store := newTestStore(t)

	var mode string
	require.NoError(t, store.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	require.Equal(t, "wal", mode)
}

func TestSaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	score := 4.0
	started := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	rec := Record{
		ID:           "s1",
		UserName:     "Sam",
		Issue:        "asking for a raise",
		StartedAt:    started,
		EndedAt:      started.Add(6 * time.Minute),
		Outcome:      "completed",
		OverallScore: &score,
		SkillLevel:   "Confident",
		Evaluation:   json.RawMessage(`{"overall_score":4,"skill_level":"Confident"}`),
		Transcript: []transcript.Turn{
			{Role: transcript.RoleCoach, Text: "What's going on?"},
			{Role: transcript.RoleUser, Text: "I want a raise."},
		},
	}
	require.NoError(t, store.Save(ctx, rec))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, rec.UserName, got.UserName)
	require.Equal(t, rec.Issue, got.Issue)
	require.True(t, rec.StartedAt.Equal(got.StartedAt))
	require.True(t, rec.EndedAt.Equal(got.EndedAt))
	require.NotNil(t, got.OverallScore)
	require.Equal(t, 4.0, *got.OverallScore)
	require.JSONEq(t, string(rec.Evaluation), string(got.Evaluation))
	require.Equal(t, rec.Transcript, got.Transcript)
}

func TestSaveReplacesExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Save(ctx, Record{ID: "s1", StartedAt: now, EndedAt: now, Outcome: "error"}))
	require.NoError(t, store.Save(ctx, Record{ID: "s1", StartedAt: now, EndedAt: now.Add(time.Second), Outcome: "stopped"}))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "stopped", got.Outcome)
	require.Nil(t, got.OverallScore)
	require.Empty(t, got.Evaluation)
	require.Empty(t, got.Transcript)
}

func TestSaveRequiresID(t *testing.T) {
	store := newTestStore(t)
	require.Error(t, store.Save(context.Background(), Record{}))
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRecentNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		ended := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.Save(ctx, Record{ID: id, StartedAt: ended.Add(-time.Minute), EndedAt: ended, Outcome: "completed"}))
	}

	recent, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "c", recent[0].ID)
	require.Equal(t, "b", recent[1].ID)

	all, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
}
