package transcript

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_UpsertAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "transcript.db")
	dsn, err := SQLiteDSNForFile(dbPath)
	require.NoError(t, err)

	s, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	chatID := "c1"

	err = s.Upsert(ctx, chatID, 0, &Entity{ID: "bad", Kind: KindMessage})
	require.Error(t, err)

	err = s.Upsert(ctx, chatID, 10, &Entity{
		ID:          "m1",
		Kind:        KindMessage,
		CreatedAtMs: 200,
		Props:       map[string]any{"text": "hello", "streaming": true},
	})
	require.NoError(t, err)

	err = s.Upsert(ctx, chatID, 20, &Entity{
		ID:    "m1",
		Kind:  KindMessage,
		Props: map[string]any{"text": "hello world", "streaming": false},
	})
	require.NoError(t, err)

	err = s.Upsert(ctx, chatID, 30, &Entity{
		ID:          "m2",
		Kind:        KindMessage,
		CreatedAtMs: 50,
		Props:       map[string]any{"text": "second"},
	})
	require.NoError(t, err)

	full, err := s.GetSnapshot(ctx, chatID, 0, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(30), full.Version)
	require.Len(t, full.Entities, 2)
	require.Equal(t, "m1", full.Entities[0].ID)
	require.Equal(t, int64(200), full.Entities[0].CreatedAtMs)
	require.Equal(t, "hello world", full.Entities[0].Props["text"])
	require.Equal(t, "m2", full.Entities[1].ID)
	require.Equal(t, int64(50), full.Entities[1].CreatedAtMs)

	inc, err := s.GetSnapshot(ctx, chatID, 1, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(30), inc.Version)
	require.Len(t, inc.Entities, 2) // m1(v20), m2(v30)

	limited, err := s.GetSnapshot(ctx, chatID, 1, 1)
	require.NoError(t, err)
	require.Len(t, limited.Entities, 1)

	// sanity: file exists
	_, err = os.Stat(dbPath)
	require.NoError(t, err)
}

func TestSQLiteStore_SessionIndex(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "transcript-sessions.db")
	dsn, err := SQLiteDSNForFile(dbPath)
	require.NoError(t, err)

	s, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	err = s.UpsertSession(ctx, SessionRecord{
		ChatID:         "chat-1",
		WorkflowName:   "app_builder",
		EnterpriseID:   "ent-1",
		UserID:         "user-1",
		CacheSeed:      "42",
		CreatedAtMs:    100,
		LastActivityMs: 1000,
		LastSeq:        2,
		Status:         "active",
	})
	require.NoError(t, err)

	// partial update preserves stable metadata while updating max progression
	err = s.UpsertSession(ctx, SessionRecord{
		ChatID:         "chat-1",
		LastActivityMs: 2000,
		LastSeq:        5,
	})
	require.NoError(t, err)

	err = s.UpsertSession(ctx, SessionRecord{
		ChatID:         "chat-2",
		WorkflowName:   "data_pipeline",
		LastActivityMs: 1500,
		LastSeq:        1,
	})
	require.NoError(t, err)

	rec, ok, err := s.GetSession(ctx, "chat-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "app_builder", rec.WorkflowName)
	require.Equal(t, "ent-1", rec.EnterpriseID)
	require.Equal(t, "42", rec.CacheSeed)
	require.Equal(t, int64(100), rec.CreatedAtMs)
	require.Equal(t, int64(2000), rec.LastActivityMs)
	require.Equal(t, uint64(5), rec.LastSeq)

	list, err := s.ListSessions(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "chat-1", list[0].ChatID)
	require.Equal(t, "chat-2", list[1].ChatID)

	filtered, err := s.ListSessions(ctx, 10, 1800)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, "chat-1", filtered[0].ChatID)
}

func TestSQLiteStore_UpsertTouchesSession(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "transcript-touch.db")
	dsn, err := SQLiteDSNForFile(dbPath)
	require.NoError(t, err)

	s, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	err = s.Upsert(ctx, "chat-touch", 7, &Entity{ID: "m1", Kind: KindMessage})
	require.NoError(t, err)

	rec, ok, err := s.GetSession(ctx, "chat-touch")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotZero(t, rec.LastActivityMs)
	require.Equal(t, "active", rec.Status)
}
