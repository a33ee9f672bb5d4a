package transcript

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/artifacts"
	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/chatwire"
)

func newTestProjector(t *testing.T) (*Projector, *MemoryStore, *artifacts.MemoryCache) {
	t.Helper()
	store := NewMemoryStore()
	cache := artifacts.NewMemoryCache()
	p, err := NewProjector(store, WithArtifactCache(cache), WithWriteThrottle(0))
	require.NoError(t, err)
	return p, store, cache
}

func md(chatID string, seq uint64) chatwire.EventMetadata {
	return chatwire.EventMetadata{ChatID: chatID, Seq: seq}
}

func findEntity(t *testing.T, snap *Snapshot, id string) *Entity {
	t.Helper()
	for _, e := range snap.Entities {
		if e.ID == id {
			return e
		}
	}
	t.Fatalf("entity %s not found in snapshot", id)
	return nil
}

func TestProjector_StreamingAssembly(t *testing.T) {
	p, store, _ := newTestProjector(t)
	ctx := context.Background()

	require.NoError(t, p.Apply(ctx, chatwire.NewStream(md("c1", 1), "m1", "Hel", "")))
	require.NoError(t, p.Apply(ctx, chatwire.NewStream(md("c1", 2), "m1", "lo", "")))

	snap, err := store.GetSnapshot(ctx, "c1", 0, 100)
	require.NoError(t, err)
	msg := findEntity(t, snap, "m1")
	require.Equal(t, KindMessage, msg.Kind)
	require.Equal(t, "Hello", msg.Props["text"])
	require.Equal(t, true, msg.Props["streaming"])

	// cumulative overrides appended deltas
	require.NoError(t, p.Apply(ctx, chatwire.NewStream(md("c1", 3), "m1", "!", "Hello world")))
	require.NoError(t, p.Apply(ctx, chatwire.NewText(md("c1", 4), "m1", "assistant", "Hello world!")))

	snap, err = store.GetSnapshot(ctx, "c1", 0, 100)
	require.NoError(t, err)
	msg = findEntity(t, snap, "m1")
	require.Equal(t, "Hello world!", msg.Props["text"])
	require.Equal(t, false, msg.Props["streaming"])
	require.Len(t, snap.Entities, 1)
}

func TestProjector_StreamThrottleFlush(t *testing.T) {
	store := NewMemoryStore()
	p, err := NewProjector(store, WithWriteThrottle(time.Hour))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, p.Apply(ctx, chatwire.NewStream(md("c1", 1), "m1", "a", "")))
	require.NoError(t, p.Apply(ctx, chatwire.NewStream(md("c1", 2), "m1", "b", "")))

	// first delta wrote immediately (lastWrite zero), second is throttled
	snap, err := store.GetSnapshot(ctx, "c1", 0, 100)
	require.NoError(t, err)
	require.Equal(t, "a", findEntity(t, snap, "m1").Props["text"])

	require.NoError(t, p.Flush(ctx))
	snap, err = store.GetSnapshot(ctx, "c1", 0, 100)
	require.NoError(t, err)
	require.Equal(t, "ab", findEntity(t, snap, "m1").Props["text"])
}

func TestProjector_ToolCallResponsePairing(t *testing.T) {
	p, store, _ := newTestProjector(t)
	ctx := context.Background()

	require.NoError(t, p.Apply(ctx, chatwire.NewToolCall(md("c1", 1), "t1", "provision_db", `{"name":"appdb"}`)))
	require.NoError(t, p.Apply(ctx, chatwire.NewToolResponse(md("c1", 2), "t1", "created", "")))

	snap, err := store.GetSnapshot(ctx, "c1", 0, 100)
	require.NoError(t, err)
	require.Len(t, snap.Entities, 1)
	tool := findEntity(t, snap, "t1")
	require.Equal(t, KindToolCall, tool.Kind)
	require.Equal(t, "provision_db", tool.Props["name"])
	require.Equal(t, "created", tool.Props["result"])
	require.Equal(t, "done", tool.Props["status"])
	input, ok := tool.Props["input"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "appdb", input["name"])
}

func TestProjector_ToolResponseError(t *testing.T) {
	p, store, _ := newTestProjector(t)
	ctx := context.Background()

	require.NoError(t, p.Apply(ctx, chatwire.NewToolCall(md("c1", 1), "t1", "deploy", "")))
	require.NoError(t, p.Apply(ctx, chatwire.NewToolResponse(md("c1", 2), "t1", "", "quota exceeded")))

	snap, err := store.GetSnapshot(ctx, "c1", 0, 100)
	require.NoError(t, err)
	tool := findEntity(t, snap, "t1")
	require.Equal(t, "error", tool.Props["status"])
	require.Equal(t, "quota exceeded", tool.Props["error"])
}

func TestProjector_ArtifactLifecycle(t *testing.T) {
	p, store, cache := newTestProjector(t)
	ctx := context.Background()

	open := chatwire.NewArtifact(md("c1", 1), "a1", "code", "Generated API", chatwire.ArtifactPhaseOpen, json.RawMessage(`{"lang":"python"}`))
	update := chatwire.NewArtifact(md("c1", 2), "a1", "", "", chatwire.ArtifactPhaseUpdate, json.RawMessage(`{"lang":"python","code":"print(1)"}`))
	closeEv := chatwire.NewArtifact(md("c1", 3), "a1", "", "", chatwire.ArtifactPhaseClose, nil)

	require.NoError(t, p.Apply(ctx, open))
	require.NoError(t, p.Apply(ctx, update))
	require.NoError(t, p.Apply(ctx, closeEv))

	snap, err := store.GetSnapshot(ctx, "c1", 0, 100)
	require.NoError(t, err)
	art := findEntity(t, snap, "a1")
	require.Equal(t, KindArtifact, art.Kind)
	require.Equal(t, true, art.Props["closed"])

	last, ok, err := cache.GetLast(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a1", last.ArtifactID)
	require.Equal(t, "code", last.Kind)
	require.Equal(t, "Generated API", last.Title)
	require.True(t, last.Closed)
	require.JSONEq(t, `{"lang":"python","code":"print(1)"}`, string(last.Payload))
}

func TestProjector_ResumeReplayDoesNotDuplicate(t *testing.T) {
	p, store, _ := newTestProjector(t)
	ctx := context.Background()

	require.NoError(t, p.Apply(ctx, chatwire.NewText(md("c1", 1), "m1", "user", "build me an app")))
	require.NoError(t, p.Apply(ctx, chatwire.NewPrint(md("c1", 2), "info", "workflow started")))
	require.NoError(t, p.Apply(ctx, chatwire.NewResumeBoundary(md("c1", 0), 2, 2)))

	// Server replays history after a resume.
	require.NoError(t, p.Apply(ctx, chatwire.NewText(md("c1", 1), "m1", "user", "build me an app")))
	require.NoError(t, p.Apply(ctx, chatwire.NewPrint(md("c1", 2), "info", "workflow started")))
	// Then live traffic continues past the boundary.
	require.NoError(t, p.Apply(ctx, chatwire.NewText(md("c1", 4), "m2", "assistant", "on it")))

	snap, err := store.GetSnapshot(ctx, "c1", 0, 100)
	require.NoError(t, err)
	require.Len(t, snap.Entities, 3)
	require.Equal(t, uint64(4), p.LastSeq(ctx, "c1"))

	rec, ok, err := store.GetSession(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), rec.LastSeq) // persisted at the boundary
}

func TestProjector_ResumeReplayStreamDeltasNotDuplicated(t *testing.T) {
	p, store, _ := newTestProjector(t)
	ctx := context.Background()

	require.NoError(t, p.Apply(ctx, chatwire.NewStream(md("c1", 1), "m1", "Hel", "")))
	require.NoError(t, p.Apply(ctx, chatwire.NewStream(md("c1", 2), "m1", "lo", "")))

	// The server replays the same deltas after a reconnect.
	require.NoError(t, p.Apply(ctx, chatwire.NewStream(md("c1", 1), "m1", "Hel", "")))
	require.NoError(t, p.Apply(ctx, chatwire.NewStream(md("c1", 2), "m1", "lo", "")))

	snap, err := store.GetSnapshot(ctx, "c1", 0, 100)
	require.NoError(t, err)
	require.Equal(t, "Hello", findEntity(t, snap, "m1").Props["text"])

	// A replayed cumulative frame overwrites instead of appending.
	require.NoError(t, p.Apply(ctx, chatwire.NewStream(md("c1", 3), "m1", "", "Hello world")))
	require.NoError(t, p.Apply(ctx, chatwire.NewStream(md("c1", 3), "m1", "", "Hello world")))

	snap, err = store.GetSnapshot(ctx, "c1", 0, 100)
	require.NoError(t, err)
	require.Equal(t, "Hello world", findEntity(t, snap, "m1").Props["text"])

	// Live traffic past the boundary still appends.
	require.NoError(t, p.Apply(ctx, chatwire.NewStream(md("c1", 4), "m1", "!", "")))
	snap, err = store.GetSnapshot(ctx, "c1", 0, 100)
	require.NoError(t, err)
	require.Equal(t, "Hello world!", findEntity(t, snap, "m1").Props["text"])
}

func TestProjector_HydratesHighWaterFromSession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.UpsertSession(ctx, SessionRecord{ChatID: "c1", LastSeq: 10}))

	p, err := NewProjector(store, WithWriteThrottle(0))
	require.NoError(t, err)
	require.Equal(t, uint64(10), p.LastSeq(ctx, "c1"))
}

func TestProjector_InputRequestAnswered(t *testing.T) {
	p, store, _ := newTestProjector(t)
	ctx := context.Background()

	req := chatwire.NewInputRequest(md("c1", 1), "r1", "App name?", []chatwire.InputField{
		{Name: "app_name", Kind: "text", Required: true},
	})
	require.NoError(t, p.Apply(ctx, req))

	snap, err := store.GetSnapshot(ctx, "c1", 0, 100)
	require.NoError(t, err)
	require.Equal(t, true, findEntity(t, snap, "r1").Props["pending"])

	require.NoError(t, p.MarkInputAnswered(ctx, "c1", "r1"))
	snap, err = store.GetSnapshot(ctx, "c1", 0, 100)
	require.NoError(t, err)
	entity := findEntity(t, snap, "r1")
	require.Equal(t, false, entity.Props["pending"])
	require.Equal(t, true, entity.Props["answered"])

	require.Error(t, p.MarkInputAnswered(ctx, "c1", "r1"))
}

func TestProjector_UsageSummaryIsSingleton(t *testing.T) {
	p, store, _ := newTestProjector(t)
	ctx := context.Background()

	require.NoError(t, p.Apply(ctx, chatwire.NewUsageSummary(md("c1", 1), []chatwire.ModelUsage{
		{Model: "gpt-4o", PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, 15, 0.01)))
	require.NoError(t, p.Apply(ctx, chatwire.NewUsageSummary(md("c1", 2), []chatwire.ModelUsage{
		{Model: "gpt-4o", PromptTokens: 30, CompletionTokens: 12, TotalTokens: 42},
	}, 42, 0.03)))

	snap, err := store.GetSnapshot(ctx, "c1", 0, 100)
	require.NoError(t, err)
	require.Len(t, snap.Entities, 1)
	usage := findEntity(t, snap, "usage:c1")
	require.Equal(t, 42, usage.Props["total_tokens"])
}

func TestProjector_EndUpdatesSessionStatus(t *testing.T) {
	p, store, _ := newTestProjector(t)
	ctx := context.Background()

	require.NoError(t, p.Apply(ctx, chatwire.NewText(md("c1", 1), "m1", "assistant", "done")))
	require.NoError(t, p.Apply(ctx, chatwire.NewEnd(md("c1", 2), "completed", "workflow finished")))

	rec, ok, err := store.GetSession(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "completed", rec.Status)
	require.Equal(t, uint64(2), rec.LastSeq)
}

func TestProjector_ErrorEventRecordsLastError(t *testing.T) {
	p, store, _ := newTestProjector(t)
	ctx := context.Background()

	require.NoError(t, p.Apply(ctx, chatwire.NewError(md("c1", 1), "runtime_error", "agent crashed", false)))

	snap, err := store.GetSnapshot(ctx, "c1", 0, 100)
	require.NoError(t, err)
	require.Len(t, snap.Entities, 1)
	require.Equal(t, KindError, snap.Entities[0].Kind)

	rec, ok, err := store.GetSession(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "agent crashed", rec.LastError)
}

func TestProjector_MissingChatIDFails(t *testing.T) {
	p, _, _ := newTestProjector(t)
	err := p.Apply(context.Background(), chatwire.NewText(chatwire.EventMetadata{}, "m1", "user", "hi"))
	require.Error(t, err)
}
