package cmds

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/transcript"
)

func TestReplayFile_SkipsCorruptAndAnonymousLines(t *testing.T) {
	log := `{"type":"chat.text","meta":{"chat_id":"c1","seq":1},"message_id":"m1","role":"user","content":"build me an app"}
not json at all
{"type":"chat.print","message":"no chat id on this one","level":"info"}

{"type":"chat.print","meta":{"chat_id":"c1","seq":2},"message":"workflow started","level":"info"}
`
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(log), 0o644))

	store := transcript.NewMemoryStore()
	projector, err := transcript.NewProjector(store, transcript.WithWriteThrottle(0))
	require.NoError(t, err)

	ctx := context.Background()
	chatIDs, applied, err := replayFile(ctx, projector, path, "")
	require.NoError(t, err)
	require.Equal(t, 2, applied)
	require.Len(t, chatIDs, 1)
	require.Contains(t, chatIDs, "c1")

	snap, err := store.GetSnapshot(ctx, "c1", 0, 0)
	require.NoError(t, err)
	require.Len(t, snap.Entities, 2)
}

func TestReplayFile_ChatFilter(t *testing.T) {
	log := `{"type":"chat.text","meta":{"chat_id":"c1","seq":1},"message_id":"m1","role":"user","content":"hi"}
{"type":"chat.text","meta":{"chat_id":"c2","seq":1},"message_id":"m2","role":"user","content":"hello"}
`
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(log), 0o644))

	store := transcript.NewMemoryStore()
	projector, err := transcript.NewProjector(store, transcript.WithWriteThrottle(0))
	require.NoError(t, err)

	chatIDs, applied, err := replayFile(context.Background(), projector, path, "c2")
	require.NoError(t, err)
	require.Equal(t, 1, applied)
	require.Len(t, chatIDs, 1)
	require.Contains(t, chatIDs, "c2")
}
