package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/chatwire"
)

func TestEventRouter_InMemoryRoundTrip(t *testing.T) {
	router, err := NewEventRouter()
	require.NoError(t, err)
	t.Cleanup(func() { _ = router.Close() })

	received := make(chan chatwire.Event, 8)
	router.AddEventHandler("collect", TopicChat, func(ev chatwire.Event) error {
		received <- ev
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = router.Run(ctx) }()

	select {
	case <-router.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
	require.True(t, router.IsRunning())

	md := chatwire.EventMetadata{ChatID: "c1", Seq: 7}
	require.NoError(t, router.PublishEvent(TopicChat, chatwire.NewText(md, "m1", "assistant", "hello")))

	select {
	case ev := <-received:
		text, ok := ev.(*chatwire.EventText)
		require.True(t, ok)
		require.Equal(t, "hello", text.Content)
		require.Equal(t, uint64(7), ev.Metadata().Seq)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not routed")
	}
}

func TestEventRouter_UndecodableFrameIsDropped(t *testing.T) {
	router, err := NewEventRouter()
	require.NoError(t, err)
	t.Cleanup(func() { _ = router.Close() })

	received := make(chan chatwire.Event, 8)
	router.AddEventHandler("collect", TopicChat, func(ev chatwire.Event) error {
		received <- ev
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = router.Run(ctx) }()

	select {
	case <-router.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}

	require.NoError(t, router.PublishRaw(TopicChat, []byte("not json")))
	md := chatwire.EventMetadata{ChatID: "c1", Seq: 1}
	require.NoError(t, router.PublishEvent(TopicChat, chatwire.NewPrint(md, "info", "still alive")))

	select {
	case ev := <-received:
		// the bad frame was dropped, the next event still arrives
		pr, ok := ev.(*chatwire.EventPrint)
		require.True(t, ok)
		require.Equal(t, "still alive", pr.Message)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not routed")
	}
}
