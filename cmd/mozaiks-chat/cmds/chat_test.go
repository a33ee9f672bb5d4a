package cmds

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/bus"
	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/chatwire"
	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/uihandler"
)

func TestUIToolEventsReachComponentRegistry(t *testing.T) {
	uihandler.Clear()
	t.Cleanup(uihandler.Clear)

	payloads := make(chan json.RawMessage, 4)
	uihandler.RegisterComponent("database_panel", func(e *chatwire.EventUITool) error {
		payloads <- e.Payload
		return nil
	})

	router, err := bus.NewEventRouter()
	require.NoError(t, err)
	t.Cleanup(func() { _ = router.Close() })
	registerUIHandlers(router)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = router.Run(ctx) }()

	select {
	case <-router.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}

	md := chatwire.EventMetadata{ChatID: "c1", Seq: 3}
	require.NoError(t, router.PublishEvent(bus.TopicChat,
		chatwire.NewUITool(md, "r1", "database_panel", json.RawMessage(`{"tables":3}`))))

	select {
	case payload := <-payloads:
		require.JSONEq(t, `{"tables":3}`, string(payload))
	case <-time.After(5 * time.Second):
		t.Fatal("ui_tool payload did not reach the component handler")
	}
}
