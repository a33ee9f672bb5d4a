package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/bus"
	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/chatwire"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func testRef() SessionRef {
	return SessionRef{
		WorkflowName: "app_builder",
		EnterpriseID: "ent-1",
		ChatID:       "chat-1",
		UserID:       "user-1",
	}
}

func startRouter(t *testing.T) (*bus.EventRouter, chan chatwire.Event) {
	t.Helper()
	router, err := bus.NewEventRouter()
	require.NoError(t, err)
	t.Cleanup(func() { _ = router.Close() })

	received := make(chan chatwire.Event, 32)
	router.AddEventHandler("collect", bus.TopicChat, func(ev chatwire.Event) error {
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
	return router, received
}

func wsBase(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestStreamClient_ReceivesEventsAndTracksSeq(t *testing.T) {
	router, received := startRouter(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ws/app_builder/ent-1/chat-1/user-1", r.URL.Path)
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer func() { _ = conn.Close() }()

		md := chatwire.EventMetadata{ChatID: "chat-1", Seq: 1}
		payload, err := chatwire.MarshalEvent(chatwire.NewText(md, "m1", "assistant", "hello"))
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))

		md.Seq = 2
		payload, err = chatwire.MarshalEvent(chatwire.NewPrint(md, "info", "working"))
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))

		// wait for the client to close
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	c, err := NewStreamClient(wsBase(server), testRef(), router)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	for _, want := range []chatwire.EventType{chatwire.EventTypeText, chatwire.EventTypePrint} {
		select {
		case ev := <-received:
			require.Equal(t, want, ev.Type())
		case <-time.After(5 * time.Second):
			t.Fatalf("did not receive %s event", want)
		}
	}
	require.Equal(t, uint64(2), c.LastSeq())
}

func TestStreamClient_ResumeCarriesSinceSeq(t *testing.T) {
	router, received := startRouter(t)

	sinceSeqs := make(chan string, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sinceSeqs <- r.URL.Query().Get("since_seq")
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		md := chatwire.EventMetadata{ChatID: "chat-1", Seq: 5}
		payload, err := chatwire.MarshalEvent(chatwire.NewText(md, "m1", "assistant", "before the drop"))
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
		// server drops the connection
		_ = conn.Close()
	}))
	t.Cleanup(server.Close)

	c, err := NewStreamClient(wsBase(server), testRef(), router)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	require.Equal(t, "", <-sinceSeqs)

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("did not receive first event")
	}

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("read loop did not exit after server drop")
	}
	require.Error(t, c.Err())

	require.NoError(t, c.Resume(context.Background()))
	require.Equal(t, "5", <-sinceSeqs)
}

func TestStreamClient_SendInputResponse(t *testing.T) {
	router, _ := startRouter(t)

	got := make(chan chatwire.InputResponse, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer func() { _ = conn.Close() }()

		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		var resp chatwire.InputResponse
		require.NoError(t, json.Unmarshal(payload, &resp))
		got <- resp
	}))
	t.Cleanup(server.Close)

	c, err := NewStreamClient(wsBase(server), testRef(), router)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.SendInputResponse("r1", map[string]string{"app_name": "todos"}, ""))

	select {
	case resp := <-got:
		require.Equal(t, chatwire.OutboundTypeInputResponse, resp.Type)
		require.Equal(t, "r1", resp.RequestID)
		require.Equal(t, "todos", resp.Values["app_name"])
	case <-time.After(5 * time.Second):
		t.Fatal("server did not receive input response")
	}
}

func TestStreamClient_Validation(t *testing.T) {
	router, _ := startRouter(t)

	_, err := NewStreamClient("", testRef(), router)
	require.Error(t, err)

	_, err = NewStreamClient("ws://localhost:1234", SessionRef{}, router)
	require.Error(t, err)

	_, err = NewStreamClient("ws://localhost:1234", testRef(), nil)
	require.Error(t, err)

	c, err := NewStreamClient("ws://localhost:1234", testRef(), router)
	require.NoError(t, err)
	require.Error(t, c.SendInputResponse("r1", nil, "not connected"))
}
