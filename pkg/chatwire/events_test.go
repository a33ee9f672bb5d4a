package chatwire

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewEventFromJSON_TypedDecode(t *testing.T) {
	payload := []byte(`{
		"type": "chat.stream",
		"meta": {"id": "5a3cbd7e-93f4-4e1c-9e63-1f2b3c4d5e6f", "chat_id": "c1", "seq": 12},
		"message_id": "m1",
		"delta": "Hel",
		"cumulative": "Hel"
	}`)
	e, err := NewEventFromJSON(payload)
	require.NoError(t, err)

	stream, ok := e.(*EventStream)
	require.True(t, ok)
	require.Equal(t, EventTypeStream, stream.Type())
	require.Equal(t, "c1", stream.Metadata().ChatID)
	require.Equal(t, uint64(12), stream.Metadata().Seq)
	require.Equal(t, "m1", stream.MessageID)
	require.Equal(t, "Hel", stream.Delta)
}

func TestNewEventFromJSON_ToolPair(t *testing.T) {
	call, err := NewEventFromJSON([]byte(`{
		"type": "chat.tool_call",
		"meta": {"chat_id": "c1", "seq": 3},
		"tool_call_id": "t1",
		"name": "generate_schema",
		"arguments": "{\"table\":\"users\"}"
	}`))
	require.NoError(t, err)
	tc, ok := call.(*EventToolCall)
	require.True(t, ok)
	require.Equal(t, "generate_schema", tc.Name)

	resp, err := NewEventFromJSON([]byte(`{
		"type": "chat.tool_response",
		"meta": {"chat_id": "c1", "seq": 4},
		"tool_call_id": "t1",
		"content": "ok"
	}`))
	require.NoError(t, err)
	tr, ok := resp.(*EventToolResponse)
	require.True(t, ok)
	require.Equal(t, tc.ToolCallID, tr.ToolCallID)
}

func TestNewEventFromJSON_UnknownTypeIsRaw(t *testing.T) {
	e, err := NewEventFromJSON([]byte(`{"type": "chat.future_thing", "meta": {"chat_id": "c1"}, "x": 1}`))
	require.NoError(t, err)
	raw, ok := e.(*EventRaw)
	require.True(t, ok)
	require.Equal(t, EventType("chat.future_thing"), raw.Type())
	require.Equal(t, float64(1), raw.Fields["x"])
}

func TestNewEventFromJSON_Errors(t *testing.T) {
	_, err := NewEventFromJSON([]byte(`not json`))
	require.Error(t, err)

	_, err = NewEventFromJSON([]byte(`{"meta": {"chat_id": "c1"}}`))
	require.Error(t, err)
}

func TestMarshalEventRoundTrip(t *testing.T) {
	md := EventMetadata{ID: uuid.New(), ChatID: "c1", WorkflowName: "app_builder", Seq: 7}
	in := NewInputRequest(md, "r1", "Pick a name", []InputField{
		{Name: "app_name", Label: "App name", Kind: "text", Required: true},
		{Name: "tier", Kind: "select", Options: []string{"free", "pro"}},
	})

	b, err := MarshalEvent(in)
	require.NoError(t, err)

	decoded, err := NewEventFromJSON(b)
	require.NoError(t, err)
	out, ok := decoded.(*EventInputRequest)
	require.True(t, ok)
	require.Equal(t, "r1", out.RequestID)
	require.Len(t, out.Fields, 2)
	require.Equal(t, []string{"free", "pro"}, out.Fields[1].Options)
	require.Equal(t, md.ChatID, out.Metadata().ChatID)
}

func TestRegisterEventFactory_Duplicate(t *testing.T) {
	err := RegisterEventFactory(EventTypeText, func() Event { return &EventText{} })
	require.Error(t, err)
}

func TestResumeBoundaryDecode(t *testing.T) {
	e, err := NewEventFromJSON([]byte(`{
		"type": "chat.resume_boundary",
		"meta": {"chat_id": "c1", "seq": 40},
		"last_seq": 39,
		"replayed_events": 39
	}`))
	require.NoError(t, err)
	rb, ok := ToTypedEvent[EventResumeBoundary](e)
	require.True(t, ok)
	require.Equal(t, uint64(39), rb.LastSeq)
}
