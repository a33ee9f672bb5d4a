package uihandler

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/chatwire"
)

func TestRegisterByType(t *testing.T) {
	Clear()
	t.Cleanup(Clear)

	var seen []string
	RegisterByType(func(e *chatwire.EventText) error {
		seen = append(seen, e.Content)
		return nil
	})

	md := chatwire.EventMetadata{ChatID: "c1", Seq: 1}
	handled, err := Handle(chatwire.NewText(md, "m1", "assistant", "hello"))
	require.NoError(t, err)
	require.True(t, handled)
	require.Equal(t, []string{"hello"}, seen)

	// no handler registered for prints
	handled, err = Handle(chatwire.NewPrint(md, "info", "noise"))
	require.NoError(t, err)
	require.False(t, handled)
}

func TestHandlerError(t *testing.T) {
	Clear()
	t.Cleanup(Clear)

	RegisterByType(func(e *chatwire.EventError) error {
		return errors.Errorf("unrecoverable: %s", e.Message)
	})

	md := chatwire.EventMetadata{ChatID: "c1", Seq: 1}
	handled, err := Handle(chatwire.NewError(md, "runtime_error", "agent crashed", false))
	require.True(t, handled)
	require.Error(t, err)
}

func TestComponentDispatch(t *testing.T) {
	Clear()
	t.Cleanup(Clear)

	var gotPayload json.RawMessage
	RegisterComponent("pricing_table", func(e *chatwire.EventUITool) error {
		gotPayload = e.Payload
		return nil
	})

	md := chatwire.EventMetadata{ChatID: "c1", Seq: 1}
	ev := chatwire.NewUITool(md, "r1", "pricing_table", json.RawMessage(`{"tiers":3}`))

	handled, err := Handle(ev)
	require.NoError(t, err)
	require.True(t, handled)
	require.JSONEq(t, `{"tiers":3}`, string(gotPayload))

	// unknown component is unhandled, not an error
	handled, err = Dispatch(chatwire.NewUITool(md, "r2", "unknown_widget", nil))
	require.NoError(t, err)
	require.False(t, handled)
}

func TestMultipleHandlersAllRun(t *testing.T) {
	Clear()
	t.Cleanup(Clear)

	calls := 0
	RegisterByType(func(e *chatwire.EventPrint) error { calls++; return nil })
	RegisterByType(func(e *chatwire.EventPrint) error { calls++; return nil })

	md := chatwire.EventMetadata{ChatID: "c1", Seq: 1}
	handled, err := Handle(chatwire.NewPrint(md, "info", "two listeners"))
	require.NoError(t, err)
	require.True(t, handled)
	require.Equal(t, 2, calls)
}
