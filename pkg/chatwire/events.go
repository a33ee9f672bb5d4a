package chatwire

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType is the namespaced wire type of a runtime event, e.g. "chat.text".
type EventType string

const (
	EventTypeStream         EventType = "chat.stream"
	EventTypeText           EventType = "chat.text"
	EventTypePrint          EventType = "chat.print"
	EventTypeToolCall       EventType = "chat.tool_call"
	EventTypeToolResponse   EventType = "chat.tool_response"
	EventTypeInputRequest   EventType = "chat.input_request"
	EventTypeSelectSpeaker  EventType = "chat.select_speaker"
	EventTypeUsageSummary   EventType = "chat.usage_summary"
	EventTypeArtifact       EventType = "chat.artifact"
	EventTypeUITool         EventType = "chat.ui_tool"
	EventTypeError          EventType = "chat.error"
	EventTypeResumeBoundary EventType = "chat.resume_boundary"
	EventTypeEnd            EventType = "chat.end"
)

// EventMetadata carries the routing context the runtime stamps on every event.
// Seq is the server-assigned monotonic sequence within a chat; it is what
// resume/replay dedupe is keyed on.
type EventMetadata struct {
	ID              uuid.UUID `json:"id"`
	ChatID          string    `json:"chat_id"`
	WorkflowName    string    `json:"workflow_name,omitempty"`
	EnterpriseID    string    `json:"enterprise_id,omitempty"`
	UserID          string    `json:"user_id,omitempty"`
	Agent           string    `json:"agent,omitempty"`
	Seq             uint64    `json:"seq,omitempty"`
	EmittedAtUnixMs int64     `json:"emitted_at_unix_ms,omitempty"`
}

// Event is a decoded chat.* wire event.
type Event interface {
	Type() EventType
	Metadata() EventMetadata
}

// EventImpl is the common base embedded by all typed events.
type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`
}

func (e *EventImpl) Type() EventType         { return e.Type_ }
func (e *EventImpl) Metadata() EventMetadata { return e.Metadata_ }

// EventStream is a streaming assistant text fragment. MessageID groups deltas
// belonging to the same logical message; Cumulative carries the full text so
// far so a late joiner can render without replaying every delta.
type EventStream struct {
	EventImpl
	MessageID  string `json:"message_id"`
	Delta      string `json:"delta"`
	Cumulative string `json:"cumulative,omitempty"`
}

func NewStream(metadata EventMetadata, messageID, delta, cumulative string) *EventStream {
	return &EventStream{
		EventImpl:  EventImpl{Type_: EventTypeStream, Metadata_: metadata},
		MessageID:  messageID,
		Delta:      delta,
		Cumulative: cumulative,
	}
}

var _ Event = &EventStream{}

// EventText is a complete message from an agent. When MessageID matches an
// open stream, it finalizes that stream instead of opening a new message.
type EventText struct {
	EventImpl
	MessageID string `json:"message_id,omitempty"`
	Role      string `json:"role,omitempty"` // assistant|user|system
	Content   string `json:"content"`
}

func NewText(metadata EventMetadata, messageID, role, content string) *EventText {
	return &EventText{
		EventImpl: EventImpl{Type_: EventTypeText, Metadata_: metadata},
		MessageID: messageID,
		Role:      role,
		Content:   content,
	}
}

var _ Event = &EventText{}

// EventPrint is a console/progress line emitted by the runtime.
type EventPrint struct {
	EventImpl
	Level   string `json:"level,omitempty"` // info|warn|error
	Message string `json:"message"`
}

func NewPrint(metadata EventMetadata, level, message string) *EventPrint {
	return &EventPrint{
		EventImpl: EventImpl{Type_: EventTypePrint, Metadata_: metadata},
		Level:     level,
		Message:   message,
	}
}

var _ Event = &EventPrint{}

// EventToolCall announces that an agent invoked a tool. Arguments is the raw
// JSON string as produced by the runtime; it is not parsed at the wire layer.
type EventToolCall struct {
	EventImpl
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments,omitempty"`
}

func NewToolCall(metadata EventMetadata, toolCallID, name, arguments string) *EventToolCall {
	return &EventToolCall{
		EventImpl:  EventImpl{Type_: EventTypeToolCall, Metadata_: metadata},
		ToolCallID: toolCallID,
		Name:       name,
		Arguments:  arguments,
	}
}

var _ Event = &EventToolCall{}

// EventToolResponse carries the result for a previously announced tool call.
type EventToolResponse struct {
	EventImpl
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content,omitempty"`
	Error      string `json:"error,omitempty"`
}

func NewToolResponse(metadata EventMetadata, toolCallID, content, errMsg string) *EventToolResponse {
	return &EventToolResponse{
		EventImpl:  EventImpl{Type_: EventTypeToolResponse, Metadata_: metadata},
		ToolCallID: toolCallID,
		Content:    content,
		Error:      errMsg,
	}
}

var _ Event = &EventToolResponse{}

// InputField describes a single field of an input request form.
type InputField struct {
	Name     string   `json:"name"`
	Label    string   `json:"label,omitempty"`
	Kind     string   `json:"kind,omitempty"` // text|select|confirm
	Options  []string `json:"options,omitempty"`
	Required bool     `json:"required,omitempty"`
	Default  string   `json:"default,omitempty"`
}

// EventInputRequest asks the user for input before the workflow continues.
type EventInputRequest struct {
	EventImpl
	RequestID string       `json:"request_id"`
	Prompt    string       `json:"prompt,omitempty"`
	Fields    []InputField `json:"fields,omitempty"`
	TimeoutMs int64        `json:"timeout_ms,omitempty"`
}

func NewInputRequest(metadata EventMetadata, requestID, prompt string, fields []InputField) *EventInputRequest {
	return &EventInputRequest{
		EventImpl: EventImpl{Type_: EventTypeInputRequest, Metadata_: metadata},
		RequestID: requestID,
		Prompt:    prompt,
		Fields:    fields,
	}
}

var _ Event = &EventInputRequest{}

// EventSelectSpeaker asks the user to pick the next speaking agent.
type EventSelectSpeaker struct {
	EventImpl
	RequestID string   `json:"request_id"`
	Prompt    string   `json:"prompt,omitempty"`
	Agents    []string `json:"agents"`
}

func NewSelectSpeaker(metadata EventMetadata, requestID, prompt string, agents []string) *EventSelectSpeaker {
	return &EventSelectSpeaker{
		EventImpl: EventImpl{Type_: EventTypeSelectSpeaker, Metadata_: metadata},
		RequestID: requestID,
		Prompt:    prompt,
		Agents:    agents,
	}
}

var _ Event = &EventSelectSpeaker{}

// ModelUsage is a per-model slice of a usage summary.
type ModelUsage struct {
	Model            string  `json:"model"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost,omitempty"`
}

// EventUsageSummary reports cumulative token/cost accounting for the chat.
type EventUsageSummary struct {
	EventImpl
	Models      []ModelUsage `json:"models,omitempty"`
	TotalTokens int          `json:"total_tokens"`
	TotalCost   float64      `json:"total_cost,omitempty"`
}

func NewUsageSummary(metadata EventMetadata, models []ModelUsage, totalTokens int, totalCost float64) *EventUsageSummary {
	return &EventUsageSummary{
		EventImpl:   EventImpl{Type_: EventTypeUsageSummary, Metadata_: metadata},
		Models:      models,
		TotalTokens: totalTokens,
		TotalCost:   totalCost,
	}
}

var _ Event = &EventUsageSummary{}

// Artifact lifecycle phases.
const (
	ArtifactPhaseOpen   = "open"
	ArtifactPhaseUpdate = "update"
	ArtifactPhaseClose  = "close"
)

// EventArtifact drives the artifact side panel: open creates a panel, update
// patches its payload, close marks it done.
type EventArtifact struct {
	EventImpl
	ArtifactID string          `json:"artifact_id"`
	Kind       string          `json:"kind,omitempty"` // code|diagram|document|...
	Title      string          `json:"title,omitempty"`
	Phase      string          `json:"phase"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func NewArtifact(metadata EventMetadata, artifactID, kind, title, phase string, payload json.RawMessage) *EventArtifact {
	return &EventArtifact{
		EventImpl:  EventImpl{Type_: EventTypeArtifact, Metadata_: metadata},
		ArtifactID: artifactID,
		Kind:       kind,
		Title:      title,
		Phase:      phase,
		Payload:    payload,
	}
}

var _ Event = &EventArtifact{}

// EventUITool carries a workflow-specific UI payload addressed to a named
// component. Components are resolved client-side via the uihandler registry.
type EventUITool struct {
	EventImpl
	RequestID string          `json:"request_id,omitempty"`
	Component string          `json:"component"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func NewUITool(metadata EventMetadata, requestID, component string, payload json.RawMessage) *EventUITool {
	return &EventUITool{
		EventImpl: EventImpl{Type_: EventTypeUITool, Metadata_: metadata},
		RequestID: requestID,
		Component: component,
		Payload:   payload,
	}
}

var _ Event = &EventUITool{}

// EventError reports a runtime-side failure. Recoverable errors leave the
// chat resumable; non-recoverable ones are followed by chat.end.
type EventError struct {
	EventImpl
	Code        string `json:"code,omitempty"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable,omitempty"`
}

func NewError(metadata EventMetadata, code, message string, recoverable bool) *EventError {
	return &EventError{
		EventImpl:   EventImpl{Type_: EventTypeError, Metadata_: metadata},
		Code:        code,
		Message:     message,
		Recoverable: recoverable,
	}
}

var _ Event = &EventError{}

// EventResumeBoundary separates replayed history from live events on a
// resumed stream. Events with Seq <= LastSeq are replay.
type EventResumeBoundary struct {
	EventImpl
	LastSeq        uint64 `json:"last_seq"`
	ReplayedEvents int    `json:"replayed_events,omitempty"`
}

func NewResumeBoundary(metadata EventMetadata, lastSeq uint64, replayedEvents int) *EventResumeBoundary {
	return &EventResumeBoundary{
		EventImpl:      EventImpl{Type_: EventTypeResumeBoundary, Metadata_: metadata},
		LastSeq:        lastSeq,
		ReplayedEvents: replayedEvents,
	}
}

var _ Event = &EventResumeBoundary{}

// EventEnd terminates the stream.
type EventEnd struct {
	EventImpl
	Status        string `json:"status"` // completed|error|cancelled
	Reason        string `json:"reason,omitempty"`
	EndedAtUnixMs int64  `json:"ended_at_unix_ms,omitempty"`
}

func NewEnd(metadata EventMetadata, status, reason string) *EventEnd {
	return &EventEnd{
		EventImpl:     EventImpl{Type_: EventTypeEnd, Metadata_: metadata},
		Status:        status,
		Reason:        reason,
		EndedAtUnixMs: time.Now().UnixMilli(),
	}
}

var _ Event = &EventEnd{}

// EventRaw holds an event whose type has no registered factory. Unknown types
// are carried through instead of rejected so older clients survive protocol
// additions.
type EventRaw struct {
	EventImpl
	Fields map[string]any `json:"-"`
}

var _ Event = &EventRaw{}
