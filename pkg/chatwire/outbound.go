package chatwire

import "encoding/json"

// Outbound frames are client-to-server messages. They share the envelope
// shape of chat.* events but are never decoded through the factory registry
// on this side.

const (
	OutboundTypeInputResponse  = "chat.input_response"
	OutboundTypeUIToolResponse = "chat.ui_tool_response"
	OutboundTypePing           = "ws.ping"
)

// InputResponse answers a chat.input_request.
type InputResponse struct {
	Type      string            `json:"type"`
	RequestID string            `json:"request_id"`
	Values    map[string]string `json:"values,omitempty"`
	Text      string            `json:"text,omitempty"`
}

func NewInputResponse(requestID string, values map[string]string, text string) *InputResponse {
	return &InputResponse{Type: OutboundTypeInputResponse, RequestID: requestID, Values: values, Text: text}
}

// UIToolResponse answers a chat.ui_tool interaction.
type UIToolResponse struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Component string          `json:"component,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func NewUIToolResponse(requestID, component string, payload json.RawMessage) *UIToolResponse {
	return &UIToolResponse{Type: OutboundTypeUIToolResponse, RequestID: requestID, Component: component, Payload: payload}
}

// Ping asks the server for a pong; used for liveness on idle streams.
type Ping struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id,omitempty"`
}

func NewPing(chatID string) *Ping {
	return &Ping{Type: OutboundTypePing, ChatID: chatID}
}
