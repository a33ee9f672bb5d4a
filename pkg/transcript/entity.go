package transcript

// Entity kinds produced by the projector.
const (
	KindMessage       = "message"
	KindToolCall      = "tool_call"
	KindPrint         = "print"
	KindArtifact      = "artifact"
	KindUsage         = "usage"
	KindError         = "error"
	KindInputRequest  = "input_request"
	KindSelectSpeaker = "select_speaker"
)

// Entity is a snapshot of one transcript element. Entities are keyed by a
// stable ID (message id, tool call id, artifact id) so replayed events upsert
// instead of duplicating.
type Entity struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	CreatedAtMs int64          `json:"created_at_ms"`
	UpdatedAtMs int64          `json:"updated_at_ms"`
	Props       map[string]any `json:"props,omitempty"`
}

// Clone returns a deep-enough copy for handing across goroutines. Props
// values are shared; callers treat them as immutable.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Props != nil {
		cp.Props = make(map[string]any, len(e.Props))
		for k, v := range e.Props {
			cp.Props[k] = v
		}
	}
	return &cp
}

// Snapshot is the transcript state at a given projection version.
type Snapshot struct {
	ChatID       string    `json:"chat_id"`
	Version      uint64    `json:"version"`
	ServerTimeMs int64     `json:"server_time_ms"`
	Entities     []*Entity `json:"entities"`
}
