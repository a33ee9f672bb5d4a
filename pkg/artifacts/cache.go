package artifacts

import (
	"context"
	"encoding/json"
)

// Artifact is a cached side-panel render for a chat: generated code, a
// workflow diagram, a document. The web client kept only the latest one per
// chat in localStorage; this cache keeps the full set and answers "last" the
// way the panel restore path expects.
type Artifact struct {
	ChatID      string          `json:"chat_id"`
	ArtifactID  string          `json:"artifact_id"`
	Kind        string          `json:"kind,omitempty"`
	Title       string          `json:"title,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Closed      bool            `json:"closed,omitempty"`
	CreatedAtMs int64           `json:"created_at_ms"`
	UpdatedAtMs int64           `json:"updated_at_ms"`
}

// Cache stores artifacts per chat session.
type Cache interface {
	Put(ctx context.Context, art Artifact) error
	Get(ctx context.Context, chatID, artifactID string) (Artifact, bool, error)
	// GetLast returns the most recently updated artifact for the chat.
	GetLast(ctx context.Context, chatID string) (Artifact, bool, error)
	List(ctx context.Context, chatID string, limit int) ([]Artifact, error)
	Close() error
}
