package transcript

import "context"

// SessionRecord captures persisted chat-level metadata: the fields the web
// frontend kept in localStorage (chat id, cache seed, resume progress) plus
// listing metadata.
type SessionRecord struct {
	ChatID         string `json:"chat_id"`
	WorkflowName   string `json:"workflow_name"`
	EnterpriseID   string `json:"enterprise_id"`
	UserID         string `json:"user_id"`
	CacheSeed      string `json:"cache_seed,omitempty"`
	CreatedAtMs    int64  `json:"created_at_ms"`
	LastActivityMs int64  `json:"last_activity_ms"`
	LastSeq        uint64 `json:"last_seq"`
	Status         string `json:"status"`
	LastError      string `json:"last_error,omitempty"`
}

// Store is the durable transcript projection store.
//
// It holds the canonical entity set per chat and supports snapshot retrieval
// by a per-chat monotonic projection version, plus the session index used for
// resume and listing.
type Store interface {
	Upsert(ctx context.Context, chatID string, version uint64, entity *Entity) error
	GetSnapshot(ctx context.Context, chatID string, sinceVersion uint64, limit int) (*Snapshot, error)
	UpsertSession(ctx context.Context, record SessionRecord) error
	GetSession(ctx context.Context, chatID string) (SessionRecord, bool, error)
	ListSessions(ctx context.Context, limit int, sinceMs int64) ([]SessionRecord, error)
	Close() error
}

func normalizeSessionRecord(record SessionRecord, nowMs int64) SessionRecord {
	if record.CreatedAtMs == 0 {
		record.CreatedAtMs = nowMs
	}
	if record.LastActivityMs == 0 {
		record.LastActivityMs = nowMs
	}
	if record.Status == "" {
		record.Status = "active"
	}
	return record
}
