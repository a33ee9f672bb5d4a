package transcript

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MemoryStore is an in-memory Store for tests and ephemeral sessions.
type MemoryStore struct {
	mu       sync.RWMutex
	versions map[string]uint64
	entities map[string]map[string]*memoryEntity
	sessions map[string]SessionRecord
}

type memoryEntity struct {
	entity  *Entity
	version uint64
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions: map[string]uint64{},
		entities: map[string]map[string]*memoryEntity{},
		sessions: map[string]SessionRecord{},
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Upsert(_ context.Context, chatID string, version uint64, entity *Entity) error {
	if chatID == "" {
		return errors.New("memory transcript store: chatID is empty")
	}
	if version == 0 {
		return errors.New("memory transcript store: version is 0")
	}
	if entity == nil || entity.ID == "" || entity.Kind == "" {
		return errors.New("memory transcript store: invalid entity")
	}

	now := time.Now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	chat := s.entities[chatID]
	if chat == nil {
		chat = map[string]*memoryEntity{}
		s.entities[chatID] = chat
	}

	cp := entity.Clone()
	if existing, ok := chat[cp.ID]; ok && existing.entity.CreatedAtMs > 0 {
		cp.CreatedAtMs = existing.entity.CreatedAtMs
	} else if cp.CreatedAtMs == 0 {
		cp.CreatedAtMs = now
	}
	cp.UpdatedAtMs = now
	chat[cp.ID] = &memoryEntity{entity: cp, version: version}

	if version > s.versions[chatID] {
		s.versions[chatID] = version
	}

	rec := s.sessions[chatID]
	rec.ChatID = chatID
	if rec.CreatedAtMs == 0 {
		rec.CreatedAtMs = now
	}
	if now > rec.LastActivityMs {
		rec.LastActivityMs = now
	}
	if rec.Status == "" {
		rec.Status = "active"
	}
	s.sessions[chatID] = rec

	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, chatID string, sinceVersion uint64, limit int) (*Snapshot, error) {
	if chatID == "" {
		return nil, errors.New("memory transcript store: chatID is empty")
	}
	if limit <= 0 {
		limit = 5000
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type versioned struct {
		e       *Entity
		version uint64
	}
	out := make([]versioned, 0, len(s.entities[chatID]))
	for _, me := range s.entities[chatID] {
		if me.version > sinceVersion {
			out = append(out, versioned{e: me.entity.Clone(), version: me.version})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].version != out[j].version {
			return out[i].version < out[j].version
		}
		return out[i].e.ID < out[j].e.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}

	entities := make([]*Entity, 0, len(out))
	for _, v := range out {
		entities = append(entities, v.e)
	}

	return &Snapshot{
		ChatID:       chatID,
		Version:      s.versions[chatID],
		ServerTimeMs: time.Now().UnixMilli(),
		Entities:     entities,
	}, nil
}

func (s *MemoryStore) UpsertSession(_ context.Context, record SessionRecord) error {
	now := time.Now().UnixMilli()
	record = normalizeSessionRecord(record, now)
	if record.ChatID == "" {
		return errors.New("memory transcript store: chatID is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[record.ChatID]
	if !ok {
		s.sessions[record.ChatID] = record
		return nil
	}
	if record.WorkflowName != "" {
		existing.WorkflowName = record.WorkflowName
	}
	if record.EnterpriseID != "" {
		existing.EnterpriseID = record.EnterpriseID
	}
	if record.UserID != "" {
		existing.UserID = record.UserID
	}
	if record.CacheSeed != "" {
		existing.CacheSeed = record.CacheSeed
	}
	if existing.CreatedAtMs == 0 {
		existing.CreatedAtMs = record.CreatedAtMs
	}
	if record.LastActivityMs > existing.LastActivityMs {
		existing.LastActivityMs = record.LastActivityMs
	}
	if record.LastSeq > existing.LastSeq {
		existing.LastSeq = record.LastSeq
	}
	if record.Status != "" {
		existing.Status = record.Status
	}
	if record.LastError != "" {
		existing.LastError = record.LastError
	}
	s.sessions[record.ChatID] = existing
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, chatID string) (SessionRecord, bool, error) {
	if chatID == "" {
		return SessionRecord{}, false, errors.New("memory transcript store: chatID is empty")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[chatID]
	return rec, ok, nil
}

func (s *MemoryStore) ListSessions(_ context.Context, limit int, sinceMs int64) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]SessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		if sinceMs > 0 && rec.LastActivityMs < sinceMs {
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].LastActivityMs != records[j].LastActivityMs {
			return records[i].LastActivityMs > records[j].LastActivityMs
		}
		return records[i].ChatID < records[j].ChatID
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
