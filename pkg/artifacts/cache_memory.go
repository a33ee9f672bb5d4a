package artifacts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MemoryCache is an in-memory Cache for tests and ephemeral sessions.
type MemoryCache struct {
	mu    sync.RWMutex
	byKey map[string]map[string]Artifact
}

var _ Cache = &MemoryCache{}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{byKey: map[string]map[string]Artifact{}}
}

func (c *MemoryCache) Close() error { return nil }

func (c *MemoryCache) Put(_ context.Context, art Artifact) error {
	if art.ChatID == "" || art.ArtifactID == "" {
		return errors.New("memory artifact cache: chat_id and artifact_id are required")
	}
	now := art.UpdatedAtMs
	if now == 0 {
		now = time.Now().UnixMilli()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	chat := c.byKey[art.ChatID]
	if chat == nil {
		chat = map[string]Artifact{}
		c.byKey[art.ChatID] = chat
	}
	if existing, ok := chat[art.ArtifactID]; ok {
		if art.Kind == "" {
			art.Kind = existing.Kind
		}
		if art.Title == "" {
			art.Title = existing.Title
		}
		if len(art.Payload) == 0 {
			art.Payload = existing.Payload
		}
		art.CreatedAtMs = existing.CreatedAtMs
	}
	if art.CreatedAtMs == 0 {
		art.CreatedAtMs = now
	}
	art.UpdatedAtMs = now
	chat[art.ArtifactID] = art
	return nil
}

func (c *MemoryCache) Get(_ context.Context, chatID, artifactID string) (Artifact, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	art, ok := c.byKey[chatID][artifactID]
	return art, ok, nil
}

func (c *MemoryCache) GetLast(_ context.Context, chatID string) (Artifact, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var last Artifact
	found := false
	for _, art := range c.byKey[chatID] {
		if !found || art.UpdatedAtMs > last.UpdatedAtMs ||
			(art.UpdatedAtMs == last.UpdatedAtMs && art.ArtifactID < last.ArtifactID) {
			last = art
			found = true
		}
	}
	return last, found, nil
}

func (c *MemoryCache) List(_ context.Context, chatID string, limit int) ([]Artifact, error) {
	if limit <= 0 {
		limit = 100
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Artifact, 0, len(c.byKey[chatID]))
	for _, art := range c.byKey[chatID] {
		out = append(out, art)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAtMs != out[j].UpdatedAtMs {
			return out[i].UpdatedAtMs > out[j].UpdatedAtMs
		}
		return out[i].ArtifactID < out[j].ArtifactID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
