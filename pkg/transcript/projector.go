package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/artifacts"
	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/chatwire"
)

// Projector folds the chat.* event stream into entity snapshots.
//
// It owns the client-side reducer semantics: streaming text assembly,
// tool-call/response pairing, artifact lifecycle, usage accounting, and
// resume/replay dedupe by server sequence. Entities are written to the Store
// under a per-chat monotonic projection version; streaming deltas are
// throttled so a fast token stream does not turn into one write per token.
type Projector struct {
	store    Store
	arts     artifacts.Cache
	throttle time.Duration

	mu    sync.Mutex
	chats map[string]*chatState
}

type chatState struct {
	version   uint64
	highWater uint64
	hydrated  bool

	streams   map[string]*pendingStream
	toolCalls map[string]cachedToolCall
	inputs    map[string]*Entity
}

type pendingStream struct {
	entity    *Entity
	dirty     bool
	lastWrite time.Time
}

type cachedToolCall struct {
	Name     string
	RawArgs  string
	InputObj map[string]any
}

type ProjectorOption func(*Projector)

// WithArtifactCache mirrors artifact lifecycle events into the artifact
// cache so the side panel can be restored without replaying the transcript.
func WithArtifactCache(c artifacts.Cache) ProjectorOption {
	return func(p *Projector) { p.arts = c }
}

// WithWriteThrottle overrides the minimum interval between store writes for
// a single streaming message. Zero writes every delta (useful in tests).
func WithWriteThrottle(d time.Duration) ProjectorOption {
	return func(p *Projector) { p.throttle = d }
}

func NewProjector(store Store, opts ...ProjectorOption) (*Projector, error) {
	if store == nil {
		return nil, errors.New("projector: store is nil")
	}
	p := &Projector{
		store:    store,
		throttle: 250 * time.Millisecond,
		chats:    map[string]*chatState{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// chatStateLocked lazily hydrates per-chat state from the store so a resumed
// process continues version and seq progression instead of restarting at 0.
func (p *Projector) chatStateLocked(ctx context.Context, chatID string) *chatState {
	st, ok := p.chats[chatID]
	if !ok {
		st = &chatState{
			streams:   map[string]*pendingStream{},
			toolCalls: map[string]cachedToolCall{},
			inputs:    map[string]*Entity{},
		}
		p.chats[chatID] = st
	}
	if !st.hydrated {
		st.hydrated = true
		if snap, err := p.store.GetSnapshot(ctx, chatID, 0, 1); err == nil && snap != nil {
			st.version = snap.Version
		}
		if rec, ok, err := p.store.GetSession(ctx, chatID); err == nil && ok {
			st.highWater = rec.LastSeq
		}
	}
	return st
}

// Apply folds one event into the transcript. Replayed events (seq at or
// below the chat's high-water mark) are applied idempotently: stable entity
// IDs make the upserts no-ops rather than duplicates.
func (p *Projector) Apply(ctx context.Context, e chatwire.Event) error {
	if p == nil || e == nil {
		return nil
	}
	md := e.Metadata()
	chatID := md.ChatID
	if chatID == "" {
		return errors.Errorf("projector: event %s has no chat_id", e.Type())
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.chatStateLocked(ctx, chatID)
	replay := md.Seq > 0 && md.Seq <= st.highWater
	if md.Seq > st.highWater {
		st.highWater = md.Seq
	}

	log.Debug().
		Str("component", "projector").
		Str("event_type", string(e.Type())).
		Str("chat_id", chatID).
		Uint64("seq", md.Seq).
		Bool("replay", replay).
		Msg("applying event")

	switch ev := e.(type) {
	case *chatwire.EventStream:
		return p.applyStreamLocked(ctx, st, chatID, md, ev, replay)
	case *chatwire.EventText:
		return p.applyTextLocked(ctx, st, chatID, md, ev)
	case *chatwire.EventPrint:
		return p.upsertLocked(ctx, st, chatID, &Entity{
			ID:   fallbackEntityID("print", md),
			Kind: KindPrint,
			Props: map[string]any{
				"level":   ev.Level,
				"message": ev.Message,
				"agent":   md.Agent,
			},
		})
	case *chatwire.EventToolCall:
		return p.applyToolCallLocked(ctx, st, chatID, ev)
	case *chatwire.EventToolResponse:
		return p.applyToolResponseLocked(ctx, st, chatID, ev)
	case *chatwire.EventInputRequest:
		entity := &Entity{
			ID:   ev.RequestID,
			Kind: KindInputRequest,
			Props: map[string]any{
				"prompt":  ev.Prompt,
				"fields":  ev.Fields,
				"agent":   md.Agent,
				"pending": true,
			},
		}
		st.inputs[ev.RequestID] = entity
		return p.upsertLocked(ctx, st, chatID, entity)
	case *chatwire.EventSelectSpeaker:
		entity := &Entity{
			ID:   ev.RequestID,
			Kind: KindSelectSpeaker,
			Props: map[string]any{
				"prompt":  ev.Prompt,
				"agents":  ev.Agents,
				"pending": true,
			},
		}
		st.inputs[ev.RequestID] = entity
		return p.upsertLocked(ctx, st, chatID, entity)
	case *chatwire.EventUsageSummary:
		return p.upsertLocked(ctx, st, chatID, &Entity{
			ID:   "usage:" + chatID,
			Kind: KindUsage,
			Props: map[string]any{
				"models":       ev.Models,
				"total_tokens": ev.TotalTokens,
				"total_cost":   ev.TotalCost,
			},
		})
	case *chatwire.EventArtifact:
		return p.applyArtifactLocked(ctx, st, chatID, ev)
	case *chatwire.EventError:
		if err := p.upsertLocked(ctx, st, chatID, &Entity{
			ID:   fallbackEntityID("error", md),
			Kind: KindError,
			Props: map[string]any{
				"code":        ev.Code,
				"message":     ev.Message,
				"recoverable": ev.Recoverable,
			},
		}); err != nil {
			return err
		}
		return p.store.UpsertSession(ctx, SessionRecord{
			ChatID:    chatID,
			LastSeq:   st.highWater,
			LastError: ev.Message,
		})
	case *chatwire.EventResumeBoundary:
		if ev.LastSeq > st.highWater {
			st.highWater = ev.LastSeq
		}
		if err := p.flushChatLocked(ctx, st, chatID); err != nil {
			return err
		}
		return p.store.UpsertSession(ctx, SessionRecord{ChatID: chatID, LastSeq: st.highWater})
	case *chatwire.EventEnd:
		if err := p.flushChatLocked(ctx, st, chatID); err != nil {
			return err
		}
		status := ev.Status
		if status == "" {
			status = "completed"
		}
		return p.store.UpsertSession(ctx, SessionRecord{
			ChatID:  chatID,
			LastSeq: st.highWater,
			Status:  status,
		})
	case *chatwire.EventUITool, *chatwire.EventRaw:
		// Rendering concerns; nothing durable to project.
		return nil
	}
	return nil
}

func (p *Projector) applyStreamLocked(ctx context.Context, st *chatState, chatID string, md chatwire.EventMetadata, ev *chatwire.EventStream, replay bool) error {
	// Delta appends are not idempotent: a replayed delta would double its text.
	// Cumulative frames overwrite, so they stay safe to re-apply.
	if replay && ev.Cumulative == "" {
		return nil
	}
	id := ev.MessageID
	if id == "" {
		id = fallbackEntityID("msg", md)
	}
	ps, ok := st.streams[id]
	if !ok {
		ps = &pendingStream{
			entity: &Entity{
				ID:   id,
				Kind: KindMessage,
				Props: map[string]any{
					"role":      "assistant",
					"agent":     md.Agent,
					"text":      "",
					"streaming": true,
				},
			},
		}
		st.streams[id] = ps
	}
	text, _ := ps.entity.Props["text"].(string)
	if ev.Cumulative != "" {
		text = ev.Cumulative
	} else {
		text += ev.Delta
	}
	ps.entity.Props["text"] = text
	ps.dirty = true

	if p.throttle > 0 && time.Since(ps.lastWrite) < p.throttle {
		return nil
	}
	return p.writeStreamLocked(ctx, st, chatID, ps)
}

func (p *Projector) applyTextLocked(ctx context.Context, st *chatState, chatID string, md chatwire.EventMetadata, ev *chatwire.EventText) error {
	id := ev.MessageID
	if id == "" {
		id = fallbackEntityID("msg", md)
	}
	role := ev.Role
	if role == "" {
		role = "assistant"
	}
	delete(st.streams, id)
	return p.upsertLocked(ctx, st, chatID, &Entity{
		ID:   id,
		Kind: KindMessage,
		Props: map[string]any{
			"role":      role,
			"agent":     md.Agent,
			"text":      ev.Content,
			"streaming": false,
		},
	})
}

func (p *Projector) applyToolCallLocked(ctx context.Context, st *chatState, chatID string, ev *chatwire.EventToolCall) error {
	var inputObj map[string]any
	if ev.Arguments != "" {
		_ = json.Unmarshal([]byte(ev.Arguments), &inputObj)
	}
	st.toolCalls[ev.ToolCallID] = cachedToolCall{Name: ev.Name, RawArgs: ev.Arguments, InputObj: inputObj}
	props := map[string]any{
		"name":   ev.Name,
		"status": "called",
	}
	if inputObj != nil {
		props["input"] = inputObj
	} else if ev.Arguments != "" {
		props["arguments"] = ev.Arguments
	}
	return p.upsertLocked(ctx, st, chatID, &Entity{ID: ev.ToolCallID, Kind: KindToolCall, Props: props})
}

func (p *Projector) applyToolResponseLocked(ctx context.Context, st *chatState, chatID string, ev *chatwire.EventToolResponse) error {
	props := map[string]any{
		"status": "done",
		"result": ev.Content,
	}
	// Responses arrive without the tool name; pair them through the call cache.
	if ctc, ok := st.toolCalls[ev.ToolCallID]; ok {
		props["name"] = ctc.Name
		if ctc.InputObj != nil {
			props["input"] = ctc.InputObj
		} else if ctc.RawArgs != "" {
			props["arguments"] = ctc.RawArgs
		}
	}
	if ev.Error != "" {
		props["status"] = "error"
		props["error"] = ev.Error
	}
	return p.upsertLocked(ctx, st, chatID, &Entity{ID: ev.ToolCallID, Kind: KindToolCall, Props: props})
}

func (p *Projector) applyArtifactLocked(ctx context.Context, st *chatState, chatID string, ev *chatwire.EventArtifact) error {
	if ev.ArtifactID == "" {
		return errors.New("projector: artifact event has no artifact_id")
	}
	var payload any
	if len(ev.Payload) > 0 {
		_ = json.Unmarshal(ev.Payload, &payload)
	}
	props := map[string]any{
		"artifact_kind": ev.Kind,
		"title":         ev.Title,
		"phase":         ev.Phase,
		"closed":        ev.Phase == chatwire.ArtifactPhaseClose,
	}
	if payload != nil {
		props["payload"] = payload
	}
	if err := p.upsertLocked(ctx, st, chatID, &Entity{ID: ev.ArtifactID, Kind: KindArtifact, Props: props}); err != nil {
		return err
	}
	if p.arts != nil {
		// Cache writes are best-effort; a full transcript replay can rebuild them.
		err := p.arts.Put(ctx, artifacts.Artifact{
			ChatID:     chatID,
			ArtifactID: ev.ArtifactID,
			Kind:       ev.Kind,
			Title:      ev.Title,
			Payload:    ev.Payload,
			Closed:     ev.Phase == chatwire.ArtifactPhaseClose,
		})
		if err != nil {
			log.Warn().Err(err).Str("component", "projector").Str("chat_id", chatID).
				Str("artifact_id", ev.ArtifactID).Msg("artifact cache write failed")
		}
	}
	return nil
}

func (p *Projector) writeStreamLocked(ctx context.Context, st *chatState, chatID string, ps *pendingStream) error {
	if !ps.dirty {
		return nil
	}
	if err := p.upsertLocked(ctx, st, chatID, ps.entity.Clone()); err != nil {
		return err
	}
	ps.dirty = false
	ps.lastWrite = time.Now()
	return nil
}

func (p *Projector) upsertLocked(ctx context.Context, st *chatState, chatID string, entity *Entity) error {
	st.version++
	if err := p.store.Upsert(ctx, chatID, st.version, entity); err != nil {
		return errors.Wrapf(err, "projector: upsert %s/%s", chatID, entity.ID)
	}
	return nil
}

func (p *Projector) flushChatLocked(ctx context.Context, st *chatState, chatID string) error {
	for id, ps := range st.streams {
		if err := p.writeStreamLocked(ctx, st, chatID, ps); err != nil {
			return errors.Wrapf(err, "projector: flush stream %s", id)
		}
	}
	return nil
}

// Flush writes all dirty streaming messages and persists seq progression.
// Call on shutdown and before reading back a snapshot mid-stream.
func (p *Projector) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for chatID, st := range p.chats {
		if err := p.flushChatLocked(ctx, st, chatID); err != nil {
			return err
		}
		if err := p.store.UpsertSession(ctx, SessionRecord{ChatID: chatID, LastSeq: st.highWater}); err != nil {
			return err
		}
	}
	return nil
}

// MarkInputAnswered clears the pending flag on an input_request or
// select_speaker entity once the reply has been submitted.
func (p *Projector) MarkInputAnswered(ctx context.Context, chatID, requestID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.chatStateLocked(ctx, chatID)
	entity, ok := st.inputs[requestID]
	if !ok {
		return errors.Errorf("projector: no pending input %s", requestID)
	}
	entity.Props["pending"] = false
	entity.Props["answered"] = true
	delete(st.inputs, requestID)
	return p.upsertLocked(ctx, st, chatID, entity)
}

// LastSeq returns the resume high-water mark for a chat.
func (p *Projector) LastSeq(ctx context.Context, chatID string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chatStateLocked(ctx, chatID).highWater
}

func fallbackEntityID(prefix string, md chatwire.EventMetadata) string {
	if md.ID != uuid.Nil {
		return prefix + "-" + md.ID.String()
	}
	if md.Seq > 0 {
		return fmt.Sprintf("%s-%d", prefix, md.Seq)
	}
	return prefix + "-" + uuid.NewString()
}
