package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite transcript store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle for read-only inspection commands.
func (s *SQLiteStore) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func (s *SQLiteStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcript_versions (
		  chat_id TEXT PRIMARY KEY,
		  version INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS transcript_entities (
		  chat_id TEXT NOT NULL,
		  entity_id TEXT NOT NULL,
		  kind TEXT NOT NULL,
		  created_at_ms INTEGER NOT NULL,
		  updated_at_ms INTEGER NOT NULL,
		  version INTEGER NOT NULL,
		  props_json TEXT NOT NULL,
		  PRIMARY KEY (chat_id, entity_id)
		);`,
		`CREATE INDEX IF NOT EXISTS transcript_entities_by_version
		  ON transcript_entities(chat_id, version);`,
		`CREATE INDEX IF NOT EXISTS transcript_entities_by_created
		  ON transcript_entities(chat_id, created_at_ms);`,
		`CREATE TABLE IF NOT EXISTS chat_sessions (
		  chat_id TEXT PRIMARY KEY,
		  workflow_name TEXT NOT NULL DEFAULT '',
		  enterprise_id TEXT NOT NULL DEFAULT '',
		  user_id TEXT NOT NULL DEFAULT '',
		  cache_seed TEXT NOT NULL DEFAULT '',
		  created_at_ms INTEGER NOT NULL,
		  last_activity_ms INTEGER NOT NULL,
		  last_seq INTEGER NOT NULL DEFAULT 0,
		  status TEXT NOT NULL DEFAULT 'active',
		  last_error TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS chat_sessions_by_last_activity
		  ON chat_sessions(last_activity_ms DESC, chat_id ASC);`,
		`CREATE INDEX IF NOT EXISTS chat_sessions_by_workflow
		  ON chat_sessions(workflow_name);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite transcript store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, chatID string, version uint64, entity *Entity) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	if chatID == "" {
		return errors.New("sqlite transcript store: chatID is empty")
	}
	if version == 0 {
		return errors.New("sqlite transcript store: version is 0")
	}
	if entity == nil {
		return errors.New("sqlite transcript store: entity is nil")
	}
	if entity.ID == "" {
		return errors.New("sqlite transcript store: entity.id is empty")
	}
	if entity.Kind == "" {
		return errors.New("sqlite transcript store: entity.kind is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UnixMilli()
	versionI64, err := uint64ToInt64(version)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	_ = tx.QueryRowContext(ctx, `SELECT version FROM transcript_versions WHERE chat_id = ?`, chatID).Scan(&current)
	newVersion := current
	if versionI64 > current {
		newVersion = versionI64
	}

	var existingCreated int64
	err = tx.QueryRowContext(ctx, `SELECT created_at_ms FROM transcript_entities WHERE chat_id = ? AND entity_id = ?`, chatID, entity.ID).
		Scan(&existingCreated)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	createdAt := existingCreated
	if createdAt == 0 {
		if entity.CreatedAtMs > 0 {
			createdAt = entity.CreatedAtMs
		} else {
			createdAt = now
		}
	}

	entity.CreatedAtMs = createdAt
	entity.UpdatedAtMs = now

	propsJSON, err := json.Marshal(entity.Props)
	if err != nil {
		return errors.Wrap(err, "sqlite transcript store: marshal props")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transcript_entities(chat_id, entity_id, kind, created_at_ms, updated_at_ms, version, props_json)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, entity_id) DO UPDATE SET
		  kind = excluded.kind,
		  updated_at_ms = excluded.updated_at_ms,
		  version = excluded.version,
		  props_json = excluded.props_json
	`, chatID, entity.ID, entity.Kind, createdAt, now, versionI64, string(propsJSON)); err != nil {
		return errors.Wrap(err, "sqlite transcript store: upsert entity")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transcript_versions(chat_id, version)
		VALUES(?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET version = excluded.version
	`, chatID, newVersion); err != nil {
		return errors.Wrap(err, "sqlite transcript store: upsert version")
	}

	// Keep the session index progression in sync with entity upserts.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chat_sessions (
			chat_id, workflow_name, enterprise_id, user_id, cache_seed,
			created_at_ms, last_activity_ms, last_seq, status, last_error
		) VALUES (?, '', '', '', '', ?, ?, 0, 'active', '')
		ON CONFLICT(chat_id) DO UPDATE SET
			created_at_ms = CASE
				WHEN chat_sessions.created_at_ms > 0 THEN chat_sessions.created_at_ms
				ELSE excluded.created_at_ms
			END,
			last_activity_ms = CASE
				WHEN excluded.last_activity_ms > chat_sessions.last_activity_ms THEN excluded.last_activity_ms
				ELSE chat_sessions.last_activity_ms
			END
	`, chatID, now, now); err != nil {
		return errors.Wrap(err, "sqlite transcript store: touch session")
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, chatID string, sinceVersion uint64, limit int) (*Snapshot, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite transcript store: db is nil")
	}
	if chatID == "" {
		return nil, errors.New("sqlite transcript store: chatID is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 5000
	}

	var current int64
	_ = s.db.QueryRowContext(ctx, `SELECT version FROM transcript_versions WHERE chat_id = ?`, chatID).Scan(&current)

	var query string
	var args []any
	if sinceVersion == 0 {
		// Full snapshot in stable projection order.
		query = `
			SELECT entity_id, kind, created_at_ms, updated_at_ms, props_json
			FROM transcript_entities
			WHERE chat_id = ?
			ORDER BY version ASC, entity_id ASC
			LIMIT ?
		`
		args = []any{chatID, limit}
	} else {
		query = `
			SELECT entity_id, kind, created_at_ms, updated_at_ms, props_json
			FROM transcript_entities
			WHERE chat_id = ? AND version > ?
			ORDER BY version ASC
			LIMIT ?
		`
		args = []any{chatID, sinceVersion, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: query snapshot")
	}
	defer func() { _ = rows.Close() }()

	entities := make([]*Entity, 0, 128)
	for rows.Next() {
		var e Entity
		var propsRaw string
		if err := rows.Scan(&e.ID, &e.Kind, &e.CreatedAtMs, &e.UpdatedAtMs, &propsRaw); err != nil {
			return nil, err
		}
		if propsRaw != "" && propsRaw != "null" {
			if err := json.Unmarshal([]byte(propsRaw), &e.Props); err != nil {
				return nil, errors.Wrap(err, "sqlite transcript store: unmarshal props")
			}
		}
		entities = append(entities, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	versionU64, err := int64ToUint64(current)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: invalid snapshot version")
	}

	return &Snapshot{
		ChatID:       chatID,
		Version:      versionU64,
		ServerTimeMs: time.Now().UnixMilli(),
		Entities:     entities,
	}, nil
}

func (s *SQLiteStore) UpsertSession(ctx context.Context, record SessionRecord) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now().UnixMilli()
	record = normalizeSessionRecord(record, now)
	if record.ChatID == "" {
		return errors.New("sqlite transcript store: chatID is empty")
	}
	lastSeq, err := uint64ToInt64(record.LastSeq)
	if err != nil {
		return errors.Wrap(err, "sqlite transcript store: last_seq overflow")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (
			chat_id, workflow_name, enterprise_id, user_id, cache_seed,
			created_at_ms, last_activity_ms, last_seq, status, last_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			workflow_name = CASE
				WHEN excluded.workflow_name <> '' THEN excluded.workflow_name
				ELSE chat_sessions.workflow_name
			END,
			enterprise_id = CASE
				WHEN excluded.enterprise_id <> '' THEN excluded.enterprise_id
				ELSE chat_sessions.enterprise_id
			END,
			user_id = CASE
				WHEN excluded.user_id <> '' THEN excluded.user_id
				ELSE chat_sessions.user_id
			END,
			cache_seed = CASE
				WHEN excluded.cache_seed <> '' THEN excluded.cache_seed
				ELSE chat_sessions.cache_seed
			END,
			created_at_ms = CASE
				WHEN chat_sessions.created_at_ms > 0 THEN chat_sessions.created_at_ms
				ELSE excluded.created_at_ms
			END,
			last_activity_ms = CASE
				WHEN excluded.last_activity_ms > chat_sessions.last_activity_ms THEN excluded.last_activity_ms
				ELSE chat_sessions.last_activity_ms
			END,
			last_seq = CASE
				WHEN excluded.last_seq > chat_sessions.last_seq THEN excluded.last_seq
				ELSE chat_sessions.last_seq
			END,
			status = CASE
				WHEN excluded.status <> '' THEN excluded.status
				ELSE chat_sessions.status
			END,
			last_error = CASE
				WHEN excluded.last_error <> '' THEN excluded.last_error
				ELSE chat_sessions.last_error
			END
	`, record.ChatID, record.WorkflowName, record.EnterpriseID, record.UserID, record.CacheSeed,
		record.CreatedAtMs, record.LastActivityMs, lastSeq, record.Status, record.LastError)
	if err != nil {
		return errors.Wrap(err, "sqlite transcript store: upsert session")
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, chatID string) (SessionRecord, bool, error) {
	if s == nil || s.db == nil {
		return SessionRecord{}, false, errors.New("sqlite transcript store: db is nil")
	}
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return SessionRecord{}, false, errors.New("sqlite transcript store: chatID is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		record  SessionRecord
		lastSeq int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT chat_id, workflow_name, enterprise_id, user_id, cache_seed,
		       created_at_ms, last_activity_ms, last_seq, status, last_error
		FROM chat_sessions
		WHERE chat_id = ?
	`, chatID).Scan(
		&record.ChatID,
		&record.WorkflowName,
		&record.EnterpriseID,
		&record.UserID,
		&record.CacheSeed,
		&record.CreatedAtMs,
		&record.LastActivityMs,
		&lastSeq,
		&record.Status,
		&record.LastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, errors.Wrap(err, "sqlite transcript store: get session")
	}
	lastSeqU64, err := int64ToUint64(lastSeq)
	if err != nil {
		return SessionRecord{}, false, errors.Wrap(err, "sqlite transcript store: invalid session seq")
	}
	record.LastSeq = lastSeqU64
	if record.Status == "" {
		record.Status = "active"
	}
	return record, true, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, limit int, sinceMs int64) ([]SessionRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite transcript store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 200
	}

	query := `
		SELECT chat_id, workflow_name, enterprise_id, user_id, cache_seed,
		       created_at_ms, last_activity_ms, last_seq, status, last_error
		FROM chat_sessions
	`
	args := make([]any, 0, 2)
	if sinceMs > 0 {
		query += ` WHERE last_activity_ms >= ?`
		args = append(args, sinceMs)
	}
	query += ` ORDER BY last_activity_ms DESC, chat_id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: list sessions")
	}
	defer func() { _ = rows.Close() }()

	records := make([]SessionRecord, 0, limit)
	for rows.Next() {
		var (
			record  SessionRecord
			lastSeq int64
		)
		if err := rows.Scan(
			&record.ChatID,
			&record.WorkflowName,
			&record.EnterpriseID,
			&record.UserID,
			&record.CacheSeed,
			&record.CreatedAtMs,
			&record.LastActivityMs,
			&lastSeq,
			&record.Status,
			&record.LastError,
		); err != nil {
			return nil, errors.Wrap(err, "sqlite transcript store: scan session")
		}
		lastSeqU64, err := int64ToUint64(lastSeq)
		if err != nil {
			return nil, errors.Wrap(err, "sqlite transcript store: invalid session seq")
		}
		record.LastSeq = lastSeqU64
		if record.Status == "" {
			record.Status = "active"
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: iterate sessions")
	}
	return records, nil
}

// SQLiteDSNForFile derives a DSN with WAL for concurrent readers + writer and
// busy_timeout to avoid transient SQLITE_BUSY.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite transcript store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func uint64ToInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, errors.Errorf("value %d overflows int64", v)
	}
	return int64(v), nil
}

func int64ToUint64(v int64) (uint64, error) {
	if v < 0 {
		return 0, errors.Errorf("value %d cannot be represented as uint64", v)
	}
	return uint64(v), nil
}
