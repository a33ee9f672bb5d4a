package artifacts

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLiteCache struct {
	db *sql.DB
}

var _ Cache = &SQLiteCache{}

// NewSQLiteCache opens (or creates) the artifact cache. It is safe to point
// at the same database file as the transcript store; the cache owns its own
// table.
func NewSQLiteCache(dsn string) (*SQLiteCache, error) {
	if dsn == "" {
		return nil, errors.New("sqlite artifact cache: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	c := &SQLiteCache{db: db}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLiteCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *SQLiteCache) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_artifacts (
		  chat_id TEXT NOT NULL,
		  artifact_id TEXT NOT NULL,
		  kind TEXT NOT NULL DEFAULT '',
		  title TEXT NOT NULL DEFAULT '',
		  payload_json TEXT NOT NULL DEFAULT '',
		  closed INTEGER NOT NULL DEFAULT 0,
		  created_at_ms INTEGER NOT NULL,
		  updated_at_ms INTEGER NOT NULL,
		  PRIMARY KEY (chat_id, artifact_id)
		);`,
		`CREATE INDEX IF NOT EXISTS chat_artifacts_by_updated
		  ON chat_artifacts(chat_id, updated_at_ms DESC);`,
	}
	for _, st := range stmts {
		if _, err := c.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite artifact cache: migrate")
		}
	}
	return nil
}

func (c *SQLiteCache) Put(ctx context.Context, art Artifact) error {
	if c == nil || c.db == nil {
		return errors.New("sqlite artifact cache: db is nil")
	}
	if art.ChatID == "" || art.ArtifactID == "" {
		return errors.New("sqlite artifact cache: chat_id and artifact_id are required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := art.UpdatedAtMs
	if now == 0 {
		now = time.Now().UnixMilli()
	}
	created := art.CreatedAtMs
	if created == 0 {
		created = now
	}
	closed := int64(0)
	if art.Closed {
		closed = 1
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO chat_artifacts (chat_id, artifact_id, kind, title, payload_json, closed, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, artifact_id) DO UPDATE SET
			kind = CASE WHEN excluded.kind <> '' THEN excluded.kind ELSE chat_artifacts.kind END,
			title = CASE WHEN excluded.title <> '' THEN excluded.title ELSE chat_artifacts.title END,
			payload_json = CASE WHEN excluded.payload_json <> '' THEN excluded.payload_json ELSE chat_artifacts.payload_json END,
			closed = excluded.closed,
			updated_at_ms = excluded.updated_at_ms
	`, art.ChatID, art.ArtifactID, art.Kind, art.Title, string(art.Payload), closed, created, now)
	if err != nil {
		return errors.Wrap(err, "sqlite artifact cache: put")
	}
	return nil
}

func (c *SQLiteCache) Get(ctx context.Context, chatID, artifactID string) (Artifact, bool, error) {
	if c == nil || c.db == nil {
		return Artifact{}, false, errors.New("sqlite artifact cache: db is nil")
	}
	chatID = strings.TrimSpace(chatID)
	artifactID = strings.TrimSpace(artifactID)
	if chatID == "" || artifactID == "" {
		return Artifact{}, false, errors.New("sqlite artifact cache: chat_id and artifact_id are required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	row := c.db.QueryRowContext(ctx, `
		SELECT chat_id, artifact_id, kind, title, payload_json, closed, created_at_ms, updated_at_ms
		FROM chat_artifacts
		WHERE chat_id = ? AND artifact_id = ?
	`, chatID, artifactID)
	return scanArtifact(row)
}

func (c *SQLiteCache) GetLast(ctx context.Context, chatID string) (Artifact, bool, error) {
	if c == nil || c.db == nil {
		return Artifact{}, false, errors.New("sqlite artifact cache: db is nil")
	}
	if strings.TrimSpace(chatID) == "" {
		return Artifact{}, false, errors.New("sqlite artifact cache: chat_id is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	row := c.db.QueryRowContext(ctx, `
		SELECT chat_id, artifact_id, kind, title, payload_json, closed, created_at_ms, updated_at_ms
		FROM chat_artifacts
		WHERE chat_id = ?
		ORDER BY updated_at_ms DESC, artifact_id ASC
		LIMIT 1
	`, chatID)
	return scanArtifact(row)
}

func (c *SQLiteCache) List(ctx context.Context, chatID string, limit int) ([]Artifact, error) {
	if c == nil || c.db == nil {
		return nil, errors.New("sqlite artifact cache: db is nil")
	}
	if strings.TrimSpace(chatID) == "" {
		return nil, errors.New("sqlite artifact cache: chat_id is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT chat_id, artifact_id, kind, title, payload_json, closed, created_at_ms, updated_at_ms
		FROM chat_artifacts
		WHERE chat_id = ?
		ORDER BY updated_at_ms DESC, artifact_id ASC
		LIMIT ?
	`, chatID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite artifact cache: list")
	}
	defer func() { _ = rows.Close() }()

	out := make([]Artifact, 0, limit)
	for rows.Next() {
		art, ok, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, art)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite artifact cache: iterate")
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (Artifact, bool, error) {
	var art Artifact
	var payload string
	var closed int64
	err := row.Scan(&art.ChatID, &art.ArtifactID, &art.Kind, &art.Title, &payload, &closed, &art.CreatedAtMs, &art.UpdatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, false, nil
	}
	if err != nil {
		return Artifact{}, false, errors.Wrap(err, "sqlite artifact cache: scan")
	}
	if payload != "" {
		art.Payload = []byte(payload)
	}
	art.Closed = closed == 1
	return art, true, nil
}
