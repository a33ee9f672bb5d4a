package cmds

import (
	"context"
	"os"
	"path/filepath"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/artifacts"
	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/transcript"
)

// StoreSettings selects the local session database.
type StoreSettings struct {
	SessionDSN string `glazed:"session-dsn"`
	SessionDB  string `glazed:"session-db"`
}

func withStoreFlags() cmds.CommandDescriptionOption {
	return cmds.WithFlags(
		fields.New(
			"session-dsn",
			fields.TypeString,
			fields.WithDefault(""),
			fields.WithHelp("SQLite DSN for the session store (preferred over session-db)"),
		),
		fields.New(
			"session-db",
			fields.TypeString,
			fields.WithDefault(""),
			fields.WithHelp("SQLite DB file path for the session store (DSN derived with WAL/busy_timeout; defaults to ~/.mozaiks/sessions.db)"),
		),
	)
}

func (s *StoreSettings) resolveDSN() (string, error) {
	if s == nil {
		return "", errors.New("session store settings are nil")
	}
	if s.SessionDSN != "" {
		return s.SessionDSN, nil
	}
	dbPath := s.SessionDB
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "could not determine home directory")
		}
		dbPath = filepath.Join(home, ".mozaiks", "sessions.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return "", errors.Wrap(err, "could not create session store directory")
	}
	return transcript.SQLiteDSNForFile(dbPath)
}

func openSessionStore(s *StoreSettings) (*transcript.SQLiteStore, error) {
	dsn, err := s.resolveDSN()
	if err != nil {
		return nil, err
	}
	return transcript.NewSQLiteStore(dsn)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect the local session store",
	Long:  "Read-only tools for inspecting locally persisted chat transcripts and artifacts.",
}

// AddSessionsCommands mounts sessions list/stats/artifacts on the root.
func AddSessionsCommands(root *cobra.Command) error {
	listCmd, err := NewSessionsListCommand()
	if err != nil {
		return err
	}
	statsCmd, err := NewSessionsStatsCommand()
	if err != nil {
		return err
	}
	artifactsCmd, err := NewSessionsArtifactsCommand()
	if err != nil {
		return err
	}

	for _, c := range []cmds.GlazeCommand{listCmd, statsCmd, artifactsCmd} {
		cobraCmd, err := cli.BuildCobraCommand(c)
		if err != nil {
			return err
		}
		sessionsCmd.AddCommand(cobraCmd)
	}
	root.AddCommand(sessionsCmd)
	return nil
}

type SessionsListCommand struct {
	*cmds.CommandDescription
}

type SessionsListSettings struct {
	SessionDSN  string `glazed:"session-dsn"`
	SessionDB   string `glazed:"session-db"`
	Limit       int    `glazed:"limit"`
	ActiveSince int64  `glazed:"active-since-ms"`
}

func NewSessionsListCommand() (*SessionsListCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsLayer, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"list",
		cmds.WithShort("List chat sessions in the local store"),
		cmds.WithLong("List persisted chat sessions with workflow, progression and status."),
		withStoreFlags(),
		cmds.WithFlags(
			fields.New(
				"limit",
				fields.TypeInteger,
				fields.WithDefault(200),
				fields.WithHelp("Limit number of sessions (0 = no limit)"),
			),
			fields.New(
				"active-since-ms",
				fields.TypeInteger,
				fields.WithDefault(0),
				fields.WithHelp("Only include sessions active at or after this unix ms timestamp"),
			),
		),
		cmds.WithSections(glazedLayer, commandSettingsLayer),
	)

	return &SessionsListCommand{CommandDescription: desc}, nil
}

func (c *SessionsListCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &SessionsListSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	store, err := openSessionStore(&StoreSettings{SessionDSN: s.SessionDSN, SessionDB: s.SessionDB})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	sessions, err := store.ListSessions(ctx, s.Limit, s.ActiveSince)
	if err != nil {
		return err
	}
	for _, rec := range sessions {
		row := types.NewRow(
			types.MRP("chat_id", rec.ChatID),
			types.MRP("workflow_name", rec.WorkflowName),
			types.MRP("enterprise_id", rec.EnterpriseID),
			types.MRP("user_id", rec.UserID),
			types.MRP("status", rec.Status),
			types.MRP("last_seq", rec.LastSeq),
			types.MRP("created_at_ms", rec.CreatedAtMs),
			types.MRP("last_activity_ms", rec.LastActivityMs),
			types.MRP("last_error", rec.LastError),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

var _ cmds.GlazeCommand = &SessionsListCommand{}

type SessionsStatsCommand struct {
	*cmds.CommandDescription
}

type SessionsStatsSettings struct {
	SessionDSN string `glazed:"session-dsn"`
	SessionDB  string `glazed:"session-db"`
	ChatID     string `glazed:"chat-id"`
}

func NewSessionsStatsCommand() (*SessionsStatsCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsLayer, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"stats",
		cmds.WithShort("Entity counts per chat in the local store"),
		cmds.WithLong("Aggregate transcript entity counts by kind, per chat session."),
		withStoreFlags(),
		cmds.WithFlags(
			fields.New(
				"chat-id",
				fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Restrict stats to one chat"),
			),
		),
		cmds.WithSections(glazedLayer, commandSettingsLayer),
	)

	return &SessionsStatsCommand{CommandDescription: desc}, nil
}

func (c *SessionsStatsCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &SessionsStatsSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	store, err := openSessionStore(&StoreSettings{SessionDSN: s.SessionDSN, SessionDB: s.SessionDB})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	query := `
SELECT e.chat_id, e.kind, COUNT(*) AS entity_count,
  MIN(e.created_at_ms) AS min_created_at_ms,
  MAX(e.updated_at_ms) AS max_updated_at_ms
FROM transcript_entities e
`
	args := []any{}
	if s.ChatID != "" {
		query += "WHERE e.chat_id = ?\n"
		args = append(args, s.ChatID)
	}
	query += "GROUP BY e.chat_id, e.kind\nORDER BY e.chat_id ASC, e.kind ASC\n"

	rows, err := store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "session stats query failed")
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var chatID, kind string
		var count, minCreated, maxUpdated int64
		if err := rows.Scan(&chatID, &kind, &count, &minCreated, &maxUpdated); err != nil {
			return err
		}
		row := types.NewRow(
			types.MRP("chat_id", chatID),
			types.MRP("kind", kind),
			types.MRP("entity_count", count),
			types.MRP("min_created_at_ms", minCreated),
			types.MRP("max_updated_at_ms", maxUpdated),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "session stats rows")
	}
	return nil
}

var _ cmds.GlazeCommand = &SessionsStatsCommand{}

type SessionsArtifactsCommand struct {
	*cmds.CommandDescription
}

type SessionsArtifactsSettings struct {
	SessionDSN string `glazed:"session-dsn"`
	SessionDB  string `glazed:"session-db"`
	ChatID     string `glazed:"chat-id"`
	Limit      int    `glazed:"limit"`
	RawPayload bool   `glazed:"raw-payload"`
}

func NewSessionsArtifactsCommand() (*SessionsArtifactsCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsLayer, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"artifacts",
		cmds.WithShort("List cached artifacts for a chat"),
		cmds.WithLong("List locally cached artifacts, newest first."),
		withStoreFlags(),
		cmds.WithFlags(
			fields.New(
				"chat-id",
				fields.TypeString,
				fields.WithHelp("Chat ID to list artifacts for"),
			),
			fields.New(
				"limit",
				fields.TypeInteger,
				fields.WithDefault(100),
				fields.WithHelp("Limit number of artifacts"),
			),
			fields.New(
				"raw-payload",
				fields.TypeBool,
				fields.WithDefault(false),
				fields.WithHelp("Include the raw payload JSON in the output"),
			),
		),
		cmds.WithSections(glazedLayer, commandSettingsLayer),
	)

	return &SessionsArtifactsCommand{CommandDescription: desc}, nil
}

func (c *SessionsArtifactsCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &SessionsArtifactsSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	if s.ChatID == "" {
		return errors.New("chat-id is required")
	}
	dsn, err := (&StoreSettings{SessionDSN: s.SessionDSN, SessionDB: s.SessionDB}).resolveDSN()
	if err != nil {
		return err
	}
	cache, err := artifacts.NewSQLiteCache(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = cache.Close() }()

	list, err := cache.List(ctx, s.ChatID, s.Limit)
	if err != nil {
		return err
	}
	for _, art := range list {
		row := types.NewRow(
			types.MRP("chat_id", art.ChatID),
			types.MRP("artifact_id", art.ArtifactID),
			types.MRP("kind", art.Kind),
			types.MRP("title", art.Title),
			types.MRP("closed", art.Closed),
			types.MRP("payload_bytes", len(art.Payload)),
			types.MRP("created_at_ms", art.CreatedAtMs),
			types.MRP("updated_at_ms", art.UpdatedAtMs),
		)
		if s.RawPayload {
			row.Set("payload_json", string(art.Payload))
		}
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

var _ cmds.GlazeCommand = &SessionsArtifactsCommand{}
