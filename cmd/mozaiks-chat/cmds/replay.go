package cmds

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sort"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/artifacts"
	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/chatwire"
	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/transcript"
)

// AddReplayCommand mounts replay on the root.
func AddReplayCommand(root *cobra.Command) error {
	replayCmd, err := NewReplayCommand()
	if err != nil {
		return err
	}
	cobraCmd, err := cli.BuildCobraCommand(replayCmd)
	if err != nil {
		return err
	}
	root.AddCommand(cobraCmd)
	return nil
}

type ReplayCommand struct {
	*cmds.CommandDescription
}

type ReplaySettings struct {
	File       string `glazed:"file"`
	ChatID     string `glazed:"chat-id"`
	SessionDSN string `glazed:"session-dsn"`
	SessionDB  string `glazed:"session-db"`
	Persist    bool   `glazed:"persist"`
}

func NewReplayCommand() (*ReplayCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsLayer, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"replay",
		cmds.WithShort("Replay a recorded event log through the transcript projector"),
		cmds.WithLong(`Feed a JSONL chat event log through the projector and print the resulting
transcript entities. By default the projection is in-memory; with --persist it
is written to the local session store.`),
		withStoreFlags(),
		cmds.WithFlags(
			fields.New(
				"file",
				fields.TypeString,
				fields.WithHelp("Path to a JSONL file of chat events (one event per line)"),
			),
			fields.New(
				"chat-id",
				fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Only replay events for this chat"),
			),
			fields.New(
				"persist",
				fields.TypeBool,
				fields.WithDefault(false),
				fields.WithHelp("Write the projection to the session store instead of memory"),
			),
		),
		cmds.WithSections(glazedLayer, commandSettingsLayer),
	)
	return &ReplayCommand{CommandDescription: desc}, nil
}

func (c *ReplayCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &ReplaySettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	if strings.TrimSpace(s.File) == "" {
		return errors.New("file is required")
	}

	var store transcript.Store
	var cache artifacts.Cache
	if s.Persist {
		sqliteStore, err := openSessionStore(&StoreSettings{SessionDSN: s.SessionDSN, SessionDB: s.SessionDB})
		if err != nil {
			return err
		}
		defer func() { _ = sqliteStore.Close() }()
		dsn, err := (&StoreSettings{SessionDSN: s.SessionDSN, SessionDB: s.SessionDB}).resolveDSN()
		if err != nil {
			return err
		}
		sqliteCache, err := artifacts.NewSQLiteCache(dsn)
		if err != nil {
			return err
		}
		defer func() { _ = sqliteCache.Close() }()
		store = sqliteStore
		cache = sqliteCache
	} else {
		store = transcript.NewMemoryStore()
		cache = artifacts.NewMemoryCache()
	}

	projector, err := transcript.NewProjector(store,
		transcript.WithArtifactCache(cache),
		transcript.WithWriteThrottle(0),
	)
	if err != nil {
		return err
	}

	chatIDs, lines, err := replayFile(ctx, projector, s.File, s.ChatID)
	if err != nil {
		return err
	}
	if err := projector.Flush(ctx); err != nil {
		return err
	}
	log.Info().Int("events", lines).Int("chats", len(chatIDs)).Msg("replay complete")

	sorted := make([]string, 0, len(chatIDs))
	for chatID := range chatIDs {
		sorted = append(sorted, chatID)
	}
	sort.Strings(sorted)

	for _, chatID := range sorted {
		snap, err := store.GetSnapshot(ctx, chatID, 0, 0)
		if err != nil {
			return err
		}
		for _, entity := range snap.Entities {
			props, _ := json.Marshal(entity.Props)
			row := types.NewRow(
				types.MRP("chat_id", chatID),
				types.MRP("entity_id", entity.ID),
				types.MRP("kind", entity.Kind),
				types.MRP("created_at_ms", entity.CreatedAtMs),
				types.MRP("updated_at_ms", entity.UpdatedAtMs),
				types.MRP("props", string(props)),
			)
			if err := gp.AddRow(ctx, row); err != nil {
				return err
			}
		}
	}
	return nil
}

// replayFile applies each JSONL line to the projector. Undecodable lines and
// events without a chat_id are skipped with a warning so a partially corrupt
// log still replays.
func replayFile(ctx context.Context, projector *transcript.Projector, path, onlyChatID string) (map[string]struct{}, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "could not open event log %s", path)
	}
	defer func() { _ = f.Close() }()

	chatIDs := map[string]struct{}{}
	applied := 0
	lineNo := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ev, err := chatwire.NewEventFromJSON([]byte(line))
		if err != nil {
			log.Warn().Err(err).Int("line", lineNo).Msg("skipping undecodable event")
			continue
		}
		chatID := ev.Metadata().ChatID
		if chatID == "" {
			log.Warn().Int("line", lineNo).Str("type", string(ev.Type())).Msg("skipping event without chat_id")
			continue
		}
		if onlyChatID != "" && chatID != onlyChatID {
			continue
		}
		if err := projector.Apply(ctx, ev); err != nil {
			return nil, applied, errors.Wrapf(err, "replay failed at line %d", lineNo)
		}
		chatIDs[chatID] = struct{}{}
		applied++
	}
	if err := scanner.Err(); err != nil {
		return nil, applied, errors.Wrap(err, "reading event log")
	}
	return chatIDs, applied, nil
}

var _ cmds.GlazeCommand = &ReplayCommand{}
