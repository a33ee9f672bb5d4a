package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/artifacts"
	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/bus"
	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/chatwire"
	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/client"
	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/transcript"
	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/tui"
	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/uihandler"
)

// AddChatCommand mounts chat on the root.
func AddChatCommand(root *cobra.Command) error {
	chatCmd, err := NewChatCommand()
	if err != nil {
		return err
	}
	cobraCmd, err := cli.BuildCobraCommand(chatCmd)
	if err != nil {
		return err
	}
	root.AddCommand(cobraCmd)
	return nil
}

type ChatCommand struct {
	*cmds.CommandDescription
}

type ChatSettings struct {
	ChatID     string `glazed:"chat-id"`
	NoTUI      bool   `glazed:"no-tui"`
	SessionDSN string `glazed:"session-dsn"`
	SessionDB  string `glazed:"session-db"`
}

func NewChatCommand() (*ChatCommand, error) {
	redisSection, err := bus.NewRedisSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"chat",
		cmds.WithShort("Run an interactive chat session against a workflow"),
		cmds.WithLong(`Start a new chat session (or resume one with --chat-id) and stream the
workflow's events into a terminal UI. The transcript and artifacts are
persisted locally so sessions can be resumed and inspected offline.`),
		withConnFlags(),
		withStoreFlags(),
		cmds.WithFlags(
			fields.New(
				"chat-id",
				fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Resume an existing chat session"),
			),
			fields.New(
				"no-tui",
				fields.TypeBool,
				fields.WithDefault(false),
				fields.WithHelp("Disable the terminal UI and print events as plain text"),
			),
		),
		cmds.WithSections(redisSection),
	)
	return &ChatCommand{CommandDescription: desc}, nil
}

// chatSender forwards replies to the stream and marks the pending input
// entity answered in the local projection.
type chatSender struct {
	stream    *client.StreamClient
	projector *transcript.Projector
	chatID    string
}

func (s *chatSender) SendInputResponse(requestID string, values map[string]string, text string) error {
	if err := s.stream.SendInputResponse(requestID, values, text); err != nil {
		return err
	}
	if err := s.projector.MarkInputAnswered(context.Background(), s.chatID, requestID); err != nil {
		log.Debug().Err(err).Str("request_id", requestID).Msg("could not mark input answered")
	}
	return nil
}

var _ tui.Sender = &chatSender{}

func (c *ChatCommand) RunIntoWriter(ctx context.Context, parsedLayers *values.Values, w io.Writer) error {
	s := &ChatSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	connSettings := &ConnSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, connSettings); err != nil {
		return err
	}
	redisSettings := bus.RedisSettings{}
	if err := parsedLayers.DecodeSectionInto("redis", &redisSettings); err != nil {
		return err
	}

	conn, err := connSettings.resolve()
	if err != nil {
		return err
	}

	store, err := openSessionStore(&StoreSettings{SessionDSN: s.SessionDSN, SessionDB: s.SessionDB})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	dsn, err := (&StoreSettings{SessionDSN: s.SessionDSN, SessionDB: s.SessionDB}).resolveDSN()
	if err != nil {
		return err
	}
	cache, err := artifacts.NewSQLiteCache(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = cache.Close() }()

	projector, err := transcript.NewProjector(store, transcript.WithArtifactCache(cache))
	if err != nil {
		return err
	}

	rest, err := client.NewRestClient(conn.BaseURL)
	if err != nil {
		return err
	}

	var info *client.ChatInfo
	if s.ChatID != "" {
		info, err = rest.ResumeChat(ctx, s.ChatID)
	} else {
		if conn.Workflow == "" {
			return errors.New("workflow is required to start a new chat (flag or profile)")
		}
		info, err = rest.StartChat(ctx, conn.Workflow, conn.EnterpriseID, conn.UserID)
	}
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	if err := store.UpsertSession(ctx, transcript.SessionRecord{
		ChatID:         info.ChatID,
		WorkflowName:   firstNonEmpty(info.WorkflowName, conn.Workflow),
		EnterpriseID:   firstNonEmpty(info.EnterpriseID, conn.EnterpriseID),
		UserID:         firstNonEmpty(info.UserID, conn.UserID),
		CacheSeed:      info.CacheSeed,
		LastActivityMs: now,
		Status:         "active",
	}); err != nil {
		return err
	}

	sinceSeq := info.LastSeq
	if local := projector.LastSeq(ctx, info.ChatID); local > sinceSeq {
		sinceSeq = local
	}

	router, err := bus.BuildRouter(redisSettings, false)
	if err != nil {
		return err
	}
	if redisSettings.Enabled {
		if err := bus.EnsureGroupAtTail(ctx, redisSettings.Addr, bus.TopicChat, redisSettings.Group); err != nil {
			return err
		}
	}

	stream, err := client.NewStreamClient(conn.WSURL, client.SessionRef{
		WorkflowName: firstNonEmpty(info.WorkflowName, conn.Workflow),
		EnterpriseID: firstNonEmpty(info.EnterpriseID, conn.EnterpriseID),
		ChatID:       info.ChatID,
		UserID:       firstNonEmpty(info.UserID, conn.UserID),
	}, router, client.WithSinceSeq(sinceSeq))
	if err != nil {
		return err
	}

	eg, childCtx := errgroup.WithContext(ctx)
	childCtx, cancel := context.WithCancel(childCtx)
	defer cancel()

	router.AddEventHandler("projector", bus.TopicChat, func(ev chatwire.Event) error {
		if err := projector.Apply(childCtx, ev); err != nil {
			log.Warn().Err(err).Str("type", string(ev.Type())).Msg("projection failed")
		}
		return nil
	})
	registerUIHandlers(router)

	useTUI := !s.NoTUI && isatty.IsTerminal(os.Stdout.Fd())
	var uiCh chan chatwire.Event
	if useTUI {
		uiCh = make(chan chatwire.Event, 128)
		router.AddEventHandler("tui", bus.TopicChat, func(ev chatwire.Event) error {
			select {
			case uiCh <- ev:
			case <-childCtx.Done():
			}
			return nil
		})
	} else {
		router.AddEventHandler("printer", bus.TopicChat, func(ev chatwire.Event) error {
			printEvent(w, ev)
			return nil
		})
	}

	eg.Go(func() error {
		defer cancel()
		return router.Run(childCtx)
	})

	eg.Go(func() error {
		defer cancel()

		select {
		case <-router.Running():
		case <-childCtx.Done():
			return childCtx.Err()
		}

		if err := stream.Connect(childCtx); err != nil {
			return err
		}
		defer func() { _ = stream.Close() }()

		if useTUI {
			sender := &chatSender{stream: stream, projector: projector, chatID: info.ChatID}
			model := tui.NewModel(uiCh, sender)
			p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithOutput(w))
			go func() {
				<-childCtx.Done()
				p.Quit()
			}()
			_, runErr := p.Run()
			return runErr
		}

		select {
		case <-stream.Done():
			if err := stream.Err(); err != nil {
				log.Warn().Err(err).Msg("stream disconnected; run again with --chat-id to resume")
			}
			return nil
		case <-childCtx.Done():
			return nil
		}
	})

	err = eg.Wait()

	// projection flush uses a detached context, the run context is gone
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer flushCancel()
	if flushErr := projector.Flush(flushCtx); flushErr != nil {
		log.Warn().Err(flushErr).Msg("could not flush projection on shutdown")
	}
	_ = router.Close()

	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		return nil
	}
	return err
}

// registerUIHandlers routes decoded events through the dynamic component
// registry so workflow-registered ui_tool handlers see their payloads.
// Handler errors are logged, never fail the bus.
func registerUIHandlers(router *bus.EventRouter) {
	router.AddEventHandler("ui-components", bus.TopicChat, func(ev chatwire.Event) error {
		handled, err := uihandler.Handle(ev)
		if err != nil {
			log.Warn().Err(err).Str("type", string(ev.Type())).Msg("ui component handler failed")
			return nil
		}
		if ut, ok := ev.(*chatwire.EventUITool); ok && !handled {
			log.Debug().Str("ui_component", ut.Component).Msg("no handler registered for ui component")
		}
		return nil
	})
}

// printEvent renders one event as a plain line for headless runs.
func printEvent(w io.Writer, ev chatwire.Event) {
	switch e := ev.(type) {
	case *chatwire.EventStream:
		// deltas are noisy in headless mode; the final text is printed instead
	case *chatwire.EventText:
		speaker := e.Metadata().Agent
		if speaker == "" {
			speaker = e.Role
		}
		_, _ = fmt.Fprintf(w, "%s: %s\n", speaker, e.Content)
	case *chatwire.EventPrint:
		_, _ = fmt.Fprintf(w, "[%s] %s\n", e.Level, e.Message)
	case *chatwire.EventToolCall:
		_, _ = fmt.Fprintf(w, "tool call %s(%s)\n", e.Name, e.Arguments)
	case *chatwire.EventToolResponse:
		if e.Error != "" {
			_, _ = fmt.Fprintf(w, "tool error: %s\n", e.Error)
		} else {
			_, _ = fmt.Fprintf(w, "tool result: %s\n", e.Content)
		}
	case *chatwire.EventUITool:
		_, _ = fmt.Fprintf(w, "ui component %s: %s\n", e.Component, e.Payload)
	case *chatwire.EventArtifact:
		_, _ = fmt.Fprintf(w, "artifact %s (%s) %s\n", e.ArtifactID, e.Kind, e.Phase)
	case *chatwire.EventError:
		_, _ = fmt.Fprintf(w, "error [%s]: %s\n", e.Code, e.Message)
	case *chatwire.EventResumeBoundary:
		_, _ = fmt.Fprintf(w, "-- resumed, %d events replayed --\n", e.ReplayedEvents)
	case *chatwire.EventEnd:
		_, _ = fmt.Fprintf(w, "-- session %s: %s --\n", e.Status, e.Reason)
	}
}

var _ cmds.WriterCommand = &ChatCommand{}
