package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/bus"
	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/chatwire"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// SessionRef identifies the chat stream to attach to.
type SessionRef struct {
	WorkflowName string
	EnterpriseID string
	ChatID       string
	UserID       string
}

func (r SessionRef) validate() error {
	if r.WorkflowName == "" || r.EnterpriseID == "" || r.ChatID == "" || r.UserID == "" {
		return errors.New("workflow, enterprise_id, chat_id and user_id are all required")
	}
	return nil
}

// StreamClient attaches to the chat WebSocket and publishes every decoded
// frame onto the event bus. Reconnection is explicit: when the read loop
// dies the caller decides when to call Resume, which re-dials with the last
// seen sequence number so the server can replay from the boundary.
type StreamClient struct {
	wsBase string
	ref    SessionRef
	router *bus.EventRouter
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	lastSeq uint64
	done    chan struct{}
	readErr error
}

type StreamClientOption func(*StreamClient)

// WithDialer replaces the default websocket dialer.
func WithDialer(d *websocket.Dialer) StreamClientOption {
	return func(c *StreamClient) {
		c.dialer = d
	}
}

// WithSinceSeq seeds the resume position, e.g. from a persisted session
// record, before the first dial.
func WithSinceSeq(seq uint64) StreamClientOption {
	return func(c *StreamClient) {
		c.lastSeq = seq
	}
}

func NewStreamClient(wsBase string, ref SessionRef, router *bus.EventRouter, options ...StreamClientOption) (*StreamClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(wsBase), "/")
	if trimmed == "" {
		return nil, errors.New("websocket base URL is empty")
	}
	if err := ref.validate(); err != nil {
		return nil, err
	}
	if router == nil {
		return nil, errors.New("event router is required")
	}
	ret := &StreamClient{
		wsBase: trimmed,
		ref:    ref,
		router: router,
		dialer: websocket.DefaultDialer,
	}
	for _, o := range options {
		o(ret)
	}
	return ret, nil
}

func (c *StreamClient) streamURL(sinceSeq uint64) (string, error) {
	u, err := url.Parse(c.wsBase)
	if err != nil {
		return "", errors.Wrap(err, "invalid websocket base URL")
	}
	u.Path = strings.TrimRight(u.Path, "/") + fmt.Sprintf("/ws/%s/%s/%s/%s",
		url.PathEscape(c.ref.WorkflowName),
		url.PathEscape(c.ref.EnterpriseID),
		url.PathEscape(c.ref.ChatID),
		url.PathEscape(c.ref.UserID),
	)
	if sinceSeq > 0 {
		q := u.Query()
		q.Set("since_seq", fmt.Sprintf("%d", sinceSeq))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Connect dials the stream and starts the read loop. A fresh session dials
// without since_seq; a client seeded with WithSinceSeq resumes immediately.
func (c *StreamClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialLocked(ctx, c.lastSeq)
}

// Resume re-dials after a disconnect, carrying the last seen seq so the
// server replays events the client missed. The caller owns retry policy;
// there is no automatic backoff.
func (c *StreamClient) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	return c.dialLocked(ctx, c.lastSeq)
}

func (c *StreamClient) dialLocked(ctx context.Context, sinceSeq uint64) error {
	if c.conn != nil {
		return errors.New("stream is already connected")
	}
	endpoint, err := c.streamURL(sinceSeq)
	if err != nil {
		return err
	}
	conn, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return errors.Wrapf(err, "dial %s: HTTP %d", endpoint, resp.StatusCode)
		}
		return errors.Wrapf(err, "dial %s", endpoint)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c.conn = conn
	c.done = make(chan struct{})
	c.readErr = nil

	log.Info().
		Str("chat_id", c.ref.ChatID).
		Str("workflow", c.ref.WorkflowName).
		Uint64("since_seq", sinceSeq).
		Msg("chat stream connected")

	go c.readLoop(conn, c.done)
	go c.pingLoop(conn, c.done)
	return nil
}

func (c *StreamClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Str("chat_id", c.ref.ChatID).Msg("chat stream closed by server")
			} else {
				log.Warn().Err(err).Str("chat_id", c.ref.ChatID).Msg("chat stream read failed")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		ev, err := chatwire.NewEventFromJSON(payload)
		if err != nil {
			log.Warn().Err(err).Str("chat_id", c.ref.ChatID).Msg("dropping undecodable stream frame")
			continue
		}

		// application-level heartbeat frames are answered, not published
		if raw, ok := ev.(*chatwire.EventRaw); ok {
			if t, _ := raw.Fields["type"].(string); t == chatwire.OutboundTypePing {
				_ = c.sendJSON(chatwire.NewPing(c.ref.ChatID))
				continue
			}
		}

		if seq := ev.Metadata().Seq; seq > 0 {
			c.mu.Lock()
			if seq > c.lastSeq {
				c.lastSeq = seq
			}
			c.mu.Unlock()
		}

		if err := c.router.PublishRaw(bus.TopicChat, payload); err != nil {
			log.Error().Err(err).Str("chat_id", c.ref.ChatID).Msg("failed to publish stream frame")
		}
	}
}

func (c *StreamClient) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// SendInputResponse answers a chat.input_request.
func (c *StreamClient) SendInputResponse(requestID string, values map[string]string, text string) error {
	if strings.TrimSpace(requestID) == "" {
		return errors.New("request id is required")
	}
	return c.sendJSON(chatwire.NewInputResponse(requestID, values, text))
}

// SendUIToolResponse answers a chat.ui_tool interaction.
func (c *StreamClient) SendUIToolResponse(requestID, component string, payload json.RawMessage) error {
	if strings.TrimSpace(requestID) == "" {
		return errors.New("request id is required")
	}
	return c.sendJSON(chatwire.NewUIToolResponse(requestID, component, payload))
}

func (c *StreamClient) sendJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("stream is not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// LastSeq returns the highest sequence number seen on the stream.
func (c *StreamClient) LastSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq
}

// Done is closed when the current read loop exits; Err then reports why.
func (c *StreamClient) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.done
}

// Err reports the terminal error of the last read loop, if any.
func (c *StreamClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

// Close sends a close frame and tears the connection down.
func (c *StreamClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	err := c.conn.Close()
	c.conn = nil
	return err
}
