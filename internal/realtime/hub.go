// ABOUTME: Websocket hub at /chatHub dispatching client invocations to the conversation service
// ABOUTME: Tracks live connections, drops replayed invocation ids, answers each with a completion frame

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/assistant-gateway/internal/conversation"
	"github.com/2389/assistant-gateway/internal/dedupe"
	"github.com/2389/assistant-gateway/internal/store"
)

// ChatService is the part of the conversation service the hub exposes.
type ChatService interface {
	SendMessage(ctx context.Context, req conversation.SendRequest, sink conversation.UpdateSink) (*store.Conversation, error)
	ListConversations(ctx context.Context) ([]*store.Conversation, error)
	GetConversationMessages(ctx context.Context, id string) ([]conversation.Message, error)
	DeleteConversation(ctx context.Context, id string) (bool, error)
}

// Options tunes connection handling. Zero fields take defaults.
type Options struct {
	MaxMessageSize int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	SendBuffer     int

	// RunTimeout bounds a SendMessage turn. The turn is detached from the
	// connection, so a client disconnect does not cancel it.
	RunTimeout time.Duration

	// DedupeTTL is how long an invocation id is remembered per connection.
	DedupeTTL time.Duration
}

const (
	defaultMaxMessageSize = 1 << 20
	defaultReadTimeout    = 60 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultSendBuffer     = 256
	defaultRunTimeout     = 5 * time.Minute
	defaultDedupeTTL      = 10 * time.Minute
	dedupeMaxEntries      = 10000
)

func (o Options) withDefaults() Options {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = defaultReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.PingInterval >= o.ReadTimeout {
		o.PingInterval = o.ReadTimeout * 9 / 10
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.RunTimeout <= 0 {
		o.RunTimeout = defaultRunTimeout
	}
	if o.DedupeTTL <= 0 {
		o.DedupeTTL = defaultDedupeTTL
	}
	return o
}

// errConversationNotFound is what clients see for an unknown conversation id.
var errConversationNotFound = errors.New("conversation not found")

// Hub upgrades HTTP requests to websocket connections and serves invocations on them.
type Hub struct {
	service  ChatService
	opts     Options
	upgrader websocket.Upgrader
	seen     *dedupe.Cache
	logger   *slog.Logger

	mu     sync.RWMutex
	conns  map[string]*Connection
	closed bool

	// inflight counts invocation goroutines so Close can wait for them.
	inflight sync.WaitGroup
}

// NewHub creates a hub backed by service.
func NewHub(service ChatService, opts Options, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &Hub{
		service: service,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Authentication sits in front of the gateway.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		seen:   dedupe.New(opts.DedupeTTL, dedupeMaxEntries),
		logger: logger.With("component", "realtime"),
		conns:  make(map[string]*Connection),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	conn := newConnection(ws, h.opts, h.logger)
	if !h.register(conn) {
		conn.Close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	conn.logger.Info("client connected", "remote_addr", r.RemoteAddr)

	go conn.writeLoop()
	h.readLoop(conn)

	h.unregister(conn)
	conn.logger.Info("client disconnected")
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client, then waits for running invocations or ctx.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()

	defer h.seen.Close()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) register(c *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c.ID] = c
	return true
}

func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	delete(h.conns, c.ID)
	h.mu.Unlock()
	c.Close(websocket.CloseNormalClosure, "")
}

func (h *Hub) readLoop(c *Connection) {
	c.ws.SetReadLimit(h.opts.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		switch frame.Type {
		case TypePing:
			_ = c.Send(pongFrame{Type: TypePong})
		case TypeInvocation:
			h.dispatch(c, frame)
		default:
			c.logger.Debug("ignoring frame", "type", frame.Type)
		}
	}
}

// dispatch runs one invocation on its own goroutine.
func (h *Hub) dispatch(c *Connection, frame inboundFrame) {
	key := c.ID + ":" + frame.InvocationID
	if frame.InvocationID != "" && h.seen.CheckAndMark(key) {
		c.logger.Debug("dropping replayed invocation", "invocation_id", frame.InvocationID, "target", frame.Target)
		return
	}

	// Close waits on inflight after setting closed, so the check and the Add
	// share the lock.
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	h.inflight.Add(1)
	h.mu.RUnlock()

	go func() {
		defer h.inflight.Done()

		logger := c.logger.With("invocation_id", frame.InvocationID, "target", frame.Target)
		result, err := h.invoke(c, frame)
		if err != nil {
			logger.Warn("invocation failed", "error", err)
			// A failed invocation may be retried under the same id.
			if frame.InvocationID != "" {
				h.seen.Forget(key)
			}
		}

		// Invocations without an id expect no answer.
		if frame.InvocationID == "" {
			return
		}
		completion := completionFrame{Type: TypeCompletion, InvocationID: frame.InvocationID, Result: result}
		if err != nil {
			completion.Result = nil
			completion.Error = err.Error()
		}
		if sendErr := c.Send(completion); sendErr != nil {
			logger.Debug("completion dropped", "error", sendErr)
		}
	}()
}

func (h *Hub) invoke(c *Connection, frame inboundFrame) (any, error) {
	switch frame.Target {
	case TargetSendMessage:
		return h.sendMessage(c, frame.Arguments)

	case TargetGetConversations:
		return h.service.ListConversations(c.ctx)

	case TargetGetConversationMessages:
		id, err := argString(frame.Arguments, 0)
		if err != nil {
			return nil, err
		}
		if id == "" {
			return nil, errors.New("conversationId is required")
		}
		msgs, err := h.service.GetConversationMessages(c.ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, errConversationNotFound
		}
		return msgs, err

	case TargetDeleteConversation:
		id, err := argString(frame.Arguments, 0)
		if err != nil {
			return nil, err
		}
		if id == "" {
			return nil, errors.New("conversationId is required")
		}
		return h.service.DeleteConversation(c.ctx, id)

	default:
		return nil, fmt.Errorf("unknown target %q", frame.Target)
	}
}

func (h *Hub) sendMessage(c *Connection, args []json.RawMessage) (any, error) {
	conversationID, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	text, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	fileIDs, err := argStrings(args, 2)
	if err != nil {
		return nil, err
	}

	// The turn outlives the connection; pushes to a closed connection are dropped.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), h.opts.RunTimeout)
	defer cancel()

	conv, err := h.service.SendMessage(ctx, conversation.SendRequest{
		ConversationID: conversationID,
		Text:           text,
		FileIDs:        fileIDs,
	}, c)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, nil
	}
	return conv, nil
}
