// ABOUTME: One websocket client: buffered outbound queue and a single writer goroutine
// ABOUTME: Implements the update sink so a turn's deltas reach only the connection that started it

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/assistant-gateway/internal/conversation"
)

// ErrConnectionClosed is returned when sending to a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// Connection wraps a websocket. Send and SendUpdate are safe for concurrent
// use; only the write loop touches the socket for writing.
type Connection struct {
	ID string

	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	opts   Options
	logger *slog.Logger

	// pending holds the newest unsent snapshot per message. A newer snapshot
	// replaces an older one in place, so a slow reader skips intermediate
	// updates instead of backing up the send queue.
	pendingMu sync.Mutex
	pending   []pendingUpdate
	wake      chan struct{}

	// ctx is cancelled when the connection closes.
	ctx    context.Context
	cancel context.CancelFunc
}

type pendingUpdate struct {
	key     string
	payload []byte
}

func newConnection(ws *websocket.Conn, opts Options, logger *slog.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	return &Connection{
		ID:     id,
		ws:     ws,
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
		opts:   opts,
		logger: logger.With("connection_id", id),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Send queues v as a JSON text frame. It waits for queue space instead of
// dropping the frame and fails only once the connection is closed.
func (c *Connection) Send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case <-c.done:
		return ErrConnectionClosed
	case c.send <- payload:
		return nil
	}
}

// SendUpdate pushes a ReceiveMessageUpdate invocation to this client.
// A snapshot the writer has not reached yet is replaced by a newer one for
// the same message; every snapshot carries the full text so far.
func (c *Connection) SendUpdate(ctx context.Context, update conversation.MessageUpdate) error {
	payload, err := json.Marshal(pushFrame{
		Type:      TypeInvocation,
		Target:    TargetReceiveMessageUpdate,
		Arguments: []any{update},
	})
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	key := update.ConversationID + "/" + update.MessageID
	c.pendingMu.Lock()
	replaced := false
	for i := range c.pending {
		if c.pending[i].key == key {
			c.pending[i].payload = payload
			replaced = true
			break
		}
	}
	if !replaced {
		c.pending = append(c.pending, pendingUpdate{key: key, payload: payload})
	}
	c.pendingMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

func (c *Connection) takePending() []pendingUpdate {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	p := c.pending
	c.pending = nil
	return p
}

// Close sends a close frame and tears the socket down. Safe to call more than once.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		c.cancel()
		deadline := time.Now().Add(c.opts.WriteTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

// writeLoop is the only writer of data frames and pings. Pending updates are
// flushed before every queued frame, so a completion never overtakes the
// updates pushed ahead of it.
func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
			if err := c.flushPending(); err != nil {
				c.fail("write failed", err)
				return
			}
		case payload := <-c.send:
			if err := c.flushPending(); err != nil {
				c.fail("write failed", err)
				return
			}
			if err := c.write(websocket.TextMessage, payload); err != nil {
				c.fail("write failed", err)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.fail("ping failed", err)
				return
			}
		}
	}
}

func (c *Connection) flushPending() error {
	for _, p := range c.takePending() {
		if err := c.write(websocket.TextMessage, p.payload); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) fail(reason string, err error) {
	c.logger.Debug(reason, "error", err)
	c.Close(websocket.CloseAbnormalClosure, reason)
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
