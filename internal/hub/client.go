package hub

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"Parley/internal/event"
	"Parley/internal/identity"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client is one connected view: a websocket plus the session core running
// on its behalf.
type Client struct {
	ID      string
	uid     string
	conn    *websocket.Conn
	manager *Hub
	outbox  chan event.WsEvent
	view    *View
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closed    atomic.Bool

	// closed by the write pump once the socket is released
	released     chan struct{}
	releasedOnce sync.Once
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 20 * time.Second
	pingInterval   = pongWait * 9 / 10
	maxFrameBytes  = 32 << 20 // attachments travel inline
	outboxSize     = 256
	workerPoolSize = 16

	enqueueTimeout    = 2 * time.Second
	registerTimeout   = 5 * time.Second
	unregisterTimeout = 5 * time.Second
	dispatchTimeout   = 500 * time.Millisecond
	forceCloseAfter   = 5 * time.Second
)

// RegisterClient wraps conn for the identity that presented token and starts
// its pumps and session.
func RegisterClient(id *identity.Identity, token string, conn *websocket.Conn, h *Hub) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	clientID := uuid.NewString()

	c := &Client{
		ID:       clientID,
		uid:      id.UID,
		conn:     conn,
		manager:  h,
		outbox:   make(chan event.WsEvent, outboxSize),
		logger:   h.logger.With(zap.String("client_id", clientID), zap.String("uid", id.UID)),
		ctx:      ctx,
		cancel:   cancel,
		released: make(chan struct{}),
	}
	c.view = newView(c, h.deps)

	timer := time.NewTimer(registerTimeout)
	defer timer.Stop()

	select {
	case h.register <- c:
	case <-timer.C:
		c.logger.Warn("client registration timed out")
		cancel()
		_ = conn.Close()
		return nil
	}

	h.views.Add(1)
	go c.readPump()
	go c.writePump()
	c.view.start(ctx, token)
	c.logger.Info("client registered")
	return c
}

// readPump decodes inbound intents and hands them to this client's worker
// until the socket fails or the client is closed. It owns teardown.
func (c *Client) readPump() {
	defer c.teardown()

	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	queue := c.manager.queueFor(c)
	for c.ctx.Err() == nil {
		var ev event.WsEvent
		if err := c.conn.ReadJSON(&ev); err != nil {
			c.logReadError(err)
			return
		}

		// one worker per client keeps intents in read order
		if !c.dispatch(queue, inboundMessage{client: c, event: ev}) {
			return
		}
	}
}

func (c *Client) dispatch(queue chan<- inboundMessage, in inboundMessage) bool {
	timer := time.NewTimer(dispatchTimeout)
	defer timer.Stop()

	select {
	case queue <- in:
		return true
	case <-timer.C:
		c.logger.Warn("inbound queue full, dropping client")
		c.Close()
		return false
	case <-c.ctx.Done():
		return false
	}
}

func (c *Client) logReadError(err error) {
	var netErr net.Error
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		c.logger.Info("client disconnected")
	case websocket.IsUnexpectedCloseError(err, websocket.CloseInternalServerErr, websocket.CloseProtocolError):
		c.logger.Warn("unexpected close", zap.Error(err))
	case errors.As(err, &netErr) && netErr.Timeout():
		c.logger.Info("client timed out")
	default:
		c.logger.Debug("read failed", zap.Error(err))
	}
}

// teardown leaves the hub, then stops the session so the offline write
// happens while the store is still open.
func (c *Client) teardown() {
	timer := time.NewTimer(unregisterTimeout)
	select {
	case c.manager.unregister <- c:
	case <-timer.C:
		c.logger.Warn("client unregistration timed out")
	}
	timer.Stop()

	c.Close()
	c.view.stop()
	c.manager.views.Done()
}

// writePump drains the outbox onto the socket and keeps it alive with pings.
func (c *Client) writePump() {
	pings := time.NewTicker(pingInterval)
	defer func() {
		pings.Stop()
		c.Close()
		_ = c.conn.Close()
		c.releasedOnce.Do(func() { close(c.released) })
	}()

	for {
		select {
		case <-c.ctx.Done():
			return

		case ev := <-c.outbox:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.logger.Warn("write failed", zap.String("event", ev.Event), zap.Error(err))
				return
			}

		case <-pings.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

// Send enqueues ev. A view that cannot keep up is dropped from the hub.
func (c *Client) Send(ev event.WsEvent) {
	if c.IsClosed() {
		return
	}

	timer := time.NewTimer(enqueueTimeout)
	defer timer.Stop()

	select {
	case c.outbox <- ev:
	case <-c.ctx.Done():
	case <-timer.C:
		c.logger.Warn("outbox full, disconnecting client")
		c.Close()
	}
}

// SendPayload builds an event around v and enqueues it.
func (c *Client) SendPayload(name, chatID, requestID string, v interface{}) {
	ev, err := event.New(name, chatID, requestID, v)
	if err != nil {
		c.logger.Error("event not encodable", zap.String("event", name), zap.Error(err))
		return
	}
	c.Send(ev)
}

// Close stops both pumps. The socket is released by the write pump, or
// forcibly if that does not happen in time.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()

		go func() {
			select {
			case <-c.released:
			case <-time.After(forceCloseAfter):
				_ = c.conn.Close()
				c.logger.Warn("connection force closed")
			}
		}()
	})
}

func (c *Client) IsClosed() bool {
	return c.closed.Load()
}

// UserID is the uid the client authenticated as.
func (c *Client) UserID() string {
	return c.uid
}
