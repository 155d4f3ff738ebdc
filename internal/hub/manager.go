package hub

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"Parley/internal/db"
	"Parley/internal/event"
	"Parley/internal/eventlog"
	"Parley/internal/identity"
	"Parley/internal/media"
	"Parley/internal/metrics"
	"Parley/internal/service"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	shardCount = 64
)

var ErrUnauthorized = errors.New("missing or invalid session token")

// Settings are the per-view knobs taken from configuration.
type Settings struct {
	AllowedOrigins    []string
	Heartbeat         string
	ChatFolder        string
	ProfileRetries    int
	ProfileRetryDelay time.Duration
}

// Deps is everything a view needs to run a session core.
type Deps struct {
	Store     db.Store
	Directory identity.Directory
	Repos     service.Repos
	Uploader  media.Uploader
	Events    eventlog.Publisher
	Metrics   *metrics.Metrics
	Settings  Settings
	Logger    *zap.Logger
}

type inboundMessage struct {
	event  event.WsEvent
	client *Client
}

// clientBucket holds the connected views of the users hashed to it.
type clientBucket struct {
	sync.RWMutex
	users map[string]map[string]*Client
}

type Hub struct {
	deps       Deps
	logger     *zap.Logger
	upgrader   websocket.Upgrader
	shards     [shardCount]*clientBucket
	register   chan *Client
	unregister chan *Client
	inbound    [](chan inboundMessage)
	wg         sync.WaitGroup
	views      sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewHub(deps Deps) *Hub {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = eventlog.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		deps:       deps,
		logger:     deps.Logger.Named("hub"),
		register:   make(chan *Client, 1024),
		unregister: make(chan *Client, 1024),
		inbound:    make([]chan inboundMessage, workerPoolSize),
		ctx:        ctx,
		cancel:     cancel,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	for i := 0; i < shardCount; i++ {
		h.shards[i] = &clientBucket{
			users: make(map[string]map[string]*Client),
		}
	}

	go h.run()
	for i := range h.inbound {
		h.inbound[i] = make(chan inboundMessage, 256)
		h.wg.Add(1)
		go h.work(h.inbound[i])
	}

	deps.Metrics.GaugeFunc("view_clients", "Connected views.", func() float64 {
		return float64(h.ClientCount())
	})
	deps.Metrics.GaugeFunc("subscriptions_active", "Live document subscriptions held by views.", func() float64 {
		roster, conv := h.subscriptionCounts()
		return float64(roster + conv)
	})

	return h
}

// work applies the intents of the clients hashed to queue, one at a time.
func (h *Hub) work(queue <-chan inboundMessage) {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case in := <-queue:
			h.handleEvent(in.event, in.client)
		}
	}
}

func (h *Hub) queueFor(c *Client) chan inboundMessage {
	return h.inbound[getShard(c.ID)%uint32(len(h.inbound))]
}

func (h *Hub) handleEvent(ev event.WsEvent, c *Client) {
	if c.IsClosed() {
		return
	}

	result, err := c.view.handle(c.ctx, ev)
	if err != nil {
		c.logger.Debug("event failed", zap.String("event", ev.Event), zap.Error(err))
		c.SendPayload(event.EventError, ev.ChatId, ev.RequestId, event.Error{Event: ev.Event, Message: err.Error()})
		return
	}
	c.SendPayload(event.EventAck, ev.ChatId, ev.RequestId, event.Ack{Event: ev.Event, Result: result})
}

func getShard(key string) uint32 {
	if key == "" {
		return 0
	}

	h := sha1.Sum([]byte(key))
	return binary.BigEndian.Uint32(h[:4]) % shardCount
}

func (h *Hub) addClient(c *Client) {
	sh := getShard(c.uid)
	b := h.shards[sh]
	b.Lock()
	defer b.Unlock()

	views, ok := b.users[c.uid]
	if !ok {
		views = make(map[string]*Client)
		b.users[c.uid] = views
	}

	views[c.ID] = c
	h.logger.Debug("client added", zap.String("client_id", c.ID), zap.Uint32("shard", sh))
}

func (h *Hub) removeClient(c *Client) {
	sh := getShard(c.uid)
	b := h.shards[sh]
	b.Lock()
	defer b.Unlock()

	if views, ok := b.users[c.uid]; ok {
		delete(views, c.ID)
		if len(views) == 0 {
			delete(b.users, c.uid)
		}
	}
	c.Close()
}

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

// Stop closes every view, waits for their sessions to wind down and stops
// the workers.
func (h *Hub) Stop() {
	for _, c := range h.clients() {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		h.views.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		h.logger.Warn("views still running at shutdown")
	}

	h.cancel()
	h.wg.Wait()
}

func (h *Hub) clients() []*Client {
	var out []*Client
	for _, b := range h.shards {
		b.RLock()
		for _, views := range b.users {
			for _, c := range views {
				out = append(out, c)
			}
		}
		b.RUnlock()
	}
	return out
}

// ClientCount is the number of connected views.
func (h *Hub) ClientCount() int {
	n := 0
	for _, b := range h.shards {
		b.RLock()
		for _, views := range b.users {
			n += len(views)
		}
		b.RUnlock()
	}
	return n
}

func (h *Hub) subscriptionCounts() (roster, conv int) {
	for _, c := range h.clients() {
		r, cv := c.view.subscriptions()
		roster += r
		conv += cv
	}
	return roster, conv
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser clients
		return true
	}
	for _, allowed := range h.deps.Settings.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ServeWS authenticates token and upgrades the request into a view.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, token string) error {
	if token == "" {
		return ErrUnauthorized
	}
	id, err := h.deps.Directory.Verify(r.Context(), token)
	if err != nil {
		return ErrUnauthorized
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return err
	}

	RegisterClient(id, token, conn, h)
	return nil
}
