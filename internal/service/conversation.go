package service

import (
	"context"
	"sync"
	"time"

	"Parley/internal/db"
	"Parley/internal/model"
	"Parley/internal/repo"
	"Parley/internal/session"

	"go.uber.org/zap"
)

// MaxResolvedSenders caps how many distinct senders get a live profile.
const MaxResolvedSenders = 10

// ConversationSync mirrors the selected conversation: its messages, the
// profiles of its first senders, the peer's presence and typing flag, and
// the block state between viewer and peer.
type ConversationSync struct {
	sess   *session.Session
	chats  repo.ChatRepository
	users  repo.UserRepository
	typing repo.TypingRepository
	logger *zap.Logger
	now    func() time.Time

	emitMu sync.Mutex

	mu        sync.Mutex
	gen       uint64
	chatID    string
	peerID    string
	messages  []model.Message
	peer      *model.User
	viewer    *model.User
	typers    map[string]bool
	senders   *PeerRegistry
	unsubs    []db.Unsubscribe
	view      *model.ConversationView
	listeners map[int]func(*model.ConversationView)
	nextID    int
}

func NewConversationSync(sess *session.Session, chats repo.ChatRepository, users repo.UserRepository, typing repo.TypingRepository, logger *zap.Logger, opts ...Option) *ConversationSync {
	o := buildOptions(opts)
	return &ConversationSync{
		sess:      sess,
		chats:     chats,
		users:     users,
		typing:    typing,
		logger:    logger.With(zap.String("uid", sess.UID())),
		now:       o.now,
		listeners: make(map[int]func(*model.ConversationView)),
	}
}

// OnChange registers fn for every recomputed view of the selected conversation.
func (c *ConversationSync) OnChange(fn func(*model.ConversationView)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Select switches to chatID with peerID, tearing down every subscription of
// the previous selection first.
func (c *ConversationSync) Select(ctx context.Context, chatID, peerID string) error {
	if c.sess.UID() == "" {
		return ErrNoSession
	}
	if chatID == "" {
		return repo.ErrInvalidID
	}

	c.Close()

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.chatID = chatID
	c.peerID = peerID
	c.messages = nil
	c.peer = nil
	c.viewer = c.sess.Profile
	c.typers = nil
	c.view = nil
	c.senders = NewPeerRegistry(c.users, c.logger, func(string, *model.User) {
		c.refresh(gen)
	})
	senders := c.senders
	c.mu.Unlock()

	subscribe := []func() (db.Unsubscribe, error){
		func() (db.Unsubscribe, error) {
			return c.chats.Watch(ctx, chatID, func(conv *model.Conversation) {
				c.messagesChanged(ctx, gen, senders, conv)
			})
		},
		func() (db.Unsubscribe, error) {
			return c.typing.Watch(ctx, chatID, func(ts *model.TypingStatus) {
				c.update(gen, func() {
					c.typers = nil
					if ts != nil {
						c.typers = ts.Typing
					}
				})
			})
		},
		func() (db.Unsubscribe, error) {
			return c.users.Watch(ctx, c.sess.UID(), func(u *model.User) {
				c.update(gen, func() { c.viewer = u })
			})
		},
	}
	if peerID != "" {
		subscribe = append(subscribe, func() (db.Unsubscribe, error) {
			return c.users.Watch(ctx, peerID, func(u *model.User) {
				c.update(gen, func() { c.peer = u })
			})
		})
	}

	for _, sub := range subscribe {
		unsub, err := sub()
		if err != nil {
			c.logger.Warn("conversation subscription failed", zap.String("chat_id", chatID), zap.Error(err))
			c.Close()
			return err
		}
		if !c.track(gen, unsub) {
			return nil
		}
	}

	c.logger.Debug("conversation selected", zap.String("chat_id", chatID), zap.String("peer_id", peerID))
	return nil
}

func (c *ConversationSync) track(gen uint64, unsub db.Unsubscribe) bool {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		unsub()
		return false
	}
	c.unsubs = append(c.unsubs, unsub)
	c.mu.Unlock()
	return true
}

// Close drops the current selection and all of its subscriptions.
func (c *ConversationSync) Close() {
	c.mu.Lock()
	c.gen++
	unsubs := c.unsubs
	c.unsubs = nil
	senders := c.senders
	c.senders = nil
	c.chatID = ""
	c.peerID = ""
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if senders != nil {
		senders.Close()
	}
}

// ChatID returns the selected conversation id, or "".
func (c *ConversationSync) ChatID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatID
}

// PeerID returns the peer of the selected conversation.
func (c *ConversationSync) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// View returns the last computed view, or nil before the first emission.
func (c *ConversationSync) View() *model.ConversationView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Subscriptions reports how many subscriptions the selection holds.
func (c *ConversationSync) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.unsubs)
	if c.senders != nil {
		n += c.senders.Len()
	}
	return n
}

func (c *ConversationSync) messagesChanged(ctx context.Context, gen uint64, senders *PeerRegistry, conv *model.Conversation) {
	var msgs []model.Message
	if conv != nil {
		msgs = conv.Messages
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	// The remote sequence always replaces the local one.
	c.messages = msgs
	c.mu.Unlock()

	senders.Sync(context.WithoutCancel(ctx), senderSet(msgs, MaxResolvedSenders))
	c.refresh(gen)
}

// senderSet picks the first limit distinct sender ids in sequence order.
func senderSet(msgs []model.Message, limit int) map[string]int {
	set := make(map[string]int, limit)
	for _, msg := range msgs {
		if len(set) == limit {
			break
		}
		if msg.SenderID != "" {
			set[msg.SenderID] = 1
		}
	}
	return set
}

func (c *ConversationSync) update(gen uint64, fn func()) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	fn()
	c.mu.Unlock()
	c.refresh(gen)
}

func (c *ConversationSync) refresh(gen uint64) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}

	now := c.now()
	viewerID := c.sess.UID()
	view := &model.ConversationView{
		ChatID:     c.chatID,
		Messages:   c.messages,
		Groups:     GroupMessages(c.messages, viewerID, now),
		Senders:    c.senders.Snapshot(),
		Peer:       c.peer,
		PeerStatus: OnlineStatus(c.peer, now),
		PeerTyping: c.peerID != "" && c.peerID != viewerID && c.typers[c.peerID],
	}
	view.BlockedByViewer, view.BlockedByPeer = blockState(c.viewer, c.chatID, viewerID, c.peerID)
	c.view = view

	fns := make([]func(*model.ConversationView), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(view)
	}
}

// blockState reads the viewer's relation list: a triple with the viewer as
// sender blocks outbound messages, one with the viewer as receiver means the
// peer blocked the viewer.
func blockState(viewer *model.User, chatID, viewerID, peerID string) (byViewer, byPeer bool) {
	if viewer == nil {
		return false, false
	}
	for _, rel := range viewer.Blocked {
		if rel.ChatID != chatID {
			continue
		}
		if rel.SenderID == viewerID && rel.ReceiverID == peerID {
			byViewer = true
		}
		if rel.SenderID == peerID && rel.ReceiverID == viewerID {
			byPeer = true
		}
	}
	return byViewer, byPeer
}
