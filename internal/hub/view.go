package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"Parley/internal/event"
	"Parley/internal/identity"
	"Parley/internal/media"
	"Parley/internal/model"
	"Parley/internal/service"
	"Parley/internal/session"

	"go.uber.org/zap"
)

var (
	ErrNotReady      = errors.New("session is not ready")
	ErrNoActiveChat  = errors.New("no conversation is open")
	ErrUnknownChat   = errors.New("conversation is not in the roster")
	ErrUnknownEvent  = errors.New("unknown event")
	ErrInvalidFormat = errors.New("invalid event payload")
)

const teardownTimeout = 5 * time.Second

// View runs one connection's session core: identity, session state and,
// once a session resolves, the synchronizers and services bound to it.
type View struct {
	client *Client
	deps   Deps
	logger *zap.Logger

	auth  *identity.Client
	state *session.State

	mu    sync.Mutex
	parts *viewParts
}

// viewParts is everything bound to one resolved session.
type viewParts struct {
	sess      *session.Session
	roster    *service.RosterSync
	conv      *service.ConversationSync
	reporter  *service.Reporter
	mutations *service.MutationService
	chats     *service.ChatListService
	contacts  *service.ContactService
	typer     *service.Typer
	unsubs    []func()
}

func newView(c *Client, deps Deps) *View {
	auth := identity.NewClient(deps.Directory)
	var opts []session.Option
	if deps.Settings.ProfileRetries > 0 || deps.Settings.ProfileRetryDelay > 0 {
		opts = append(opts, session.WithProfileRetry(deps.Settings.ProfileRetries, deps.Settings.ProfileRetryDelay))
	}

	return &View{
		client: c,
		deps:   deps,
		logger: c.logger,
		auth:   auth,
		state:  session.NewState(auth, deps.Repos.Users, c.logger, opts...),
	}
}

func (v *View) start(ctx context.Context, token string) {
	v.state.OnChange(func(sess *session.Session) {
		v.bind(ctx, sess)
	})
	v.state.Start()

	if _, err := v.auth.Restore(ctx, token); err != nil {
		v.logger.Warn("session restore failed", zap.Error(err))
		v.client.SendPayload(event.EventError, "", "", event.Error{Message: err.Error()})
	}
}

func (v *View) stop() {
	v.state.Stop()
	v.bind(context.Background(), nil)
}

// bind tears down whatever served the previous session and, for a non-nil
// session, builds and starts a fresh set.
func (v *View) bind(ctx context.Context, sess *session.Session) {
	v.mu.Lock()
	old := v.parts
	v.parts = nil
	v.mu.Unlock()

	if old != nil {
		old.stop(v.logger)
	}
	if sess == nil {
		return
	}

	d := v.deps
	p := &viewParts{
		sess:      sess,
		roster:    service.NewRosterSync(sess, d.Repos.Members, d.Repos.Users, v.logger),
		conv:      service.NewConversationSync(sess, d.Repos.Chats, d.Repos.Users, d.Repos.Typing, v.logger),
		mutations: service.NewMutationService(sess, d.Repos, d.Uploader, d.Events, d.Metrics, d.Settings.ChatFolder, v.logger),
		chats:     service.NewChatListService(sess, d.Repos, d.Events, d.Metrics, v.logger),
		contacts:  service.NewContactService(sess, d.Repos, d.Events, v.logger),
	}

	reporter, err := service.NewReporter(sess, d.Repos.Users, d.Settings.Heartbeat, v.logger)
	if err != nil {
		v.logger.Warn("heartbeat disabled", zap.Error(err))
		reporter, _ = service.NewReporter(sess, d.Repos.Users, "", v.logger)
	}
	p.reporter = reporter

	p.unsubs = append(p.unsubs,
		p.roster.OnChange(func(entries []model.RosterEntry) {
			v.client.SendPayload(event.EventRoster, "", "", entries)
		}),
		p.conv.OnChange(func(view *model.ConversationView) {
			v.client.SendPayload(event.EventConversation, view.ChatID, "", view)
		}),
	)

	v.mu.Lock()
	v.parts = p
	v.mu.Unlock()

	if err := p.roster.Start(ctx); err != nil {
		v.logger.Warn("roster start failed", zap.Error(err))
	}
	if err := p.reporter.Start(ctx); err != nil {
		v.logger.Warn("presence start failed", zap.Error(err))
	}
}

func (p *viewParts) stop(logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	for _, unsub := range p.unsubs {
		unsub()
	}
	if p.typer != nil {
		_ = p.typer.Stop(ctx)
	}
	p.conv.Close()
	p.roster.Stop()
	if err := p.reporter.Stop(ctx); err != nil {
		logger.Debug("offline not recorded", zap.Error(err))
	}
}

func (v *View) current() (*viewParts, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.parts == nil {
		return nil, ErrNotReady
	}
	return v.parts, nil
}

func (v *View) subscriptions() (roster, conv int) {
	v.mu.Lock()
	p := v.parts
	v.mu.Unlock()
	if p == nil {
		return 0, 0
	}
	return p.roster.Peers(), p.conv.Subscriptions()
}

// info describes the view for the monitor.
func (v *View) info() (signedIn, online bool, chatID string) {
	v.mu.Lock()
	p := v.parts
	v.mu.Unlock()
	if p == nil {
		return false, false, ""
	}
	return true, p.reporter.Online(), p.conv.ChatID()
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return ErrInvalidFormat
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return nil
}

// handle applies one inbound intent and returns the ack result.
func (v *View) handle(ctx context.Context, ev event.WsEvent) (interface{}, error) {
	p, err := v.current()
	if err != nil {
		return nil, err
	}

	switch ev.Event {
	case event.EventOpenChat:
		var in event.OpenChat
		if err := decode(ev.Payload, &in); err != nil {
			return nil, err
		}
		return nil, v.openChat(ctx, p, in)

	case event.EventSend:
		var in event.Send
		if err := decode(ev.Payload, &in); err != nil {
			return nil, err
		}
		chatID, peerID, err := v.activeChat(p, ev.ChatId)
		if err != nil {
			return nil, err
		}
		req := service.SendRequest{ChatID: chatID, PeerID: peerID, Text: in.Text, ReplyTo: in.ReplyTo}
		if in.Attachment != nil {
			req.Attachment = &media.File{Name: in.Attachment.Name, ContentType: in.Attachment.ContentType, Data: in.Attachment.Data}
		}
		msg, err := p.mutations.Send(ctx, req)
		if err != nil {
			return nil, err
		}
		v.stopTyping(ctx, p)
		return msg, nil

	case event.EventEdit:
		var in event.Edit
		if err := decode(ev.Payload, &in); err != nil {
			return nil, err
		}
		chatID, peerID, err := v.activeChat(p, ev.ChatId)
		if err != nil {
			return nil, err
		}
		return nil, p.mutations.Edit(ctx, chatID, peerID, in.Ref, in.Text)

	case event.EventReact:
		var in event.React
		if err := decode(ev.Payload, &in); err != nil {
			return nil, err
		}
		chatID, _, err := v.activeChat(p, ev.ChatId)
		if err != nil {
			return nil, err
		}
		return nil, p.mutations.React(ctx, chatID, in.Ref, in.Reaction)

	case event.EventStar:
		var in event.Star
		if err := decode(ev.Payload, &in); err != nil {
			return nil, err
		}
		chatID, _, err := v.activeChat(p, ev.ChatId)
		if err != nil {
			return nil, err
		}
		return nil, p.mutations.Star(ctx, chatID, in.Ref)

	case event.EventTyping:
		return nil, v.keystroke(ctx, p, ev.ChatId)

	case event.EventVisibility:
		var in event.Visibility
		if err := decode(ev.Payload, &in); err != nil {
			return nil, err
		}
		return nil, p.reporter.Visibility(ctx, service.Visibility(in.State))

	case event.EventPin:
		pinned, err := p.chats.TogglePin(ctx, ev.ChatId)
		return v.quiet(ev.Event, pinned, err)

	case event.EventArchive:
		archived, err := p.chats.ToggleArchive(ctx, ev.ChatId)
		return v.quiet(ev.Event, archived, err)

	case event.EventClear:
		peerID, err := v.peerOf(p, ev.ChatId)
		if err != nil {
			return nil, err
		}
		return v.quiet(ev.Event, nil, p.chats.Clear(ctx, ev.ChatId, peerID))

	case event.EventBlock, event.EventUnblock:
		peerID, err := v.peerOf(p, ev.ChatId)
		if err != nil {
			return nil, err
		}
		if ev.Event == event.EventBlock {
			return nil, p.contacts.Block(ctx, ev.ChatId, peerID)
		}
		return nil, p.contacts.Unblock(ctx, ev.ChatId, peerID)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Event)
}

// quiet swallows failures of secondary roster operations; they are already
// logged by the service.
func (v *View) quiet(op string, result interface{}, err error) (interface{}, error) {
	if err != nil {
		v.logger.Debug("secondary operation ignored", zap.String("op", op), zap.Error(err))
		return nil, nil
	}
	return result, nil
}

func (v *View) openChat(ctx context.Context, p *viewParts, in event.OpenChat) error {
	if in.PeerId == "" {
		peerID, err := v.peerOf(p, in.ChatId)
		if err != nil {
			return err
		}
		in.PeerId = peerID
	}

	v.stopTyping(ctx, p)
	if err := p.conv.Select(ctx, in.ChatId, in.PeerId); err != nil {
		return err
	}
	// explicit open is the only place unread resets
	_ = p.chats.Open(ctx, in.ChatId)
	return nil
}

// activeChat resolves the conversation an in-conversation intent targets. A
// chat id, when given, must be the open one.
func (v *View) activeChat(p *viewParts, chatID string) (string, string, error) {
	active := p.conv.ChatID()
	if active == "" {
		return "", "", ErrNoActiveChat
	}
	if chatID != "" && chatID != active {
		return "", "", ErrNoActiveChat
	}
	return active, p.conv.PeerID(), nil
}

func (v *View) peerOf(p *viewParts, chatID string) (string, error) {
	if chatID == "" {
		return "", ErrUnknownChat
	}
	for _, entry := range p.roster.Entries() {
		if entry.ChatID == chatID {
			return entry.ReceiverID, nil
		}
	}
	return "", ErrUnknownChat
}

func (v *View) keystroke(ctx context.Context, p *viewParts, chatID string) error {
	active, _, err := v.activeChat(p, chatID)
	if err != nil {
		return err
	}

	v.mu.Lock()
	typer := p.typer
	if typer == nil || typer.ChatID() != active {
		if typer != nil {
			go typer.Stop(context.WithoutCancel(ctx))
		}
		typer = service.NewTyper(p.sess, v.deps.Repos.Typing, active, 0, v.logger)
		p.typer = typer
	}
	v.mu.Unlock()

	return typer.Keystroke(ctx)
}

func (v *View) stopTyping(ctx context.Context, p *viewParts) {
	v.mu.Lock()
	typer := p.typer
	p.typer = nil
	v.mu.Unlock()

	if typer != nil {
		_ = typer.Stop(ctx)
	}
}
