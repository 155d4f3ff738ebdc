package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"Parley/internal/eventlog"
	"Parley/internal/media"
	"Parley/internal/metrics"
	"Parley/internal/model"
	"Parley/internal/repo"
	"Parley/internal/session"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrEmptyMessage = errors.New("message has neither text nor attachment")
	ErrBlocked      = errors.New("conversation is blocked")
	ErrNotEditable  = errors.New("message can no longer be edited")
)

// DefaultChatFolder is where chat attachments are stored on the media host.
const DefaultChatFolder = "chat-app/chats"

// SendRequest is a new message typed by the viewer.
type SendRequest struct {
	ChatID     string
	PeerID     string
	Text       string
	Attachment *media.File
	ReplyTo    *model.ReplyRef
}

// MutationService turns user intents into writes on a conversation's message
// sequence. In-place changes always refetch the full array, change one
// element and write the full array back; nothing guards the window between
// that read and that write.
type MutationService struct {
	sess     *session.Session
	repos    Repos
	uploader media.Uploader
	events   eventlog.Publisher
	metrics  *metrics.Metrics
	folder   string
	logger   *zap.Logger
	now      func() time.Time
}

func NewMutationService(sess *session.Session, repos Repos, uploader media.Uploader, events eventlog.Publisher, m *metrics.Metrics, folder string, logger *zap.Logger, opts ...Option) *MutationService {
	o := buildOptions(opts)
	if events == nil {
		events = eventlog.Nop()
	}
	if folder == "" {
		folder = DefaultChatFolder
	}
	return &MutationService{
		sess:     sess,
		repos:    repos,
		uploader: uploader,
		events:   events,
		metrics:  m,
		folder:   folder,
		logger:   logger.With(zap.String("uid", sess.UID())),
		now:      o.now,
	}
}

// Send appends a new message and updates both membership rows. An
// attachment is uploaded first; if that fails nothing is written.
func (s *MutationService) Send(ctx context.Context, req SendRequest) (msg *model.Message, err error) {
	defer func() { s.metrics.ObserveMutation("send", err) }()

	uid := s.sess.UID()
	if uid == "" {
		return nil, ErrNoSession
	}
	if req.ChatID == "" {
		return nil, repo.ErrInvalidID
	}

	// whitespace only counts as no text; otherwise the text is kept as typed
	trimmed := strings.TrimSpace(req.Text)
	if trimmed == "" && req.Attachment == nil {
		return nil, ErrEmptyMessage
	}
	text := req.Text
	if trimmed == "" {
		text = ""
	}

	viewer, err := s.repos.Users.Get(ctx, uid)
	if err != nil {
		return nil, err
	}
	if _, blocked := viewer.BlockBetween(req.ChatID, req.PeerID); blocked {
		return nil, ErrBlocked
	}

	var attachment *model.Media
	if req.Attachment != nil {
		kind := media.KindFor(req.Attachment.ContentType)
		url, err := s.uploader.Upload(ctx, *req.Attachment, kind, s.folder)
		if err != nil {
			s.logger.Warn("attachment upload failed", zap.String("chat_id", req.ChatID), zap.Error(err))
			return nil, fmt.Errorf("upload attachment: %w", err)
		}
		s.metrics.ObserveUpload(len(req.Attachment.Data))
		attachment = &model.Media{Kind: kind, URL: url, Name: req.Attachment.Name}
	}

	out := model.Message{
		ID:        uuid.NewString(),
		SenderID:  uid,
		CreatedAt: s.now(),
		Text:      text,
		Media:     attachment,
		ReplyTo:   req.ReplyTo,
	}
	if err := s.repos.Chats.Append(ctx, req.ChatID, out); err != nil {
		return nil, err
	}

	preview := Preview(trimmed, attachment)
	err = s.touchRows(ctx, req.ChatID, req.PeerID, func(row *model.Membership) {
		row.LastMessage = preview
		if req.ReplyTo != nil {
			row.ReplyTo = req.ReplyTo
		}
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, eventlog.Record{Type: eventlog.TypeSend, ChatID: req.ChatID, MessageID: out.ID, Detail: preview})
	return &out, nil
}

// Edit rewrites the text of one of the viewer's own messages while it is
// still inside the edit window. The roster preview is left alone, since the
// edited message need not be the newest one.
func (s *MutationService) Edit(ctx context.Context, chatID, peerID string, ref model.MessageRef, text string) (err error) {
	defer func() { s.metrics.ObserveMutation("edit", err) }()

	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	var edited model.Message
	err = s.rewrite(ctx, chatID, ref, func(msg *model.Message) error {
		if !CanEdit(*msg, s.sess.UID(), s.now()) {
			return ErrNotEditable
		}
		at := s.now()
		msg.Text = text
		msg.Edited = true
		msg.EditedAt = &at
		edited = *msg
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.touchRows(ctx, chatID, peerID, nil); err != nil {
		return err
	}

	s.publish(ctx, eventlog.Record{Type: eventlog.TypeEdit, ChatID: chatID, MessageID: edited.ID})
	return nil
}

// React toggles tag on a message: the same tag again clears it, a different
// tag replaces it.
func (s *MutationService) React(ctx context.Context, chatID string, ref model.MessageRef, tag model.Reaction) (err error) {
	defer func() { s.metrics.ObserveMutation("react", err) }()

	if _, err := model.ParseReaction(string(tag)); err != nil {
		return err
	}

	var target model.Message
	err = s.rewrite(ctx, chatID, ref, func(msg *model.Message) error {
		msg.Reaction = ToggleReaction(msg.Reaction, tag)
		target = *msg
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, eventlog.Record{Type: eventlog.TypeReact, ChatID: chatID, MessageID: target.ID, Detail: string(target.Reaction)})
	return nil
}

// ToggleReaction returns the reaction a message carries after tag is clicked.
func ToggleReaction(current, tag model.Reaction) model.Reaction {
	if current == tag {
		return ""
	}
	return tag
}

// Star flips the star marker of a message, recording who flipped it and when.
func (s *MutationService) Star(ctx context.Context, chatID string, ref model.MessageRef) (err error) {
	defer func() { s.metrics.ObserveMutation("star", err) }()

	var target model.Message
	err = s.rewrite(ctx, chatID, ref, func(msg *model.Message) error {
		starred := msg.Star == nil || !msg.Star.IsStarred
		msg.Star = &model.Star{IsStarred: starred, StarredAt: s.now(), SenderID: s.sess.UID()}
		target = *msg
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, eventlog.Record{Type: eventlog.TypeStar, ChatID: chatID, MessageID: target.ID, Detail: fmt.Sprint(target.Star.IsStarred)})
	return nil
}

// rewrite fetches the full message array, applies fn to the addressed
// element and writes the full array back.
func (s *MutationService) rewrite(ctx context.Context, chatID string, ref model.MessageRef, fn func(msg *model.Message) error) error {
	if s.sess.UID() == "" {
		return ErrNoSession
	}
	if chatID == "" {
		return repo.ErrInvalidID
	}

	msgs, err := s.repos.Chats.Messages(ctx, chatID)
	if err != nil {
		return err
	}

	idx := ResolveRef(msgs, ref)
	if idx < 0 {
		return repo.ErrMessageOutOfRange
	}
	if err := fn(&msgs[idx]); err != nil {
		return err
	}

	return s.repos.Chats.ReplaceMessages(ctx, chatID, msgs)
}

// ResolveRef finds the position ref addresses in msgs: the element carrying
// ref.ID when there is one, otherwise ref.Index. It returns -1 when neither
// lands inside msgs.
func ResolveRef(msgs []model.Message, ref model.MessageRef) int {
	if ref.ID != "" {
		for i := range msgs {
			if msgs[i].ID == ref.ID {
				return i
			}
		}
	}
	if ref.Index < 0 || ref.Index >= len(msgs) {
		return -1
	}
	return ref.Index
}

// touchRows updates the viewer's and the peer's membership rows for chatID
// concurrently. The viewer's row is marked seen; the peer's row gains one
// unread message. A self chat has a single row.
func (s *MutationService) touchRows(ctx context.Context, chatID, peerID string, fn func(row *model.Membership)) error {
	uid := s.sess.UID()
	updatedAt := s.now().UnixMilli()

	owners := []string{uid}
	if peerID != "" && peerID != uid {
		owners = append(owners, peerID)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, owner := range owners {
		owner := owner
		self := owner == uid
		g.Go(func() error {
			err := s.repos.Members.UpdateRow(gctx, owner, chatID, func(row *model.Membership) {
				if fn != nil {
					fn(row)
				}
				row.UpdatedAt = updatedAt
				row.IsSeen = self
				if self {
					row.UnreadMessages = 0
				} else {
					row.UnreadMessages++
				}
			})
			if errors.Is(err, repo.ErrMembershipNotFound) {
				s.logger.Warn("membership row missing", zap.String("owner", owner), zap.String("chat_id", chatID))
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

func (s *MutationService) publish(ctx context.Context, rec eventlog.Record) {
	rec.ActorID = s.sess.UID()
	rec.At = s.now()
	if err := s.events.Publish(ctx, rec); err != nil {
		s.logger.Warn("mutation not logged", zap.String("type", rec.Type), zap.Error(err))
	}
}
