package service

import (
	"context"
	"time"

	"Parley/internal/eventlog"
	"Parley/internal/metrics"
	"Parley/internal/model"
	"Parley/internal/session"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ChatListService holds the roster's secondary operations. Failures are
// logged and returned; the gateway treats them as silent no-ops.
type ChatListService struct {
	sess    *session.Session
	repos   Repos
	events  eventlog.Publisher
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewChatListService(sess *session.Session, repos Repos, events eventlog.Publisher, m *metrics.Metrics, logger *zap.Logger, opts ...Option) *ChatListService {
	o := buildOptions(opts)
	if events == nil {
		events = eventlog.Nop()
	}
	return &ChatListService{
		sess:    sess,
		repos:   repos,
		events:  events,
		metrics: m,
		logger:  logger.With(zap.String("uid", sess.UID())),
		now:     o.now,
	}
}

// TogglePin pins or unpins chatID. Pinning bumps the row's UpdatedAt to now
// and remembers the previous value; unpinning restores it.
func (s *ChatListService) TogglePin(ctx context.Context, chatID string) (pinned bool, err error) {
	defer func() { s.metrics.ObserveMutation("pin", err) }()

	uid := s.sess.UID()
	if uid == "" {
		return false, ErrNoSession
	}

	profile, err := s.repos.Users.Get(ctx, uid)
	if err != nil {
		return false, s.fail("pin", chatID, err)
	}
	if profile == nil {
		return false, s.fail("pin", chatID, ErrNoSession)
	}

	pinned = !profile.IsPinned(chatID)
	if pinned {
		err = s.repos.Users.AddPinned(ctx, uid, chatID)
	} else {
		err = s.repos.Users.RemovePinned(ctx, uid, chatID)
	}
	if err != nil {
		return false, s.fail("pin", chatID, err)
	}

	now := s.now().UnixMilli()
	err = s.repos.Members.UpdateRow(ctx, uid, chatID, func(row *model.Membership) {
		TogglePinTimestamps(row, pinned, now)
	})
	if err != nil {
		return false, s.fail("pin", chatID, err)
	}
	return pinned, nil
}

// TogglePinTimestamps applies the pin bump to row.
func TogglePinTimestamps(row *model.Membership, pinned bool, now int64) {
	if pinned {
		prev := row.UpdatedAt
		row.OriginalUpdatedAt = &prev
		row.UpdatedAt = now
		return
	}
	if row.OriginalUpdatedAt != nil && *row.OriginalUpdatedAt != 0 {
		row.UpdatedAt = *row.OriginalUpdatedAt
	}
	row.OriginalUpdatedAt = nil
}

// ToggleArchive flips the archived flag on the viewer's own row.
func (s *ChatListService) ToggleArchive(ctx context.Context, chatID string) (archived bool, err error) {
	defer func() { s.metrics.ObserveMutation("archive", err) }()

	uid := s.sess.UID()
	if uid == "" {
		return false, ErrNoSession
	}

	err = s.repos.Members.UpdateRow(ctx, uid, chatID, func(row *model.Membership) {
		row.Archived = !row.Archived
		archived = row.Archived
	})
	if err != nil {
		return false, s.fail("archive", chatID, err)
	}
	return archived, nil
}

// Clear empties the message sequence and blanks both rows' previews.
func (s *ChatListService) Clear(ctx context.Context, chatID, peerID string) (err error) {
	defer func() { s.metrics.ObserveMutation("clear", err) }()

	uid := s.sess.UID()
	if uid == "" {
		return ErrNoSession
	}

	if err := s.repos.Chats.ReplaceMessages(ctx, chatID, nil); err != nil {
		return s.fail("clear", chatID, err)
	}

	owners := []string{uid}
	if peerID != "" && peerID != uid {
		owners = append(owners, peerID)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, owner := range owners {
		owner := owner
		g.Go(func() error {
			return s.repos.Members.UpdateRow(gctx, owner, chatID, func(row *model.Membership) {
				row.LastMessage = ""
				row.IsSeen = true
			})
		})
	}
	if err := g.Wait(); err != nil {
		return s.fail("clear", chatID, err)
	}

	if err := s.events.Publish(ctx, eventlog.Record{Type: eventlog.TypeClear, ChatID: chatID, ActorID: uid, At: s.now()}); err != nil {
		s.logger.Warn("clear not logged", zap.Error(err))
	}
	return nil
}

// Open marks the viewer's row seen and resets its unread counter. It is the
// only operation that resets unread.
func (s *ChatListService) Open(ctx context.Context, chatID string) (err error) {
	defer func() { s.metrics.ObserveMutation("open", err) }()

	uid := s.sess.UID()
	if uid == "" {
		return ErrNoSession
	}

	err = s.repos.Members.UpdateRow(ctx, uid, chatID, func(row *model.Membership) {
		row.IsSeen = true
		row.UnreadMessages = 0
	})
	if err != nil {
		return s.fail("open", chatID, err)
	}
	return nil
}

func (s *ChatListService) fail(op, chatID string, err error) error {
	s.logger.Warn("chat list operation failed",
		zap.String("op", op),
		zap.String("chat_id", chatID),
		zap.Error(err),
	)
	return err
}
