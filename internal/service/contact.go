package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"Parley/internal/eventlog"
	"Parley/internal/model"
	"Parley/internal/session"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrChatExists  = errors.New("a conversation with this user already exists")
	ErrInvalidPeer = errors.New("chat and peer ids are required")
)

// ContactService finds other users, opens conversations with them and
// manages block relations.
type ContactService struct {
	sess   *session.Session
	repos  Repos
	events eventlog.Publisher
	logger *zap.Logger
	now    func() time.Time
}

func NewContactService(sess *session.Session, repos Repos, events eventlog.Publisher, logger *zap.Logger, opts ...Option) *ContactService {
	o := buildOptions(opts)
	if events == nil {
		events = eventlog.Nop()
	}
	return &ContactService{
		sess:   sess,
		repos:  repos,
		events: events,
		logger: logger.With(zap.String("uid", sess.UID())),
		now:    o.now,
	}
}

// Search looks users up by exact username, leaving the viewer out.
func (s *ContactService) Search(ctx context.Context, username string) ([]model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, nil
	}

	users, err := s.repos.Users.FindByUsername(ctx, username)
	if err != nil {
		s.logger.Warn("user search failed", zap.String("username", username), zap.Error(err))
		return nil, err
	}

	viewer := s.sess.UID()
	return Filter(users, func(u model.User) bool { return u.ID != viewer }), nil
}

// AddContact opens a conversation with peerID and gives each side a fresh
// membership row. ErrChatExists is returned, with the existing row, when the
// viewer already has a conversation with peerID.
func (s *ContactService) AddContact(ctx context.Context, peerID string) (*model.Membership, error) {
	uid := s.sess.UID()
	if uid == "" {
		return nil, ErrNoSession
	}
	if peerID == "" {
		return nil, ErrInvalidPeer
	}

	rows, err := s.repos.Members.List(ctx, uid)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.ReceiverID == peerID {
			existing := row
			return &existing, ErrChatExists
		}
	}

	chatID, err := s.repos.Chats.Create(ctx)
	if err != nil {
		return nil, err
	}

	updatedAt := s.now().UnixMilli()
	mine := model.Membership{ChatID: chatID, ReceiverID: peerID, UpdatedAt: updatedAt, IsSeen: true}
	theirs := model.Membership{ChatID: chatID, ReceiverID: uid, UpdatedAt: updatedAt, IsSeen: true}

	if err := s.repos.Members.Append(ctx, uid, mine); err != nil {
		return nil, err
	}
	if peerID != uid {
		if err := s.repos.Members.Append(ctx, peerID, theirs); err != nil {
			return nil, err
		}
	}

	s.logger.Info("contact added", zap.String("peer_id", peerID), zap.String("chat_id", chatID))
	return &mine, nil
}

// Block records {chatID, viewer, peerID} on both users' relation lists.
func (s *ContactService) Block(ctx context.Context, chatID, peerID string) error {
	return s.setBlock(ctx, chatID, peerID, true)
}

// Unblock removes the triple Block recorded from both lists.
func (s *ContactService) Unblock(ctx context.Context, chatID, peerID string) error {
	return s.setBlock(ctx, chatID, peerID, false)
}

func (s *ContactService) setBlock(ctx context.Context, chatID, peerID string, block bool) error {
	uid := s.sess.UID()
	if uid == "" {
		return ErrNoSession
	}
	if chatID == "" || peerID == "" {
		return ErrInvalidPeer
	}

	rel := model.BlockRelation{ChatID: chatID, SenderID: uid, ReceiverID: peerID}
	owners := []string{uid}
	if peerID != uid {
		owners = append(owners, peerID)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, owner := range owners {
		owner := owner
		g.Go(func() error {
			if block {
				return s.repos.Users.AddBlock(gctx, owner, rel)
			}
			return s.repos.Users.RemoveBlock(gctx, owner, rel)
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("block update failed",
			zap.String("chat_id", chatID),
			zap.String("peer_id", peerID),
			zap.Bool("block", block),
			zap.Error(err),
		)
		return err
	}

	recType := eventlog.TypeUnblock
	if block {
		recType = eventlog.TypeBlock
	}
	if err := s.events.Publish(ctx, eventlog.Record{Type: recType, ChatID: chatID, ActorID: uid, Detail: peerID, At: s.now()}); err != nil {
		s.logger.Warn("block not logged", zap.Error(err))
	}
	return nil
}
