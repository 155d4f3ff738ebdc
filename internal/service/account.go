package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"Parley/internal/db"
	"Parley/internal/identity"
	"Parley/internal/media"
	"Parley/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

var (
	ErrUsernameTaken   = errors.New("username already taken")
	ErrInvalidUsername = errors.New("username is required")
	ErrInvalidStatus   = errors.New("status must be 1 to 139 characters")
)

const (
	DefaultAvatarFolder = "chat-app/avatars"
	MaxStatusLength     = 139
	unnamedUser         = "Unnamed"
)

// RegisterRequest carries the sign-up form.
type RegisterRequest struct {
	Email    string
	Password string
	Username string
	Avatar   *media.File
}

// AccountService provisions and maintains the signed-in user's account.
type AccountService struct {
	auth     *identity.Client
	repos    Repos
	uploader media.Uploader
	folder   string
	logger   *zap.Logger
}

func NewAccountService(auth *identity.Client, repos Repos, uploader media.Uploader, folder string, logger *zap.Logger) *AccountService {
	if folder == "" {
		folder = DefaultAvatarFolder
	}
	return &AccountService{
		auth:     auth,
		repos:    repos,
		uploader: uploader,
		folder:   folder,
		logger:   logger,
	}
}

// Register creates the identity, then the profile and an empty membership
// list. The avatar is uploaded before anything is written.
func (s *AccountService) Register(ctx context.Context, req RegisterRequest) (*identity.Identity, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, ErrInvalidUsername
	}

	existing, err := s.repos.Users.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, ErrUsernameTaken
	}

	var avatar string
	if req.Avatar != nil {
		avatar, err = s.uploader.Upload(ctx, *req.Avatar, media.KindFor(req.Avatar.ContentType), s.folder)
		if err != nil {
			s.logger.Warn("avatar upload failed", zap.String("username", username), zap.Error(err))
			return nil, fmt.Errorf("upload avatar: %w", err)
		}
	}

	id, err := s.auth.CreateWithEmailPassword(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	if err := s.auth.UpdateProfile(ctx, username, avatar); err != nil {
		s.logger.Warn("identity profile update failed", zap.String("uid", id.UID), zap.Error(err))
	}

	if err := s.provision(ctx, id.UID, username, id.Email, avatar); err != nil {
		return nil, err
	}

	s.logger.Info("account registered", zap.String("uid", id.UID), zap.String("username", username))
	return s.auth.Current(), nil
}

func (s *AccountService) Login(ctx context.Context, email, password string) (*identity.Identity, error) {
	return s.auth.SignInWithEmailPassword(ctx, email, password)
}

// LoginFederated signs in with an external identity token and provisions the
// profile the first time the account is seen.
func (s *AccountService) LoginFederated(ctx context.Context, idToken string) (*identity.Identity, error) {
	id, _, err := s.auth.SignInWithFederated(ctx, idToken)
	if err != nil {
		return nil, err
	}

	profile, err := s.repos.Users.Get(ctx, id.UID)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		return id, nil
	}

	username := id.DisplayName
	if username == "" {
		username = unnamedUser
	}
	if err := s.provision(ctx, id.UID, username, id.Email, id.PhotoURL); err != nil {
		return nil, err
	}

	s.logger.Info("federated account provisioned", zap.String("uid", id.UID))
	return id, nil
}

// Logout records the user offline, then signs out. A failed presence write
// keeps the user signed in.
func (s *AccountService) Logout(ctx context.Context) error {
	id := s.auth.Current()
	if id == nil {
		return nil
	}

	err := s.repos.Users.UpdateFields(ctx, id.UID, bson.M{
		model.UserFieldOnline:   false,
		model.UserFieldLastSeen: db.ServerTimestamp,
	})
	if err != nil {
		s.logger.Warn("offline write failed", zap.String("uid", id.UID), zap.Error(err))
		return err
	}
	return s.auth.SignOut(ctx)
}

func (s *AccountService) provision(ctx context.Context, uid, username, email, avatar string) error {
	err := s.repos.Users.Create(ctx, model.User{
		ID:       uid,
		Username: username,
		Email:    email,
		Avatar:   avatar,
		Status:   model.DefaultStatus,
	})
	if err != nil {
		return err
	}
	return s.repos.Members.Create(ctx, uid)
}

// ChangeStatus replaces the signed-in user's status line.
func (s *AccountService) ChangeStatus(ctx context.Context, status string) error {
	current := s.auth.Current()
	if current == nil {
		return ErrNoSession
	}

	status = strings.TrimSpace(status)
	if status == "" || utf8.RuneCountInString(status) > MaxStatusLength {
		return ErrInvalidStatus
	}

	err := s.repos.Users.UpdateFields(ctx, current.UID, bson.M{model.UserFieldStatus: status})
	if err != nil {
		s.logger.Warn("status change failed", zap.String("uid", current.UID), zap.Error(err))
	}
	return err
}

// ChangeAvatar uploads file and points both the identity and the profile
// at it.
func (s *AccountService) ChangeAvatar(ctx context.Context, file media.File) (string, error) {
	current := s.auth.Current()
	if current == nil {
		return "", ErrNoSession
	}

	url, err := s.uploader.Upload(ctx, file, media.KindFor(file.ContentType), s.folder)
	if err != nil {
		return "", fmt.Errorf("upload avatar: %w", err)
	}

	if err := s.repos.Users.UpdateFields(ctx, current.UID, bson.M{model.UserFieldAvatar: url}); err != nil {
		return "", err
	}
	if err := s.auth.UpdateProfile(ctx, "", url); err != nil {
		s.logger.Warn("identity photo update failed", zap.String("uid", current.UID), zap.Error(err))
	}
	return url, nil
}

// Profile reads the signed-in user's profile document; nil when missing.
func (s *AccountService) Profile(ctx context.Context) (*model.User, error) {
	current := s.auth.Current()
	if current == nil {
		return nil, ErrNoSession
	}
	return s.repos.Users.Get(ctx, current.UID)
}
