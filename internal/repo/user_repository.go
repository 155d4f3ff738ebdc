package repo

import (
	"context"
	"fmt"

	"Parley/internal/db"
	"Parley/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

type UserRepository interface {
	Create(ctx context.Context, user model.User) error
	Get(ctx context.Context, uid string) (*model.User, error)
	FindByUsername(ctx context.Context, username string) ([]model.User, error)
	Watch(ctx context.Context, uid string, fn func(*model.User)) (db.Unsubscribe, error)
	UpdateFields(ctx context.Context, uid string, fields bson.M) error
	AddBlock(ctx context.Context, uid string, rel model.BlockRelation) error
	RemoveBlock(ctx context.Context, uid string, rel model.BlockRelation) error
	AddPinned(ctx context.Context, uid, chatID string) error
	RemovePinned(ctx context.Context, uid, chatID string) error
}

type userRepository struct {
	base
}

func NewUserRepository(store db.Store, logger *zap.Logger) UserRepository {
	return &userRepository{base: newBase(store, logger)}
}

// Create writes a fresh profile document. created_at is server-assigned.
func (r *userRepository) Create(ctx context.Context, user model.User) error {
	if user.ID == "" {
		return ErrInvalidID
	}

	doc := bson.M{
		"id":                    user.ID,
		model.UserFieldUsername: user.Username,
		"email":                 user.Email,
		model.UserFieldAvatar:   user.Avatar,
		model.UserFieldStatus:   user.Status,
		model.UserFieldOnline:   user.Online,
		model.UserFieldBlocked:  []model.BlockRelation{},
		model.UserFieldPinned:   []string{},
		"created_at":            db.ServerTimestamp,
	}

	err := r.write(ctx, "create user", func(ctx context.Context) error {
		return r.store.Set(ctx, UsersCollection, user.ID, doc, false)
	})
	if err != nil {
		r.logger.Error("failed to create user", zap.String("uid", user.ID), zap.Error(err))
		return err
	}

	r.logger.Info("user created", zap.String("uid", user.ID), zap.String("username", user.Username))
	return nil
}

func (r *userRepository) Get(ctx context.Context, uid string) (*model.User, error) {
	var user model.User
	found, err := r.get(ctx, UsersCollection, uid, &user)
	if err != nil || !found {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) FindByUsername(ctx context.Context, username string) ([]model.User, error) {
	filter := db.NewFilter().Eq(model.UserFieldUsername, username).Build()

	var snaps []db.Snapshot
	err := r.read(ctx, "find users", func(ctx context.Context) error {
		var err error
		snaps, err = r.store.Query(ctx, UsersCollection, filter)
		return err
	})
	if err != nil {
		return nil, err
	}

	users := make([]model.User, 0, len(snaps))
	for _, snap := range snaps {
		var u model.User
		if err := snap.Decode(&u); err != nil {
			return nil, fmt.Errorf("decode user %s: %w", snap.ID, err)
		}
		if u.ID == "" {
			u.ID = snap.ID
		}
		users = append(users, u)
	}

	r.logger.Debug("users found", zap.String("username", username), zap.Int("count", len(users)))
	return users, nil
}

func (r *userRepository) Watch(ctx context.Context, uid string, fn func(*model.User)) (db.Unsubscribe, error) {
	return watch(&r.base, ctx, UsersCollection, uid, fn)
}

func (r *userRepository) UpdateFields(ctx context.Context, uid string, fields bson.M) error {
	if uid == "" {
		return ErrInvalidID
	}
	return r.write(ctx, "update user", func(ctx context.Context) error {
		return r.store.Update(ctx, UsersCollection, uid, fields)
	})
}

func (r *userRepository) AddBlock(ctx context.Context, uid string, rel model.BlockRelation) error {
	return r.arrayOp(ctx, "block", uid, model.UserFieldBlocked, true, rel)
}

func (r *userRepository) RemoveBlock(ctx context.Context, uid string, rel model.BlockRelation) error {
	return r.arrayOp(ctx, "unblock", uid, model.UserFieldBlocked, false, rel)
}

func (r *userRepository) AddPinned(ctx context.Context, uid, chatID string) error {
	return r.arrayOp(ctx, "pin", uid, model.UserFieldPinned, true, chatID)
}

func (r *userRepository) RemovePinned(ctx context.Context, uid, chatID string) error {
	return r.arrayOp(ctx, "unpin", uid, model.UserFieldPinned, false, chatID)
}

func (r *userRepository) arrayOp(ctx context.Context, op, uid, field string, add bool, value interface{}) error {
	if uid == "" {
		return ErrInvalidID
	}
	return r.write(ctx, op, func(ctx context.Context) error {
		if add {
			return r.store.ArrayUnion(ctx, UsersCollection, uid, field, value)
		}
		return r.store.ArrayRemove(ctx, UsersCollection, uid, field, value)
	})
}
