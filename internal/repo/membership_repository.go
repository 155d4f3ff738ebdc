package repo

import (
	"context"
	"errors"

	"Parley/internal/db"
	"Parley/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

const chatsField = "chats"

// MembershipRepository owns userChats/{uid}: the per-user list of
// conversation summaries.
type MembershipRepository interface {
	Create(ctx context.Context, uid string) error
	List(ctx context.Context, uid string) ([]model.Membership, error)
	Watch(ctx context.Context, uid string, fn func(*model.UserChats)) (db.Unsubscribe, error)
	Append(ctx context.Context, uid string, rows ...model.Membership) error
	UpdateRow(ctx context.Context, uid, chatID string, fn func(row *model.Membership)) error
}

type membershipRepository struct {
	base
}

func NewMembershipRepository(store db.Store, logger *zap.Logger) MembershipRepository {
	return &membershipRepository{base: newBase(store, logger)}
}

func (r *membershipRepository) Create(ctx context.Context, uid string) error {
	if uid == "" {
		return ErrInvalidID
	}
	return r.write(ctx, "create user chats", func(ctx context.Context) error {
		return r.store.Set(ctx, UserChatsCollection, uid, bson.M{chatsField: []model.Membership{}}, false)
	})
}

func (r *membershipRepository) List(ctx context.Context, uid string) ([]model.Membership, error) {
	var doc model.UserChats
	found, err := r.get(ctx, UserChatsCollection, uid, &doc)
	if err != nil || !found {
		return nil, err
	}
	return doc.Chats, nil
}

func (r *membershipRepository) Watch(ctx context.Context, uid string, fn func(*model.UserChats)) (db.Unsubscribe, error) {
	return watch(&r.base, ctx, UserChatsCollection, uid, fn)
}

func (r *membershipRepository) Append(ctx context.Context, uid string, rows ...model.Membership) error {
	if uid == "" {
		return ErrInvalidID
	}

	values := make([]interface{}, len(rows))
	for i, row := range rows {
		values[i] = row
	}

	return r.write(ctx, "append membership", func(ctx context.Context) error {
		err := r.store.ArrayUnion(ctx, UserChatsCollection, uid, chatsField, values...)
		if errors.Is(err, db.ErrNotFound) {
			// list not provisioned yet
			return r.store.Set(ctx, UserChatsCollection, uid, bson.M{chatsField: rows}, true)
		}
		return err
	})
}

// UpdateRow fetches the whole list, applies fn to the row for chatID and
// writes the whole list back. A missing document or row is reported as
// ErrMembershipNotFound and nothing is written.
func (r *membershipRepository) UpdateRow(ctx context.Context, uid, chatID string, fn func(row *model.Membership)) error {
	rows, err := r.List(ctx, uid)
	if err != nil {
		return err
	}

	idx := -1
	for i := range rows {
		if rows[i].ChatID == chatID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrMembershipNotFound
	}

	fn(&rows[idx])

	err = r.write(ctx, "update membership", func(ctx context.Context) error {
		return r.store.Update(ctx, UserChatsCollection, uid, bson.M{chatsField: rows})
	})
	if err != nil {
		r.logger.Error("failed to update membership",
			zap.String("uid", uid),
			zap.String("chat_id", chatID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
