package repo

import (
	"context"

	"Parley/internal/db"
	"Parley/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

type TypingRepository interface {
	SetTyping(ctx context.Context, chatID, uid string, typing bool) error
	Watch(ctx context.Context, chatID string, fn func(*model.TypingStatus)) (db.Unsubscribe, error)
}

type typingRepository struct {
	base
}

func NewTypingRepository(store db.Store, logger *zap.Logger) TypingRepository {
	return &typingRepository{base: newBase(store, logger)}
}

// SetTyping merges {typing: {uid: typing}} so each participant only touches
// its own key.
func (r *typingRepository) SetTyping(ctx context.Context, chatID, uid string, typing bool) error {
	if chatID == "" || uid == "" {
		return ErrInvalidID
	}
	doc := bson.M{"typing": bson.M{uid: typing}}
	return r.write(ctx, "set typing", func(ctx context.Context) error {
		return r.store.Set(ctx, TypingCollection, chatID, doc, true)
	})
}

func (r *typingRepository) Watch(ctx context.Context, chatID string, fn func(*model.TypingStatus)) (db.Unsubscribe, error) {
	return watch(&r.base, ctx, TypingCollection, chatID, fn)
}
