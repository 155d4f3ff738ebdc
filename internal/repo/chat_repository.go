package repo

import (
	"context"

	"Parley/internal/db"
	"Parley/internal/model"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

const messagesField = "messages"

// ChatRepository owns chats/{chatId}. The message array is only ever
// appended to with an array union or replaced whole.
type ChatRepository interface {
	Create(ctx context.Context) (string, error)
	Messages(ctx context.Context, chatID string) ([]model.Message, error)
	Append(ctx context.Context, chatID string, msg model.Message) error
	ReplaceMessages(ctx context.Context, chatID string, msgs []model.Message) error
	Watch(ctx context.Context, chatID string, fn func(*model.Conversation)) (db.Unsubscribe, error)
}

type chatRepository struct {
	base
}

func NewChatRepository(store db.Store, logger *zap.Logger) ChatRepository {
	return &chatRepository{base: newBase(store, logger)}
}

func (r *chatRepository) Create(ctx context.Context) (string, error) {
	chatID := uuid.NewString()
	doc := bson.M{
		messagesField: []model.Message{},
		"created_at":  db.ServerTimestamp,
	}

	err := r.write(ctx, "create chat", func(ctx context.Context) error {
		return r.store.Set(ctx, ChatsCollection, chatID, doc, false)
	})
	if err != nil {
		return "", err
	}

	r.logger.Info("chat created", zap.String("chat_id", chatID))
	return chatID, nil
}

// Messages returns a fresh copy of the full message array.
func (r *chatRepository) Messages(ctx context.Context, chatID string) ([]model.Message, error) {
	var conv model.Conversation
	found, err := r.get(ctx, ChatsCollection, chatID, &conv)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrConversationMissing
	}
	return conv.Messages, nil
}

func (r *chatRepository) Append(ctx context.Context, chatID string, msg model.Message) error {
	if chatID == "" {
		return ErrInvalidID
	}
	return r.write(ctx, "append message", func(ctx context.Context) error {
		return r.store.ArrayUnion(ctx, ChatsCollection, chatID, messagesField, msg)
	})
}

func (r *chatRepository) ReplaceMessages(ctx context.Context, chatID string, msgs []model.Message) error {
	if chatID == "" {
		return ErrInvalidID
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return r.write(ctx, "replace messages", func(ctx context.Context) error {
		return r.store.Update(ctx, ChatsCollection, chatID, bson.M{messagesField: msgs})
	})
}

func (r *chatRepository) Watch(ctx context.Context, chatID string, fn func(*model.Conversation)) (db.Unsubscribe, error) {
	return watch(&r.base, ctx, ChatsCollection, chatID, fn)
}
